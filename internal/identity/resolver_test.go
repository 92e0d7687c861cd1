package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_EmptyInputUnresolved(t *testing.T) {
	r := NewResolver(Options{})
	m := r.Resolve("", "consul", nil)
	assert.False(t, m.Resolved())
	assert.Equal(t, MatchUnresolved, m.MatchType)
	assert.Zero(t, m.Confidence)

	m = r.Resolve("   ", "", nil)
	assert.False(t, m.Resolved())
}

func TestRegisterFromDiscovery_CreatesCanonical(t *testing.T) {
	r := NewResolver(Options{})
	id := r.RegisterFromDiscovery("PAY-API-PROD", "consul", nil)
	require.NotNil(t, id)
	assert.Equal(t, "pay-api", id.CanonicalName)
	assert.Equal(t, confidenceDiscovered, id.Confidence)
	assert.Equal(t, SourceDiscovered, id.Source)
	assert.Contains(t, id.Aliases, "PAY-API-PROD")
	assert.Equal(t, "PAY-API-PROD", id.ExternalIDs["consul"])
}

func TestRegisterFromDiscovery_Idempotent(t *testing.T) {
	r := NewResolver(Options{})
	first := r.RegisterFromDiscovery("pay-api", "consul", nil)
	second := r.RegisterFromDiscovery("pay-api", "consul", nil)
	assert.Equal(t, first.CanonicalName, second.CanonicalName)
	assert.Len(t, r.CanonicalNames(), 1)
}

// Cross-provider identity: two providers with different raw names but the
// same repository attribute resolve to one canonical identity, and both raw
// names afterwards resolve via external-ID match.
func TestCrossProviderIdentity(t *testing.T) {
	r := NewResolver(Options{})

	a := r.RegisterFromDiscovery("PAY-API-PROD", "provider-a", map[string]string{"repository": "git://example/pay"})
	b := r.RegisterFromDiscovery("pay-api", "provider-b", map[string]string{"repository": "git://example/pay"})

	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, "pay-api", a.CanonicalName)
	assert.Equal(t, a.CanonicalName, b.CanonicalName)

	ma := r.Resolve("PAY-API-PROD", "provider-a", nil)
	require.True(t, ma.Resolved())
	assert.Equal(t, MatchExternalID, ma.MatchType)
	assert.Equal(t, "pay-api", ma.Identity.CanonicalName)

	mb := r.Resolve("pay-api", "provider-b", nil)
	require.True(t, mb.Resolved())
	assert.Equal(t, MatchExternalID, mb.MatchType)
	assert.Equal(t, "pay-api", mb.Identity.CanonicalName)
}

func TestResolve_LadderOrder(t *testing.T) {
	r := NewResolver(Options{
		ExplicitMappings: map[string]string{"legacy-name@consul": "payments"},
	})
	r.RegisterFromDiscovery("payments", "consul", nil)

	// Override beats everything.
	m := r.Resolve("legacy-name", "consul", nil)
	assert.Equal(t, MatchOverride, m.MatchType)
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, "payments", m.Identity.CanonicalName)

	// Exact canonical match.
	m = r.Resolve("payments", "", nil)
	assert.Equal(t, MatchExact, m.MatchType)
	assert.Equal(t, 1.0, m.Confidence)

	// Alias match.
	r.RegisterFromDiscovery("PAYMENTS-LEGACY", "portal", nil)
	m = r.Resolve("PAYMENTS-LEGACY", "", nil)
	assert.Equal(t, MatchAlias, m.MatchType)
	assert.Equal(t, 0.90, m.Confidence)

	// Normalized match.
	m = r.Resolve("payments-prod", "", nil)
	assert.Equal(t, MatchNormalized, m.MatchType)
	assert.Equal(t, 0.85, m.Confidence)
	assert.Equal(t, "payments", m.Identity.CanonicalName)
}

func TestResolve_NormalizedAffixVariant(t *testing.T) {
	r := NewResolver(Options{})
	r.RegisterFromDiscovery("payment-service", "portal", nil)

	m := r.Resolve("payment", "", nil)
	require.True(t, m.Resolved())
	assert.Equal(t, MatchNormalized, m.MatchType)
	assert.Equal(t, "payment-service", m.Identity.CanonicalName)
}

func TestResolve_Fuzzy(t *testing.T) {
	r := NewResolver(Options{FuzzyThreshold: 0.8})
	r.RegisterFromDiscovery("checkout-gateway", "consul", nil)

	m := r.Resolve("checkout-gatewy", "", nil)
	require.True(t, m.Resolved())
	assert.Equal(t, MatchFuzzy, m.MatchType)
	assert.Equal(t, "checkout-gateway", m.Identity.CanonicalName)
	assert.GreaterOrEqual(t, m.Confidence, 0.8)
	assert.LessOrEqual(t, m.Confidence, 1.0)
}

func TestResolve_AttributeCorrelation(t *testing.T) {
	r := NewResolver(Options{})
	r.RegisterFromDiscovery("billing-core", "consul", map[string]string{
		"repository": "git://example/billing",
		"team":       "money",
		"owner":      "money-eng",
	})

	// Strong attribute: one match suffices.
	m := r.Resolve("xzq-unrelated", "", map[string]string{"repository": "git://example/billing"})
	require.True(t, m.Resolved())
	assert.Equal(t, MatchAttributes, m.MatchType)
	assert.Equal(t, 0.75, m.Confidence)

	// Single weak attribute is not enough.
	m = r.Resolve("xzq-unrelated", "", map[string]string{"team": "money"})
	assert.False(t, m.Resolved())

	// Two weak attributes correlate.
	m = r.Resolve("xzq-unrelated", "", map[string]string{"team": "money", "owner": "money-eng"})
	require.True(t, m.Resolved())
	assert.Equal(t, MatchAttributes, m.MatchType)
}

// Resolution is stable: repeated resolves of a registered raw name return the
// same canonical identity.
func TestResolve_Stability(t *testing.T) {
	r := NewResolver(Options{})
	r.RegisterFromDiscovery("ORDERS-V2-PROD", "consul", nil)

	first := r.Resolve("ORDERS-V2-PROD", "consul", nil)
	require.True(t, first.Resolved())
	for i := 0; i < 10; i++ {
		m := r.Resolve("ORDERS-V2-PROD", "consul", nil)
		require.True(t, m.Resolved())
		assert.Equal(t, first.Identity.CanonicalName, m.Identity.CanonicalName)
		assert.Equal(t, first.MatchType, m.MatchType)
	}
}

func TestConflictingExternalIDsPreferEarlier(t *testing.T) {
	r := NewResolver(Options{})
	r.Register(&Identity{
		CanonicalName: "orders",
		ExternalIDs:   map[string]string{"consul": "orders-raw"},
	}, true)
	r.Register(&Identity{
		CanonicalName: "orders-other",
		ExternalIDs:   map[string]string{"consul": "orders-raw"},
	}, true)

	m := r.Resolve("orders-raw", "consul", nil)
	require.True(t, m.Resolved())
	assert.Equal(t, "orders", m.Identity.CanonicalName)
}

func TestRegister_MergeKeepsHigherConfidence(t *testing.T) {
	r := NewResolver(Options{})
	r.Register(&Identity{CanonicalName: "cart", Confidence: 0.7,
		Aliases: map[string]struct{}{"cart-svc": {}}}, true)
	merged := r.Register(&Identity{CanonicalName: "cart", Confidence: 0.95,
		Aliases: map[string]struct{}{"CART-PROD": {}}}, true)

	require.NotNil(t, merged)
	assert.Equal(t, 0.95, merged.Confidence)
	assert.Contains(t, merged.Aliases, "cart-svc")
	assert.Contains(t, merged.Aliases, "CART-PROD")
}

func TestResolveCacheInvalidatedByRegister(t *testing.T) {
	r := NewResolver(Options{})

	m := r.Resolve("shiny-new", "consul", nil)
	assert.False(t, m.Resolved())

	r.RegisterFromDiscovery("shiny-new", "consul", nil)

	m = r.Resolve("shiny-new", "consul", nil)
	assert.True(t, m.Resolved())
}

func TestMatchClonesAreIsolated(t *testing.T) {
	r := NewResolver(Options{})
	r.RegisterFromDiscovery("payments", "consul", nil)

	m := r.Resolve("payments", "", nil)
	require.True(t, m.Resolved())
	m.Identity.Attributes["tampered"] = "yes"

	fresh, ok := r.Get("payments")
	require.True(t, ok)
	assert.NotContains(t, fresh.Attributes, "tampered")
}
