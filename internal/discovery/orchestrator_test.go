package discovery

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nthlayer/nthlayer/internal/identity"
)

// fakeProvider is an in-memory Provider for tests.
type fakeProvider struct {
	name     string
	edges    map[string][]Dependency
	services []string
	err      error
	block    bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Discover(ctx context.Context, service string) ([]Dependency, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.edges[service], nil
}

func (f *fakeProvider) ListServices(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.services, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) Health {
	if f.err != nil {
		return Health{Healthy: false, Message: f.err.Error()}
	}
	return Health{Healthy: true, Message: "ok"}
}

func (f *fakeProvider) ServiceAttributes(ctx context.Context, service string) (map[string]string, error) {
	return nil, nil
}

func edge(provider, source, target string, confidence float64) Dependency {
	return Dependency{
		Source: source, Target: target, Provider: provider,
		Type: DepService, Confidence: confidence,
	}
}

func newTestOrchestrator(providers ...Provider) *Orchestrator {
	return NewOrchestrator(identity.NewResolver(identity.Options{}), providers, OrchestratorConfig{
		ProviderTimeout: time.Second,
	})
}

// Three providers asserting the same edge at 0.8 merge to confidence 1.0 with
// all three providers recorded.
func TestMergeConfidence(t *testing.T) {
	providers := []Provider{
		&fakeProvider{name: "consul", edges: map[string][]Dependency{
			"checkout": {edge("consul", "checkout", "payment", 0.8)}}},
		&fakeProvider{name: "portal", edges: map[string][]Dependency{
			"checkout": {edge("portal", "checkout", "payment", 0.8)}}},
		&fakeProvider{name: "prometheus", edges: map[string][]Dependency{
			"checkout": {edge("prometheus", "checkout", "payment", 0.8)}}},
	}

	o := newTestOrchestrator(providers...)
	deps, err := o.DiscoverForService(context.Background(), "checkout", false)
	require.NoError(t, err)
	require.Len(t, deps, 1)

	assert.Equal(t, 1.0, deps[0].Confidence)
	assert.Equal(t, []string{"consul", "portal", "prometheus"}, deps[0].Providers)
	assert.Equal(t, "checkout", deps[0].Source.CanonicalName)
	assert.Equal(t, "payment", deps[0].Target.CanonicalName)
}

// Merge monotonicity: adding a provider that re-asserts an edge never lowers
// the aggregated confidence.
func TestMergeMonotonicity(t *testing.T) {
	base := &fakeProvider{name: "consul", edges: map[string][]Dependency{
		"checkout": {edge("consul", "checkout", "payment", 0.6)}}}

	single := newTestOrchestrator(base)
	deps, err := single.DiscoverForService(context.Background(), "checkout", false)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	before := deps[0].Confidence

	extra := &fakeProvider{name: "portal", edges: map[string][]Dependency{
		"checkout": {edge("portal", "checkout", "payment", 0.5)}}}
	double := newTestOrchestrator(base, extra)
	deps, err = double.DiscoverForService(context.Background(), "checkout", false)
	require.NoError(t, err)
	require.Len(t, deps, 1)

	assert.GreaterOrEqual(t, deps[0].Confidence, before)
	assert.LessOrEqual(t, deps[0].Confidence, 1.0)
}

// Cross-provider raw-name variants merge into one canonical edge.
func TestMergeUnifiesRawNames(t *testing.T) {
	providers := []Provider{
		&fakeProvider{name: "consul", edges: map[string][]Dependency{
			"checkout": {edge("consul", "CHECKOUT-PROD", "PAYMENT-PROD", 0.9)}}},
		&fakeProvider{name: "portal", edges: map[string][]Dependency{
			"checkout": {edge("portal", "checkout", "payment", 0.8)}}},
	}

	o := newTestOrchestrator(providers...)
	deps, err := o.DiscoverForService(context.Background(), "checkout", false)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "checkout", deps[0].Source.CanonicalName)
	assert.Equal(t, "payment", deps[0].Target.CanonicalName)
	assert.Equal(t, []string{"consul", "portal"}, deps[0].Providers)
}

func TestProviderFailureAbsorbed(t *testing.T) {
	providers := []Provider{
		&fakeProvider{name: "broken", err: fmt.Errorf("connection refused")},
		&fakeProvider{name: "consul", edges: map[string][]Dependency{
			"checkout": {edge("consul", "checkout", "payment", 0.8)}}},
	}

	o := newTestOrchestrator(providers...)
	deps, err := o.DiscoverForService(context.Background(), "checkout", false)
	require.NoError(t, err)
	assert.Len(t, deps, 1)
}

func TestCancellationDiscardsPartialResults(t *testing.T) {
	providers := []Provider{
		&fakeProvider{name: "fast", edges: map[string][]Dependency{
			"checkout": {edge("fast", "checkout", "payment", 0.8)}}},
		&fakeProvider{name: "slow", block: true},
	}

	o := NewOrchestrator(identity.NewResolver(identity.Options{}), providers, OrchestratorConfig{
		ProviderTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := o.DiscoverForService(ctx, "checkout", false)
	assert.Error(t, err)
}

func TestDiscoverForService_Cached(t *testing.T) {
	p := &fakeProvider{name: "consul", edges: map[string][]Dependency{
		"checkout": {edge("consul", "checkout", "payment", 0.8)}}}
	o := newTestOrchestrator(p)

	first, err := o.DiscoverForService(context.Background(), "checkout", true)
	require.NoError(t, err)

	// Mutate the backing data; the cached result must be returned.
	p.edges["checkout"] = nil
	second, err := o.DiscoverForService(context.Background(), "checkout", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Bypassing the cache sees the new state.
	third, err := o.DiscoverForService(context.Background(), "checkout", false)
	require.NoError(t, err)
	assert.Empty(t, third)
}

// Graph closure: every edge endpoint is a key of the identity map and
// iteration orders are sorted.
func TestBuildFullGraph_ClosureAndOrdering(t *testing.T) {
	providers := []Provider{
		&fakeProvider{
			name:     "consul",
			services: []string{"checkout", "payment", "billing"},
			edges: map[string][]Dependency{
				"checkout": {
					edge("consul", "checkout", "payment", 0.8),
					edge("consul", "checkout", "billing", 0.7),
				},
				"payment": {edge("consul", "payment", "ledger", 0.9)},
			},
		},
	}

	o := newTestOrchestrator(providers...)
	graph, err := o.BuildFullGraph(context.Background(), nil)
	require.NoError(t, err)

	for _, e := range graph.Edges {
		_, ok := graph.Identities[e.Source.CanonicalName]
		assert.True(t, ok, "source %s missing from identity map", e.Source.CanonicalName)
		_, ok = graph.Identities[e.Target.CanonicalName]
		assert.True(t, ok, "target %s missing from identity map", e.Target.CanonicalName)
	}

	// ledger only appears as a target but is present
	assert.Contains(t, graph.Identities, "ledger")

	// Edges sorted by (source, target, type)
	sorted := sort.SliceIsSorted(graph.Edges, func(i, j int) bool {
		a, b := graph.Edges[i], graph.Edges[j]
		if a.Source.CanonicalName != b.Source.CanonicalName {
			return a.Source.CanonicalName < b.Source.CanonicalName
		}
		if a.Target.CanonicalName != b.Target.CanonicalName {
			return a.Target.CanonicalName < b.Target.CanonicalName
		}
		return a.Type < b.Type
	})
	assert.True(t, sorted)

	names := graph.CanonicalNames()
	assert.True(t, sort.StringsAreSorted(names))
}

func TestGraphTraversalTerminatesOnCycles(t *testing.T) {
	providers := []Provider{
		&fakeProvider{
			name:     "consul",
			services: []string{"a", "b", "c"},
			edges: map[string][]Dependency{
				"a": {edge("consul", "a", "b", 0.8)},
				"b": {edge("consul", "b", "c", 0.8)},
				"c": {edge("consul", "c", "a", 0.8)}, // cycle
			},
		},
	}

	o := newTestOrchestrator(providers...)
	graph, err := o.BuildFullGraph(context.Background(), nil)
	require.NoError(t, err)

	upstream := graph.Upstream("a", 0)
	assert.ElementsMatch(t, []string{"b", "c"}, upstream)

	downstream := graph.Downstream("a", 0)
	assert.ElementsMatch(t, []string{"b", "c"}, downstream)
}

func TestHealthCheckAll(t *testing.T) {
	o := newTestOrchestrator(
		&fakeProvider{name: "up"},
		&fakeProvider{name: "down", err: fmt.Errorf("unreachable")},
	)

	health := o.HealthCheckAll(context.Background())
	assert.True(t, health["up"].Healthy)
	assert.False(t, health["down"].Healthy)
}

func TestDiscoverAllDefault(t *testing.T) {
	p := &fakeProvider{
		name:     "consul",
		services: []string{"a", "b"},
		edges: map[string][]Dependency{
			"a": {edge("consul", "a", "b", 0.8)},
			"b": {edge("consul", "b", "c", 0.8)},
		},
	}

	edges, err := DiscoverAll(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}
