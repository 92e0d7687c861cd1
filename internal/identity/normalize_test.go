package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"PAY-API-PROD":                "pay-api",
		"payments_v2":                 "payments",
		"payments-v2-prod":            "payments",
		"com.example.paymentservice":  "paymentservice",
		"Checkout.Service":            "checkout-service",
		"  billing-staging ":          "billing",
		"cart--api":                   "cart-api",
		"-edge-case-":                 "edge-case",
		"orders-qa":                   "orders",
		"orders-uat":                  "orders",
		"inventory-test":              "inventory",
		"":                            "",
		"   ":                         "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw), "raw=%q", raw)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"PAY-API-PROD", "com.example.paymentservice", "payments_v2-staging",
		"Checkout.Service", "plain-name", "a_b.c-d", "svc-prod-v3",
	}
	for _, raw := range inputs {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(once), "raw=%q", raw)
	}
}

func TestNormalizeKeepsDottedServiceNames(t *testing.T) {
	// Two-segment dotted names are separators, not Java packages.
	assert.Equal(t, "payment-api", Normalize("payment.api"))
}

func TestVariants(t *testing.T) {
	vs := variants("payment-service")
	assert.Equal(t, "payment-service", vs[0])
	assert.Contains(t, vs, "payment")

	vs = variants("payment")
	assert.Contains(t, vs, "payment-service")
	assert.Contains(t, vs, "payment-svc")

	assert.Nil(t, variants(""))
}
