// Package dashboard turns abstract monitoring intents into concrete panels
// backed by metrics that actually exist for the service.
package dashboard

import (
	"github.com/nthlayer/nthlayer/internal/metrics"
)

// MetricType is the preferred metric shape of an intent.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Candidate is one metric family an intent can bind to, with the query
// expression to use when it exists. Expressions may reference $service and
// $metric.
type Candidate struct {
	Metric string
	Expr   string
}

// Intent names a monitoring concern bound to a technology. Candidates form
// the fallback chain, tried in order.
type Intent struct {
	Name       string
	Title      string
	Technology metrics.Technology
	MetricType MetricType
	Unit       string
	Candidates []Candidate
	// Guidance is rendered when nothing resolves: how to get the metrics.
	Guidance string
}

// ResolutionStatus says how (or whether) an intent bound to a metric.
type ResolutionStatus string

const (
	// StatusOverride means the operator pinned an expression in the spec.
	StatusOverride ResolutionStatus = "override"
	// StatusResolved means the intent's primary candidate exists.
	StatusResolved ResolutionStatus = "resolved"
	// StatusFallback means a non-primary candidate was used.
	StatusFallback ResolutionStatus = "fallback"
	// StatusUnresolved means no candidate exists; a guidance panel is
	// rendered instead of a query.
	StatusUnresolved ResolutionStatus = "unresolved"
)

// ResolutionResult is the outcome of resolving one intent.
type ResolutionResult struct {
	Intent   Intent
	Status   ResolutionStatus
	Metric   string
	Expr     string
	Guidance string
}

// Resolved reports whether the intent bound to a concrete expression.
func (r ResolutionResult) Resolved() bool { return r.Status != StatusUnresolved }
