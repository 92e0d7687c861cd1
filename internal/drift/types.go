// Package drift detects gradual degradation of error budgets and projects
// budget exhaustion from the trend.
package drift

import (
	"fmt"
	"time"
)

// Pattern classifies the shape of a budget time series. Patterns form a
// closed set; classification priority is step change, then seasonal, then
// volatile, then stable, then gradual.
type Pattern string

const (
	PatternStepChangeDown     Pattern = "step_change_down"
	PatternStepChangeUp       Pattern = "step_change_up"
	PatternSeasonal           Pattern = "seasonal"
	PatternVolatile           Pattern = "volatile"
	PatternStable             Pattern = "stable"
	PatternGradualDecline     Pattern = "gradual_decline"
	PatternGradualImprovement Pattern = "gradual_improvement"
)

// Severity grades a drift finding.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// ExitCode maps severity onto the process exit-code contract: 0 ok, 1
// warnings present, 2 critical.
func (s Severity) ExitCode() int {
	switch s {
	case SeverityWarn:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Regression holds the least-squares fit over (seconds-from-start, budget).
type Regression struct {
	Slope     float64 // budget units per second
	Intercept float64
	RSquared  float64
}

// Result is the outcome of a drift analysis.
type Result struct {
	Service string
	SLO     string
	Window  time.Duration

	Pattern    Pattern
	Severity   Severity
	Regression Regression
	// SlopePerWeek is the fitted slope scaled to budget units per week.
	SlopePerWeek  float64
	CurrentBudget float64
	// DaysUntilExhaustion is nil when the budget is not trending toward
	// zero within a year; zero when the budget is already exhausted.
	DaysUntilExhaustion *float64

	Summary        string
	Recommendation string
	Metadata       map[string]string
	AnalyzedAt     time.Time
}

// ExitCode returns the exit code implied by the result's severity.
func (r *Result) ExitCode() int { return r.Severity.ExitCode() }

// AnalysisError reports an unanalyzable request: insufficient data or an
// invalid window. Backend failures are not wrapped in it; they propagate
// as-is.
type AnalysisError struct {
	Service string
	Message string
}

// Kind returns the stable error-kind label.
func (e *AnalysisError) Kind() string { return "drift_analysis" }

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("drift analysis %s: %s", e.Service, e.Message)
}
