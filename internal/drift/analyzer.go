package drift

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nthlayer/nthlayer/internal/logging"
	"github.com/nthlayer/nthlayer/internal/metrics"
	"github.com/nthlayer/nthlayer/internal/spec"
)

const (
	secondsPerWeek = 7 * 24 * 3600
	secondsPerDay  = 24 * 3600

	// stableSlopePerWeek bounds |slope/week| below which a series counts as
	// stable (0.1% of budget per week).
	stableSlopePerWeek = 0.001

	// volatileRSquared and volatileVariance gate the volatile
	// classification: a poor fit alone is not volatility, the series must
	// also actually move.
	volatileRSquared = 0.3
	volatileVariance = 0.001

	// stepChangeMaxGap is the maximum time between two consecutive samples
	// for their difference to count as a step.
	stepChangeMaxGap = 36 * time.Hour

	// seasonalAutocorrelation is the minimum detrended autocorrelation at a
	// daily or weekly lag for a series to count as seasonal.
	seasonalAutocorrelation = 0.5

	// maxProjectionDays caps exhaustion projection; anything further out
	// than a year is reported as no exhaustion.
	maxProjectionDays = 365
)

// RangeQuerier is the slice of the metrics client the analyzer needs.
type RangeQuerier interface {
	RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) (*metrics.BudgetSeries, error)
}

// Request describes one drift analysis.
type Request struct {
	Service string
	SLO     string
	// Query is the PromQL expression yielding the budget-remaining ratio.
	Query  string
	Window time.Duration
	// Step is the sample resolution (default 1h).
	Step time.Duration
	// Config carries thresholds and projection horizons, normally
	// materialized from tier defaults.
	Config spec.DriftConfig
}

// Analyzer runs drift analyses against a metrics backend.
type Analyzer struct {
	querier RangeQuerier
	logger  *logging.Logger
	now     func() time.Time
}

func NewAnalyzer(querier RangeQuerier) *Analyzer {
	return &Analyzer{
		querier: querier,
		logger:  logging.GetLogger("drift"),
		now:     time.Now,
	}
}

// Analyze fetches the budget series for the request window and classifies
// its trend. Backend errors propagate to the caller; series too short to fit
// return an AnalysisError.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.Window <= 0 {
		return nil, &AnalysisError{Service: req.Service, Message: "window must be positive"}
	}
	step := req.Step
	if step == 0 {
		step = time.Hour
	}

	end := a.now()
	series, err := a.querier.RangeQuery(ctx, req.Query, end.Add(-req.Window), end, step)
	if err != nil {
		return nil, err
	}
	return a.analyzeSeries(req, series, end)
}

// analyzeSeries is the pure classification core; it does not suspend.
func (a *Analyzer) analyzeSeries(req Request, series *metrics.BudgetSeries, analyzedAt time.Time) (*Result, error) {
	points := series.Points
	if len(points) < 2 {
		return nil, &AnalysisError{
			Service: req.Service,
			Message: fmt.Sprintf("insufficient data: %d samples, need at least 2", len(points)),
		}
	}

	fit := linearFit(points)
	slopePerWeek := fit.Slope * secondsPerWeek
	currentBudget := points[len(points)-1].Value

	step := series.Step
	if step == 0 {
		step = points[1].Timestamp.Sub(points[0].Timestamp)
	}
	pattern, stepIndex := a.classify(req.Config.Patterns, points, fit, slopePerWeek, step)

	// After a step change the pre-step trend says nothing about the
	// future; project from the post-step samples instead.
	projectionSlope := fit.Slope
	if (pattern == PatternStepChangeDown || pattern == PatternStepChangeUp) && stepIndex >= 0 {
		if post := points[stepIndex:]; len(post) >= 2 {
			projectionSlope = linearFit(post).Slope
		}
	}
	days := projectExhaustion(projectionSlope, currentBudget)

	severity := classifySeverity(req.Config, pattern, slopePerWeek, days)

	metadata := map[string]string{}
	if series.Step > 0 && req.Window > 0 {
		expected := int(req.Window / series.Step)
		if expected > 0 && len(points) < expected/2 {
			metadata["reduced_confidence"] = "true"
		}
	}

	result := &Result{
		Service:             req.Service,
		SLO:                 req.SLO,
		Window:              req.Window,
		Pattern:             pattern,
		Severity:            severity,
		Regression:          fit,
		SlopePerWeek:        slopePerWeek,
		CurrentBudget:       currentBudget,
		DaysUntilExhaustion: days,
		Metadata:            metadata,
		AnalyzedAt:          analyzedAt,
	}
	result.Summary = summarize(result)
	result.Recommendation = recommend(result)
	return result, nil
}

// classify applies the pattern priority: step change, seasonal, volatile,
// stable, gradual. Returns the index of the first post-step point when a
// step was found, -1 otherwise.
func (a *Analyzer) classify(patterns spec.PatternConfig, points []metrics.Point, fit Regression, slopePerWeek float64, step time.Duration) (Pattern, int) {
	if patterns.DetectStepChange {
		threshold := patterns.StepChangeThreshold
		if threshold == 0 {
			threshold = 0.05
		}
		for i := 1; i < len(points); i++ {
			gap := points[i].Timestamp.Sub(points[i-1].Timestamp)
			if gap > stepChangeMaxGap {
				continue
			}
			diff := points[i].Value - points[i-1].Value
			if diff <= -threshold {
				return PatternStepChangeDown, i
			}
			if diff >= threshold {
				return PatternStepChangeUp, i
			}
		}
	}

	if patterns.DetectSeasonal && step > 0 && isSeasonal(points, fit, step) {
		return PatternSeasonal, -1
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	if fit.RSquared < volatileRSquared && variance(values) > volatileVariance {
		return PatternVolatile, -1
	}
	if math.Abs(slopePerWeek) < stableSlopePerWeek {
		return PatternStable, -1
	}
	if fit.Slope < 0 {
		return PatternGradualDecline, -1
	}
	return PatternGradualImprovement, -1
}

// isSeasonal checks the linear-fit residuals for a recurring daily or weekly
// cycle. Detrending first keeps a declining seasonal series from hiding the
// cycle behind its trend, and a trending series from faking one.
func isSeasonal(points []metrics.Point, fit Regression, step time.Duration) bool {
	residuals := make([]float64, len(points))
	t0 := points[0].Timestamp
	for i, p := range points {
		x := p.Timestamp.Sub(t0).Seconds()
		residuals[i] = p.Value - (fit.Intercept + fit.Slope*x)
	}

	for _, period := range []time.Duration{24 * time.Hour, 7 * 24 * time.Hour} {
		lag := int(period / step)
		// Need at least two full cycles to call it a cycle.
		if lag < 2 || len(points) < 2*lag {
			continue
		}
		if autocorrelation(residuals, lag) >= seasonalAutocorrelation {
			return true
		}
	}
	return false
}

// projectExhaustion converts a slope and current budget into days until the
// budget reaches zero. Nil means no exhaustion within a year.
func projectExhaustion(slopePerSec, currentBudget float64) *float64 {
	if currentBudget <= 0 {
		zero := 0.0
		return &zero
	}
	if slopePerSec >= 0 {
		return nil
	}
	days := currentBudget / math.Abs(slopePerSec) / secondsPerDay
	if days > maxProjectionDays {
		return nil
	}
	return &days
}

// classifySeverity applies the severity rules in priority order.
func classifySeverity(config spec.DriftConfig, pattern Pattern, slopePerWeek float64, days *float64) Severity {
	if days != nil && *days <= float64(config.Projection.ExhaustionCritical) {
		return SeverityCritical
	}
	if pattern == PatternStepChangeDown {
		return SeverityCritical
	}
	if config.Thresholds.Critical < 0 && slopePerWeek <= config.Thresholds.Critical {
		return SeverityCritical
	}
	if days != nil && *days <= float64(config.Projection.ExhaustionWarn) {
		return SeverityWarn
	}
	if config.Thresholds.Warn < 0 && slopePerWeek <= config.Thresholds.Warn {
		return SeverityWarn
	}
	if slopePerWeek < 0 {
		return SeverityInfo
	}
	return SeverityNone
}

func summarize(r *Result) string {
	base := fmt.Sprintf("%s: budget at %.1f%%, trend %+.2f%%/week (%s)",
		r.Service, r.CurrentBudget*100, r.SlopePerWeek*100, r.Pattern)
	if r.DaysUntilExhaustion != nil {
		if *r.DaysUntilExhaustion == 0 {
			return base + ", budget exhausted"
		}
		return base + fmt.Sprintf(", exhaustion in %.0f days", *r.DaysUntilExhaustion)
	}
	return base
}

func recommend(r *Result) string {
	switch r.Pattern {
	case PatternStepChangeDown:
		return "A sudden budget drop usually maps to a single incident or deployment; correlate with recent deployment events before treating it as a trend."
	case PatternStepChangeUp:
		return "Budget jumped up, typically an SLO target or recording-rule change; verify the SLO definition is still what you intend."
	case PatternSeasonal:
		return "Budget follows a recurring daily or weekly cycle; compare against the same phase of the previous cycle rather than the raw trend."
	case PatternVolatile:
		return "Budget is noisy; tighten the burn-rate alert windows or investigate intermittent failures before trusting trend projections."
	case PatternGradualDecline:
		switch r.Severity {
		case SeverityCritical:
			return "Sustained budget decline at a critical rate; prioritize reliability work now or the SLO will be breached."
		case SeverityWarn:
			return "Budget is declining steadily; schedule reliability work before the decline becomes critical."
		default:
			return "Slight downward trend; keep an eye on the next analysis window."
		}
	case PatternGradualImprovement:
		return "Budget is recovering; no action needed."
	default:
		return "Budget is stable; no action needed."
	}
}
