// Package spec defines the declarative service specification that drives
// artifact generation. A ServiceSpec is loaded by the CLI collaborator and is
// immutable for the duration of a run.
package spec

// Tier classifies the criticality of a service. Tier drives default drift
// thresholds, alert windows, and exhaustion horizons.
type Tier string

const (
	TierCritical Tier = "critical"
	TierStandard Tier = "standard"
	TierLow      Tier = "low"

	// TierUnknown marks a tier the system could not map from an external
	// source (e.g. a portal scorecard level). Specs with an unknown tier
	// fail validation until an operator sets the tier explicitly.
	TierUnknown Tier = "unknown"
)

// ServiceType describes the workload shape of a service.
type ServiceType string

const (
	TypeAPI      ServiceType = "api"
	TypeWorker   ServiceType = "worker"
	TypeStream   ServiceType = "stream"
	TypeCron     ServiceType = "cron"
	TypeFrontend ServiceType = "frontend"
)

// ServiceSpec is the declarative description of a service.
type ServiceSpec struct {
	Name         string           `yaml:"name"`
	Tier         Tier             `yaml:"tier"`
	Type         ServiceType      `yaml:"type"`
	Team         string           `yaml:"team,omitempty"`
	Repository   string           `yaml:"repository,omitempty"`
	Dependencies []DependencyDecl `yaml:"dependencies,omitempty"`
	SLOs         []SLO            `yaml:"slos,omitempty"`
	Drift        *DriftConfig     `yaml:"drift,omitempty"`

	// MetricOverrides pins a concrete metric expression for a dashboard
	// intent, bypassing discovery. Keyed by intent name.
	MetricOverrides map[string]string `yaml:"metric_overrides,omitempty"`
}

// DependencyDecl declares a dependency of the service on another service or
// piece of infrastructure.
type DependencyDecl struct {
	Name string `yaml:"name"`
	// Technology names the dependency's tech family (redis, postgres,
	// kafka, http, grpc). Drives intent selection for dashboards.
	Technology string `yaml:"technology,omitempty"`
	// Critical marks dependencies whose failure takes this service down.
	Critical bool `yaml:"critical,omitempty"`
}

// SLO declares a service level objective.
type SLO struct {
	Name      string  `yaml:"name"`
	Objective float64 `yaml:"objective"` // target success ratio, e.g. 0.999
	Window    string  `yaml:"window"`    // e.g. "30d"
	// Indicator selects the SLI family: "availability" or "latency".
	Indicator string `yaml:"indicator,omitempty"`
	// LatencyThreshold is the latency bound in seconds for latency SLOs.
	LatencyThreshold float64 `yaml:"latency_threshold,omitempty"`
}

// DriftConfig tunes the drift analyzer for a service. Zero-valued fields are
// filled from tier defaults by ApplyTierDefaults.
type DriftConfig struct {
	Enabled    bool              `yaml:"enabled"`
	Window     string            `yaml:"window,omitempty"` // e.g. "30d"
	Thresholds DriftThresholds   `yaml:"thresholds,omitempty"`
	Projection ProjectionConfig  `yaml:"projection,omitempty"`
	Patterns   PatternConfig     `yaml:"patterns,omitempty"`
}

// DriftThresholds are weekly slope thresholds, expressed as a fraction of
// budget per week. Negative values mean decline (e.g. -0.005 is -0.5%/week).
type DriftThresholds struct {
	Warn     float64 `yaml:"warn,omitempty"`
	Critical float64 `yaml:"critical,omitempty"`
}

// ProjectionConfig tunes the budget-exhaustion projection.
type ProjectionConfig struct {
	Horizon string `yaml:"horizon,omitempty"` // projection horizon, e.g. "90d"
	// ExhaustionWarn / ExhaustionCritical are day counts: projected
	// exhaustion within this many days raises the respective severity.
	ExhaustionWarn     int `yaml:"exhaustion_warn,omitempty"`
	ExhaustionCritical int `yaml:"exhaustion_critical,omitempty"`
}

// PatternConfig tunes pattern detection.
type PatternConfig struct {
	DetectStepChange bool `yaml:"detect_step_change,omitempty"`
	// StepChangeThreshold is a fraction of the budget scale (the
	// budget-remaining ratio has scale 1.0, so 0.05 means a 5-point jump).
	StepChangeThreshold float64 `yaml:"step_change_threshold,omitempty"`
	DetectSeasonal      bool    `yaml:"detect_seasonal,omitempty"`
}

// TierFromScorecard maps a portal scorecard level onto a Tier. Unknown levels
// map to TierUnknown rather than guessing; the operator must then set the
// tier explicitly.
func TierFromScorecard(level string) Tier {
	switch level {
	case "critical", "tier-1", "platinum":
		return TierCritical
	case "standard", "tier-2", "gold", "silver":
		return TierStandard
	case "low", "tier-3", "bronze", "experimental":
		return TierLow
	default:
		return TierUnknown
	}
}
