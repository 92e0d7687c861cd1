package spec

// tierDriftDefaults holds the per-tier drift defaults applied when the spec
// does not override them.
type tierDriftDefaults struct {
	Window              string
	WarnSlope           float64 // fraction of budget per week
	CriticalSlope       float64
	ExhaustionWarnDays  int
	ExhaustionCritDays  int
	StepChangeThreshold float64
}

var driftDefaultsByTier = map[Tier]tierDriftDefaults{
	TierCritical: {
		Window:              "30d",
		WarnSlope:           -0.0025,
		CriticalSlope:       -0.005,
		ExhaustionWarnDays:  30,
		ExhaustionCritDays:  14,
		StepChangeThreshold: 0.05,
	},
	TierStandard: {
		Window:              "30d",
		WarnSlope:           -0.005,
		CriticalSlope:       -0.01,
		ExhaustionWarnDays:  14,
		ExhaustionCritDays:  7,
		StepChangeThreshold: 0.05,
	},
	TierLow: {
		Window:              "30d",
		WarnSlope:           -0.01,
		CriticalSlope:       -0.02,
		ExhaustionWarnDays:  7,
		ExhaustionCritDays:  3,
		StepChangeThreshold: 0.05,
	},
}

// ApplyTierDefaults returns a copy of the spec with tier-derived defaults
// materialized. The original spec is not modified; generators only ever see
// the materialized copy.
func (s *ServiceSpec) ApplyTierDefaults() *ServiceSpec {
	out := *s

	defaults, ok := driftDefaultsByTier[s.Tier]
	if !ok {
		defaults = driftDefaultsByTier[TierStandard]
	}

	var drift DriftConfig
	if s.Drift != nil {
		drift = *s.Drift
	} else {
		drift.Enabled = true
	}

	if drift.Window == "" {
		drift.Window = defaults.Window
	}
	if drift.Thresholds.Warn == 0 {
		drift.Thresholds.Warn = defaults.WarnSlope
	}
	if drift.Thresholds.Critical == 0 {
		drift.Thresholds.Critical = defaults.CriticalSlope
	}
	if drift.Projection.Horizon == "" {
		drift.Projection.Horizon = "90d"
	}
	if drift.Projection.ExhaustionWarn == 0 {
		drift.Projection.ExhaustionWarn = defaults.ExhaustionWarnDays
	}
	if drift.Projection.ExhaustionCritical == 0 {
		drift.Projection.ExhaustionCritical = defaults.ExhaustionCritDays
	}
	if s.Drift == nil || (!drift.Patterns.DetectStepChange && drift.Patterns.StepChangeThreshold == 0) {
		drift.Patterns.DetectStepChange = true
	}
	if drift.Patterns.StepChangeThreshold == 0 {
		drift.Patterns.StepChangeThreshold = defaults.StepChangeThreshold
	}

	out.Drift = &drift
	return &out
}
