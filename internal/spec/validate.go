package spec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ValidationError reports an invalid ServiceSpec. It carries the service name
// (when known) and the offending field for structured reporting.
type ValidationError struct {
	Service string
	Field   string
	Message string
}

// Kind returns the stable error-kind label.
func (e *ValidationError) Kind() string { return "spec_validation" }

func (e *ValidationError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("spec validation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("spec validation for %q: %s: %s", e.Service, e.Field, e.Message)
}

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Validate checks the spec for structural problems. It returns the first
// error found; callers treat any error as fatal for the run.
func (s *ServiceSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !serviceNamePattern.MatchString(s.Name) {
		return &ValidationError{Service: s.Name, Field: "name",
			Message: "must be lowercase alphanumeric with dashes"}
	}

	switch s.Tier {
	case TierCritical, TierStandard, TierLow:
	case TierUnknown, "":
		return &ValidationError{Service: s.Name, Field: "tier",
			Message: "tier is unknown; set tier to critical, standard, or low"}
	default:
		return &ValidationError{Service: s.Name, Field: "tier",
			Message: fmt.Sprintf("unrecognized tier %q", s.Tier)}
	}

	switch s.Type {
	case TypeAPI, TypeWorker, TypeStream, TypeCron, TypeFrontend:
	case "":
		return &ValidationError{Service: s.Name, Field: "type", Message: "must not be empty"}
	default:
		return &ValidationError{Service: s.Name, Field: "type",
			Message: fmt.Sprintf("unrecognized service type %q", s.Type)}
	}

	for i, slo := range s.SLOs {
		field := fmt.Sprintf("slos[%d]", i)
		if slo.Name == "" {
			return &ValidationError{Service: s.Name, Field: field + ".name", Message: "must not be empty"}
		}
		if slo.Objective <= 0 || slo.Objective >= 1 {
			return &ValidationError{Service: s.Name, Field: field + ".objective",
				Message: fmt.Sprintf("must be in (0, 1), got %g", slo.Objective)}
		}
		if _, err := ParseWindow(slo.Window); err != nil {
			return &ValidationError{Service: s.Name, Field: field + ".window", Message: err.Error()}
		}
		if slo.Indicator == "latency" && slo.LatencyThreshold <= 0 {
			return &ValidationError{Service: s.Name, Field: field + ".latency_threshold",
				Message: "latency SLOs require a positive threshold"}
		}
	}

	for i, dep := range s.Dependencies {
		if strings.TrimSpace(dep.Name) == "" {
			return &ValidationError{Service: s.Name,
				Field: fmt.Sprintf("dependencies[%d].name", i), Message: "must not be empty"}
		}
	}

	if s.Drift != nil && s.Drift.Window != "" {
		if _, err := ParseWindow(s.Drift.Window); err != nil {
			return &ValidationError{Service: s.Name, Field: "drift.window", Message: err.Error()}
		}
	}

	return nil
}

var windowPattern = regexp.MustCompile(`^(\d+)([smhdw])$`)

// ParseWindow parses duration strings at the configuration boundary.
// Supports s, m, h, d, w units ("30d", "2h"). Internally all durations are
// time.Duration.
func ParseWindow(window string) (time.Duration, error) {
	m := windowPattern.FindStringSubmatch(strings.TrimSpace(window))
	if m == nil {
		return 0, fmt.Errorf("invalid window %q (expected e.g. 30d, 2h)", window)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid window %q: count must be positive", window)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid window unit in %q", window)
}
