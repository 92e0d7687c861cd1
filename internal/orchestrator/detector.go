package orchestrator

import "github.com/nthlayer/nthlayer/internal/spec"

// DetectResources traverses the spec exactly once and builds the resource
// index, with tier defaults materialized and the auto-generation rules
// applied. The rules are idempotent: detecting an already-detected index
// changes nothing.
func DetectResources(svc *spec.ServiceSpec) *ResourceIndex {
	materialized := svc.ApplyTierDefaults()

	index := &ResourceIndex{
		Spec:         materialized,
		SLOs:         materialized.SLOs,
		Dependencies: materialized.Dependencies,
	}

	// An SLO implies recording rules and a directory-registry entry.
	if len(index.SLOs) > 0 {
		index.WantRecordingRules = true
		index.WantAlerts = true
		index.WantDirectory = true
	}
	// Declared dependencies imply alert rules and dashboard panels for the
	// declared tech families.
	if len(index.Dependencies) > 0 {
		index.WantAlerts = true
		index.WantDashboard = true
	}
	// Every service gets an overview dashboard and a directory entry.
	index.WantDashboard = true
	index.WantDirectory = true

	return index
}
