// Package orchestrator is the public entry for plan and apply: it detects
// the resources a service spec implies, runs the artifact generators in a
// fixed order, and writes or diffs the results.
package orchestrator

import (
	"fmt"

	"github.com/nthlayer/nthlayer/internal/spec"
)

// ArtifactKind labels the artifact families a spec can produce. Kinds are a
// closed set; generation order follows kindOrder.
type ArtifactKind string

const (
	KindSLO            ArtifactKind = "slo"
	KindRecordingRules ArtifactKind = "recording_rules"
	KindAlerts         ArtifactKind = "alerts"
	KindDashboard      ArtifactKind = "dashboard"
	KindDirectory      ArtifactKind = "directory"
)

// kindOrder fixes generator invocation and artifact write order.
var kindOrder = []ArtifactKind{KindSLO, KindRecordingRules, KindAlerts, KindDashboard, KindDirectory}

// ResourceIndex is the single-pass detection result over a service spec. It
// is the only input generators see; tier defaults are materialized before
// generation.
type ResourceIndex struct {
	Spec *spec.ServiceSpec

	SLOs         []spec.SLO
	Dependencies []spec.DependencyDecl

	// WantRecordingRules and friends are the auto-generation decisions.
	WantRecordingRules bool
	WantAlerts         bool
	WantDashboard      bool
	WantDirectory      bool
}

// Artifact is one generated file.
type Artifact struct {
	Kind    ArtifactKind
	Service string
	// Path is relative to the sink root, e.g. "checkout/alerts.yaml".
	Path  string
	Bytes []byte
	// Hash is the hex sha256 of Bytes.
	Hash string
}

// PlanAction says what applying an artifact would do.
type PlanAction string

const (
	ActionCreate    PlanAction = "create"
	ActionUpdate    PlanAction = "update"
	ActionUnchanged PlanAction = "unchanged"
)

// PlannedArtifact pairs an artifact with its diff against the prior state.
type PlannedArtifact struct {
	Artifact  Artifact
	Action    PlanAction
	PriorHash string
}

// Plan is the result of the plan phase. Plan never writes.
type Plan struct {
	Service   string
	Artifacts []PlannedArtifact
}

// ApplyStatus records the outcome of one artifact during apply.
type ApplyStatus string

const (
	StatusWritten ApplyStatus = "written"
	StatusFailed  ApplyStatus = "failed"
	StatusAborted ApplyStatus = "aborted"
)

// ArtifactOutcome is one entry of the structured outcome list.
type ArtifactOutcome struct {
	Kind    ArtifactKind
	Service string
	Path    string
	Status  ApplyStatus
	Error   string
}

// AppliedSet is the result of an apply.
type AppliedSet struct {
	Service  string
	Outcomes []ArtifactOutcome
}

// Failed reports whether any artifact failed or was aborted.
func (a *AppliedSet) Failed() bool {
	for _, o := range a.Outcomes {
		if o.Status != StatusWritten {
			return true
		}
	}
	return false
}

// GeneratorError reports a generator-side fault: a template error or missing
// required data.
type GeneratorError struct {
	Artifact ArtifactKind
	Service  string
	Message  string
	Err      error
}

// Kind returns the stable error-kind label.
func (e *GeneratorError) Kind() string { return "generator" }

func (e *GeneratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generator %s for %s: %s: %v", e.Artifact, e.Service, e.Message, e.Err)
	}
	return fmt.Sprintf("generator %s for %s: %s", e.Artifact, e.Service, e.Message)
}

func (e *GeneratorError) Unwrap() error { return e.Err }

// SinkErrorClass partitions sink failures for retry decisions.
type SinkErrorClass string

const (
	SinkTransient SinkErrorClass = "transient"
	SinkPermanent SinkErrorClass = "permanent"
)

// SinkError reports a downstream write failure. The Kind method returns the
// stable error-kind label.
type SinkError struct {
	Path    string
	Class   SinkErrorClass
	Message string
	Err     error
}

func (e *SinkError) Kind() string { return "sink" }

func (e *SinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sink write %s (%s): %s: %v", e.Path, e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("sink write %s (%s): %s", e.Path, e.Class, e.Message)
}

func (e *SinkError) Unwrap() error { return e.Err }
