// Package ownership aggregates ownership signals from many providers into a
// single weighted attribution per service.
package ownership

import (
	"context"
	"time"
)

// Source identifies where an ownership signal came from. Sources form a
// closed set; the weight table below is keyed on them.
type Source string

const (
	SourceDeclared           Source = "declared"
	SourceIncidentOnCall     Source = "incident_oncall"
	SourceSecondaryOnCall    Source = "secondary_oncall"
	SourcePortal             Source = "portal"
	SourceCodeowners         Source = "codeowners"
	SourceCloudTags          Source = "cloud_tags"
	SourceOrchestratorLabels Source = "orchestrator_labels"
	SourceCostCenter         Source = "cost_center"
	SourceChatConvention     Source = "chat_convention"
	SourceGitActivity        Source = "git_activity"
	SourceDefault            Source = "default"
)

// sourceWeights ranks signal sources by trustworthiness. A declared owner in
// the service spec always wins; inferred signals degrade from there.
var sourceWeights = map[Source]float64{
	SourceDeclared:           1.00,
	SourceIncidentOnCall:     0.95,
	SourceSecondaryOnCall:    0.90,
	SourcePortal:             0.90,
	SourceCodeowners:         0.85,
	SourceCloudTags:          0.80,
	SourceOrchestratorLabels: 0.75,
	SourceCostCenter:         0.70,
	SourceChatConvention:     0.60,
	SourceGitActivity:        0.40,
}

// Weight returns the trust weight for a source; unknown sources weigh zero.
func (s Source) Weight() float64 { return sourceWeights[s] }

// Signal is a single ownership assertion from one provider.
type Signal struct {
	Source     Source
	Owner      string
	Confidence float64
	// Metadata may carry contact fields: chat_channel, escalation, email.
	Metadata map[string]string
}

// ScoredSignal is a signal with its weighted score attached.
type ScoredSignal struct {
	Signal
	Score float64
}

// Contacts are harvested from signal metadata regardless of which signal won.
type Contacts struct {
	ChatChannel string
	Escalation  string
	Email       string
}

// Attribution is the resolved ownership of a service.
type Attribution struct {
	Service    string
	Owner      string
	Source     Source
	Confidence float64
	Score      float64
	Contacts   Contacts
	// Signals lists every scored signal considered, highest score first.
	Signals    []ScoredSignal
	ResolvedAt time.Time
}

// SignalProvider produces ownership signals for a service. A provider that
// knows nothing returns an empty slice; failures are absorbed by the
// resolver.
type SignalProvider interface {
	Name() string
	Signals(ctx context.Context, service, repo string) ([]Signal, error)
}
