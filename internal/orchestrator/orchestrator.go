package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nthlayer/nthlayer/internal/discovery"
	"github.com/nthlayer/nthlayer/internal/logging"
	"github.com/nthlayer/nthlayer/internal/ownership"
	"github.com/nthlayer/nthlayer/internal/spec"
)

// MetricDiscoverer is the slice of the metrics client the orchestrator
// needs.
type MetricDiscoverer interface {
	DiscoverForService(ctx context.Context, service string) (map[string]struct{}, error)
}

// DependencyDiscoverer is the slice of the discovery orchestrator the
// orchestrator needs.
type DependencyDiscoverer interface {
	DiscoverForService(ctx context.Context, service string, useCache bool) ([]discovery.ResolvedDependency, error)
}

// OwnerResolver is the slice of the ownership resolver the orchestrator
// needs.
type OwnerResolver interface {
	Resolve(ctx context.Context, service, declaredOwner, repo string) (*ownership.Attribution, error)
}

// Orchestrator runs the plan/apply workflow for service specs. External
// collaborators are optional: a nil collaborator contributes empty data and
// the artifacts degrade gracefully (guidance panels, empty discovered
// dependency lists).
type Orchestrator struct {
	sink      Sink
	metrics   MetricDiscoverer
	discovery DependencyDiscoverer
	ownership OwnerResolver
	logger    *logging.Logger
}

func New(sink Sink, metrics MetricDiscoverer, deps DependencyDiscoverer, owners OwnerResolver) *Orchestrator {
	return &Orchestrator{
		sink:      sink,
		metrics:   metrics,
		discovery: deps,
		ownership: owners,
		logger:    logging.GetLogger("orchestrator"),
	}
}

// generator is a pure function of the resource index and external data.
type generator func(*ResourceIndex, *ExternalData) ([]byte, error)

// artifactFiles maps artifact kind to its file name inside the service
// directory.
var artifactFiles = map[ArtifactKind]string{
	KindSLO:            "slo.yaml",
	KindRecordingRules: "recording-rules.yaml",
	KindAlerts:         "alerts.yaml",
	KindDashboard:      "dashboard.json",
	KindDirectory:      "directory.yaml",
}

var generators = map[ArtifactKind]generator{
	KindSLO:            generateSLO,
	KindRecordingRules: generateRecordingRules,
	KindAlerts:         generateAlerts,
	KindDashboard:      generateDashboard,
	KindDirectory:      generateDirectory,
}

// wanted reports whether the index requests an artifact kind.
func (index *ResourceIndex) wanted(kind ArtifactKind) bool {
	switch kind {
	case KindSLO, KindRecordingRules:
		return index.WantRecordingRules
	case KindAlerts:
		return index.WantAlerts
	case KindDashboard:
		return index.WantDashboard
	case KindDirectory:
		return index.WantDirectory
	default:
		return false
	}
}

// gather snapshots external data once per run so every generator sees the
// same state. Collaborator failures degrade to empty data; the run
// continues.
func (o *Orchestrator) gather(ctx context.Context, svc *spec.ServiceSpec) *ExternalData {
	data := &ExternalData{DiscoveredMetrics: map[string]struct{}{}}

	if o.metrics != nil {
		metrics, err := o.metrics.DiscoverForService(ctx, svc.Name)
		if err != nil {
			o.logger.Warn("metric discovery failed for %s: %v", svc.Name, err)
		} else {
			data.DiscoveredMetrics = metrics
		}
	}
	if o.discovery != nil {
		deps, err := o.discovery.DiscoverForService(ctx, svc.Name, true)
		if err != nil {
			o.logger.Warn("dependency discovery failed for %s: %v", svc.Name, err)
		} else {
			for _, d := range deps {
				if _, isAlias := d.Source.Aliases[svc.Name]; isAlias || d.Source.CanonicalName == svc.Name {
					data.DiscoveredDependencies = append(data.DiscoveredDependencies, d.Target.CanonicalName)
				}
			}
		}
	}
	if o.ownership != nil {
		attribution, err := o.ownership.Resolve(ctx, svc.Name, svc.Team, svc.Repository)
		if err != nil {
			o.logger.Warn("ownership resolution failed for %s: %v", svc.Name, err)
		} else {
			data.Owner = attribution.Owner
			data.ChatChannel = attribution.Contacts.ChatChannel
		}
	}
	return data
}

// generate runs the generators in the fixed kind order. A generator failure
// skips that artifact and is reported; it does not abort the others. The
// returned error is the first failure, typed, so callers keep its kind label.
func (o *Orchestrator) generate(index *ResourceIndex, data *ExternalData) ([]Artifact, []ArtifactOutcome, error) {
	var artifacts []Artifact
	var failures []ArtifactOutcome
	var firstErr error

	for _, kind := range kindOrder {
		if !index.wanted(kind) {
			continue
		}
		path := index.Spec.Name + "/" + artifactFiles[kind]

		bytes, err := generators[kind](index, data)
		if err != nil {
			gerr := &GeneratorError{Artifact: kind, Service: index.Spec.Name, Message: "generate", Err: err}
			o.logger.Error("%v", gerr)
			if firstErr == nil {
				firstErr = gerr
			}
			failures = append(failures, ArtifactOutcome{
				Kind: kind, Service: index.Spec.Name, Path: path,
				Status: StatusFailed, Error: gerr.Error(),
			})
			continue
		}
		artifacts = append(artifacts, Artifact{
			Kind:    kind,
			Service: index.Spec.Name,
			Path:    path,
			Bytes:   bytes,
			Hash:    hashBytes(bytes),
		})
	}
	return artifacts, failures, firstErr
}

// Plan generates all artifacts and diffs them against prior hashes (keyed by
// artifact path). Plan never writes.
func (o *Orchestrator) Plan(ctx context.Context, svc *spec.ServiceSpec, priorHashes map[string]string) (*Plan, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	index := DetectResources(svc)
	data := o.gather(ctx, svc)

	artifacts, _, err := o.generate(index, data)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Service: svc.Name}
	for _, artifact := range artifacts {
		planned := PlannedArtifact{Artifact: artifact, Action: ActionCreate}
		if prior, ok := priorHashes[artifact.Path]; ok {
			planned.PriorHash = prior
			if prior == artifact.Hash {
				planned.Action = ActionUnchanged
			} else {
				planned.Action = ActionUpdate
			}
		}
		plan.Artifacts = append(plan.Artifacts, planned)
	}
	return plan, nil
}

// Render produces the deterministic textual diff stream: one section per
// artifact, prefixed by artifact kind and service identity.
func (p *Plan) Render() string {
	var b strings.Builder
	for _, planned := range p.Artifacts {
		fmt.Fprintf(&b, "== %s %s (%s)\n", planned.Artifact.Kind, p.Service, planned.Artifact.Path)
		fmt.Fprintf(&b, "   action: %s\n", planned.Action)
		if planned.Action == ActionUpdate {
			fmt.Fprintf(&b, "   prior:  sha256:%s\n", planned.PriorHash)
		}
		fmt.Fprintf(&b, "   hash:   sha256:%s\n", planned.Artifact.Hash)
	}
	return b.String()
}

// Apply generates all artifacts and writes them to the sink in the fixed
// order. A write failure aborts the remaining writes; already-written
// artifacts are reported, not rolled back. Transient sink errors are retried
// with bounded backoff. Cancellation stops before the next write.
func (o *Orchestrator) Apply(ctx context.Context, svc *spec.ServiceSpec) (*AppliedSet, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	index := DetectResources(svc)
	data := o.gather(ctx, svc)

	artifacts, failures, _ := o.generate(index, data)
	applied := &AppliedSet{Service: svc.Name, Outcomes: failures}

	aborted := false
	var abortErr error
	for _, artifact := range artifacts {
		if aborted || ctx.Err() != nil {
			applied.Outcomes = append(applied.Outcomes, ArtifactOutcome{
				Kind: artifact.Kind, Service: artifact.Service, Path: artifact.Path,
				Status: StatusAborted,
			})
			continue
		}

		if err := o.writeWithRetry(ctx, artifact); err != nil {
			o.logger.Error("apply %s for %s failed: %v", artifact.Kind, svc.Name, err)
			applied.Outcomes = append(applied.Outcomes, ArtifactOutcome{
				Kind: artifact.Kind, Service: artifact.Service, Path: artifact.Path,
				Status: StatusFailed, Error: err.Error(),
			})
			aborted = true
			abortErr = err
			continue
		}
		applied.Outcomes = append(applied.Outcomes, ArtifactOutcome{
			Kind: artifact.Kind, Service: artifact.Service, Path: artifact.Path,
			Status: StatusWritten,
		})
	}

	if err := ctx.Err(); err != nil {
		return applied, err
	}
	return applied, abortErr
}

// writeWithRetry retries transient sink failures with exponential backoff;
// permanent failures return immediately.
func (o *Orchestrator) writeWithRetry(ctx context.Context, artifact Artifact) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
	), 3), ctx)

	return backoff.Retry(func() error {
		err := o.sink.Write(ctx, artifact.Path, artifact.Bytes)
		if err == nil {
			return nil
		}
		var serr *SinkError
		if errors.As(err, &serr) && serr.Class == SinkTransient {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
