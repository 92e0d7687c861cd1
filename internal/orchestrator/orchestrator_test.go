package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nthlayer/nthlayer/internal/spec"
)

func testSpec() *spec.ServiceSpec {
	return &spec.ServiceSpec{
		Name:       "checkout",
		Tier:       spec.TierCritical,
		Type:       spec.TypeAPI,
		Team:       "payments-team",
		Repository: "https://github.com/acme/checkout",
		Dependencies: []spec.DependencyDecl{
			{Name: "session-cache", Technology: "redis", Critical: true},
			{Name: "orders-db", Technology: "postgres"},
		},
		SLOs: []spec.SLO{
			{Name: "availability", Objective: 0.999, Window: "30d"},
			{Name: "latency", Objective: 0.99, Window: "30d", Indicator: "latency", LatencyThreshold: 0.5},
		},
	}
}

type fakeMetrics struct{ metrics map[string]struct{} }

func (f *fakeMetrics) DiscoverForService(ctx context.Context, service string) (map[string]struct{}, error) {
	return f.metrics, nil
}

// memorySink records writes in order and can fail on selected paths.
type memorySink struct {
	mu        sync.Mutex
	writes    []string
	files     map[string][]byte
	failPath  string
	failClass SinkErrorClass
	failures  int
}

func newMemorySink() *memorySink {
	return &memorySink{files: map[string][]byte{}}
}

func (s *memorySink) Write(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path == s.failPath && s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return &SinkError{Path: path, Class: s.failClass, Message: "injected"}
	}
	s.writes = append(s.writes, path)
	s.files[path] = data
	return nil
}

func newTestOrchestrator(sink Sink) *Orchestrator {
	return New(sink, &fakeMetrics{metrics: map[string]struct{}{
		"http_requests_total": {},
	}}, nil, nil)
}

func TestPlan_GeneratorFailureIsTyped(t *testing.T) {
	orig := generators[KindDirectory]
	generators[KindDirectory] = func(*ResourceIndex, *ExternalData) ([]byte, error) {
		return nil, fmt.Errorf("template exploded")
	}
	t.Cleanup(func() { generators[KindDirectory] = orig })

	o := newTestOrchestrator(newMemorySink())
	_, err := o.Plan(context.Background(), testSpec(), nil)
	require.Error(t, err)

	var gerr *GeneratorError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindDirectory, gerr.Artifact)
	assert.Equal(t, "checkout", gerr.Service)
	assert.Equal(t, "generator", gerr.Kind())
}

func TestDetectResources(t *testing.T) {
	index := DetectResources(testSpec())

	assert.True(t, index.WantRecordingRules)
	assert.True(t, index.WantAlerts)
	assert.True(t, index.WantDashboard)
	assert.True(t, index.WantDirectory)
	assert.Len(t, index.SLOs, 2)

	// Tier defaults are materialized before generators run.
	require.NotNil(t, index.Spec.Drift)
	assert.Equal(t, -0.005, index.Spec.Drift.Thresholds.Critical)

	// A bare spec still gets a dashboard and a directory entry, but no
	// SLO-derived artifacts.
	bare := &spec.ServiceSpec{Name: "simple", Tier: spec.TierLow, Type: spec.TypeWorker}
	index = DetectResources(bare)
	assert.False(t, index.WantRecordingRules)
	assert.False(t, index.WantAlerts)
	assert.True(t, index.WantDashboard)
	assert.True(t, index.WantDirectory)
}

func TestPlan_StableBytes(t *testing.T) {
	o := newTestOrchestrator(newMemorySink())

	first, err := o.Plan(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.Artifacts)

	for i := 0; i < 100; i++ {
		again, err := o.Plan(context.Background(), testSpec(), nil)
		require.NoError(t, err)
		require.Len(t, again.Artifacts, len(first.Artifacts))
		for j := range first.Artifacts {
			assert.Equal(t, first.Artifacts[j].Artifact.Bytes, again.Artifacts[j].Artifact.Bytes)
			assert.Equal(t, first.Artifacts[j].Artifact.Hash, again.Artifacts[j].Artifact.Hash)
		}
		assert.Equal(t, first.Render(), again.Render())
	}
}

func TestPlan_DiffActions(t *testing.T) {
	o := newTestOrchestrator(newMemorySink())

	first, err := o.Plan(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	for _, planned := range first.Artifacts {
		assert.Equal(t, ActionCreate, planned.Action)
	}

	prior := map[string]string{}
	for _, planned := range first.Artifacts {
		prior[planned.Artifact.Path] = planned.Artifact.Hash
	}

	// Same spec against its own hashes: everything unchanged.
	second, err := o.Plan(context.Background(), testSpec(), prior)
	require.NoError(t, err)
	for _, planned := range second.Artifacts {
		assert.Equal(t, ActionUnchanged, planned.Action)
	}

	// Changed spec: the SLO-derived artifacts flip to update.
	changed := testSpec()
	changed.SLOs[0].Objective = 0.9999
	third, err := o.Plan(context.Background(), changed, prior)
	require.NoError(t, err)
	actions := map[ArtifactKind]PlanAction{}
	for _, planned := range third.Artifacts {
		actions[planned.Artifact.Kind] = planned.Action
	}
	assert.Equal(t, ActionUpdate, actions[KindSLO])
	assert.Equal(t, ActionUpdate, actions[KindRecordingRules])
	assert.Equal(t, ActionUpdate, actions[KindAlerts])
	assert.Equal(t, ActionUnchanged, actions[KindDashboard])
}

func TestPlan_RenderSections(t *testing.T) {
	o := newTestOrchestrator(newMemorySink())
	plan, err := o.Plan(context.Background(), testSpec(), nil)
	require.NoError(t, err)

	out := plan.Render()
	assert.Contains(t, out, "== slo checkout (checkout/slo.yaml)")
	assert.Contains(t, out, "== dashboard checkout (checkout/dashboard.json)")
	assert.Contains(t, out, "action: create")
}

func TestPlan_InvalidSpec(t *testing.T) {
	o := newTestOrchestrator(newMemorySink())
	_, err := o.Plan(context.Background(), &spec.ServiceSpec{Name: "Bad Name!"}, nil)
	require.Error(t, err)
}

func TestApply_WritesInFixedOrder(t *testing.T) {
	sink := newMemorySink()
	o := newTestOrchestrator(sink)

	applied, err := o.Apply(context.Background(), testSpec())
	require.NoError(t, err)
	assert.False(t, applied.Failed())

	assert.Equal(t, []string{
		"checkout/slo.yaml",
		"checkout/recording-rules.yaml",
		"checkout/alerts.yaml",
		"checkout/dashboard.json",
		"checkout/directory.yaml",
	}, sink.writes)
}

func TestApply_SinkFailureAbortsLaterWrites(t *testing.T) {
	sink := newMemorySink()
	sink.failPath = "checkout/alerts.yaml"
	sink.failClass = SinkPermanent
	sink.failures = -1

	o := newTestOrchestrator(sink)
	applied, err := o.Apply(context.Background(), testSpec())
	require.Error(t, err)
	assert.True(t, applied.Failed())

	statuses := map[string]ApplyStatus{}
	for _, outcome := range applied.Outcomes {
		statuses[outcome.Path] = outcome.Status
	}
	assert.Equal(t, StatusWritten, statuses["checkout/slo.yaml"])
	assert.Equal(t, StatusWritten, statuses["checkout/recording-rules.yaml"])
	assert.Equal(t, StatusFailed, statuses["checkout/alerts.yaml"])
	assert.Equal(t, StatusAborted, statuses["checkout/dashboard.json"])
	assert.Equal(t, StatusAborted, statuses["checkout/directory.yaml"])

	// Earlier artifacts are on the sink, later ones are not.
	assert.Contains(t, sink.files, "checkout/slo.yaml")
	assert.NotContains(t, sink.files, "checkout/dashboard.json")
}

func TestApply_TransientSinkErrorRetried(t *testing.T) {
	sink := newMemorySink()
	sink.failPath = "checkout/alerts.yaml"
	sink.failClass = SinkTransient
	sink.failures = 2

	o := newTestOrchestrator(sink)
	applied, err := o.Apply(context.Background(), testSpec())
	require.NoError(t, err)
	assert.False(t, applied.Failed())
	assert.Contains(t, sink.files, "checkout/alerts.yaml")
}

func TestApply_CancelledBeforeWrite(t *testing.T) {
	sink := newMemorySink()
	o := newTestOrchestrator(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applied, err := o.Apply(ctx, testSpec())
	require.Error(t, err)
	for _, outcome := range applied.Outcomes {
		assert.Equal(t, StatusAborted, outcome.Status)
	}
	assert.Empty(t, sink.writes)
}

func TestGenerateRecordingRules(t *testing.T) {
	index := DetectResources(testSpec())
	out, err := generateRecordingRules(index, &ExternalData{})
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "nthlayer:error_ratio:rate5m")
	assert.Contains(t, text, "nthlayer:error_ratio:rate3d")
	assert.Contains(t, text, "nthlayer:error_budget_remaining:ratio")
	// Availability SLI queries the 5xx ratio; latency SLI queries the
	// duration histogram.
	assert.Contains(t, text, `code=~`)
	assert.Contains(t, text, "http_request_duration_seconds_bucket")
	assert.True(t, strings.HasSuffix(text, "\n"))
}

func TestGenerateAlerts(t *testing.T) {
	index := DetectResources(testSpec())
	out, err := generateAlerts(index, &ExternalData{})
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "PageBudgetBurn")
	assert.Contains(t, text, "TicketBudgetBurn")
	// 14.4x burn of a 0.1% budget
	assert.Contains(t, text, "0.0144")
	assert.Contains(t, text, "severity: page")
}

func TestGenerateDirectory(t *testing.T) {
	index := DetectResources(testSpec())
	out, err := generateDirectory(index, &ExternalData{
		Owner:                  "payments-team",
		ChatChannel:            "#payments",
		DiscoveredDependencies: []string{"payment", "billing"},
	})
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "service: checkout")
	assert.Contains(t, text, "owner: payments-team")
	assert.Contains(t, text, "dashboard: nthlayer-checkout")
	// Discovered dependencies are sorted.
	assert.Less(t, strings.Index(text, "billing"), strings.Index(text, "payment"))
}

func TestFileSink(t *testing.T) {
	root := t.TempDir()
	sink := NewFileSink(root)

	err := sink.Write(context.Background(), "checkout/alerts.yaml", []byte("groups: []\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "checkout", "alerts.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "groups: []\n", string(data))

	// Overwrite is idempotent.
	require.NoError(t, sink.Write(context.Background(), "checkout/alerts.yaml", []byte("groups: []\n")))

	// Cancelled context refuses to write.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sink.Write(ctx, "checkout/other.yaml", []byte("x"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(root, "checkout", "other.yaml"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApply_EndToEndFileSink(t *testing.T) {
	root := t.TempDir()
	o := newTestOrchestrator(NewFileSink(root))

	applied, err := o.Apply(context.Background(), testSpec())
	require.NoError(t, err)
	assert.False(t, applied.Failed())

	for _, name := range []string{"slo.yaml", "recording-rules.yaml", "alerts.yaml", "dashboard.json", "directory.yaml"} {
		path := filepath.Join(root, "checkout", name)
		data, err := os.ReadFile(path)
		require.NoError(t, err, name)
		assert.True(t, strings.HasSuffix(string(data), "\n"), fmt.Sprintf("%s missing trailing newline", name))
	}
}
