package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/nthlayer/nthlayer/internal/discovery"
	"github.com/nthlayer/nthlayer/internal/logging"
)

// TrafficConfig configures the prometheus traffic provider.
type TrafficConfig struct {
	URL string
	// Query must return a vector with source and destination labels whose
	// value is the request rate in req/s. Default covers the common mesh
	// metric shape.
	Query string
	// SourceLabel and DestinationLabel name the vector labels carrying the
	// service identifiers.
	SourceLabel      string
	DestinationLabel string
	// MinRate is the request-rate floor below which no edge is emitted
	// (default 0.1 req/s). Sporadic traffic is not a dependency.
	MinRate float64
	// SaturationRate is the rate at which confidence stops growing
	// (default 100 req/s).
	SaturationRate float64
	Timeout        time.Duration
}

func (c TrafficConfig) withDefaults() TrafficConfig {
	if c.Query == "" {
		c.Query = `sum by (source_workload, destination_workload) (rate(istio_requests_total[5m]))`
	}
	if c.SourceLabel == "" {
		c.SourceLabel = "source_workload"
	}
	if c.DestinationLabel == "" {
		c.DestinationLabel = "destination_workload"
	}
	if c.MinRate == 0 {
		c.MinRate = 0.1
	}
	if c.SaturationRate == 0 {
		c.SaturationRate = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// TrafficProvider infers dependencies from observed inter-service request
// rates. Traffic proves communication but not intent, so confidence starts
// at 0.4 and scales with rate, capped at 0.9.
type TrafficProvider struct {
	config TrafficConfig
	api    promv1.API
	logger *logging.Logger
}

func NewTrafficProvider(config TrafficConfig) (*TrafficProvider, error) {
	config = config.withDefaults()
	client, err := api.NewClient(api.Config{
		Address: config.URL,
		Client:  newHTTPClient(config.Timeout),
	})
	if err != nil {
		return nil, &discovery.ProviderError{
			Provider: "traffic", Class: discovery.ErrorMisconfig,
			Message: "create prometheus client", Err: err,
		}
	}
	return &TrafficProvider{
		config: config,
		api:    promv1.NewAPI(client),
		logger: logging.GetLogger("discovery.traffic"),
	}, nil
}

func (p *TrafficProvider) Name() string { return "traffic" }

// confidenceForRate maps a request rate to an edge confidence: 0.4 at the
// minimum rate, growing linearly to 0.9 at the saturation rate.
func (p *TrafficProvider) confidenceForRate(rate float64) float64 {
	scale := rate / p.config.SaturationRate
	if scale > 1 {
		scale = 1
	}
	return 0.4 + 0.5*scale
}

func (p *TrafficProvider) allEdges(ctx context.Context) ([]discovery.Dependency, error) {
	value, _, err := p.api.Query(ctx, p.config.Query, time.Now())
	if err != nil {
		return nil, &discovery.ProviderError{
			Provider: p.Name(), Class: discovery.ErrorTransient,
			Message: "traffic query", Err: err,
		}
	}
	vector, ok := value.(model.Vector)
	if !ok {
		return nil, &discovery.ProviderError{
			Provider: p.Name(), Class: discovery.ErrorPermanent,
			Message: fmt.Sprintf("traffic query returned %s, want vector", value.Type()),
		}
	}

	var out []discovery.Dependency
	for _, sample := range vector {
		source := string(sample.Metric[model.LabelName(p.config.SourceLabel)])
		target := string(sample.Metric[model.LabelName(p.config.DestinationLabel)])
		rate := float64(sample.Value)
		if source == "" || target == "" || source == target || source == "unknown" || target == "unknown" {
			continue
		}
		if rate < p.config.MinRate {
			continue
		}
		out = append(out, discovery.Dependency{
			Source:     source,
			Target:     target,
			Provider:   p.Name(),
			Type:       discovery.DepService,
			Confidence: p.confidenceForRate(rate),
			Metadata:   map[string]string{"rate": fmt.Sprintf("%.3f", rate)},
		})
	}
	return out, nil
}

func (p *TrafficProvider) Discover(ctx context.Context, service string) ([]discovery.Dependency, error) {
	edges, err := p.allEdges(ctx)
	if err != nil {
		return nil, err
	}
	var out []discovery.Dependency
	for _, e := range edges {
		if e.Source == service || e.Target == service {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *TrafficProvider) ListServices(ctx context.Context) ([]string, error) {
	edges, err := p.allEdges(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, e := range edges {
		set[e.Source] = struct{}{}
		set[e.Target] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (p *TrafficProvider) HealthCheck(ctx context.Context) discovery.Health {
	start := time.Now()
	_, err := p.api.Buildinfo(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return discovery.Health{Healthy: false, Message: err.Error(), LatencyMS: latency}
	}
	return discovery.Health{Healthy: true, Message: "ok", LatencyMS: latency}
}

// ServiceAttributes is not supported: traffic metrics carry no identity
// attributes beyond the service labels themselves.
func (p *TrafficProvider) ServiceAttributes(ctx context.Context, service string) (map[string]string, error) {
	return nil, nil
}
