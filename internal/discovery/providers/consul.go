package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nthlayer/nthlayer/internal/discovery"
	"github.com/nthlayer/nthlayer/internal/logging"
)

// Consul intentions are explicit allow/deny policies between services; an
// allow intention is a strong dependency signal.
const consulIntentionConfidence = 0.9

// ConsulConfig configures the consul registry provider.
type ConsulConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// ConsulProvider discovers dependencies from consul service intentions.
type ConsulProvider struct {
	config ConsulConfig
	rest   *restClient
	logger *logging.Logger
}

func NewConsulProvider(config ConsulConfig) *ConsulProvider {
	return &ConsulProvider{
		config: config,
		rest: &restClient{
			provider: "consul",
			client:   newHTTPClient(config.Timeout),
			token:    config.Token,
		},
		logger: logging.GetLogger("discovery.consul"),
	}
}

func (p *ConsulProvider) Name() string { return "consul" }

type consulIntention struct {
	SourceName      string `json:"SourceName"`
	DestinationName string `json:"DestinationName"`
	Action          string `json:"Action"`
}

// Discover returns edges from allow intentions where the service is either
// the source (outbound dependency) or the destination (inbound dependent).
// The edge direction is always source depends-on destination.
func (p *ConsulProvider) Discover(ctx context.Context, service string) ([]discovery.Dependency, error) {
	var intentions []consulIntention
	url := fmt.Sprintf("%s/v1/connect/intentions", p.config.URL)
	if err := p.rest.getJSON(ctx, url, &intentions); err != nil {
		return nil, err
	}

	var out []discovery.Dependency
	for _, in := range intentions {
		if in.Action != "allow" {
			continue
		}
		if in.SourceName == "*" || in.DestinationName == "*" {
			continue
		}
		if in.SourceName != service && in.DestinationName != service {
			continue
		}
		out = append(out, discovery.Dependency{
			Source:     in.SourceName,
			Target:     in.DestinationName,
			Provider:   p.Name(),
			Type:       discovery.DepService,
			Confidence: consulIntentionConfidence,
			Metadata:   map[string]string{"intention_action": in.Action},
		})
	}
	return out, nil
}

func (p *ConsulProvider) ListServices(ctx context.Context) ([]string, error) {
	var services map[string][]string
	url := fmt.Sprintf("%s/v1/catalog/services", p.config.URL)
	if err := p.rest.getJSON(ctx, url, &services); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(services))
	for name := range services {
		if name == "consul" {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (p *ConsulProvider) HealthCheck(ctx context.Context) discovery.Health {
	return p.rest.probe(ctx, fmt.Sprintf("%s/v1/status/leader", p.config.URL))
}

type consulCatalogService struct {
	ServiceMeta map[string]string `json:"ServiceMeta"`
}

// ServiceAttributes surfaces the service's catalog metadata for identity
// correlation.
func (p *ConsulProvider) ServiceAttributes(ctx context.Context, service string) (map[string]string, error) {
	var entries []consulCatalogService
	url := fmt.Sprintf("%s/v1/catalog/service/%s", p.config.URL, service)
	if err := p.rest.getJSON(ctx, url, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	attrs := make(map[string]string)
	for k, v := range entries[0].ServiceMeta {
		switch k {
		case "repository", "repo_url":
			attrs["repository"] = v
		case "team", "owner":
			attrs["team"] = v
		case "slack", "chat_channel":
			attrs["chat_channel"] = v
		}
	}
	return attrs, nil
}
