package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nthlayer/nthlayer/internal/discovery"
	"github.com/nthlayer/nthlayer/internal/logging"
)

// Tags are maintained by owners but drift without enforcement.
const cloudTagConfidence = 0.8

// CloudTagsConfig configures the cloud directory provider. It reads a
// resource inventory endpoint that exposes per-service tags.
type CloudTagsConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// CloudTagsProvider discovers dependencies from service-level cloud tags of
// the form dependencies=svc1,svc2.
type CloudTagsProvider struct {
	config CloudTagsConfig
	rest   *restClient
	logger *logging.Logger
}

func NewCloudTagsProvider(config CloudTagsConfig) *CloudTagsProvider {
	return &CloudTagsProvider{
		config: config,
		rest: &restClient{
			provider: "cloudtags",
			client:   newHTTPClient(config.Timeout),
			token:    config.Token,
		},
		logger: logging.GetLogger("discovery.cloudtags"),
	}
}

func (p *CloudTagsProvider) Name() string { return "cloudtags" }

type cloudResource struct {
	Name string            `json:"name"`
	Tags map[string]string `json:"tags"`
}

func (p *CloudTagsProvider) listResources(ctx context.Context) ([]cloudResource, error) {
	var resources []cloudResource
	url := fmt.Sprintf("%s/v1/resources?type=service", p.config.URL)
	if err := p.rest.getJSON(ctx, url, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

func (p *CloudTagsProvider) Discover(ctx context.Context, service string) ([]discovery.Dependency, error) {
	resources, err := p.listResources(ctx)
	if err != nil {
		return nil, err
	}

	var out []discovery.Dependency
	for _, res := range resources {
		if res.Name != service {
			continue
		}
		for _, target := range splitTagList(res.Tags["dependencies"]) {
			if target == service {
				continue
			}
			out = append(out, discovery.Dependency{
				Source:     service,
				Target:     target,
				Provider:   p.Name(),
				Type:       discovery.DepService,
				Confidence: cloudTagConfidence,
				Metadata:   map[string]string{"signal": "tag"},
			})
		}
	}
	return out, nil
}

func (p *CloudTagsProvider) ListServices(ctx context.Context) ([]string, error) {
	resources, err := p.listResources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resources))
	for _, res := range resources {
		if res.Name != "" {
			out = append(out, res.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *CloudTagsProvider) HealthCheck(ctx context.Context) discovery.Health {
	return p.rest.probe(ctx, fmt.Sprintf("%s/v1/resources?type=service&limit=1", p.config.URL))
}

// ServiceAttributes surfaces the remaining tags for identity correlation and
// ownership.
func (p *CloudTagsProvider) ServiceAttributes(ctx context.Context, service string) (map[string]string, error) {
	resources, err := p.listResources(ctx)
	if err != nil {
		return nil, err
	}

	for _, res := range resources {
		if res.Name != service {
			continue
		}
		attrs := make(map[string]string)
		for k, v := range res.Tags {
			switch k {
			case "team", "owner":
				attrs["team"] = v
			case "repository", "repo":
				attrs["repository"] = v
			case "cost_center", "cost-center":
				attrs["cost_center"] = v
			}
		}
		if len(attrs) == 0 {
			return nil, nil
		}
		return attrs, nil
	}
	return nil, nil
}

// splitTagList parses a comma-separated tag value, trimming whitespace and
// dropping empties.
func splitTagList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
