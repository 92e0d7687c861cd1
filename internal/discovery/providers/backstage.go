package providers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/nthlayer/nthlayer/internal/discovery"
	"github.com/nthlayer/nthlayer/internal/logging"
)

// Catalog relations are curated by humans; confident but not authoritative.
const backstageCatalogConfidence = 0.85

// BackstageConfig configures the backstage catalog provider.
type BackstageConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// BackstageProvider discovers dependencies from backstage catalog relations.
type BackstageProvider struct {
	config BackstageConfig
	rest   *restClient
	logger *logging.Logger
}

func NewBackstageProvider(config BackstageConfig) *BackstageProvider {
	return &BackstageProvider{
		config: config,
		rest: &restClient{
			provider: "backstage",
			client:   newHTTPClient(config.Timeout),
			token:    config.Token,
		},
		logger: logging.GetLogger("discovery.backstage"),
	}
}

func (p *BackstageProvider) Name() string { return "backstage" }

type backstageEntity struct {
	Kind     string `json:"kind"`
	Metadata struct {
		Name        string            `json:"name"`
		Annotations map[string]string `json:"annotations"`
	} `json:"metadata"`
	Spec struct {
		Type  string `json:"type"`
		Owner string `json:"owner"`
	} `json:"spec"`
	Relations []backstageRelation `json:"relations"`
}

type backstageRelation struct {
	Type      string `json:"type"`
	TargetRef string `json:"targetRef"`
}

// Discover reads the service entity and emits one edge per dependsOn
// relation plus inbound edges for dependencyOf relations. The dependency
// type is inferred from the target entity ref: resource:postgres and friends
// map to datastore or queue, api: targets map to external.
func (p *BackstageProvider) Discover(ctx context.Context, service string) ([]discovery.Dependency, error) {
	entity, err := p.getEntity(ctx, service)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}

	var out []discovery.Dependency
	for _, rel := range entity.Relations {
		kind, name := splitEntityRef(rel.TargetRef)
		if name == "" {
			continue
		}
		switch rel.Type {
		case "dependsOn":
			out = append(out, discovery.Dependency{
				Source:     service,
				Target:     name,
				Provider:   p.Name(),
				Type:       depTypeForRef(kind, name),
				Confidence: backstageCatalogConfidence,
			})
		case "dependencyOf":
			out = append(out, discovery.Dependency{
				Source:     name,
				Target:     service,
				Provider:   p.Name(),
				Type:       discovery.DepService,
				Confidence: backstageCatalogConfidence,
			})
		}
	}
	return out, nil
}

func (p *BackstageProvider) getEntity(ctx context.Context, service string) (*backstageEntity, error) {
	var entity backstageEntity
	reqURL := fmt.Sprintf("%s/api/catalog/entities/by-name/component/default/%s",
		p.config.URL, url.PathEscape(service))
	if err := p.rest.getJSON(ctx, reqURL, &entity); err != nil {
		return nil, err
	}
	if entity.Metadata.Name == "" {
		return nil, nil
	}
	return &entity, nil
}

func (p *BackstageProvider) ListServices(ctx context.Context) ([]string, error) {
	var entities []backstageEntity
	reqURL := fmt.Sprintf("%s/api/catalog/entities?filter=kind=component", p.config.URL)
	if err := p.rest.getJSON(ctx, reqURL, &entities); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.Metadata.Name != "" {
			out = append(out, e.Metadata.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *BackstageProvider) HealthCheck(ctx context.Context) discovery.Health {
	return p.rest.probe(ctx, fmt.Sprintf("%s/api/catalog/entities?limit=1", p.config.URL))
}

// ServiceAttributes surfaces owner, repository slug, and chat channel
// annotations for identity correlation.
func (p *BackstageProvider) ServiceAttributes(ctx context.Context, service string) (map[string]string, error) {
	entity, err := p.getEntity(ctx, service)
	if err != nil || entity == nil {
		return nil, err
	}

	attrs := make(map[string]string)
	if entity.Spec.Owner != "" {
		attrs["team"] = strings.TrimPrefix(entity.Spec.Owner, "group:")
	}
	if slug := entity.Metadata.Annotations["github.com/project-slug"]; slug != "" {
		attrs["repository"] = "https://github.com/" + slug
	}
	if ch := entity.Metadata.Annotations["slack.com/channel"]; ch != "" {
		attrs["chat_channel"] = ch
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

// splitEntityRef parses "kind:namespace/name" into kind and name.
func splitEntityRef(ref string) (kind, name string) {
	kind, rest, ok := strings.Cut(ref, ":")
	if !ok {
		return "", ref
	}
	if _, n, ok := strings.Cut(rest, "/"); ok {
		return kind, n
	}
	return kind, rest
}

func depTypeForRef(kind, name string) discovery.DepType {
	switch kind {
	case "api":
		return discovery.DepExternal
	case "resource":
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "kafka"), strings.Contains(lower, "rabbitmq"),
			strings.Contains(lower, "sqs"), strings.Contains(lower, "queue"):
			return discovery.DepQueue
		default:
			return discovery.DepDatastore
		}
	default:
		return discovery.DepService
	}
}
