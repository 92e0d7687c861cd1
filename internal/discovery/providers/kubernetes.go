package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nthlayer/nthlayer/internal/discovery"
	"github.com/nthlayer/nthlayer/internal/logging"
)

// Network policies and mesh routing are operator-curated but keyed on labels,
// so confidence sits in the label-inference band.
const (
	kubeNetpolConfidence = 0.7
	kubeMeshConfidence   = 0.75
)

// KubernetesConfig configures the kubernetes provider. The provider talks to
// the API server REST endpoints directly with a bearer token.
type KubernetesConfig struct {
	URL       string
	Token     string
	Namespace string
	// AppLabel is the pod label carrying the service name (default "app").
	AppLabel string
	Timeout  time.Duration
}

func (c KubernetesConfig) withDefaults() KubernetesConfig {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.AppLabel == "" {
		c.AppLabel = "app"
	}
	return c
}

// KubernetesProvider discovers dependencies from egress network policies and
// istio virtual service routing.
type KubernetesProvider struct {
	config KubernetesConfig
	rest   *restClient
	logger *logging.Logger
}

func NewKubernetesProvider(config KubernetesConfig) *KubernetesProvider {
	config = config.withDefaults()
	return &KubernetesProvider{
		config: config,
		rest: &restClient{
			provider: "kubernetes",
			client:   newHTTPClient(config.Timeout),
			token:    config.Token,
		},
		logger: logging.GetLogger("discovery.kubernetes"),
	}
}

func (p *KubernetesProvider) Name() string { return "kubernetes" }

type netpolList struct {
	Items []struct {
		Spec struct {
			PodSelector labelSelector `json:"podSelector"`
			Egress      []struct {
				To []struct {
					PodSelector *labelSelector `json:"podSelector"`
				} `json:"to"`
			} `json:"egress"`
		} `json:"spec"`
	} `json:"items"`
}

type labelSelector struct {
	MatchLabels map[string]string `json:"matchLabels"`
}

type virtualServiceList struct {
	Items []struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
		Spec struct {
			Hosts []string `json:"hosts"`
			HTTP  []struct {
				Route []struct {
					Destination struct {
						Host string `json:"host"`
					} `json:"destination"`
				} `json:"route"`
			} `json:"http"`
		} `json:"spec"`
	} `json:"items"`
}

type serviceList struct {
	Items []struct {
		Metadata struct {
			Name   string            `json:"name"`
			Labels map[string]string `json:"labels"`
		} `json:"metadata"`
	} `json:"items"`
}

// Discover emits an edge per egress network policy rule whose pod selector
// names the service, plus edges from virtual services routing the service
// host to backing destinations.
func (p *KubernetesProvider) Discover(ctx context.Context, service string) ([]discovery.Dependency, error) {
	var out []discovery.Dependency

	netpols, err := p.networkPolicyEdges(ctx)
	if err != nil {
		return nil, err
	}
	mesh, err := p.meshEdges(ctx)
	if err != nil {
		// Virtual services are optional; a cluster without istio returns
		// 404 on the CRD endpoint.
		p.logger.Debug("mesh routing unavailable: %v", err)
	}

	for _, e := range append(netpols, mesh...) {
		if e.Source == service || e.Target == service {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *KubernetesProvider) networkPolicyEdges(ctx context.Context) ([]discovery.Dependency, error) {
	var list netpolList
	url := fmt.Sprintf("%s/apis/networking.k8s.io/v1/namespaces/%s/networkpolicies",
		p.config.URL, p.config.Namespace)
	if err := p.rest.getJSON(ctx, url, &list); err != nil {
		return nil, err
	}

	var out []discovery.Dependency
	for _, item := range list.Items {
		source := item.Spec.PodSelector.MatchLabels[p.config.AppLabel]
		if source == "" {
			continue
		}
		for _, rule := range item.Spec.Egress {
			for _, to := range rule.To {
				if to.PodSelector == nil {
					continue
				}
				target := to.PodSelector.MatchLabels[p.config.AppLabel]
				if target == "" || target == source {
					continue
				}
				out = append(out, discovery.Dependency{
					Source:     source,
					Target:     target,
					Provider:   p.Name(),
					Type:       discovery.DepService,
					Confidence: kubeNetpolConfidence,
					Metadata:   map[string]string{"signal": "network_policy"},
				})
			}
		}
	}
	return out, nil
}

func (p *KubernetesProvider) meshEdges(ctx context.Context) ([]discovery.Dependency, error) {
	var list virtualServiceList
	url := fmt.Sprintf("%s/apis/networking.istio.io/v1beta1/namespaces/%s/virtualservices",
		p.config.URL, p.config.Namespace)
	if err := p.rest.getJSON(ctx, url, &list); err != nil {
		return nil, err
	}

	var out []discovery.Dependency
	for _, item := range list.Items {
		for _, host := range item.Spec.Hosts {
			for _, route := range item.Spec.HTTP {
				for _, r := range route.Route {
					if r.Destination.Host == "" || r.Destination.Host == host {
						continue
					}
					out = append(out, discovery.Dependency{
						Source:     host,
						Target:     r.Destination.Host,
						Provider:   p.Name(),
						Type:       discovery.DepService,
						Confidence: kubeMeshConfidence,
						Metadata:   map[string]string{"signal": "virtual_service", "resource": item.Metadata.Name},
					})
				}
			}
		}
	}
	return out, nil
}

func (p *KubernetesProvider) ListServices(ctx context.Context) ([]string, error) {
	var list serviceList
	url := fmt.Sprintf("%s/api/v1/namespaces/%s/services", p.config.URL, p.config.Namespace)
	if err := p.rest.getJSON(ctx, url, &list); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		if item.Metadata.Name == "kubernetes" {
			continue
		}
		out = append(out, item.Metadata.Name)
	}
	sort.Strings(out)
	return out, nil
}

func (p *KubernetesProvider) HealthCheck(ctx context.Context) discovery.Health {
	return p.rest.probe(ctx, fmt.Sprintf("%s/readyz", p.config.URL))
}

// ServiceAttributes surfaces the service's labels for identity correlation.
func (p *KubernetesProvider) ServiceAttributes(ctx context.Context, service string) (map[string]string, error) {
	var list serviceList
	url := fmt.Sprintf("%s/api/v1/namespaces/%s/services", p.config.URL, p.config.Namespace)
	if err := p.rest.getJSON(ctx, url, &list); err != nil {
		return nil, err
	}

	for _, item := range list.Items {
		if item.Metadata.Name != service {
			continue
		}
		attrs := make(map[string]string)
		if team := item.Metadata.Labels["team"]; team != "" {
			attrs["team"] = team
		}
		if len(attrs) == 0 {
			return nil, nil
		}
		return attrs, nil
	}
	return nil, nil
}
