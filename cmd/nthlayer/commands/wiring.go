package commands

import (
	"fmt"

	"github.com/nthlayer/nthlayer/internal/config"
	"github.com/nthlayer/nthlayer/internal/discovery"
	"github.com/nthlayer/nthlayer/internal/discovery/providers"
	"github.com/nthlayer/nthlayer/internal/identity"
	"github.com/nthlayer/nthlayer/internal/metrics"
	"github.com/nthlayer/nthlayer/internal/ownership"
)

// loadConfig loads the config file named by the global --config flag.
func loadConfig() (*config.File, error) {
	return config.Load(configPath)
}

// buildDiscoveryProviders materializes the enabled discovery providers from
// the config file. Unknown provider names are an error so typos surface.
func buildDiscoveryProviders(cfg *config.File) ([]discovery.Provider, error) {
	var out []discovery.Provider
	for name, pc := range cfg.Discovery.Providers {
		if !pc.IsEnabled() {
			continue
		}
		switch name {
		case "consul":
			out = append(out, providers.NewConsulProvider(providers.ConsulConfig{
				URL:   pc.URL,
				Token: pc.Token,
			}))
		case "backstage":
			out = append(out, providers.NewBackstageProvider(providers.BackstageConfig{
				URL:   pc.URL,
				Token: pc.Token,
			}))
		case "kubernetes":
			out = append(out, providers.NewKubernetesProvider(providers.KubernetesConfig{
				URL:       pc.URL,
				Token:     pc.Token,
				Namespace: pc.Namespace,
			}))
		case "cloudtags":
			out = append(out, providers.NewCloudTagsProvider(providers.CloudTagsConfig{
				URL:   pc.URL,
				Token: pc.Token,
			}))
		case "traffic":
			p, err := providers.NewTrafficProvider(providers.TrafficConfig{URL: pc.URL})
			if err != nil {
				return nil, fmt.Errorf("traffic provider: %w", err)
			}
			out = append(out, p)
		default:
			return nil, fmt.Errorf("unknown discovery provider %q", name)
		}
	}
	return out, nil
}

// buildDiscovery assembles the identity resolver and discovery orchestrator.
func buildDiscovery(cfg *config.File) (*identity.Resolver, *discovery.Orchestrator, error) {
	resolver := identity.NewResolver(cfg.IdentityOptions())

	discoveryProviders, err := buildDiscoveryProviders(cfg)
	if err != nil {
		return nil, nil, err
	}

	orchestrator := discovery.NewOrchestrator(resolver, discoveryProviders, discovery.OrchestratorConfig{
		CacheTTL: cfg.CacheTTL,
	})
	return resolver, orchestrator, nil
}

// buildOwnership assembles the ownership resolver: direct signal providers
// from the config plus attribute adapters over the discovery providers.
func buildOwnership(cfg *config.File) (*ownership.Resolver, error) {
	var signalProviders []ownership.SignalProvider

	for name, pc := range cfg.Ownership.Providers {
		if !pc.IsEnabled() {
			continue
		}
		switch name {
		case "pagerduty":
			signalProviders = append(signalProviders, ownership.NewPagerDutyProvider(ownership.PagerDutyConfig{
				URL:   pc.URL,
				Token: pc.Token,
			}))
		case "codeowners":
			signalProviders = append(signalProviders, ownership.NewCodeownersProvider(ownership.CodeownersConfig{
				RawURL: pc.URL,
				Token:  pc.Token,
			}))
		case "chat":
			signalProviders = append(signalProviders, ownership.NewChatConventionProvider(ownership.ChatConventionConfig{
				URL:   pc.URL,
				Token: pc.Token,
			}))
		case "gitactivity":
			signalProviders = append(signalProviders, ownership.NewGitActivityProvider(ownership.GitActivityConfig{
				URL:   pc.URL,
				Token: pc.Token,
			}))
		default:
			return nil, fmt.Errorf("unknown ownership provider %q", name)
		}
	}

	// Attribute adapters: discovery providers that expose team/cost-center
	// attributes double as ownership evidence.
	attributeSources := map[string]ownership.Source{
		"backstage": ownership.SourcePortal,
		"cloudtags": ownership.SourceCloudTags,
		"consul":    ownership.SourceOrchestratorLabels,
	}
	discoveryProviders, err := buildDiscoveryProviders(cfg)
	if err != nil {
		return nil, err
	}
	for _, p := range discoveryProviders {
		if source, ok := attributeSources[p.Name()]; ok {
			signalProviders = append(signalProviders, ownership.NewAttributeProvider(p, source))
		}
	}

	return ownership.NewResolver(signalProviders, cfg.OwnershipResolverConfig()), nil
}

// buildMetricsClient creates the PromQL client, or nil when no backend is
// configured.
func buildMetricsClient(cfg *config.File) (*metrics.Client, error) {
	if cfg.Metrics.PrometheusURL == "" {
		return nil, nil
	}
	return metrics.NewClient(metrics.ClientConfig{
		URL:      cfg.Metrics.PrometheusURL,
		CacheTTL: cfg.CacheTTL,
	})
}
