package discovery

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/nthlayer/nthlayer/internal/identity"
	"github.com/nthlayer/nthlayer/internal/logging"
)

// OrchestratorConfig tunes the discovery orchestrator.
type OrchestratorConfig struct {
	// ProviderTimeout bounds each provider call (default 5s).
	ProviderTimeout time.Duration
	// CacheTTL bounds the per-service dependency cache (default 300s).
	CacheTTL time.Duration
	// BatchSize bounds parallel services during full graph builds
	// (default 10).
	BatchSize int
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.ProviderTimeout == 0 {
		c.ProviderTimeout = 5 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	return c
}

// Orchestrator fans out discovery calls to all providers in parallel,
// resolves identities, and merges edges. Provider failures are absorbed: a
// failing provider contributes zero edges; only caller cancellation aborts.
type Orchestrator struct {
	providers []Provider
	resolver  *identity.Resolver
	cache     *expirable.LRU[string, []ResolvedDependency]
	config    OrchestratorConfig
	logger    *logging.Logger
}

// NewOrchestrator creates an orchestrator over the given providers. The
// provider list is sorted by name so fan-out collection order (and therefore
// merge input order) is deterministic.
func NewOrchestrator(resolver *identity.Resolver, providers []Provider, config OrchestratorConfig) *Orchestrator {
	config = config.withDefaults()
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	return &Orchestrator{
		providers: sorted,
		resolver:  resolver,
		cache:     expirable.NewLRU[string, []ResolvedDependency](2048, nil, config.CacheTTL),
		config:    config,
		logger:    logging.GetLogger("discovery"),
	}
}

// Resolver exposes the identity resolver handle the orchestrator carries.
func (o *Orchestrator) Resolver() *identity.Resolver { return o.resolver }

// DiscoverForService returns the merged, canonical dependencies of a service.
// Results are cached per service with TTL; useCache=false forces a refresh.
func (o *Orchestrator) DiscoverForService(ctx context.Context, service string, useCache bool) ([]ResolvedDependency, error) {
	if useCache {
		if cached, ok := o.cache.Get(service); ok {
			return cached, nil
		}
	}

	raw, err := o.fanOut(ctx, []string{service})
	if err != nil {
		return nil, err
	}

	edges, _ := mergeEdges(o.resolver, raw)
	o.cache.Add(service, edges)
	return edges, nil
}

// BuildFullGraph discovers dependencies for the given services (or for the
// union of all providers' service lists when services is nil) and assembles a
// merged snapshot. Services are processed in batches to bound connection
// pressure. On cancellation no partial graph is returned.
func (o *Orchestrator) BuildFullGraph(ctx context.Context, services []string) (*Graph, error) {
	if services == nil {
		var err error
		services, err = o.allServices(ctx)
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(services)

	var raw []Dependency
	for start := 0; start < len(services); start += o.config.BatchSize {
		end := start + o.config.BatchSize
		if end > len(services) {
			end = len(services)
		}
		batch, err := o.fanOut(ctx, services[start:end])
		if err != nil {
			return nil, err
		}
		raw = append(raw, batch...)
	}

	edges, identities := mergeEdges(o.resolver, raw)

	// Services with no edges still belong in the identity map.
	for _, service := range services {
		id := o.resolver.RegisterFromDiscovery(service, "", nil)
		if id != nil {
			if _, ok := identities[id.CanonicalName]; !ok {
				identities[id.CanonicalName] = id
			}
		}
	}

	providers := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		providers = append(providers, p.Name())
	}

	return &Graph{
		Identities:    identities,
		Edges:         edges,
		BuiltAt:       time.Now(),
		ProvidersUsed: providers,
	}, nil
}

// fanOut launches Discover on every provider for every service concurrently,
// with a per-call deadline. Provider errors are logged and absorbed; the
// collected edges are ordered by (provider, service) so downstream merging is
// deterministic. Caller cancellation aborts the whole fan-out.
func (o *Orchestrator) fanOut(ctx context.Context, services []string) ([]Dependency, error) {
	type slot struct {
		edges []Dependency
	}
	results := make([]slot, len(o.providers)*len(services))

	g, groupCtx := errgroup.WithContext(ctx)
	for pi, provider := range o.providers {
		for si, service := range services {
			pi, si, provider, service := pi, si, provider, service
			g.Go(func() error {
				callCtx, cancel := context.WithTimeout(groupCtx, o.config.ProviderTimeout)
				defer cancel()

				edges, err := provider.Discover(callCtx, service)
				if err != nil {
					// Caller cancellation propagates; provider
					// failures are absorbed as zero edges.
					if groupCtx.Err() != nil {
						return groupCtx.Err()
					}
					o.logger.Warn("provider %s failed for %s: %v", provider.Name(), service, err)
					return nil
				}
				results[pi*len(services)+si] = slot{edges: edges}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// Discard partial results on cancellation.
		return nil, err
	}

	var out []Dependency
	for _, r := range results {
		out = append(out, r.edges...)
	}
	return out, nil
}

// allServices unions ListServices across providers, with per-call deadlines.
// Failing providers contribute nothing.
func (o *Orchestrator) allServices(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	lists := make([][]string, len(o.providers))

	g, groupCtx := errgroup.WithContext(ctx)
	for i, provider := range o.providers {
		i, provider := i, provider
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(groupCtx, o.config.ProviderTimeout)
			defer cancel()

			services, err := provider.ListServices(callCtx)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				o.logger.Warn("provider %s list_services failed: %v", provider.Name(), err)
				return nil
			}
			lists[i] = services
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, list := range lists {
		for _, s := range list {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// HealthCheckAll probes every provider with the per-call deadline and returns
// results keyed by provider name.
func (o *Orchestrator) HealthCheckAll(ctx context.Context) map[string]Health {
	out := make(map[string]Health, len(o.providers))
	for _, provider := range o.providers {
		callCtx, cancel := context.WithTimeout(ctx, o.config.ProviderTimeout)
		out[provider.Name()] = provider.HealthCheck(callCtx)
		cancel()
	}
	return out
}
