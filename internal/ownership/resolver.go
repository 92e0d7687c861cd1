package ownership

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/nthlayer/nthlayer/internal/logging"
)

// ResolverConfig tunes the ownership resolver.
type ResolverConfig struct {
	// ConfidenceThreshold is the minimum weighted score a signal needs to
	// win (default 0.5).
	ConfidenceThreshold float64
	// DefaultOwner is attributed at confidence 0 when no signal clears the
	// threshold.
	DefaultOwner string
	// ProviderTimeout bounds each provider call (default 5s).
	ProviderTimeout time.Duration
	// CacheTTL bounds the per-service attribution cache (default 300s).
	CacheTTL time.Duration
}

func (c ResolverConfig) withDefaults() ResolverConfig {
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.ProviderTimeout == 0 {
		c.ProviderTimeout = 5 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// Resolver fans out to signal providers, scores every signal by
// confidence times source weight, and attributes the service to the
// highest-scored signal above the threshold.
type Resolver struct {
	providers []SignalProvider
	config    ResolverConfig
	cache     *expirable.LRU[string, *Attribution]
	logger    *logging.Logger
	now       func() time.Time
}

// NewResolver creates an ownership resolver. Providers are sorted by name so
// tie-breaking between equally scored signals is deterministic.
func NewResolver(providers []SignalProvider, config ResolverConfig) *Resolver {
	config = config.withDefaults()
	sorted := make([]SignalProvider, len(providers))
	copy(sorted, providers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	return &Resolver{
		providers: sorted,
		config:    config,
		cache:     expirable.NewLRU[string, *Attribution](2048, nil, config.CacheTTL),
		logger:    logging.GetLogger("ownership"),
		now:       time.Now,
	}
}

// Resolve attributes ownership of a service. A declared owner (from the
// service spec) enters the scoring as a signal with confidence 1.0 and wins
// over any inferred signal. Provider failures yield no signal and never
// abort resolution. Results are cached per (service, declared) key.
func (r *Resolver) Resolve(ctx context.Context, service, declaredOwner, repo string) (*Attribution, error) {
	cacheKey := service + "\x00" + declaredOwner
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached, nil
	}

	signals, err := r.collect(ctx, service, repo)
	if err != nil {
		return nil, err
	}
	if declaredOwner != "" {
		signals = append(signals, Signal{
			Source:     SourceDeclared,
			Owner:      declaredOwner,
			Confidence: 1.0,
		})
	}

	attribution := r.score(service, signals)
	r.cache.Add(cacheKey, attribution)
	return attribution, nil
}

// collect queries all providers in parallel with per-call deadlines.
func (r *Resolver) collect(ctx context.Context, service, repo string) ([]Signal, error) {
	results := make([][]Signal, len(r.providers))

	g, groupCtx := errgroup.WithContext(ctx)
	for i, provider := range r.providers {
		i, provider := i, provider
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(groupCtx, r.config.ProviderTimeout)
			defer cancel()

			signals, err := provider.Signals(callCtx, service, repo)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				r.logger.Warn("provider %s failed for %s: %v", provider.Name(), service, err)
				return nil
			}
			results[i] = signals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Signal
	for _, signals := range results {
		out = append(out, signals...)
	}
	return out, nil
}

// score ranks signals by weighted score and picks the winner. Contacts are
// harvested from every signal's metadata in score order, so the most trusted
// source fills each contact field first.
func (r *Resolver) score(service string, signals []Signal) *Attribution {
	scored := make([]ScoredSignal, 0, len(signals))
	for _, s := range signals {
		if s.Owner == "" {
			continue
		}
		scored = append(scored, ScoredSignal{
			Signal: s,
			Score:  clamp01(s.Confidence) * s.Source.Weight(),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Source != scored[j].Source {
			return scored[i].Source < scored[j].Source
		}
		return scored[i].Owner < scored[j].Owner
	})

	attribution := &Attribution{
		Service:    service,
		Signals:    scored,
		Contacts:   harvestContacts(scored),
		ResolvedAt: r.now(),
	}

	if len(scored) > 0 && scored[0].Score >= r.config.ConfidenceThreshold {
		winner := scored[0]
		attribution.Owner = winner.Owner
		attribution.Source = winner.Source
		attribution.Confidence = winner.Confidence
		attribution.Score = winner.Score
		return attribution
	}

	attribution.Owner = r.config.DefaultOwner
	attribution.Source = SourceDefault
	attribution.Confidence = 0
	attribution.Score = 0
	return attribution
}

func harvestContacts(scored []ScoredSignal) Contacts {
	var contacts Contacts
	for _, s := range scored {
		if contacts.ChatChannel == "" {
			contacts.ChatChannel = s.Metadata["chat_channel"]
		}
		if contacts.Escalation == "" {
			contacts.Escalation = s.Metadata["escalation"]
		}
		if contacts.Email == "" {
			contacts.Email = s.Metadata["email"]
		}
	}
	return contacts
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
