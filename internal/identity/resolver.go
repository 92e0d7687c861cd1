package identity

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/nthlayer/nthlayer/internal/logging"
)

// Options tunes the resolver. Zero values are replaced by defaults.
type Options struct {
	// FuzzyThreshold is the minimum similarity for a fuzzy match.
	FuzzyThreshold float64
	// CacheTTL bounds how long resolve results are cached.
	CacheTTL time.Duration
	// CacheSize bounds the number of cached resolve results.
	CacheSize int
	// ExplicitMappings maps "raw@provider" to a canonical name and takes
	// absolute precedence over every other resolution step.
	ExplicitMappings map[string]string
	// StrongAttributes are attributes where a single equal value is enough
	// to correlate two names (e.g. repository URL).
	StrongAttributes []string
	// WeakAttributes require WeakMatchCount equal values to correlate.
	WeakAttributes []string
	// StrongMatchCount and WeakMatchCount are the required match counts.
	StrongMatchCount int
	WeakMatchCount   int
}

func (o Options) withDefaults() Options {
	if o.FuzzyThreshold == 0 {
		o.FuzzyThreshold = 0.85
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.CacheSize == 0 {
		o.CacheSize = 4096
	}
	if o.StrongAttributes == nil {
		o.StrongAttributes = []string{"repository"}
	}
	if o.WeakAttributes == nil {
		o.WeakAttributes = []string{"owner", "team", "chat_channel"}
	}
	if o.StrongMatchCount == 0 {
		o.StrongMatchCount = 1
	}
	if o.WeakMatchCount == 0 {
		o.WeakMatchCount = 2
	}
	return o
}

// Fixed ladder confidences per resolution step.
const (
	confidenceOverride   = 1.0
	confidenceExternalID = 0.95
	confidenceExact      = 1.0
	confidenceAlias      = 0.90
	confidenceNormalized = 0.85
	confidenceAttributes = 0.75
	confidenceDiscovered = 0.7
)

// Resolver maps raw service identifiers to canonical identities. All methods
// are safe for concurrent use; resolution never returns an error — unknown
// inputs yield an unresolved Match.
type Resolver struct {
	mu         sync.RWMutex
	identities map[string]*Identity // canonical name -> identity
	aliasIndex map[string]string    // alias -> canonical name
	normIndex  map[string]string    // normalized variant -> canonical name
	extIndex   map[string]string    // provider\x00raw -> canonical name

	cache  *expirable.LRU[string, Match]
	opts   Options
	logger *logging.Logger
	now    func() time.Time
}

// NewResolver creates a resolver with the given options.
func NewResolver(opts Options) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		identities: make(map[string]*Identity),
		aliasIndex: make(map[string]string),
		normIndex:  make(map[string]string),
		extIndex:   make(map[string]string),
		cache:      expirable.NewLRU[string, Match](opts.CacheSize, nil, opts.CacheTTL),
		opts:       opts,
		logger:     logging.GetLogger("identity"),
		now:        time.Now,
	}
}

func extKey(provider, raw string) string { return provider + "\x00" + raw }

func cacheKey(raw, provider string) string { return raw + "@" + provider }

// Resolve runs the resolution ladder for a raw identifier. The provider and
// attrs arguments are optional ("" / nil). Results are cached per
// (raw, provider) with TTL; any mutating register call purges the cache.
func (r *Resolver) Resolve(raw, provider string, attrs map[string]string) Match {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Match{Query: raw, Provider: provider, MatchType: MatchUnresolved}
	}

	// Attribute-correlation queries are not cached: the cache key is
	// (raw, provider) and attrs would leak across callers.
	cacheable := len(attrs) == 0
	key := cacheKey(raw, provider)
	if cacheable {
		if cached, ok := r.cache.Get(key); ok {
			return cached
		}
	}

	r.mu.RLock()
	match := r.resolveLocked(raw, provider, attrs)
	r.mu.RUnlock()

	if cacheable {
		r.cache.Add(key, match)
	}
	return match
}

// resolveLocked runs the ladder. Caller holds at least a read lock.
func (r *Resolver) resolveLocked(raw, provider string, attrs map[string]string) Match {
	match := Match{Query: raw, Provider: provider, MatchType: MatchUnresolved}

	// 1. Explicit override.
	if canonical, ok := r.opts.ExplicitMappings[raw+"@"+provider]; ok {
		match.MatchType = MatchOverride
		match.Confidence = confidenceOverride
		if id, exists := r.identities[canonical]; exists {
			match.Identity = id.clone()
		} else {
			// Operator-declared name that no provider registered yet.
			match.Identity = &Identity{
				CanonicalName: canonical,
				Aliases:       map[string]struct{}{raw: {}},
				ExternalIDs:   map[string]string{},
				Attributes:    map[string]string{},
				Confidence:    confidenceOverride,
				Source:        SourceDeclared,
			}
		}
		return match
	}

	// 2. External-ID match for the supplied provider.
	if provider != "" {
		if canonical, ok := r.extIndex[extKey(provider, raw)]; ok {
			match.Identity = r.identities[canonical].clone()
			match.MatchType = MatchExternalID
			match.Confidence = confidenceExternalID
			return match
		}
	}

	// 3. Exact canonical-name match.
	if id, ok := r.identities[raw]; ok {
		match.Identity = id.clone()
		match.MatchType = MatchExact
		match.Confidence = confidenceExact
		return match
	}

	// 4. Alias match.
	if canonical, ok := r.aliasIndex[raw]; ok {
		match.Identity = r.identities[canonical].clone()
		match.MatchType = MatchAlias
		match.Confidence = confidenceAlias
		return match
	}

	// 5. Normalized-name match.
	normalized := Normalize(raw)
	for _, variant := range variants(normalized) {
		if canonical, ok := r.normIndex[variant]; ok {
			match.Identity = r.identities[canonical].clone()
			match.MatchType = MatchNormalized
			match.Confidence = confidenceNormalized
			return match
		}
	}

	// 6. Fuzzy match against canonical names and aliases.
	if best, similarity, alternatives := r.fuzzyLocked(normalized); best != "" {
		match.Identity = r.identities[best].clone()
		match.MatchType = MatchFuzzy
		match.Confidence = similarity
		match.Alternatives = alternatives
		return match
	}

	// 7. Attribute correlation.
	if len(attrs) > 0 {
		if canonical := r.correlateLocked(attrs); canonical != "" {
			match.Identity = r.identities[canonical].clone()
			match.MatchType = MatchAttributes
			match.Confidence = confidenceAttributes
			return match
		}
	}

	return match
}

// fuzzyLocked finds the best fuzzy candidate at or above the threshold.
// Candidates are iterated in sorted order so ties resolve deterministically.
func (r *Resolver) fuzzyLocked(normalized string) (best string, bestSim float64, alternatives []string) {
	if normalized == "" {
		return "", 0, nil
	}

	canonicals := make([]string, 0, len(r.identities))
	for canonical := range r.identities {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)

	for _, canonical := range canonicals {
		sim := similarity(normalized, canonical)
		for alias := range r.identities[canonical].Aliases {
			if s := similarity(normalized, Normalize(alias)); s > sim {
				sim = s
			}
		}
		if sim < r.opts.FuzzyThreshold {
			continue
		}
		if sim > bestSim {
			if best != "" {
				alternatives = append(alternatives, best)
			}
			best, bestSim = canonical, sim
		} else {
			alternatives = append(alternatives, canonical)
		}
	}

	sort.Strings(alternatives)
	return best, bestSim, alternatives
}

func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

// correlateLocked matches identities by shared attributes: one strong match
// suffices, otherwise WeakMatchCount weak matches. Identities are scanned in
// sorted order for determinism.
func (r *Resolver) correlateLocked(attrs map[string]string) string {
	canonicals := make([]string, 0, len(r.identities))
	for canonical := range r.identities {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)

	for _, canonical := range canonicals {
		id := r.identities[canonical]

		strong := 0
		for _, attr := range r.opts.StrongAttributes {
			if v, ok := attrs[attr]; ok && v != "" && id.Attributes[attr] == v {
				strong++
			}
		}
		if strong >= r.opts.StrongMatchCount {
			return canonical
		}

		weak := 0
		for _, attr := range r.opts.WeakAttributes {
			if v, ok := attrs[attr]; ok && v != "" && id.Attributes[attr] == v {
				weak++
			}
		}
		if weak >= r.opts.WeakMatchCount {
			return canonical
		}
	}

	return ""
}

// RegisterFromDiscovery records a raw name sighted by a provider. Idempotent:
// an existing match is updated (external IDs, aliases, attributes, last
// seen); otherwise a new identity is created with discovery confidence.
// Returns nil for empty input.
func (r *Resolver) RegisterFromDiscovery(raw, provider string, attrs map[string]string) *Identity {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	match := r.resolveLocked(raw, provider, attrs)

	var id *Identity
	if match.Resolved() {
		existing, ok := r.identities[match.Identity.CanonicalName]
		if !ok {
			// Override onto a not-yet-registered canonical name:
			// materialize it now.
			existing = match.Identity
			existing.FirstSeen = now
			r.identities[existing.CanonicalName] = existing
		}
		id = existing
	} else {
		canonical := Normalize(raw)
		id = &Identity{
			CanonicalName: canonical,
			Aliases:       make(map[string]struct{}),
			ExternalIDs:   make(map[string]string),
			Attributes:    make(map[string]string),
			Confidence:    confidenceDiscovered,
			Source:        SourceDiscovered,
			FirstSeen:     now,
		}
		r.identities[canonical] = id
		r.logger.Debug("registered new identity %s (raw=%s provider=%s)", canonical, raw, provider)
	}

	if raw != id.CanonicalName {
		id.Aliases[raw] = struct{}{}
	}
	if provider != "" {
		// Conflicting external IDs keep the earlier registration.
		if _, taken := r.extIndex[extKey(provider, raw)]; !taken {
			id.ExternalIDs[provider] = raw
		}
	}
	for k, v := range attrs {
		if _, exists := id.Attributes[k]; !exists {
			id.Attributes[k] = v
		}
	}
	id.LastSeen = now

	r.reindexLocked(id)
	r.cache.Purge()
	return id.clone()
}

// Register inserts an identity, merging into an existing entry with the same
// canonical name when merge is true. On merge, aliases and external IDs
// union, attributes fill missing keys, and the higher confidence wins.
func (r *Resolver) Register(incoming *Identity, merge bool) *Identity {
	if incoming == nil || incoming.CanonicalName == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	existing, ok := r.identities[incoming.CanonicalName]
	if !ok || !merge {
		stored := incoming.clone()
		if stored.Aliases == nil {
			stored.Aliases = make(map[string]struct{})
		}
		if stored.ExternalIDs == nil {
			stored.ExternalIDs = make(map[string]string)
		}
		if stored.Attributes == nil {
			stored.Attributes = make(map[string]string)
		}
		if stored.FirstSeen.IsZero() {
			stored.FirstSeen = now
		}
		stored.LastSeen = now
		r.identities[stored.CanonicalName] = stored
		r.reindexLocked(stored)
		r.cache.Purge()
		return stored.clone()
	}

	for a := range incoming.Aliases {
		existing.Aliases[a] = struct{}{}
	}
	for provider, raw := range incoming.ExternalIDs {
		if _, taken := r.extIndex[extKey(provider, raw)]; !taken {
			existing.ExternalIDs[provider] = raw
		}
	}
	for k, v := range incoming.Attributes {
		if _, exists := existing.Attributes[k]; !exists {
			existing.Attributes[k] = v
		}
	}
	if incoming.Confidence > existing.Confidence {
		existing.Confidence = incoming.Confidence
	}
	existing.LastSeen = now

	r.reindexLocked(existing)
	r.cache.Purge()
	return existing.clone()
}

// reindexLocked refreshes the lookup indexes for an identity. Index entries
// are first-writer-wins so a raw (name, provider) pair resolves to at most
// one identity for the process lifetime.
func (r *Resolver) reindexLocked(id *Identity) {
	addNorm := func(name string) {
		for _, variant := range variants(Normalize(name)) {
			if _, taken := r.normIndex[variant]; !taken {
				r.normIndex[variant] = id.CanonicalName
			}
		}
	}

	addNorm(id.CanonicalName)
	for alias := range id.Aliases {
		if _, taken := r.aliasIndex[alias]; !taken {
			r.aliasIndex[alias] = id.CanonicalName
		}
		addNorm(alias)
	}
	for provider, raw := range id.ExternalIDs {
		key := extKey(provider, raw)
		if _, taken := r.extIndex[key]; !taken {
			r.extIndex[key] = id.CanonicalName
		}
	}
}

// Get returns the identity registered under a canonical name.
func (r *Resolver) Get(canonical string) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[canonical]
	if !ok {
		return nil, false
	}
	return id.clone(), true
}

// CanonicalNames returns all registered canonical names, sorted.
func (r *Resolver) CanonicalNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.identities))
	for canonical := range r.identities {
		out = append(out, canonical)
	}
	sort.Strings(out)
	return out
}
