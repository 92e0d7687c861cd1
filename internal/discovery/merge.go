package discovery

import (
	"sort"

	"github.com/nthlayer/nthlayer/internal/identity"
)

// mergeKey groups raw edges that describe the same canonical dependency.
type mergeKey struct {
	source string
	target string
	kind   DepType
}

// mergeEdges resolves raw edges through the identity resolver and merges
// duplicates. The aggregated confidence is the maximum component confidence
// plus a corroboration bonus of 0.1 per additional provider, capped at +0.2
// and clamped to 1.0, so re-assertion by more providers never lowers it.
//
// Metadata merging sorts providers by name first so "later wins" is
// deterministic. The returned edges are sorted by (source, target, type) and
// the identity map contains every edge endpoint.
func mergeEdges(resolver *identity.Resolver, raw []Dependency) ([]ResolvedDependency, map[string]*identity.Identity) {
	groups := make(map[mergeKey][]Dependency)
	identities := make(map[string]*identity.Identity)

	for _, edge := range raw {
		source := resolver.RegisterFromDiscovery(edge.Source, edge.Provider, nil)
		target := resolver.RegisterFromDiscovery(edge.Target, edge.Provider, nil)
		if source == nil || target == nil {
			continue
		}
		identities[source.CanonicalName] = source
		identities[target.CanonicalName] = target

		key := mergeKey{source: source.CanonicalName, target: target.CanonicalName, kind: edge.Type}
		groups[key] = append(groups[key], edge)
	}

	keys := make([]mergeKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.source != b.source {
			return a.source < b.source
		}
		if a.target != b.target {
			return a.target < b.target
		}
		return a.kind < b.kind
	})

	edges := make([]ResolvedDependency, 0, len(keys))
	for _, key := range keys {
		group := groups[key]

		// Sort group members by provider name so metadata collisions
		// resolve deterministically (later provider wins).
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Provider < group[j].Provider
		})

		providerSet := make(map[string]struct{})
		maxConfidence := 0.0
		metadata := make(map[string]string)
		for _, member := range group {
			providerSet[member.Provider] = struct{}{}
			if member.Confidence > maxConfidence {
				maxConfidence = member.Confidence
			}
			for k, v := range member.Metadata {
				metadata[k] = v
			}
		}

		providers := make([]string, 0, len(providerSet))
		for p := range providerSet {
			providers = append(providers, p)
		}
		sort.Strings(providers)

		bonus := 0.1 * float64(len(providers)-1)
		if bonus > 0.2 {
			bonus = 0.2
		}
		confidence := clamp01(maxConfidence + bonus)

		edges = append(edges, ResolvedDependency{
			Source:     identities[key.source],
			Target:     identities[key.target],
			Type:       key.kind,
			Confidence: confidence,
			Providers:  providers,
			Metadata:   metadata,
		})
	}

	return edges, identities
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
