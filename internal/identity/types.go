// Package identity unifies heterogeneous service names across providers into
// canonical identities. The resolver owns the process-wide identity store; it
// is passed explicitly to the discovery orchestrator rather than living in a
// package-level variable.
package identity

import (
	"sort"
	"time"
)

// Source records how an identity entered the store.
type Source string

const (
	SourceDeclared   Source = "declared"
	SourceDiscovered Source = "discovered"
)

// MatchType classifies how a resolution query matched an identity. The
// resolution ladder tries these in order; first hit wins.
type MatchType string

const (
	MatchOverride   MatchType = "override"
	MatchExternalID MatchType = "external_id"
	MatchExact      MatchType = "exact"
	MatchAlias      MatchType = "alias"
	MatchNormalized MatchType = "normalized"
	MatchFuzzy      MatchType = "fuzzy"
	MatchAttributes MatchType = "attributes"
	MatchUnresolved MatchType = "unresolved"
)

// Identity is the canonical identity of a service across all providers.
type Identity struct {
	CanonicalName string
	Aliases       map[string]struct{}
	// ExternalIDs maps provider name to the raw identifier the provider
	// uses for this service.
	ExternalIDs map[string]string
	Attributes  map[string]string
	Confidence  float64
	Source      Source
	FirstSeen   time.Time
	LastSeen    time.Time
}

// SortedAliases returns the aliases in sorted order for deterministic output.
func (i *Identity) SortedAliases() []string {
	out := make([]string, 0, len(i.Aliases))
	for a := range i.Aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// clone returns a deep copy so callers cannot mutate store state.
func (i *Identity) clone() *Identity {
	out := &Identity{
		CanonicalName: i.CanonicalName,
		Aliases:       make(map[string]struct{}, len(i.Aliases)),
		ExternalIDs:   make(map[string]string, len(i.ExternalIDs)),
		Attributes:    make(map[string]string, len(i.Attributes)),
		Confidence:    i.Confidence,
		Source:        i.Source,
		FirstSeen:     i.FirstSeen,
		LastSeen:      i.LastSeen,
	}
	for a := range i.Aliases {
		out.Aliases[a] = struct{}{}
	}
	for k, v := range i.ExternalIDs {
		out.ExternalIDs[k] = v
	}
	for k, v := range i.Attributes {
		out.Attributes[k] = v
	}
	return out
}

// Match is the result of a resolution query. An unresolved query yields
// Identity == nil and Confidence == 0; it is a value, not an error.
type Match struct {
	Query      string
	Provider   string
	Identity   *Identity
	MatchType  MatchType
	Confidence float64
	// Alternatives lists canonical names of other plausible candidates,
	// sorted, for operator disambiguation.
	Alternatives []string
}

// Resolved reports whether the query matched an identity.
func (m Match) Resolved() bool { return m.Identity != nil }
