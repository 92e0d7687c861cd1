// Package discovery fans out to dependency providers, resolves raw edges
// through the identity resolver, and merges them into a dependency graph.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/nthlayer/nthlayer/internal/identity"
)

// DepType classifies a dependency edge.
type DepType string

const (
	DepService   DepType = "service"
	DepDatastore DepType = "datastore"
	DepQueue     DepType = "queue"
	DepExternal  DepType = "external"
	DepInfra     DepType = "infra"
)

// Dependency is a raw edge reported by a single provider. Source and Target
// are raw provider-side names; identity resolution happens during merge.
type Dependency struct {
	Source     string
	Target     string
	Provider   string
	Type       DepType
	Confidence float64
	Metadata   map[string]string
}

// ResolvedDependency is a canonical merged edge.
type ResolvedDependency struct {
	Source     *identity.Identity
	Target     *identity.Identity
	Type       DepType
	Confidence float64
	// Providers lists the providers that reported this edge, sorted.
	Providers []string
	Metadata  map[string]string
}

// Graph is a merged snapshot of the dependency graph. Edge iteration order is
// sorted by (source, target, type); identity iteration uses sorted canonical
// names. Every edge endpoint is present in Identities.
type Graph struct {
	Identities    map[string]*identity.Identity
	Edges         []ResolvedDependency
	BuiltAt       time.Time
	ProvidersUsed []string
}

// Health is the result of a provider health check.
type Health struct {
	Healthy   bool
	Message   string
	LatencyMS int64
}

// ErrorClass partitions provider failures for retry decisions.
type ErrorClass string

const (
	ErrorTransient ErrorClass = "transient" // timeout, 5xx
	ErrorPermanent ErrorClass = "permanent" // auth, 4xx
	ErrorMisconfig ErrorClass = "misconfig" // unreachable, bad config
)

// ProviderError reports a discovery or ownership provider failure. The
// orchestrator absorbs these at its boundary: a failing provider contributes
// zero edges and never aborts its peers.
type ProviderError struct {
	Provider string
	Class    ErrorClass
	Message  string
	Err      error
}

// Kind returns the stable error-kind label.
func (e *ProviderError) Kind() string { return "provider" }

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s (%s): %s: %v", e.Provider, e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s (%s): %s", e.Provider, e.Class, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Provider is the capability set every discovery adapter implements. A
// provider that fails returns an error from the individual call; it must not
// panic or block beyond the caller-enforced deadline.
type Provider interface {
	// Name returns the stable provider identifier.
	Name() string

	// Discover returns raw edges where the service is source or target.
	Discover(ctx context.Context, service string) ([]Dependency, error)

	// ListServices returns raw identifiers known to this provider.
	ListServices(ctx context.Context) ([]string, error)

	// HealthCheck probes the provider backend.
	HealthCheck(ctx context.Context) Health

	// ServiceAttributes returns provider-side attributes for identity
	// correlation (repository URL, team, chat channel). May return nil.
	ServiceAttributes(ctx context.Context, service string) (map[string]string, error)
}

// DiscoverAll iterates ListServices serially and yields the union of edges.
// Providers with a cheaper bulk path implement their own.
func DiscoverAll(ctx context.Context, p Provider) ([]Dependency, error) {
	services, err := p.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	var out []Dependency
	for _, service := range services {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		edges, err := p.Discover(ctx, service)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}
