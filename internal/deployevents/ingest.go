package deployevents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/nthlayer/nthlayer/internal/identity"
	"github.com/nthlayer/nthlayer/internal/logging"
)

// Outcome says what happened to a delivery.
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// IngestResult is the structured outcome of one delivery.
type IngestResult struct {
	Outcome Outcome
	Event   *DeploymentEvent
}

// EventWriter is the slice of the store the ingestor needs.
type EventWriter interface {
	Insert(ctx context.Context, event *DeploymentEvent) (bool, error)
}

// Ingestor dispatches deliveries to registered webhook providers, resolves
// the event's service name to its canonical identity, and persists.
type Ingestor struct {
	mu        sync.RWMutex
	providers map[string]WebhookProvider
	store     EventWriter
	resolver  *identity.Resolver
	logger    *logging.Logger
}

// NewIngestor creates an ingestor. The resolver may be nil; events then keep
// their provider-side service names.
func NewIngestor(store EventWriter, resolver *identity.Resolver) *Ingestor {
	return &Ingestor{
		providers: make(map[string]WebhookProvider),
		store:     store,
		resolver:  resolver,
		logger:    logging.GetLogger("deployevents"),
	}
}

// Register adds a provider under its name. Registering a duplicate name is a
// caller bug.
func (i *Ingestor) Register(provider WebhookProvider) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	name := provider.Name()
	if _, dup := i.providers[name]; dup {
		return fmt.Errorf("webhook provider %q already registered", name)
	}
	i.providers[name] = provider
	return nil
}

// Reconfigure atomically replaces the provider set. Used by config hot
// reload when webhook secrets or providers change.
func (i *Ingestor) Reconfigure(providers []WebhookProvider) {
	next := make(map[string]WebhookProvider, len(providers))
	for _, p := range providers {
		next[p.Name()] = p
	}
	i.mu.Lock()
	i.providers = next
	i.mu.Unlock()
	i.logger.Info("webhook providers reconfigured: %v", i.Providers())
}

// Providers returns the registered provider names, sorted.
func (i *Ingestor) Providers() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]string, 0, len(i.providers))
	for name := range i.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Ingest verifies, parses, and persists one delivery. Ignored deliveries
// return OutcomeIgnored with a nil error; duplicates return
// OutcomeDuplicate. Verification and parse failures return a WebhookError.
func (i *Ingestor) Ingest(ctx context.Context, providerName string, headers http.Header, body []byte) (*IngestResult, error) {
	i.mu.RLock()
	provider, ok := i.providers[providerName]
	i.mu.RUnlock()
	if !ok {
		return nil, &WebhookError{
			Provider: providerName, Class: ErrMalformed,
			Message: "unknown webhook provider",
		}
	}

	if err := provider.Verify(headers, body); err != nil {
		return nil, err
	}

	event, err := provider.Parse(headers, body)
	if err != nil {
		if errors.Is(err, ErrIgnored) {
			return &IngestResult{Outcome: OutcomeIgnored}, nil
		}
		return nil, err
	}

	if i.resolver != nil {
		if id := i.resolver.RegisterFromDiscovery(event.Service, providerName, nil); id != nil {
			event.Service = id.CanonicalName
		}
	}

	persisted, err := i.store.Insert(ctx, event)
	if err != nil {
		return nil, err
	}
	if !persisted {
		return &IngestResult{Outcome: OutcomeDuplicate, Event: event}, nil
	}
	i.logger.Info("persisted deployment %s/%s for %s", event.Provider, event.ExternalEventID, event.Service)
	return &IngestResult{Outcome: OutcomePersisted, Event: event}, nil
}
