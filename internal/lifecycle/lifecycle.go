// Package lifecycle manages startup and shutdown ordering of long-running
// components (API server, config watcher, caches).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nthlayer/nthlayer/internal/logging"
)

// Component defines the lifecycle interface all managed components implement.
type Component interface {
	// Start initializes and starts the component. Must be safe to call with
	// a context that may already carry a deadline.
	Start(ctx context.Context) error

	// Stop gracefully stops the component within the context deadline.
	Stop(ctx context.Context) error

	// Name returns the human-readable component name used in logs.
	Name() string
}

// Manager starts components in registration order and stops them in reverse.
// Registration order is the dependency order: register dependencies first.
type Manager struct {
	components      []Component
	started         []Component
	shutdownTimeout time.Duration
	mu              sync.Mutex
	logger          *logging.Logger
}

// NewManager creates a lifecycle manager with a 30-second per-component
// shutdown grace period.
func NewManager() *Manager {
	return &Manager{
		shutdownTimeout: 30 * time.Second,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// Register adds a component. Returns an error for nil or unnamed components
// and for duplicate registrations.
func (m *Manager) Register(component Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if component == nil {
		return fmt.Errorf("cannot register nil component")
	}
	if component.Name() == "" {
		return fmt.Errorf("component must have a non-empty name")
	}
	for _, c := range m.components {
		if c == component {
			return fmt.Errorf("component %s is already registered", component.Name())
		}
	}

	m.components = append(m.components, component)
	return nil
}

// Start starts all registered components in order. If any component fails,
// previously started components are stopped in reverse order and the error
// is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = m.started[:0]
	for _, component := range m.components {
		m.logger.Info("Starting %s", component.Name())
		begin := time.Now()

		if err := component.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", component.Name(), err)
			m.rollback()
			return fmt.Errorf("initialization failed for %s: %w", component.Name(), err)
		}

		m.started = append(m.started, component)
		m.logger.Info("%s started (took %dms)", component.Name(), time.Since(begin).Milliseconds())
	}

	return nil
}

// rollback stops components started during a failed Start, in reverse order.
func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := component.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", component.Name(), err)
		}
		cancel()
	}
	m.started = m.started[:0]
}

// Stop stops all started components in reverse order. Each component gets its
// own deadline; errors are logged, not returned, so every component gets a
// chance to stop.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		m.logger.Info("Stopping %s", component.Name())

		componentCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := component.Stop(componentCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				m.logger.Warn("%s exceeded shutdown grace period", component.Name())
			} else {
				m.logger.Error("Error stopping %s: %v", component.Name(), err)
			}
		}
	}

	m.started = m.started[:0]
	m.logger.Info("All components stopped")
	return nil
}

// SetShutdownTimeout overrides the per-component shutdown grace period.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}
