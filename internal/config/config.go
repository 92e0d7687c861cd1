// Package config loads and validates the NthLayer configuration file and
// hot-reloads the discovery/ownership provider sections on change.
package config

import (
	"fmt"
	"time"

	"github.com/nthlayer/nthlayer/internal/identity"
	"github.com/nthlayer/nthlayer/internal/ownership"
	"github.com/nthlayer/nthlayer/internal/spec"
)

// File is the root of the YAML configuration file.
type File struct {
	Server    ServerConfig     `yaml:"server"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Identity  IdentityConfig   `yaml:"identity"`
	Discovery DiscoveryConfig  `yaml:"discovery"`
	Ownership OwnershipConfig  `yaml:"ownership"`
	Drift     spec.DriftConfig `yaml:"drift"`
	Events    EventsConfig     `yaml:"events"`
	Tracing   TracingConfig    `yaml:"tracing"`

	// CacheTTL bounds the resolver and discovery caches (default 300s).
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ServerConfig tunes the API server.
type ServerConfig struct {
	Port int `yaml:"port"`
	// MaxInFlight caps concurrent webhook deliveries (503 beyond it).
	MaxInFlight int `yaml:"max_in_flight"`
}

// MetricsConfig points at the PromQL-compatible backend.
type MetricsConfig struct {
	PrometheusURL string `yaml:"prometheus_url"`
}

// IdentityConfig tunes the identity resolver.
type IdentityConfig struct {
	FuzzyThreshold   float64           `yaml:"fuzzy_threshold"`
	ExplicitMappings map[string]string `yaml:"explicit_mappings"`
	Correlation      CorrelationConfig `yaml:"correlation"`
}

// CorrelationConfig tunes attribute-based correlation.
type CorrelationConfig struct {
	StrongAttrs      []string `yaml:"strong_attrs"`
	WeakAttrs        []string `yaml:"weak_attrs"`
	StrongMatchCount int      `yaml:"strong_match_count"`
	WeakMatchCount   int      `yaml:"weak_match_count"`
}

// ProviderConfig is the shared shape of one discovery or ownership provider
// entry. Providers pick the fields they need; unknown fields for a provider
// are simply unused.
type ProviderConfig struct {
	Enabled    *bool  `yaml:"enabled"`
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`
	Datacenter string `yaml:"datacenter"`
	Namespace  string `yaml:"namespace"`
	Secret     string `yaml:"secret"`
}

// IsEnabled reports whether the provider participates. Providers present in
// the file default to enabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// DiscoveryConfig holds the dependency discovery provider set.
type DiscoveryConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// OwnershipConfig holds the ownership resolver tuning and its provider set.
type OwnershipConfig struct {
	ConfidenceThreshold float64                   `yaml:"confidence_threshold"`
	DefaultOwner        string                    `yaml:"default_owner"`
	Providers           map[string]ProviderConfig `yaml:"providers"`
}

// EventsConfig holds the deployment event store and webhook settings.
type EventsConfig struct {
	// DSN is the Postgres connection string; empty disables the store.
	DSN string `yaml:"dsn"`
	// Webhooks maps provider name to its shared signing secret.
	Webhooks map[string]ProviderConfig `yaml:"webhooks"`
}

// TracingConfig tunes OTLP trace export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// withDefaults fills zero values.
func (f *File) withDefaults() {
	if f.Server.Port == 0 {
		f.Server.Port = 8080
	}
	if f.Identity.FuzzyThreshold == 0 {
		f.Identity.FuzzyThreshold = 0.85
	}
	if f.CacheTTL == 0 {
		f.CacheTTL = 5 * time.Minute
	}
	if f.Ownership.ConfidenceThreshold == 0 {
		f.Ownership.ConfidenceThreshold = 0.5
	}
}

// Validate checks the configuration is usable.
func (f *File) Validate() error {
	if f.Server.Port < 1 || f.Server.Port > 65535 {
		return NewConfigError(fmt.Sprintf("server.port must be between 1 and 65535, got %d", f.Server.Port))
	}
	if f.Server.MaxInFlight < 0 {
		return NewConfigError("server.max_in_flight must not be negative")
	}
	if f.Identity.FuzzyThreshold < 0 || f.Identity.FuzzyThreshold > 1 {
		return NewConfigError("identity.fuzzy_threshold must be in [0,1]")
	}
	if f.Ownership.ConfidenceThreshold < 0 || f.Ownership.ConfidenceThreshold > 1 {
		return NewConfigError("ownership.confidence_threshold must be in [0,1]")
	}
	if f.CacheTTL < 0 {
		return NewConfigError("cache_ttl must not be negative")
	}
	if f.Tracing.Enabled && f.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}
	for name, p := range f.Discovery.Providers {
		if p.IsEnabled() && p.URL == "" {
			return NewConfigError(fmt.Sprintf("discovery.providers.%s.url must be set", name))
		}
	}
	return nil
}

// IdentityOptions materializes identity resolver options from the file.
func (f *File) IdentityOptions() identity.Options {
	return identity.Options{
		FuzzyThreshold:   f.Identity.FuzzyThreshold,
		CacheTTL:         f.CacheTTL,
		ExplicitMappings: f.Identity.ExplicitMappings,
		StrongAttributes: f.Identity.Correlation.StrongAttrs,
		WeakAttributes:   f.Identity.Correlation.WeakAttrs,
		StrongMatchCount: f.Identity.Correlation.StrongMatchCount,
		WeakMatchCount:   f.Identity.Correlation.WeakMatchCount,
	}
}

// OwnershipResolverConfig materializes the ownership resolver tuning.
func (f *File) OwnershipResolverConfig() ownership.ResolverConfig {
	return ownership.ResolverConfig{
		ConfidenceThreshold: f.Ownership.ConfidenceThreshold,
		DefaultOwner:        f.Ownership.DefaultOwner,
		CacheTTL:            f.CacheTTL,
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Kind returns the stable error-kind label.
func (e *ConfigError) Kind() string { return "config" }

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
