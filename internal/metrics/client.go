package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/nthlayer/nthlayer/internal/logging"
)

// Querier is the metric-discovery surface the generators and the drift
// analyzer depend on. *Client is the production implementation.
type Querier interface {
	DiscoverForService(ctx context.Context, service string) (map[string]struct{}, error)
	LabelValues(ctx context.Context, label string) ([]string, error)
	RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) (*BudgetSeries, error)
}

// ClientConfig configures the metrics backend client.
type ClientConfig struct {
	// URL is the base URL of the PromQL-compatible backend.
	URL string
	// ServiceLabel is the label that identifies a service on its series.
	ServiceLabel string
	// QueryTimeout bounds each range query (default 30s).
	QueryTimeout time.Duration
	// DiscoveryWindow is how far back Series discovery looks (default 1h).
	DiscoveryWindow time.Duration
	// CacheTTL bounds the per-service discovery cache (default 300s).
	CacheTTL time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.ServiceLabel == "" {
		c.ServiceLabel = "service"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.DiscoveryWindow == 0 {
		c.DiscoveryWindow = time.Hour
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// Client queries a Prometheus-compatible backend through the official v1 API.
type Client struct {
	api    v1.API
	config ClientConfig
	cache  *expirable.LRU[string, map[string]struct{}]
	logger *logging.Logger
}

// NewClient creates a metrics client with a pooled HTTP transport.
func NewClient(config ClientConfig) (*Client, error) {
	config = config.withDefaults()
	if config.URL == "" {
		return nil, &DiscoveryError{Op: "configure", Message: "backend URL must not be empty"}
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	promClient, err := api.NewClient(api.Config{
		Address:      config.URL,
		RoundTripper: transport,
	})
	if err != nil {
		return nil, &DiscoveryError{Op: "configure", Message: "create backend client", Err: err}
	}

	return &Client{
		api:    v1.NewAPI(promClient),
		config: config,
		cache:  expirable.NewLRU[string, map[string]struct{}](1024, nil, config.CacheTTL),
		logger: logging.GetLogger("metrics"),
	}, nil
}

// DiscoverForService enumerates the metric families that carry the service
// label for the given service. Results are cached per service with TTL.
func (c *Client) DiscoverForService(ctx context.Context, service string) (map[string]struct{}, error) {
	if cached, ok := c.cache.Get(service); ok {
		return cloneSet(cached), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	end := time.Now()
	start := end.Add(-c.config.DiscoveryWindow)
	matcher := fmt.Sprintf(`{%s=%q}`, c.config.ServiceLabel, service)

	sets, warnings, err := c.api.Series(ctx, []string{matcher}, start, end)
	if err != nil {
		return nil, &DiscoveryError{Op: "series", Message: fmt.Sprintf("discover metrics for %q", service), Err: err}
	}
	if len(warnings) > 0 {
		c.logger.Warn("series query for %q returned warnings: %v", service, warnings)
	}

	names := make(map[string]struct{}, len(sets))
	for _, set := range sets {
		if name, ok := set[model.MetricNameLabel]; ok {
			names[string(name)] = struct{}{}
		}
	}

	c.cache.Add(service, cloneSet(names))
	c.logger.Debug("discovered %d metric families for %s", len(names), service)
	return names, nil
}

// LabelValues returns the sorted values of a label across the backend.
func (c *Client) LabelValues(ctx context.Context, label string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	end := time.Now()
	start := end.Add(-c.config.DiscoveryWindow)

	values, warnings, err := c.api.LabelValues(ctx, label, nil, start, end)
	if err != nil {
		return nil, &DiscoveryError{Op: "label_values", Message: fmt.Sprintf("list values for label %q", label), Err: err}
	}
	if len(warnings) > 0 {
		c.logger.Warn("label values query for %q returned warnings: %v", label, warnings)
	}

	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	sort.Strings(out)
	return out, nil
}

// RangeQuery executes a PromQL range query and returns the first series as a
// BudgetSeries. A response that is not a matrix is a malformed-response
// error; an empty matrix yields an empty series.
func (c *Client) RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) (*BudgetSeries, error) {
	if !end.After(start) {
		return nil, &DiscoveryError{Op: "range_query", Message: "end must be after start"}
	}
	if step <= 0 {
		return nil, &DiscoveryError{Op: "range_query", Message: "step must be positive"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	value, warnings, err := c.api.QueryRange(ctx, expr, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, &DiscoveryError{Op: "range_query", Message: fmt.Sprintf("execute %q", expr), Err: err}
	}
	if len(warnings) > 0 {
		c.logger.Warn("range query returned warnings: %v", warnings)
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, &DiscoveryError{Op: "range_query",
			Message: fmt.Sprintf("unexpected result type %s", value.Type())}
	}

	series := &BudgetSeries{Step: step}
	if len(matrix) == 0 {
		return series, nil
	}

	for _, sample := range matrix[0].Values {
		series.Points = append(series.Points, Point{
			Timestamp: sample.Timestamp.Time(),
			Value:     float64(sample.Value),
		})
	}
	return series, nil
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
