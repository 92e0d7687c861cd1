// Package providers contains the dependency discovery adapters: consul,
// backstage, prometheus traffic, kubernetes, and cloud tags.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nthlayer/nthlayer/internal/discovery"
)

// newHTTPClient builds an http.Client with tuned connection pooling. Default
// transport allows only 2 idle conns per host which causes churn under
// fan-out.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
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
	return &http.Client{Transport: transport, Timeout: timeout}
}

// classifyStatus maps an HTTP status code to a provider error class.
func classifyStatus(code int) discovery.ErrorClass {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return discovery.ErrorPermanent
	case code >= 400 && code < 500:
		return discovery.ErrorPermanent
	case code >= 500:
		return discovery.ErrorTransient
	default:
		return discovery.ErrorMisconfig
	}
}

// restClient is the shared GET-and-decode path for HTTP-backed providers.
// Transient failures (network errors, 5xx) are retried with exponential
// backoff within the caller's deadline; permanent failures return
// immediately.
type restClient struct {
	provider string
	client   *http.Client
	token    string
}

func (c *restClient) getJSON(ctx context.Context, url string, out interface{}) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(&discovery.ProviderError{
				Provider: c.provider, Class: discovery.ErrorMisconfig,
				Message: "create request", Err: err,
			})
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &discovery.ProviderError{
				Provider: c.provider, Class: discovery.ErrorTransient,
				Message: "execute request", Err: err,
			}
		}
		defer resp.Body.Close()

		// Always read the body to completion for connection reuse.
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &discovery.ProviderError{
				Provider: c.provider, Class: discovery.ErrorTransient,
				Message: "read response body", Err: err,
			}
		}

		if resp.StatusCode != http.StatusOK {
			perr := &discovery.ProviderError{
				Provider: c.provider, Class: classifyStatus(resp.StatusCode),
				Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, 256)),
			}
			if perr.Class == discovery.ErrorTransient {
				return perr
			}
			return backoff.Permanent(perr)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(&discovery.ProviderError{
				Provider: c.provider, Class: discovery.ErrorPermanent,
				Message: "parse response", Err: err,
			})
		}
		return nil
	}, policy)
}

// probe measures a single GET round-trip for health checks.
func (c *restClient) probe(ctx context.Context, url string) discovery.Health {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return discovery.Health{Healthy: false, Message: err.Error()}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return discovery.Health{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	latency := time.Since(start).Milliseconds()
	if resp.StatusCode != http.StatusOK {
		return discovery.Health{
			Healthy: false, LatencyMS: latency,
			Message: fmt.Sprintf("status %d", resp.StatusCode),
		}
	}
	return discovery.Health{Healthy: true, Message: "ok", LatencyMS: latency}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
