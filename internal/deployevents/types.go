// Package deployevents ingests deployment webhooks, verifies and normalizes
// them, persists them idempotently, and correlates deployments with SLO
// burn.
package deployevents

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrIgnored marks a verified, well-formed delivery the system deliberately
// does not persist (non-success completion, non-sync action). Handlers
// respond 2xx without writing.
var ErrIgnored = errors.New("event ignored")

// DeploymentEvent is the normalized form of a provider delivery.
type DeploymentEvent struct {
	ID              string    `db:"id"`
	Provider        string    `db:"provider"`
	ExternalEventID string    `db:"external_event_id"`
	Service         string    `db:"service"`
	Environment     string    `db:"environment"`
	Status          string    `db:"status"`
	Revision        string    `db:"revision"`
	Actor           string    `db:"actor"`
	OccurredAt      time.Time `db:"occurred_at"`
	ReceivedAt      time.Time `db:"received_at"`
}

// WebhookErrorKind partitions webhook failures onto HTTP status codes.
type WebhookErrorKind string

const (
	ErrSignature   WebhookErrorKind = "signature"   // 401
	ErrMalformed   WebhookErrorKind = "malformed"   // 400
	ErrPersistence WebhookErrorKind = "persistence" // 5xx, upstream retries
)

// WebhookError reports a webhook processing failure.
type WebhookError struct {
	Provider string
	Class    WebhookErrorKind
	Message  string
	Err      error
}

// Kind returns the stable error-kind label.
func (e *WebhookError) Kind() string { return "webhook" }

func (e *WebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook %s (%s): %s: %v", e.Provider, e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("webhook %s (%s): %s", e.Provider, e.Class, e.Message)
}

func (e *WebhookError) Unwrap() error { return e.Err }

// StatusCode maps the error class to the response status.
func (e *WebhookError) StatusCode() int {
	switch e.Class {
	case ErrSignature:
		return http.StatusUnauthorized
	case ErrMalformed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WebhookProvider verifies and parses one deployment system's deliveries.
type WebhookProvider interface {
	// Name is the path segment the provider is registered under.
	Name() string

	// Verify checks the delivery signature against the raw body. A nil
	// return means authentic.
	Verify(headers http.Header, body []byte) error

	// Parse normalizes the delivery. Returns ErrIgnored for deliveries
	// that are authentic but not of interest.
	Parse(headers http.Header, body []byte) (*DeploymentEvent, error)
}
