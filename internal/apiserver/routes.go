package apiserver

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nthlayer/nthlayer/internal/deployevents"
)

const webhookPathPrefix = "/webhooks/deployments/"

// maxWebhookBody bounds delivery payload size. GitHub caps payloads at 25MB;
// deployment_status events are far smaller.
const maxWebhookBody = 1 << 20

var (
	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nthlayer_webhook_deliveries_total",
		Help: "Webhook deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})

	webhookOverloadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nthlayer_webhook_overload_total",
		Help: "Deliveries shed with 503 because the in-flight cap was reached.",
	})

	webhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nthlayer_webhook_duration_seconds",
		Help:    "Webhook delivery handling latency by provider.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

// registerHandlers registers all HTTP handlers
func (s *Server) registerHandlers() {
	s.router.HandleFunc(webhookPathPrefix, s.withMethod(http.MethodPost, s.withInFlightCap(s.handleWebhook)))
	s.router.Handle("/metrics", promhttp.Handler())
	s.registerHealthEndpoints()
}

// registerHealthEndpoints registers health and readiness check endpoints
func (s *Server) registerHealthEndpoints() {
	s.router.HandleFunc("/healthz", s.handleHealth)
	s.router.HandleFunc("/readyz", s.handleReady)
}

// handleWebhook dispatches POST /webhooks/deployments/{provider} to the
// ingestor. Duplicates and ignored deliveries still get 2xx so senders do
// not retry them.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.Trim(strings.TrimPrefix(r.URL.Path, webhookPathPrefix), "/")
	if provider == "" || strings.Contains(provider, "/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "webhook provider required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "read body")
		return
	}
	if len(body) > maxWebhookBody {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "delivery exceeds size limit")
		return
	}

	timer := prometheus.NewTimer(webhookDuration.WithLabelValues(provider))
	result, err := s.ingestor.Ingest(r.Context(), provider, r.Header, body)
	timer.ObserveDuration()
	if err != nil {
		var werr *deployevents.WebhookError
		if errors.As(err, &werr) {
			s.logger.Warn("delivery rejected for %s: %v", provider, err)
			webhookDeliveriesTotal.WithLabelValues(provider, string(werr.Class)).Inc()
			writeError(w, werr.StatusCode(), strings.ToUpper(string(werr.Class)), werr.Message)
			return
		}
		s.logger.Error("delivery failed for %s: %v", provider, err)
		webhookDeliveriesTotal.WithLabelValues(provider, "error").Inc()
		writeError(w, http.StatusInternalServerError, "INTERNAL", "delivery failed")
		return
	}

	webhookDeliveriesTotal.WithLabelValues(provider, string(result.Outcome)).Inc()

	response := map[string]any{
		"outcome": result.Outcome,
	}
	if result.Event != nil {
		response["service"] = result.Event.Service
		response["event_id"] = result.Event.ExternalEventID
	}
	writeJSON(w, http.StatusOK, response)
}
