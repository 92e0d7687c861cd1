package deployevents

import (
	"crypto/hmac"
	"encoding/json"
	"net/http"
	"time"
)

// ArgoCDProvider handles Argo CD notification webhooks. Deliveries carry an
// HMAC-SHA256 hex digest in X-Argocd-Signature.
type ArgoCDProvider struct {
	secret []byte
}

func NewArgoCDProvider(secret string) *ArgoCDProvider {
	return &ArgoCDProvider{secret: []byte(secret)}
}

func (p *ArgoCDProvider) Name() string { return "argocd" }

func (p *ArgoCDProvider) Verify(headers http.Header, body []byte) error {
	signature := headers.Get("X-Argocd-Signature")
	if signature == "" {
		return &WebhookError{Provider: p.Name(), Class: ErrSignature, Message: "missing X-Argocd-Signature"}
	}
	if !hmac.Equal([]byte(signBody(p.secret, body)), []byte(signature)) {
		return &WebhookError{Provider: p.Name(), Class: ErrSignature, Message: "signature mismatch"}
	}
	return nil
}

type argocdPayload struct {
	Action      string    `json:"action"`
	ID          string    `json:"id"`
	Application string    `json:"application"`
	Environment string    `json:"environment"`
	Phase       string    `json:"phase"`
	Revision    string    `json:"revision"`
	Initiator   string    `json:"initiator"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Parse accepts completed sync operations; other actions and non-succeeded
// phases are ignored.
func (p *ArgoCDProvider) Parse(headers http.Header, body []byte) (*DeploymentEvent, error) {
	var payload argocdPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &WebhookError{Provider: p.Name(), Class: ErrMalformed, Message: "parse payload", Err: err}
	}
	if payload.Action != "sync" {
		return nil, ErrIgnored
	}
	if payload.Phase != "Succeeded" {
		return nil, ErrIgnored
	}
	if payload.ID == "" || payload.Application == "" {
		return nil, &WebhookError{Provider: p.Name(), Class: ErrMalformed, Message: "missing id or application"}
	}

	occurred := payload.FinishedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	return &DeploymentEvent{
		Provider:        p.Name(),
		ExternalEventID: payload.ID,
		Service:         payload.Application,
		Environment:     payload.Environment,
		Status:          "success",
		Revision:        payload.Revision,
		Actor:           payload.Initiator,
		OccurredAt:      occurred.UTC(),
	}, nil
}
