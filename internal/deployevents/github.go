package deployevents

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// GitHubProvider handles GitHub deployment_status webhooks. Deliveries are
// authenticated with HMAC-SHA256 over the raw body (X-Hub-Signature-256).
type GitHubProvider struct {
	secret []byte
}

func NewGitHubProvider(secret string) *GitHubProvider {
	return &GitHubProvider{secret: []byte(secret)}
}

func (p *GitHubProvider) Name() string { return "github" }

// Verify compares the delivery signature in constant time.
func (p *GitHubProvider) Verify(headers http.Header, body []byte) error {
	signature := headers.Get("X-Hub-Signature-256")
	if signature == "" {
		return &WebhookError{Provider: p.Name(), Class: ErrSignature, Message: "missing X-Hub-Signature-256"}
	}
	expected, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return &WebhookError{Provider: p.Name(), Class: ErrSignature, Message: "malformed signature header"}
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return &WebhookError{Provider: p.Name(), Class: ErrSignature, Message: "signature mismatch"}
	}
	return nil
}

type githubDeploymentStatusPayload struct {
	Action           string `json:"action"`
	DeploymentStatus struct {
		ID          int64     `json:"id"`
		State       string    `json:"state"`
		Environment string    `json:"environment"`
		CreatedAt   time.Time `json:"created_at"`
	} `json:"deployment_status"`
	Deployment struct {
		SHA string `json:"sha"`
	} `json:"deployment"`
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// Parse accepts deployment_status events whose state is success; everything
// else (pings, pushes, failed deploys) is ignored.
func (p *GitHubProvider) Parse(headers http.Header, body []byte) (*DeploymentEvent, error) {
	if event := headers.Get("X-GitHub-Event"); event != "deployment_status" {
		return nil, ErrIgnored
	}

	var payload githubDeploymentStatusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &WebhookError{Provider: p.Name(), Class: ErrMalformed, Message: "parse payload", Err: err}
	}
	if payload.DeploymentStatus.State != "success" {
		return nil, ErrIgnored
	}
	if payload.Repository.Name == "" || payload.DeploymentStatus.ID == 0 {
		return nil, &WebhookError{Provider: p.Name(), Class: ErrMalformed, Message: "missing repository or deployment id"}
	}

	occurred := payload.DeploymentStatus.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	return &DeploymentEvent{
		Provider:        p.Name(),
		ExternalEventID: strconv.FormatInt(payload.DeploymentStatus.ID, 10),
		Service:         payload.Repository.Name,
		Environment:     payload.DeploymentStatus.Environment,
		Status:          "success",
		Revision:        payload.Deployment.SHA,
		Actor:           payload.Sender.Login,
		OccurredAt:      occurred.UTC(),
	}, nil
}

// signBody computes the hex HMAC-SHA256 of a raw body.
func signBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
