package deployevents

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func githubHeaders(secret string, body []byte) http.Header {
	h := http.Header{}
	h.Set("X-GitHub-Event", "deployment_status")
	h.Set("X-Hub-Signature-256", "sha256="+signBody([]byte(secret), body))
	return h
}

const githubSuccessBody = `{
	"action": "created",
	"deployment_status": {"id": 42, "state": "success", "environment": "production", "created_at": "2026-08-24T10:00:00Z"},
	"deployment": {"sha": "abc1234"},
	"repository": {"name": "checkout"},
	"sender": {"login": "alex"}
}`

func TestGitHubProvider_VerifyAndParse(t *testing.T) {
	p := NewGitHubProvider("topsecret")
	body := []byte(githubSuccessBody)

	require.NoError(t, p.Verify(githubHeaders("topsecret", body), body))

	event, err := p.Parse(githubHeaders("topsecret", body), body)
	require.NoError(t, err)
	assert.Equal(t, "github", event.Provider)
	assert.Equal(t, "42", event.ExternalEventID)
	assert.Equal(t, "checkout", event.Service)
	assert.Equal(t, "production", event.Environment)
	assert.Equal(t, "abc1234", event.Revision)
	assert.Equal(t, "alex", event.Actor)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC), event.OccurredAt)
}

func TestGitHubProvider_SignatureMismatch(t *testing.T) {
	p := NewGitHubProvider("topsecret")
	body := []byte(githubSuccessBody)

	err := p.Verify(githubHeaders("wrongsecret", body), body)
	require.Error(t, err)
	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ErrSignature, werr.Class)
	assert.Equal(t, http.StatusUnauthorized, werr.StatusCode())

	// Missing header is also a signature failure.
	err = p.Verify(http.Header{}, body)
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ErrSignature, werr.Class)
}

func TestGitHubProvider_IgnoredDeliveries(t *testing.T) {
	p := NewGitHubProvider("topsecret")

	// Non-success states are acknowledged but not persisted.
	failed := []byte(`{"deployment_status":{"id":7,"state":"failure"},"repository":{"name":"checkout"}}`)
	h := http.Header{}
	h.Set("X-GitHub-Event", "deployment_status")
	_, err := p.Parse(h, failed)
	assert.ErrorIs(t, err, ErrIgnored)

	// Unrelated event types are ignored outright.
	h2 := http.Header{}
	h2.Set("X-GitHub-Event", "push")
	_, err = p.Parse(h2, []byte(`{}`))
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestGitHubProvider_Malformed(t *testing.T) {
	p := NewGitHubProvider("topsecret")
	h := http.Header{}
	h.Set("X-GitHub-Event", "deployment_status")

	_, err := p.Parse(h, []byte(`{not json`))
	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ErrMalformed, werr.Class)
	assert.Equal(t, http.StatusBadRequest, werr.StatusCode())
}

func TestArgoCDProvider(t *testing.T) {
	p := NewArgoCDProvider("argosecret")
	body := []byte(`{"action":"sync","id":"op-123","application":"checkout","environment":"prod","phase":"Succeeded","revision":"def5678","initiator":"ci-bot","finished_at":"2026-08-24T11:00:00Z"}`)

	h := http.Header{}
	h.Set("X-Argocd-Signature", signBody([]byte("argosecret"), body))
	require.NoError(t, p.Verify(h, body))

	event, err := p.Parse(h, body)
	require.NoError(t, err)
	assert.Equal(t, "argocd", event.Provider)
	assert.Equal(t, "op-123", event.ExternalEventID)
	assert.Equal(t, "checkout", event.Service)

	// Failed syncs are ignored.
	failed := []byte(`{"action":"sync","id":"op-124","application":"checkout","phase":"Failed"}`)
	_, err = p.Parse(h, failed)
	assert.ErrorIs(t, err, ErrIgnored)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

func TestStore_InsertIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	event := &DeploymentEvent{
		Provider:        "github",
		ExternalEventID: "42",
		Service:         "checkout",
		Status:          "success",
		OccurredAt:      time.Now().UTC(),
	}

	// First delivery inserts a row.
	mock.ExpectExec("INSERT INTO deployment_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	persisted, err := store.Insert(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, persisted)
	assert.NotEmpty(t, event.ID)

	// Second delivery conflicts and affects zero rows.
	mock.ExpectExec("INSERT INTO deployment_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	persisted, err = store.Insert(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, persisted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertFailureIsPersistenceError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO deployment_events").
		WillReturnError(fmt.Errorf("connection reset"))

	_, err := store.Insert(context.Background(), &DeploymentEvent{Provider: "github"})
	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ErrPersistence, werr.Class)
	assert.Equal(t, http.StatusInternalServerError, werr.StatusCode())
}

func TestStore_EventsNear(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "provider", "external_event_id", "service", "environment",
		"status", "revision", "actor", "occurred_at", "received_at",
	}).AddRow("id-1", "github", "42", "checkout", "production", "success", "abc", "alex", now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, provider, external_event_id")).
		WithArgs("checkout", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	events, err := store.EventsNear(context.Background(), "checkout", now, time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "42", events[0].ExternalEventID)
}

func TestStore_ListByService(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "provider", "external_event_id", "service", "environment",
		"status", "revision", "actor", "occurred_at", "received_at",
	}).
		AddRow("id-2", "github", "43", "checkout", "production", "success", "def", "alex", now, now).
		AddRow("id-1", "github", "42", "checkout", "production", "success", "abc", "alex", now.Add(-time.Hour), now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, provider, external_event_id")).
		WithArgs("checkout", 50).
		WillReturnRows(rows)

	events, err := store.ListByService(context.Background(), "checkout", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "43", events[0].ExternalEventID)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM deployment_events")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	deleted, err := store.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(17), deleted)
}

type fakeWriter struct {
	inserted map[string]bool
}

func (f *fakeWriter) Insert(ctx context.Context, event *DeploymentEvent) (bool, error) {
	key := event.Provider + "/" + event.ExternalEventID
	if f.inserted[key] {
		return false, nil
	}
	if f.inserted == nil {
		f.inserted = map[string]bool{}
	}
	f.inserted[key] = true
	return true, nil
}

func TestIngest_PersistedThenDuplicate(t *testing.T) {
	writer := &fakeWriter{inserted: map[string]bool{}}
	ingestor := NewIngestor(writer, nil)
	require.NoError(t, ingestor.Register(NewGitHubProvider("topsecret")))

	body := []byte(githubSuccessBody)
	headers := githubHeaders("topsecret", body)

	first, err := ingestor.Ingest(context.Background(), "github", headers, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, first.Outcome)

	second, err := ingestor.Ingest(context.Background(), "github", headers, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	assert.Len(t, writer.inserted, 1)
}

func TestIngest_UnknownProvider(t *testing.T) {
	ingestor := NewIngestor(&fakeWriter{}, nil)
	_, err := ingestor.Ingest(context.Background(), "nope", http.Header{}, nil)
	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ErrMalformed, werr.Class)
}

func TestIngest_Reconfigure(t *testing.T) {
	ingestor := NewIngestor(&fakeWriter{inserted: map[string]bool{}}, nil)
	require.NoError(t, ingestor.Register(NewGitHubProvider("old-secret")))

	ingestor.Reconfigure([]WebhookProvider{
		NewGitHubProvider("new-secret"),
		NewArgoCDProvider("argo-secret"),
	})
	assert.Equal(t, []string{"argocd", "github"}, ingestor.Providers())

	// Deliveries signed with the old secret are now rejected.
	body := []byte(githubSuccessBody)
	_, err := ingestor.Ingest(context.Background(), "github", githubHeaders("old-secret", body), body)
	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ErrSignature, werr.Class)

	result, err := ingestor.Ingest(context.Background(), "github", githubHeaders("new-secret", body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, result.Outcome)
}

func TestIngest_DuplicateRegistration(t *testing.T) {
	ingestor := NewIngestor(&fakeWriter{}, nil)
	require.NoError(t, ingestor.Register(NewGitHubProvider("a")))
	assert.Error(t, ingestor.Register(NewGitHubProvider("b")))
}

type fakeReader struct {
	events []DeploymentEvent
}

func (f *fakeReader) EventsNear(ctx context.Context, service string, t time.Time, window time.Duration) ([]DeploymentEvent, error) {
	return f.events, nil
}

func TestCorrelator_ScoresByProximity(t *testing.T) {
	onset := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{events: []DeploymentEvent{
		{ExternalEventID: "just-before", Service: "checkout", OccurredAt: onset.Add(-15 * time.Minute)},
		{ExternalEventID: "hours-before", Service: "checkout", OccurredAt: onset.Add(-5 * time.Hour)},
		{ExternalEventID: "after", Service: "checkout", OccurredAt: onset.Add(30 * time.Minute)},
	}}

	correlations, err := NewCorrelator(reader).Correlate(context.Background(), "checkout", onset)
	require.NoError(t, err)
	require.Len(t, correlations, 3)

	assert.Equal(t, "just-before", correlations[0].Event.ExternalEventID)
	assert.Greater(t, correlations[0].Score, 0.9)

	// The deployment after the onset is discounted below the one shortly
	// before it, despite being closer than the five-hour-old one.
	scores := map[string]float64{}
	for _, c := range correlations {
		scores[c.Event.ExternalEventID] = c.Score
	}
	assert.Less(t, scores["after"], scores["just-before"])
	for _, c := range correlations {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}
