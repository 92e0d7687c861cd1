package deployevents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nthlayer/nthlayer/internal/logging"
)

// Schema is the deployment event table DDL. The unique constraint on
// (provider, external_event_id) is what makes ingestion idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS deployment_events (
	id                UUID PRIMARY KEY,
	provider          TEXT NOT NULL,
	external_event_id TEXT NOT NULL,
	service           TEXT NOT NULL,
	environment       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	revision          TEXT NOT NULL DEFAULT '',
	actor             TEXT NOT NULL DEFAULT '',
	occurred_at       TIMESTAMPTZ NOT NULL,
	received_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (provider, external_event_id)
);
CREATE INDEX IF NOT EXISTS deployment_events_service_occurred
	ON deployment_events (service, occurred_at);
`

const insertEvent = `
INSERT INTO deployment_events
	(id, provider, external_event_id, service, environment, status, revision, actor, occurred_at, received_at)
VALUES
	(:id, :provider, :external_event_id, :service, :environment, :status, :revision, :actor, :occurred_at, :received_at)
ON CONFLICT (provider, external_event_id) DO NOTHING`

const selectEventsByService = `
SELECT id, provider, external_event_id, service, environment, status, revision, actor, occurred_at, received_at
FROM deployment_events
WHERE service = $1
ORDER BY occurred_at DESC
LIMIT $2`

const deleteEventsBefore = `DELETE FROM deployment_events WHERE occurred_at < $1`

const selectEventsNear = `
SELECT id, provider, external_event_id, service, environment, status, revision, actor, occurred_at, received_at
FROM deployment_events
WHERE service = $1 AND occurred_at BETWEEN $2 AND $3
ORDER BY occurred_at DESC`

// Store persists deployment events in Postgres.
type Store struct {
	db     *sqlx.DB
	logger *logging.Logger
	now    func() time.Time
}

// Open connects to Postgres and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// NewStore wraps an existing connection; tests use this with sqlmock.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		logger: logging.GetLogger("deployevents.store"),
		now:    time.Now,
	}
}

func (s *Store) Close() error { return s.db.Close() }

// IsReady reports whether the database is reachable.
func (s *Store) IsReady() bool { return s.db.Ping() == nil }

// Insert persists an event. The bool reports whether a row was written:
// false means a row with the same (provider, external_event_id) already
// existed and the delivery is a duplicate.
func (s *Store) Insert(ctx context.Context, event *DeploymentEvent) (bool, error) {
	record := *event
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = s.now().UTC()
	}

	result, err := s.db.NamedExecContext(ctx, insertEvent, &record)
	if err != nil {
		return false, &WebhookError{Provider: record.Provider, Class: ErrPersistence, Message: "insert event", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, &WebhookError{Provider: record.Provider, Class: ErrPersistence, Message: "rows affected", Err: err}
	}

	if affected == 0 {
		s.logger.Debug("duplicate delivery %s/%s", record.Provider, record.ExternalEventID)
		return false, nil
	}
	*event = record
	return true, nil
}

// ListByService returns the service's most recent deployment events.
func (s *Store) ListByService(ctx context.Context, service string, limit int) ([]DeploymentEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []DeploymentEvent
	err := s.db.SelectContext(ctx, &events, selectEventsByService, service, limit)
	if err != nil {
		return nil, &WebhookError{Class: ErrPersistence, Message: "list events", Err: err}
	}
	return events, nil
}

// DeleteOlderThan removes events that occurred before the cutoff and returns
// the number of rows deleted. Run periodically to enforce retention.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, deleteEventsBefore, cutoff)
	if err != nil {
		return 0, &WebhookError{Class: ErrPersistence, Message: "delete events", Err: err}
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &WebhookError{Class: ErrPersistence, Message: "rows affected", Err: err}
	}
	if deleted > 0 {
		s.logger.Info("retention cleanup removed %d events before %s", deleted, cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// EventsNear returns the service's deployment events within the window
// around t, newest first.
func (s *Store) EventsNear(ctx context.Context, service string, t time.Time, window time.Duration) ([]DeploymentEvent, error) {
	var events []DeploymentEvent
	err := s.db.SelectContext(ctx, &events, selectEventsNear, service, t.Add(-window), t.Add(window))
	if err != nil {
		return nil, &WebhookError{Class: ErrPersistence, Message: "query events", Err: err}
	}
	return events, nil
}
