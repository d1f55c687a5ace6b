package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"medigate/pkg/domain"
)

// PostgresStore persists audit events for long-retention queries.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool, useful for tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the audit table when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id          UUID PRIMARY KEY,
			category    TEXT        NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			subject_id  TEXT        NOT NULL DEFAULT '',
			provider_id TEXT        NOT NULL DEFAULT '',
			attempt_id  TEXT        NOT NULL DEFAULT '',
			action      TEXT        NOT NULL,
			outcome     TEXT        NOT NULL DEFAULT '',
			reason      TEXT        NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS audit_events_subject_idx
			ON audit_events (subject_id, occurred_at);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate audit_events: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events
			(id, category, occurred_at, subject_id, provider_id, attempt_id, action, outcome, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		event.SubjectID.String(),
		event.ProviderID.String(),
		event.AttemptID.String(),
		event.Action,
		event.Outcome,
		event.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID domain.SubjectID) ([]Event, error) {
	query := `
		SELECT category, occurred_at, subject_id, provider_id, attempt_id, action, outcome, reason
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY occurred_at
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var category, subject, provider, attempt string
		if err := rows.Scan(&category, &event.Timestamp, &subject, &provider, &attempt,
			&event.Action, &event.Outcome, &event.Reason); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = EventCategory(category)
		event.SubjectID = domain.SubjectID(subject)
		event.ProviderID = domain.ProviderID(provider)
		event.AttemptID = domain.AttemptID(attempt)
		events = append(events, event)
	}
	return events, rows.Err()
}
