package audit

import (
	"context"
	"database/sql"
	"fmt"

	// The audit trail predates the pgx migration and still runs on
	// database/sql with the pq driver.
	_ "github.com/lib/pq"
)

// PostgresStore persists the audit trail in PostgreSQL via database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on an existing handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore opens a pq connection and wraps it.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id            UUID PRIMARY KEY,
	action        TEXT NOT NULL,
	identity_key  TEXT NOT NULL DEFAULT '',
	credential_id TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL DEFAULT '',
	detail        TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	client_ip     TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	occurred_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_identity_idx
	ON audit_events (identity_key, occurred_at);
`

// Migrate creates the table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("migrate audit_events: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, action, identity_key, credential_id, outcome,
			detail, request_id, client_ip, user_agent, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, string(event.Action), event.IdentityKey, event.CredentialID,
		event.Outcome, event.Detail, event.RequestID, event.ClientIP,
		event.UserAgent, event.At,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByIdentity(ctx context.Context, identityKey string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, identity_key, credential_id, outcome,
			detail, request_id, client_ip, user_agent, occurred_at
		FROM audit_events
		WHERE identity_key = $1
		ORDER BY occurred_at ASC`, identityKey)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var action string
		if err := rows.Scan(
			&e.ID, &action, &e.IdentityKey, &e.CredentialID, &e.Outcome,
			&e.Detail, &e.RequestID, &e.ClientIP, &e.UserAgent, &e.At,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = Action(action)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events rows: %w", err)
	}
	return out, nil
}

// Close releases the underlying handle.
func (s *PostgresStore) Close() error { return s.db.Close() }
