package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
)

// DBTX is the pgx surface the store needs; *pgxpool.Pool satisfies it.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists credentials in PostgreSQL. Consume is a conditional
// UPDATE, so the row lock settles concurrent redemption at the database.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id           UUID PRIMARY KEY,
	identity_key BYTEA NOT NULL,
	nonce        TEXT NOT NULL,
	issued_at    TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	consumed     BOOLEAN NOT NULL DEFAULT FALSE,
	consumed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS credentials_identity_live_idx
	ON credentials (identity_key, expires_at) WHERE NOT consumed;
`

// Migrate creates the table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, credentialSchema); err != nil {
		return fmt.Errorf("migrate credentials: %w", err)
	}
	return nil
}

// Insert writes a credential, enforcing at most one live credential per
// identity. The advisory lock serializes same-identity inserts across
// instances, so the live check that follows sees any committed winner.
func (s *PostgresStore) Insert(ctx context.Context, cred *Credential) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, cred.IdentityKey.String()); err != nil {
		return fmt.Errorf("lock identity for issuance: %w", err)
	}

	var blocked bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credentials
			WHERE identity_key = $1 AND NOT consumed AND expires_at > $2
		)`,
		cred.IdentityKey.Bytes(), cred.IssuedAt,
	).Scan(&blocked)
	if err != nil {
		return fmt.Errorf("check live credential: %w", err)
	}
	if blocked {
		return sentinel.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credentials (id, identity_key, nonce, issued_at, expires_at, consumed, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(cred.ID),
		cred.IdentityKey.Bytes(),
		cred.Nonce,
		cred.IssuedAt,
		cred.ExpiresAt,
		cred.Consumed,
		cred.ConsumedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return tx.Commit(ctx)
}

const selectCredentialSQL = `
SELECT id, identity_key, nonce, issued_at, expires_at, consumed, consumed_at
FROM credentials `

func (s *PostgresStore) GetByID(ctx context.Context, id domain.CredentialID) (*Credential, error) {
	row := s.db.QueryRow(ctx, selectCredentialSQL+`WHERE id = $1`, uuid.UUID(id))
	return scanCredential(row)
}

func (s *PostgresStore) FindLive(ctx context.Context, key domain.IdentityKey, now time.Time) (*Credential, error) {
	row := s.db.QueryRow(ctx, selectCredentialSQL+`
		WHERE identity_key = $1 AND NOT consumed AND expires_at > $2
		ORDER BY expires_at DESC LIMIT 1`,
		key.Bytes(), now)
	return scanCredential(row)
}

// Consume flips the consumed flag with a conditional UPDATE. Concurrent
// callers race on the row lock; the losers match zero rows and the recheck
// below names the reason.
func (s *PostgresStore) Consume(ctx context.Context, id domain.CredentialID, now time.Time) (*Credential, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE credentials SET consumed = TRUE, consumed_at = $2
		WHERE id = $1 AND NOT consumed AND expires_at > $2
		RETURNING id, identity_key, nonce, issued_at, expires_at, consumed, consumed_at`,
		uuid.UUID(id), now)

	cred, err := scanCredential(row)
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	// No row matched: unknown, already consumed, or expired. Re-read to
	// report which; the flag itself cannot change back, so this read is safe.
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Consumed {
		return nil, sentinel.ErrAlreadyUsed
	}
	return nil, sentinel.ErrExpired
}

func (s *PostgresStore) HasConsumed(ctx context.Context, key domain.IdentityKey) (bool, error) {
	var consumed bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM credentials WHERE identity_key = $1 AND consumed)`,
		key.Bytes(),
	).Scan(&consumed)
	if err != nil {
		return false, fmt.Errorf("check consumed credential: %w", err)
	}
	return consumed, nil
}

func scanCredential(row pgx.Row) (*Credential, error) {
	var (
		id       uuid.UUID
		keyBytes []byte
		cred     Credential
	)
	err := row.Scan(&id, &keyBytes, &cred.Nonce, &cred.IssuedAt, &cred.ExpiresAt, &cred.Consumed, &cred.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	cred.ID = domain.CredentialID(id)
	cred.IdentityKey, err = domain.IdentityKeyFromBytes(keyBytes)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
