package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
)

// DBTX is the pgx surface the store needs; *pgxpool.Pool satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists vault records in PostgreSQL. Uniqueness is enforced
// by the primary key on identity_key and the unique index on id_fingerprint,
// so concurrent duplicate registrations are settled by the database.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const vaultSchema = `
CREATE TABLE IF NOT EXISTS vault_records (
	identity_key    BYTEA PRIMARY KEY,
	id_fingerprint  BYTEA NOT NULL UNIQUE,
	ciphertext      BYTEA NOT NULL,
	nonce           BYTEA NOT NULL,
	derived_address TEXT NOT NULL,
	ledger_tx_ref   TEXT,
	verified        BOOLEAN NOT NULL DEFAULT FALSE,
	verified_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS vault_records_unmirrored_idx
	ON vault_records (created_at) WHERE ledger_tx_ref IS NULL;
`

// Migrate creates the table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, vaultSchema); err != nil {
		return fmt.Errorf("migrate vault_records: %w", err)
	}
	return nil
}

const insertRecordSQL = `
INSERT INTO vault_records (
	identity_key, id_fingerprint, ciphertext, nonce,
	derived_address, ledger_tx_ref, verified, verified_at, created_at
) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.db.Exec(ctx, insertRecordSQL,
		rec.IdentityKey.Bytes(),
		rec.IDFingerprint.Bytes(),
		rec.Ciphertext,
		rec.Nonce,
		rec.DerivedAddress,
		rec.LedgerTxRef.String(),
		rec.Verified,
		rec.VerifiedAt,
		rec.CreatedAt,
	)
	if err != nil {
		return translateVaultError(err, "insert vault record")
	}
	return nil
}

const selectRecordSQL = `
SELECT identity_key, id_fingerprint, ciphertext, nonce,
	derived_address, COALESCE(ledger_tx_ref, ''), verified, verified_at, created_at
FROM vault_records `

func (s *PostgresStore) GetByKey(ctx context.Context, key domain.IdentityKey) (*Record, error) {
	row := s.db.QueryRow(ctx, selectRecordSQL+`WHERE identity_key = $1`, key.Bytes())
	return scanRecord(row)
}

func (s *PostgresStore) GetByIDFingerprint(ctx context.Context, fp domain.Fingerprint) (*Record, error) {
	row := s.db.QueryRow(ctx, selectRecordSQL+`WHERE id_fingerprint = $1`, fp.Bytes())
	return scanRecord(row)
}

// SetLedgerRef fills the ledger reference. The WHERE clause makes the update
// conditional: it only touches rows whose reference is absent or already
// equal, so reconciler retries are idempotent and a conflicting reference is
// never overwritten.
func (s *PostgresStore) SetLedgerRef(ctx context.Context, key domain.IdentityKey, ref domain.TxRef) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vault_records SET ledger_tx_ref = $2
		WHERE identity_key = $1 AND (ledger_tx_ref IS NULL OR ledger_tx_ref = $2)`,
		key.Bytes(), ref.String(),
	)
	if err != nil {
		return translateVaultError(err, "set ledger ref")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row updated: missing record or a different reference already set.
	var existing string
	err = s.db.QueryRow(ctx, `SELECT COALESCE(ledger_tx_ref, '') FROM vault_records WHERE identity_key = $1`, key.Bytes()).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return translateVaultError(err, "set ledger ref recheck")
	}
	return sentinel.ErrInvalidState
}

func (s *PostgresStore) MarkVerified(ctx context.Context, key domain.IdentityKey, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vault_records SET verified = TRUE, verified_at = $2
		WHERE identity_key = $1`,
		key.Bytes(), at,
	)
	if err != nil {
		return translateVaultError(err, "mark verified")
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListUnmirrored(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, selectRecordSQL+`
		WHERE ledger_tx_ref IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, translateVaultError(err, "list unmirrored")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, translateVaultError(err, "list unmirrored rows")
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		keyBytes []byte
		fpBytes  []byte
		rec      Record
		txRef    string
	)
	err := row.Scan(
		&keyBytes, &fpBytes, &rec.Ciphertext, &rec.Nonce,
		&rec.DerivedAddress, &txRef, &rec.Verified, &rec.VerifiedAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, translateVaultError(err, "scan vault record")
	}

	rec.IdentityKey, err = domain.IdentityKeyFromBytes(keyBytes)
	if err != nil {
		return nil, err
	}
	rec.IDFingerprint, err = domain.FingerprintFromBytes(fpBytes)
	if err != nil {
		return nil, err
	}
	rec.LedgerTxRef = domain.TxRef(txRef)
	return &rec, nil
}

func translateVaultError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return sentinel.ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}
