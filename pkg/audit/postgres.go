package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore appends audit records to Postgres. The table is insert-only;
// no update or delete statement exists in this package.
type PGStore struct {
	pool *pgxpool.Pool
}

// Schema for the audit table. Deployments run this via their migration
// tooling; EnsureSchema applies it directly for development setups.
const pgSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id         UUID PRIMARY KEY,
	kind       TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	detail     JSONB,
	at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_records_user_at_idx ON audit_records (user_id, at);
CREATE INDEX IF NOT EXISTS audit_records_kind_at_idx ON audit_records (kind, at);
`

// NewPGStore creates a store over a connection pool and verifies
// connectivity.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// EnsureSchema creates the audit table and indexes if missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

// Append inserts the record.
func (s *PGStore) Append(ctx context.Context, rec Record) error {
	var detail []byte
	if rec.Detail != nil {
		var err error
		detail, err = json.Marshal(rec.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_records (id, kind, user_id, subject_id, detail, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, string(rec.Kind), rec.UserID, rec.SubjectID, detail, rec.At)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
