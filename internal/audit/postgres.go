package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS tool_invocations (
	id            TEXT PRIMARY KEY,
	at            TIMESTAMPTZ NOT NULL,
	subject       TEXT NOT NULL,
	tenant_id     TEXT NOT NULL,
	domain        TEXT NOT NULL,
	operation_id  TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	detail        TEXT NOT NULL DEFAULT ''
)`

// PostgresRecorder persists audit entries to Postgres. Used when
// AUDIT_DATABASE_URL is configured.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder connects and ensures the audit table exists.
func NewPostgresRecorder(ctx context.Context, databaseURL string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure audit table: %w", err)
	}
	log.Info().Msg("postgres audit recorder ready")
	return &PostgresRecorder{pool: pool}, nil
}

// Record inserts one entry.
func (p *PostgresRecorder) Record(ctx context.Context, rec Record) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tool_invocations (id, at, subject, tenant_id, domain, operation_id, outcome, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.At, rec.Subject, rec.TenantID, string(rec.Domain), rec.OperationID, string(rec.Outcome), rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Prune deletes records older than the cutoff and returns how many were
// removed.
func (p *PostgresRecorder) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM tool_invocations WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune audit records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the connection pool.
func (p *PostgresRecorder) Close() { p.pool.Close() }
