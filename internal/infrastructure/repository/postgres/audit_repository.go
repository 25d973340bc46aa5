package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

// AuditRepository is the append-only audit log. There is deliberately no
// update or delete method; administrative purges happen outside this core.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082902)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS audit_records (
	query_id TEXT PRIMARY KEY,
	query_text TEXT NOT NULL,
	chunks_found INT NOT NULL,
	sources_used JSONB NOT NULL DEFAULT '[]'::jsonb,
	confidence INT NOT NULL,
	outcome TEXT NOT NULL,
	outcome_detail JSONB NOT NULL DEFAULT '{}'::jsonb,
	error_class TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_records_created_at ON audit_records(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_records_outcome ON audit_records(outcome);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Append writes one audit record. Idempotent per query id: a retry after a
// partially failed write cannot produce a duplicate.
func (r *AuditRepository) Append(ctx context.Context, record domain.AuditRecord) error {
	sourcesJSON, err := json.Marshal(record.SourcesUsed)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	detailJSON, err := json.Marshal(map[string]string{
		"reason":          record.Outcome.Reason,
		"disclosure_text": record.Outcome.DisclosureText,
	})
	if err != nil {
		return fmt.Errorf("marshal outcome detail: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO audit_records (query_id, query_text, chunks_found, sources_used, confidence, outcome, outcome_detail, error_class, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (query_id) DO NOTHING
`,
		record.QueryID, record.QueryText, record.ChunksFound, sourcesJSON,
		record.Confidence, string(record.Outcome.Kind), detailJSON,
		nullable(record.ErrorClass), record.CreatedAt,
	)
	if err != nil {
		return wrapTemporary("append audit record", err)
	}
	return nil
}
