package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConsentRepository durably records explicit opt-ins to external answering.
// A consent row must exist before the pipeline contacts any external
// provider for the query.
type ConsentRepository struct {
	db *sql.DB
}

func NewConsentRepository(db *sql.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

func (r *ConsentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082903)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS consent_events (
	id TEXT PRIMARY KEY,
	query_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_consent_events_query_id ON consent_events(query_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ConsentRepository) RecordConsent(ctx context.Context, queryID, providerID string) (time.Time, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO consent_events (id, query_id, provider_id, created_at)
VALUES ($1, $2, $3, $4)
`, uuid.NewString(), queryID, providerID, now)
	if err != nil {
		return time.Time{}, wrapTemporary("record consent", err)
	}
	return now, nil
}

// HasConsent returns the provider of the most recent consent event for the
// query, if any.
func (r *ConsentRepository) HasConsent(ctx context.Context, queryID string) (bool, string, error) {
	var providerID string
	err := r.db.QueryRowContext(ctx, `
SELECT provider_id FROM consent_events
WHERE query_id = $1
ORDER BY created_at DESC
LIMIT 1
`, queryID).Scan(&providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", wrapTemporary("check consent", err)
	}
	return true, providerID, nil
}
