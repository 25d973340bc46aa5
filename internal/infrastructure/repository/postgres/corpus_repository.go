package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/core/terms"
)

// CorpusRepository is the Postgres realization of the corpus index. The query
// pipeline only reads; InsertEntries exists for the loader. Question search
// uses a precomputed term array, content search uses a generated tsvector, so
// the two strategies stay genuinely independent over the same table.
type CorpusRepository struct {
	db *sql.DB
}

func NewCorpusRepository(db *sql.DB) *CorpusRepository {
	return &CorpusRepository{db: db}
}

func (r *CorpusRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/loader startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS knowledge_entries (
	id TEXT PRIMARY KEY,
	source_document TEXT NOT NULL,
	category TEXT,
	offset_index INT NOT NULL,
	question TEXT,
	answer TEXT,
	content TEXT NOT NULL,
	question_terms TEXT[] NOT NULL DEFAULT '{}',
	search_vector TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english', coalesce(content, '') || ' ' || coalesce(answer, ''))
	) STORED,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (source_document, offset_index)
);

CREATE INDEX IF NOT EXISTS idx_knowledge_entries_question_terms ON knowledge_entries USING GIN (question_terms);
CREATE INDEX IF NOT EXISTS idx_knowledge_entries_search_vector ON knowledge_entries USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS idx_knowledge_entries_source ON knowledge_entries(source_document);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SearchQuestions scores entries by the share of query terms present in the
// precomputed question term array. Score is a term-overlap ratio in [0, 1].
func (r *CorpusRepository) SearchQuestions(ctx context.Context, queryTerms []string, limit int) ([]domain.CorpusHit, error) {
	if len(queryTerms) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
WITH q AS (SELECT string_to_array($1, ' ') AS terms)
SELECT e.id, e.source_document, COALESCE(e.category, ''), e.offset_index,
	COALESCE(e.question, ''), COALESCE(e.answer, ''), e.content,
	(SELECT count(*) FROM unnest(e.question_terms) t WHERE t = ANY(q.terms))::float8
		/ GREATEST(array_length(q.terms, 1), 1) AS overlap
FROM knowledge_entries e, q
WHERE e.question_terms && q.terms
ORDER BY overlap DESC, e.source_document, e.offset_index
LIMIT $2
`, strings.Join(queryTerms, " "), limit)
	if err != nil {
		return nil, wrapTemporary("search questions", err)
	}
	defer rows.Close()

	hits, err := scanHits(rows, queryTerms, matchQuestionTerms)
	if err != nil {
		return nil, fmt.Errorf("search questions: %w", err)
	}
	return hits, nil
}

// SearchContent ranks entries with Postgres full-text search over content and
// answer text. Score is ts_rank, unbounded and only meaningful within this
// strategy.
func (r *CorpusRepository) SearchContent(ctx context.Context, queryTerms []string, limit int) ([]domain.CorpusHit, error) {
	if len(queryTerms) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT e.id, e.source_document, COALESCE(e.category, ''), e.offset_index,
	COALESCE(e.question, ''), COALESCE(e.answer, ''), e.content,
	ts_rank(e.search_vector, query)::float8 AS rank
FROM knowledge_entries e, plainto_tsquery('english', $1) query
WHERE e.search_vector @@ query
ORDER BY rank DESC, e.source_document, e.offset_index
LIMIT $2
`, strings.Join(queryTerms, " "), limit)
	if err != nil {
		return nil, wrapTemporary("search content", err)
	}
	defer rows.Close()

	hits, err := scanHits(rows, queryTerms, matchContentTerms)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	return hits, nil
}

func (r *CorpusRepository) DocumentCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(DISTINCT source_document) FROM knowledge_entries`).Scan(&count)
	if err != nil {
		return 0, wrapTemporary("document count", err)
	}
	return count, nil
}

// InsertEntries writes loader output. Re-loading a document is a no-op per
// entry because identity is (source_document, offset_index).
func (r *CorpusRepository) InsertEntries(ctx context.Context, entries []domain.KnowledgeEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inserted := 0
	now := time.Now().UTC()
	for _, entry := range entries {
		res, err := tx.ExecContext(ctx, `
INSERT INTO knowledge_entries (id, source_document, category, offset_index, question, answer, content, question_terms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, string_to_array($8, ' '), $9)
ON CONFLICT (source_document, offset_index) DO NOTHING
`,
			entry.ID, entry.SourceDocument, nullable(entry.Category), entry.OffsetIndex,
			nullable(entry.Question), nullable(entry.Answer), entry.Content,
			strings.Join(terms.Extract(entry.Question), " "), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert entry %s/%d: %w", entry.SourceDocument, entry.OffsetIndex, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert tx: %w", err)
	}
	return inserted, nil
}

type termMatcher func(entry domain.KnowledgeEntry, queryTerms []string) []string

func scanHits(rows *sql.Rows, queryTerms []string, match termMatcher) ([]domain.CorpusHit, error) {
	out := make([]domain.CorpusHit, 0)
	for rows.Next() {
		var hit domain.CorpusHit
		err := rows.Scan(
			&hit.Entry.ID, &hit.Entry.SourceDocument, &hit.Entry.Category, &hit.Entry.OffsetIndex,
			&hit.Entry.Question, &hit.Entry.Answer, &hit.Entry.Content, &hit.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hit.MatchedTerms = match(hit.Entry, queryTerms)
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return out, nil
}

func matchQuestionTerms(entry domain.KnowledgeEntry, queryTerms []string) []string {
	return intersectTerms(terms.Extract(entry.Question), queryTerms)
}

func matchContentTerms(entry domain.KnowledgeEntry, queryTerms []string) []string {
	text := strings.ToLower(entry.Content + " " + entry.Answer)
	out := make([]string, 0, len(queryTerms))
	for _, t := range queryTerms {
		if strings.Contains(text, t) {
			out = append(out, t)
		}
	}
	return out
}

func intersectTerms(entryTerms, queryTerms []string) []string {
	set := make(map[string]bool, len(entryTerms))
	for _, t := range entryTerms {
		set[t] = true
	}
	out := make([]string, 0, len(queryTerms))
	for _, t := range queryTerms {
		if set[t] {
			out = append(out, t)
		}
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func wrapTemporary(operation string, err error) error {
	if err == nil {
		return nil
	}
	return domain.WrapError(domain.ErrTemporary, operation, err)
}
