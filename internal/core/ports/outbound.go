package ports

import (
	"context"
	"time"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

// CorpusIndex performs read-only searches against the curated knowledge
// corpus. Each method is one independent retrieval strategy; scores are
// strategy-specific and unnormalized.
type CorpusIndex interface {
	SearchQuestions(ctx context.Context, queryTerms []string, limit int) ([]domain.CorpusHit, error)
	SearchContent(ctx context.Context, queryTerms []string, limit int) ([]domain.CorpusHit, error)
	DocumentCount(ctx context.Context) (int, error)
}

// CorpusWriter inserts immutable knowledge entries. Used only by the loader;
// the query pipeline never writes to the corpus.
type CorpusWriter interface {
	InsertEntries(ctx context.Context, entries []domain.KnowledgeEntry) (int, error)
}

// AnswerGenerator produces natural-language text. It is an untrusted,
// possibly slow external service; the grounded mode receives the retrieved
// candidates as context, the external mode deliberately receives none.
type AnswerGenerator interface {
	GenerateGrounded(ctx context.Context, question string, candidates []domain.RetrievalCandidate) (string, error)
	GenerateExternal(ctx context.Context, question string) (string, error)
}

// ConsentGateway durably records explicit user opt-ins before the pipeline
// leaves the trusted corpus boundary.
type ConsentGateway interface {
	RecordConsent(ctx context.Context, queryID, providerID string) (time.Time, error)
	HasConsent(ctx context.Context, queryID string) (bool, string, error)
}

// AuditStore is the append-only audit log. Append must be idempotent per
// query id so that a retry after a partial failure cannot duplicate records.
// No update or delete operation exists.
type AuditStore interface {
	Append(ctx context.Context, record domain.AuditRecord) error
}

// EventPublisher announces completed queries to downstream consumers.
type EventPublisher interface {
	PublishQueryCompleted(ctx context.Context, event domain.QueryCompletedEvent) error
}

// SourceExtractor turns one source document into knowledge entries.
type SourceExtractor interface {
	Supports(path string) bool
	Extract(ctx context.Context, path, category string) ([]domain.KnowledgeEntry, error)
}
