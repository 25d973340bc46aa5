package ports

import (
	"context"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

// QueryPipeline is the inbound contract for the knowledge-grounded query flow.
// SubmitQuery starts a state machine; the caller polls GetQueryState and
// triggers the consent-gated transitions explicitly.
type QueryPipeline interface {
	SubmitQuery(ctx context.Context, text string) (string, error)
	GetQueryState(ctx context.Context, queryID string) (*domain.QuerySnapshot, error)
	ConsentToExternal(ctx context.Context, queryID, providerID string) error
	CancelQuery(ctx context.Context, queryID string) error
}

// CorpusLoader is the inbound contract for corpus ingestion tooling. Entries
// are immutable once indexed; loading the same (source, offset) twice is a
// no-op.
type CorpusLoader interface {
	LoadFile(ctx context.Context, path, category string) (int, error)
}
