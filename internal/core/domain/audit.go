package domain

import "time"

// SourceType distinguishes trusted corpus sources from external ones in the
// audit trail.
type SourceType string

const (
	SourceKnowledgeBase SourceType = "knowledge_base"
	SourceExternalAI    SourceType = "external_ai"
)

// SourceRef names one answer source used by a completed query.
type SourceRef struct {
	Name string     `json:"name"`
	Type SourceType `json:"type"`
}

// AuditRecord is the immutable trace of one completed query. Created exactly
// once per query (success or failure), never mutated or deleted by the
// pipeline. ErrorClass carries the internal error taxonomy even when the
// user-facing outcome reason is generic.
type AuditRecord struct {
	QueryID     string       `json:"query_id"`
	QueryText   string       `json:"query_text"`
	ChunksFound int          `json:"chunks_found"`
	SourcesUsed []SourceRef  `json:"sources_used"`
	Confidence  int          `json:"confidence"`
	Outcome     QueryOutcome `json:"outcome"`
	ErrorClass  string       `json:"error_class,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
