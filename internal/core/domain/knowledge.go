package domain

// KnowledgeEntry is one immutable unit of the curated corpus. Identity is
// (SourceDocument, OffsetIndex). Entries are created by the corpus loader and
// are read-only to the query pipeline.
type KnowledgeEntry struct {
	ID             string `json:"id"`
	SourceDocument string `json:"source_document"`
	Category       string `json:"category,omitempty"`
	OffsetIndex    int    `json:"offset_index"`
	Question       string `json:"question,omitempty"`
	Answer         string `json:"answer,omitempty"`
	Content        string `json:"content"`
}

// SourceName is the citation name a draft answer must use for this entry.
func (e KnowledgeEntry) SourceName() string {
	return e.SourceDocument
}

// CorpusHit is a raw, strategy-scored match from the corpus index. Scores are
// strategy-specific and must not be compared across strategies until the
// retriever normalizes them.
type CorpusHit struct {
	Entry        KnowledgeEntry
	Score        float64
	MatchedTerms []string
}

// RetrievalCandidate is a normalized, deduplicated candidate passage. It lives
// for the duration of one query execution and is never persisted.
type RetrievalCandidate struct {
	Entry          KnowledgeEntry `json:"entry"`
	RelevanceScore float64        `json:"relevance_score"`
	MatchedTerms   []string       `json:"matched_terms,omitempty"`
}
