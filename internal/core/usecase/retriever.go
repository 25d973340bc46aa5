package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/core/ports"
	"github.com/velumhealth/grounded-query/internal/core/terms"
)

const defaultCandidateLimit = 15

// Retriever runs independent search strategies against the corpus index and
// merges their results into one ranked, deduplicated candidate list.
type Retriever struct {
	corpus ports.CorpusIndex
	logger *slog.Logger
}

func NewRetriever(corpus ports.CorpusIndex, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{corpus: corpus, logger: logger}
}

type strategyResult struct {
	name string
	hits []domain.CorpusHit
	err  error
}

// Retrieve returns up to limit candidates for queryText plus the number of
// distinct source documents searched. Strategies run concurrently; a failing
// strategy degrades gracefully and only an all-strategy failure is an error.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, limit int) ([]domain.RetrievalCandidate, int, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query text is empty"))
	}
	if limit <= 0 {
		limit = defaultCandidateLimit
	}

	queryTerms := terms.Extract(queryText)
	documentsSearched := r.documentCount(ctx)
	if len(queryTerms) == 0 {
		return nil, documentsSearched, nil
	}

	// Per-strategy fetch size leaves headroom for the merge to drop
	// duplicates without starving the final limit.
	strategyLimit := limit * 2

	results := make([]strategyResult, 2)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hits, err := r.corpus.SearchQuestions(groupCtx, queryTerms, strategyLimit)
		results[0] = strategyResult{name: "question_overlap", hits: hits, err: err}
		return nil
	})
	group.Go(func() error {
		hits, err := r.corpus.SearchContent(groupCtx, queryTerms, strategyLimit)
		results[1] = strategyResult{name: "content_fulltext", hits: hits, err: err}
		return nil
	})
	_ = group.Wait()

	succeeded := 0
	var lastErr error
	for _, res := range results {
		if res.err != nil {
			lastErr = res.err
			r.logger.Warn("retrieval_strategy_failed", "strategy", res.name, "error", res.err)
			continue
		}
		succeeded++
	}
	if succeeded == 0 {
		return nil, documentsSearched, domain.WrapError(domain.ErrTemporary, "retrieve",
			fmt.Errorf("all retrieval strategies failed: %w", lastErr))
	}

	merged := mergeStrategyHits(results)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, documentsSearched, nil
}

func (r *Retriever) documentCount(ctx context.Context) int {
	count, err := r.corpus.DocumentCount(ctx)
	if err != nil {
		r.logger.Warn("document_count_unavailable", "error", err)
		return 0
	}
	return count
}

// mergeStrategyHits normalizes scores within each strategy, merges by entry id
// keeping the maximum normalized score, and sorts descending with
// deterministic tie-breaks. An entry matched by several strategies appears
// exactly once; double-counting would corrupt the coverage metric downstream.
func mergeStrategyHits(results []strategyResult) []domain.RetrievalCandidate {
	acc := make(map[string]domain.RetrievalCandidate)

	for _, res := range results {
		if res.err != nil || len(res.hits) == 0 {
			continue
		}

		maxScore := 0.0
		for _, hit := range res.hits {
			if hit.Score > maxScore {
				maxScore = hit.Score
			}
		}

		for _, hit := range res.hits {
			normalized := 0.0
			if maxScore > 0 {
				normalized = hit.Score / maxScore
			}

			existing, ok := acc[hit.Entry.ID]
			if !ok {
				acc[hit.Entry.ID] = domain.RetrievalCandidate{
					Entry:          hit.Entry,
					RelevanceScore: normalized,
					MatchedTerms:   hit.MatchedTerms,
				}
				continue
			}
			existing.MatchedTerms = unionTerms(existing.MatchedTerms, hit.MatchedTerms)
			if normalized > existing.RelevanceScore {
				existing.RelevanceScore = normalized
			}
			acc[hit.Entry.ID] = existing
		}
	}

	out := make([]domain.RetrievalCandidate, 0, len(acc))
	for _, candidate := range acc {
		out = append(out, candidate)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		if out[i].Entry.SourceDocument != out[j].Entry.SourceDocument {
			return out[i].Entry.SourceDocument < out[j].Entry.SourceDocument
		}
		if out[i].Entry.OffsetIndex != out[j].Entry.OffsetIndex {
			return out[i].Entry.OffsetIndex < out[j].Entry.OffsetIndex
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})

	return out
}

func unionTerms(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
