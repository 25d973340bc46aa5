// Package terms extracts the significant search terms of a piece of text.
// The same extraction runs at query time and at corpus load time so that the
// precomputed question-term index and the retriever agree on tokenization.
package terms

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true,
	"shall": true, "not": true, "but": true, "then": true, "than": true,
	"into": true, "with": true, "about": true, "out": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "what": true,
	"which": true, "who": true, "whom": true, "how": true, "when": true,
	"where": true, "why": true, "you": true, "your": true, "our": true,
	"they": true, "them": true, "their": true, "she": true, "her": true,
	"him": true, "his": true, "from": true, "any": true, "all": true,
	"there": true, "here": true, "also": true, "use": true, "used": true,
}

// Extract returns the unique lowercase significant terms of text in order of
// first appearance. Stop-words and tokens of two characters or fewer are
// dropped.
func Extract(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Overlap returns the share of query terms present in the candidate term set,
// in [0, 1].
func Overlap(query, candidate []string) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	set := make(map[string]bool, len(candidate))
	for _, t := range candidate {
		set[t] = true
	}
	matches := 0
	for _, t := range query {
		if set[t] {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}
