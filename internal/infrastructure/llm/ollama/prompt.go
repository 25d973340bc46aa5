package ollama

import (
	"fmt"
	"strings"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

func buildGroundedPrompt(question string, candidates []domain.RetrievalCandidate) string {
	var contextBuilder strings.Builder
	for idx, candidate := range candidates {
		entry := candidate.Entry
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] source=%s category=%s score=%.3f\n%s\n\n",
			idx+1,
			entry.SourceName(),
			entry.Category,
			candidate.RelevanceScore,
			entry.Content,
		))
	}

	return fmt.Sprintf(`Answer the patient question using only the context below.
After every claim, cite the source document it came from in the exact form [Source: <name>],
where <name> is the source= value of the context block you used.
Do not cite sources that are not in the context.
If the context does not contain the answer, say so directly and do not guess.

Question:
%s

Context:
%s
`, question, contextBuilder.String())
}

func buildExternalPrompt(question string) string {
	return fmt.Sprintf(`Answer the following question from your general knowledge.

Question:
%s
`, question)
}
