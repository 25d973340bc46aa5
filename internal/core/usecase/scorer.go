package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

// Scoring is a fixed, enumerable rule set on purpose: the pipeline's promise
// is auditable trust, and a reviewer must be able to reproduce every score by
// hand. No learned model is involved.
const (
	penaltyNoCitations    = 30
	penaltyUnknownSource  = 20
	penaltyHedgingPhrase  = 10
	penaltyFalseModesty   = 10
	falseModestyMinLength = 200
)

var citationPattern = regexp.MustCompile(`\[Source:\s*([^\]]+)\]`)

// hedgingPhrases are phrasings that signal claims not traceable to the
// retrieved context. Each distinct phrase found costs penaltyHedgingPhrase.
var hedgingPhrases = []string{
	"studies show",
	"research suggests",
	"generally speaking",
	"in my opinion",
	"it is believed",
	"it is widely known",
	"experts agree",
	"some say",
	"as everyone knows",
}

var noInformationMarkers = []string{
	"i don't have information",
	"i do not have information",
	"i don't have that information",
	"no information available",
}

// ScoreResult is the scorer's full verdict on one draft answer.
type ScoreResult struct {
	Confidence    int
	CitedSources  []string
	UncitedClaims []string
	Warnings      []string
}

// ScoreDraft computes the 0-100 confidence of draft against the retrieved
// context. Deterministic: same context and draft always yield the same score.
func ScoreDraft(qc domain.QueryContext, draft string) ScoreResult {
	res := ScoreResult{Confidence: 100}

	if len(qc.Candidates) == 0 {
		res.Confidence = 0
		res.Warnings = append(res.Warnings, "no matching candidates in knowledge base")
		return res
	}

	known := make(map[string]string, len(qc.Candidates))
	for _, c := range qc.Candidates {
		name := c.Entry.SourceName()
		known[strings.ToLower(name)] = name
	}

	citedSeen := make(map[string]bool)
	unknownSeen := make(map[string]bool)
	for _, match := range citationPattern.FindAllStringSubmatch(draft, -1) {
		name := strings.TrimSpace(match[1])
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if canonical, ok := known[key]; ok {
			if !citedSeen[key] {
				citedSeen[key] = true
				res.CitedSources = append(res.CitedSources, canonical)
			}
			continue
		}
		// A citation pointing outside the retrieved context is a stronger
		// fabrication signal than an uncited claim.
		if !unknownSeen[key] {
			unknownSeen[key] = true
			res.Confidence -= penaltyUnknownSource
			res.Warnings = append(res.Warnings, fmt.Sprintf("citation of unknown source: %s", name))
		}
	}

	if len(res.CitedSources) == 0 && len(unknownSeen) == 0 {
		res.Confidence -= penaltyNoCitations
		res.Warnings = append(res.Warnings, "answer cites no knowledge base sources")
	}

	lowered := strings.ToLower(draft)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lowered, phrase) {
			res.Confidence -= penaltyHedgingPhrase
			res.UncitedClaims = append(res.UncitedClaims, phrase)
			res.Warnings = append(res.Warnings, fmt.Sprintf("unverifiable claim phrasing: %q", phrase))
		}
	}

	if containsAny(lowered, noInformationMarkers) && len(draft) > falseModestyMinLength {
		res.Confidence -= penaltyFalseModesty
		res.Warnings = append(res.Warnings, "answer disclaims having information but is substantial")
	}

	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 100 {
		res.Confidence = 100
	}
	return res
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
