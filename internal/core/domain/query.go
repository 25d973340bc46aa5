package domain

import "time"

// QueryPhase is the externally visible state of one query execution.
type QueryPhase string

const (
	PhaseIdle              QueryPhase = "idle"
	PhaseSearching         QueryPhase = "searching"
	PhaseTrusted           QueryPhase = "trusted"
	PhaseNotFound          QueryPhase = "not_found"
	PhaseConsentPending    QueryPhase = "consent_pending"
	PhaseExternalSearching QueryPhase = "external_searching"
	PhaseExternalAnswered  QueryPhase = "external_answered"
	PhasePendingAudit      QueryPhase = "pending_audit"
	PhaseComplete          QueryPhase = "complete"
)

// Terminal reports whether no further state transitions can occur.
// pending_audit is deliberately not terminal: the query is held there until
// its audit record is durably written.
func (p QueryPhase) Terminal() bool {
	return p == PhaseComplete
}

// QueryContext accumulates the state of one query across pipeline stages.
// It is mutated only by the orchestrator and frozen once the query reaches a
// terminal outcome.
type QueryContext struct {
	QueryText         string               `json:"query_text"`
	Candidates        []RetrievalCandidate `json:"candidates,omitempty"`
	CitedSources      []string             `json:"cited_sources,omitempty"`
	UncitedClaims     []string             `json:"uncited_claims,omitempty"`
	Confidence        int                  `json:"confidence"`
	DocumentsSearched int                  `json:"documents_searched"`
	Warnings          []string             `json:"warnings,omitempty"`
}

// OutcomeKind tags the terminal variant of a query execution.
type OutcomeKind string

const (
	OutcomeTrusted          OutcomeKind = "trusted"
	OutcomeExternalFallback OutcomeKind = "external_fallback"
	OutcomeNoMatch          OutcomeKind = "no_match"
	OutcomeFailed           OutcomeKind = "failed"
)

// QueryOutcome is the terminal result of one query execution. Exactly one
// outcome is produced per query, and ExternalFallback is only reachable after
// a consent event has been recorded for the query.
type QueryOutcome struct {
	Kind           OutcomeKind `json:"kind"`
	Answer         string      `json:"answer,omitempty"`
	DisclosureText string      `json:"disclosure_text,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}

func TrustedOutcome(answer string) QueryOutcome {
	return QueryOutcome{Kind: OutcomeTrusted, Answer: answer}
}

func ExternalFallbackOutcome(answer, disclosure string) QueryOutcome {
	return QueryOutcome{Kind: OutcomeExternalFallback, Answer: answer, DisclosureText: disclosure}
}

func NoMatchOutcome(reason string) QueryOutcome {
	return QueryOutcome{Kind: OutcomeNoMatch, Reason: reason}
}

func FailedOutcome(reason string) QueryOutcome {
	return QueryOutcome{Kind: OutcomeFailed, Reason: reason}
}

// QuerySnapshot is the read model returned to callers polling query state.
type QuerySnapshot struct {
	QueryID     string        `json:"query_id"`
	Phase       QueryPhase    `json:"phase"`
	Context     QueryContext  `json:"context"`
	Outcome     *QueryOutcome `json:"outcome,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// ConsentEvent records an explicit user opt-in to leave the trusted corpus
// boundary for one query.
type ConsentEvent struct {
	QueryID    string    `json:"query_id"`
	ProviderID string    `json:"provider_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// QueryCompletedEvent is published to the event bus after the terminal audit
// record of a query has been durably written.
type QueryCompletedEvent struct {
	QueryID     string      `json:"query_id"`
	Outcome     OutcomeKind `json:"outcome"`
	Confidence  int         `json:"confidence"`
	ChunksFound int         `json:"chunks_found"`
	CompletedAt time.Time   `json:"completed_at"`
}

// ExternalDisclosure is the fixed disclosure string attached to every answer
// produced outside the trusted corpus boundary.
const ExternalDisclosure = "This answer was produced by an external AI source and is not grounded " +
	"in the clinic's curated knowledge base. Verify it independently before acting on it."
