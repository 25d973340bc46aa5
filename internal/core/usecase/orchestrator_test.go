package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/infrastructure/resilience"
)

type generatorFake struct {
	mu            sync.Mutex
	groundedText  string
	groundedErr   error
	groundedCalls int
	externalText  string
	externalErr   error
	externalCalls int
}

func (f *generatorFake) GenerateGrounded(context.Context, string, []domain.RetrievalCandidate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groundedCalls++
	return f.groundedText, f.groundedErr
}

func (f *generatorFake) GenerateExternal(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++
	return f.externalText, f.externalErr
}

func (f *generatorFake) calls() (grounded, external int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groundedCalls, f.externalCalls
}

type consentFake struct {
	mu        sync.Mutex
	recorded  map[string]string
	recordErr error
}

func (f *consentFake) RecordConsent(_ context.Context, queryID, providerID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return time.Time{}, f.recordErr
	}
	if f.recorded == nil {
		f.recorded = make(map[string]string)
	}
	f.recorded[queryID] = providerID
	return time.Now().UTC(), nil
}

func (f *consentFake) HasConsent(_ context.Context, queryID string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	provider, ok := f.recorded[queryID]
	return ok, provider, nil
}

type auditFake struct {
	mu       sync.Mutex
	records  []domain.AuditRecord
	failures int
	calls    int
}

func (f *auditFake) Append(_ context.Context, record domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return domain.WrapError(domain.ErrTemporary, "append audit record", errors.New("db offline"))
	}
	for _, existing := range f.records {
		if existing.QueryID == record.QueryID {
			return nil
		}
	}
	f.records = append(f.records, record)
	return nil
}

func (f *auditFake) snapshot() []domain.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditRecord(nil), f.records...)
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.QueryCompletedEvent
}

func (f *eventsFake) PublishQueryCompleted(_ context.Context, event domain.QueryCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *eventsFake) snapshot() []domain.QueryCompletedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.QueryCompletedEvent(nil), f.events...)
}

type pipelineFixture struct {
	orchestrator *Orchestrator
	corpus       *corpusFake
	generator    *generatorFake
	consent      *consentFake
	audit        *auditFake
	events       *eventsFake
}

func newPipelineFixture(t *testing.T, corpus *corpusFake, generator *generatorFake, cfg OrchestratorConfig) *pipelineFixture {
	t.Helper()

	consent := &consentFake{}
	audit := &auditFake{}
	events := &eventsFake{}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	o := NewOrchestrator(NewRetriever(corpus, nil), generator, consent, audit, events, executor, nil, nil, cfg)
	t.Cleanup(o.Stop)

	return &pipelineFixture{
		orchestrator: o,
		corpus:       corpus,
		generator:    generator,
		consent:      consent,
		audit:        audit,
		events:       events,
	}
}

func waitForPhase(t *testing.T, o *Orchestrator, queryID string, phase domain.QueryPhase) *domain.QuerySnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snapshot, err := o.GetQueryState(context.Background(), queryID)
		if err != nil {
			t.Fatalf("GetQueryState() error = %v", err)
		}
		if snapshot.Phase == phase {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	snapshot, _ := o.GetQueryState(context.Background(), queryID)
	t.Fatalf("query never reached phase %s, stuck in %s", phase, snapshot.Phase)
	return nil
}

func TestPipelineTrustedAnswer(t *testing.T) {
	corpus := &corpusFake{
		questionHits: []domain.CorpusHit{hit("a", "faq.xlsx", 0, 1.0)},
		documents:    1,
	}
	generator := &generatorFake{groundedText: "Keep the wound dry. [Source: faq.xlsx]"}
	fx := newPipelineFixture(t, corpus, generator, OrchestratorConfig{})

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "how do I care for stitches")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}

	snapshot := waitForPhase(t, fx.orchestrator, queryID, domain.PhaseComplete)
	if snapshot.Outcome == nil || snapshot.Outcome.Kind != domain.OutcomeTrusted {
		t.Fatalf("expected trusted outcome, got %+v", snapshot.Outcome)
	}
	if snapshot.Context.Confidence != 100 {
		t.Fatalf("expected confidence 100, got %d", snapshot.Context.Confidence)
	}

	records := fx.audit.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(records))
	}
	record := records[0]
	if record.Outcome.Kind != domain.OutcomeTrusted || record.ChunksFound != 1 {
		t.Fatalf("unexpected audit record %+v", record)
	}
	if len(record.SourcesUsed) != 1 || record.SourcesUsed[0].Type != domain.SourceKnowledgeBase {
		t.Fatalf("expected knowledge base source in audit, got %v", record.SourcesUsed)
	}

	events := fx.events.snapshot()
	if len(events) != 1 || events[0].QueryID != queryID {
		t.Fatalf("expected one completion event for %s, got %v", queryID, events)
	}
}

func TestPipelineZeroCandidatesSkipsGenerator(t *testing.T) {
	fx := newPipelineFixture(t, &corpusFake{documents: 1}, &generatorFake{}, OrchestratorConfig{})

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "completely unknown topic")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}

	waitForPhase(t, fx.orchestrator, queryID, domain.PhaseNotFound)
	if grounded, _ := fx.generator.calls(); grounded != 0 {
		t.Fatalf("generator must not run without candidates, ran %d times", grounded)
	}
}

func TestPipelineConsentedExternalFallback(t *testing.T) {
	generator := &generatorFake{externalText: "General advice from the wider model."}
	fx := newPipelineFixture(t, &corpusFake{documents: 1}, generator, OrchestratorConfig{})

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "completely unknown topic")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}
	waitForPhase(t, fx.orchestrator, queryID, domain.PhaseNotFound)

	if err := fx.orchestrator.ConsentToExternal(context.Background(), queryID, "external_ai"); err != nil {
		t.Fatalf("ConsentToExternal() error = %v", err)
	}

	snapshot := waitForPhase(t, fx.orchestrator, queryID, domain.PhaseComplete)
	if snapshot.Outcome == nil || snapshot.Outcome.Kind != domain.OutcomeExternalFallback {
		t.Fatalf("expected external fallback outcome, got %+v", snapshot.Outcome)
	}
	if snapshot.Outcome.DisclosureText != domain.ExternalDisclosure {
		t.Fatalf("external answer must carry the disclosure text")
	}
	if snapshot.Context.Confidence != 0 {
		t.Fatalf("external answers are never scored, confidence = %d", snapshot.Context.Confidence)
	}

	fx.consent.mu.Lock()
	provider := fx.consent.recorded[queryID]
	fx.consent.mu.Unlock()
	if provider != "external_ai" {
		t.Fatalf("consent event not durably recorded, got provider %q", provider)
	}

	records := fx.audit.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(records))
	}
	if len(records[0].SourcesUsed) != 1 || records[0].SourcesUsed[0].Type != domain.SourceExternalAI {
		t.Fatalf("expected external source in audit, got %v", records[0].SourcesUsed)
	}
	if records[0].Confidence != 0 {
		t.Fatalf("audit confidence for external outcome must be 0, got %d", records[0].Confidence)
	}
}

func TestPipelineUncitedAnswerIsNotTrusted(t *testing.T) {
	corpus := &corpusFake{
		questionHits: []domain.CorpusHit{hit("a", "faq.xlsx", 0, 1.0)},
		documents:    1,
	}
	// Scores exactly at the threshold but cites nothing, so it must not be
	// served as a trusted answer.
	generator := &generatorFake{groundedText: "Keep the wound dry for two days."}
	fx := newPipelineFixture(t, corpus, generator, OrchestratorConfig{})

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "how do I care for stitches")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}

	snapshot := waitForPhase(t, fx.orchestrator, queryID, domain.PhaseNotFound)
	if snapshot.Context.Confidence != 70 {
		t.Fatalf("expected confidence 70, got %d", snapshot.Context.Confidence)
	}
}

func TestPipelineConsentWindowExpiry(t *testing.T) {
	fx := newPipelineFixture(t, &corpusFake{documents: 1}, &generatorFake{}, OrchestratorConfig{
		ConsentWindow: 30 * time.Millisecond,
	})

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "completely unknown topic")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}

	snapshot := waitForPhase(t, fx.orchestrator, queryID, domain.PhaseComplete)
	if snapshot.Outcome == nil || snapshot.Outcome.Kind != domain.OutcomeNoMatch {
		t.Fatalf("expected no_match after expiry, got %+v", snapshot.Outcome)
	}
	if _, external := fx.generator.calls(); external != 0 {
		t.Fatalf("external generator must not run without consent")
	}
}

func TestPipelineCancelProducesFailedAudit(t *testing.T) {
	fx := newPipelineFixture(t, &corpusFake{documents: 1}, &generatorFake{}, OrchestratorConfig{})

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "completely unknown topic")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}
	waitForPhase(t, fx.orchestrator, queryID, domain.PhaseNotFound)

	if err := fx.orchestrator.CancelQuery(context.Background(), queryID); err != nil {
		t.Fatalf("CancelQuery() error = %v", err)
	}

	snapshot := waitForPhase(t, fx.orchestrator, queryID, domain.PhaseComplete)
	if snapshot.Outcome == nil || snapshot.Outcome.Kind != domain.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", snapshot.Outcome)
	}

	records := fx.audit.snapshot()
	if len(records) != 1 || records[0].ErrorClass != "cancelled" {
		t.Fatalf("expected cancelled audit record, got %+v", records)
	}
}

func TestPipelineConsentRejectedOutsideNotFound(t *testing.T) {
	corpus := &corpusFake{
		questionHits: []domain.CorpusHit{hit("a", "faq.xlsx", 0, 1.0)},
		documents:    1,
	}
	generator := &generatorFake{groundedText: "Answer. [Source: faq.xlsx]"}
	fx := newPipelineFixture(t, corpus, generator, OrchestratorConfig{})

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "how do I care for stitches")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}
	waitForPhase(t, fx.orchestrator, queryID, domain.PhaseComplete)

	err = fx.orchestrator.ConsentToExternal(context.Background(), queryID, "external_ai")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for consent on completed query, got %v", err)
	}
}

func TestPipelineHeldInPendingAuditUntilWriteSucceeds(t *testing.T) {
	corpus := &corpusFake{
		questionHits: []domain.CorpusHit{hit("a", "faq.xlsx", 0, 1.0)},
		documents:    1,
	}
	generator := &generatorFake{groundedText: "Answer. [Source: faq.xlsx]"}
	fx := newPipelineFixture(t, corpus, generator, OrchestratorConfig{
		AuditRetryInterval: 20 * time.Millisecond,
	})
	fx.audit.mu.Lock()
	fx.audit.failures = 1
	fx.audit.mu.Unlock()

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "how do I care for stitches")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}

	snapshot := waitForPhase(t, fx.orchestrator, queryID, domain.PhaseComplete)
	if snapshot.Outcome == nil || snapshot.Outcome.Kind != domain.OutcomeTrusted {
		t.Fatalf("expected trusted outcome after audit recovery, got %+v", snapshot.Outcome)
	}

	records := fx.audit.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected exactly one audit record after retries, got %d", len(records))
	}
	if events := fx.events.snapshot(); len(events) != 1 {
		t.Fatalf("completion event must fire once, after the audit write, got %d", len(events))
	}
}

func TestSubmitQueryRejectsEmptyText(t *testing.T) {
	fx := newPipelineFixture(t, &corpusFake{}, &generatorFake{}, OrchestratorConfig{})
	_, err := fx.orchestrator.SubmitQuery(context.Background(), "   ")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetQueryStateUnknownID(t *testing.T) {
	fx := newPipelineFixture(t, &corpusFake{}, &generatorFake{}, OrchestratorConfig{})
	_, err := fx.orchestrator.GetQueryState(context.Background(), "nope")
	if !domain.IsKind(err, domain.ErrQueryNotFound) {
		t.Fatalf("expected ErrQueryNotFound, got %v", err)
	}
}

func TestPipelineRetrievalFailureIsFailedOutcome(t *testing.T) {
	corpus := &corpusFake{
		questionErr: errors.New("db offline"),
		contentErr:  errors.New("db offline"),
	}
	fx := newPipelineFixture(t, corpus, &generatorFake{}, OrchestratorConfig{})

	queryID, err := fx.orchestrator.SubmitQuery(context.Background(), "how do I care for stitches")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}

	snapshot := waitForPhase(t, fx.orchestrator, queryID, domain.PhaseComplete)
	if snapshot.Outcome == nil || snapshot.Outcome.Kind != domain.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", snapshot.Outcome)
	}

	records := fx.audit.snapshot()
	if len(records) != 1 || records[0].ErrorClass != "transient" {
		t.Fatalf("expected transient error class in audit, got %+v", records)
	}
	if !strings.Contains(records[0].Outcome.Reason, "unavailable") {
		t.Fatalf("expected user-safe failure reason, got %q", records[0].Outcome.Reason)
	}
}
