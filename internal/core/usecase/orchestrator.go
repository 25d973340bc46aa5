package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/core/ports"
	"github.com/velumhealth/grounded-query/internal/infrastructure/resilience"
)

// PipelineMetrics receives pipeline observations. Implemented by the
// Prometheus registry; a nil metrics sink is allowed.
type PipelineMetrics interface {
	ObserveRetrieval(duration time.Duration, candidates int, err error)
	ObserveGeneration(mode string, duration time.Duration, err error)
	ObserveOutcome(kind domain.OutcomeKind, confidence int)
	ObserveConsent(providerID string)
	ObserveAuditRetry()
}

type noopMetrics struct{}

func (noopMetrics) ObserveRetrieval(time.Duration, int, error)     {}
func (noopMetrics) ObserveGeneration(string, time.Duration, error) {}
func (noopMetrics) ObserveOutcome(domain.OutcomeKind, int)         {}
func (noopMetrics) ObserveConsent(string)                          {}
func (noopMetrics) ObserveAuditRetry()                             {}

type OrchestratorConfig struct {
	ConfidenceThreshold int
	CandidateLimit      int
	RetrievalTimeout    time.Duration
	GenerationTimeout   time.Duration
	ConsentWindow       time.Duration
	CompletedRetention  time.Duration
	AuditRetryInterval  time.Duration
	DefaultProvider     string
}

func (c OrchestratorConfig) normalize() OrchestratorConfig {
	out := c
	if out.ConfidenceThreshold <= 0 {
		out.ConfidenceThreshold = 70
	}
	if out.CandidateLimit <= 0 {
		out.CandidateLimit = defaultCandidateLimit
	}
	if out.RetrievalTimeout <= 0 {
		out.RetrievalTimeout = 8 * time.Second
	}
	if out.GenerationTimeout <= 0 {
		out.GenerationTimeout = 30 * time.Second
	}
	if out.ConsentWindow <= 0 {
		out.ConsentWindow = 10 * time.Minute
	}
	if out.CompletedRetention <= 0 {
		out.CompletedRetention = time.Hour
	}
	if out.AuditRetryInterval <= 0 {
		out.AuditRetryInterval = 30 * time.Second
	}
	if out.DefaultProvider == "" {
		out.DefaultProvider = "external_ai"
	}
	return out
}

type consentRequest struct {
	providerID string
	reply      chan error
}

// queryExecution is one state-machine instance. Single-flow: one goroutine
// drives its transitions; other goroutines only read snapshots, cancel, or
// hand over a consent request through the channel.
type queryExecution struct {
	mu          sync.Mutex
	id          string
	phase       domain.QueryPhase
	context     domain.QueryContext
	outcome     *domain.QueryOutcome
	errorClass  string
	providerID  string
	submittedAt time.Time
	completedAt time.Time
	cancel      context.CancelFunc
	consentCh   chan consentRequest
}

func (e *queryExecution) setPhase(phase domain.QueryPhase, logger *slog.Logger) {
	e.mu.Lock()
	from := e.phase
	e.phase = phase
	e.mu.Unlock()
	logger.Info("query_state_transition", "query_id", e.id, "from", from, "to", phase)
}

func (e *queryExecution) snapshot() *domain.QuerySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	qc := e.context
	qc.Candidates = append([]domain.RetrievalCandidate(nil), e.context.Candidates...)
	qc.CitedSources = append([]string(nil), e.context.CitedSources...)
	qc.UncitedClaims = append([]string(nil), e.context.UncitedClaims...)
	qc.Warnings = append([]string(nil), e.context.Warnings...)

	snap := &domain.QuerySnapshot{
		QueryID:     e.id,
		Phase:       e.phase,
		Context:     qc,
		SubmittedAt: e.submittedAt,
	}
	if e.outcome != nil {
		outcome := *e.outcome
		snap.Outcome = &outcome
	}
	if !e.completedAt.IsZero() {
		completed := e.completedAt
		snap.CompletedAt = &completed
	}
	return snap
}

// Orchestrator drives queries from submission through retrieval, trust
// decision, optional consent-gated fallback, to completion. Every terminal
// transition produces exactly one audit record; state-machine completion and
// audit emission are a single internal step.
type Orchestrator struct {
	retriever *Retriever
	generator ports.AnswerGenerator
	consent   ports.ConsentGateway
	audit     ports.AuditStore
	events    ports.EventPublisher
	executor  *resilience.Executor
	metrics   PipelineMetrics
	logger    *slog.Logger
	cfg       OrchestratorConfig

	mu      sync.RWMutex
	queries map[string]*queryExecution

	wg   sync.WaitGroup
	done chan struct{}
}

func NewOrchestrator(
	retriever *Retriever,
	generator ports.AnswerGenerator,
	consent ports.ConsentGateway,
	audit ports.AuditStore,
	events ports.EventPublisher,
	executor *resilience.Executor,
	metrics PipelineMetrics,
	logger *slog.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	o := &Orchestrator{
		retriever: retriever,
		generator: generator,
		consent:   consent,
		audit:     audit,
		events:    events,
		executor:  executor,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg.normalize(),
		queries:   make(map[string]*queryExecution),
		done:      make(chan struct{}),
	}
	o.wg.Add(1)
	go o.janitor()
	return o
}

// Stop cancels in-flight queries and waits for their terminal audit writes.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	for _, exec := range o.queries {
		exec.cancel()
	}
	o.mu.Unlock()
	close(o.done)
	o.wg.Wait()
}

func (o *Orchestrator) SubmitQuery(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "submit query", errors.New("query text is empty"))
	}

	// The lifecycle is UI-paced (consent waits span minutes), so the run
	// context is detached from the submitting request's context.
	runCtx, cancel := context.WithCancel(context.Background())
	exec := &queryExecution{
		id:          uuid.NewString(),
		phase:       domain.PhaseIdle,
		context:     domain.QueryContext{QueryText: text},
		submittedAt: time.Now().UTC(),
		cancel:      cancel,
		consentCh:   make(chan consentRequest),
	}

	o.mu.Lock()
	o.queries[exec.id] = exec
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(runCtx, exec)
	}()
	return exec.id, nil
}

func (o *Orchestrator) GetQueryState(_ context.Context, queryID string) (*domain.QuerySnapshot, error) {
	exec := o.lookup(queryID)
	if exec == nil {
		return nil, domain.WrapError(domain.ErrQueryNotFound, "get query state", fmt.Errorf("id=%s", queryID))
	}
	return exec.snapshot(), nil
}

// ConsentToExternal hands an explicit opt-in to the query's state machine.
// Valid only while the query sits in not_found awaiting the user's decision.
func (o *Orchestrator) ConsentToExternal(ctx context.Context, queryID, providerID string) error {
	exec := o.lookup(queryID)
	if exec == nil {
		return domain.WrapError(domain.ErrQueryNotFound, "consent to external", fmt.Errorf("id=%s", queryID))
	}
	if providerID == "" {
		providerID = o.cfg.DefaultProvider
	}

	exec.mu.Lock()
	phase := exec.phase
	exec.mu.Unlock()
	if phase != domain.PhaseNotFound {
		return domain.WrapError(domain.ErrConflict, "consent to external", fmt.Errorf("query is %s", phase))
	}

	req := consentRequest{providerID: providerID, reply: make(chan error, 1)}
	handoff := time.NewTimer(time.Second)
	defer handoff.Stop()

	select {
	case exec.consentCh <- req:
	case <-handoff.C:
		return domain.WrapError(domain.ErrConflict, "consent to external", errors.New("consent window closed"))
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) CancelQuery(_ context.Context, queryID string) error {
	exec := o.lookup(queryID)
	if exec == nil {
		return domain.WrapError(domain.ErrQueryNotFound, "cancel query", fmt.Errorf("id=%s", queryID))
	}

	exec.mu.Lock()
	finished := exec.outcome != nil
	exec.mu.Unlock()
	if finished {
		return domain.WrapError(domain.ErrConflict, "cancel query", errors.New("query already complete"))
	}

	exec.cancel()
	return nil
}

func (o *Orchestrator) lookup(queryID string) *queryExecution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.queries[queryID]
}

func (o *Orchestrator) run(ctx context.Context, exec *queryExecution) {
	exec.setPhase(domain.PhaseSearching, o.logger)

	candidates, documentsSearched, err := o.retrieve(ctx, exec)
	if err != nil {
		if canceled(ctx, err) {
			o.finalize(exec, domain.FailedOutcome("cancelled"), "cancelled")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// Retrieval timeout is a trust decision, not a failure: the
			// corpus could not answer in time, so the caller may still opt
			// into an external source.
			o.awaitConsentDecision(ctx, exec, "retrieval timeout")
			return
		}
		o.finalize(exec, domain.FailedOutcome("knowledge search is temporarily unavailable"), errorClass(err))
		return
	}

	exec.mu.Lock()
	exec.context.Candidates = candidates
	exec.context.DocumentsSearched = documentsSearched
	exec.mu.Unlock()

	if len(candidates) == 0 {
		// Without candidates the answer cannot be grounded; the generator is
		// never invoked for this query.
		o.awaitConsentDecision(ctx, exec, "no matching knowledge entries")
		return
	}

	draft, err := o.generateGrounded(ctx, exec, candidates)
	if err != nil {
		if canceled(ctx, err) {
			o.finalize(exec, domain.FailedOutcome("cancelled"), "cancelled")
			return
		}
		if domain.IsKind(err, domain.ErrQuotaExceeded) {
			o.finalize(exec, domain.FailedOutcome("answer service quota exceeded"), "quota")
			return
		}
		o.finalize(exec, domain.FailedOutcome("answer generation failed"), errorClass(err))
		return
	}

	result := ScoreDraft(domain.QueryContext{QueryText: exec.context.QueryText, Candidates: candidates}, draft)
	exec.mu.Lock()
	exec.context.Confidence = result.Confidence
	exec.context.CitedSources = result.CitedSources
	exec.context.UncitedClaims = result.UncitedClaims
	exec.context.Warnings = append(exec.context.Warnings, result.Warnings...)
	exec.mu.Unlock()

	if result.Confidence >= o.cfg.ConfidenceThreshold && len(result.CitedSources) > 0 {
		exec.setPhase(domain.PhaseTrusted, o.logger)
		o.finalize(exec, domain.TrustedOutcome(draft), "")
		return
	}

	o.awaitConsentDecision(ctx, exec,
		fmt.Sprintf("confidence %d below threshold %d", result.Confidence, o.cfg.ConfidenceThreshold))
}

func (o *Orchestrator) retrieve(ctx context.Context, exec *queryExecution) ([]domain.RetrievalCandidate, int, error) {
	retrieveCtx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
	defer cancel()

	var candidates []domain.RetrievalCandidate
	var documentsSearched int
	start := time.Now()
	err := o.executor.Execute(retrieveCtx, "corpus.retrieve", func(callCtx context.Context) error {
		var callErr error
		candidates, documentsSearched, callErr = o.retriever.Retrieve(callCtx, exec.context.QueryText, o.cfg.CandidateLimit)
		return callErr
	}, classifyTransient)
	o.metrics.ObserveRetrieval(time.Since(start), len(candidates), err)

	// Normalize an exhausted retrieval budget to a plain deadline error so
	// the caller can distinguish timeout from index unavailability.
	if err != nil && errors.Is(retrieveCtx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	return candidates, documentsSearched, err
}

func (o *Orchestrator) generateGrounded(ctx context.Context, exec *queryExecution, candidates []domain.RetrievalCandidate) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	var draft string
	start := time.Now()
	err := o.executor.Execute(genCtx, "generator.grounded", func(callCtx context.Context) error {
		var callErr error
		draft, callErr = o.generator.GenerateGrounded(callCtx, exec.context.QueryText, candidates)
		return callErr
	}, classifyTransient)
	o.metrics.ObserveGeneration("grounded", time.Since(start), err)
	return draft, err
}

// awaitConsentDecision parks the query in not_found until the caller either
// consents to an external source, the consent window expires, or the query is
// cancelled. The transition out of not_found is never automatic.
func (o *Orchestrator) awaitConsentDecision(ctx context.Context, exec *queryExecution, reason string) {
	exec.mu.Lock()
	exec.context.Warnings = append(exec.context.Warnings, reason)
	exec.mu.Unlock()
	exec.setPhase(domain.PhaseNotFound, o.logger)

	window := time.NewTimer(o.cfg.ConsentWindow)
	defer window.Stop()

	for {
		select {
		case <-ctx.Done():
			o.finalize(exec, domain.FailedOutcome("cancelled"), "cancelled")
			return
		case <-window.C:
			o.finalize(exec, domain.NoMatchOutcome(reason), "")
			return
		case req := <-exec.consentCh:
			exec.setPhase(domain.PhaseConsentPending, o.logger)
			if err := o.recordConsent(ctx, exec, req.providerID); err != nil {
				req.reply <- err
				exec.setPhase(domain.PhaseNotFound, o.logger)
				continue
			}
			req.reply <- nil
			o.runExternal(ctx, exec, req.providerID)
			return
		}
	}
}

// recordConsent writes the consent event and verifies it is durably visible
// before any external call is allowed to start.
func (o *Orchestrator) recordConsent(ctx context.Context, exec *queryExecution, providerID string) error {
	err := o.executor.Execute(ctx, "consent.record", func(callCtx context.Context) error {
		_, callErr := o.consent.RecordConsent(callCtx, exec.id, providerID)
		return callErr
	}, classifyTransient)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "record consent", err)
	}

	ok, _, err := o.consent.HasConsent(ctx, exec.id)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "verify consent", err)
	}
	if !ok {
		return domain.WrapError(domain.ErrNoConsent, "verify consent", errors.New("consent event not visible"))
	}

	exec.mu.Lock()
	exec.providerID = providerID
	exec.mu.Unlock()
	o.metrics.ObserveConsent(providerID)
	return nil
}

// runExternal invokes the generator against the external provider. External
// answers are definitionally untrusted: no confidence scoring is applied and
// the audit record carries confidence 0 plus the fixed disclosure.
func (o *Orchestrator) runExternal(ctx context.Context, exec *queryExecution, providerID string) {
	exec.setPhase(domain.PhaseExternalSearching, o.logger)

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	var answer string
	start := time.Now()
	err := o.executor.Execute(genCtx, "generator.external", func(callCtx context.Context) error {
		var callErr error
		answer, callErr = o.generator.GenerateExternal(callCtx, exec.context.QueryText)
		return callErr
	}, classifyTransient)
	o.metrics.ObserveGeneration("external", time.Since(start), err)

	if err != nil {
		if canceled(ctx, err) {
			o.finalize(exec, domain.FailedOutcome("cancelled"), "cancelled")
			return
		}
		if domain.IsKind(err, domain.ErrQuotaExceeded) {
			o.finalize(exec, domain.FailedOutcome("external answer service quota exceeded"), "quota")
			return
		}
		o.finalize(exec, domain.FailedOutcome("external answer generation failed"), errorClass(err))
		return
	}

	exec.setPhase(domain.PhaseExternalAnswered, o.logger)
	exec.mu.Lock()
	exec.context.Confidence = 0
	exec.providerID = providerID
	exec.mu.Unlock()
	o.finalize(exec, domain.ExternalFallbackOutcome(answer, domain.ExternalDisclosure), "")
}

// finalize records the terminal outcome and writes the audit record as one
// step. If the audit write keeps failing, the query is held in pending_audit
// rather than reported complete: an un-audited answer must not look final.
func (o *Orchestrator) finalize(exec *queryExecution, outcome domain.QueryOutcome, errClass string) {
	exec.mu.Lock()
	if exec.outcome != nil {
		exec.mu.Unlock()
		return
	}
	exec.outcome = &outcome
	exec.errorClass = errClass
	exec.completedAt = time.Now().UTC()
	record := buildAuditRecord(exec, outcome, errClass)
	exec.mu.Unlock()

	o.metrics.ObserveOutcome(outcome.Kind, record.Confidence)

	// Cancellation must not suppress the terminal audit write.
	auditCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := o.appendAudit(auditCtx, record); err != nil {
		exec.setPhase(domain.PhasePendingAudit, o.logger)
		o.logger.Error("audit_append_failed", "query_id", exec.id, "error", err)
		o.wg.Add(1)
		go o.retryPendingAudit(exec, record)
		return
	}

	exec.setPhase(domain.PhaseComplete, o.logger)
	o.publishCompleted(record)
}

func (o *Orchestrator) appendAudit(ctx context.Context, record domain.AuditRecord) error {
	return o.executor.Execute(ctx, "audit.append", func(callCtx context.Context) error {
		return o.audit.Append(callCtx, record)
	}, classifyTransient)
}

func (o *Orchestrator) retryPendingAudit(exec *queryExecution, record domain.AuditRecord) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.AuditRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			o.logger.Error("audit_record_dropped_on_shutdown", "query_id", record.QueryID)
			return
		case <-ticker.C:
			o.metrics.ObserveAuditRetry()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := o.appendAudit(ctx, record)
			cancel()
			if err != nil {
				o.logger.Warn("audit_append_retry_failed", "query_id", record.QueryID, "error", err)
				continue
			}
			exec.setPhase(domain.PhaseComplete, o.logger)
			o.publishCompleted(record)
			return
		}
	}
}

func (o *Orchestrator) publishCompleted(record domain.AuditRecord) {
	if o.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := domain.QueryCompletedEvent{
		QueryID:     record.QueryID,
		Outcome:     record.Outcome.Kind,
		Confidence:  record.Confidence,
		ChunksFound: record.ChunksFound,
		CompletedAt: record.CreatedAt,
	}
	if err := o.events.PublishQueryCompleted(ctx, event); err != nil {
		o.logger.Warn("query_completed_publish_failed", "query_id", record.QueryID, "error", err)
	}
}

func (o *Orchestrator) janitor() {
	defer o.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-o.cfg.CompletedRetention)
			o.mu.Lock()
			for id, exec := range o.queries {
				exec.mu.Lock()
				expired := exec.phase == domain.PhaseComplete && !exec.completedAt.IsZero() && exec.completedAt.Before(cutoff)
				exec.mu.Unlock()
				if expired {
					delete(o.queries, id)
				}
			}
			o.mu.Unlock()
		}
	}
}

// buildAuditRecord is called with exec.mu held.
func buildAuditRecord(exec *queryExecution, outcome domain.QueryOutcome, errClass string) domain.AuditRecord {
	record := domain.AuditRecord{
		QueryID:     exec.id,
		QueryText:   exec.context.QueryText,
		ChunksFound: len(exec.context.Candidates),
		Confidence:  exec.context.Confidence,
		Outcome:     outcome,
		ErrorClass:  errClass,
		CreatedAt:   exec.completedAt,
	}
	switch outcome.Kind {
	case domain.OutcomeTrusted:
		for _, name := range exec.context.CitedSources {
			record.SourcesUsed = append(record.SourcesUsed, domain.SourceRef{Name: name, Type: domain.SourceKnowledgeBase})
		}
	case domain.OutcomeExternalFallback:
		record.Confidence = 0
		record.SourcesUsed = []domain.SourceRef{{Name: exec.providerID, Type: domain.SourceExternalAI}}
	}
	if record.SourcesUsed == nil {
		record.SourcesUsed = []domain.SourceRef{}
	}
	return record
}

func canceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case domain.IsKind(err, domain.ErrQuotaExceeded):
		return "quota"
	case domain.IsKind(err, domain.ErrTemporary):
		return "transient"
	default:
		return "internal"
	}
}

func classifyTransient(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if domain.IsKind(err, domain.ErrQuotaExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
