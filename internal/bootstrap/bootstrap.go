package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/velumhealth/grounded-query/internal/config"
	"github.com/velumhealth/grounded-query/internal/core/ports"
	"github.com/velumhealth/grounded-query/internal/core/usecase"
	"github.com/velumhealth/grounded-query/internal/infrastructure/chunking"
	"github.com/velumhealth/grounded-query/internal/infrastructure/extractor/pdftext"
	"github.com/velumhealth/grounded-query/internal/infrastructure/extractor/text"
	"github.com/velumhealth/grounded-query/internal/infrastructure/extractor/xlsx"
	"github.com/velumhealth/grounded-query/internal/infrastructure/llm/ollama"
	"github.com/velumhealth/grounded-query/internal/infrastructure/queue/nats"
	"github.com/velumhealth/grounded-query/internal/infrastructure/repository/postgres"
	"github.com/velumhealth/grounded-query/internal/infrastructure/resilience"
	"github.com/velumhealth/grounded-query/internal/observability/logging"
	"github.com/velumhealth/grounded-query/internal/observability/metrics"
)

// App wires the query pipeline and its infrastructure for one process.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.APIMetrics

	Queue    *nats.Queue
	Corpus   ports.CorpusIndex
	Pipeline ports.QueryPipeline
	Loader   ports.CorpusLoader

	orchestrator *usecase.Orchestrator
	closeFn      func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	return NewWithLogger(ctx, cfg, service, logging.NewJSONLogger(service, cfg.LogLevel))
}

// NewWithLogger exists for processes that cannot log to stdout, such as the
// stdio-transport MCP server.
func NewWithLogger(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	corpusRepo := postgres.NewCorpusRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	consentRepo := postgres.NewConsentRepository(db)
	for name, ensure := range map[string]func(context.Context) error{
		"corpus":  corpusRepo.EnsureSchema,
		"audit":   auditRepo.EnsureSchema,
		"consent": consentRepo.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure %s schema: %w", name, err)
		}
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	generator := ollama.New(cfg.OllamaURL, cfg.OllamaGroundedModel, cfg.OllamaExternalModel)
	apiMetrics := metrics.NewAPIMetrics(service)
	retriever := usecase.NewRetriever(corpusRepo, logger)

	orchestrator := usecase.NewOrchestrator(
		retriever,
		generator,
		consentRepo,
		auditRepo,
		queue,
		executor,
		apiMetrics,
		logger,
		usecase.OrchestratorConfig{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			CandidateLimit:      cfg.CandidateLimit,
			RetrievalTimeout:    cfg.RetrievalTimeout,
			GenerationTimeout:   cfg.GenerationTimeout,
			ConsentWindow:       cfg.ConsentWindow,
			CompletedRetention:  cfg.CompletedRetention,
			DefaultProvider:     cfg.DefaultProvider,
		},
	)

	splitter := chunking.NewSplitter(0, 0)
	loader := usecase.NewLoader(
		[]ports.SourceExtractor{
			xlsx.New(),
			pdftext.New(splitter),
			text.New(splitter),
		},
		corpusRepo,
		logger,
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: apiMetrics,

		Queue:    queue,
		Corpus:   corpusRepo,
		Pipeline: orchestrator,
		Loader:   loader,

		orchestrator: orchestrator,
		closeFn: func() {
			orchestrator.Stop()
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
