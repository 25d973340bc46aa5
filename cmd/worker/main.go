package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velumhealth/grounded-query/internal/config"
	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/infrastructure/queue/nats"
	"github.com/velumhealth/grounded-query/internal/observability/logging"
	"github.com/velumhealth/grounded-query/internal/observability/metrics"
)

// The worker consumes query completion events and exposes aggregate metrics.
// It deliberately has no database access: every event it sees is already
// backed by a durable audit record.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		log.Fatalf("init message queue: %v", err)
	}
	defer queue.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = queue.SubscribeQueryCompleted(ctx, func(_ context.Context, event domain.QueryCompletedEvent) error {
		lag := time.Since(event.CompletedAt)
		workerMetrics.ObserveCompletion("worker", string(event.Outcome), event.Confidence, lag)
		logger.Info("query_completed_event",
			"query_id", event.QueryID,
			"outcome", event.Outcome,
			"confidence", event.Confidence,
			"chunks_found", event.ChunksFound,
			"lag_ms", float64(lag.Microseconds())/1000.0,
		)
		return nil
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
