package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/velumhealth/grounded-query/internal/adapters/mcp"
	"github.com/velumhealth/grounded-query/internal/bootstrap"
	"github.com/velumhealth/grounded-query/internal/config"
	"github.com/velumhealth/grounded-query/internal/observability/logging"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()

	// stdio transport: diagnostics must stay off stdout.
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)
	app, err := bootstrap.NewWithLogger(context.Background(), cfg, "mcp", logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	mcpServer := mcpadapter.NewServer(app.Pipeline, version, logger)
	if err := server.ServeStdio(mcpServer); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server error: %v\n", err)
		os.Exit(1)
	}
}
