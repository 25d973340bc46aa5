package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/velumhealth/grounded-query/internal/core/ports"
)

// NewServer exposes the query pipeline as MCP tools over stdio. Assistant
// frontends drive the same consent-gated state machine as the HTTP API; the
// consent step stays a separate explicit tool call.
func NewServer(pipeline ports.QueryPipeline, version string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := server.NewMCPServer(
		"grounded-query",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(submitQueryTool(), handleSubmitQuery(pipeline, logger))
	s.AddTool(getQueryStateTool(), handleGetQueryState(pipeline, logger))
	s.AddTool(consentTool(), handleConsent(pipeline, logger))
	s.AddTool(cancelTool(), handleCancel(pipeline, logger))
	return s
}

func submitQueryTool() mcp.Tool {
	return mcp.NewTool("submit_query",
		mcp.WithDescription("Submit a question to the clinic knowledge pipeline. Returns a query id to poll with get_query_state."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The question to answer from the curated knowledge base"),
		),
	)
}

func getQueryStateTool() mcp.Tool {
	return mcp.NewTool("get_query_state",
		mcp.WithDescription("Get the current phase, confidence and outcome of a submitted query."),
		mcp.WithString("query_id",
			mcp.Required(),
			mcp.Description("Query id returned by submit_query"),
		),
	)
}

func consentTool() mcp.Tool {
	return mcp.NewTool("consent_to_external",
		mcp.WithDescription("Explicitly authorize answering a not_found query through an external AI source. Only valid while the query awaits the decision."),
		mcp.WithString("query_id",
			mcp.Required(),
			mcp.Description("Query id currently in the not_found phase"),
		),
		mcp.WithString("provider_id",
			mcp.Description("External provider identifier (defaults to the configured provider)"),
		),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("cancel_query",
		mcp.WithDescription("Cancel an in-flight query."),
		mcp.WithString("query_id",
			mcp.Required(),
			mcp.Description("Query id to cancel"),
		),
	)
}

func handleSubmitQuery(pipeline ports.QueryPipeline, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := request.RequireString("text")
		if err != nil || text == "" {
			return toolError("text parameter is required"), nil
		}

		queryID, err := pipeline.SubmitQuery(ctx, text)
		if err != nil {
			logger.Error("mcp_submit_query_failed", "error", err)
			return toolError(fmt.Sprintf("submit failed: %v", err)), nil
		}
		return toolJSON(map[string]string{"query_id": queryID})
	}
}

func handleGetQueryState(pipeline ports.QueryPipeline, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queryID, err := request.RequireString("query_id")
		if err != nil || queryID == "" {
			return toolError("query_id parameter is required"), nil
		}

		snapshot, err := pipeline.GetQueryState(ctx, queryID)
		if err != nil {
			logger.Warn("mcp_get_query_state_failed", "query_id", queryID, "error", err)
			return toolError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		return toolJSON(snapshot)
	}
}

func handleConsent(pipeline ports.QueryPipeline, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queryID, err := request.RequireString("query_id")
		if err != nil || queryID == "" {
			return toolError("query_id parameter is required"), nil
		}
		providerID := request.GetString("provider_id", "")

		if err := pipeline.ConsentToExternal(ctx, queryID, providerID); err != nil {
			logger.Warn("mcp_consent_failed", "query_id", queryID, "error", err)
			return toolError(fmt.Sprintf("consent failed: %v", err)), nil
		}
		return toolJSON(map[string]string{"status": "accepted"})
	}
}

func handleCancel(pipeline ports.QueryPipeline, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queryID, err := request.RequireString("query_id")
		if err != nil || queryID == "" {
			return toolError("query_id parameter is required"), nil
		}

		if err := pipeline.CancelQuery(ctx, queryID); err != nil {
			logger.Warn("mcp_cancel_failed", "query_id", queryID, "error", err)
			return toolError(fmt.Sprintf("cancel failed: %v", err)), nil
		}
		return toolJSON(map[string]string{"status": "cancelling"})
	}
}

func toolError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent("Error: " + message)},
		IsError: true,
	}
}

func toolJSON(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(raw))},
	}, nil
}
