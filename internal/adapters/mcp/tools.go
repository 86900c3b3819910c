// Package mcpadapter exposes the answer pipeline as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
)

type Tools struct {
	answers       ports.AnswerResolver
	models        ports.ModelAdmin
	defaultTopK   int
	useGeneration bool
}

func NewTools(answers ports.AnswerResolver, models ports.ModelAdmin, defaultTopK int, useGeneration bool) *Tools {
	return &Tools{answers: answers, models: models, defaultTopK: defaultTopK, useGeneration: useGeneration}
}

// NewServer registers ask_tenant and list_models on a fresh MCP server.
func NewServer(name, version string, tools *Tools) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false), server.WithRecovery())

	s.AddTool(mcp.NewTool("ask_tenant",
		mcp.WithDescription("Answer a question from the document corpus of one tenant."),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant whose documents are searched")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Question in natural language")),
		mcp.WithNumber("top_k", mcp.Description("Number of sections to retrieve")),
		mcp.WithBoolean("use_generation", mcp.Description("Allow the language model to phrase the answer")),
	), tools.AskTenant)

	s.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List the model tiers and the models installed at the generation backend."),
	), tools.ListModels)

	return s
}

func (t *Tools) AskTenant(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := request.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	answer, err := t.answers.Resolve(ctx, domain.AnswerRequest{
		TenantID:      tenantID,
		Query:         query,
		TopK:          request.GetInt("top_k", t.defaultTopK),
		UseGeneration: request.GetBool("use_generation", t.useGeneration),
	})
	if err != nil {
		slog.Warn("mcp_tool_failed", "tool", "ask_tenant", "tenant_id", tenantID, "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	return jsonResult(answer)
}

func (t *Tools) ListModels(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := struct {
		Tiers        []domain.ModelTierConfig `json:"tiers"`
		Installed    []string                 `json:"installed"`
		CatalogError string                   `json:"catalog_error,omitempty"`
	}{Tiers: t.models.Tiers(), Installed: []string{}}

	installed, err := t.models.InstalledModels(ctx)
	if err != nil {
		out.CatalogError = err.Error()
	} else if installed != nil {
		out.Installed = installed
	}
	return jsonResult(out)
}

func toolErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrTenantNotFound):
		return "unknown tenant: " + err.Error()
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid request: " + err.Error()
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrBackendUnavailable):
		return "temporarily unavailable, retry later: " + err.Error()
	default:
		return err.Error()
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
