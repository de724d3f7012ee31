// Package mcpserver exposes the copilot to MCP hosts: ask_copilot runs the
// full orchestration loop, search_documents queries the document store
// directly.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"foodflow/copilot/internal/chat"
	"foodflow/copilot/internal/documents"
	"foodflow/copilot/internal/tenancy"
	"foodflow/copilot/internal/workspace"
	"foodflow/copilot/pkg/logging"
	"foodflow/copilot/pkg/version"
)

const defaultSearchLimit = 5

// Asker runs one copilot orchestration for the identity on the context.
type Asker interface {
	Ask(ctx context.Context, req chat.AskRequest) (chat.AskResult, error)
}

// DocumentSearcher queries indexed documents for a tenant.
type DocumentSearcher interface {
	Search(ctx context.Context, tenantID, query string, limit int) ([]documents.SearchResult, error)
}

type Config struct {
	Orchestrator Asker
	Searcher     DocumentSearcher
	Logger       logging.Logger
	SearchLimit  int
}

// NewServer builds the MCP server with both copilot tools registered.
func NewServer(cfg Config) *mcp.Server {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = defaultSearchLimit
	}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "foodflow-copilot",
		Version: version.Version,
	}, nil)

	registerAskCopilot(srv, cfg)
	registerSearchDocuments(srv, cfg)

	return srv
}

// --- ask_copilot ---

type askCopilotInput struct {
	TenantID       string `json:"tenant_id" jsonschema:"required" jsonschema_description:"Tenant ID scoping the request"`
	UserID         string `json:"user_id,omitempty" jsonschema_description:"Acting user ID"`
	Workspace      string `json:"workspace" jsonschema:"required" jsonschema_description:"Workspace: plantops, fsq, planning, brand, or retail"`
	Question       string `json:"question" jsonschema:"required" jsonschema_description:"The question to ask the copilot"`
	ConversationID string `json:"conversation_id,omitempty" jsonschema_description:"Existing conversation to continue"`
}

type askCopilotResponse struct {
	ConversationID string   `json:"conversation_id"`
	Answer         string   `json:"answer"`
	Outcome        string   `json:"outcome"`
	ToolsUsed      []string `json:"tools_used"`
	TokensUsed     int      `json:"tokens_used"`
}

func registerAskCopilot(srv *mcp.Server, cfg Config) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "ask_copilot",
			Description: "Ask the FoodFlow copilot a question in a workspace. Runs the full tool-calling loop against plant, FSQ, planning, brand, or retail data and returns the answer.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, args askCopilotInput) (*mcp.CallToolResult, any, error) {
			return handleAskCopilot(ctx, args, cfg)
		},
	)
}

func handleAskCopilot(ctx context.Context, args askCopilotInput, cfg Config) (*mcp.CallToolResult, any, error) {
	if cfg.Orchestrator == nil {
		return toolError("copilot unavailable")
	}
	if args.TenantID == "" {
		return toolError("tenant_id is required")
	}
	question := strings.TrimSpace(args.Question)
	if question == "" {
		return toolError("question is required")
	}
	if err := workspace.Validate(args.Workspace); err != nil {
		return toolError(err.Error())
	}

	ctx = tenancy.WithIdentity(ctx, tenancy.Identity{TenantID: args.TenantID, UserID: args.UserID})
	ctx = tenancy.WithWorkspace(ctx, args.Workspace)

	result, err := cfg.Orchestrator.Ask(ctx, chat.AskRequest{
		Workspace:      args.Workspace,
		ConversationID: strings.TrimSpace(args.ConversationID),
		Question:       question,
	})
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.WithError(err).WithField("workspace", args.Workspace).Warn("ask_copilot failed")
		}
		return toolError(fmt.Sprintf("copilot error: %v", err))
	}

	toolsUsed := result.ToolsUsed
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	return toolSuccess(askCopilotResponse{
		ConversationID: result.ConversationID,
		Answer:         result.Answer,
		Outcome:        result.Outcome,
		ToolsUsed:      toolsUsed,
		TokensUsed:     result.TokensUsed,
	})
}

// --- search_documents ---

type searchDocumentsInput struct {
	TenantID string `json:"tenant_id" jsonschema:"required" jsonschema_description:"Tenant ID scoping the search"`
	Query    string `json:"query" jsonschema:"required" jsonschema_description:"Search query against indexed documents"`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Maximum number of results (default 5)"`
}

type searchDocumentsResponse struct {
	Query   string                   `json:"query"`
	Results []documents.SearchResult `json:"results"`
}

func registerSearchDocuments(srv *mcp.Server, cfg Config) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "search_documents",
			Description: "Search the tenant's indexed documents (SOPs, specs, contracts) by semantic similarity.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, args searchDocumentsInput) (*mcp.CallToolResult, any, error) {
			return handleSearchDocuments(ctx, args, cfg)
		},
	)
}

func handleSearchDocuments(ctx context.Context, args searchDocumentsInput, cfg Config) (*mcp.CallToolResult, any, error) {
	if cfg.Searcher == nil {
		return toolError("document search unavailable: documents have not been indexed")
	}
	if args.TenantID == "" {
		return toolError("tenant_id is required")
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return toolError("query is required")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = cfg.SearchLimit
	}

	results, err := cfg.Searcher.Search(ctx, args.TenantID, query, limit)
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.WithError(err).WithField("query", query).Warn("search_documents failed")
		}
		return toolError(fmt.Sprintf("document search failed: %v", err))
	}
	if results == nil {
		results = []documents.SearchResult{}
	}

	return toolSuccess(searchDocumentsResponse{Query: query, Results: results})
}

// --- helpers ---

func toolError(message string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}, nil, nil
}

func toolSuccess(result any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("failed to format result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, result, nil
}
