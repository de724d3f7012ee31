package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"foodflow/copilot/internal/chat"
	"foodflow/copilot/internal/documents"
	"foodflow/copilot/internal/tenancy"
)

type fakeAsker struct {
	lastReq    chat.AskRequest
	lastTenant string
	result     chat.AskResult
	err        error
}

func (f *fakeAsker) Ask(ctx context.Context, req chat.AskRequest) (chat.AskResult, error) {
	f.lastReq = req
	f.lastTenant = tenancy.IdentityFrom(ctx).TenantID
	return f.result, f.err
}

type fakeSearcher struct {
	lastTenant string
	lastQuery  string
	lastLimit  int
	results    []documents.SearchResult
	err        error
}

func (f *fakeSearcher) Search(_ context.Context, tenantID, query string, limit int) ([]documents.SearchResult, error) {
	f.lastTenant = tenantID
	f.lastQuery = query
	f.lastLimit = limit
	return f.results, f.err
}

func testServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	srv := NewServer(cfg)
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return srv },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func testClient(t *testing.T, url string) *mcp.ClientSession {
	t.Helper()
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: url}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func extractText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestListTools(t *testing.T) {
	ts := testServer(t, Config{})
	session := testClient(t, ts.URL)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	if !names["ask_copilot"] || !names["search_documents"] {
		t.Fatalf("unexpected tools: %v", names)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(result.Tools))
	}
}

func TestAskCopilot(t *testing.T) {
	asker := &fakeAsker{result: chat.AskResult{
		ConversationID: "conv-1",
		Answer:         "Line 3 is at 95% OEE.",
		Outcome:        "completed",
		ToolsUsed:      []string{"get_line_status"},
		TokensUsed:     321,
	}}
	ts := testServer(t, Config{Orchestrator: asker})
	session := testClient(t, ts.URL)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "ask_copilot",
		Arguments: map[string]any{
			"tenant_id": "tenant-a",
			"workspace": "plantops",
			"question":  "how is line 3?",
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result.Content)
	}

	var resp askCopilotResponse
	if err := json.Unmarshal([]byte(extractText(result)), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Answer != "Line 3 is at 95% OEE." || resp.ConversationID != "conv-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if asker.lastTenant != "tenant-a" {
		t.Errorf("tenant on context = %q", asker.lastTenant)
	}
	if asker.lastReq.Workspace != "plantops" {
		t.Errorf("workspace = %q", asker.lastReq.Workspace)
	}
}

func TestAskCopilotRejectsUnknownWorkspace(t *testing.T) {
	ts := testServer(t, Config{Orchestrator: &fakeAsker{}})
	session := testClient(t, ts.URL)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "ask_copilot",
		Arguments: map[string]any{
			"tenant_id": "tenant-a",
			"workspace": "warehouse",
			"question":  "hi",
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown workspace")
	}
}

func TestAskCopilotSurfacesOrchestratorFailure(t *testing.T) {
	ts := testServer(t, Config{Orchestrator: &fakeAsker{err: errors.New("busy")}})
	session := testClient(t, ts.URL)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "ask_copilot",
		Arguments: map[string]any{
			"tenant_id": "tenant-a",
			"workspace": "fsq",
			"question":  "trace lot",
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestSearchDocuments(t *testing.T) {
	searcher := &fakeSearcher{results: []documents.SearchResult{
		{Title: "Allergen SOP", Source: "https://docs/sop-12", Excerpt: "All lines must...", Score: 0.92},
	}}
	ts := testServer(t, Config{Searcher: searcher})
	session := testClient(t, ts.URL)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "search_documents",
		Arguments: map[string]any{
			"tenant_id": "tenant-a",
			"query":     "allergen changeover",
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result.Content)
	}

	var resp searchDocumentsResponse
	if err := json.Unmarshal([]byte(extractText(result)), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Title != "Allergen SOP" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
	if searcher.lastLimit != defaultSearchLimit {
		t.Errorf("limit = %d, want default %d", searcher.lastLimit, defaultSearchLimit)
	}
}

func TestSearchDocumentsUnavailable(t *testing.T) {
	ts := testServer(t, Config{})
	session := testClient(t, ts.URL)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "search_documents",
		Arguments: map[string]any{
			"tenant_id": "tenant-a",
			"query":     "anything",
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error when searcher is not wired")
	}
	if !strings.Contains(extractText(result), "not been indexed") {
		t.Errorf("message = %q", extractText(result))
	}
}
