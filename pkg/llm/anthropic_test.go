package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Error("expected api key header")
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "system note" {
			t.Errorf("system = %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "Hello world"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	provider := NewAnthropicProvider(Config{APIURL: srv.URL, APIKey: "test-key", Model: "claude-test"})
	completion, err := provider.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "system note"},
		{Role: RoleUser, Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Answer != "Hello world" {
		t.Errorf("Answer = %q", completion.Answer)
	}
	if completion.Tokens != 16 {
		t.Errorf("Tokens = %d, want 16", completion.Tokens)
	}
}

func TestAnthropicProviderToolUseResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "Checking the lot."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_lot_details", "input": {"lot_id": "abc"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 20, "output_tokens": 10}
		}`))
	}))
	defer srv.Close()

	provider := NewAnthropicProvider(Config{APIURL: srv.URL, APIKey: "k", Model: "m"})
	completion, err := provider.Complete(context.Background(), []Message{{Role: RoleUser, Content: "lot abc?"}}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Final() {
		t.Error("expected tool-use completion")
	}
	if len(completion.ToolCalls) != 1 || completion.ToolCalls[0].Name != "get_lot_details" {
		t.Fatalf("unexpected tool calls %+v", completion.ToolCalls)
	}
	if !strings.Contains(completion.ToolCalls[0].Arguments, `"lot_id"`) {
		t.Errorf("Arguments = %q", completion.ToolCalls[0].Arguments)
	}
}

func TestAnthropicProviderToolResultMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		foundToolUse := false
		foundToolResult := false
		for _, msg := range req.Messages {
			for _, block := range msg.Content {
				switch block.Type {
				case "tool_use":
					foundToolUse = true
					if msg.Role != "assistant" {
						t.Errorf("tool_use role = %q, want assistant", msg.Role)
					}
					if block.ID != "toolu_1" || block.Name != "get_lot_details" {
						t.Errorf("unexpected tool_use block %+v", block)
					}
				case "tool_result":
					foundToolResult = true
					if msg.Role != "user" {
						t.Errorf("tool_result role = %q, want user", msg.Role)
					}
					if block.ToolUseID != "toolu_1" {
						t.Errorf("tool_use_id = %q", block.ToolUseID)
					}
				}
			}
		}
		if !foundToolUse || !foundToolResult {
			t.Errorf("tool_use=%v tool_result=%v, want both", foundToolUse, foundToolResult)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	provider := NewAnthropicProvider(Config{APIURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := provider.Complete(context.Background(), []Message{
		{Role: RoleUser, Content: "lot abc?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "toolu_1", Name: "get_lot_details", Arguments: `{"lot_id":"abc"}`}}},
		{Role: RoleTool, ToolCallID: "toolu_1", Content: `{"status":"released"}`},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestAnthropicProviderDefaultMaxTokens(t *testing.T) {
	p := NewAnthropicProvider(Config{Model: "test"})
	if p.maxTokens != defaultAnthropicMaxTokens {
		t.Errorf("maxTokens = %d, want %d", p.maxTokens, defaultAnthropicMaxTokens)
	}
	p2 := NewAnthropicProvider(Config{Model: "test", MaxTokens: 1})
	if p2.maxTokens != 1 {
		t.Errorf("maxTokens = %d, want 1", p2.maxTokens)
	}
}

func TestAnthropicProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMultipleChoices)
		_, _ = w.Write([]byte("redirect"))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Config{APIURL: srv.URL, APIKey: "k", Model: "m"})
	if _, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error for status 300")
	}
}
