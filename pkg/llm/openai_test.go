package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-test" {
			t.Errorf("model = %q, want gpt-test", req.Model)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "get_line_status" {
			t.Errorf("tools not forwarded: %+v", req.Tools)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Line 3 is running."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 8, "total_tokens": 48}
		}`))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(Config{Model: "gpt-test", APIURL: srv.URL})
	completion, err := provider.Complete(context.Background(),
		[]Message{{Role: RoleUser, Content: "how is line 3?"}},
		[]Tool{{Name: "get_line_status", Parameters: map[string]interface{}{"type": "object"}}},
	)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !completion.Final() {
		t.Error("expected final completion")
	}
	if completion.Answer != "Line 3 is running." {
		t.Errorf("Answer = %q", completion.Answer)
	}
	if completion.Tokens != 48 {
		t.Errorf("Tokens = %d, want 48", completion.Tokens)
	}
}

func TestOpenAIProviderCompleteToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_line_status", "arguments": "{\"line_id\":\"42\"}"}}
			]}, "finish_reason": "tool_calls"}],
			"usage": {"total_tokens": 30}
		}`))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(Config{Model: "gpt-test", APIURL: srv.URL})
	completion, err := provider.Complete(context.Background(), []Message{{Role: RoleUser, Content: "status?"}}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Final() {
		t.Error("expected tool-call completion, got final")
	}
	if len(completion.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(completion.ToolCalls))
	}
	call := completion.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "get_line_status" {
		t.Errorf("unexpected call %+v", call)
	}
	if call.Arguments != `{"line_id":"42"}` {
		t.Errorf("Arguments = %q", call.Arguments)
	}
}

func TestOpenAIProviderReplaysToolCallTurns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 3 {
			t.Fatalf("messages = %d, want 3", len(req.Messages))
		}
		assistant := req.Messages[1]
		if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
			t.Errorf("assistant tool_calls not replayed: %+v", assistant)
		}
		if assistant.ToolCalls[0].Type != "function" {
			t.Errorf("tool call type = %q", assistant.ToolCalls[0].Type)
		}
		toolMsg := req.Messages[2]
		if toolMsg.Role != RoleTool || toolMsg.ToolCallID != "call_1" {
			t.Errorf("tool result not paired: %+v", toolMsg)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}],"usage":{"total_tokens":10}}`))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(Config{Model: "gpt-test", APIURL: srv.URL})
	_, err := provider.Complete(context.Background(), []Message{
		{Role: RoleUser, Content: "status?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "get_line_status", Arguments: `{"line_id":"42"}`}}},
		{Role: RoleTool, Name: "get_line_status", ToolCallID: "call_1", Content: `{"status":"running"}`},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestOpenAIProviderCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(Config{Model: "gpt-test", APIURL: srv.URL})
	if _, err := provider.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error on 503 response")
	}
}

func TestOpenAIProviderRequiresModel(t *testing.T) {
	provider := NewOpenAIProvider(Config{})
	if _, err := provider.Complete(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error when model is empty")
	}
}
