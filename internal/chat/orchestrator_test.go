package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/jsonschema-go/jsonschema"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/telemetry"
	"foodflow/copilot/internal/tenancy"
	"foodflow/copilot/pkg/llm"
)

type providerStep struct {
	completion *llm.Completion
	err        error
}

// fakeProvider replays scripted completions and records every call. When the
// script runs out, the last step repeats.
type fakeProvider struct {
	mu    sync.Mutex
	steps []providerStep
	calls [][]llm.Message
	block bool
}

func (p *fakeProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Completion, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, messages)
	idx := len(p.calls) - 1
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	step := p.steps[idx]
	return step.completion, step.err
}

func finalStep(answer string) providerStep {
	return providerStep{completion: &llm.Completion{Answer: answer, Tokens: 10, TokensIn: 7, TokensOut: 3}}
}

func toolStep(calls ...llm.ToolCall) providerStep {
	return providerStep{completion: &llm.Completion{ToolCalls: calls, Tokens: 20, TokensIn: 15, TokensOut: 5}}
}

func statusCatalog(t *testing.T, handler catalog.Func) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(catalog.Definition{
		Name:        "get_status",
		Description: "Get entity status",
		Parameters: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"id": {Type: "string"}},
			Required:   []string{"id"},
		},
		Handler: handler,
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func discardPersist(Message) {}

func loopOrchestrator(provider llm.Provider) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Provider:     provider,
		ProviderName: "test",
		Model:        "test-model",
	})
}

func identCtx() context.Context {
	return tenancy.WithIdentity(context.Background(), tenancy.Identity{TenantID: "tenant-1", UserID: "user-1"})
}

func TestRunLoopSingleTool(t *testing.T) {
	var gotArgs map[string]any
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) {
		gotArgs = args
		return map[string]any{"status": "running"}, nil
	})
	provider := &fakeProvider{steps: []providerStep{
		toolStep(llm.ToolCall{ID: "call-1", Name: "get_status", Arguments: `{"id":"42"}`}),
		finalStep("Unit 42 is running."),
	}}

	var persisted []Message
	run := loopOrchestrator(provider).runLoop(identCtx(), cat,
		[]llm.Message{{Role: llm.RoleSystem, Content: "s"}, {Role: llm.RoleUser, Content: "status of 42?"}},
		func(m Message) { persisted = append(persisted, m) })

	if run.outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", run.outcome)
	}
	if run.iterations != 2 {
		t.Errorf("iterations = %d, want 2", run.iterations)
	}
	if len(run.toolsUsed) != 1 || run.toolsUsed[0] != "get_status" {
		t.Errorf("toolsUsed = %v", run.toolsUsed)
	}
	if run.answer != "Unit 42 is running." {
		t.Errorf("answer = %q", run.answer)
	}
	if gotArgs["id"] != "42" {
		t.Errorf("handler args = %v", gotArgs)
	}

	// Assistant tool-call record then the tool result, persisted as produced.
	if len(persisted) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(persisted))
	}
	if persisted[0].Role != llm.RoleAssistant || len(persisted[0].FunctionCall) == 0 {
		t.Errorf("first persisted message: %+v", persisted[0])
	}
	if persisted[1].Role != llm.RoleTool || !strings.Contains(persisted[1].Content, "running") {
		t.Errorf("second persisted message: %+v", persisted[1])
	}

	// The second provider call must see the tool result.
	second := provider.calls[1]
	if second[len(second)-1].Role != llm.RoleTool {
		t.Errorf("last message of second call = %+v", second[len(second)-1])
	}
}

func TestRunLoopPreservesInvocationOrder(t *testing.T) {
	started := make(chan struct{})
	cat, err := catalog.New(
		catalog.Definition{
			Name: "slow",
			Handler: catalog.Func(func(ctx context.Context, args map[string]any) (any, error) {
				<-started // finishes after fast has already run
				return "slow-result", nil
			}),
		},
		catalog.Definition{
			Name: "fast",
			Handler: catalog.Func(func(ctx context.Context, args map[string]any) (any, error) {
				close(started)
				return "fast-result", nil
			}),
		},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	provider := &fakeProvider{steps: []providerStep{
		toolStep(
			llm.ToolCall{ID: "c1", Name: "slow", Arguments: `{}`},
			llm.ToolCall{ID: "c2", Name: "fast", Arguments: `{}`},
		),
		finalStep("done"),
	}}

	var toolMessages []string
	loopOrchestrator(provider).runLoop(identCtx(), cat,
		[]llm.Message{{Role: llm.RoleUser, Content: "q"}},
		func(m Message) {
			if m.Role == llm.RoleTool {
				toolMessages = append(toolMessages, m.Content)
			}
		})

	if len(toolMessages) != 2 {
		t.Fatalf("got %d tool messages, want 2", len(toolMessages))
	}
	if toolMessages[0] != "slow-result" || toolMessages[1] != "fast-result" {
		t.Errorf("tool results out of invocation order: %v", toolMessages)
	}
}

func TestRunLoopProviderFailure(t *testing.T) {
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	provider := &fakeProvider{steps: []providerStep{{err: errors.New("upstream 503")}}}

	run := loopOrchestrator(provider).runLoop(identCtx(), cat,
		[]llm.Message{{Role: llm.RoleUser, Content: "q"}}, discardPersist)

	if run.outcome != OutcomeProviderFailed {
		t.Errorf("outcome = %s, want provider_failed", run.outcome)
	}
	if run.answer != providerFailedAnswer {
		t.Errorf("answer = %q", run.answer)
	}
	if strings.Contains(run.answer, "503") {
		t.Error("raw provider error leaked into the answer")
	}
}

func TestRunLoopDegradedSearch(t *testing.T) {
	cat, err := catalog.New(catalog.Definition{
		Name:    "search_documents",
		Kind:    catalog.KindDegradable,
		Handler: catalog.NewDegradable(nil, "Documents have not been indexed."),
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	provider := &fakeProvider{steps: []providerStep{
		toolStep(llm.ToolCall{ID: "c1", Name: "search_documents", Arguments: `{"query":"allergen policy"}`}),
		finalStep("I don't have indexed documents yet, but here is what I know."),
	}}

	run := loopOrchestrator(provider).runLoop(identCtx(), cat,
		[]llm.Message{{Role: llm.RoleUser, Content: "q"}}, discardPersist)

	if run.outcome != OutcomeDegraded {
		t.Errorf("outcome = %s, want degraded", run.outcome)
	}
	if len(run.toolsUsed) != 1 || run.toolsUsed[0] != "search_documents" {
		t.Errorf("toolsUsed = %v", run.toolsUsed)
	}
	if run.answer == "" {
		t.Error("expected a final answer despite degraded capability")
	}
}

func TestRunLoopIterationBudget(t *testing.T) {
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) {
		return "data", nil
	})
	// Never produces a final answer.
	provider := &fakeProvider{steps: []providerStep{
		toolStep(llm.ToolCall{ID: "c", Name: "get_status", Arguments: `{"id":"1"}`}),
	}}

	run := loopOrchestrator(provider).runLoop(identCtx(), cat,
		[]llm.Message{{Role: llm.RoleUser, Content: "q"}}, discardPersist)

	if run.outcome != OutcomeIterationExhausted {
		t.Errorf("outcome = %s, want iteration_exhausted", run.outcome)
	}
	if run.iterations != defaultMaxIterations {
		t.Errorf("iterations = %d, want %d", run.iterations, defaultMaxIterations)
	}
	if run.answer != budgetExceededAnswer {
		t.Errorf("answer = %q", run.answer)
	}
	if run.timedOut {
		t.Error("exhausted budget is not a timeout")
	}
}

func TestRunLoopTimeout(t *testing.T) {
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	provider := &fakeProvider{block: true}

	ctx, cancel := context.WithTimeout(identCtx(), 50*time.Millisecond)
	defer cancel()

	run := loopOrchestrator(provider).runLoop(ctx, cat,
		[]llm.Message{{Role: llm.RoleUser, Content: "q"}}, discardPersist)

	if run.outcome != OutcomeIterationExhausted {
		t.Errorf("outcome = %s, want iteration_exhausted", run.outcome)
	}
	if run.answer != timeoutAnswer {
		t.Errorf("answer = %q", run.answer)
	}
	if !run.timedOut {
		t.Error("timed-out run should be marked as such")
	}
}

func TestRunLoopIsolatesToolFailure(t *testing.T) {
	cat, err := catalog.New(
		catalog.Definition{
			Name: "broken",
			Handler: catalog.Func(func(ctx context.Context, args map[string]any) (any, error) {
				return nil, errors.New("boom")
			}),
		},
		catalog.Definition{
			Name: "healthy",
			Handler: catalog.Func(func(ctx context.Context, args map[string]any) (any, error) {
				return "fine", nil
			}),
		},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	provider := &fakeProvider{steps: []providerStep{
		toolStep(
			llm.ToolCall{ID: "c1", Name: "broken", Arguments: `{}`},
			llm.ToolCall{ID: "c2", Name: "healthy", Arguments: `{}`},
		),
		finalStep("partial answer"),
	}}

	run := loopOrchestrator(provider).runLoop(identCtx(), cat,
		[]llm.Message{{Role: llm.RoleUser, Content: "q"}}, discardPersist)

	if run.outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", run.outcome)
	}

	// The failed tool's error went back to the model as a structured result.
	second := provider.calls[1]
	var sawError bool
	for _, msg := range second {
		if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "boom") {
			sawError = true
		}
	}
	if !sawError {
		t.Error("broken tool's error result never reached the model")
	}
}

func askOrchestrator(t *testing.T, provider llm.Provider, cat *catalog.Catalog) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewOrchestrator(OrchestratorConfig{
		Provider:     provider,
		ProviderName: "test",
		Model:        "test-model",
		Catalogs:     map[string]*catalog.Catalog{"plantops": cat},
		Store:        NewConversationStore(db),
		Sink:         telemetry.NewSink(db, nil),
		LockWait:     50 * time.Millisecond,
	}), mock
}

func expectMessageInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("INSERT INTO copilot.copilot_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("msg"))
	mock.ExpectExec("UPDATE copilot.copilot_conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestAskRecordsExactlyOneInteraction(t *testing.T) {
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"status": "running"}, nil
	})
	provider := &fakeProvider{steps: []providerStep{
		toolStep(llm.ToolCall{ID: "c1", Name: "get_status", Arguments: `{"id":"42"}`}),
		finalStep("All good."),
	}}
	orch, mock := askOrchestrator(t, provider, cat)

	mock.ExpectExec("INSERT INTO copilot.copilot_conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectMessageInsert(mock) // user question
	expectMessageInsert(mock) // assistant tool-call record
	expectMessageInsert(mock) // tool result
	expectMessageInsert(mock) // final answer
	mock.ExpectExec("INSERT INTO copilot.copilot_interactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := orch.Ask(identCtx(), AskRequest{Workspace: "plantops", Question: "status of 42?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != OutcomeCompleted || result.Answer != "All good." {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.InteractionID == "" {
		t.Error("expected interaction id")
	}
	if result.IterationsUsed != 2 {
		t.Errorf("iterations = %d, want 2", result.IterationsUsed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAskRecordsInteractionOnProviderFailure(t *testing.T) {
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	provider := &fakeProvider{steps: []providerStep{{err: errors.New("down")}}}
	orch, mock := askOrchestrator(t, provider, cat)

	mock.ExpectExec("INSERT INTO copilot.copilot_conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectMessageInsert(mock) // user question
	expectMessageInsert(mock) // apology answer
	mock.ExpectExec("INSERT INTO copilot.copilot_interactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := orch.Ask(identCtx(), AskRequest{Workspace: "plantops", Question: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != OutcomeProviderFailed {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if result.InteractionID == "" {
		t.Error("interaction must be recorded on failure outcomes too")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAskRecordsTimeoutMarker(t *testing.T) {
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	provider := &fakeProvider{block: true}

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	orch := NewOrchestrator(OrchestratorConfig{
		Provider:     provider,
		ProviderName: "test",
		Model:        "test-model",
		Catalogs:     map[string]*catalog.Catalog{"plantops": cat},
		Store:        NewConversationStore(db),
		Sink:         telemetry.NewSink(db, nil),
		RunTimeout:   50 * time.Millisecond,
		LockWait:     50 * time.Millisecond,
	})

	mock.ExpectExec("INSERT INTO copilot.copilot_conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectMessageInsert(mock) // user question
	expectMessageInsert(mock) // timeout answer
	mock.ExpectExec("INSERT INTO copilot.copilot_interactions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			[]byte(`{"timed_out":true}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := orch.Ask(identCtx(), AskRequest{Workspace: "plantops", Question: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != OutcomeIterationExhausted || result.Answer != timeoutAnswer {
		t.Errorf("unexpected result: %+v", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAskRejectsConcurrentRunOnSameConversation(t *testing.T) {
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	provider := &fakeProvider{steps: []providerStep{finalStep("hi")}}
	orch, _ := askOrchestrator(t, provider, cat)

	release, err := orch.locks.acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = orch.Ask(identCtx(), AskRequest{
		Workspace:      "plantops",
		ConversationID: "conv-1",
		Question:       "q",
	})
	if !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("err = %v, want ErrConversationBusy", err)
	}
}

func TestAskUnknownWorkspace(t *testing.T) {
	cat := statusCatalog(t, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	provider := &fakeProvider{steps: []providerStep{finalStep("hi")}}
	orch, _ := askOrchestrator(t, provider, cat)

	_, err := orch.Ask(identCtx(), AskRequest{Workspace: "warehouse", Question: "q"})
	if err == nil || !strings.Contains(err.Error(), "unknown workspace") {
		t.Fatalf("err = %v", err)
	}
}
