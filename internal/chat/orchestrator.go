package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/telemetry"
	"foodflow/copilot/internal/tenancy"
	"foodflow/copilot/internal/workspace"
	"foodflow/copilot/pkg/llm"
	"foodflow/copilot/pkg/logging"
)

// Terminal run outcomes.
const (
	OutcomeCompleted          = "completed"
	OutcomeDegraded           = "degraded"
	OutcomeIterationExhausted = "iteration_exhausted"
	OutcomeProviderFailed     = "provider_failed"
)

// Fixed user-facing texts for failure outcomes. Raw provider errors never
// reach the caller.
const (
	providerFailedAnswer = "I'm sorry, I ran into a problem reaching the language model. Please try again in a moment."
	budgetExceededAnswer = "I apologize, but I've reached the maximum number of steps for this request. Please try rephrasing your question or breaking it into smaller parts."
	timeoutAnswer        = "I ran out of time working on this request. Please try again, or break the question into smaller parts."
)

const (
	defaultMaxIterations   = 5
	defaultRunTimeout      = 60 * time.Second
	defaultToolTimeout     = 10 * time.Second
	defaultToolParallelism = 3
	defaultHistoryWindow   = 10
)

type OrchestratorConfig struct {
	Provider     llm.Provider
	ProviderName string
	Model        string
	Catalogs     map[string]*catalog.Catalog
	Store        *ConversationStore
	Sink         *telemetry.Sink
	Usage        *telemetry.UsageTracker
	Logger       logging.Logger

	MaxIterations   int
	RunTimeout      time.Duration
	ToolTimeout     time.Duration
	ToolParallelism int
	HistoryWindow   int
	LockWait        time.Duration
}

// Orchestrator drives the bounded tool-calling loop: at most MaxIterations
// provider round trips inside one RunTimeout cancellation context, with
// same-turn tool calls fanned out concurrently and their results appended in
// invocation order.
type Orchestrator struct {
	provider     llm.Provider
	providerName string
	model        string
	catalogs     map[string]*catalog.Catalog
	store        *ConversationStore
	sink         *telemetry.Sink
	usage        *telemetry.UsageTracker
	logger       logging.Logger
	locks        *conversationLocks

	maxIterations   int
	runTimeout      time.Duration
	toolTimeout     time.Duration
	toolParallelism int
	historyWindow   int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		provider:        cfg.Provider,
		providerName:    cfg.ProviderName,
		model:           cfg.Model,
		catalogs:        cfg.Catalogs,
		store:           cfg.Store,
		sink:            cfg.Sink,
		usage:           cfg.Usage,
		logger:          cfg.Logger,
		locks:           newConversationLocks(cfg.LockWait),
		maxIterations:   cfg.MaxIterations,
		runTimeout:      cfg.RunTimeout,
		toolTimeout:     cfg.ToolTimeout,
		toolParallelism: cfg.ToolParallelism,
		historyWindow:   cfg.HistoryWindow,
	}
	if o.maxIterations <= 0 {
		o.maxIterations = defaultMaxIterations
	}
	if o.runTimeout <= 0 {
		o.runTimeout = defaultRunTimeout
	}
	if o.toolTimeout <= 0 {
		o.toolTimeout = defaultToolTimeout
	}
	if o.toolParallelism <= 0 {
		o.toolParallelism = defaultToolParallelism
	}
	if o.historyWindow <= 0 {
		o.historyWindow = defaultHistoryWindow
	}
	return o
}

type AskRequest struct {
	Workspace      string
	ConversationID string
	Question       string
	Context        map[string]any
}

type AskResult struct {
	ConversationID string
	InteractionID  string
	Answer         string
	Outcome        string
	ToolsUsed      []string
	IterationsUsed int
	TokensUsed     int
	Duration       time.Duration
	Actions        []workspace.Action
}

// Ask runs one orchestration loop for the caller identified by the context.
// Every terminal outcome returns a well-formed result and writes exactly one
// interaction record.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	startedAt := time.Now()
	identity := tenancy.IdentityFrom(ctx)
	if identity.TenantID == "" {
		return AskResult{}, fmt.Errorf("tenant ID is required")
	}

	cat, ok := o.catalogs[req.Workspace]
	if !ok {
		return AskResult{}, fmt.Errorf("%w: %q", workspace.ErrUnknownWorkspace, req.Workspace)
	}

	conversationID := req.ConversationID
	isNewConversation := conversationID == ""
	if isNewConversation {
		var err error
		conversationID, err = o.store.CreateConversation(ctx, req.Workspace, req.Question)
		if err != nil {
			return AskResult{}, err
		}
	}

	release, err := o.locks.acquire(ctx, conversationID)
	if err != nil {
		return AskResult{}, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	if err := o.store.AddMessage(runCtx, conversationID, Message{
		Role:    llm.RoleUser,
		Content: req.Question,
	}); err != nil {
		return AskResult{}, err
	}

	messages, err := o.buildPrompt(runCtx, req, conversationID, isNewConversation)
	if err != nil {
		return AskResult{}, err
	}

	persist := func(msg Message) {
		o.persistMessage(runCtx, conversationID, msg)
	}
	run := o.runLoop(runCtx, cat, messages, persist)

	result := AskResult{
		ConversationID: conversationID,
		Answer:         run.answer,
		Outcome:        run.outcome,
		ToolsUsed:      run.toolsUsed,
		IterationsUsed: run.iterations,
		TokensUsed:     run.tokens,
		Duration:       time.Since(startedAt),
		Actions:        workspace.ActionsFor(req.Workspace, run.toolsUsed, req.Context),
	}

	toolsJSON, _ := json.Marshal(run.toolsUsed)
	o.persistMessage(runCtx, conversationID, Message{
		Role:       llm.RoleAssistant,
		Content:    run.answer,
		ToolsUsed:  toolsJSON,
		TokensUsed: run.tokens,
	})
	var metadata map[string]any
	if run.timedOut {
		metadata = map[string]any{"timed_out": true}
	}
	result.InteractionID = o.recordRun(ctx, identity, req, result, metadata)

	runsTotal.WithLabelValues(req.Workspace, result.Outcome).Inc()
	runDuration.WithLabelValues(req.Workspace).Observe(result.Duration.Seconds())
	runIterations.Observe(float64(result.IterationsUsed))
	if o.usage != nil {
		o.usage.RecordAsk(identity.TenantID)
	}

	return result, nil
}

// buildPrompt assembles system prompt, recent history window, and the current
// question. Earlier runs' tool results are excluded from the window; the
// current run's tool results are appended to the working set as they arrive.
func (o *Orchestrator) buildPrompt(ctx context.Context, req AskRequest, conversationID string, isNew bool) ([]llm.Message, error) {
	system := workspace.SystemPrompt(req.Workspace)
	if len(req.Context) > 0 {
		if extra, err := json.Marshal(req.Context); err == nil {
			system += "\n\nCurrent page context: " + string(extra)
		}
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}

	if !isNew {
		window, err := o.store.RecentWindow(ctx, conversationID, o.historyWindow)
		if err != nil {
			return nil, err
		}
		for _, msg := range window {
			messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
		}
	}

	// The user message was already persisted; the window may or may not have
	// picked it up depending on ordering, so dedupe against the tail.
	if last := len(messages) - 1; last < 1 || messages[last].Role != llm.RoleUser || messages[last].Content != req.Question {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Question})
	}

	return messages, nil
}

type runState struct {
	answer     string
	outcome    string
	toolsUsed  []string
	iterations int
	tokens     int
	degraded   bool
	timedOut   bool
}

func (o *Orchestrator) runLoop(ctx context.Context, cat *catalog.Catalog, messages []llm.Message, persist func(Message)) runState {
	var run runState
	tools := cat.Specs()
	tenantID := tenancy.IdentityFrom(ctx).TenantID

	for run.iterations < o.maxIterations {
		run.iterations++

		llmStart := time.Now()
		completion, err := o.provider.Complete(ctx, messages, tools)
		llmDuration.WithLabelValues(o.providerName, o.model).Observe(time.Since(llmStart).Seconds())
		if err != nil {
			llmCallsTotal.WithLabelValues(o.providerName, o.model, "error").Inc()
			if ctx.Err() != nil {
				run.outcome = OutcomeIterationExhausted
				run.answer = timeoutAnswer
				run.timedOut = true
				return run
			}
			if o.logger != nil {
				o.logger.WithError(err).Warn("Provider call failed")
			}
			run.outcome = OutcomeProviderFailed
			run.answer = providerFailedAnswer
			return run
		}
		llmCallsTotal.WithLabelValues(o.providerName, o.model, "success").Inc()
		llmTokensTotal.WithLabelValues(o.providerName, o.model, "input").Add(float64(completion.TokensIn))
		llmTokensTotal.WithLabelValues(o.providerName, o.model, "output").Add(float64(completion.TokensOut))
		run.tokens += completion.Tokens
		if o.usage != nil {
			o.usage.RecordLLMCall(tenantID, completion.TokensIn, completion.TokensOut)
		}

		if completion.Final() {
			run.answer = completion.Answer
			run.outcome = OutcomeCompleted
			if run.degraded {
				run.outcome = OutcomeDegraded
			}
			return run
		}

		assistant := llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Answer,
			ToolCalls: completion.ToolCalls,
		}
		messages = append(messages, assistant)
		persist(assistantRecord(assistant, completion.Tokens))

		outcomes := o.executeBatch(ctx, cat, tenantID, completion.ToolCalls)
		for i, result := range outcomes {
			call := completion.ToolCalls[i]
			run.toolsUsed = appendToolName(run.toolsUsed, call.Name)
			if result.Degraded {
				run.degraded = true
			}
			text := result.Text()
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    text,
				Name:       call.Name,
				ToolCallID: call.ID,
			})
			persist(Message{Role: llm.RoleTool, Content: text})
		}

		if run.iterations == o.maxIterations-1 {
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: "[System note: you have one remaining step. Answer now with the information already gathered; do not request more tools.]",
			})
		}
	}

	run.outcome = OutcomeIterationExhausted
	run.answer = budgetExceededAnswer
	return run
}

// executeBatch fans the turn's tool calls out with bounded parallelism and
// returns results indexed by invocation order. Failures stay isolated per
// tool; a panic-free structured error result is all the model ever sees.
func (o *Orchestrator) executeBatch(ctx context.Context, cat *catalog.Catalog, tenantID string, calls []llm.ToolCall) []catalog.Result {
	results := make([]catalog.Result, len(calls))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.toolParallelism)
	for i, call := range calls {
		g.Go(func() error {
			toolCtx, cancel := context.WithTimeout(groupCtx, o.toolTimeout)
			defer cancel()

			toolStart := time.Now()
			result := cat.Invoke(toolCtx, call.Name, call.Arguments)
			toolDuration.WithLabelValues(call.Name).Observe(time.Since(toolStart).Seconds())
			toolExecutionsTotal.WithLabelValues(call.Name, toolStatus(result, toolCtx)).Inc()
			if o.usage != nil {
				o.usage.RecordToolCall(tenantID)
			}
			if result.IsError && o.logger != nil {
				o.logger.WithField("tool", call.Name).Warn("Tool execution returned an error result")
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func toolStatus(result catalog.Result, ctx context.Context) string {
	switch {
	case result.Degraded:
		return "degraded"
	case result.IsError && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case result.IsError:
		return "error"
	default:
		return "ok"
	}
}

// persistMessage writes one message as the run produces it. A failed or
// expired-context write never fails the run; the caller still gets its
// answer and the failure is logged.
func (o *Orchestrator) persistMessage(ctx context.Context, conversationID string, msg Message) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := o.store.AddMessage(ctx, conversationID, msg); err != nil {
		o.warn(err, conversationID, "Failed to persist message")
	}
}

func (o *Orchestrator) recordRun(ctx context.Context, identity tenancy.Identity, req AskRequest, result AskResult, metadata map[string]any) string {
	if o.sink == nil {
		return ""
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	interactionID, err := o.sink.RecordInteraction(recordCtx, telemetry.Interaction{
		TenantID:       identity.TenantID,
		UserID:         identity.UserID,
		Workspace:      req.Workspace,
		ConversationID: result.ConversationID,
		Question:       req.Question,
		Answer:         result.Answer,
		Outcome:        result.Outcome,
		ToolsUsed:      result.ToolsUsed,
		TokensUsed:     result.TokensUsed,
		Duration:       result.Duration,
		Metadata:       metadata,
	})
	if err != nil {
		o.warn(err, result.ConversationID, "Failed to record interaction")
		return ""
	}
	return interactionID
}

func (o *Orchestrator) warn(err error, conversationID, msg string) {
	if o.logger == nil {
		return
	}
	o.logger.WithError(err).WithField("conversation_id", conversationID).Warn(msg)
}

func assistantRecord(msg llm.Message, tokens int) Message {
	record := Message{
		Role:       llm.RoleAssistant,
		Content:    msg.Content,
		TokensUsed: tokens,
	}
	if len(msg.ToolCalls) > 0 {
		calls := make([]map[string]any, 0, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			entry := map[string]any{"id": call.ID, "name": call.Name}
			if call.Arguments != "" {
				entry["arguments"] = json.RawMessage(call.Arguments)
			}
			calls = append(calls, entry)
		}
		if raw, err := json.Marshal(calls); err == nil {
			record.FunctionCall = raw
		}
	}
	return record
}

func appendToolName(tools []string, name string) []string {
	for _, existing := range tools {
		if existing == name {
			return tools
		}
	}
	return append(tools, name)
}
