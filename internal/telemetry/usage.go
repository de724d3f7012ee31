package telemetry

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"foodflow/copilot/pkg/logging"
)

// Usage event types written to copilot.copilot_usage.
const (
	UsageAsk       = "ask"
	UsageLLMCall   = "llm_call"
	UsageToolCall  = "tool_call"
	UsageSearch    = "search_query"
	UsageEmbedding = "embedding"
)

type UsageTrackerConfig struct {
	DB            *sql.DB
	Logger        logging.Logger
	Model         string
	FlushInterval time.Duration
}

// UsageTracker buffers per-tenant usage counters in memory and flushes them
// to copilot.copilot_usage on an interval. Counters that fail to persist are
// merged back so a transient database error loses nothing.
type UsageTracker struct {
	db            *sql.DB
	logger        logging.Logger
	model         string
	flushInterval time.Duration
	stopOnce      sync.Once
	stopCh        chan struct{}

	mu       sync.Mutex
	byTenant map[string]*tenantUsage
}

type tenantUsage struct {
	asks         int
	llmCalls     int
	inputTokens  int
	outputTokens int
	toolCalls    int
	searches     int
	embeddings   int
}

func (u *tenantUsage) empty() bool {
	return u.asks == 0 && u.llmCalls == 0 && u.toolCalls == 0 && u.searches == 0 && u.embeddings == 0
}

func (u *tenantUsage) merge(other *tenantUsage) {
	u.asks += other.asks
	u.llmCalls += other.llmCalls
	u.inputTokens += other.inputTokens
	u.outputTokens += other.outputTokens
	u.toolCalls += other.toolCalls
	u.searches += other.searches
	u.embeddings += other.embeddings
}

func NewUsageTracker(cfg UsageTrackerConfig) *UsageTracker {
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Minute
	}
	return &UsageTracker{
		db:            cfg.DB,
		logger:        cfg.Logger,
		model:         cfg.Model,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		byTenant:      make(map[string]*tenantUsage),
	}
}

func (t *UsageTracker) Start() {
	if t == nil {
		return
	}
	go t.loop()
}

// Stop ends the flush loop and performs a final flush. Safe to call twice.
func (t *UsageTracker) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

func (t *UsageTracker) RecordAsk(tenantID string) {
	t.record(tenantID, func(u *tenantUsage) { u.asks++ })
}

func (t *UsageTracker) RecordLLMCall(tenantID string, inputTokens, outputTokens int) {
	t.record(tenantID, func(u *tenantUsage) {
		u.llmCalls++
		u.inputTokens += inputTokens
		u.outputTokens += outputTokens
	})
}

func (t *UsageTracker) RecordToolCall(tenantID string) {
	t.record(tenantID, func(u *tenantUsage) { u.toolCalls++ })
}

func (t *UsageTracker) RecordSearchQuery(tenantID string) {
	t.record(tenantID, func(u *tenantUsage) { u.searches++ })
}

func (t *UsageTracker) RecordEmbedding(tenantID string) {
	t.record(tenantID, func(u *tenantUsage) { u.embeddings++ })
}

func (t *UsageTracker) record(tenantID string, apply func(*tenantUsage)) {
	if t == nil || tenantID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	usage, ok := t.byTenant[tenantID]
	if !ok {
		usage = &tenantUsage{}
		t.byTenant[tenantID] = usage
	}
	apply(usage)
}

func (t *UsageTracker) loop() {
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Flush(context.Background())
		case <-t.stopCh:
			t.Flush(context.Background())
			return
		}
	}
}

// Flush persists and clears the buffered counters.
func (t *UsageTracker) Flush(ctx context.Context) {
	if t == nil || t.db == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	if len(t.byTenant) == 0 {
		t.mu.Unlock()
		return
	}
	snapshot := t.byTenant
	t.byTenant = make(map[string]*tenantUsage)
	t.mu.Unlock()

	for tenantID, usage := range snapshot {
		if usage.empty() {
			continue
		}
		if err := t.persist(ctx, tenantID, usage); err != nil {
			t.requeue(tenantID, usage)
			if t.logger != nil {
				t.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to persist usage, requeued")
			}
		}
	}
}

func (t *UsageTracker) persist(ctx context.Context, tenantID string, usage *tenantUsage) error {
	if usage.asks > 0 {
		if err := t.insertRow(ctx, tenantID, UsageAsk, usage.asks, 0, 0, ""); err != nil {
			return err
		}
	}
	if usage.llmCalls > 0 {
		if err := t.insertRow(ctx, tenantID, UsageLLMCall, usage.llmCalls, usage.inputTokens, usage.outputTokens, t.model); err != nil {
			return err
		}
	}
	if usage.toolCalls > 0 {
		if err := t.insertRow(ctx, tenantID, UsageToolCall, usage.toolCalls, 0, 0, ""); err != nil {
			return err
		}
	}
	if usage.searches > 0 {
		if err := t.insertRow(ctx, tenantID, UsageSearch, usage.searches, 0, 0, ""); err != nil {
			return err
		}
	}
	if usage.embeddings > 0 {
		if err := t.insertRow(ctx, tenantID, UsageEmbedding, usage.embeddings, 0, 0, ""); err != nil {
			return err
		}
	}
	return nil
}

func (t *UsageTracker) insertRow(ctx context.Context, tenantID, eventType string, count, tokensIn, tokensOut int, model string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO copilot.copilot_usage
			(tenant_id, event_type, event_count, tokens_input, tokens_output, model)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tenantID, eventType, count, tokensIn, tokensOut, nullableText(model))
	return err
}

func (t *UsageTracker) requeue(tenantID string, usage *tenantUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.byTenant[tenantID]
	if !ok {
		t.byTenant[tenantID] = usage
		return
	}
	current.merge(usage)
}
