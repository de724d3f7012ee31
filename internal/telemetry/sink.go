// Package telemetry persists interaction records, feedback, and metered
// usage so product analytics and billing see every copilot run.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"foodflow/copilot/pkg/logging"
)

var ErrInteractionNotFound = errors.New("interaction not found")

// Interaction is the per-run record written exactly once per ask, whatever
// the outcome was.
type Interaction struct {
	ID             string
	TenantID       string
	UserID         string
	Workspace      string
	ConversationID string
	Question       string
	Answer         string
	Outcome        string
	ToolsUsed      []string
	TokensUsed     int
	Duration       time.Duration
	Metadata       map[string]any
}

type Sink struct {
	db     *sql.DB
	logger logging.Logger
}

func NewSink(db *sql.DB, logger logging.Logger) *Sink {
	return &Sink{db: db, logger: logger}
}

// RecordInteraction inserts one interaction row and returns its id.
func (s *Sink) RecordInteraction(ctx context.Context, rec Interaction) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}

	tools := rec.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return "", fmt.Errorf("marshal tools_used: %w", err)
	}

	var conversationID any
	if rec.ConversationID != "" {
		conversationID = rec.ConversationID
	}
	var metadata any
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = raw
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO copilot.copilot_interactions
			(id, tenant_id, user_id, workspace, conversation_id, question,
			 answer, outcome, tools_used, tokens_used, duration_ms, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, id, rec.TenantID, rec.UserID, rec.Workspace, conversationID, rec.Question,
		rec.Answer, rec.Outcome, toolsJSON, rec.TokensUsed, rec.Duration.Milliseconds(), metadata)
	if err != nil {
		return "", fmt.Errorf("insert interaction: %w", err)
	}
	return id, nil
}

// AttachFeedback stores a rating against an interaction. Repeated feedback
// on the same interaction overwrites the denormalized columns (last write
// wins) while every submission is kept in copilot_feedback.
func (s *Sink) AttachFeedback(ctx context.Context, tenantID, interactionID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating %d out of range 1-5", rating)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin feedback tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE copilot.copilot_interactions
		SET feedback_score = $1, feedback_comment = $2, feedback_at = NOW()
		WHERE id = $3 AND tenant_id = $4
	`, rating, nullableText(comment), interactionID, tenantID)
	if err != nil {
		return fmt.Errorf("update interaction feedback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check feedback update: %w", err)
	}
	if affected == 0 {
		return ErrInteractionNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO copilot.copilot_feedback (id, interaction_id, rating, comment)
		VALUES ($1, $2, $3, $4)
	`, uuid.New().String(), interactionID, rating, nullableText(comment))
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit feedback: %w", err)
	}
	return nil
}

type ToolUsage struct {
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

type WorkspaceAnalytics struct {
	Workspace     string         `json:"workspace"`
	Interactions  int            `json:"interactions"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	AvgFeedback   *float64       `json:"avg_feedback,omitempty"`
	TokensUsed    int            `json:"tokens_used"`
	Outcomes      map[string]int `json:"outcomes"`
	TopTools      []ToolUsage    `json:"top_tools"`
}

const topToolsPerWorkspace = 5

// Analytics aggregates interaction history per workspace since the given
// time. Workspaces with no traffic in the window are absent.
func (s *Sink) Analytics(ctx context.Context, tenantID string, since time.Time) ([]WorkspaceAnalytics, error) {
	byWorkspace := map[string]*WorkspaceAnalytics{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace, COUNT(*), COALESCE(AVG(duration_ms), 0),
			COALESCE(SUM(tokens_used), 0), AVG(feedback_score)
		FROM copilot.copilot_interactions
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY workspace
	`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate interactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entry       WorkspaceAnalytics
			avgFeedback sql.NullFloat64
		)
		if err := rows.Scan(&entry.Workspace, &entry.Interactions, &entry.AvgDurationMS,
			&entry.TokensUsed, &avgFeedback); err != nil {
			return nil, fmt.Errorf("scan workspace aggregate: %w", err)
		}
		if avgFeedback.Valid {
			value := avgFeedback.Float64
			entry.AvgFeedback = &value
		}
		entry.Outcomes = map[string]int{}
		entry.TopTools = []ToolUsage{}
		byWorkspace[entry.Workspace] = &entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace aggregates: %w", err)
	}

	outcomeRows, err := s.db.QueryContext(ctx, `
		SELECT workspace, outcome, COUNT(*)
		FROM copilot.copilot_interactions
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY workspace, outcome
	`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate outcomes: %w", err)
	}
	defer outcomeRows.Close()
	for outcomeRows.Next() {
		var (
			ws, outcome string
			count       int
		)
		if err := outcomeRows.Scan(&ws, &outcome, &count); err != nil {
			return nil, fmt.Errorf("scan outcome aggregate: %w", err)
		}
		if entry, ok := byWorkspace[ws]; ok {
			entry.Outcomes[outcome] = count
		}
	}
	if err := outcomeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome aggregates: %w", err)
	}

	toolRows, err := s.db.QueryContext(ctx, `
		SELECT i.workspace, tool.name, COUNT(*)
		FROM copilot.copilot_interactions i,
			jsonb_array_elements_text(i.tools_used) AS tool(name)
		WHERE i.tenant_id = $1 AND i.created_at >= $2
		GROUP BY i.workspace, tool.name
		ORDER BY i.workspace, COUNT(*) DESC, tool.name
	`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate tool usage: %w", err)
	}
	defer toolRows.Close()
	for toolRows.Next() {
		var (
			ws, tool string
			count    int
		)
		if err := toolRows.Scan(&ws, &tool, &count); err != nil {
			return nil, fmt.Errorf("scan tool aggregate: %w", err)
		}
		entry, ok := byWorkspace[ws]
		if !ok || len(entry.TopTools) >= topToolsPerWorkspace {
			continue
		}
		entry.TopTools = append(entry.TopTools, ToolUsage{Tool: tool, Count: count})
	}
	if err := toolRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool aggregates: %w", err)
	}

	result := make([]WorkspaceAnalytics, 0, len(byWorkspace))
	for _, entry := range byWorkspace {
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Workspace < result[j].Workspace })
	return result, nil
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
