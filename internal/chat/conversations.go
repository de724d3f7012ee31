package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"foodflow/copilot/internal/tenancy"
	"foodflow/copilot/pkg/database"
)

var ErrConversationNotFound = errors.New("conversation not found")

const maxTitleRunes = 80

type Conversation struct {
	ID        string
	TenantID  string
	UserID    string
	Workspace string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

type ConversationSummary struct {
	ID            string
	TenantID      string
	UserID        string
	Workspace     string
	Title         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt sql.NullTime
	MessageCount  int
}

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	ToolsUsed      json.RawMessage
	TokensUsed     int
	FunctionCall   json.RawMessage
	CreatedAt      time.Time
}

type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// CreateConversation starts a conversation in the given workspace. The title
// is derived from the first question and trimmed to a display-friendly length.
func (s *ConversationStore) CreateConversation(ctx context.Context, workspace, firstQuestion string) (string, error) {
	identity := tenancy.IdentityFrom(ctx)
	if identity.TenantID == "" {
		return "", fmt.Errorf("tenant ID is required")
	}
	if identity.UserID == "" {
		return "", fmt.Errorf("user ID is required")
	}

	conversationID := uuid.New().String()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO copilot.copilot_conversations (id, tenant_id, user_id, workspace, title)
		 VALUES ($1, $2, $3, $4, $5)`,
		conversationID,
		identity.TenantID,
		identity.UserID,
		workspace,
		titleFrom(firstQuestion),
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	return conversationID, nil
}

// AddMessage appends one message to a conversation the tenant owns and
// touches the conversation timestamp. The tenant guard lives in the INSERT
// itself so a foreign conversation id cannot gain messages.
func (s *ConversationStore) AddMessage(ctx context.Context, conversationID string, msg Message) error {
	identity := tenancy.IdentityFrom(ctx)
	if identity.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	var messageID string
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO copilot.copilot_messages (
			id,
			conversation_id,
			role,
			content,
			tools_used,
			tokens_used,
			function_call
		)
		SELECT $2, c.id, $3, $4, $5, $6, $7
		FROM copilot.copilot_conversations c
		WHERE c.id = $1 AND c.tenant_id = $8
		RETURNING id`,
		conversationID,
		uuid.New().String(),
		msg.Role,
		msg.Content,
		normalizeToolsJSON(msg.ToolsUsed),
		msg.TokensUsed,
		normalizeJSONInput(msg.FunctionCall),
		identity.TenantID,
	).Scan(&messageID)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("add message: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE copilot.copilot_conversations
		 SET updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2`,
		conversationID,
		identity.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update conversation timestamp: %w", err)
	}

	return nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	identity := tenancy.IdentityFrom(ctx)
	if identity.TenantID == "" {
		return Conversation{}, fmt.Errorf("tenant ID is required")
	}

	query := `SELECT id, tenant_id, user_id, workspace, title, created_at, updated_at
		 FROM copilot.copilot_conversations
		 WHERE id = $1 AND tenant_id = $2`
	args := []any{conversationID, identity.TenantID}
	if identity.UserID != "" {
		query += " AND user_id = $3"
		args = append(args, identity.UserID)
	}

	var convo Conversation
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&convo.ID,
		&convo.TenantID,
		&convo.UserID,
		&convo.Workspace,
		&title,
		&convo.CreatedAt,
		&convo.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	convo.Title = title.String

	messages, err := s.fetchMessages(ctx, identity.TenantID, conversationID, 0, false)
	if err != nil {
		return Conversation{}, err
	}
	convo.Messages = messages

	return convo, nil
}

// ListConversations returns summaries for the tenant, newest activity first.
// An empty workspace lists every workspace.
func (s *ConversationStore) ListConversations(ctx context.Context, workspace string, limit, offset int) ([]ConversationSummary, error) {
	identity := tenancy.IdentityFrom(ctx)
	if identity.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	if limit <= 0 {
		limit = 25
	}

	query := `SELECT
			c.id,
			c.tenant_id,
			c.user_id,
			c.workspace,
			c.title,
			c.created_at,
			c.updated_at,
			MAX(m.created_at) AS last_message_at,
			COUNT(m.id) AS message_count
		FROM copilot.copilot_conversations c
		LEFT JOIN copilot.copilot_messages m ON m.conversation_id = c.id
		WHERE c.tenant_id = $1`
	args := []any{identity.TenantID}
	argIdx := 2

	if identity.UserID != "" {
		query += fmt.Sprintf(" AND c.user_id = $%d", argIdx)
		args = append(args, identity.UserID)
		argIdx++
	}
	if workspace != "" {
		query += fmt.Sprintf(" AND c.workspace = $%d", argIdx)
		args = append(args, workspace)
		argIdx++
	}

	query += fmt.Sprintf(` GROUP BY c.id, c.tenant_id, c.user_id, c.workspace, c.title, c.created_at, c.updated_at
		ORDER BY COALESCE(MAX(m.created_at), c.created_at) DESC
		LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []ConversationSummary
	for rows.Next() {
		var summary ConversationSummary
		var title sql.NullString
		if err := rows.Scan(
			&summary.ID,
			&summary.TenantID,
			&summary.UserID,
			&summary.Workspace,
			&title,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.LastMessageAt,
			&summary.MessageCount,
		); err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		summary.Title = title.String
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations rows: %w", err)
	}

	return summaries, nil
}

func (s *ConversationStore) UpdateTitle(ctx context.Context, conversationID, title string) error {
	identity := tenancy.IdentityFrom(ctx)
	if identity.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	query := `UPDATE copilot.copilot_conversations
		 SET title = $1, updated_at = NOW()
		 WHERE id = $2 AND tenant_id = $3`
	args := []any{title, conversationID, identity.TenantID}
	if identity.UserID != "" {
		query += " AND user_id = $4"
		args = append(args, identity.UserID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *ConversationStore) DeleteConversation(ctx context.Context, conversationID string) error {
	identity := tenancy.IdentityFrom(ctx)
	if identity.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	query := `DELETE FROM copilot.copilot_conversations
		 WHERE id = $1 AND tenant_id = $2`
	args := []any{conversationID, identity.TenantID}
	if identity.UserID != "" {
		query += " AND user_id = $3"
		args = append(args, identity.UserID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// RecentWindow returns the most recent user and assistant turns in
// chronological order. Tool-result messages from earlier runs are excluded;
// only the current run keeps its tool results in the working set.
func (s *ConversationStore) RecentWindow(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	identity := tenancy.IdentityFrom(ctx)
	if identity.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	if limit <= 0 {
		limit = 10
	}

	return s.fetchMessages(ctx, identity.TenantID, conversationID, limit, true)
}

func (s *ConversationStore) fetchMessages(ctx context.Context, tenantID, conversationID string, limit int, turnsOnly bool) ([]Message, error) {
	query := `SELECT
		m.id,
		m.conversation_id,
		m.role,
		COALESCE(m.content, ''),
		m.tools_used,
		m.tokens_used,
		COALESCE(m.function_call, 'null'),
		m.created_at
	FROM copilot.copilot_messages m
	JOIN copilot.copilot_conversations c ON m.conversation_id = c.id
	WHERE m.conversation_id = $1 AND c.tenant_id = $2`
	if turnsOnly {
		query += ` AND m.role IN ('user', 'assistant')`
	}

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT * FROM (`+query+` ORDER BY m.created_at DESC LIMIT $3) recent ORDER BY created_at ASC`,
			conversationID,
			tenantID,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(
			ctx,
			query+` ORDER BY m.created_at ASC`,
			conversationID,
			tenantID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var message Message
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.Role,
			&message.Content,
			&message.ToolsUsed,
			&message.TokensUsed,
			&message.FunctionCall,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages rows: %w", err)
	}

	return messages, nil
}

func titleFrom(question string) string {
	runes := []rune(question)
	if len(runes) <= maxTitleRunes {
		return question
	}
	return string(runes[:maxTitleRunes-1]) + "…"
}

func normalizeToolsJSON(value json.RawMessage) json.RawMessage {
	if len(value) == 0 {
		return json.RawMessage("[]")
	}
	return value
}

func normalizeJSONInput(value json.RawMessage) json.RawMessage {
	if len(value) == 0 {
		return json.RawMessage("null")
	}
	return value
}
