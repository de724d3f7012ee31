package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"foodflow/copilot/internal/telemetry"
	"foodflow/copilot/internal/tenancy"
	"foodflow/copilot/internal/workspace"
	"foodflow/copilot/pkg/cache"
	"foodflow/copilot/pkg/logging"
)

const maxMessageRunes = 10000

const analyticsCacheTTL = time.Minute

type Handler struct {
	Orchestrator  *Orchestrator
	Conversations *ConversationStore
	Sink          *telemetry.Sink
	Logger        logging.Logger

	analyticsCache *cache.Cache
}

func NewHandler(orchestrator *Orchestrator, conversations *ConversationStore, sink *telemetry.Sink, logger logging.Logger) *Handler {
	return &Handler{
		Orchestrator:  orchestrator,
		Conversations: conversations,
		Sink:          sink,
		Logger:        logger,
		analyticsCache: cache.New(cache.Options{
			TTL:                  analyticsCacheTTL,
			StaleWhileRevalidate: analyticsCacheTTL,
			NegativeTTL:          5 * time.Second,
			MaxEntries:           512,
		}, cache.MetricsHooks{}),
	}
}

func RegisterRoutes(router gin.IRoutes, handler *Handler) {
	router.POST("/copilot/ask", handler.HandleAsk)
	router.POST("/copilot/feedback", handler.HandleFeedback)
	router.GET("/copilot/conversations", handler.HandleListConversations)
	router.GET("/copilot/conversations/:id", handler.HandleGetConversation)
	router.DELETE("/copilot/conversations/:id", handler.HandleDeleteConversation)
	router.PATCH("/copilot/conversations/:id", handler.HandleUpdateConversation)
	router.GET("/copilot/analytics", handler.HandleAnalytics)
}

type AskBody struct {
	Workspace      string         `json:"workspace"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

type AskResponse struct {
	ConversationID string             `json:"conversation_id"`
	Answer         string             `json:"answer"`
	Outcome        string             `json:"outcome"`
	Actions        []workspace.Action `json:"actions"`
	ToolsUsed      []string           `json:"tools_used"`
	TokensUsed     int                `json:"tokens_used"`
	DurationMS     float64            `json:"duration_ms"`
	InteractionID  string             `json:"interaction_id"`
}

func (h *Handler) HandleAsk(c *gin.Context) {
	var req AskBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}
	if err := workspace.Validate(req.Workspace); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := tenancy.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant_id missing"})
		return
	}
	ctx := tenancy.WithIdentity(c.Request.Context(), identity)
	ctx = tenancy.WithWorkspace(ctx, req.Workspace)

	result, err := h.Orchestrator.Ask(ctx, AskRequest{
		Workspace:      req.Workspace,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Question:       req.Message,
		Context:        req.Context,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConversationBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "conversation is busy, try again shortly"})
		case errors.Is(err, ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		case errors.Is(err, workspace.ErrUnknownWorkspace):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logError(err, "Ask failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	toolsUsed := result.ToolsUsed
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	c.JSON(http.StatusOK, AskResponse{
		ConversationID: result.ConversationID,
		Answer:         result.Answer,
		Outcome:        result.Outcome,
		Actions:        result.Actions,
		ToolsUsed:      toolsUsed,
		TokensUsed:     result.TokensUsed,
		DurationMS:     float64(result.Duration.Milliseconds()),
		InteractionID:  result.InteractionID,
	})
}

type FeedbackBody struct {
	InteractionID string `json:"interaction_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment,omitempty"`
}

func (h *Handler) HandleFeedback(c *gin.Context) {
	var req FeedbackBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if req.InteractionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interaction_id is required"})
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be between 1 and 5"})
		return
	}

	identity, err := tenancy.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant_id missing"})
		return
	}

	err = h.Sink.AttachFeedback(c.Request.Context(), identity.TenantID, req.InteractionID, req.Rating, req.Comment)
	if err != nil {
		if errors.Is(err, telemetry.ErrInteractionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "interaction not found"})
			return
		}
		h.logError(err, "Feedback failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

type conversationSummaryResponse struct {
	ID            string `json:"id"`
	Workspace     string `json:"workspace"`
	Title         string `json:"title"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	LastMessageAt string `json:"last_message_at,omitempty"`
	MessageCount  int    `json:"message_count"`
}

func (h *Handler) HandleListConversations(c *gin.Context) {
	identity, err := tenancy.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant_id missing"})
		return
	}
	ctx := tenancy.WithIdentity(c.Request.Context(), identity)

	ws := c.Query("workspace")
	if ws != "" {
		if err := workspace.Validate(ws); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	summaries, err := h.Conversations.ListConversations(ctx, ws, limit, offset)
	if err != nil {
		h.logError(err, "List conversations failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]conversationSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		entry := conversationSummaryResponse{
			ID:           s.ID,
			Workspace:    s.Workspace,
			Title:        s.Title,
			CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:    s.UpdatedAt.UTC().Format(time.RFC3339),
			MessageCount: s.MessageCount,
		}
		if s.LastMessageAt.Valid {
			entry.LastMessageAt = s.LastMessageAt.Time.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

type messageResponse struct {
	ID         string          `json:"id"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolsUsed  json.RawMessage `json:"tools_used,omitempty"`
	TokensUsed int             `json:"tokens_used,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

func (h *Handler) HandleGetConversation(c *gin.Context) {
	identity, err := tenancy.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant_id missing"})
		return
	}
	ctx := tenancy.WithIdentity(c.Request.Context(), identity)

	convo, err := h.Conversations.GetConversation(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logError(err, "Get conversation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	messages := make([]messageResponse, 0, len(convo.Messages))
	for _, m := range convo.Messages {
		messages = append(messages, messageResponse{
			ID:         m.ID,
			Role:       m.Role,
			Content:    m.Content,
			ToolsUsed:  m.ToolsUsed,
			TokensUsed: m.TokensUsed,
			CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         convo.ID,
		"workspace":  convo.Workspace,
		"title":      convo.Title,
		"created_at": convo.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": convo.UpdatedAt.UTC().Format(time.RFC3339),
		"messages":   messages,
	})
}

func (h *Handler) HandleDeleteConversation(c *gin.Context) {
	identity, err := tenancy.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant_id missing"})
		return
	}
	ctx := tenancy.WithIdentity(c.Request.Context(), identity)

	if err := h.Conversations.DeleteConversation(ctx, c.Param("id")); err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logError(err, "Delete conversation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type updateConversationBody struct {
	Title string `json:"title"`
}

func (h *Handler) HandleUpdateConversation(c *gin.Context) {
	var req updateConversationBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	identity, err := tenancy.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant_id missing"})
		return
	}
	ctx := tenancy.WithIdentity(c.Request.Context(), identity)

	if err := h.Conversations.UpdateTitle(ctx, c.Param("id"), req.Title); err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logError(err, "Update conversation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) HandleAnalytics(c *gin.Context) {
	identity, err := tenancy.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant_id missing"})
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 || days > 365 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
		return
	}

	key := fmt.Sprintf("analytics:%s:%d", identity.TenantID, days)
	value, ok, err := h.analyticsCache.Get(c.Request.Context(), key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		since := time.Now().AddDate(0, 0, -days)
		analytics, err := h.Sink.Analytics(ctx, identity.TenantID, since)
		if err != nil {
			return nil, false, err
		}
		return analytics, true, nil
	})
	if err != nil || !ok {
		h.logError(err, "Analytics failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"days":       days,
		"workspaces": value,
	})
}

func (h *Handler) logError(err error, msg string) {
	if h.Logger == nil || err == nil {
		return
	}
	h.Logger.WithError(err).Error(msg)
}
