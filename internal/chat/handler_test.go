package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/telemetry"
	"foodflow/copilot/pkg/llm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, provider llm.Provider) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cat, err := catalog.New(catalog.Definition{
		Name: "get_status",
		Handler: catalog.Func(func(ctx context.Context, args map[string]any) (any, error) {
			return "ok", nil
		}),
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	store := NewConversationStore(db)
	sink := telemetry.NewSink(db, nil)
	orch := NewOrchestrator(OrchestratorConfig{
		Provider:     provider,
		ProviderName: "test",
		Model:        "test-model",
		Catalogs:     map[string]*catalog.Catalog{"plantops": cat},
		Store:        store,
		Sink:         sink,
		LockWait:     50 * time.Millisecond,
	})

	router := gin.New()
	RegisterRoutes(router, NewHandler(orch, store, sink, nil))
	return router, mock
}

func doJSON(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var authHeaders = map[string]string{"X-Tenant-ID": "tenant-1", "X-User-ID": "user-1"}

func TestHandleAskEndToEnd(t *testing.T) {
	provider := &fakeProvider{steps: []providerStep{finalStep("Line 3 looks healthy.")}}
	router, mock := newTestRouter(t, provider)

	mock.ExpectExec("INSERT INTO copilot.copilot_conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectMessageInsert(mock) // user question
	expectMessageInsert(mock) // answer
	mock.ExpectExec("INSERT INTO copilot.copilot_interactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(router, http.MethodPost, "/copilot/ask",
		`{"workspace":"plantops","message":"how is line 3?"}`, authHeaders)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp AskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "Line 3 looks healthy." || resp.Outcome != OutcomeCompleted {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.ConversationID == "" || resp.InteractionID == "" {
		t.Errorf("missing ids: %+v", resp)
	}
	if resp.ToolsUsed == nil {
		t.Error("tools_used must be an empty array, not null")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHandleAskValidation(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{steps: []providerStep{finalStep("x")}})

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"workspace":`, http.StatusBadRequest},
		{"empty message", `{"workspace":"plantops","message":"  "}`, http.StatusBadRequest},
		{"unknown workspace", `{"workspace":"warehouse","message":"hi"}`, http.StatusBadRequest},
		{"oversized message", `{"workspace":"plantops","message":"` + strings.Repeat("a", maxMessageRunes+1) + `"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/copilot/ask", tc.body, authHeaders)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestHandleAskRequiresTenant(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{steps: []providerStep{finalStep("x")}})

	w := doJSON(router, http.MethodPost, "/copilot/ask",
		`{"workspace":"plantops","message":"hi"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleAskBusyConversation(t *testing.T) {
	provider := &fakeProvider{steps: []providerStep{finalStep("x")}}

	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	cat, _ := catalog.New(catalog.Definition{
		Name:    "noop",
		Handler: catalog.Func(func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }),
	})
	store := NewConversationStore(db)
	sink := telemetry.NewSink(db, nil)
	orch := NewOrchestrator(OrchestratorConfig{
		Provider: provider,
		Catalogs: map[string]*catalog.Catalog{"plantops": cat},
		Store:    store,
		Sink:     sink,
		LockWait: 50 * time.Millisecond,
	})
	busyRouter := gin.New()
	RegisterRoutes(busyRouter, NewHandler(orch, store, sink, nil))

	release, err := orch.locks.acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	w := doJSON(busyRouter, http.MethodPost, "/copilot/ask",
		`{"workspace":"plantops","message":"hi","conversation_id":"conv-1"}`, authHeaders)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestHandleFeedback(t *testing.T) {
	router, mock := newTestRouter(t, &fakeProvider{steps: []providerStep{finalStep("x")}})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE copilot.copilot_interactions").
		WithArgs(5, "great", "int-1", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO copilot.copilot_feedback").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := doJSON(router, http.MethodPost, "/copilot/feedback",
		`{"interaction_id":"int-1","rating":5,"comment":"great"}`, authHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHandleFeedbackValidation(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{steps: []providerStep{finalStep("x")}})

	w := doJSON(router, http.MethodPost, "/copilot/feedback",
		`{"interaction_id":"int-1","rating":9}`, authHeaders)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad rating: status = %d, want 400", w.Code)
	}

	w = doJSON(router, http.MethodPost, "/copilot/feedback",
		`{"rating":4}`, authHeaders)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing id: status = %d, want 400", w.Code)
	}
}

func TestHandleFeedbackUnknownInteraction(t *testing.T) {
	router, mock := newTestRouter(t, &fakeProvider{steps: []providerStep{finalStep("x")}})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE copilot.copilot_interactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	w := doJSON(router, http.MethodPost, "/copilot/feedback",
		`{"interaction_id":"ghost","rating":3}`, authHeaders)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleListConversations(t *testing.T) {
	router, mock := newTestRouter(t, &fakeProvider{steps: []providerStep{finalStep("x")}})

	now := time.Now()
	mock.ExpectQuery("SELECT(?s:.*)FROM copilot.copilot_conversations c").
		WithArgs("tenant-1", "user-1", "plantops", 25, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "user_id", "workspace", "title", "created_at", "updated_at", "last_message_at", "message_count",
		}).AddRow("conv-1", "tenant-1", "user-1", "plantops", "Line 3", now, now, now, 4))

	w := doJSON(router, http.MethodGet, "/copilot/conversations?workspace=plantops", "", authHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Conversations []conversationSummaryResponse `json:"conversations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Conversations) != 1 || resp.Conversations[0].Title != "Line 3" {
		t.Errorf("unexpected conversations: %+v", resp.Conversations)
	}
}

func TestHandleGetConversationNotFound(t *testing.T) {
	router, mock := newTestRouter(t, &fakeProvider{steps: []providerStep{finalStep("x")}})

	mock.ExpectQuery("SELECT id, tenant_id, user_id, workspace, title").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := doJSON(router, http.MethodGet, "/copilot/conversations/ghost", "", authHeaders)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleAnalyticsCachesResult(t *testing.T) {
	router, mock := newTestRouter(t, &fakeProvider{steps: []providerStep{finalStep("x")}})

	// Expectations for exactly one load; the second request must hit the cache.
	mock.ExpectQuery(`SELECT workspace, COUNT\(\*\), COALESCE\(AVG`).
		WillReturnRows(sqlmock.NewRows([]string{"workspace", "count", "avg_duration", "tokens", "avg_feedback"}).
			AddRow("plantops", 3, 1200.0, 5000, 4.0))
	mock.ExpectQuery("SELECT workspace, outcome, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"workspace", "outcome", "count"}).
			AddRow("plantops", "completed", 3))
	mock.ExpectQuery("jsonb_array_elements_text").
		WillReturnRows(sqlmock.NewRows([]string{"workspace", "tool", "count"}))

	for i := 0; i < 2; i++ {
		w := doJSON(router, http.MethodGet, "/copilot/analytics?days=7", "", authHeaders)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body = %s", i, w.Code, w.Body.String())
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	w := doJSON(router, http.MethodGet, "/copilot/analytics?days=0", "", authHeaders)
	if w.Code != http.StatusBadRequest {
		t.Errorf("days=0: status = %d, want 400", w.Code)
	}
}
