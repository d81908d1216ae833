package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"netpilot/internal/ai"
	"netpilot/internal/crypto"
	"netpilot/internal/queue"
	"netpilot/internal/storage"
)

func newTestServer(t *testing.T, jobs *queue.StreamQueue) (*Server, *storage.Store) {
	return newTestServerWithLimiter(t, jobs, nil)
}

func newTestServerWithLimiter(t *testing.T, jobs *queue.StreamQueue, limiter *queue.RateLimiter) (*Server, *storage.Store) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	keyring, err := crypto.NewKeyring("k1", map[string][]byte{"k1": bytes.Repeat([]byte{7}, 32)})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	aiService := ai.NewService(ai.Config{
		Store:   store,
		Keyring: keyring,
		Logger:  zerolog.Nop(),
	})

	srv := New(Config{
		Store:   store,
		AI:      aiService,
		Keyring: keyring,
		Limiter: limiter,
		Jobs:    jobs,
		Logger:  zerolog.Nop(),
	})
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestChatSendWithoutProvidersStillPersists(t *testing.T) {
	srv, store := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/send", map[string]any{"message": "show vlans"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec)
	if !strings.Contains(resp["response"].(string), "technical difficulties") {
		t.Fatalf("expected canned unavailable reply, got %q", resp["response"])
	}
	sessionID, _ := resp["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("expected generated session id")
	}

	msgs, err := store.ListSessionMessages(context.Background(), ai.DefaultUserID, sessionID, 0)
	if err != nil {
		t.Fatalf("list session messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant rows persisted, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected roles %q/%q", msgs[0].Role, msgs[1].Role)
	}
}

func TestChatSendRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	srv, _ := newTestServerWithLimiter(t, nil, queue.NewRateLimiter(rdb, 1))

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/send", map[string]any{"message": "first"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first request must pass, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/chat/send", map[string]any{"message": "second"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the limit, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("429 must carry a Retry-After header")
	}
	resp := decodeJSON(t, rec)
	detail, _ := resp["detail"].(string)
	if !strings.Contains(detail, "rate limit") {
		t.Fatalf("expected rate limit detail with reset time, got %q", detail)
	}
}

func TestChatSendRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/send", map[string]any{"message": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatHistoryAndSessions(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()
	for _, row := range []struct{ role, content string }{
		{"user", "hello"},
		{"assistant", "hi"},
	} {
		if _, err := store.SaveConversation(ctx, storage.Conversation{
			SessionID: "sess-1", UserID: ai.DefaultUserID, Role: row.role, Content: row.content,
		}); err != nil {
			t.Fatalf("seed conversation: %v", err)
		}
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/chat/history/sess-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status %d", rec.Code)
	}
	hist := decodeJSON(t, rec)
	if msgs, ok := hist["messages"].([]any); !ok || len(msgs) != 2 {
		t.Fatalf("expected 2 history messages, got %v", hist["messages"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/chat/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions status %d", rec.Code)
	}
	sessions := decodeJSON(t, rec)
	if list, ok := sessions["sessions"].([]any); !ok || len(list) != 1 {
		t.Fatalf("expected 1 session, got %v", sessions["sessions"])
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/chat/sessions/sess-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete session status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/chat/sessions/sess-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting missing session, got %d", rec.Code)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/devices", map[string]any{
		"name": "core-sw1", "ip_address": "not-an-ip",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on bad ip, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/devices", map[string]any{
		"name": "core-sw1", "ip_address": "10.0.0.1", "model": "C9300",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON(t, rec)
	id := created["id"].(string)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/devices/"+id+"/status", map[string]any{
		"status": "online", "uptime_seconds": 1200,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status update failed: %d %s", rec.Code, rec.Body.String())
	}
	updated := decodeJSON(t, rec)
	if updated["status"] != "online" {
		t.Fatalf("expected online status, got %v", updated["status"])
	}
	if updated["last_seen"] == nil {
		t.Fatalf("status update must set last_seen")
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/dashboard/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard stats status %d", rec.Code)
	}
	stats := decodeJSON(t, rec)
	devices := stats["devices"].(map[string]any)
	if devices["online"].(float64) != 1 {
		t.Fatalf("expected 1 online device, got %v", devices["online"])
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/devices/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete device status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/devices/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestSettingsDefaultsAndPersistence(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/genai-settings/llm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("defaults status %d", rec.Code)
	}
	defaults := decodeJSON(t, rec)
	if defaults["primary_llm"] != "gpt-4" {
		t.Fatalf("expected default primary_llm gpt-4, got %v", defaults["primary_llm"])
	}

	rec = doJSON(t, srv, http.MethodPut, "/api/v1/genai-settings/llm", map[string]any{
		"primary_llm": "llama3-70b-8192", "temperature": 0.5, "max_tokens": 1000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put settings status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/genai-settings/llm", nil)
	saved := decodeJSON(t, rec)
	if saved["primary_llm"] != "llama3-70b-8192" {
		t.Fatalf("expected saved value, got %v", saved["primary_llm"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/genai-settings/nonsense", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown section, got %d", rec.Code)
	}
}

func TestAPIKeysMaskedOnRead(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/genai-settings/api-keys", map[string]any{
		"name": "prod-groq", "service": "groq", "api_key": "gsk_1234567890abcdef",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add key status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/genai-settings/api-keys", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list keys status %d", rec.Code)
	}
	listed := decodeJSON(t, rec)
	keys := listed["api_keys"].([]any)
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	entry := keys[0].(map[string]any)
	masked := entry["masked_key"].(string)
	if !strings.HasSuffix(masked, "cdef") || strings.Contains(masked, "gsk_") {
		t.Fatalf("key must be masked on read, got %q", masked)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/genai-settings/api-keys", map[string]any{
		"name": "bad", "service": "unknown-llm", "api_key": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported service, got %d", rec.Code)
	}
}

func TestAutomationJobs(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	jobs := queue.NewStreamQueue(rdb, "netpilot:jobs", "netpilot-workers", "worker-1", 100*time.Millisecond)
	srv, store := newTestServer(t, jobs)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/automation/jobs", map[string]any{
		"config_type": "vlan",
		"parameters":  map[string]any{"vlan_id": 10},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec)
	jobID := resp["job_id"].(string)
	if jobID == "" {
		t.Fatalf("expected job id")
	}

	op, err := store.GetOperation(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if op.Status != storage.OperationPending {
		t.Fatalf("expected pending operation, got %q", op.Status)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/automation/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job status %d", rec.Code)
	}
	job := decodeJSON(t, rec)
	if job["status"] != storage.OperationPending {
		t.Fatalf("unexpected job status %v", job["status"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/automation/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", rec.Code)
	}
}

func TestEnqueueWithoutQueueUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/automation/jobs", map[string]any{"config_type": "vlan"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without queue, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d: %s", rec.Code, rec.Body.String())
	}
}
