package ai

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"netpilot/internal/crypto"
	"netpilot/internal/providers"
	"netpilot/internal/providers/registry"
	"netpilot/internal/queue"
	"netpilot/internal/storage"
)

func newTestService(t *testing.T, envKeys map[string]string) (*Service, *storage.Store) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	keyring, err := crypto.NewKeyring("k1", map[string][]byte{"k1": bytes.Repeat([]byte{3}, 32)})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	svc := NewService(Config{
		Store:   store,
		Keyring: keyring,
		EnvKeys: envKeys,
		Logger:  zerolog.Nop(),
	})
	return svc, store
}

func TestBuildRouterOrdersPrimaryFirst(t *testing.T) {
	svc, _ := newTestService(t, map[string]string{
		registry.NameGroq:      "env-groq",
		registry.NameOpenAI:    "env-openai",
		registry.NameAnthropic: "env-anthropic",
	})

	router, err := svc.buildRouter(context.Background(), registry.NameOpenAI)
	if err != nil {
		t.Fatalf("build router: %v", err)
	}

	got := make([]string, 0)
	for _, c := range router.Candidates() {
		got = append(got, c.Name)
	}
	want := []string{registry.NameOpenAI, registry.NameGroq, registry.NameAnthropic}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestBuildRouterNoKeys(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if _, err := svc.buildRouter(context.Background(), registry.NameGroq); err == nil {
		t.Fatalf("expected error with no configured keys")
	}
}

func TestResolveKeyPrefersStoredKey(t *testing.T) {
	svc, store := newTestService(t, map[string]string{registry.NameGroq: "env-key"})

	enc, err := svc.keyring.Seal("stored-key")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := store.AddAPIKey(context.Background(), storage.APIKey{
		Name: "prod-groq", Service: registry.NameGroq, EncKey: enc, IsActive: true,
	}); err != nil {
		t.Fatalf("add api key: %v", err)
	}

	if got := svc.resolveKey(context.Background(), registry.NameGroq); got != "stored-key" {
		t.Fatalf("expected stored key to win, got %q", got)
	}
	if got := svc.resolveKey(context.Background(), registry.NameOpenAI); got != "" {
		t.Fatalf("expected empty key for unconfigured provider, got %q", got)
	}
}

func TestChatWithoutProvidersFallsBackAndPersists(t *testing.T) {
	svc, store := newTestService(t, nil)

	res, err := svc.Chat(context.Background(), DefaultUserID, "sess-1", "show interfaces")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Reply != unavailableReply {
		t.Fatalf("expected canned reply, got %q", res.Reply)
	}
	if res.Provider != "" {
		t.Fatalf("no provider should be reported on total failure, got %q", res.Provider)
	}

	msgs, err := store.ListSessionMessages(context.Background(), DefaultUserID, "sess-1", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected both rows persisted, got %d", len(msgs))
	}
}

func TestGenerateConfigCachesWhenCoreEnables(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var calls int32
	fakeProvider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"router ospf 1"}}]}`))
	}))
	defer fakeProvider.Close()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	keyring, err := crypto.NewKeyring("k1", map[string][]byte{"k1": bytes.Repeat([]byte{3}, 32)})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	svc := NewService(Config{
		Store:    store,
		Keyring:  keyring,
		Cache:    queue.NewResponseCache(rdb, time.Hour),
		EnvKeys:  map[string]string{registry.NameGroq: "test-key"},
		BaseURLs: map[string]string{registry.NameGroq: fakeProvider.URL},
		Logger:   zerolog.Nop(),
	})
	ctx := context.Background()
	params := map[string]any{"area": "0"}

	first, err := svc.GenerateConfig(ctx, DefaultUserID, "ospf", params, "")
	if err != nil {
		t.Fatalf("generate#1: %v", err)
	}
	if first.Cached || first.Configuration != "router ospf 1" {
		t.Fatalf("unexpected first result %+v", first)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 provider call, got %d", got)
	}

	second, err := svc.GenerateConfig(ctx, DefaultUserID, "ospf", params, "")
	if err != nil {
		t.Fatalf("generate#2: %v", err)
	}
	if !second.Cached || second.Configuration != "router ospf 1" {
		t.Fatalf("expected cache hit on identical request, got %+v", second)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("cache hit must not call the provider, got %d calls", got)
	}

	disabled := `{"default_chat_provider":"groq","default_config_generation_provider":"groq","cache_enabled":false}`
	if err := store.UpsertSetting(ctx, SectionCore, disabled); err != nil {
		t.Fatalf("disable cache: %v", err)
	}

	third, err := svc.GenerateConfig(ctx, DefaultUserID, "ospf", params, "")
	if err != nil {
		t.Fatalf("generate#3: %v", err)
	}
	if third.Cached {
		t.Fatalf("cache must be bypassed when core settings disable it")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected a fresh provider call with cache disabled, got %d", got)
	}
}

func TestReverseHistory(t *testing.T) {
	rows := []storage.Conversation{
		{Role: "assistant", Content: "newest"},
		{Role: "user", Content: "older"},
		{Role: "user", Content: "oldest"},
	}
	out := reverseHistory(rows)
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	want := []providers.Message{
		{Role: "user", Content: "oldest"},
		{Role: "user", Content: "older"},
		{Role: "assistant", Content: "newest"},
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("expected %+v at %d, got %+v", want[i], i, out[i])
		}
	}
}

func TestDefaultSection(t *testing.T) {
	for _, section := range Sections {
		doc, err := DefaultSection(section)
		if err != nil {
			t.Fatalf("default for %s: %v", section, err)
		}
		if doc == "" {
			t.Fatalf("empty default for %s", section)
		}
	}
	if _, err := DefaultSection("nonsense"); err == nil {
		t.Fatalf("expected error for unknown section")
	}
	if KnownSection("nonsense") {
		t.Fatalf("nonsense must not be a known section")
	}
}
