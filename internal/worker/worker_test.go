package worker

import (
	"bytes"
	"context"
	"path/filepath"
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

func newTestWorker(t *testing.T) (*Worker, *storage.Store, *queue.StreamQueue) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	keyring, err := crypto.NewKeyring("k1", map[string][]byte{"k1": bytes.Repeat([]byte{5}, 32)})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	// No provider keys configured, so config generation fails deterministically.
	aiService := ai.NewService(ai.Config{
		Store:   store,
		Keyring: keyring,
		Logger:  zerolog.Nop(),
	})

	q := queue.NewStreamQueue(rdb, "netpilot:jobs", "netpilot-workers", "worker-1", 100*time.Millisecond)
	w := New(Config{
		AI:            aiService,
		Store:         store,
		Queue:         q,
		MaxJobRetries: 1,
		Logger:        zerolog.Nop(),
	})
	return w, store, q
}

func TestProcessJobFailsWithoutProviders(t *testing.T) {
	w, store, _ := newTestWorker(t)
	ctx := context.Background()

	op, err := store.CreateOperation(ctx, storage.Operation{Kind: "generate_config", Command: "generate vlan"})
	if err != nil {
		t.Fatalf("create operation: %v", err)
	}

	job := queue.ConfigJob{
		JobID:       "job-1",
		OperationID: op.ID,
		UserID:      ai.DefaultUserID,
		ConfigType:  "vlan",
		ParamsJSON:  `{"vlan_id":10}`,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := w.processJob(ctx, job); err == nil {
		t.Fatalf("expected error with no configured providers")
	}

	// processJob marks the row running before the provider call.
	row, err := store.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if row.Status != storage.OperationRunning {
		t.Fatalf("expected running status mid-flight, got %q", row.Status)
	}
}

func TestProcessJobRejectsMalformedParams(t *testing.T) {
	w, store, _ := newTestWorker(t)
	ctx := context.Background()

	op, err := store.CreateOperation(ctx, storage.Operation{Kind: "generate_config"})
	if err != nil {
		t.Fatalf("create operation: %v", err)
	}

	err = w.processJob(ctx, queue.ConfigJob{
		JobID:       "job-2",
		OperationID: op.ID,
		UserID:      ai.DefaultUserID,
		ConfigType:  "vlan",
		ParamsJSON:  "{not json",
	})
	if err == nil {
		t.Fatalf("expected error on malformed params")
	}
}

func TestFailOperationRecordsTerminalFailure(t *testing.T) {
	w, store, _ := newTestWorker(t)
	ctx := context.Background()

	op, err := store.CreateOperation(ctx, storage.Operation{Kind: "generate_config"})
	if err != nil {
		t.Fatalf("create operation: %v", err)
	}

	job := queue.ConfigJob{
		JobID:       "job-3",
		OperationID: op.ID,
		EnqueuedAt:  time.Now().UTC().Add(-2 * time.Second),
	}
	w.failOperation(ctx, job, context.DeadlineExceeded)

	row, err := store.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if row.Status != storage.OperationFailed {
		t.Fatalf("expected failed status, got %q", row.Status)
	}
	if row.ErrorMessage == "" {
		t.Fatalf("expected error message recorded")
	}
	if row.DurationMS <= 0 {
		t.Fatalf("expected positive duration, got %d", row.DurationMS)
	}
}
