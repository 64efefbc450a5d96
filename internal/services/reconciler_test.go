package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ledger/internal/core"
	"ledger/internal/storage"
	"ledger/internal/store/memory"
)

func newQueue(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestDefaultReconcilerConfig(t *testing.T) {
	config := DefaultReconcilerConfig()

	if config.PollInterval != 10*time.Second {
		t.Errorf("expected PollInterval 10s, got %v", config.PollInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
	if config.MaxRetries != 5 {
		t.Errorf("expected MaxRetries 5, got %d", config.MaxRetries)
	}
	if config.RetryBackoff != 30*time.Second {
		t.Errorf("expected RetryBackoff 30s, got %v", config.RetryBackoff)
	}
}

func TestReconciler_StartTwiceAndStop(t *testing.T) {
	config := DefaultReconcilerConfig()
	config.PollInterval = 50 * time.Millisecond
	p := NewReconciler(newQueue(t), memory.New(), config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.IsRunning() {
		t.Fatalf("expected running")
	}
	if err := p.Start(ctx); err == nil {
		t.Error("expected error when starting already running reconciler")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatalf("expected stopped")
	}
	if err := p.Stop(stopCtx); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestReconciler_ReplaysDelete(t *testing.T) {
	ctx := context.Background()
	queue := newQueue(t)
	remote := memory.New()
	id, _ := remote.Create(ctx, core.Transaction{UserID: "u1", Amount: core.Cents(-100), Category: core.Food, Description: "x"})

	if err := queue.EnqueueSync(ctx, core.PendingSync{Operation: core.OpDelete, UserID: "u1", TransactionID: id}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := NewReconciler(queue, remote, DefaultReconcilerConfig())
	p.RunOnce(ctx)

	if got, _ := remote.ListByUser(ctx, "u1"); len(got) != 0 {
		t.Fatalf("remote record should be gone, got %+v", got)
	}
	stats, _ := p.Stats(ctx)
	if stats.Completed != 1 || stats.Pending != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestReconciler_AlreadyDeletedCountsAsDone(t *testing.T) {
	ctx := context.Background()
	queue := newQueue(t)
	queue.EnqueueSync(ctx, core.PendingSync{Operation: core.OpDelete, UserID: "u1", TransactionID: "gone"})

	p := NewReconciler(queue, memory.New(), DefaultReconcilerConfig())
	p.RunOnce(ctx)

	if stats, _ := p.Stats(ctx); stats.Completed != 1 {
		t.Fatalf("expected completed, got %+v", stats)
	}
}

func TestReconciler_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	queue := newQueue(t)
	remote := memory.New()
	queue.EnqueueSync(ctx, core.PendingSync{Operation: core.OpDelete, UserID: "u1", TransactionID: "t1"})

	config := DefaultReconcilerConfig()
	config.MaxRetries = 2
	config.RetryBackoff = 0
	p := NewReconciler(queue, remote, config)

	remote.FailNext(errors.New("offline"))
	p.RunOnce(ctx)
	if stats, _ := p.Stats(ctx); stats.Pending != 1 {
		t.Fatalf("expected item back to pending, got %+v", stats)
	}

	remote.FailNext(errors.New("offline"))
	p.RunOnce(ctx)
	if stats, _ := p.Stats(ctx); stats.Failed != 1 {
		t.Fatalf("expected item failed after max retries, got %+v", stats)
	}

	if n, err := p.RetryFailed(ctx); err != nil || n != 1 {
		t.Fatalf("retry failed: %d %v", n, err)
	}
	p.RunOnce(ctx)
	if stats, _ := p.Stats(ctx); stats.Completed != 1 {
		t.Fatalf("expected completed after manual retry, got %+v", stats)
	}
}

func TestReconciler_Backoff(t *testing.T) {
	p := NewReconciler(nil, nil, ReconcilerConfig{RetryBackoff: time.Minute})
	cases := map[int]time.Duration{
		1:  time.Minute,
		2:  2 * time.Minute,
		3:  4 * time.Minute,
		20: time.Hour,
	}
	for attempt, want := range cases {
		if got := p.backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestReconciler_ZeroConfigUsesDefaults(t *testing.T) {
	p := NewReconciler(nil, nil, ReconcilerConfig{})
	if p.config != DefaultReconcilerConfig() {
		t.Fatalf("config = %+v, want %+v", p.config, DefaultReconcilerConfig())
	}
	if got := p.backoff(1); got != 30*time.Second {
		t.Errorf("backoff(1) = %v, want 30s", got)
	}
	if got := p.backoff(2); got != time.Minute {
		t.Errorf("backoff(2) = %v, want 1m", got)
	}
}
