package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ledger/internal/core"
	"ledger/internal/storage"
	"ledger/internal/store"
)

// RetryQueue is the persistent queue of remote operations awaiting retry.
type RetryQueue interface {
	ResetStaleProcessing(ctx context.Context) error
	DequeueSyncBatch(ctx context.Context, limit int) ([]core.PendingSync, error)
	MarkSyncProcessing(ctx context.Context, id int64) error
	MarkSyncComplete(ctx context.Context, id int64) error
	MarkSyncFailed(ctx context.Context, id int64, lastError string) error
	IncrementSyncAttempt(ctx context.Context, id int64, lastError string, nextRetry time.Time) error
	CleanupCompletedSyncs(ctx context.Context, cutoff time.Time) error
	RetryFailedSyncs(ctx context.Context) (int64, error)
	GetSyncQueueStats(ctx context.Context) (storage.SyncQueueStats, error)
}

// ReconcilerConfig holds configuration for the reconciler
type ReconcilerConfig struct {
	// PollInterval is how often to check for pending items (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of items to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the maximum attempts before an item is marked failed (default: 5)
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles per attempt (default: 30s)
	RetryBackoff time.Duration

	// CleanupInterval is how often to clean up completed items (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      5,
		RetryBackoff:    30 * time.Second,
		CleanupInterval: time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

const maxBackoff = time.Hour

// Reconciler replays remote deletes that failed while the local snapshot
// had already dropped the record, until the remote store agrees.
type Reconciler struct {
	queue  RetryQueue
	remote store.TransactionStore
	config ReconcilerConfig
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReconciler(queue RetryQueue, remote store.TransactionStore, config ReconcilerConfig) *Reconciler {
	def := DefaultReconcilerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.CleanupAge <= 0 {
		config.CleanupAge = def.CleanupAge
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	return &Reconciler{
		queue:  queue,
		remote: remote,
		config: config,
		now:    time.Now,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *Reconciler) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("reconciler is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()

	if err := p.queue.ResetStaleProcessing(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale processing items", "error", err)
	}

	go p.runLoop(ctx, stop, done)

	slog.InfoContext(ctx, "Reconciler started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop signals the loop and waits for it, or for ctx to expire.
func (p *Reconciler) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Reconciler stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Reconciler stop timed out")
		return ctx.Err()
	}
}

func (p *Reconciler) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Reconciler) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.processBatch(ctx, stop)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx, stop)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

// RunOnce processes a single batch synchronously.
func (p *Reconciler) RunOnce(ctx context.Context) {
	p.processBatch(ctx, nil)
}

func (p *Reconciler) processBatch(ctx context.Context, stop <-chan struct{}) {
	items, err := p.queue.DequeueSyncBatch(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue sync batch", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.DebugContext(ctx, "Processing sync batch", "count", len(items))

	for _, item := range items {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.queue.MarkSyncProcessing(ctx, item.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark item as processing",
				"queue_id", item.ID, "error", err)
			continue
		}

		if err := p.process(ctx, item); err != nil {
			p.handleFailure(ctx, item, err)
		} else {
			p.handleSuccess(ctx, item)
		}
	}
}

func (p *Reconciler) process(ctx context.Context, item core.PendingSync) error {
	switch item.Operation {
	case core.OpDelete:
		err := p.remote.Delete(ctx, item.UserID, item.TransactionID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("delete transaction %s: %w", item.TransactionID, err)
		}
		slog.InfoContext(ctx, "Reconciled remote delete",
			"transaction_id", item.TransactionID,
			"user_id", item.UserID,
			"attempt", item.Attempts+1)
		return nil
	default:
		return fmt.Errorf("unknown operation: %s", item.Operation)
	}
}

func (p *Reconciler) handleSuccess(ctx context.Context, item core.PendingSync) {
	if err := p.queue.MarkSyncComplete(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark sync complete",
			"queue_id", item.ID, "error", err)
	}
}

func (p *Reconciler) handleFailure(ctx context.Context, item core.PendingSync, processErr error) {
	attempt := item.Attempts + 1
	slog.WarnContext(ctx, "Reconcile attempt failed",
		"queue_id", item.ID,
		"operation", item.Operation,
		"attempt", attempt,
		"error", processErr)

	if attempt >= p.config.MaxRetries {
		if err := p.queue.MarkSyncFailed(ctx, item.ID, processErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark sync as failed",
				"queue_id", item.ID, "error", err)
		}
		slog.ErrorContext(ctx, "Reconcile item failed permanently after max retries",
			"queue_id", item.ID,
			"transaction_id", item.TransactionID,
			"attempts", attempt)
		return
	}

	next := p.now().Add(p.backoff(attempt))
	if err := p.queue.IncrementSyncAttempt(ctx, item.ID, processErr.Error(), next); err != nil {
		slog.ErrorContext(ctx, "Failed to increment sync attempt",
			"queue_id", item.ID, "error", err)
	}
}

// backoff doubles RetryBackoff per previous attempt, capped at one hour.
func (p *Reconciler) backoff(attempt int) time.Duration {
	d := p.config.RetryBackoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (p *Reconciler) cleanupCompleted(ctx context.Context) {
	cutoff := p.now().Add(-p.config.CleanupAge)
	if err := p.queue.CleanupCompletedSyncs(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed syncs", "error", err)
	}
}

func (p *Reconciler) Stats(ctx context.Context) (storage.SyncQueueStats, error) {
	return p.queue.GetSyncQueueStats(ctx)
}

// RetryFailed resets all failed items for retry
func (p *Reconciler) RetryFailed(ctx context.Context) (int64, error) {
	return p.queue.RetryFailedSyncs(ctx)
}
