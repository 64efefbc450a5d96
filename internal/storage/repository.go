package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores transactions, settings and the retry queue in one
// SQLite file. It satisfies store.TransactionStore, store.SettingsStore and
// store.SyncQueue.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("SQLite schema ready", "path", dbPath, "version", version)

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func toRow(tx core.Transaction) TransactionRow {
	tx = tx.Normalize()
	return TransactionRow{
		ID:          tx.ID,
		UserID:      tx.UserID,
		AmountCents: tx.Amount.Cents,
		Category:    string(tx.Category),
		Description: tx.Description,
		Type:        string(tx.Type),
		OccurredAt:  formatTime(tx.Date),
	}
}

func fromRow(row TransactionRow) core.Transaction {
	// A malformed timestamp leaves Date zero, which keeps the record out of
	// ranged queries instead of failing the whole load.
	date, _ := parseTime(row.OccurredAt)
	return core.Transaction{
		ID:          row.ID,
		UserID:      row.UserID,
		Amount:      core.Cents(row.AmountCents),
		Category:    core.Category(row.Category),
		Description: row.Description,
		Type:        core.TransactionType(row.Type),
		Date:        date,
	}.Normalize()
}

func (r *SQLiteRepository) Create(ctx context.Context, tx core.Transaction) (string, error) {
	tx.ID = uuid.NewString()
	if err := r.queries.InsertTransaction(ctx, toRow(tx)); err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"user_id", tx.UserID,
		"amount_cents", tx.Amount.Cents,
		"category", tx.Category)

	return tx.ID, nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

// Update reads, patches and writes the record inside one SQL transaction.
func (r *SQLiteRepository) Update(ctx context.Context, userID, id string, patch core.TransactionPatch) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer sqlTx.Rollback()

	q := r.queries.WithTx(sqlTx)
	row, err := q.GetTransaction(ctx, userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	updated := patch.Apply(fromRow(row))
	if _, err := q.UpdateTransaction(ctx, toRow(updated)); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return sqlTx.Commit()
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID, id string) error {
	n, err := r.queries.DeleteTransaction(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetSettings(ctx context.Context, userID string) (core.Settings, error) {
	payload, err := r.queries.GetSettings(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settings{}, core.ErrNotFound
	}
	if err != nil {
		return core.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	var s core.Settings
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return core.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) PutSettings(ctx context.Context, userID string, s core.Settings) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := r.queries.UpsertSettings(ctx, userID, string(payload), r.now()); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// EnqueueSync implements store.SyncQueue.
func (r *SQLiteRepository) EnqueueSync(ctx context.Context, op core.PendingSync) error {
	id, err := r.queries.EnqueueSync(ctx, SyncQueue{
		Operation:     string(op.Operation),
		UserID:        op.UserID,
		TransactionID: op.TransactionID,
		LastError:     op.LastError,
	}, r.now())
	if err != nil {
		return fmt.Errorf("enqueue sync: %w", err)
	}

	slog.InfoContext(ctx, "Queued remote operation for retry",
		"queue_id", id,
		"operation", op.Operation,
		"transaction_id", op.TransactionID)
	return nil
}

// DequeueSyncBatch returns pending items whose retry time has come.
func (r *SQLiteRepository) DequeueSyncBatch(ctx context.Context, limit int) ([]core.PendingSync, error) {
	rows, err := r.queries.DequeueSyncBatch(ctx, r.now(), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("dequeue sync batch: %w", err)
	}
	out := make([]core.PendingSync, len(rows))
	for i, row := range rows {
		created, _ := parseTime(row.CreatedAt)
		out[i] = core.PendingSync{
			ID:            row.ID,
			Operation:     core.SyncOperation(row.Operation),
			UserID:        row.UserID,
			TransactionID: row.TransactionID,
			Attempts:      int(row.Attempts),
			LastError:     row.LastError,
			CreatedAt:     created,
		}
	}
	return out, nil
}

func (r *SQLiteRepository) MarkSyncProcessing(ctx context.Context, id int64) error {
	if err := r.queries.SetSyncStatus(ctx, id, "processing", r.now()); err != nil {
		return fmt.Errorf("mark sync processing: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncComplete(ctx context.Context, id int64) error {
	if err := r.queries.SetSyncStatus(ctx, id, "completed", r.now()); err != nil {
		return fmt.Errorf("mark sync complete: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncFailed(ctx context.Context, id int64, lastError string) error {
	if err := r.queries.MarkSyncFailed(ctx, id, lastError, r.now()); err != nil {
		return fmt.Errorf("mark sync failed: %w", err)
	}
	slog.WarnContext(ctx, "Sync item marked as failed", "queue_id", id)
	return nil
}

// IncrementSyncAttempt puts the item back to pending until nextRetry.
func (r *SQLiteRepository) IncrementSyncAttempt(ctx context.Context, id int64, lastError string, nextRetry time.Time) error {
	if err := r.queries.IncrementSyncAttempt(ctx, id, lastError, nextRetry, r.now()); err != nil {
		return fmt.Errorf("increment sync attempt: %w", err)
	}
	return nil
}

// ResetStaleProcessing returns items left in processing by a crash to pending.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context) error {
	n, err := r.queries.ResetStaleProcessing(ctx, r.now())
	if err != nil {
		return fmt.Errorf("reset stale processing: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Reset stale sync items", "count", n)
	}
	return nil
}

func (r *SQLiteRepository) CleanupCompletedSyncs(ctx context.Context, cutoff time.Time) error {
	n, err := r.queries.CleanupCompletedSyncs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup completed syncs: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Cleaned up completed sync items", "count", n)
	}
	return nil
}

func (r *SQLiteRepository) RetryFailedSyncs(ctx context.Context) (int64, error) {
	n, err := r.queries.RetryFailedSyncs(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("retry failed syncs: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) GetSyncQueueStats(ctx context.Context) (SyncQueueStats, error) {
	s, err := r.queries.GetSyncQueueStats(ctx)
	if err != nil {
		return s, fmt.Errorf("get sync queue stats: %w", err)
	}
	return s, nil
}
