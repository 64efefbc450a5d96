package storage

import (
	"context"
	"database/sql"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type TransactionRow struct {
	ID          string
	UserID      string
	AmountCents int64
	Category    string
	Description string
	Type        string
	OccurredAt  string
}

const insertTransaction = `INSERT INTO transactions (id, user_id, amount_cents, category, description, type, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTransaction(ctx context.Context, arg TransactionRow) error {
	_, err := q.db.ExecContext(ctx, insertTransaction,
		arg.ID, arg.UserID, arg.AmountCents, arg.Category, arg.Description, arg.Type, arg.OccurredAt)
	return err
}

const listTransactionsByUser = `SELECT id, user_id, amount_cents, category, description, type, occurred_at
FROM transactions WHERE user_id = ? ORDER BY rowid`

func (q *Queries) ListTransactionsByUser(ctx context.Context, userID string) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		var i TransactionRow
		if err := rows.Scan(&i.ID, &i.UserID, &i.AmountCents, &i.Category, &i.Description, &i.Type, &i.OccurredAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getTransaction = `SELECT id, user_id, amount_cents, category, description, type, occurred_at
FROM transactions WHERE user_id = ? AND id = ?`

func (q *Queries) GetTransaction(ctx context.Context, userID, id string) (TransactionRow, error) {
	var i TransactionRow
	err := q.db.QueryRowContext(ctx, getTransaction, userID, id).
		Scan(&i.ID, &i.UserID, &i.AmountCents, &i.Category, &i.Description, &i.Type, &i.OccurredAt)
	return i, err
}

const updateTransaction = `UPDATE transactions SET amount_cents = ?, category = ?, description = ?, type = ?
WHERE user_id = ? AND id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, arg TransactionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction,
		arg.AmountCents, arg.Category, arg.Description, arg.Type, arg.UserID, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransaction = `DELETE FROM transactions WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, userID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getSettings = `SELECT payload FROM settings WHERE user_id = ?`

func (q *Queries) GetSettings(ctx context.Context, userID string) (string, error) {
	var payload string
	err := q.db.QueryRowContext(ctx, getSettings, userID).Scan(&payload)
	return payload, err
}

const upsertSettings = `INSERT INTO settings (user_id, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`

func (q *Queries) UpsertSettings(ctx context.Context, userID, payload string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, upsertSettings, userID, payload, formatTime(now))
	return err
}

// SyncQueue is one row of the retry queue.
type SyncQueue struct {
	ID            int64
	Operation     string
	UserID        string
	TransactionID string
	Status        string
	Attempts      int64
	LastError     string
	NextRetryAt   string
	CreatedAt     string
}

const enqueueSync = `INSERT INTO sync_queue (operation, user_id, transaction_id, last_error, next_retry_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) EnqueueSync(ctx context.Context, arg SyncQueue, now time.Time) (int64, error) {
	ts := formatTime(now)
	res, err := q.db.ExecContext(ctx, enqueueSync, arg.Operation, arg.UserID, arg.TransactionID, arg.LastError, ts, ts, ts)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const dequeueSyncBatch = `SELECT id, operation, user_id, transaction_id, status, attempts, last_error, next_retry_at, created_at
FROM sync_queue WHERE status = 'pending' AND next_retry_at <= ? ORDER BY id LIMIT ?`

func (q *Queries) DequeueSyncBatch(ctx context.Context, now time.Time, limit int64) ([]SyncQueue, error) {
	rows, err := q.db.QueryContext(ctx, dequeueSyncBatch, formatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SyncQueue
	for rows.Next() {
		var i SyncQueue
		if err := rows.Scan(&i.ID, &i.Operation, &i.UserID, &i.TransactionID, &i.Status,
			&i.Attempts, &i.LastError, &i.NextRetryAt, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const setSyncStatus = `UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ?`

func (q *Queries) SetSyncStatus(ctx context.Context, id int64, status string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, setSyncStatus, status, formatTime(now), id)
	return err
}

const markSyncFailed = `UPDATE sync_queue SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`

func (q *Queries) MarkSyncFailed(ctx context.Context, id int64, lastError string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, markSyncFailed, lastError, formatTime(now), id)
	return err
}

const incrementSyncAttempt = `UPDATE sync_queue SET status = 'pending', attempts = attempts + 1, last_error = ?, next_retry_at = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) IncrementSyncAttempt(ctx context.Context, id int64, lastError string, nextRetry, now time.Time) error {
	_, err := q.db.ExecContext(ctx, incrementSyncAttempt, lastError, formatTime(nextRetry), formatTime(now), id)
	return err
}

const resetStaleProcessing = `UPDATE sync_queue SET status = 'pending', updated_at = ? WHERE status = 'processing'`

func (q *Queries) ResetStaleProcessing(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, resetStaleProcessing, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const cleanupCompletedSyncs = `DELETE FROM sync_queue WHERE status = 'completed' AND updated_at < ?`

func (q *Queries) CleanupCompletedSyncs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, cleanupCompletedSyncs, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const retryFailedSyncs = `UPDATE sync_queue SET status = 'pending', attempts = 0, next_retry_at = ?, updated_at = ? WHERE status = 'failed'`

func (q *Queries) RetryFailedSyncs(ctx context.Context, now time.Time) (int64, error) {
	ts := formatTime(now)
	res, err := q.db.ExecContext(ctx, retryFailedSyncs, ts, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type SyncQueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

const getSyncQueueStats = `SELECT
    COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
FROM sync_queue`

func (q *Queries) GetSyncQueueStats(ctx context.Context) (SyncQueueStats, error) {
	var s SyncQueueStats
	err := q.db.QueryRowContext(ctx, getSyncQueueStats).Scan(&s.Pending, &s.Processing, &s.Completed, &s.Failed)
	return s, err
}
