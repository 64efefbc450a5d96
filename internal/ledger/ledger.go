// Package ledger keeps the signed-in user's transactions in memory and
// derives totals, category breakdowns and recent lists from them.
//
// The snapshot is authoritative for reads. Load replaces it wholesale from
// the remote store; Add, Update and Delete write to the remote store first
// and then patch the snapshot so the two agree.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/store"
)

// DefaultRecentLimit is used by RecentTransactions when limit <= 0.
const DefaultRecentLimit = 5

// Options carries the optional collaborators of a Ledger.
type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// Notifier receives every mutation after the snapshot was patched.
	Notifier store.ChangeNotifier
	// Pending receives deletes the remote store rejected.
	Pending store.SyncQueue
	Logger  *log.Logger
}

// Ledger is safe for concurrent use. Remote calls never hold the lock.
type Ledger struct {
	store    store.TransactionStore
	identity store.IdentityProvider
	now      func() time.Time
	notifier store.ChangeNotifier
	pending  store.SyncQueue
	logger   *log.Logger

	mu       sync.RWMutex
	txs      []core.Transaction
	selected core.Range
	budgets  map[core.Category]core.Money
	loadedAt time.Time
}

func New(st store.TransactionStore, identity store.IdentityProvider, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default(log.ComponentLedger)
	}
	return &Ledger{
		store:    st,
		identity: identity,
		now:      opts.Now,
		notifier: opts.Notifier,
		pending:  opts.Pending,
		logger:   opts.Logger,
		selected: core.DefaultRange,
		budgets:  make(map[core.Category]core.Money),
	}
}

func (l *Ledger) user(ctx context.Context) (string, bool) {
	if l.identity == nil {
		return "", false
	}
	return l.identity.CurrentUserID(ctx)
}

// Load replaces the snapshot with the signed-in user's remote records.
// Without a signed-in user it does nothing.
func (l *Ledger) Load(ctx context.Context) error {
	userID, ok := l.user(ctx)
	if !ok {
		return nil
	}

	txs, err := l.store.ListByUser(ctx, userID)
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to load transactions",
			log.FieldUserID, userID, log.FieldError, err)
		return fmt.Errorf("load transactions: %w", err)
	}
	for i := range txs {
		txs[i] = txs[i].Normalize()
	}

	l.mu.Lock()
	l.txs = txs
	l.loadedAt = l.now()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "Transactions loaded",
		log.FieldUserID, userID, log.FieldCount, len(txs))
	return nil
}

// LoadedAt reports when Load last succeeded.
func (l *Ledger) LoadedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadedAt
}

// Add stamps tx with the current time and owner, persists it and appends
// the stored record. Without a signed-in user it returns "", nil.
func (l *Ledger) Add(ctx context.Context, tx core.Transaction) (string, error) {
	userID, ok := l.user(ctx)
	if !ok {
		return "", nil
	}

	tx.ID = ""
	tx.UserID = userID
	tx.Date = l.now()
	tx = tx.Normalize()

	id, err := l.store.Create(ctx, tx)
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to add transaction",
			log.NewFields().WithUser(userID).WithTransaction(tx).WithError(err).ToSlice()...)
		return "", fmt.Errorf("add transaction: %w", err)
	}
	tx.ID = id

	l.mu.Lock()
	l.txs = append(l.txs, tx)
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "Transaction added",
		log.NewFields().WithUser(userID).WithTransaction(tx).ToSlice()...)
	l.notify(ctx, core.Created, userID, tx)
	return id, nil
}

// Update applies patch remotely and then to the local record with the same
// id, returning the reconciled record. A record missing from the snapshot is
// fetched from the store and inserted; when that fails no change is emitted.
func (l *Ledger) Update(ctx context.Context, id string, patch core.TransactionPatch) (core.Transaction, error) {
	userID, ok := l.user(ctx)
	if !ok {
		return core.Transaction{}, nil
	}
	if patch.IsEmpty() {
		return core.Transaction{}, core.ErrEmptyPatch
	}

	if err := l.store.Update(ctx, userID, id, patch); err != nil {
		l.logger.ErrorContext(ctx, "Failed to update transaction",
			log.FieldUserID, userID, log.FieldTransactionID, id, log.FieldError, err)
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	var updated core.Transaction
	found := false
	l.mu.Lock()
	for i := range l.txs {
		if l.txs[i].ID == id {
			l.txs[i] = patch.Apply(l.txs[i])
			updated, found = l.txs[i], true
			break
		}
	}
	l.mu.Unlock()

	if !found {
		l.logger.WarnContext(ctx, "Updated transaction missing from snapshot",
			log.FieldUserID, userID, log.FieldTransactionID, id)
		var err error
		if updated, err = l.fetch(ctx, userID, id); err != nil {
			return core.Transaction{}, err
		}
	}
	l.notify(ctx, core.Updated, userID, updated)
	return updated, nil
}

// fetch reads one record from the store and puts it into the snapshot,
// replacing any copy a concurrent writer added meanwhile.
func (l *Ledger) fetch(ctx context.Context, userID, id string) (core.Transaction, error) {
	remote, err := l.store.ListByUser(ctx, userID)
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to reload updated transaction",
			log.FieldUserID, userID, log.FieldTransactionID, id, log.FieldError, err)
		return core.Transaction{}, fmt.Errorf("reload transaction %s: %w", id, err)
	}
	for _, tx := range remote {
		if tx.ID != id {
			continue
		}
		l.mu.Lock()
		replaced := false
		for i := range l.txs {
			if l.txs[i].ID == id {
				l.txs[i], replaced = tx, true
				break
			}
		}
		if !replaced {
			l.txs = append(l.txs, tx)
		}
		l.mu.Unlock()
		return tx, nil
	}
	return core.Transaction{}, fmt.Errorf("reload transaction %s: %w", id, core.ErrNotFound)
}

// Delete removes the record remotely and locally. A remote failure is
// logged and queued for retry; the record still leaves the snapshot and
// no error is returned.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	userID, ok := l.user(ctx)
	if !ok {
		return nil
	}

	if err := l.store.Delete(ctx, userID, id); err != nil && !errors.Is(err, core.ErrNotFound) {
		l.logger.ErrorContext(ctx, "Failed to delete transaction remotely",
			log.FieldUserID, userID, log.FieldTransactionID, id, log.FieldError, err)
		l.enqueueDelete(ctx, userID, id, err)
	}

	l.mu.Lock()
	removed := false
	for i := range l.txs {
		if l.txs[i].ID == id {
			l.txs = append(l.txs[:i:i], l.txs[i+1:]...)
			removed = true
			break
		}
	}
	l.mu.Unlock()

	if removed {
		l.notify(ctx, core.Deleted, userID, core.Transaction{ID: id, UserID: userID})
	}
	return nil
}

func (l *Ledger) enqueueDelete(ctx context.Context, userID, id string, cause error) {
	if l.pending == nil {
		return
	}
	op := core.PendingSync{
		Operation:     core.OpDelete,
		UserID:        userID,
		TransactionID: id,
		LastError:     cause.Error(),
		CreatedAt:     l.now(),
	}
	if err := l.pending.EnqueueSync(ctx, op); err != nil {
		l.logger.ErrorContext(ctx, "Failed to queue delete for retry",
			log.FieldUserID, userID, log.FieldTransactionID, id, log.FieldError, err)
	}
}

func (l *Ledger) notify(ctx context.Context, kind core.ChangeKind, userID string, tx core.Transaction) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, core.Change{Kind: kind, UserID: userID, Transaction: tx, At: l.now()})
}

// SelectedRange returns the range used when callers do not name one.
func (l *Ledger) SelectedRange() core.Range {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.selected
}

func (l *Ledger) SetSelectedRange(r core.Range) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidRange, r)
	}
	l.mu.Lock()
	l.selected = r
	l.mu.Unlock()
	return nil
}

// Budgets returns a copy of the declared per-category budgets.
func (l *Ledger) Budgets() map[core.Category]core.Money {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[core.Category]core.Money, len(l.budgets))
	for k, v := range l.budgets {
		out[k] = v
	}
	return out
}

// SetBudget declares a budget for cat. A zero amount removes it.
func (l *Ledger) SetBudget(cat core.Category, m core.Money) error {
	if !cat.Valid() {
		return core.ErrInvalidCategory
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.IsZero() {
		delete(l.budgets, cat)
		return nil
	}
	l.budgets[cat] = m.Abs()
	return nil
}

// Snapshot returns a copy of every record in snapshot order.
func (l *Ledger) Snapshot() []core.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

// Get returns the record with id from the snapshot.
func (l *Ledger) Get(id string) (core.Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, tx := range l.txs {
		if tx.ID == id {
			return tx, true
		}
	}
	return core.Transaction{}, false
}

// Len returns the number of records in the snapshot.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txs)
}

func (l *Ledger) filter(keep func(core.Transaction) bool) []core.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.Transaction, 0, len(l.txs))
	for _, tx := range l.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}

// FilterByRange returns the records dated within r, in snapshot order.
func (l *Ledger) FilterByRange(r core.Range) []core.Transaction {
	now := l.now()
	return l.filter(func(tx core.Transaction) bool { return r.Contains(tx.Date, now) })
}

// ByCategory returns the records of cat. An empty cat returns everything.
func (l *Ledger) ByCategory(cat core.Category) []core.Transaction {
	return l.filter(func(tx core.Transaction) bool { return cat == "" || tx.Category == cat })
}

// MonthlyTransactions returns the records in the calendar month of ref.
func (l *Ledger) MonthlyTransactions(ref time.Time) []core.Transaction {
	return l.filter(func(tx core.Transaction) bool { return core.SameMonth(ref, tx.Date) })
}

// RecentTransactions returns up to limit records, newest first.
// Records with equal dates keep their snapshot order.
func (l *Ledger) RecentTransactions(limit int) []core.Transaction {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	txs := l.Snapshot()
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs
}
