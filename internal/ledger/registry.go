package ledger

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"ledger/internal/cache"
	"ledger/internal/store"
)

// Registry hands out one loaded Ledger per user and keeps the most recently
// used ones in memory.
type Registry struct {
	store   store.TransactionStore
	opts    Options
	ledgers *cache.LRUCache[*Ledger]
	group   singleflight.Group
}

func NewRegistry(st store.TransactionStore, opts Options, size int, ttl time.Duration) *Registry {
	return &Registry{
		store:   st,
		opts:    opts,
		ledgers: cache.NewLRUCache[*Ledger](size, ttl),
	}
}

// For returns the user's ledger, loading it from the store on first use.
func (r *Registry) For(ctx context.Context, userID string) (*Ledger, error) {
	if userID == "" {
		return nil, fmt.Errorf("ledger for empty user")
	}
	if l, ok := r.ledgers.Get(userID); ok {
		return l, nil
	}

	v, err, _ := r.group.Do(userID, func() (any, error) {
		if l, ok := r.ledgers.Get(userID); ok {
			return l, nil
		}
		l := New(r.store, store.StaticIdentity(userID), r.opts)
		if err := l.Load(ctx); err != nil {
			return nil, err
		}
		r.ledgers.Set(userID, l)
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Ledger), nil
}

// Evict drops the cached ledger so the next For reloads it.
func (r *Registry) Evict(userID string) {
	r.ledgers.Delete(userID)
}

// Cached returns the user's ledger only if it is already in memory.
func (r *Registry) Cached(userID string) (*Ledger, bool) {
	return r.ledgers.Get(userID)
}

func (r *Registry) CleanExpired() int {
	return r.ledgers.CleanExpired()
}

func (r *Registry) Size() int {
	return r.ledgers.Size()
}
