// Package memory is an in-process TransactionStore and SettingsStore used
// for development, the CLI and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"ledger/internal/core"
)

type Store struct {
	mu       sync.RWMutex
	items    []core.Transaction
	settings map[string]core.Settings
	failNext error
}

func New() *Store {
	return &Store{settings: make(map[string]core.Settings)}
}

// NewFromFile seeds the store with a JSON array of transactions. A missing
// file yields an empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed []core.Transaction
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for _, tx := range seed {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		s.items = append(s.items, tx.Normalize())
	}
	return s, nil
}

// FailNext makes the next mutating call return err. Used by tests.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) Create(_ context.Context, tx core.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return "", err
	}
	tx.ID = uuid.NewString()
	s.items = append(s.items, tx.Normalize())
	return tx.ID, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, tx := range s.items {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, userID, id string, patch core.TransactionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	i := s.index(userID, id)
	if i < 0 {
		return core.ErrNotFound
	}
	s.items[i] = patch.Apply(s.items[i])
	return nil
}

func (s *Store) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	i := s.index(userID, id)
	if i < 0 {
		return core.ErrNotFound
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

func (s *Store) index(userID, id string) int {
	for i, tx := range s.items {
		if tx.ID == id && tx.UserID == userID {
			return i
		}
	}
	return -1
}

func (s *Store) GetSettings(_ context.Context, userID string) (core.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[userID]
	if !ok {
		return core.Settings{}, core.ErrNotFound
	}
	return st, nil
}

func (s *Store) PutSettings(_ context.Context, userID string, st core.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[userID] = st
	return nil
}

func (s *Store) Close() error { return nil }
