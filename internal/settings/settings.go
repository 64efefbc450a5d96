// Package settings reads and writes per-user preferences on top of a
// store.SettingsStore, filling in defaults for users who never saved any.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ledger/internal/core"
	"ledger/internal/store"
)

type Service struct {
	store store.SettingsStore
	// Serialises writes so a full save never lands inside a partial update.
	mu sync.Mutex
}

func NewService(st store.SettingsStore) *Service {
	return &Service{store: st}
}

// Get returns the stored settings, or the defaults when none exist.
func (s *Service) Get(ctx context.Context, userID string) (core.Settings, error) {
	st, err := s.store.GetSettings(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.DefaultSettings(), nil
	}
	if err != nil {
		return core.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}

// Save validates and stores the whole settings document.
func (s *Service) Save(ctx context.Context, userID string, st core.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, userID, st)
}

// save expects s.mu to be held.
func (s *Service) save(ctx context.Context, userID string, st core.Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if err := s.store.PutSettings(ctx, userID, st); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	slog.InfoContext(ctx, "Settings saved",
		"user_id", userID,
		"currency", st.Currency,
		"language", st.Language)
	return nil
}

// Patch holds the optional fields of a partial settings update.
type Patch struct {
	BudgetAlerts   *bool          `json:"budgetAlerts,omitempty"`
	BillReminders  *bool          `json:"billReminders,omitempty"`
	MonthlyReports *bool          `json:"monthlyReports,omitempty"`
	SyncData       *bool          `json:"syncData,omitempty"`
	Theme          *core.Theme    `json:"theme,omitempty"`
	Currency       *core.Currency `json:"currency,omitempty"`
	Language       *core.Language `json:"language,omitempty"`
}

func (p Patch) apply(st core.Settings) core.Settings {
	if p.BudgetAlerts != nil {
		st.BudgetAlerts = *p.BudgetAlerts
	}
	if p.BillReminders != nil {
		st.BillReminders = *p.BillReminders
	}
	if p.MonthlyReports != nil {
		st.MonthlyReports = *p.MonthlyReports
	}
	if p.SyncData != nil {
		st.SyncData = *p.SyncData
	}
	if p.Theme != nil {
		st.Theme = *p.Theme
	}
	if p.Currency != nil {
		st.Currency = *p.Currency
	}
	if p.Language != nil {
		st.Language = *p.Language
	}
	return st
}

// Update merges p into the stored settings and returns the result.
func (s *Service) Update(ctx context.Context, userID string, p Patch) (core.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, userID)
	if err != nil {
		return core.Settings{}, err
	}
	next := p.apply(current)
	if err := s.save(ctx, userID, next); err != nil {
		return core.Settings{}, err
	}
	return next, nil
}

// SetCurrency changes only the currency, keeping every other field.
func (s *Service) SetCurrency(ctx context.Context, userID string, c core.Currency) (core.Settings, error) {
	if !c.Valid() {
		return core.Settings{}, fmt.Errorf("%w: %q", core.ErrInvalidCurrency, c)
	}
	return s.Update(ctx, userID, Patch{Currency: &c})
}
