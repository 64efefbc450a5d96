package core

import (
	"errors"
	"fmt"
)

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	TL  Currency = "TL"
)

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

const (
	English Language = "en"
	Turkish Language = "tr"
)

type (
	Currency string
	Theme    string
	Language string

	// Settings are the per-user preferences. Stored as one JSON document.
	Settings struct {
		BudgetAlerts   bool     `json:"budgetAlerts"`
		BillReminders  bool     `json:"billReminders"`
		MonthlyReports bool     `json:"monthlyReports"`
		SyncData       bool     `json:"syncData"`
		Theme          Theme    `json:"theme"`
		Currency       Currency `json:"currency"`
		Language       Language `json:"language"`
	}
)

var (
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidTheme    = errors.New("invalid theme")
	ErrInvalidLanguage = errors.New("invalid language")
)

func Currencies() []Currency { return []Currency{USD, EUR, TL} }

func (c Currency) Valid() bool {
	switch c {
	case USD, EUR, TL:
		return true
	}
	return false
}

// Symbol returns the display symbol for c.
func (c Currency) Symbol() string {
	switch c {
	case EUR:
		return "€"
	case TL:
		return "₺"
	}
	return "$"
}

// DefaultSettings returns the preferences of a user who never saved any.
func DefaultSettings() Settings {
	return Settings{
		BudgetAlerts:   true,
		BillReminders:  true,
		MonthlyReports: false,
		SyncData:       true,
		Theme:          ThemeLight,
		Currency:       USD,
		Language:       English,
	}
}

func (s Settings) Validate() error {
	if !s.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, s.Currency)
	}
	switch s.Theme {
	case ThemeLight, ThemeDark:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTheme, s.Theme)
	}
	switch s.Language {
	case English, Turkish:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, s.Language)
	}
	return nil
}
