package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Housing       Category = "Housing"
	Food          Category = "Food"
	Transport     Category = "Transport"
	Bills         Category = "Bills"
	Entertainment Category = "Entertainment"
	Health        Category = "Health"
	Shopping      Category = "Shopping"
	Other         Category = "Other"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const maxDescriptionLen = 200

type (
	Category string

	TransactionType string

	// Transaction is a single signed money movement owned by one user.
	// Negative amounts are outflows, positive amounts are inflows.
	Transaction struct {
		ID          string          `json:"id"`
		Amount      Money           `json:"amount"`
		Category    Category        `json:"category"`
		Description string          `json:"description"`
		Date        time.Time       `json:"date"`
		Type        TransactionType `json:"type"`
		UserID      string          `json:"userId"`
	}

	// TransactionPatch holds the optional fields of an update.
	TransactionPatch struct {
		Amount      *Money    `json:"amount,omitempty"`
		Description *string   `json:"description,omitempty"`
		Category    *Category `json:"category,omitempty"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrDescriptionLong  = fmt.Errorf("description too long (max %d characters)", maxDescriptionLen)
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidRange     = errors.New("invalid range")
	ErrNotFound         = errors.New("transaction not found")
	ErrEmptyPatch       = errors.New("empty patch")
)

var categories = []Category{Housing, Food, Transport, Bills, Entertainment, Health, Shopping, Other}

// Categories returns the fixed category set in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func (c Category) Valid() bool {
	for _, k := range categories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory matches case-insensitively against the fixed set.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, k := range categories {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// TypeOf derives the income/expense label from the sign of an amount.
// Zero counts as income, matching the inflow side of the sign rule.
func TypeOf(m Money) TransactionType {
	if m.Cents < 0 {
		return Expense
	}
	return Income
}

func (t Transaction) IsExpense() bool { return t.Amount.Cents < 0 }

func (t Transaction) IsIncome() bool { return t.Amount.Cents > 0 }

// Normalize rewrites Type from the sign of Amount.
func (t Transaction) Normalize() Transaction {
	t.Type = TypeOf(t.Amount)
	return t
}

// Validate checks the caller-provided fields of a new transaction.
func (t Transaction) Validate() error {
	if t.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(t.Description) > maxDescriptionLen {
		return ErrDescriptionLong
	}
	if !t.Category.Valid() {
		return ErrInvalidCategory
	}
	return nil
}

func (p TransactionPatch) IsEmpty() bool {
	return p.Amount == nil && p.Description == nil && p.Category == nil
}

func (p TransactionPatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.Amount != nil && p.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	if p.Description != nil {
		if len(strings.TrimSpace(*p.Description)) == 0 {
			return ErrEmptyDescription
		}
		if utf8.RuneCountInString(*p.Description) > maxDescriptionLen {
			return ErrDescriptionLong
		}
	}
	if p.Category != nil && !p.Category.Valid() {
		return ErrInvalidCategory
	}
	return nil
}

// Apply returns t with the patch fields merged in and Type re-derived.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	return t.Normalize()
}
