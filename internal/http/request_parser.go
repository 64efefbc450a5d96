package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ledger/internal/core"
	"ledger/internal/settings"
)

const maxBodyBytes = 1 << 20

type MonthParams struct {
	Year  int
	Month time.Month
}

// Ref returns the first instant of the month in UTC.
func (p MonthParams) Ref() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonthParams reads year and month, defaulting to the month of now.
func ParseMonthParams(query url.Values, now time.Time) (MonthParams, error) {
	p := MonthParams{Year: now.Year(), Month: now.Month()}
	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 || y > 9999 {
			return p, fmt.Errorf("invalid year %q", v)
		}
		p.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return p, fmt.Errorf("invalid month %q", v)
		}
		p.Month = time.Month(m)
	}
	return p, nil
}

// ParseRangeParam returns the range named in ?range=, or fallback.
func ParseRangeParam(query url.Values, fallback core.Range) (core.Range, error) {
	v := strings.TrimSpace(query.Get("range"))
	if v == "" {
		return fallback, nil
	}
	return core.ParseRange(v)
}

// ParseLimit reads ?limit=; zero lets the ledger pick its default.
func ParseLimit(query url.Values, max int) (int, error) {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	if n > max {
		n = max
	}
	return n, nil
}

// decodeJSON reads one JSON object from the body, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must hold a single JSON object")
	}
	return nil
}

// sanitizeInput strips control characters other than tab and newlines.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

type createTransactionRequest struct {
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
}

func (req createTransactionRequest) transaction() (core.Transaction, error) {
	cat, err := core.ParseCategory(req.Category)
	if err != nil {
		return core.Transaction{}, err
	}
	tx := core.Transaction{
		Amount:      req.Amount,
		Description: sanitizeInput(req.Description),
		Category:    cat,
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

type patchTransactionRequest struct {
	Amount      *core.Money `json:"amount"`
	Description *string     `json:"description"`
	Category    *string     `json:"category"`
}

func (req patchTransactionRequest) patch() (core.TransactionPatch, error) {
	p := core.TransactionPatch{Amount: req.Amount}
	if req.Description != nil {
		d := sanitizeInput(*req.Description)
		p.Description = &d
	}
	if req.Category != nil {
		cat, err := core.ParseCategory(*req.Category)
		if err != nil {
			return p, err
		}
		p.Category = &cat
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

type rangeRequest struct {
	Range string `json:"range"`
}

type budgetRequest struct {
	Amount core.Money `json:"amount"`
}

type currencyRequest struct {
	Currency core.Currency `json:"currency"`
}

// settingsRequest is a partial settings update.
type settingsRequest = settings.Patch
