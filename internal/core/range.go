package core

import (
	"fmt"
	"strings"
	"time"
)

// Range selects a trailing window of transactions ending now.
type Range string

const (
	Week  Range = "Week"
	Month Range = "Month"
	Year  Range = "Year"
	All   Range = "All"
)

// DefaultRange is the range a fresh ledger starts with.
const DefaultRange = Month

const day = 24 * time.Hour

// Window returns the trailing duration for r. All and unknown ranges return 0.
func (r Range) Window() time.Duration {
	switch r {
	case Week:
		return 7 * day
	case Month:
		return 30 * day
	case Year:
		return 365 * day
	}
	return 0
}

func (r Range) Valid() bool {
	switch r {
	case Week, Month, Year, All:
		return true
	}
	return false
}

// Contains reports whether date falls inside r relative to now.
// A zero date never matches a bounded range.
func (r Range) Contains(date, now time.Time) bool {
	if r == All {
		return true
	}
	if date.IsZero() {
		return false
	}
	return !date.Before(now.Add(-r.Window()))
}

func ParseRange(s string) (Range, error) {
	for _, r := range []Range{Week, Month, Year, All} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRange, s)
}

// SameMonth reports whether a and b share calendar year and month in a's location.
func SameMonth(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.Month() == b.Month()
}
