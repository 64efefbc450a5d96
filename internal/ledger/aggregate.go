package ledger

import (
	"sort"
	"time"

	"ledger/internal/core"
)

// Totals of a slice of transactions. Expenses are absolute.
func totals(txs []core.Transaction) (income, expenses core.Money) {
	for _, tx := range txs {
		switch {
		case tx.IsIncome():
			income = income.Add(tx.Amount)
		case tx.IsExpense():
			expenses = expenses.Add(tx.Amount.Abs())
		}
	}
	return income, expenses
}

func (l *Ledger) TotalIncome(r core.Range) core.Money {
	income, _ := totals(l.FilterByRange(r))
	return income
}

// TotalExpenses returns the absolute sum of outflows in r.
func (l *Ledger) TotalExpenses(r core.Range) core.Money {
	_, expenses := totals(l.FilterByRange(r))
	return expenses
}

// Balance is TotalIncome(r) - TotalExpenses(r), computed from one snapshot read.
func (l *Ledger) Balance(r core.Range) core.Money {
	income, expenses := totals(l.FilterByRange(r))
	return income.Sub(expenses)
}

// Summary aggregates r in a single pass over the snapshot.
func (l *Ledger) Summary(r core.Range) core.Summary {
	txs := l.FilterByRange(r)
	income, expenses := totals(txs)
	return core.Summary{
		Range:    r,
		Income:   income,
		Expenses: expenses,
		Balance:  income.Sub(expenses),
		Count:    len(txs),
	}
}

// CategoryTotal returns the absolute outflow of cat within r.
func (l *Ledger) CategoryTotal(cat core.Category, r core.Range) core.Money {
	var sum core.Money
	for _, tx := range l.FilterByRange(r) {
		if tx.Category == cat && tx.IsExpense() {
			sum = sum.Add(tx.Amount.Abs())
		}
	}
	return sum
}

// MonthlyIncome sums inflows of the current calendar month.
func (l *Ledger) MonthlyIncome() core.Money {
	income, _ := totals(l.MonthlyTransactions(l.now()))
	return income
}

// MonthlyExpenses sums outflows of the current calendar month, absolute.
func (l *Ledger) MonthlyExpenses() core.Money {
	_, expenses := totals(l.MonthlyTransactions(l.now()))
	return expenses
}

// CategoryBreakdown returns per-category outflows within r with their share
// of the range's total outflow. Categories without outflow are omitted.
func (l *Ledger) CategoryBreakdown(r core.Range) []core.CategoryShare {
	return breakdown(l.FilterByRange(r))
}

// MonthlyCategoryBreakdown is CategoryBreakdown over the calendar month of ref.
func (l *Ledger) MonthlyCategoryBreakdown(ref time.Time) []core.CategoryShare {
	return breakdown(l.MonthlyTransactions(ref))
}

// MonthOverview summarises the calendar month of ref.
func (l *Ledger) MonthOverview(ref time.Time) core.MonthOverview {
	txs := l.MonthlyTransactions(ref)
	income, expenses := totals(txs)
	return core.MonthOverview{
		Year:       ref.Year(),
		Month:      int(ref.Month()),
		Income:     income,
		Expenses:   expenses,
		ByCategory: breakdown(txs),
	}
}

func breakdown(txs []core.Transaction) []core.CategoryShare {
	sums := make(map[core.Category]int64)
	var total int64
	for _, tx := range txs {
		if !tx.IsExpense() {
			continue
		}
		a := tx.Amount.Abs().Cents
		sums[tx.Category] += a
		total += a
	}

	out := make([]core.CategoryShare, 0, len(sums))
	for _, cat := range core.Categories() {
		cents, ok := sums[cat]
		if !ok || cents == 0 {
			continue
		}
		out = append(out, core.CategoryShare{
			Category:   cat,
			Amount:     core.Cents(cents),
			Percentage: percentage(cents, total),
		})
		delete(sums, cat)
	}
	// Records loaded with a category outside the fixed set still count.
	rest := make([]core.Category, 0, len(sums))
	for cat, cents := range sums {
		if cents != 0 {
			rest = append(rest, cat)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, cat := range rest {
		out = append(out, core.CategoryShare{
			Category:   cat,
			Amount:     core.Cents(sums[cat]),
			Percentage: percentage(sums[cat], total),
		})
	}
	return out
}

func percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
