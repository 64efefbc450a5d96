package core

// CategoryShare is the expense amount of one category and its share of the
// total expenses it was computed against.
type CategoryShare struct {
	Category   Category `json:"category"`
	Amount     Money    `json:"amount"`
	Percentage float64  `json:"percentage"`
}

// Summary aggregates a range of transactions.
type Summary struct {
	Range    Range `json:"range"`
	Income   Money `json:"income"`
	Expenses Money `json:"expenses"`
	Balance  Money `json:"balance"`
	Count    int   `json:"count"`
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int             `json:"year"`
	Month      int             `json:"month"` // 1-12
	Income     Money           `json:"income"`
	Expenses   Money           `json:"expenses"`
	ByCategory []CategoryShare `json:"byCategory"`
}
