package sheets

import (
	"context"

	"ledger/internal/core"
)

// Ports for outbound spreadsheet adapters.
type (
	// Mirror keeps one row per transaction, keyed by id in the first column.
	Mirror interface {
		UpsertTransaction(ctx context.Context, tx core.Transaction) (rowRef string, err error)
		DeleteTransaction(ctx context.Context, id string) error
	}

	// Exporter replaces a sheet with a full transaction listing.
	Exporter interface {
		Export(ctx context.Context, txs []core.Transaction) (rangeRef string, err error)
	}
)
