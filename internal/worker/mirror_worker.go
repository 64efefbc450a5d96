package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"ledger/internal/amqp"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/sheets"
)

// MirrorWorker applies ledger events to a spreadsheet mirror so the sheet
// keeps one row per transaction.
type MirrorWorker struct {
	mirror sheets.Mirror
	logger *log.Logger

	upserted atomic.Int64
	deleted  atomic.Int64
	failed   atomic.Int64
}

// Stats counts the events handled since the worker was created.
type Stats struct {
	Upserted int64
	Deleted  int64
	Failed   int64
}

func NewMirrorWorker(mirror sheets.Mirror, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &MirrorWorker{mirror: mirror, logger: logger}
}

// HandleEvent processes one event. A returned error makes the consumer
// requeue the message.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	if ev == nil {
		return nil
	}
	logger := w.logger.With(log.FieldUserID, ev.UserID)

	switch ev.Kind {
	case core.Created, core.Updated:
		ref, err := w.mirror.UpsertTransaction(ctx, ev.Transaction)
		if err != nil {
			w.failed.Add(1)
			return fmt.Errorf("upsert transaction %s: %w", ev.Transaction.ID, err)
		}
		w.upserted.Add(1)
		logger.InfoContext(ctx, "Mirrored transaction",
			log.FieldOperation, ev.Kind,
			log.FieldTransactionID, ev.Transaction.ID,
			"sheets_ref", ref)
		return nil

	case core.Deleted:
		err := w.mirror.DeleteTransaction(ctx, ev.Transaction.ID)
		if errors.Is(err, core.ErrNotFound) {
			// Never mirrored, or already gone.
			logger.DebugContext(ctx, "Deleted transaction not in mirror",
				log.FieldTransactionID, ev.Transaction.ID)
			err = nil
		}
		if err != nil {
			w.failed.Add(1)
			return fmt.Errorf("delete transaction %s: %w", ev.Transaction.ID, err)
		}
		w.deleted.Add(1)
		logger.InfoContext(ctx, "Removed transaction from mirror",
			log.FieldTransactionID, ev.Transaction.ID)
		return nil
	}

	logger.WarnContext(ctx, "Skipping event with unknown kind", "kind", ev.Kind)
	return nil
}

func (w *MirrorWorker) Stats() Stats {
	return Stats{
		Upserted: w.upserted.Load(),
		Deleted:  w.deleted.Load(),
		Failed:   w.failed.Load(),
	}
}
