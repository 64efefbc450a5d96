// Package store declares the outbound ports used by the ledger and its
// collaborators. Adapters live in the subpackages.
package store

import (
	"context"

	"ledger/internal/core"
)

type (
	// IdentityProvider reports the currently signed-in user.
	IdentityProvider interface {
		CurrentUserID(ctx context.Context) (userID string, ok bool)
	}

	// TransactionStore is the remote document store holding transactions.
	// Update and Delete are scoped by owner; a record owned by someone
	// else is reported as core.ErrNotFound.
	TransactionStore interface {
		Create(ctx context.Context, tx core.Transaction) (id string, err error)
		ListByUser(ctx context.Context, userID string) ([]core.Transaction, error)
		Update(ctx context.Context, userID, id string, patch core.TransactionPatch) error
		Delete(ctx context.Context, userID, id string) error
	}

	// SettingsStore persists per-user preferences.
	// GetSettings returns core.ErrNotFound when nothing was saved yet.
	SettingsStore interface {
		GetSettings(ctx context.Context, userID string) (core.Settings, error)
		PutSettings(ctx context.Context, userID string, s core.Settings) error
	}

	// Exporter turns a full transaction sequence into a file or sheet and
	// returns a reference to what it produced.
	Exporter interface {
		Export(ctx context.Context, txs []core.Transaction) (ref string, err error)
	}

	// SyncQueue records remote mutations that must be retried.
	SyncQueue interface {
		EnqueueSync(ctx context.Context, op core.PendingSync) error
	}

	// ChangeNotifier receives ledger mutations after they were applied locally.
	ChangeNotifier interface {
		Notify(ctx context.Context, c core.Change)
	}
)

// StaticIdentity always reports the same user. An empty value means signed out.
type StaticIdentity string

func (s StaticIdentity) CurrentUserID(context.Context) (string, bool) {
	return string(s), s != ""
}

// Notifiers fans a change out to several notifiers in order.
type Notifiers []ChangeNotifier

func (n Notifiers) Notify(ctx context.Context, c core.Change) {
	for _, x := range n {
		if x != nil {
			x.Notify(ctx, c)
		}
	}
}
