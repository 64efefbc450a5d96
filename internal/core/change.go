package core

import "time"

const (
	Created ChangeKind = "created"
	Updated ChangeKind = "updated"
	Deleted ChangeKind = "deleted"
)

type ChangeKind string

// Change describes a mutation that was applied to a user's ledger.
// For deletions only Transaction.ID is guaranteed to be set.
type Change struct {
	Kind        ChangeKind  `json:"kind"`
	UserID      string      `json:"userId"`
	Transaction Transaction `json:"transaction"`
	At          time.Time   `json:"at"`
}

const OpDelete SyncOperation = "delete"

type SyncOperation string

// PendingSync is a remote delete that failed and must be retried so the
// remote store catches up with the local snapshot.
type PendingSync struct {
	ID            int64
	Operation     SyncOperation
	UserID        string
	TransactionID string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
}
