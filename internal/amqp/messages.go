package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ledger/internal/core"
)

// TransactionEvent is published for every ledger mutation. Deleted events
// only carry the transaction id and owner.
type TransactionEvent struct {
	Kind        core.ChangeKind  `json:"kind"`
	UserID      string           `json:"userId"`
	Transaction core.Transaction `json:"transaction"`
	Timestamp   time.Time        `json:"timestamp"`
}

func NewTransactionEvent(c core.Change) *TransactionEvent {
	ts := c.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return &TransactionEvent{
		Kind:        c.Kind,
		UserID:      c.UserID,
		Transaction: c.Transaction,
		Timestamp:   ts,
	}
}

func (m *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Change converts the event back into the ledger's change record.
func (m *TransactionEvent) Change() core.Change {
	return core.Change{Kind: m.Kind, UserID: m.UserID, Transaction: m.Transaction, At: m.Timestamp}
}

// TransactionEventFromJSON decodes and sanity-checks an event body.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var msg TransactionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case core.Created, core.Updated, core.Deleted:
	default:
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	if msg.UserID == "" || msg.Transaction.ID == "" {
		return nil, fmt.Errorf("event missing user or transaction id")
	}
	return &msg, nil
}
