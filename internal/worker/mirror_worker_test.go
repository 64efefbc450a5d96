package worker

import (
	"context"
	"errors"
	"testing"

	"ledger/internal/amqp"
	"ledger/internal/core"
)

type fakeMirror struct {
	rows      map[string]core.Transaction
	upsertErr error
	deleteErr error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{rows: make(map[string]core.Transaction)}
}

func (m *fakeMirror) UpsertTransaction(_ context.Context, tx core.Transaction) (string, error) {
	if m.upsertErr != nil {
		return "", m.upsertErr
	}
	m.rows[tx.ID] = tx
	return "Transactions!A2:F2", nil
}

func (m *fakeMirror) DeleteTransaction(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.rows[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func event(kind core.ChangeKind, id string, cents int64) *amqp.TransactionEvent {
	return &amqp.TransactionEvent{
		Kind:   kind,
		UserID: "u1",
		Transaction: core.Transaction{
			ID:       id,
			UserID:   "u1",
			Amount:   core.Cents(cents),
			Category: core.Food,
		},
	}
}

func TestMirrorWorker_HandleEvent(t *testing.T) {
	ctx := context.Background()
	m := newFakeMirror()
	w := NewMirrorWorker(m, nil)

	steps := []struct {
		name     string
		ev       *amqp.TransactionEvent
		wantRows int
	}{
		{"create", event(core.Created, "a", -500), 1},
		{"create second", event(core.Created, "b", 1000), 2},
		{"update", event(core.Updated, "a", -700), 2},
		{"delete", event(core.Deleted, "b", 0), 1},
		{"delete missing", event(core.Deleted, "zz", 0), 1},
		{"unknown kind", event("archived", "a", 0), 1},
		{"nil event", nil, 1},
	}
	for _, s := range steps {
		if err := w.HandleEvent(ctx, s.ev); err != nil {
			t.Fatalf("%s: unexpected error %v", s.name, err)
		}
		if len(m.rows) != s.wantRows {
			t.Fatalf("%s: rows = %d, want %d", s.name, len(m.rows), s.wantRows)
		}
	}
	if got := m.rows["a"].Amount.Cents; got != -700 {
		t.Errorf("update not applied, cents = %d", got)
	}

	st := w.Stats()
	if st.Upserted != 3 || st.Deleted != 2 || st.Failed != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestMirrorWorker_ErrorsRequeue(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("quota exceeded")

	m := newFakeMirror()
	m.upsertErr = boom
	w := NewMirrorWorker(m, nil)
	if err := w.HandleEvent(ctx, event(core.Created, "a", -1)); !errors.Is(err, boom) {
		t.Fatalf("expected upsert error, got %v", err)
	}

	m.upsertErr = nil
	m.deleteErr = boom
	if err := w.HandleEvent(ctx, event(core.Deleted, "a", 0)); !errors.Is(err, boom) {
		t.Fatalf("expected delete error, got %v", err)
	}
	if st := w.Stats(); st.Failed != 2 {
		t.Errorf("expected 2 failures, got %+v", st)
	}
}
