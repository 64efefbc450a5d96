package amqp

import (
	"context"
	"log/slog"

	"ledger/internal/core"
)

// Publisher forwards ledger changes to the broker. Failures are logged and
// never reach the ledger.
type Publisher struct {
	client eventPublisher
}

type eventPublisher interface {
	PublishEvent(ctx context.Context, change core.Change) error
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Notify(ctx context.Context, c core.Change) {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.PublishEvent(context.WithoutCancel(ctx), c); err != nil {
		slog.WarnContext(ctx, "Failed to publish transaction event",
			"kind", c.Kind,
			"transaction_id", c.Transaction.ID,
			"error", err)
	}
}
