// Package events distributes committed engine events to subscribers: the
// websocket hub, Redis pub/sub for other processes and a durable Redis
// stream for replay.
package events

import (
	"context"

	"github.com/atmx/liquidity-pool/internal/model"
)

// Publisher receives committed events in execution order. It satisfies
// orderbook.Publisher.
type Publisher interface {
	Publish(ctx context.Context, events []model.Event)
}

// Fanout forwards every batch to each publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events []model.Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, events)
		}
	}
}
