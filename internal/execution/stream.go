package execution

import (
	"context"

	"github.com/zigquant/engine/internal/events"
)

// StreamEvents drains the exchange client's asynchronous event channel and
// republishes each event under its canonical bus topic, so Cache applies
// fills and cancellations the same way it would for any other order.#
// lifecycle event. Blocks until ctx is canceled or
// the exchange closes the channel.
func (e *Engine) StreamEvents(ctx context.Context) error {
	ch, err := e.exchange.StreamEvents(ctx)
	if err != nil {
		return NewError(KindTransient, "open exchange event stream", err)
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			e.republish(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) republish(ev events.Event) {
	switch t := ev.(type) {
	case *events.OrderFilledEvent:
		e.tel.IncOrdersFilled()
		e.b.Publish("order.filled", t)
		// Position has no dedicated wire event in the event union;
		// re-publishing the fill under position.updated lets a Strategy
		// subscribed there know to re-read Cache.GetPosition, matching how
		// Cache itself derives positions only as a side effect of fills.
		e.b.Publish("position.updated", t)
	case *events.OrderCanceledEvent:
		e.tel.IncOrdersCanceled()
		e.b.Publish("order.canceled", t)
	case *events.OrderRejectedEvent:
		e.tel.IncOrdersRejected()
		e.b.Publish("order.rejected", t)
	case *events.ConnectionStateEvent:
		e.b.Publish("system.connection", t)
	default:
		e.b.Publish("order.unknown_event", ev)
	}
}
