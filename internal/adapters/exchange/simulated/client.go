// Package simulated implements ports.ExchangeClient directly on top of the
// in-process matching engine, standing in for a real venue connection in
// backtests and local development. Submit/Cancel/Query never actually block
// on I/O; they still respect ctx so callers exercise the same timeout paths
// they would against a real venue.
package simulated

import (
	"context"
	"fmt"
	"sync"

	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/matching"
	"github.com/zigquant/engine/internal/ports"
)

// orderLocation is enough to look an order back up in the matching engine
// given only the exchange-assigned ID, the only handle Cancel/Query carry.
type orderLocation struct {
	symbol   string
	clientID uint64
}

// Client wraps a matching.Engine, serializing every call through a mutex
// since the engine itself requires single-threaded access.
type Client struct {
	mu     sync.Mutex
	engine *matching.Engine

	locations map[string]orderLocation // exchangeID -> location
	stream    chan events.Event
}

// New wraps engine. engine must already have every traded symbol added via
// AddSymbol.
func New(engine *matching.Engine) *Client {
	return &Client{
		engine:    engine,
		locations: make(map[string]orderLocation),
		stream:    make(chan events.Event, 1024),
	}
}

func exchangeID(symbol string, clientID uint64) string {
	return fmt.Sprintf("SIM-%s-%d", symbol, clientID)
}

// Submit processes order against the matching engine synchronously and
// returns the exchange-assigned ID. Any resulting fills are pushed onto the
// event stream so ExecutionEngine sees them the same way it would from a
// real venue's async fill feed.
func (c *Client) Submit(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.SubmitResult{}, err
	}

	c.mu.Lock()
	result := c.engine.ProcessOrder(order)
	xid := exchangeID(order.Symbol, order.ClientID)
	c.locations[xid] = orderLocation{symbol: order.Symbol, clientID: order.ClientID}
	c.mu.Unlock()

	if !result.Accepted {
		return ports.SubmitResult{}, &rejectError{reason: result.RejectReason}
	}

	c.emitFills(order, result.Fills)
	return ports.SubmitResult{ExchangeID: xid, Status: order.Status}, nil
}

// Cancel cancels a resting order by its exchange ID.
func (c *Client) Cancel(ctx context.Context, exchangeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	loc, ok := c.locations[exchangeID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("simulated: unknown exchange id %s", exchangeID)
	}
	order, err := c.engine.CancelOrder(loc.symbol, loc.clientID)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("simulated: cancel: %w", err)
	}

	c.stream <- &events.OrderCanceledEvent{
		Header:    events.Header{Type: events.TypeOrderCanceled, TimestampNs: domain.Now()},
		ClientID:  order.ClientID,
		Symbol:    order.Symbol,
		Status:    domain.OrderStatusCanceled,
		UpdatedNs: domain.Now(),
	}
	return nil
}

// Query returns the current status of an order the engine still knows
// about. An order still resting in the book reports its book status; an
// order with a known exchange ID that is no longer resting reports
// OrderStatusFilled, whether it left the book by filling or by a cancel.
func (c *Client) Query(ctx context.Context, clientID uint64, exchangeID string) (domain.OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	loc, ok := c.locations[exchangeID]
	if !ok {
		return 0, fmt.Errorf("simulated: unknown exchange id %s", exchangeID)
	}
	order := c.engine.GetOrder(loc.symbol, loc.clientID)
	if order == nil {
		// no longer resting: fully filled or canceled already, and the
		// caller's own Cache copy (updated by the fill/cancel event) is the
		// source of truth for which.
		return domain.OrderStatusFilled, nil
	}
	return order.Status, nil
}

// StreamEvents returns the fill/cancel event channel. The channel is never
// closed, including when ctx is canceled.
func (c *Client) StreamEvents(ctx context.Context) (<-chan events.Event, error) {
	go func() {
		<-ctx.Done()
	}()
	return c.stream, nil
}

func (c *Client) emitFills(order *domain.Order, fills []domain.Fill) {
	for _, fill := range fills {
		c.stream <- &events.OrderFilledEvent{
			Header:    events.Header{Type: events.TypeOrderFilled, TimestampNs: fill.Ns},
			ClientID:  order.ClientID,
			Symbol:    order.Symbol,
			Side:      fill.Side,
			FillPrice: fill.Price.String(),
			FillQty:   fill.Qty.String(),
			FilledQty: order.FilledQty.String(),
			Status:    order.Status,
			UpdatedNs: fill.Ns,
		}
	}
}

// rejectError carries the matching engine's rejection reason through the
// ExchangeClient interface's plain error return.
type rejectError struct{ reason string }

func (e *rejectError) Error() string { return "simulated: rejected: " + e.reason }
