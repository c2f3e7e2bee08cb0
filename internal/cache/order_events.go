package cache

import (
	"context"

	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
)

// onOrderEvent applies order.accepted / order.filled / order.canceled /
// order.rejected to the order map, the open-orders index, the
// by-instrument index, and the position — all under one write lock so the
// update is transactional from every other goroutine's viewpoint.
func (c *Cache) onOrderEvent(ctx context.Context, topic string, event events.Event) error {
	switch e := event.(type) {
	case *events.OrderAcceptedEvent:
		c.applyAccepted(e)
	case *events.OrderFilledEvent:
		c.applyFilled(e)
	case *events.OrderCanceledEvent:
		// Status is carried on the event itself rather than assumed
		// terminal: the ExecutionEngine reuses this wire type for the
		// CancelPending/Unknown sub-states too (order.cancel_requested,
		// order.uncertain), since the wire event union has no dedicated
		// variant for them.
		c.applyStatus(e.ClientID, e.Status, e.UpdatedNs)
	case *events.OrderRejectedEvent:
		c.applyTerminal(e.ClientID, domain.OrderStatusRejected)
	}
	return nil
}

func (c *Cache) applyAccepted(e *events.OrderAcceptedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, exists := c.orders[e.ClientID]
	if !exists {
		// Accepted for an order the Cache never saw pending-persisted —
		// still record it so recovery-time reconciliation has
		// something to index against.
		order = &domain.Order{ClientID: e.ClientID, Symbol: e.Symbol}
		c.orders[e.ClientID] = order
		c.openOrderOrder = append(c.openOrderOrder, e.ClientID)
		c.indexByInstrument(e.Symbol, e.ClientID)
	}
	order.ExchangeID = e.ExchangeID
	order.Status = domain.OrderStatusSubmitted
}

// applyFilled enforces invariants 1, 2, 3, 4: filled_qty is monotonic and
// bounded by qty, terminal orders never mutate, and the position update
// happens atomically with the order update.
func (c *Cache) applyFilled(e *events.OrderFilledEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, exists := c.orders[e.ClientID]
	if !exists {
		// Fill for an unknown order: invariant violation, log+drop,
		// never crash.
		c.invariantErrors++
		c.droppedCount++
		return
	}

	newFilledQty, err := decimal.FromString(e.FilledQty)
	if err != nil {
		c.invariantErrors++
		c.droppedCount++
		return
	}

	// Idempotence key is (client_id, status, filled_qty, update_ns); an
	// exact-match duplicate is dropped, counted separately from out-of-
	// order drops (idempotence on replay).
	if order.Status == e.Status && order.FilledQty.Cmp(newFilledQty) == 0 && order.UpdatedNs == e.UpdatedNs {
		c.duplicateCount++
		return
	}

	if order.Status.IsTerminal() {
		// Invariant 2: late fills against terminal orders are dropped.
		c.droppedCount++
		return
	}

	// Out-of-order safety: only apply if filled_qty strictly advances or
	// the status strictly advances the lifecycle DAG.
	advancesQty := newFilledQty.Cmp(order.FilledQty) > 0
	advancesStatus := e.Status.Advances(order.Status)
	if !advancesQty && !advancesStatus {
		c.droppedCount++
		return
	}

	fillQty, err := decimal.FromString(e.FillQty)
	if err != nil {
		c.invariantErrors++
		c.droppedCount++
		return
	}
	fillPrice, err := decimal.FromString(e.FillPrice)
	if err != nil {
		c.invariantErrors++
		c.droppedCount++
		return
	}

	// Invariant 1: filled_qty must never exceed qty or move backwards.
	if newFilledQty.Cmp(order.Qty) > 0 || newFilledQty.Cmp(order.FilledQty) < 0 {
		c.invariantErrors++
		c.droppedCount++
		return
	}

	order.FilledQty = newFilledQty
	order.Status = e.Status
	order.UpdatedNs = e.UpdatedNs

	signedQty := fillQty
	if e.Side == domain.SideSell {
		signedQty = signedQty.Neg()
	}

	pos, exists := c.positions[order.Symbol]
	if !exists {
		pos = &domain.Position{Symbol: order.Symbol}
		c.positions[order.Symbol] = pos
	}
	pos.ApplyFill(signedQty, fillPrice, e.UpdatedNs)

	if order.Status.IsTerminal() {
		c.removeFromOpenIndex(order.ClientID)
	}
}

func (c *Cache) applyTerminal(clientID uint64, status domain.OrderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, exists := c.orders[clientID]
	if !exists {
		c.invariantErrors++
		c.droppedCount++
		return
	}
	if order.Status.IsTerminal() {
		c.droppedCount++
		return
	}
	order.Status = status
	c.removeFromOpenIndex(clientID)
}

// applyStatus moves a non-terminal order to status, used for lifecycle
// sub-states (CancelPending, Unknown) that don't carry a filled_qty change.
// Terminal orders are still immutable (invariant 2); there is no
// idempotence key here because sub-state transitions are not retried with
// duplicate (status,filled_qty,update_ns) tuples the way fills are.
func (c *Cache) applyStatus(clientID uint64, status domain.OrderStatus, updatedNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, exists := c.orders[clientID]
	if !exists {
		c.invariantErrors++
		c.droppedCount++
		return
	}
	if order.Status.IsTerminal() {
		c.droppedCount++
		return
	}

	order.Status = status
	if updatedNs > 0 {
		order.UpdatedNs = updatedNs
	}
	if status.IsTerminal() {
		c.removeFromOpenIndex(clientID)
	}
}

func (c *Cache) indexByInstrument(symbol string, clientID uint64) {
	if c.byInstrument[symbol] == nil {
		c.byInstrument[symbol] = make(map[uint64]bool)
	}
	c.byInstrument[symbol][clientID] = true
}

func (c *Cache) removeFromOpenIndex(clientID uint64) {
	for i, id := range c.openOrderOrder {
		if id == clientID {
			c.openOrderOrder = append(c.openOrderOrder[:i], c.openOrderOrder[i+1:]...)
			return
		}
	}
}

// onPositionEvent exists so position.# subscription is live; positions
// are mutated only as a side effect of order fills (onOrderEvent), never
// directly by a position.* wire event in the event union.
func (c *Cache) onPositionEvent(ctx context.Context, topic string, event events.Event) error {
	return nil
}

// TrackPending registers a Pending order in the Cache ahead of its
// order.accepted acknowledgement, called by the ExecutionEngine at
// step 2 of pre-submission tracking rather than via a bus
// event, since Pending is a purely local state the exchange never echoes.
func (c *Cache) TrackPending(order *domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders[order.ClientID] = order
	c.openOrderOrder = append(c.openOrderOrder, order.ClientID)
	c.indexByInstrument(order.Symbol, order.ClientID)
}
