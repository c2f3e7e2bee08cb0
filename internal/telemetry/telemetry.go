// Package telemetry tracks atomic counters surfaced via the runner's
// stats() call: invariant violations, stale-data drops, duplicate
// lifecycle events, and reentrancy rejections. Grounded on
// abdoElHodaky-tradSys's EngineStats shape (OrdersProcessed, ErrorCount,
// etc.), generalized to the counters this engine's components actually emit.
package telemetry

import "sync/atomic"

// Counters is a set of atomic counters safe for concurrent increment from
// any component and concurrent read via Snapshot.
type Counters struct {
	InvariantViolations uint64
	StaleDataDrops      uint64
	DuplicateEvents     uint64
	OutOfOrderDrops      uint64
	ReentrancyRejections uint64
	OrdersSubmitted      uint64
	OrdersFilled         uint64
	OrdersRejected       uint64
	OrdersCanceled       uint64
	OrdersUncertain      uint64
}

// IncInvariantViolation increments the invariant-violation counter.
func (c *Counters) IncInvariantViolation() { atomic.AddUint64(&c.InvariantViolations, 1) }

// IncStaleDataDrop increments the stale-drop counter (DataEngine skew bound).
func (c *Counters) IncStaleDataDrop() { atomic.AddUint64(&c.StaleDataDrops, 1) }

// IncDuplicateEvent increments the duplicate-lifecycle-event counter.
func (c *Counters) IncDuplicateEvent() { atomic.AddUint64(&c.DuplicateEvents, 1) }

// IncOutOfOrderDrop increments the out-of-order-drop counter.
func (c *Counters) IncOutOfOrderDrop() { atomic.AddUint64(&c.OutOfOrderDrops, 1) }

// IncReentrancyRejection increments the bus reentrancy-cap counter.
func (c *Counters) IncReentrancyRejection() { atomic.AddUint64(&c.ReentrancyRejections, 1) }

// IncOrdersSubmitted increments the submitted-orders counter.
func (c *Counters) IncOrdersSubmitted() { atomic.AddUint64(&c.OrdersSubmitted, 1) }

// IncOrdersFilled increments the filled-orders counter.
func (c *Counters) IncOrdersFilled() { atomic.AddUint64(&c.OrdersFilled, 1) }

// IncOrdersRejected increments the rejected-orders counter.
func (c *Counters) IncOrdersRejected() { atomic.AddUint64(&c.OrdersRejected, 1) }

// IncOrdersCanceled increments the canceled-orders counter.
func (c *Counters) IncOrdersCanceled() { atomic.AddUint64(&c.OrdersCanceled, 1) }

// IncOrdersUncertain increments the uncertain-acknowledgement counter, bumped
// when a submit or cancel times out and the post-timeout query still can't
// resolve the order's true state.
func (c *Counters) IncOrdersUncertain() { atomic.AddUint64(&c.OrdersUncertain, 1) }

// Snapshot is a value-type copy safe to serialize or print.
type Snapshot struct {
	InvariantViolations  uint64
	StaleDataDrops       uint64
	DuplicateEvents      uint64
	OutOfOrderDrops      uint64
	ReentrancyRejections uint64
	OrdersSubmitted      uint64
	OrdersFilled         uint64
	OrdersRejected       uint64
	OrdersCanceled       uint64
	OrdersUncertain      uint64
}

// Snapshot returns a consistent-enough (not transactional) read of every
// counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		InvariantViolations:  atomic.LoadUint64(&c.InvariantViolations),
		StaleDataDrops:       atomic.LoadUint64(&c.StaleDataDrops),
		DuplicateEvents:      atomic.LoadUint64(&c.DuplicateEvents),
		OutOfOrderDrops:      atomic.LoadUint64(&c.OutOfOrderDrops),
		ReentrancyRejections: atomic.LoadUint64(&c.ReentrancyRejections),
		OrdersSubmitted:      atomic.LoadUint64(&c.OrdersSubmitted),
		OrdersFilled:         atomic.LoadUint64(&c.OrdersFilled),
		OrdersRejected:       atomic.LoadUint64(&c.OrdersRejected),
		OrdersCanceled:       atomic.LoadUint64(&c.OrdersCanceled),
		OrdersUncertain:      atomic.LoadUint64(&c.OrdersUncertain),
	}
}
