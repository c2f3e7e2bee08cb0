// Package domain holds the core entities of the trading engine: the
// things the Cache owns and the ExecutionEngine mutates. Every monetary
// field is an internal/decimal.Decimal; every other field is a plain Go
// type for identity or housekeeping.
package domain

import (
	"time"

	"github.com/zigquant/engine/internal/decimal"
)

// Side is the direction of an order or fill.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the order's execution style.
type OrderType uint8

const (
	OrderTypeMarket OrderType = iota + 1
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStop:
		return "STOP"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus is a node in the order lifecycle DAG.
type OrderStatus uint8

const (
	OrderStatusPending OrderStatus = iota + 1
	OrderStatusSubmitted
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
	OrderStatusExpired
	OrderStatusCancelPending
	OrderStatusUnknown // timed-out submission/cancel, pending a query
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusExpired:
		return "EXPIRED"
	case OrderStatusCancelPending:
		return "CANCEL_PENDING"
	case OrderStatusUnknown:
		return "UNKNOWN"
	default:
		return "INVALID"
	}
}

// IsTerminal reports whether the status has no outgoing lifecycle
// transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// rank orders the non-terminal lifecycle so out-of-order events can be
// compared: a later rank never loses to an earlier one (see the lifecycle
// idempotence / out-of-order rule).
var statusRank = map[OrderStatus]int{
	OrderStatusPending:         0,
	OrderStatusSubmitted:       1,
	OrderStatusUnknown:         1, // sub-state of Submitted, same rank
	OrderStatusCancelPending:   2,
	OrderStatusPartiallyFilled: 2,
	OrderStatusFilled:          3,
	OrderStatusCanceled:        3,
	OrderStatusRejected:        3,
	OrderStatusExpired:         3,
}

// Advances reports whether transitioning from prev to next moves strictly
// forward in the lifecycle DAG.
func (next OrderStatus) Advances(prev OrderStatus) bool {
	return statusRank[next] > statusRank[prev]
}

// Instrument is created at subscription and never mutates after freeze.
type Instrument struct {
	Symbol             string
	TickSize           decimal.Decimal
	MinOrderSize       decimal.Decimal
	ContractMultiplier decimal.Decimal
}

// Quote is the latest top-of-book snapshot for a symbol; overwritten on
// every update, never merged.
type Quote struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	BidSize   decimal.Decimal
	AskSize   decimal.Decimal
	UpdatedNs int64
}

// MidPrice returns (bid+ask)/2, or the zero value if either side is empty.
func (q Quote) MidPrice() decimal.Decimal {
	if q.Bid.IsZero() || q.Ask.IsZero() {
		return decimal.Zero
	}
	sum := q.Bid.Add(q.Ask)
	mid, _ := sum.Div(decimal.New(2))
	return mid
}

// Spread returns ask-bid.
func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// Order is keyed by ClientID, which is locally assigned, monotonic, and
// never reused within a session.
type Order struct {
	ClientID   uint64
	ExchangeID string // empty until the exchange acknowledges
	AccountID  string
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        decimal.Decimal
	FilledQty  decimal.Decimal
	Price      decimal.Decimal // zero/unset for market orders
	Status     OrderStatus
	CreatedNs  int64
	UpdatedNs  int64
}

// RemainingQty returns Qty-FilledQty.
func (o *Order) RemainingQty() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// IsFilled reports whether the order has no remaining quantity.
func (o *Order) IsFilled() bool {
	return o.RemainingQty().Sign() <= 0
}

// Position is created on the first fill for a symbol and tracked until
// qty returns to zero.
type Position struct {
	Symbol       string
	Qty          decimal.Decimal // signed: positive long, negative short
	EntryPrice   decimal.Decimal // quantity-weighted average cost
	RealizedPnL  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	UpdatedNs    int64
}

// ApplyFill updates the position: same-direction
// fills quantity-weight-average into EntryPrice; a sign-flipping fill
// resets EntryPrice to the flip price and realizes PnL on the closed
// portion. signedQty is positive for buys, negative for sells.
func (p *Position) ApplyFill(signedQty, price decimal.Decimal, nowNs int64) {
	defer func() { p.UpdatedNs = nowNs }()

	if p.Qty.IsZero() {
		p.Qty = signedQty
		p.EntryPrice = price
		return
	}

	sameDirection := (p.Qty.Sign() > 0) == (signedQty.Sign() > 0)
	newQty := p.Qty.Add(signedQty)

	if sameDirection {
		// quantity-weighted average: (old_qty*old_entry + fill_qty*price) / new_qty
		oldCost := p.Qty.Abs().Mul(p.EntryPrice)
		addCost := signedQty.Abs().Mul(price)
		totalQty := p.Qty.Abs().Add(signedQty.Abs())
		if !totalQty.IsZero() {
			avg, err := oldCost.Add(addCost).Div(totalQty)
			if err == nil {
				p.EntryPrice = avg
			}
		}
		p.Qty = newQty
		return
	}

	// Opposite direction: this fill closes some or all of the existing
	// position before possibly opening a new one in the other direction.
	closingQty := p.Qty.Abs()
	if signedQty.Abs().Cmp(closingQty) < 0 {
		closingQty = signedQty.Abs()
	}
	// realized pnl on the closed portion: (price - entry) * closingQty,
	// signed by the original position direction.
	diff := price.Sub(p.EntryPrice)
	pnl := diff.Mul(closingQty)
	if p.Qty.Sign() < 0 {
		pnl = pnl.Neg()
	}
	p.RealizedPnL = p.RealizedPnL.Add(pnl)

	if newQty.IsZero() {
		p.Qty = decimal.Zero
		return
	}
	// Flip: remaining quantity opens in the new direction at the fill price.
	p.Qty = newQty
	p.EntryPrice = price
}

// Account is exists for the session and resets on reconnect only if the
// exchange says so.
type Account struct {
	ID            string
	Balance       decimal.Decimal
	Available     decimal.Decimal
	MarginUsed    decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	UpdatedNs     int64
}

// Fill is a single execution against an order.
type Fill struct {
	TradeID      uint64
	OrderClientID uint64
	Symbol       string
	Side         Side
	Price        decimal.Decimal
	Qty          decimal.Decimal
	Ns           int64
}

// Now returns the current time in nanoseconds since epoch. Production code
// should go through a ports.Clock instead; this helper exists for tests
// and default construction only.
func Now() int64 {
	return time.Now().UnixNano()
}
