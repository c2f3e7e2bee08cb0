// Package events defines the tagged-union Event type that flows over the
// MessageBus, the DataEngine, and the ExecutionEngine, plus the append-only
// event log used for pre-submission persistence and crash recovery.
//
// Event Sourcing: state is derived by replaying events since the last
// snapshot rather than stored directly. This gives an audit trail,
// crash recovery, and deterministic backtests from the same mechanism.
package events

import (
	"github.com/zigquant/engine/internal/domain"
)

// Type identifies which variant of the Event union a value carries.
type Type uint8

const (
	TypeMarketData Type = iota + 1
	TypeTrade
	TypeOrderbookUpdate
	TypeCandle
	TypeOrderAccepted
	TypeOrderFilled
	TypeOrderCanceled
	TypeOrderRejected
	TypeTick
	TypeConnectionState
	TypeShutdown
)

func (t Type) String() string {
	switch t {
	case TypeMarketData:
		return "market_data"
	case TypeTrade:
		return "trade"
	case TypeOrderbookUpdate:
		return "orderbook_update"
	case TypeCandle:
		return "candle"
	case TypeOrderAccepted:
		return "order_accepted"
	case TypeOrderFilled:
		return "order_filled"
	case TypeOrderCanceled:
		return "order_canceled"
	case TypeOrderRejected:
		return "order_rejected"
	case TypeTick:
		return "tick"
	case TypeConnectionState:
		return "connection_state"
	case TypeShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Header carries the fields common to every event variant.
type Header struct {
	SequenceNum uint64 // assigned by the event log on Append
	TimestampNs int64  // source/producer timestamp, monotonic per source
	Type        Type
	UUID        string // optional per-event identity
}

// Event is implemented by every variant below. It lets the bus, the event
// log, and the DataEngine route on SequenceNum/TimestampNs/Type without a
// type switch per variant; the concrete payload is recovered by the
// consumer via a type assertion when it cares about variant-specific
// fields.
type Event interface {
	EventHeader() *Header
}

// MarketDataEvent is a generic quote/depth tick from a DataSource.
type MarketDataEvent struct {
	Header
	Symbol  string
	Bid     string // decimal.Decimal.String() — wire-safe, avoids gob on big.Int internals
	Ask     string
	BidSize string
	AskSize string
}

// TradeEvent is a public trade print from a DataSource or the matching core.
type TradeEvent struct {
	Header
	TradeID  uint64
	Symbol   string
	Price    string
	Qty      string
	Side     domain.Side
}

// OrderbookUpdateEvent carries a depth delta for a symbol.
type OrderbookUpdateEvent struct {
	Header
	Symbol string
	Side   domain.Side
	Price  string
	Qty    string // new total quantity at this level, 0 means removed
}

// CandleEvent is emitted by the DataEngine's aggregator when a bar closes.
type CandleEvent struct {
	Header
	Symbol     string
	Timeframe  string
	Open       string
	High       string
	Low        string
	Close      string
	Volume     string
	OpenNs     int64
	CloseNs    int64
}

// OrderAcceptedEvent signals the exchange acknowledged submission.
type OrderAcceptedEvent struct {
	Header
	ClientID   uint64
	ExchangeID string
	Symbol     string
}

// OrderFilledEvent is a lifecycle transition carrying the idempotence key
// described by: (ClientID, Status, FilledQty, UpdatedNs).
type OrderFilledEvent struct {
	Header
	ClientID  uint64
	Symbol    string
	Side      domain.Side
	FillPrice string
	FillQty   string
	FilledQty string // cumulative filled quantity after this fill
	Status    domain.OrderStatus
	UpdatedNs int64
}

// OrderCanceledEvent confirms a cancellation (or a cancel/fill race result).
type OrderCanceledEvent struct {
	Header
	ClientID  uint64
	Symbol    string
	Status    domain.OrderStatus
	Reason    string
	UpdatedNs int64
}

// OrderRejectedEvent carries the rejection reason taxonomy.
type OrderRejectedEvent struct {
	Header
	ClientID     uint64
	Symbol       string
	RejectReason string
}

// TickEvent is a periodic clock event independent of market data.
type TickEvent struct {
	Header
}

// ConnectionStateEvent reports exchange connectivity transitions.
type ConnectionStateEvent struct {
	Header
	Connected bool
	Detail    string
}

// ShutdownEvent is always the final event a DataEngine or runner publishes.
type ShutdownEvent struct {
	Header
	Reason string
}
