// Package matching implements the single-threaded price-time matching
// core shared by the simulated ExchangeClient (backtests and local
// development) and used as the ExecutionEngine's pre-submit validation
// reference.
//
// Why single-threaded? Determinism (same input sequence always produces
// the same output), no lock contention on the hot path, and the ability
// to rebuild state by replaying the event log. The caller is responsible
// for serializing calls into ProcessOrder/CancelOrder (the runner's
// dispatcher goroutine does this in live mode; backtests are single
// threaded by construction).
package matching

import (
	"fmt"
	"sync/atomic"

	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/orderbook"
)

// ExecutionResult is the outcome of processing one incoming order.
type ExecutionResult struct {
	Order        *domain.Order
	Fills        []domain.Fill
	Accepted     bool
	RestingQty   decimal.Decimal
	RejectReason string
}

// Engine is the single-threaded order matching engine.
//
// Thread Safety: ProcessOrder/CancelOrder must only be called from a
// single goroutine at a time; external synchronization is the caller's
// responsibility.
type Engine struct {
	orderBooks map[string]*orderbook.OrderBook
	tradeID    uint64
	clientID   uint64
}

// NewEngine creates a new matching engine.
func NewEngine() *Engine {
	return &Engine{
		orderBooks: make(map[string]*orderbook.OrderBook),
	}
}

// AddSymbol adds a new tradable symbol to the engine.
func (e *Engine) AddSymbol(symbol string) {
	if _, exists := e.orderBooks[symbol]; !exists {
		e.orderBooks[symbol] = orderbook.NewOrderBook(symbol)
	}
}

// GetOrderBook returns the order book for a symbol.
func (e *Engine) GetOrderBook(symbol string) *orderbook.OrderBook {
	return e.orderBooks[symbol]
}

// NextClientID generates the next locally-assigned order ID. Exposed so
// the ExecutionEngine can assign the client_id before persistence, per
// the pre-submission tracking contract.
func (e *Engine) NextClientID() uint64 {
	return atomic.AddUint64(&e.clientID, 1)
}

func (e *Engine) nextTradeID() uint64 {
	return atomic.AddUint64(&e.tradeID, 1)
}

// ProcessOrder matches an incoming order against the book and rests any
// unfilled limit quantity. Time complexity: O(M * log P) where M is the
// number of fills and P is the number of price levels touched.
func (e *Engine) ProcessOrder(order *domain.Order) *ExecutionResult {
	result := &ExecutionResult{Order: order, Fills: make([]domain.Fill, 0)}

	book := e.orderBooks[order.Symbol]
	if book == nil {
		result.RejectReason = fmt.Sprintf("unknown symbol: %s", order.Symbol)
		order.Status = domain.OrderStatusRejected
		return result
	}
	if order.Qty.Sign() <= 0 {
		result.RejectReason = "quantity must be positive"
		order.Status = domain.OrderStatusRejected
		return result
	}
	if order.Type == domain.OrderTypeLimit && order.Price.Sign() <= 0 {
		result.RejectReason = "limit order must have positive price"
		order.Status = domain.OrderStatusRejected
		return result
	}

	result.Accepted = true

	fills := e.matchOrder(order, book)
	result.Fills = fills

	if order.IsFilled() {
		order.Status = domain.OrderStatusFilled
	} else if order.FilledQty.Sign() > 0 {
		order.Status = domain.OrderStatusPartiallyFilled
	}

	remaining := order.RemainingQty()
	if remaining.Sign() > 0 {
		switch order.Type {
		case domain.OrderTypeMarket:
			order.Status = domain.OrderStatusCanceled
			result.RejectReason = "insufficient liquidity"
		case domain.OrderTypeLimit:
			if err := book.AddOrder(order); err == nil {
				result.RestingQty = remaining
			}
		default:
			// Stop/StopLimit resolution happens at a higher layer (risk/
			// trigger monitoring); the matching core treats an incoming
			// stop order as a limit once triggered.
			if err := book.AddOrder(order); err == nil {
				result.RestingQty = remaining
			}
		}
	}

	return result
}

// matchOrder attempts to match an incoming order against resting orders.
func (e *Engine) matchOrder(order *domain.Order, book *orderbook.OrderBook) []domain.Fill {
	var fills []domain.Fill

	var getMatchLevel func() *orderbook.PriceLevel
	var priceAcceptable func(bookPrice decimal.Decimal) bool

	if order.Side == domain.SideBuy {
		getMatchLevel = book.GetBestAsk
		priceAcceptable = func(bookPrice decimal.Decimal) bool {
			if order.Type == domain.OrderTypeMarket {
				return true
			}
			return bookPrice.Cmp(order.Price) <= 0
		}
	} else {
		getMatchLevel = book.GetBestBid
		priceAcceptable = func(bookPrice decimal.Decimal) bool {
			if order.Type == domain.OrderTypeMarket {
				return true
			}
			return bookPrice.Cmp(order.Price) >= 0
		}
	}

	for order.RemainingQty().Sign() > 0 {
		level := getMatchLevel()
		if level == nil {
			break
		}
		if !priceAcceptable(level.Price) {
			break
		}

		for node := level.Head(); node != nil && order.RemainingQty().Sign() > 0; {
			makerOrder := node.Order

			fillQty := order.RemainingQty()
			if makerOrder.RemainingQty().Cmp(fillQty) < 0 {
				fillQty = makerOrder.RemainingQty()
			}

			fill := domain.Fill{
				TradeID:       e.nextTradeID(),
				OrderClientID: order.ClientID,
				Symbol:        order.Symbol,
				Side:          order.Side,
				Price:         level.Price, // maker's price — price improvement for the taker
				Qty:           fillQty,
				Ns:            domain.Now(),
			}
			fills = append(fills, fill)

			order.FilledQty = order.FilledQty.Add(fillQty)
			makerOrder.FilledQty = makerOrder.FilledQty.Add(fillQty)

			if makerOrder.IsFilled() {
				makerOrder.Status = domain.OrderStatusFilled
			} else {
				makerOrder.Status = domain.OrderStatusPartiallyFilled
			}

			next := node.Next()
			if makerOrder.IsFilled() {
				book.CancelOrder(makerOrder.ClientID)
			} else {
				level.UpdateQuantity(fillQty.Neg())
			}
			node = next
		}
	}

	return fills
}

// CancelOrder cancels an existing resting order.
func (e *Engine) CancelOrder(symbol string, clientID uint64) (*domain.Order, error) {
	book := e.orderBooks[symbol]
	if book == nil {
		return nil, fmt.Errorf("matching: unknown symbol %s", symbol)
	}

	order := book.CancelOrder(clientID)
	if order == nil {
		return nil, fmt.Errorf("matching: order %d not found", clientID)
	}

	order.Status = domain.OrderStatusCanceled
	return order, nil
}

// GetOrder retrieves a resting order by symbol and client ID.
func (e *Engine) GetOrder(symbol string, clientID uint64) *domain.Order {
	book := e.orderBooks[symbol]
	if book == nil {
		return nil
	}
	return book.GetOrder(clientID)
}

// Symbols returns all tradable symbols.
func (e *Engine) Symbols() []string {
	symbols := make([]string, 0, len(e.orderBooks))
	for s := range e.orderBooks {
		symbols = append(symbols, s)
	}
	return symbols
}
