package orderbook

import (
	"fmt"
	"strings"

	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
)

// OrderBook maintains the buy (bid) and sell (ask) sides of the market.
//
// Architecture:
//
//	                    OrderBook
//	                        │
//	       ┌────────────────┴────────────────┐
//	       │                                 │
//	    Bids (RBTree)                   Asks (RBTree)
//	    descending=true                 descending=false
//	       │                                 │
//	    PriceLevel                       PriceLevel
//	    (sorted high→low)                (sorted low→high)
//	       │                                 │
//	    OrderQueue                       OrderQueue
//	    (FIFO linked list)               (FIFO linked list)
//
// 1. Two Red-Black Trees: one for bids (highest first), one for asks (lowest first)
//    - O(1) access to best bid/ask via cached min/max pointers
//    - O(log P) insert/delete where P = number of price levels
//
// 2. Order ID Map: hash map from client ID to OrderNode
//    - O(1) cancel by client ID (no search required)
//
// 3. Price-Time Priority, implemented via the red-black tree for price
//    priority and a FIFO queue per level for time priority.
type OrderBook struct {
	symbol string
	bids   *RBTree                  // Buy orders, sorted by price descending
	asks   *RBTree                  // Sell orders, sorted by price ascending
	orders map[uint64]*OrderNode    // client ID -> node for O(1) cancel
}

// NewOrderBook creates a new order book for the given symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   NewRBTree(true),  // descending: true (highest price first)
		asks:   NewRBTree(false), // descending: false (lowest price first)
		orders: make(map[uint64]*OrderNode),
	}
}

// Symbol returns the symbol this order book is for.
func (ob *OrderBook) Symbol() string {
	return ob.symbol
}

// AddOrder adds an order to the appropriate side of the book.
// Returns an error if the order already exists.
// Time complexity: O(log P) where P = number of price levels
func (ob *OrderBook) AddOrder(order *domain.Order) error {
	if _, exists := ob.orders[order.ClientID]; exists {
		return fmt.Errorf("orderbook: order %d already exists", order.ClientID)
	}

	tree := ob.getTree(order.Side)

	level := tree.Get(order.Price)
	if level == nil {
		level = NewPriceLevel(order.Price)
		tree.Insert(level)
	}

	node := level.Append(order)
	ob.orders[order.ClientID] = node

	return nil
}

// CancelOrder removes an order from the book.
// Returns the cancelled order, or nil if not found.
// Time complexity: O(1) for the removal, O(log P) if price level becomes empty
func (ob *OrderBook) CancelOrder(clientID uint64) *domain.Order {
	node, exists := ob.orders[clientID]
	if !exists {
		return nil
	}

	order := node.Order
	level := node.level
	tree := ob.getTree(order.Side)

	level.Remove(node)
	delete(ob.orders, clientID)

	if level.IsEmpty() {
		tree.Delete(level.Price)
	}

	return order
}

// GetOrder retrieves an order by client ID. O(1).
func (ob *OrderBook) GetOrder(clientID uint64) *domain.Order {
	node, exists := ob.orders[clientID]
	if !exists {
		return nil
	}
	return node.Order
}

// GetBestBid returns the highest bid price level, or nil if no bids.
func (ob *OrderBook) GetBestBid() *PriceLevel {
	return ob.bids.Min()
}

// GetBestAsk returns the lowest ask price level, or nil if no asks.
func (ob *OrderBook) GetBestAsk() *PriceLevel {
	return ob.asks.Min()
}

// GetSpread returns ask-bid, or the zero value if either side is empty.
func (ob *OrderBook) GetSpread() decimal.Decimal {
	bestBid := ob.GetBestBid()
	bestAsk := ob.GetBestAsk()
	if bestBid == nil || bestAsk == nil {
		return decimal.Zero
	}
	return bestAsk.Price.Sub(bestBid.Price)
}

// GetMidPrice returns the midpoint between best bid and ask, or the zero
// value if either side is empty.
func (ob *OrderBook) GetMidPrice() decimal.Decimal {
	bestBid := ob.GetBestBid()
	bestAsk := ob.GetBestAsk()
	if bestBid == nil || bestAsk == nil {
		return decimal.Zero
	}
	mid, _ := bestBid.Price.Add(bestAsk.Price).Div(decimal.New(2))
	return mid
}

// BidLevels returns the number of distinct bid price levels.
func (ob *OrderBook) BidLevels() int {
	return ob.bids.Size()
}

// AskLevels returns the number of distinct ask price levels.
func (ob *OrderBook) AskLevels() int {
	return ob.asks.Size()
}

// TotalOrders returns the total number of orders in the book.
func (ob *OrderBook) TotalOrders() int {
	return len(ob.orders)
}

// GetBidDepth returns the top N bid price levels. If levels <= 0, returns all.
func (ob *OrderBook) GetBidDepth(levels int) []*PriceLevel {
	return ob.getDepth(ob.bids, levels)
}

// GetAskDepth returns the top N ask price levels. If levels <= 0, returns all.
func (ob *OrderBook) GetAskDepth(levels int) []*PriceLevel {
	return ob.getDepth(ob.asks, levels)
}

func (ob *OrderBook) getDepth(tree *RBTree, maxLevels int) []*PriceLevel {
	result := make([]*PriceLevel, 0)
	count := 0

	tree.ForEach(func(level *PriceLevel) bool {
		result = append(result, level)
		count++
		if maxLevels > 0 && count >= maxLevels {
			return false
		}
		return true
	})

	return result
}

// ApplyFill updates the remaining quantity of a resting order after a
// fill. Removes the order from the book once fully filled.
// Time complexity: O(1)
func (ob *OrderBook) ApplyFill(clientID uint64, fillQty decimal.Decimal) error {
	node, exists := ob.orders[clientID]
	if !exists {
		return fmt.Errorf("orderbook: order %d not found", clientID)
	}

	order := node.Order
	order.FilledQty = order.FilledQty.Add(fillQty)
	node.level.UpdateQuantity(fillQty.Neg())

	if order.IsFilled() {
		ob.CancelOrder(clientID)
	}

	return nil
}

// RemoveFilledOrders removes all fully filled orders from a price level.
// Returns the number of orders removed.
func (ob *OrderBook) RemoveFilledOrders(level *PriceLevel, side domain.Side) int {
	removed := 0
	node := level.Head()

	for node != nil {
		next := node.Next()
		if node.Order.IsFilled() {
			level.Remove(node)
			delete(ob.orders, node.Order.ClientID)
			removed++
		}
		node = next
	}

	if level.IsEmpty() {
		tree := ob.getTree(side)
		tree.Delete(level.Price)
	}

	return removed
}

func (ob *OrderBook) getTree(side domain.Side) *RBTree {
	if side == domain.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// String returns a human-readable representation of the order book.
func (ob *OrderBook) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== %s Order Book ===\n", ob.symbol))

	asks := ob.GetAskDepth(5)
	sb.WriteString("ASKS:\n")
	for i := len(asks) - 1; i >= 0; i-- {
		level := asks[i]
		sb.WriteString(fmt.Sprintf("  %s: %s (%d orders)\n", level.Price, level.TotalQty, level.Count()))
	}

	spread := ob.GetSpread()
	if spread.Sign() > 0 {
		sb.WriteString(fmt.Sprintf("--- Spread: %s ---\n", spread))
	} else {
		sb.WriteString("--- No Spread ---\n")
	}

	bids := ob.GetBidDepth(5)
	sb.WriteString("BIDS:\n")
	for _, level := range bids {
		sb.WriteString(fmt.Sprintf("  %s: %s (%d orders)\n", level.Price, level.TotalQty, level.Count()))
	}

	return sb.String()
}
