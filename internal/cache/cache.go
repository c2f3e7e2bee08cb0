// Package cache implements the Cache component: the single authoritative,
// in-memory state store for orders, positions, accounts, instruments, and
// quotes. It mutates in response to bus events and through three direct
// writers: TrackPending (pre-submission order tracking), UpsertAccount, and
// Restore (loading a checkpoint snapshot).
//
// Grounded on risk/checker.go's approach (single RWMutex + map-of-
// structs pattern) and settlement/clearing.go (account/position
// bookkeeping shape), generalized from int64 cents to internal/decimal.
package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
)

// Cache is the authoritative state store. One RWMutex protects every map;
// reads take the read lock, mutation from a bus event takes the write
// lock for the whole multi-index update ("transactionally
// from the caller's viewpoint").
type Cache struct {
	mu sync.RWMutex

	orders         map[uint64]*domain.Order   // by client_id
	openOrderOrder []uint64                   // creation order, for open_orders()
	byInstrument   map[string]map[uint64]bool // symbol -> set of client_ids

	positions map[string]*domain.Position // by symbol
	accounts  map[string]*domain.Account  // by id
	quotes    map[string]*domain.Quote    // by symbol

	duplicateCount  uint64
	droppedCount    uint64
	invariantErrors uint64
}

// New creates an empty Cache and subscribes it to order.#, position.#,
// account.#, and market_data.# on b.
func New(b *bus.Bus) *Cache {
	c := &Cache{
		orders:       make(map[uint64]*domain.Order),
		byInstrument: make(map[string]map[uint64]bool),
		positions:    make(map[string]*domain.Position),
		accounts:     make(map[string]*domain.Account),
		quotes:       make(map[string]*domain.Quote),
	}

	b.Subscribe("order.#", c.onOrderEvent, bus.BlockPublisher, 0)
	b.Subscribe("position.#", c.onPositionEvent, bus.BlockPublisher, 0)
	b.Subscribe("account.#", c.onAccountEvent, bus.BlockPublisher, 0)
	b.Subscribe("market_data.#", c.onMarketDataEvent, bus.BlockPublisher, 0)

	return c
}

// GetOrder returns the order for client_id, or nil if unknown.
func (c *Cache) GetOrder(clientID uint64) *domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orders[clientID]
}

// OpenOrders returns non-terminal orders ordered by creation time.
func (c *Cache) OpenOrders() []*domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.Order, 0, len(c.openOrderOrder))
	for _, id := range c.openOrderOrder {
		if o, ok := c.orders[id]; ok && !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// OrdersByInstrument returns all known orders for symbol, regardless of
// status, ordered by client_id.
func (c *Cache) OrdersByInstrument(symbol string) []*domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.byInstrument[symbol]
	out := make([]*domain.Order, 0, len(ids))
	for id := range ids {
		if o, ok := c.orders[id]; ok {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// GetPosition returns the position for symbol, or nil if none exists.
func (c *Cache) GetPosition(symbol string) *domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions[symbol]
}

// AllPositions returns every tracked position.
func (c *Cache) AllPositions() []*domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out
}

// GetAccount returns the account for id, or nil if unknown.
func (c *Cache) GetAccount(id string) *domain.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accounts[id]
}

// GetQuote returns the latest quote for symbol, or nil if none has arrived.
func (c *Cache) GetQuote(symbol string) *domain.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quotes[symbol]
}

// MidPrice returns the mid price derived from the latest quote, or the
// zero Decimal if no quote exists.
func (c *Cache) MidPrice(symbol string) decimal.Decimal {
	q := c.GetQuote(symbol)
	if q == nil {
		return decimal.Zero
	}
	return q.MidPrice()
}

// Spread returns ask-bid derived from the latest quote, or the zero
// Decimal if no quote exists.
func (c *Cache) Spread(symbol string) decimal.Decimal {
	q := c.GetQuote(symbol)
	if q == nil {
		return decimal.Zero
	}
	return q.Spread()
}

// Stats exposes invariant-violation counters for the telemetry surface.
type Stats struct {
	DuplicateEvents  uint64
	DroppedEvents    uint64
	InvariantErrors  uint64
}

// Stats returns a snapshot of the Cache's internal counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		DuplicateEvents: c.duplicateCount,
		DroppedEvents:   c.droppedCount,
		InvariantErrors: c.invariantErrors,
	}
}

func (c *Cache) onMarketDataEvent(ctx context.Context, topic string, event events.Event) error {
	md, ok := event.(*events.MarketDataEvent)
	if !ok {
		return nil
	}

	bid, errB := decimal.FromString(md.Bid)
	ask, errA := decimal.FromString(md.Ask)
	bidSize, _ := decimal.FromString(md.BidSize)
	askSize, _ := decimal.FromString(md.AskSize)
	if errB != nil || errA != nil {
		c.mu.Lock()
		c.invariantErrors++
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[md.Symbol] = &domain.Quote{
		Symbol:    md.Symbol,
		Bid:       bid,
		Ask:       ask,
		BidSize:   bidSize,
		AskSize:   askSize,
		UpdatedNs: md.TimestampNs,
	}
	return nil
}

func (c *Cache) onAccountEvent(ctx context.Context, topic string, event events.Event) error {
	// Account mutation is driven by ExecutionEngine calling UpsertAccount
	// directly (accounts don't have a dedicated wire event variant
	// elsewhere); this handler exists so account.# subscription is live
	// and any future account event variant has somewhere to land.
	return nil
}

// UpsertAccount is called by the ExecutionEngine when an account balance
// changes; it is not itself a bus event in the wire union, so it
// is exposed as a direct method rather than routed through onAccountEvent.
func (c *Cache) UpsertAccount(a *domain.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[a.ID] = a
}
