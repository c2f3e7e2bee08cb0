package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
)

func newCacheWithOrder(t *testing.T, clientID uint64, symbol string, side domain.Side, qty int64) (*bus.Bus, *Cache) {
	t.Helper()
	b := bus.New()
	c := New(b)
	c.TrackPending(&domain.Order{
		ClientID: clientID,
		Symbol:   symbol,
		Side:     side,
		Type:     domain.OrderTypeLimit,
		Qty:      decimal.New(qty),
		Status:   domain.OrderStatusPending,
	})
	b.Publish("order.accepted", &events.OrderAcceptedEvent{ClientID: clientID, ExchangeID: "EX-1", Symbol: symbol})
	return b, c
}

func fill(b *bus.Bus, clientID uint64, symbol string, side domain.Side, price, fillQty, filledQty int64, status domain.OrderStatus, updatedNs int64) {
	b.Publish("order.filled", &events.OrderFilledEvent{
		ClientID:  clientID,
		Symbol:    symbol,
		Side:      side,
		FillPrice: decimal.New(price).String(),
		FillQty:   decimal.New(fillQty).String(),
		FilledQty: decimal.New(filledQty).String(),
		Status:    status,
		UpdatedNs: updatedNs,
	})
}

// S1 — Fill averaging.
func TestFillAveragingScenarioS1(t *testing.T) {
	b, c := newCacheWithOrder(t, 1, "BTC-USDT", domain.SideBuy, 2)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 100, 2, 2, domain.OrderStatusFilled, 1)

	newCacheWithOrderSecond(b, c, 2, "BTC-USDT", domain.SideBuy, 2)
	fill(b, 2, "BTC-USDT", domain.SideBuy, 110, 2, 2, domain.OrderStatusFilled, 2)

	pos := c.GetPosition("BTC-USDT")
	require.NotNil(t, pos)
	require.Equal(t, decimal.New(4), pos.Qty)
	require.Equal(t, decimal.New(105), pos.EntryPrice)
}

func newCacheWithOrderSecond(b *bus.Bus, c *Cache, clientID uint64, symbol string, side domain.Side, qty int64) {
	c.TrackPending(&domain.Order{ClientID: clientID, Symbol: symbol, Side: side, Type: domain.OrderTypeLimit, Qty: decimal.New(qty), Status: domain.OrderStatusPending})
	b.Publish("order.accepted", &events.OrderAcceptedEvent{ClientID: clientID, ExchangeID: "EX-2", Symbol: symbol})
}

// S2 — Flip.
func TestFlipScenarioS2(t *testing.T) {
	b, c := newCacheWithOrder(t, 1, "BTC-USDT", domain.SideBuy, 2)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 100, 2, 2, domain.OrderStatusFilled, 1)
	newCacheWithOrderSecond(b, c, 2, "BTC-USDT", domain.SideBuy, 2)
	fill(b, 2, "BTC-USDT", domain.SideBuy, 110, 2, 2, domain.OrderStatusFilled, 2)

	newCacheWithOrderSecond(b, c, 3, "BTC-USDT", domain.SideSell, 6)
	fill(b, 3, "BTC-USDT", domain.SideSell, 120, 6, 6, domain.OrderStatusFilled, 3)

	pos := c.GetPosition("BTC-USDT")
	require.Equal(t, decimal.New(-2), pos.Qty)
	require.Equal(t, decimal.New(120), pos.EntryPrice)
	require.Equal(t, decimal.New(60), pos.RealizedPnL)
}

// S3 — Duplicate fill.
func TestDuplicateFillScenarioS3(t *testing.T) {
	b, c := newCacheWithOrder(t, 1, "BTC-USDT", domain.SideBuy, 2)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 100, 2, 2, domain.OrderStatusFilled, 5)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 100, 2, 2, domain.OrderStatusFilled, 5)

	pos := c.GetPosition("BTC-USDT")
	require.Equal(t, decimal.New(2), pos.Qty)
	require.Equal(t, decimal.New(100), pos.EntryPrice)
	require.Equal(t, uint64(1), c.Stats().DuplicateEvents)
}

// Out-of-order safety: an older event (lower filled_qty, non-advancing
// status) arriving after a newer one is dropped rather than applied.
func TestOutOfOrderFillDropped(t *testing.T) {
	b, c := newCacheWithOrder(t, 1, "BTC-USDT", domain.SideBuy, 5)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 100, 3, 3, domain.OrderStatusPartiallyFilled, 10)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 100, 1, 1, domain.OrderStatusPartiallyFilled, 3)

	order := c.GetOrder(1)
	require.Equal(t, decimal.New(3), order.FilledQty)
	require.Equal(t, uint64(1), c.Stats().DroppedEvents)
}

func TestTerminalOrderNeverMutates(t *testing.T) {
	b, c := newCacheWithOrder(t, 1, "BTC-USDT", domain.SideBuy, 2)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 100, 2, 2, domain.OrderStatusFilled, 1)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 105, 1, 3, domain.OrderStatusFilled, 2)

	order := c.GetOrder(1)
	require.Equal(t, decimal.New(2), order.FilledQty)
	require.Equal(t, uint64(1), c.Stats().DroppedEvents)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	b, c := newCacheWithOrder(t, 1, "BTC-USDT", domain.SideBuy, 2)
	fill(b, 1, "BTC-USDT", domain.SideBuy, 100, 2, 2, domain.OrderStatusFilled, 1)

	snap := c.Snapshot()

	c2 := New(bus.New())
	c2.Restore(snap)

	require.Equal(t, c.GetOrder(1).FilledQty, c2.GetOrder(1).FilledQty)
	require.Equal(t, c.GetPosition("BTC-USDT").EntryPrice, c2.GetPosition("BTC-USDT").EntryPrice)
}

func TestOpenOrdersExcludesTerminal(t *testing.T) {
	_, c := newCacheWithOrder(t, 1, "BTC-USDT", domain.SideBuy, 2)
	require.Len(t, c.OpenOrders(), 1)

	b2, c2 := newCacheWithOrder(t, 1, "ETH-USDT", domain.SideBuy, 2)
	fill(b2, 1, "ETH-USDT", domain.SideBuy, 100, 2, 2, domain.OrderStatusFilled, 1)
	require.Empty(t, c2.OpenOrders())
}

func TestMidPriceAndSpread(t *testing.T) {
	b := bus.New()
	c := New(b)
	b.Publish("market_data.BTC-USDT", &events.MarketDataEvent{
		Symbol: "BTC-USDT", Bid: "100", Ask: "102", BidSize: "1", AskSize: "1",
	})
	require.Equal(t, decimal.New(101), c.MidPrice("BTC-USDT"))
	require.Equal(t, decimal.New(2), c.Spread("BTC-USDT"))
}
