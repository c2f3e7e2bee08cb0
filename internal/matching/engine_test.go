package matching

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
)

func newOrder(id uint64, side domain.Side, typ domain.OrderType, price, qty int64) *domain.Order {
	o := &domain.Order{
		ClientID: id,
		Symbol:   "BTC-USDT",
		Side:     side,
		Type:     typ,
		Qty:      decimal.New(qty),
	}
	if typ == domain.OrderTypeLimit {
		o.Price = decimal.New(price)
	}
	return o
}

func TestRestingLimitOrderFillsIncomingMarket(t *testing.T) {
	e := NewEngine()
	e.AddSymbol("BTC-USDT")

	sell := newOrder(1, domain.SideSell, domain.OrderTypeLimit, 100, 5)
	res := e.ProcessOrder(sell)
	require.True(t, res.Accepted)
	require.Equal(t, decimal.New(5), res.RestingQty)

	buy := newOrder(2, domain.SideBuy, domain.OrderTypeMarket, 0, 3)
	res = e.ProcessOrder(buy)
	require.True(t, res.Accepted)
	require.Len(t, res.Fills, 1)
	require.Equal(t, decimal.New(3), res.Fills[0].Qty)
	require.Equal(t, decimal.New(100), res.Fills[0].Price)
	require.Equal(t, domain.OrderStatusFilled, buy.Status)

	resting := e.GetOrder("BTC-USDT", 1)
	require.NotNil(t, resting)
	require.Equal(t, decimal.New(2), resting.RemainingQty())
}

func TestMarketOrderRejectedOnUnknownSymbol(t *testing.T) {
	e := NewEngine()
	o := newOrder(1, domain.SideBuy, domain.OrderTypeMarket, 0, 1)
	res := e.ProcessOrder(o)
	require.False(t, res.Accepted)
	require.Equal(t, domain.OrderStatusRejected, o.Status)
}

func TestMarketOrderCancelsUnfilledRemainder(t *testing.T) {
	e := NewEngine()
	e.AddSymbol("BTC-USDT")
	buy := newOrder(1, domain.SideBuy, domain.OrderTypeMarket, 0, 10)
	res := e.ProcessOrder(buy)
	require.True(t, res.Accepted)
	require.Equal(t, domain.OrderStatusCanceled, buy.Status)
	require.Empty(t, res.Fills)
}

func TestPriceTimePriority(t *testing.T) {
	e := NewEngine()
	e.AddSymbol("BTC-USDT")

	e.ProcessOrder(newOrder(1, domain.SideSell, domain.OrderTypeLimit, 101, 5))
	e.ProcessOrder(newOrder(2, domain.SideSell, domain.OrderTypeLimit, 100, 5))
	e.ProcessOrder(newOrder(3, domain.SideSell, domain.OrderTypeLimit, 100, 5))

	buy := newOrder(4, domain.SideBuy, domain.OrderTypeLimit, 101, 6)
	res := e.ProcessOrder(buy)
	require.Len(t, res.Fills, 2)
	require.Nil(t, e.GetOrder("BTC-USDT", 2))
	require.Equal(t, decimal.New(5), res.Fills[0].Qty)
	require.Equal(t, decimal.New(1), res.Fills[1].Qty)
}
