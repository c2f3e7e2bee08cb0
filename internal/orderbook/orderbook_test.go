package orderbook

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
)

func order(id uint64, side domain.Side, price, qty int64) *domain.Order {
	return &domain.Order{
		ClientID: id,
		Symbol:   "BTC-USDT",
		Side:     side,
		Type:     domain.OrderTypeLimit,
		Price:    decimal.New(price),
		Qty:      decimal.New(qty),
	}
}

func TestBestBidAskAndSpread(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")
	require.NoError(t, ob.AddOrder(order(1, domain.SideBuy, 99, 1)))
	require.NoError(t, ob.AddOrder(order(2, domain.SideBuy, 100, 1)))
	require.NoError(t, ob.AddOrder(order(3, domain.SideSell, 102, 1)))
	require.NoError(t, ob.AddOrder(order(4, domain.SideSell, 101, 1)))

	require.Equal(t, decimal.New(100), ob.GetBestBid().Price)
	require.Equal(t, decimal.New(101), ob.GetBestAsk().Price)
	require.Equal(t, decimal.New(1), ob.GetSpread())
}

func TestCancelRemovesEmptyLevel(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")
	require.NoError(t, ob.AddOrder(order(1, domain.SideBuy, 100, 1)))
	require.Equal(t, 1, ob.BidLevels())

	cancelled := ob.CancelOrder(1)
	require.NotNil(t, cancelled)
	require.Equal(t, 0, ob.BidLevels())
	require.Nil(t, ob.GetOrder(1))
}

func TestFIFOWithinPriceLevel(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")
	require.NoError(t, ob.AddOrder(order(1, domain.SideBuy, 100, 1)))
	require.NoError(t, ob.AddOrder(order(2, domain.SideBuy, 100, 1)))

	level := ob.GetBestBid()
	require.Equal(t, uint64(1), level.Head().Order.ClientID)
	require.Equal(t, uint64(2), level.Head().Next().Order.ClientID)
}

func TestApplyFillRemovesWhenFilled(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")
	require.NoError(t, ob.AddOrder(order(1, domain.SideBuy, 100, 2)))

	require.NoError(t, ob.ApplyFill(1, decimal.New(2)))
	require.Nil(t, ob.GetOrder(1))
}
