package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
)

func testOrder(accountID, symbol string, side domain.Side, price, qty int64) *domain.Order {
	return &domain.Order{
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Type:      domain.OrderTypeLimit,
		Price:     decimal.New(price),
		Qty:       decimal.New(qty),
	}
}

func TestCheckPassesWithinLimits(t *testing.T) {
	c := NewChecker(DefaultConfig())
	res := c.Check(testOrder("acct-1", "BTC-USDT", domain.SideBuy, 100, 10))
	require.True(t, res.Passed)
	require.Contains(t, res.ChecksRun, "order_size")
	require.Contains(t, res.ChecksRun, "position_limit")
}

func TestCheckRejectsOrderSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOrderSize = decimal.New(5)
	c := NewChecker(cfg)
	res := c.Check(testOrder("acct-1", "BTC-USDT", domain.SideBuy, 100, 10))
	require.False(t, res.Passed)
	require.Equal(t, []string{"order_size"}, res.ChecksRun)
}

func TestCheckRejectsPriceBand(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.SetReferencePrice("BTC-USDT", decimal.New(100))
	res := c.Check(testOrder("acct-1", "BTC-USDT", domain.SideBuy, 200, 1))
	require.False(t, res.Passed)
	require.Equal(t, "price_band", res.ChecksRun[len(res.ChecksRun)-1])
}

func TestCheckRejectsPositionLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionSize = decimal.New(10)
	c := NewChecker(cfg)
	c.UpdatePosition("acct-1", "BTC-USDT", domain.SideBuy, decimal.New(8))

	res := c.Check(testOrder("acct-1", "BTC-USDT", domain.SideBuy, 100, 5))
	require.False(t, res.Passed)
}

func TestCheckRejectsDailyVolume(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyVolume = decimal.New(500)
	c := NewChecker(cfg)
	c.UpdateDailyVolume("acct-1", decimal.New(400))

	res := c.Check(testOrder("acct-1", "BTC-USDT", domain.SideBuy, 100, 2))
	require.False(t, res.Passed)
}

func TestUpdatePositionOffsettingSides(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.UpdatePosition("acct-1", "BTC-USDT", domain.SideBuy, decimal.New(10))
	c.UpdatePosition("acct-1", "BTC-USDT", domain.SideSell, decimal.New(4))
	require.Equal(t, decimal.New(6), c.GetPosition("acct-1", "BTC-USDT"))
}

func TestResetDailyVolume(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.UpdateDailyVolume("acct-1", decimal.New(100))
	c.ResetDailyVolume()
	require.True(t, c.GetDailyVolume("acct-1").IsZero())
}
