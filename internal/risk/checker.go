// Package risk implements pre-trade risk checks run by the ExecutionEngine
// between allocating a client_id and persisting the order intent, so a
// rejected order never reaches the StateStore or the wire.
//
// Checks: order size, order value, price band, position limit, daily
// volume. They run sequentially and stop at the first failure.
package risk

import (
	"fmt"
	"sync"

	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
)

// CheckResult is the outcome of running all configured checks.
type CheckResult struct {
	Passed    bool
	Reason    string
	ChecksRun []string
}

// Config configures the risk checker's limits.
type Config struct {
	MaxOrderSize     decimal.Decimal
	MaxOrderValue    decimal.Decimal
	MaxPositionSize  decimal.Decimal
	MaxDailyVolume   decimal.Decimal
	PriceBandPercent decimal.Decimal            // e.g. 0.10 for 10%
	SymbolLimits     map[string]decimal.Decimal // per-symbol position overrides
}

// DefaultConfig returns conservative default limits.
func DefaultConfig() Config {
	return Config{
		MaxOrderSize:     decimal.New(100000),
		MaxOrderValue:    decimal.New(10000000),
		MaxPositionSize:  decimal.New(1000000),
		MaxDailyVolume:   decimal.New(100000000),
		PriceBandPercent: New10Percent(),
		SymbolLimits:     make(map[string]decimal.Decimal),
	}
}

// New10Percent returns the Decimal 0.10, used as the default price band.
func New10Percent() decimal.Decimal {
	d, _ := decimal.FromString("0.10")
	return d
}

// Checker performs pre-trade risk checks. A single RWMutex protects all
// bookkeeping maps, matching the Cache's single-lock discipline.
type Checker struct {
	config          Config
	positions       map[string]map[string]decimal.Decimal
	dailyVolume     map[string]decimal.Decimal
	referencePrices map[string]decimal.Decimal
	mu              sync.RWMutex
}

// NewChecker creates a new risk checker.
func NewChecker(config Config) *Checker {
	return &Checker{
		config:          config,
		positions:       make(map[string]map[string]decimal.Decimal),
		dailyVolume:     make(map[string]decimal.Decimal),
		referencePrices: make(map[string]decimal.Decimal),
	}
}

// Check performs all risk checks on an order intent. Returns immediately
// on first failure.
func (c *Checker) Check(order *domain.Order) CheckResult {
	result := CheckResult{Passed: true, ChecksRun: make([]string, 0, 5)}

	result.ChecksRun = append(result.ChecksRun, "order_size")
	if order.Qty.Cmp(c.config.MaxOrderSize) > 0 {
		return CheckResult{
			Passed:    false,
			Reason:    fmt.Sprintf("order size %s exceeds max %s", order.Qty, c.config.MaxOrderSize),
			ChecksRun: result.ChecksRun,
		}
	}

	if order.Price.Sign() > 0 {
		result.ChecksRun = append(result.ChecksRun, "order_value")
		orderValue := order.Price.Mul(order.Qty)
		if orderValue.Cmp(c.config.MaxOrderValue) > 0 {
			return CheckResult{
				Passed:    false,
				Reason:    fmt.Sprintf("order value %s exceeds max %s", orderValue, c.config.MaxOrderValue),
				ChecksRun: result.ChecksRun,
			}
		}
	}

	if order.Type == domain.OrderTypeLimit && order.Price.Sign() > 0 {
		result.ChecksRun = append(result.ChecksRun, "price_band")
		if !c.checkPriceBand(order) {
			ref := c.GetReferencePrice(order.Symbol)
			return CheckResult{
				Passed:    false,
				Reason:    fmt.Sprintf("price %s outside band (ref: %s, band: %s)", order.Price, ref, c.config.PriceBandPercent),
				ChecksRun: result.ChecksRun,
			}
		}
	}

	result.ChecksRun = append(result.ChecksRun, "position_limit")
	if !c.checkPositionLimit(order) {
		current := c.GetPosition(order.AccountID, order.Symbol)
		return CheckResult{
			Passed:    false,
			Reason:    fmt.Sprintf("would exceed position limit (current: %s, order: %s)", current, order.Qty),
			ChecksRun: result.ChecksRun,
		}
	}

	if order.Price.Sign() > 0 {
		result.ChecksRun = append(result.ChecksRun, "daily_volume")
		orderValue := order.Price.Mul(order.Qty)
		if !c.checkDailyVolume(order.AccountID, orderValue) {
			current := c.GetDailyVolume(order.AccountID)
			return CheckResult{
				Passed:    false,
				Reason:    fmt.Sprintf("would exceed daily volume limit (current: %s, order: %s, max: %s)", current, orderValue, c.config.MaxDailyVolume),
				ChecksRun: result.ChecksRun,
			}
		}
	}

	return result
}

func (c *Checker) checkPriceBand(order *domain.Order) bool {
	c.mu.RLock()
	ref, exists := c.referencePrices[order.Symbol]
	c.mu.RUnlock()

	if !exists || ref.IsZero() {
		return true
	}

	band := ref.Mul(c.config.PriceBandPercent)
	low := ref.Sub(band)
	high := ref.Add(band)
	return order.Price.Cmp(low) >= 0 && order.Price.Cmp(high) <= 0
}

func (c *Checker) checkPositionLimit(order *domain.Order) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	current := decimal.Zero
	if acct, exists := c.positions[order.AccountID]; exists {
		current = acct[order.Symbol]
	}

	projected := current.Add(order.Qty)
	if order.Side == domain.SideSell {
		projected = current.Sub(order.Qty)
	}

	limit := c.config.MaxPositionSize
	if symLimit, exists := c.config.SymbolLimits[order.Symbol]; exists {
		limit = symLimit
	}

	return projected.Abs().Cmp(limit) <= 0
}

func (c *Checker) checkDailyVolume(accountID string, orderValue decimal.Decimal) bool {
	c.mu.RLock()
	current := c.dailyVolume[accountID]
	c.mu.RUnlock()
	return current.Add(orderValue).Cmp(c.config.MaxDailyVolume) <= 0
}

// UpdatePosition records a fill's effect on an account's tracked position.
func (c *Checker) UpdatePosition(accountID, symbol string, side domain.Side, qty decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.positions[accountID] == nil {
		c.positions[accountID] = make(map[string]decimal.Decimal)
	}
	if side == domain.SideBuy {
		c.positions[accountID][symbol] = c.positions[accountID][symbol].Add(qty)
	} else {
		c.positions[accountID][symbol] = c.positions[accountID][symbol].Sub(qty)
	}
}

// UpdateDailyVolume records a fill's notional value against the daily cap.
func (c *Checker) UpdateDailyVolume(accountID string, value decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyVolume[accountID] = c.dailyVolume[accountID].Add(value)
}

// SetReferencePrice records the last traded price for a symbol, used by
// the price band check.
func (c *Checker) SetReferencePrice(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.referencePrices[symbol] = price
}

// GetReferencePrice returns the current reference price for a symbol.
func (c *Checker) GetReferencePrice(symbol string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.referencePrices[symbol]
}

// GetPosition returns the tracked position for an account and symbol.
func (c *Checker) GetPosition(accountID, symbol string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if acct, exists := c.positions[accountID]; exists {
		return acct[symbol]
	}
	return decimal.Zero
}

// GetDailyVolume returns the tracked daily volume for an account.
func (c *Checker) GetDailyVolume(accountID string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dailyVolume[accountID]
}

// ResetDailyVolume clears daily volume counters; called at session start
// or by a scheduled timer in the runner.
func (c *Checker) ResetDailyVolume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyVolume = make(map[string]decimal.Decimal)
}
