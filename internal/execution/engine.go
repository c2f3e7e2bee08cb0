// Package execution implements the ExecutionEngine: the order lifecycle
// manager. The central guarantee is no lost
// orders — every acknowledged intent either reaches a terminal status known
// to the Cache or is recoverable after a crash.
//
// Grounded on internal/matching/engine.go's approach for the atomic
// client_id sequence and the single-engine-owns-the-order-map discipline,
// internal/events/log.go for pre-submission persistence via the StateStore
// port, and internal/risk/checker.go wired in as the pre-submit hook that
// runs between allocating a client_id and persisting the order intent.
package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/cache"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/ports"
	"github.com/zigquant/engine/internal/risk"
	"github.com/zigquant/engine/internal/telemetry"
)

// Config tunes submission/cancellation timeouts and the post-timeout query
// retry policy.
type Config struct {
	AccountID string

	SubmitTimeout time.Duration
	CancelTimeout time.Duration
	QueryTimeout  time.Duration

	// QueryRetryMax bounds the number of post-timeout query attempts.
	QueryRetryMax int
	// QueryBackoffBase is the first retry delay; it doubles each attempt.
	QueryBackoffBase time.Duration

	// CancelOrphanOrders controls whether Recover cancels Pending orders
	// the exchange has no record of.
	CancelOrphanOrders bool
}

// DefaultConfig returns conservative defaults suitable for a simulated
// exchange adapter.
func DefaultConfig() Config {
	return Config{
		SubmitTimeout:      2 * time.Second,
		CancelTimeout:      2 * time.Second,
		QueryTimeout:       time.Second,
		QueryRetryMax:      5,
		QueryBackoffBase:   100 * time.Millisecond,
		CancelOrphanOrders: true,
	}
}

// Engine is the ExecutionEngine component.
type Engine struct {
	cfg      Config
	b        *bus.Bus
	cache    *cache.Cache
	exchange ports.ExchangeClient
	store    ports.StateStore
	clock    ports.Clock
	risk     *risk.Checker
	tel      *telemetry.Counters
	logger   *zap.Logger

	clientIDSeq uint64 // atomic, monotonic, never reused within a session

	// halted is the kill switch: a release-acquire atomic boolean per
	// cheap to check on every Submit without a lock.
	halted atomic.Bool

	mu            sync.Mutex
	haltedSymbols map[string]bool
}

// New builds an Engine. exchange, store, and clock may be nil in tests that
// don't exercise those paths; risk may be nil to disable pre-trade checks.
func New(cfg Config, b *bus.Bus, c *cache.Cache, exchange ports.ExchangeClient, store ports.StateStore, clock ports.Clock, riskChecker *risk.Checker, tel *telemetry.Counters, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:           cfg,
		b:             b,
		cache:         c,
		exchange:      exchange,
		store:         store,
		clock:         clock,
		risk:          riskChecker,
		tel:           tel,
		logger:        logger,
		haltedSymbols: make(map[string]bool),
	}
}

// Halt engages the kill switch: subsequent Submit calls return ErrHalted.
// Outstanding orders are left intact; callers that want them canceled do so
// explicitly through Cancel.
func (e *Engine) Halt() { e.halted.Store(true) }

// Resume clears the kill switch.
func (e *Engine) Resume() { e.halted.Store(false) }

// IsHalted reports the kill switch state.
func (e *Engine) IsHalted() bool { return e.halted.Load() }

func (e *Engine) haltSymbol(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.haltedSymbols[symbol] = true
}

// ResumeSymbol clears a symbol halt put in place after an unresolved
// submit/cancel timeout, once an operator has reconciled it by hand.
func (e *Engine) ResumeSymbol(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.haltedSymbols, symbol)
}

func (e *Engine) isSymbolHalted(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltedSymbols[symbol]
}

func (e *Engine) nowNs() int64 {
	if e.clock != nil {
		return e.clock.NowNs()
	}
	return domain.Now()
}

// Submit runs pre-submission tracking: allocate a
// client_id, risk-check the intent, persist it, record it in the Cache,
// and only then hand it to the exchange. The returned Order always carries
// the allocated client_id, even on rejection, so a caller can correlate it
// against order.rejected.
func (e *Engine) Submit(ctx context.Context, intent *domain.Order) (*domain.Order, error) {
	if e.halted.Load() {
		return nil, ErrHalted
	}
	if e.isSymbolHalted(intent.Symbol) {
		return nil, ErrSymbolHalted
	}

	clientID := atomic.AddUint64(&e.clientIDSeq, 1)
	now := e.nowNs()
	order := &domain.Order{
		ClientID:  clientID,
		AccountID: intent.AccountID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Type:      intent.Type,
		Qty:       intent.Qty,
		Price:     intent.Price,
		Status:    domain.OrderStatusPending,
		CreatedNs: now,
		UpdatedNs: now,
	}

	if e.risk != nil {
		result := e.risk.Check(order)
		if !result.Passed {
			e.rejectOrder(order, result.Reason)
			return order, NewError(KindRejected, result.Reason, nil)
		}
	}

	if e.store != nil {
		payload, err := encodeOrder(order)
		if err != nil {
			return order, NewError(KindInvariantViolation, "encode pending order", err)
		}
		if err := e.store.AppendEvent(ctx, payload); err != nil {
			return order, NewError(KindFatal, "persist pending order", err)
		}
	}

	// Cache records the Pending order directly: Pending has no wire event
	// variant in the wire event union, so there is nothing to publish here.
	e.cache.TrackPending(order)

	e.submitToExchange(ctx, order)
	return order, nil
}
