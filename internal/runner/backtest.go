package runner

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	clockadapter "github.com/zigquant/engine/internal/adapters/clock"
	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/dataengine"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/execution"
	"github.com/zigquant/engine/internal/telemetry"
)

// BacktestRunner drives the ExecutionEngine against a deterministic,
// event-ordered replay produced by DataEngine in backtest mode. Unlike
// LiveRunner there is no dispatcher ring buffer: DataEngine's backtest loop
// is itself single-threaded, and Submit/Cancel calls made from a strategy's
// tick handler run on that same goroutine, so ordering is free.
//
// Grounded on a single-threaded matching loop combined with
// internal/adapters/clock's Virtual clock, which this runner advances from
// every system.tick the DataEngine emits.
type BacktestRunner struct {
	b      *bus.Bus
	exec   *execution.Engine
	data   *dataengine.Engine
	virt   *clockadapter.Virtual
	tel    *telemetry.Counters
	logger *zap.Logger

	mu      sync.Mutex
	status  Status
	started bool

	sub bus.Subscription
}

// NewBacktestRunner builds a BacktestRunner. virt must be the same Virtual
// clock passed into the ExecutionEngine and DataEngine's Config so all
// three observe the same notion of "now".
func NewBacktestRunner(b *bus.Bus, exec *execution.Engine, data *dataengine.Engine, virt *clockadapter.Virtual, tel *telemetry.Counters, logger *zap.Logger) *BacktestRunner {
	return &BacktestRunner{
		b:      b,
		exec:   exec,
		data:   data,
		virt:   virt,
		tel:    tel,
		logger: logger,
		status: StatusStopped,
	}
}

// Start subscribes to system.tick to drive the virtual clock, then runs the
// DataEngine's backtest loop to completion (or until ctx is canceled / Stop
// is called).
func (r *BacktestRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner: already started")
	}
	r.started = true
	r.status = StatusRunning
	r.mu.Unlock()

	r.sub = r.b.Subscribe("system.tick", r.onTick, bus.BlockPublisher, 1)
	defer r.b.Unsubscribe(r.sub)

	err := r.data.Start(ctx)

	r.mu.Lock()
	r.status = StatusStopped
	r.mu.Unlock()
	return err
}

func (r *BacktestRunner) onTick(_ context.Context, _ string, event events.Event) error {
	r.virt.Advance(event.EventHeader().TimestampNs)
	return nil
}

// Stop ends the replay early, without publishing the events not yet read,
// and returns once Start's DataEngine loop exits.
func (r *BacktestRunner) Stop() {
	r.data.Stop()
}

// Pause/Resume toggle the ExecutionEngine's kill switch; replay keeps
// advancing underneath (a backtest has no real-time connections to hold
// open), but new order submissions are rejected while paused.
func (r *BacktestRunner) Pause() {
	r.exec.Halt()
	r.mu.Lock()
	r.status = StatusPaused
	r.mu.Unlock()
}

func (r *BacktestRunner) Resume() {
	r.exec.Resume()
	r.mu.Lock()
	r.status = StatusRunning
	r.mu.Unlock()
}

func (r *BacktestRunner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *BacktestRunner) Stats() Stats {
	snap := r.tel.Snapshot()
	return Stats{
		Status:              r.Status(),
		OrdersSubmitted:     snap.OrdersSubmitted,
		OrdersFilled:        snap.OrdersFilled,
		OrdersRejected:      snap.OrdersRejected,
		OrdersCanceled:      snap.OrdersCanceled,
		OrdersUncertain:     snap.OrdersUncertain,
		InvariantViolations: snap.InvariantViolations,
	}
}

// Submit calls straight through to the ExecutionEngine. Safe to call only
// from the goroutine driving Start (a tick handler or equivalent) — there is
// no serialization layer here because the replay loop is already
// single-threaded by construction.
func (r *BacktestRunner) Submit(ctx context.Context, intent *domain.Order) (*domain.Order, error) {
	return r.exec.Submit(ctx, intent)
}

// Cancel calls straight through to the ExecutionEngine, same threading
// contract as Submit.
func (r *BacktestRunner) Cancel(ctx context.Context, clientID uint64) error {
	return r.exec.Cancel(ctx, clientID)
}
