package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zigquant/engine/internal/dataengine"
	"github.com/zigquant/engine/internal/disruptor"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/execution"
	"github.com/zigquant/engine/internal/telemetry"
)

// LiveConfig tunes a LiveRunner.
type LiveConfig struct {
	RingBufferSize    uint64
	SubmitWaitTimeout time.Duration
	CheckpointEvery   time.Duration
}

// DefaultLiveConfig returns settings suitable for a single-process,
// single-exchange deployment.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		RingBufferSize:    8192,
		SubmitWaitTimeout: 5 * time.Second,
		CheckpointEvery:   30 * time.Second,
	}
}

// LiveRunner drives the ExecutionEngine and DataEngine against a live
// exchange connection. Every Submit/Cancel is funneled through a single
// dispatcher goroutine (internal/disruptor), so order requests are handled
// one at a time. Exchange stream events and the live data feed are
// published from their own goroutines; the Cache's lock serializes the
// mutations they cause.
type LiveRunner struct {
	cfg      LiveConfig
	exec     *execution.Engine
	data     *dataengine.Engine
	tel      *telemetry.Counters
	logger   *zap.Logger
	eventLog *events.Log

	rb        *disruptor.RingBuffer
	sequencer *disruptor.Sequencer
	processor *disruptor.EventProcessor

	mu       sync.Mutex
	status   Status
	started  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	eventsProcessed uint64
}

// NewLiveRunner builds a LiveRunner. data may be nil if no live market data
// feed is wired (order flow can still be submitted directly via Submit).
func NewLiveRunner(cfg LiveConfig, exec *execution.Engine, data *dataengine.Engine, eventLog *events.Log, tel *telemetry.Counters, logger *zap.Logger) *LiveRunner {
	rb := disruptor.NewRingBuffer(disruptor.Config{BufferSize: cfg.RingBufferSize})
	sequencer := disruptor.NewSequencer(rb)
	processor := disruptor.NewEventProcessor(rb, exec, eventLog, logger)

	return &LiveRunner{
		cfg:       cfg,
		exec:      exec,
		data:      data,
		eventLog:  eventLog,
		tel:       tel,
		logger:    logger,
		rb:        rb,
		sequencer: sequencer,
		processor: processor,
		status:    StatusStopped,
	}
}

// Start begins the dispatcher, the recovery pass, the live data feed (if
// configured), and the exchange event stream pump, then blocks until ctx is
// canceled or Stop is called.
func (r *LiveRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner: already started")
	}
	r.started = true
	r.status = StatusRunning
	runCtx, cancel := context.WithCancel(ctx)
	r.cancelFn = cancel
	r.mu.Unlock()

	if _, err := r.exec.Recover(runCtx); err != nil {
		r.logger.Error("recovery failed, continuing with empty state", zap.Error(err))
	}

	r.processor.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.exec.StreamEvents(runCtx); err != nil && runCtx.Err() == nil {
			r.logger.Error("exchange event stream ended", zap.Error(err))
		}
	}()

	if r.data != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.data.Start(runCtx); err != nil && runCtx.Err() == nil {
				r.logger.Error("data engine stopped with error", zap.Error(err))
			}
		}()
	}

	if r.cfg.CheckpointEvery > 0 {
		r.wg.Add(1)
		go r.checkpointLoop(runCtx)
	}

	<-runCtx.Done()
	return r.shutdown()
}

func (r *LiveRunner) checkpointLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.CheckpointEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.exec.Checkpoint(ctx); err != nil {
				r.logger.Error("periodic checkpoint failed", zap.Error(err))
			}
		}
	}
}

// shutdown runs the graceful sequence: stop the data feed, drain and flush
// the dispatcher, persist a final checkpoint, close the event log.
func (r *LiveRunner) shutdown() error {
	if r.data != nil {
		r.data.Stop()
	}
	r.processor.Shutdown()
	r.wg.Wait()

	if err := r.exec.Checkpoint(context.Background()); err != nil {
		r.logger.Error("final checkpoint failed", zap.Error(err))
	}
	if r.eventLog != nil {
		if err := r.eventLog.Close(); err != nil {
			r.logger.Error("closing event log", zap.Error(err))
		}
	}

	r.mu.Lock()
	r.status = StatusStopped
	r.mu.Unlock()
	return nil
}

// Stop signals Start to begin graceful shutdown and blocks until it
// returns.
func (r *LiveRunner) Stop() {
	r.mu.Lock()
	cancel := r.cancelFn
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

// Pause engages the ExecutionEngine's kill switch: new Submit calls are
// rejected, but existing connections and the dispatcher stay up.
func (r *LiveRunner) Pause() {
	r.exec.Halt()
	r.mu.Lock()
	r.status = StatusPaused
	r.mu.Unlock()
}

// Resume clears the kill switch.
func (r *LiveRunner) Resume() {
	r.exec.Resume()
	r.mu.Lock()
	r.status = StatusRunning
	r.mu.Unlock()
}

func (r *LiveRunner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *LiveRunner) Stats() Stats {
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

// Submit claims a ring buffer slot and blocks for the dispatcher's
// response, or returns a backpressure error if the buffer is full or the
// wait times out.
func (r *LiveRunner) Submit(ctx context.Context, intent *domain.Order) (*domain.Order, error) {
	respCh := make(chan *disruptor.OrderResponse, 1)
	seq, err := r.sequencer.Next()
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	r.sequencer.Publish(seq, &disruptor.OrderRequest{
		Type:   disruptor.RequestTypeNewOrder,
		Ctx:    ctx,
		Intent: intent,
	}, respCh)

	select {
	case resp := <-respCh:
		return resp.Order, resp.Error
	case <-time.After(r.cfg.SubmitWaitTimeout):
		return nil, fmt.Errorf("runner: dispatcher did not respond within %s", r.cfg.SubmitWaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel claims a ring buffer slot for a cancellation request.
func (r *LiveRunner) Cancel(ctx context.Context, clientID uint64) error {
	respCh := make(chan *disruptor.OrderResponse, 1)
	seq, err := r.sequencer.Next()
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	r.sequencer.Publish(seq, &disruptor.OrderRequest{
		Type:     disruptor.RequestTypeCancelOrder,
		Ctx:      ctx,
		ClientID: clientID,
	}, respCh)

	select {
	case resp := <-respCh:
		return resp.Error
	case <-time.After(r.cfg.SubmitWaitTimeout):
		return fmt.Errorf("runner: dispatcher did not respond within %s", r.cfg.SubmitWaitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
