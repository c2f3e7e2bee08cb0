// Package dataengine merges historical and live market data sources into a
// single time-ordered event stream and publishes it on the bus.
//
// Backtest mode drains all configured sources through a min-heap keyed by
// timestamp, breaking ties by (source priority, arrival order), and emits a
// synthetic system.tick after every real event so clock-driven strategies
// fire deterministically. Live mode fans every source's Next() loop into an
// internal MPMC queue and publishes in arrival order, timestamping with the
// system clock when a source didn't, dropping events that arrive more than
// a configurable skew bound behind the highest timestamp seen so far.
package dataengine

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/ports"
	"github.com/zigquant/engine/internal/telemetry"
)

// Mode selects backtest deterministic replay vs live streaming.
type Mode uint8

const (
	ModeBacktest Mode = iota
	ModeLive
)

// Config configures an Engine instance.
type Config struct {
	Mode Mode
	// SkewBoundNs bounds how far behind the highest observed timestamp a
	// live event may arrive before it is dropped as stale.
	SkewBoundNs int64
	// Timeframes maps candle timeframe names to their duration in
	// nanoseconds, e.g. {"1m": 60_000_000_000}.
	Timeframes map[string]int64
	Clock      ports.Clock
}

// Engine is the DataEngine component: merges DataSources into one ordered
// stream and publishes it on the bus.
type Engine struct {
	cfg   Config
	b     *bus.Bus
	tel   *telemetry.Counters
	candl *candleAggregator

	mu           sync.Mutex
	sources      []ports.DataSource
	started      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	highestTsNs  int64
	arrivalOrder uint64
}

// New builds an Engine bound to bus b, reporting drops/staleness to tel.
// stopCh is created here, not in Start, so Stop is safe to call (and
// race-free) even before Start has run.
func New(cfg Config, b *bus.Bus, tel *telemetry.Counters) *Engine {
	return &Engine{
		cfg:    cfg,
		b:      b,
		tel:    tel,
		candl:  newCandleAggregator(cfg.Timeframes),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// AddSource registers a DataSource, subscribed to symbol/dataTypes. Must be
// called before Start.
func (e *Engine) AddSource(src ports.DataSource, symbol string, dataTypes []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("dataengine: cannot add source after start")
	}
	if err := src.Subscribe(symbol, dataTypes); err != nil {
		return fmt.Errorf("dataengine: subscribe %s: %w", symbol, err)
	}
	e.sources = append(e.sources, src)
	return nil
}

// Start begins emission in the configured mode. It returns once the engine
// has finished (sources exhausted in backtest mode) or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("dataengine: already started")
	}
	e.started = true
	e.mu.Unlock()

	defer close(e.doneCh)
	defer e.publishShutdown("engine stopped")

	switch e.cfg.Mode {
	case ModeBacktest:
		return e.runBacktest(ctx)
	default:
		return e.runLive(ctx)
	}
}

// Stop is race-safe with Start — it may be called before, during, or after
// Start runs. It signals the run loop to drain and close sources, and
// blocks until Start has returned. Calling Stop without ever calling Start
// blocks until Start is eventually called.
func (e *Engine) Stop() {
	e.mu.Lock()
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-doneCh
}

func (e *Engine) publishShutdown(reason string) {
	e.b.Publish("system.shutdown", &events.ShutdownEvent{
		Header: events.Header{Type: events.TypeShutdown},
		Reason: reason,
	})
}

// runBacktest drains every source through a timestamp-ordered min-heap,
// publishing a system.tick after each real event.
func (e *Engine) runBacktest(ctx context.Context) error {
	h := &sourceHeap{}
	heap.Init(h)

	for i, src := range e.sources {
		if err := e.pullNext(ctx, src, i, h); err != nil {
			return err
		}
	}

	for h.Len() > 0 {
		select {
		case <-e.stopCh:
			e.closeSources()
			return nil
		case <-ctx.Done():
			e.closeSources()
			return ctx.Err()
		default:
		}

		item := heap.Pop(h).(heapItem)
		e.publishEvent(item.event)
		e.b.Publish("system.tick", &events.TickEvent{Header: events.Header{
			Type:        events.TypeTick,
			TimestampNs: item.event.EventHeader().TimestampNs,
		}})

		if err := e.pullNext(ctx, e.sources[item.sourceIndex], item.sourceIndex, h); err != nil {
			return err
		}
	}

	e.closeSources()
	return nil
}

func (e *Engine) pullNext(ctx context.Context, src ports.DataSource, idx int, h *sourceHeap) error {
	ev, err := src.Next(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		// source exhausted — a well-behaved DataSource returns a sentinel
		// error here; we treat any error as end-of-stream in backtest mode.
		return nil
	}
	if ev == nil {
		return nil
	}
	e.arrivalOrder++
	heap.Push(h, heapItem{event: ev, sourceIndex: idx, arrivalOrder: e.arrivalOrder})
	return nil
}

// runLive fans every source's Next() loop into one internal queue and
// publishes in arrival order.
func (e *Engine) runLive(ctx context.Context) error {
	queue := make(chan events.Event, 4096)
	var wg sync.WaitGroup

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := range e.sources {
		wg.Add(1)
		go func(src ports.DataSource) {
			defer wg.Done()
			for {
				ev, err := src.Next(runCtx)
				if err != nil {
					return
				}
				if ev == nil {
					continue
				}
				select {
				case queue <- ev:
				case <-runCtx.Done():
					return
				}
			}
		}(e.sources[i])
	}

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			select {
			case ev := <-queue:
				e.applyLive(ev)
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-e.stopCh:
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	<-drainDone
	e.closeSources()
	return ctx.Err()
}

func (e *Engine) applyLive(ev events.Event) {
	h := ev.EventHeader()
	if h.TimestampNs == 0 && e.cfg.Clock != nil {
		h.TimestampNs = e.cfg.Clock.NowNs()
	}

	if h.TimestampNs > e.highestTsNs {
		e.highestTsNs = h.TimestampNs
	} else if e.cfg.SkewBoundNs > 0 && e.highestTsNs-h.TimestampNs > e.cfg.SkewBoundNs {
		e.tel.IncStaleDataDrop()
		return
	}

	e.publishEvent(ev)
}

// publishEvent dispatches ev to the bus by type, folding trades into the
// candle aggregator along the way.
func (e *Engine) publishEvent(ev events.Event) {
	switch t := ev.(type) {
	case *events.MarketDataEvent:
		e.b.Publish("market_data."+t.Symbol, t)
	case *events.TradeEvent:
		e.b.Publish("trade."+t.Symbol, t)
		e.applyCandle(t)
	case *events.OrderbookUpdateEvent:
		e.b.Publish("orderbook_update."+t.Symbol, t)
	default:
		e.b.Publish("market_data.unknown", ev)
	}
}

func (e *Engine) applyCandle(t *events.TradeEvent) {
	price, err := decimal.FromString(t.Price)
	if err != nil {
		return
	}
	qty, err := decimal.FromString(t.Qty)
	if err != nil {
		return
	}
	for _, closed := range e.candl.onTrade(t.Symbol, price, qty, t.TimestampNs) {
		e.b.Publish(fmt.Sprintf("candle.%s.%s", closed.Symbol, closed.Timeframe), closed)
	}
}

func (e *Engine) closeSources() {
	for _, src := range e.sources {
		_ = src.Close()
	}
}
