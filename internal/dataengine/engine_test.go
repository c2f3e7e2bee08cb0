package dataengine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/telemetry"
)

// fakeSource replays a fixed slice of events, then reports io.EOF.
type fakeSource struct {
	mu     sync.Mutex
	events []events.Event
	idx    int
	closed bool
}

func (f *fakeSource) Subscribe(symbol string, dataTypes []string) error { return nil }

func (f *fakeSource) Next(ctx context.Context) (events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.events) {
		return nil, io.EOF
	}
	ev := f.events[f.idx]
	f.idx++
	return ev, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func tradeEvent(symbol string, tsNs int64, price, qty string) *events.TradeEvent {
	return &events.TradeEvent{
		Header: events.Header{Type: events.TypeTrade, TimestampNs: tsNs},
		Symbol: symbol,
		Price:  price,
		Qty:    qty,
	}
}

func TestBacktestMergesSourcesByTimestamp(t *testing.T) {
	b := bus.New()

	var mu sync.Mutex
	var topics []string
	b.Subscribe("#", func(ctx context.Context, topic string, event events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, topic)
		return nil
	}, bus.BlockPublisher, 0)

	srcA := &fakeSource{events: []events.Event{
		tradeEvent("AAPL", 100, "150.00", "10"),
		tradeEvent("AAPL", 300, "151.00", "5"),
	}}
	srcB := &fakeSource{events: []events.Event{
		tradeEvent("MSFT", 200, "300.00", "1"),
	}}

	eng := New(Config{Mode: ModeBacktest}, b, &telemetry.Counters{})
	require.NoError(t, eng.AddSource(srcA, "AAPL", []string{"trade"}))
	require.NoError(t, eng.AddSource(srcB, "MSFT", []string{"trade"}))

	require.NoError(t, eng.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"trade.AAPL",
		"system.tick",
		"trade.MSFT",
		"system.tick",
		"trade.AAPL",
		"system.tick",
		"system.shutdown",
	}, topics)
	require.True(t, srcA.closed)
	require.True(t, srcB.closed)
}

func TestLiveDropsStaleEvents(t *testing.T) {
	b := bus.New()
	tel := &telemetry.Counters{}

	var mu sync.Mutex
	var tradesSeen int
	b.Subscribe("trade.#", func(ctx context.Context, topic string, event events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		tradesSeen++
		return nil
	}, bus.BlockPublisher, 0)

	src := &fakeSource{events: []events.Event{
		tradeEvent("AAPL", 1_000_000, "150.00", "1"),
		tradeEvent("AAPL", 100, "149.00", "1"), // far behind the skew bound
		tradeEvent("AAPL", 1_000_100, "150.50", "1"),
	}}

	eng := New(Config{Mode: ModeLive, SkewBoundNs: 1000}, b, tel)
	require.NoError(t, eng.AddSource(src, "AAPL", []string{"trade"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = eng.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return tradesSeen == 2
	}, time.Second, time.Millisecond)

	eng.Stop()
	cancel()
	<-done

	snap := tel.Snapshot()
	require.Equal(t, uint64(1), snap.StaleDataDrops)
}

func TestCandleAggregatorEmitsOnBarClose(t *testing.T) {
	agg := newCandleAggregator(map[string]int64{"1m": 60_000_000_000})

	price1, err := decimal.FromString("100.00")
	require.NoError(t, err)
	qty1, err := decimal.FromString("1")
	require.NoError(t, err)
	closed := agg.onTrade("AAPL", price1, qty1, 0)
	require.Empty(t, closed)

	price2, err := decimal.FromString("101.00")
	require.NoError(t, err)
	qty2, err := decimal.FromString("2")
	require.NoError(t, err)
	closed = agg.onTrade("AAPL", price2, qty2, 61_000_000_000) // next bar
	require.Len(t, closed, 1)
	require.Equal(t, "100.000000000000000000", closed[0].Open)
	require.Equal(t, "AAPL", closed[0].Symbol)
}
