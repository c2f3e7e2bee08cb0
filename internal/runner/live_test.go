package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zigquant/engine/internal/adapters/exchange/simulated"
	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/cache"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/execution"
	"github.com/zigquant/engine/internal/logging"
	"github.com/zigquant/engine/internal/matching"
	"github.com/zigquant/engine/internal/telemetry"
)

func newTestLiveRunner(t *testing.T) *LiveRunner {
	t.Helper()
	b := bus.New()
	c := cache.New(b)
	tel := &telemetry.Counters{}

	me := matching.NewEngine()
	me.AddSymbol("BTC-USD")
	exchange := simulated.New(me)

	cfg := execution.DefaultConfig()
	cfg.SubmitTimeout = 50 * time.Millisecond
	cfg.CancelTimeout = 50 * time.Millisecond
	exec := execution.New(cfg, b, c, exchange, nil, nil, nil, tel, logging.Nop())

	logPath := filepath.Join(t.TempDir(), "events.log")
	log, err := events.NewLog(events.LogConfig{Path: logPath})
	require.NoError(t, err)

	lc := DefaultLiveConfig()
	lc.RingBufferSize = 64
	lc.SubmitWaitTimeout = 2 * time.Second
	lc.CheckpointEvery = 0

	return NewLiveRunner(lc, exec, nil, log, tel, logging.Nop())
}

func runLiveRunner(t *testing.T, r *LiveRunner) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("runner did not stop in time")
		}
	})
	// give the dispatcher a moment to come up
	time.Sleep(10 * time.Millisecond)
	return cancel
}

func TestLiveRunner_SubmitAndCancel(t *testing.T) {
	r := newTestLiveRunner(t)
	runLiveRunner(t, r)

	price, _ := decimal.FromString("100")
	qty, _ := decimal.FromString("1")
	order, err := r.Submit(context.Background(), &domain.Order{
		Symbol: "BTC-USD",
		Side:   domain.SideBuy,
		Type:   domain.OrderTypeLimit,
		Price:  price,
		Qty:    qty,
	})
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, domain.OrderStatusSubmitted, order.Status)

	require.NoError(t, r.Cancel(context.Background(), order.ClientID))
}

func TestLiveRunner_PauseRejectsSubmit(t *testing.T) {
	r := newTestLiveRunner(t)
	runLiveRunner(t, r)

	r.Pause()
	require.Equal(t, StatusPaused, r.Status())

	price, _ := decimal.FromString("100")
	qty, _ := decimal.FromString("1")
	_, err := r.Submit(context.Background(), &domain.Order{
		Symbol: "BTC-USD",
		Side:   domain.SideBuy,
		Type:   domain.OrderTypeLimit,
		Price:  price,
		Qty:    qty,
	})
	require.Error(t, err)

	r.Resume()
	require.Equal(t, StatusRunning, r.Status())
}

func TestLiveRunner_StopIsGraceful(t *testing.T) {
	r := newTestLiveRunner(t)
	cancel := runLiveRunner(t, r)
	cancel()
	r.Stop()
	require.Equal(t, StatusStopped, r.Status())
}
