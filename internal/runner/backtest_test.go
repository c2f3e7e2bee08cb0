package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clockadapter "github.com/zigquant/engine/internal/adapters/clock"
	"github.com/zigquant/engine/internal/adapters/datasource/csv"
	"github.com/zigquant/engine/internal/adapters/exchange/simulated"
	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/cache"
	"github.com/zigquant/engine/internal/dataengine"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/execution"
	"github.com/zigquant/engine/internal/logging"
	"github.com/zigquant/engine/internal/matching"
	"github.com/zigquant/engine/internal/telemetry"
)

func writeTape(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tape.csv")
	lines := append([]string{"timestamp_ns,symbol,type,price,qty,side,bid,ask,bid_size,ask_size"}, rows...)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestBacktestRunner(t *testing.T, tapePath string) (*BacktestRunner, *execution.Engine) {
	t.Helper()
	b := bus.New()
	c := cache.New(b)
	tel := &telemetry.Counters{}

	me := matching.NewEngine()
	me.AddSymbol("BTC-USD")
	exchange := simulated.New(me)

	virt := clockadapter.NewVirtual(0)

	cfg := execution.DefaultConfig()
	exec := execution.New(cfg, b, c, exchange, nil, virt, nil, tel, logging.Nop())

	src, err := csv.Open(tapePath)
	require.NoError(t, err)

	data := dataengine.New(dataengine.Config{Mode: dataengine.ModeBacktest, Clock: virt}, b, tel)
	require.NoError(t, data.AddSource(src, "BTC-USD", nil))

	r := NewBacktestRunner(b, exec, data, virt, tel, logging.Nop())
	return r, exec
}

func TestBacktestRunner_AdvancesVirtualClockFromTicks(t *testing.T) {
	tape := writeTape(t,
		"1000,BTC-USD,quote,,,,99,101,1,1",
		"2000,BTC-USD,quote,,,,99,101,1,1",
	)
	r, _ := newTestBacktestRunner(t, tape)

	err := r.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2000), r.virt.NowNs())
	require.Equal(t, StatusStopped, r.Status())
}

func TestBacktestRunner_SubmitDuringReplay(t *testing.T) {
	tape := writeTape(t,
		"1000,BTC-USD,quote,,,,99,101,1,1",
	)
	r, _ := newTestBacktestRunner(t, tape)

	err := r.Start(context.Background())
	require.NoError(t, err)

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
	require.Equal(t, domain.OrderStatusSubmitted, order.Status)
}

func TestBacktestRunner_StopEndsReplayEarly(t *testing.T) {
	tape := writeTape(t,
		"1000,BTC-USD,quote,,,,99,101,1,1",
		"2000,BTC-USD,quote,,,,99,101,1,1",
		"3000,BTC-USD,quote,,,,99,101,1,1",
	)
	r, _ := newTestBacktestRunner(t, tape)

	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("backtest runner did not stop")
	}
}
