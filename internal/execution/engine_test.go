package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/cache"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/logging"
	"github.com/zigquant/engine/internal/ports"
	"github.com/zigquant/engine/internal/risk"
	"github.com/zigquant/engine/internal/telemetry"
)

// fakeExchange is a ports.ExchangeClient test double whose behavior is
// configured per test via function fields.
type fakeExchange struct {
	submitFunc func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error)
	cancelFunc func(ctx context.Context, exchangeID string) error
	queryFunc  func(ctx context.Context, clientID uint64, exchangeID string) (domain.OrderStatus, error)
	streamCh   chan events.Event
}

func (f *fakeExchange) Submit(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
	return f.submitFunc(ctx, order)
}

func (f *fakeExchange) Cancel(ctx context.Context, exchangeID string) error {
	return f.cancelFunc(ctx, exchangeID)
}

func (f *fakeExchange) Query(ctx context.Context, clientID uint64, exchangeID string) (domain.OrderStatus, error) {
	return f.queryFunc(ctx, clientID, exchangeID)
}

func (f *fakeExchange) StreamEvents(ctx context.Context) (<-chan events.Event, error) {
	return f.streamCh, nil
}

// fakeStore is a ports.StateStore test double backed by in-memory slices.
type fakeStore struct {
	mu       sync.Mutex
	appended [][]byte
	snap     ports.Snapshot
	hasSnap  bool
}

func (s *fakeStore) SaveSnapshot(ctx context.Context, snap ports.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.hasSnap = true
	return nil
}

func (s *fakeStore) LoadLatest(ctx context.Context) (ports.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.hasSnap, nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, payload)
	return nil
}

func (s *fakeStore) ReplaySince(ctx context.Context, version uint64) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []byte, len(s.appended))
	for _, p := range s.appended {
		ch <- p
	}
	close(ch)
	return ch, nil
}

// fakeClock is a ports.Clock test double with an instant Sleep so
// backoff-driven tests run fast.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) NowNs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {}

func (c *fakeClock) Timer(d time.Duration, callback func()) func() {
	return func() {}
}

func testOrder(symbol string, qty string) *domain.Order {
	q, _ := decimal.FromString(qty)
	return &domain.Order{
		AccountID: "acct-1",
		Symbol:    symbol,
		Side:      domain.SideBuy,
		Type:      domain.OrderTypeMarket,
		Qty:       q,
	}
}

func newTestEngine(t *testing.T, exch ports.ExchangeClient, store ports.StateStore) (*Engine, *cache.Cache, *telemetry.Counters) {
	t.Helper()
	b := bus.New()
	c := cache.New(b)
	tel := &telemetry.Counters{}

	cfg := DefaultConfig()
	cfg.SubmitTimeout = 20 * time.Millisecond
	cfg.CancelTimeout = 20 * time.Millisecond
	cfg.QueryTimeout = 20 * time.Millisecond
	cfg.QueryRetryMax = 3
	cfg.QueryBackoffBase = time.Millisecond

	checker := risk.NewChecker(risk.DefaultConfig())
	eng := New(cfg, b, c, exch, store, &fakeClock{}, checker, tel, logging.Nop())
	return eng, c, tel
}

func TestSubmitHappyPath(t *testing.T) {
	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			return ports.SubmitResult{ExchangeID: "ex-1", Status: domain.OrderStatusSubmitted}, nil
		},
	}
	eng, c, tel := newTestEngine(t, exch, &fakeStore{})

	order, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSubmitted, order.Status)
	require.Equal(t, "ex-1", order.ExchangeID)

	cached := c.GetOrder(order.ClientID)
	require.NotNil(t, cached)
	require.Equal(t, domain.OrderStatusSubmitted, cached.Status)
	require.Equal(t, uint64(1), tel.Snapshot().OrdersSubmitted)
}

func TestSubmitRejectedByRiskNeverReachesExchange(t *testing.T) {
	called := false
	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			called = true
			return ports.SubmitResult{}, nil
		},
	}
	eng, c, tel := newTestEngine(t, exch, &fakeStore{})
	eng.risk = risk.NewChecker(risk.Config{
		MaxOrderSize:     decimal.New(1),
		MaxOrderValue:    decimal.New(1000000),
		MaxPositionSize:  decimal.New(1000000),
		MaxDailyVolume:   decimal.New(1000000),
		PriceBandPercent: risk.New10Percent(),
		SymbolLimits:     map[string]decimal.Decimal{},
	})

	order, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.Error(t, err)
	require.Equal(t, domain.OrderStatusRejected, order.Status)
	require.False(t, called)
	require.Nil(t, c.GetOrder(order.ClientID))
	require.Equal(t, uint64(1), tel.Snapshot().OrdersRejected)
}

func TestSubmitRejectedByExchange(t *testing.T) {
	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			return ports.SubmitResult{}, errors.New("duplicate order")
		},
	}
	eng, c, tel := newTestEngine(t, exch, &fakeStore{})

	order, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.NoError(t, err) // Submit itself succeeds; rejection is async
	require.Equal(t, domain.OrderStatusRejected, order.Status)
	require.Equal(t, domain.OrderStatusRejected, c.GetOrder(order.ClientID).Status)
	require.Equal(t, uint64(1), tel.Snapshot().OrdersRejected)
}

func TestSubmitTimeoutThenQueryResolves(t *testing.T) {
	attempts := 0
	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			<-ctx.Done()
			return ports.SubmitResult{}, ctx.Err()
		},
		queryFunc: func(ctx context.Context, clientID uint64, exchangeID string) (domain.OrderStatus, error) {
			attempts++
			return domain.OrderStatusSubmitted, nil
		},
	}
	eng, c, tel := newTestEngine(t, exch, &fakeStore{})

	order, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSubmitted, order.Status)
	require.Equal(t, domain.OrderStatusSubmitted, c.GetOrder(order.ClientID).Status)
	require.Equal(t, 1, attempts)
	require.Equal(t, uint64(1), tel.Snapshot().OrdersSubmitted)
	require.Equal(t, uint64(0), tel.Snapshot().OrdersUncertain)
	require.False(t, eng.isSymbolHalted("AAPL"))
}

func TestSubmitTimeoutQueryExhaustedHaltsSymbol(t *testing.T) {
	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			<-ctx.Done()
			return ports.SubmitResult{}, ctx.Err()
		},
		queryFunc: func(ctx context.Context, clientID uint64, exchangeID string) (domain.OrderStatus, error) {
			return 0, errors.New("connection reset")
		},
	}
	eng, c, tel := newTestEngine(t, exch, &fakeStore{})

	order, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusUnknown, order.Status)
	require.Equal(t, domain.OrderStatusUnknown, c.GetOrder(order.ClientID).Status)
	require.Equal(t, uint64(1), tel.Snapshot().OrdersUncertain)
	require.True(t, eng.isSymbolHalted("AAPL"))

	_, err = eng.Submit(context.Background(), testOrder("AAPL", "1"))
	require.ErrorIs(t, err, ErrSymbolHalted)
}

func TestHaltBlocksSubmit(t *testing.T) {
	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			t.Fatal("submit should not be called while halted")
			return ports.SubmitResult{}, nil
		},
	}
	eng, _, _ := newTestEngine(t, exch, &fakeStore{})
	eng.Halt()
	require.True(t, eng.IsHalted())

	_, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.ErrorIs(t, err, ErrHalted)

	eng.Resume()
	require.False(t, eng.IsHalted())
}

func TestCancelAlreadyTerminal(t *testing.T) {
	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			return ports.SubmitResult{}, errors.New("rejected by venue")
		},
	}
	eng, _, _ := newTestEngine(t, exch, &fakeStore{})

	order, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusRejected, order.Status)

	err = eng.Cancel(context.Background(), order.ClientID)
	require.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestCancelUnknownOrder(t *testing.T) {
	eng, _, _ := newTestEngine(t, &fakeExchange{}, &fakeStore{})
	err := eng.Cancel(context.Background(), 12345)
	require.ErrorIs(t, err, ErrUnknownOrder)
}

func TestCancelHappyPath(t *testing.T) {
	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			return ports.SubmitResult{ExchangeID: "ex-1"}, nil
		},
		cancelFunc: func(ctx context.Context, exchangeID string) error {
			require.Equal(t, "ex-1", exchangeID)
			return nil
		},
	}
	eng, c, tel := newTestEngine(t, exch, &fakeStore{})

	order, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.NoError(t, err)

	require.NoError(t, eng.Cancel(context.Background(), order.ClientID))
	require.Equal(t, domain.OrderStatusCanceled, c.GetOrder(order.ClientID).Status)
	require.Equal(t, uint64(1), tel.Snapshot().OrdersCanceled)
}

func TestCancelLosesRaceToConcurrentFill(t *testing.T) {
	b := bus.New()
	c := cache.New(b)
	tel := &telemetry.Counters{}
	var orderClientID uint64

	exch := &fakeExchange{
		submitFunc: func(ctx context.Context, order *domain.Order) (ports.SubmitResult, error) {
			return ports.SubmitResult{ExchangeID: "ex-1"}, nil
		},
		cancelFunc: func(ctx context.Context, exchangeID string) error {
			// Simulate a fill landing on the stream while the cancel request
			// is still in flight, before the venue acks the cancel itself.
			b.Publish("order.filled", &events.OrderFilledEvent{
				Header:    events.Header{Type: events.TypeOrderFilled, TimestampNs: 1},
				ClientID:  orderClientID,
				Symbol:    "AAPL",
				FillPrice: "100",
				FillQty:   "10",
				FilledQty: "10",
				Status:    domain.OrderStatusFilled,
				UpdatedNs: 1,
			})
			return nil
		},
	}

	cfg := DefaultConfig()
	cfg.SubmitTimeout = 20 * time.Millisecond
	cfg.CancelTimeout = 20 * time.Millisecond
	checker := risk.NewChecker(risk.DefaultConfig())
	eng := New(cfg, b, c, exch, &fakeStore{}, &fakeClock{}, checker, tel, logging.Nop())

	order, err := eng.Submit(context.Background(), testOrder("AAPL", "10"))
	require.NoError(t, err)
	orderClientID = order.ClientID

	require.NoError(t, eng.Cancel(context.Background(), order.ClientID))

	got := c.GetOrder(order.ClientID)
	require.Equal(t, domain.OrderStatusFilled, got.Status, "fill must win the race; a terminal status must never be overwritten by a late cancel ack")
	require.Equal(t, uint64(0), tel.Snapshot().OrdersCanceled)
}

func TestRecoverReplaysPendingIntentsAndReconciles(t *testing.T) {
	store := &fakeStore{}
	exch := &fakeExchange{
		queryFunc: func(ctx context.Context, clientID uint64, exchangeID string) (domain.OrderStatus, error) {
			return domain.OrderStatusSubmitted, nil
		},
	}
	eng, c, _ := newTestEngine(t, exch, store)

	pending := testOrder("AAPL", "5")
	pending.ClientID = 42
	pending.Status = domain.OrderStatusPending
	payload, err := encodeOrder(pending)
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(context.Background(), payload))

	report, err := eng.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.ReplayedIntents)
	require.Equal(t, 1, report.Reconciled)

	restored := c.GetOrder(42)
	require.NotNil(t, restored)
	require.Equal(t, domain.OrderStatusSubmitted, restored.Status)
}

func TestRecoverCancelsOrphanWithReason(t *testing.T) {
	store := &fakeStore{}
	exch := &fakeExchange{
		queryFunc: func(ctx context.Context, clientID uint64, exchangeID string) (domain.OrderStatus, error) {
			return 0, errors.New("unknown to venue")
		},
	}
	eng, c, _ := newTestEngine(t, exch, store)

	var got *events.OrderCanceledEvent
	eng.b.Subscribe("order.canceled", func(ctx context.Context, topic string, event events.Event) error {
		got = event.(*events.OrderCanceledEvent)
		return nil
	}, bus.BlockPublisher, 0)

	orphan := testOrder("AAPL", "5")
	orphan.ClientID = 99
	orphan.Status = domain.OrderStatusPending
	payload, err := encodeOrder(orphan)
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(context.Background(), payload))

	report, err := eng.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.OrphansCanceled)

	restored := c.GetOrder(99)
	require.NotNil(t, restored)
	require.Equal(t, domain.OrderStatusCanceled, restored.Status)

	require.NotNil(t, got, "expected an order.canceled event for the orphan")
	require.Equal(t, ReasonOrphanRecovered, got.Reason)
	require.Equal(t, uint64(99), got.ClientID)
}

func TestRepublishFillUpdatesCacheAndPosition(t *testing.T) {
	eng, c, tel := newTestEngine(t, &fakeExchange{}, &fakeStore{})

	order := testOrder("AAPL", "10")
	order.ClientID = 7
	order.Status = domain.OrderStatusSubmitted
	c.TrackPending(order)

	eng.republish(&events.OrderFilledEvent{
		Header:    events.Header{Type: events.TypeOrderFilled},
		ClientID:  7,
		Symbol:    "AAPL",
		Side:      domain.SideBuy,
		FillPrice: "150.00",
		FillQty:   "10",
		FilledQty: "10",
		Status:    domain.OrderStatusFilled,
		UpdatedNs: 100,
	})

	require.Equal(t, domain.OrderStatusFilled, c.GetOrder(7).Status)
	pos := c.GetPosition("AAPL")
	require.NotNil(t, pos)
	require.Equal(t, "10.000000000000000000", pos.Qty.String())
	require.Equal(t, uint64(1), tel.Snapshot().OrdersFilled)
}
