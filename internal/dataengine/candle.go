package dataengine

import (
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/events"
)

// candleKey identifies one symbol/timeframe aggregation bucket.
type candleKey struct {
	symbol    string
	timeframe string
}

// candleBucket accumulates OHLCV for one open bar.
type candleBucket struct {
	open, high, low, close decimal.Decimal
	volume                 decimal.Decimal
	openNs, closeNs        int64
	started                bool
}

// candleAggregator maintains one bucket per (symbol, timeframe) and emits a
// CandleEvent whenever a trade crosses into the next bar. Timeframes are
// configured with their duration in nanoseconds; bars are aligned to
// epoch-relative boundaries so restarts don't shift bucket edges.
type candleAggregator struct {
	timeframes map[string]int64 // name -> duration_ns, e.g. "1m" -> 60e9
	buckets    map[candleKey]*candleBucket
}

func newCandleAggregator(timeframes map[string]int64) *candleAggregator {
	return &candleAggregator{
		timeframes: timeframes,
		buckets:    make(map[candleKey]*candleBucket),
	}
}

// onTrade folds a trade print into every configured timeframe bucket for its
// symbol, returning any bars that closed as a result.
func (a *candleAggregator) onTrade(symbol string, price, qty decimal.Decimal, tsNs int64) []*events.CandleEvent {
	var closed []*events.CandleEvent
	for name, durNs := range a.timeframes {
		key := candleKey{symbol: symbol, timeframe: name}
		barStart := (tsNs / durNs) * durNs
		barEnd := barStart + durNs

		b, ok := a.buckets[key]
		if !ok || !b.started || tsNs >= b.closeNs {
			if ok && b.started {
				closed = append(closed, bucketToEvent(symbol, name, b))
			}
			b = &candleBucket{
				open: price, high: price, low: price, close: price,
				volume:  qty,
				openNs:  barStart,
				closeNs: barEnd,
				started: true,
			}
			a.buckets[key] = b
			continue
		}

		if price.Cmp(b.high) > 0 {
			b.high = price
		}
		if price.Cmp(b.low) < 0 {
			b.low = price
		}
		b.close = price
		b.volume = b.volume.Add(qty)
	}
	return closed
}

func bucketToEvent(symbol, timeframe string, b *candleBucket) *events.CandleEvent {
	return &events.CandleEvent{
		Header:    events.Header{Type: events.TypeCandle},
		Symbol:    symbol,
		Timeframe: timeframe,
		Open:      b.open.String(),
		High:      b.high.String(),
		Low:       b.low.String(),
		Close:     b.close.String(),
		Volume:    b.volume.String(),
		OpenNs:    b.openNs,
		CloseNs:   b.closeNs,
	}
}
