// Package csv implements a backtest ports.DataSource that replays market
// data from a CSV file: one row per tick, already sorted by timestamp, the
// shape produced by most exchange historical-data exports.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"context"

	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
)

// Columns is the fixed CSV header order this reader understands:
// timestamp_ns,symbol,type,price,qty,side,bid,ask,bid_size,ask_size
//
// type is one of "trade" or "quote". Trade rows use price/qty/side; quote
// rows use bid/ask/bid_size/ask_size. Either set of columns may be left
// blank for the other type.
var Columns = []string{
	"timestamp_ns", "symbol", "type", "price", "qty", "side",
	"bid", "ask", "bid_size", "ask_size",
}

// Source reads one symbol's historical ticks from a CSV file in timestamp
// order, implementing ports.DataSource for BacktestRunner.
type Source struct {
	file   *os.File
	reader *csv.Reader
	symbol string
}

// Open opens path and validates its header matches Columns.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvsource: open %s: %w", path, err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Columns)

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvsource: read header: %w", err)
	}
	if !equalColumns(header, Columns) {
		f.Close()
		return nil, fmt.Errorf("csvsource: unexpected header %v, want %v", header, Columns)
	}

	return &Source{file: f, reader: r}, nil
}

func equalColumns(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// Subscribe records the symbol this source is expected to carry. CSV rows
// for any other symbol are skipped rather than erroring, so one file can
// hold a multi-symbol tape if needed.
func (s *Source) Subscribe(symbol string, _ []string) error {
	s.symbol = symbol
	return nil
}

// Next returns the next row as a MarketDataEvent (if it carries a quote) or
// TradeEvent (if it carries a trade), or io.EOF once the file is exhausted.
func (s *Source) Next(ctx context.Context) (events.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := s.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("csvsource: read row: %w", err)
		}

		ev, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("csvsource: parse row: %w", err)
		}
		if s.symbol != "" && rowSymbol(record) != s.symbol {
			continue
		}
		return ev, nil
	}
}

func rowSymbol(record []string) string { return record[1] }

func parseRow(record []string) (events.Event, error) {
	tsNs, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timestamp_ns: %w", err)
	}
	symbol := record[1]
	kind := record[2]

	switch kind {
	case "trade":
		return &events.TradeEvent{
			Header: events.Header{Type: events.TypeTrade, TimestampNs: tsNs},
			Symbol: symbol,
			Price:  record[3],
			Qty:    record[4],
			Side:   parseSide(record[5]),
		}, nil
	case "quote":
		return &events.MarketDataEvent{
			Header:  events.Header{Type: events.TypeMarketData, TimestampNs: tsNs},
			Symbol:  symbol,
			Bid:     record[6],
			Ask:     record[7],
			BidSize: record[8],
			AskSize: record[9],
		}, nil
	default:
		return nil, fmt.Errorf("unknown row type %q", kind)
	}
}

func parseSide(s string) domain.Side {
	if s == "sell" {
		return domain.SideSell
	}
	return domain.SideBuy
}

// Close closes the underlying file. Idempotent.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
