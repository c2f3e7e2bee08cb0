// Package wsfeed implements a live ports.DataSource over a JSON WebSocket
// feed: dial, request JSON format, subscribe to symbols, then decode each
// text frame into a MarketDataEvent or TradeEvent. The dial/control-message/
// read-loop shape follows a plain JSON feed rather than a binary protocol.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
)

// Source is a live DataSource dialed against a single WebSocket endpoint.
type Source struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// wireTick is the JSON shape each feed message decodes into. Type is
// "trade" or "quote"; the other type's fields are left zero-valued.
type wireTick struct {
	TimestampNs int64  `json:"timestamp_ns"`
	Symbol      string `json:"symbol"`
	Type        string `json:"type"`
	Price       string `json:"price,omitempty"`
	Qty         string `json:"qty,omitempty"`
	Side        string `json:"side,omitempty"`
	Bid         string `json:"bid,omitempty"`
	Ask         string `json:"ask,omitempty"`
	BidSize     string `json:"bid_size,omitempty"`
	AskSize     string `json:"ask_size,omitempty"`
}

// Dial connects to url and requests JSON format.
func Dial(url string) (*Source, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsfeed: dial %s: %w", url, err)
	}

	s := &Source{conn: conn, closed: make(chan struct{})}
	if err := s.sendControl(map[string]any{"action": "format", "format": "json"}); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Source) sendControl(msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wsfeed: marshal control message: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wsfeed: send control message: %w", err)
	}
	return nil
}

// Subscribe sends a subscribe control message for symbol. dataTypes is
// accepted for interface compatibility but the feed decides what it sends.
func (s *Source) Subscribe(symbol string, _ []string) error {
	return s.sendControl(map[string]any{"action": "subscribe", "symbols": []string{symbol}})
}

// Next blocks on the next text frame and decodes it. ctx cancellation
// unblocks a pending read by closing the underlying connection from a
// watcher goroutine, since gorilla/websocket's ReadMessage takes no context.
func (s *Source) Next(ctx context.Context) (events.Event, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		case <-s.closed:
		}
	}()

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, io.EOF
	}

	var tick wireTick
	if err := json.Unmarshal(data, &tick); err != nil {
		return nil, fmt.Errorf("wsfeed: decode frame: %w", err)
	}
	return toEvent(tick)
}

func toEvent(tick wireTick) (events.Event, error) {
	switch tick.Type {
	case "trade":
		return &events.TradeEvent{
			Header: events.Header{Type: events.TypeTrade, TimestampNs: tick.TimestampNs},
			Symbol: tick.Symbol,
			Price:  tick.Price,
			Qty:    tick.Qty,
			Side:   parseSide(tick.Side),
		}, nil
	case "quote":
		return &events.MarketDataEvent{
			Header:  events.Header{Type: events.TypeMarketData, TimestampNs: tick.TimestampNs},
			Symbol:  tick.Symbol,
			Bid:     tick.Bid,
			Ask:     tick.Ask,
			BidSize: tick.BidSize,
			AskSize: tick.AskSize,
		}, nil
	default:
		return nil, fmt.Errorf("wsfeed: unknown tick type %q", tick.Type)
	}
}

func parseSide(s string) domain.Side {
	if s == "sell" || s == "SELL" {
		return domain.SideSell
	}
	return domain.SideBuy
}

// Close sends a normal close frame and closes the connection. Idempotent.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}
