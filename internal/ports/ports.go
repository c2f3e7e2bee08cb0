// Package ports declares the four interfaces the core depends on without
// implementing: DataSource, ExchangeClient, StateStore, Clock. Concrete
// adapters live under internal/adapters.
package ports

import (
	"context"
	"time"

	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
)

// DataSource yields a per-source monotonic stream of events. Concrete
// adapters (CSV reader, websocket client) live under internal/adapters/datasource.
type DataSource interface {
	// Subscribe records desired coverage for a symbol; adapters may ignore
	// data types they don't carry.
	Subscribe(symbol string, dataTypes []string) error
	// Next blocks until the next event is available, ctx is canceled, or
	// the source is exhausted (returns nil, nil at end-of-stream).
	Next(ctx context.Context) (events.Event, error)
	// Close releases underlying resources. Idempotent.
	Close() error
}

// SubmitResult is the outcome of an ExchangeClient.Submit call.
type SubmitResult struct {
	ExchangeID string
	Status     domain.OrderStatus
}

// ExchangeClient abstracts a venue connection. submit/cancel/query carry
// an implicit timeout via ctx; the concrete adapter maps protocol-specific
// errors onto the Transient/Uncertain/Rejected taxonomy.
type ExchangeClient interface {
	Submit(ctx context.Context, order *domain.Order) (SubmitResult, error)
	Cancel(ctx context.Context, exchangeID string) error
	Query(ctx context.Context, clientID uint64, exchangeID string) (domain.OrderStatus, error)
	// StreamEvents returns a channel of fill/cancel/connection events; the
	// channel is closed when the client disconnects or ctx is canceled.
	StreamEvents(ctx context.Context) (<-chan events.Event, error)
}

// Snapshot is an opaque, checksummed byte blob produced by the checkpoint
// codec (internal/checkpoint). StateStore never interprets the contents.
type Snapshot struct {
	Bytes    []byte
	Checksum uint32
}

// StateStore is the durability boundary: best-effort, single-process,
// never the guarantee of cross-process durability.
type StateStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadLatest(ctx context.Context) (Snapshot, bool, error)
	AppendEvent(ctx context.Context, payload []byte) error
	ReplaySince(ctx context.Context, version uint64) (<-chan []byte, error)
}

// Clock abstracts wall-clock time so backtests can substitute a virtual
// clock driven by the DataEngine's heap instead of real time.
type Clock interface {
	NowNs() int64
	Sleep(d time.Duration)
	Timer(d time.Duration, callback func()) (stop func())
}
