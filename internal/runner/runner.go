// Package runner implements the two engine runners: LiveRunner, which
// drives the ExecutionEngine and DataEngine against a real or simulated
// exchange connection serialized through a single dispatcher thread, and
// BacktestRunner, which drives the same components against a deterministic,
// event-ordered replay. Both share the start/stop/pause/resume/status/stats
// contract below, so cmd/engine can wire either one behind the same
// surface.
//
// Grounded on cmd/server/main.go's approach for the graceful-shutdown
// sequencing (stop serving new work, drain in-flight requests, flush and
// close durable state, in that order) and internal/disruptor for the
// dispatcher-thread submission path LiveRunner uses.
package runner

import (
	"context"

	"github.com/zigquant/engine/internal/domain"
)

// Status is the coarse lifecycle state of a Runner.
type Status uint8

const (
	StatusStopped Status = iota
	StatusRunning
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Stats is a point-in-time snapshot of runner activity, combining
// telemetry counters with runner-specific progress markers.
type Stats struct {
	Status              Status
	OrdersSubmitted     uint64
	OrdersFilled        uint64
	OrdersRejected      uint64
	OrdersCanceled      uint64
	OrdersUncertain     uint64
	InvariantViolations uint64
	EventsProcessed     uint64
}

// Runner is the shared contract LiveRunner and BacktestRunner implement.
type Runner interface {
	// Start begins processing and blocks until the run ends (Stop is
	// called, ctx is canceled, or — for BacktestRunner — the data sources
	// are exhausted).
	Start(ctx context.Context) error
	// Stop signals the runner to wind down and blocks until Start returns.
	Stop()
	// Pause halts new order submission without tearing down connections;
	// Resume clears it. Neither checks the runner's current status first.
	Pause()
	Resume()
	Status() Status
	Stats() Stats
	// Submit and Cancel are the entry points a strategy or API layer uses
	// to interact with the running engine.
	Submit(ctx context.Context, intent *domain.Order) (*domain.Order, error)
	Cancel(ctx context.Context, clientID uint64) error
}
