package disruptor

import (
	"time"

	"go.uber.org/zap"

	"github.com/zigquant/engine/internal/events"
)

// EventBatcher batches events before writing to the append-only log to
// reduce fsync overhead.
//
// Design:
// - Async goroutine that receives events from the processor
// - Batches events until reaching batch size or timeout
// - One fsync per batch instead of one per event
type EventBatcher struct {
	eventLog      *events.Log
	logger        *zap.Logger
	queue         chan events.Event
	batchSize     int
	flushInterval time.Duration
	shutdownCh    chan struct{}
	shutdownDone  chan struct{}
}

// NewEventBatcher creates a new event batcher. batchSize <= 0 defaults to
// 1000; flushIntervalMs <= 0 defaults to 10ms.
func NewEventBatcher(eventLog *events.Log, batchSize int, flushIntervalMs int, logger *zap.Logger) *EventBatcher {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 10
	}

	return &EventBatcher{
		eventLog:      eventLog,
		logger:        logger,
		queue:         make(chan events.Event, batchSize*2),
		batchSize:     batchSize,
		flushInterval: time.Duration(flushIntervalMs) * time.Millisecond,
		shutdownCh:    make(chan struct{}),
		shutdownDone:  make(chan struct{}),
	}
}

// Start begins the batching loop.
func (b *EventBatcher) Start() {
	go b.batchLoop()
}

func (b *EventBatcher) batchLoop() {
	defer close(b.shutdownDone)

	batch := make([]events.Event, 0, b.batchSize)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-b.queue:
			batch = append(batch, event)
			if len(batch) >= b.batchSize {
				b.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}

		case <-b.shutdownCh:
			if len(batch) > 0 {
				b.flush(batch)
			}
			for {
				select {
				case event := <-b.queue:
					b.appendOne(event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBatcher) flush(batch []events.Event) {
	for _, event := range batch {
		b.appendOne(event)
	}
	if b.eventLog == nil {
		return
	}
	if err := b.eventLog.Sync(); err != nil {
		b.logger.Error("failed to sync event log", zap.Error(err))
	}
}

func (b *EventBatcher) appendOne(event events.Event) {
	if b.eventLog == nil {
		return
	}
	if _, err := b.eventLog.Append(event); err != nil {
		b.logger.Error("failed to append event", zap.Error(err))
	}
}

// QueueEvent queues an event for batched writing. Non-blocking: if the
// queue is full the event is dropped rather than stalling the dispatcher.
func (b *EventBatcher) QueueEvent(event events.Event) {
	select {
	case b.queue <- event:
	default:
		b.logger.Warn("event queue full, dropping event", zap.String("type", event.EventHeader().Type.String()))
	}
}

// Shutdown flushes all remaining events and waits for completion.
func (b *EventBatcher) Shutdown() {
	close(b.shutdownCh)
	<-b.shutdownDone
}
