package disruptor

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/execution"
)

// EventProcessor processes Submit/Cancel requests from the ring buffer in a
// single thread.
//
// Design:
// - Single goroutine for deterministic, sequential processing
// - Reads from ring buffer using spin-wait
// - Calls the ExecutionEngine (which itself serializes exchange/cache
//   access), so request ordering here is the only ordering guarantee
// - Queues lifecycle events for batched async logging
// - Sends responses back to callers via per-request channels
type EventProcessor struct {
	rb           *RingBuffer
	engine       *execution.Engine
	eventBatcher *EventBatcher
	logger       *zap.Logger
	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownDone chan struct{}
}

// NewEventProcessor creates a new event processor.
func NewEventProcessor(rb *RingBuffer, engine *execution.Engine, eventLog *events.Log, logger *zap.Logger) *EventProcessor {
	return &EventProcessor{
		rb:           rb,
		engine:       engine,
		eventBatcher: NewEventBatcher(eventLog, 1000, 10, logger),
		logger:       logger,
		shutdownCh:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
}

// Start begins processing requests from the ring buffer.
func (p *EventProcessor) Start() {
	p.running.Store(true)
	go p.processLoop()
	go p.eventBatcher.Start()
}

// processLoop is the main event processing loop (single goroutine).
//
// This loop maintains determinism by processing requests sequentially in
// sequence number order. It never uses locks, relying on the
// single-threaded nature for correctness.
func (p *EventProcessor) processLoop() {
	defer close(p.shutdownDone)

	nextSequence := uint64(1) // 0 is the initial, unpublished state

	for {
		index := nextSequence & p.rb.indexMask
		slot := &p.rb.slots[index]

		for {
			available := atomic.LoadUint64(&slot.SequenceNum)
			if available == nextSequence {
				break
			}

			select {
			case <-p.shutdownCh:
				return
			default:
				runtime.Gosched()
			}
		}

		p.processRequest(slot)

		atomic.StoreUint64(&p.rb.gatingSequence, nextSequence)
		nextSequence++
	}
}

// processRequest processes a single request from the ring buffer.
func (p *EventProcessor) processRequest(slot *RingBufferSlot) {
	req := slot.Request
	responseCh := slot.ResponseCh

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event processor panic", zap.Any("recovered", r))
			select {
			case responseCh <- &OrderResponse{Success: false, Error: fmt.Errorf("internal error: %v", r)}:
			default:
			}
		}
	}()

	switch req.Type {
	case RequestTypeNewOrder:
		p.processNewOrder(req, responseCh)
	case RequestTypeCancelOrder:
		p.processCancelOrder(req, responseCh)
	default:
		select {
		case responseCh <- &OrderResponse{Success: false, Error: fmt.Errorf("unknown request type: %d", req.Type)}:
		default:
		}
	}
}

func (p *EventProcessor) processNewOrder(req *OrderRequest, responseCh chan *OrderResponse) {
	order, err := p.engine.Submit(req.Ctx, req.Intent)

	if err == nil {
		p.eventBatcher.QueueEvent(&events.OrderAcceptedEvent{
			Header:     events.Header{Type: events.TypeOrderAccepted, TimestampNs: domain.Now()},
			ClientID:   order.ClientID,
			ExchangeID: order.ExchangeID,
			Symbol:     order.Symbol,
		})
	}

	select {
	case responseCh <- &OrderResponse{Success: err == nil, Order: order, Error: err}:
	default:
		p.logger.Warn("failed to send order response, caller stopped listening",
			zap.Uint64("client_id", orderClientID(order)))
	}
}

func (p *EventProcessor) processCancelOrder(req *OrderRequest, responseCh chan *OrderResponse) {
	err := p.engine.Cancel(req.Ctx, req.ClientID)

	if err == nil {
		p.eventBatcher.QueueEvent(&events.OrderCanceledEvent{
			Header:    events.Header{Type: events.TypeOrderCanceled, TimestampNs: domain.Now()},
			ClientID:  req.ClientID,
			Status:    domain.OrderStatusCanceled,
			UpdatedNs: domain.Now(),
		})
	}

	select {
	case responseCh <- &OrderResponse{Success: err == nil, Error: err}:
	default:
		p.logger.Warn("failed to send cancel response, caller stopped listening",
			zap.Uint64("client_id", req.ClientID))
	}
}

func orderClientID(order *domain.Order) uint64 {
	if order == nil {
		return 0
	}
	return order.ClientID
}

// Shutdown gracefully shuts down the event processor: stop accepting new
// requests, drain what's already published in the ring buffer, and ensure all
// queued events are flushed to the event log.
func (p *EventProcessor) Shutdown() {
	p.logger.Info("shutting down event processor")

	p.running.Store(false)
	close(p.shutdownCh)

	<-p.shutdownDone

	p.eventBatcher.Shutdown()
	p.logger.Info("event processor shutdown complete")
}
