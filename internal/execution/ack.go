package execution

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
)

// submitToExchange performs step 3 of pre-submission tracking: the wire
// submit, and the full acknowledgement handling this engine provides
// (Submitted / Rejected / Timeout→Unknown→query).
func (e *Engine) submitToExchange(ctx context.Context, order *domain.Order) {
	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	result, err := e.exchange.Submit(submitCtx, order)
	switch {
	case err == nil:
		order.ExchangeID = result.ExchangeID
		order.Status = domain.OrderStatusSubmitted
		e.tel.IncOrdersSubmitted()
		e.b.Publish("order.accepted", &events.OrderAcceptedEvent{
			Header:     events.Header{Type: events.TypeOrderAccepted, TimestampNs: e.nowNs()},
			ClientID:   order.ClientID,
			ExchangeID: result.ExchangeID,
			Symbol:     order.Symbol,
		})
	case isTimeoutErr(submitCtx, err):
		e.handleSubmitTimeout(ctx, order)
	default:
		e.rejectOrder(order, classifyFailure(err))
	}
}

func isTimeoutErr(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// classifyFailure extracts a reason string from err, preferring an
// execution.Error's Reason if the adapter returned one.
func classifyFailure(err error) string {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Reason
	}
	return err.Error()
}

func (e *Engine) rejectOrder(order *domain.Order, reason string) {
	order.Status = domain.OrderStatusRejected
	e.tel.IncOrdersRejected()
	e.logger.Info("order rejected",
		zap.Uint64("client_id", order.ClientID),
		zap.String("symbol", order.Symbol),
		zap.String("reason", reason),
	)
	e.b.Publish("order.rejected", &events.OrderRejectedEvent{
		Header:       events.Header{Type: events.TypeOrderRejected, TimestampNs: e.nowNs()},
		ClientID:     order.ClientID,
		Symbol:       order.Symbol,
		RejectReason: reason,
	})
}

// handleSubmitTimeout enters the Unknown sub-state and retries a
// query-by-client_id with exponential backoff. If the query never resolves
// the order, order.uncertain is surfaced and the symbol is halted for new
// submits until an operator (or Recover) resolves it.
func (e *Engine) handleSubmitTimeout(ctx context.Context, order *domain.Order) {
	order.Status = domain.OrderStatusUnknown
	now := e.nowNs()
	e.b.Publish("order.uncertain", &events.OrderCanceledEvent{
		Header:    events.Header{Type: events.TypeOrderCanceled, TimestampNs: now},
		ClientID:  order.ClientID,
		Symbol:    order.Symbol,
		Status:    domain.OrderStatusUnknown,
		Reason:    "submit acknowledgement timed out",
		UpdatedNs: now,
	})

	status, resolved := e.queryWithBackoff(ctx, order)
	if !resolved {
		e.surfaceUncertain(order, "submit query exhausted, order state unresolved")
		return
	}

	order.Status = status
	switch status {
	case domain.OrderStatusSubmitted, domain.OrderStatusPartiallyFilled, domain.OrderStatusFilled:
		e.tel.IncOrdersSubmitted()
		e.b.Publish("order.accepted", &events.OrderAcceptedEvent{
			Header:     events.Header{Type: events.TypeOrderAccepted, TimestampNs: e.nowNs()},
			ClientID:   order.ClientID,
			ExchangeID: order.ExchangeID,
			Symbol:     order.Symbol,
		})
	case domain.OrderStatusRejected:
		e.rejectOrder(order, "resolved rejected on post-timeout query")
	}
}

func (e *Engine) surfaceUncertain(order *domain.Order, reason string) {
	e.tel.IncOrdersUncertain()
	e.haltSymbol(order.Symbol)
	e.logger.Warn("order outcome uncertain, halting symbol",
		zap.Uint64("client_id", order.ClientID),
		zap.String("symbol", order.Symbol),
		zap.String("reason", reason),
	)
	e.b.Publish("order.uncertain", &events.OrderCanceledEvent{
		Header:    events.Header{Type: events.TypeOrderCanceled, TimestampNs: e.nowNs()},
		ClientID:  order.ClientID,
		Symbol:    order.Symbol,
		Status:    domain.OrderStatusUnknown,
		Reason:    reason,
		UpdatedNs: e.nowNs(),
	})
}

// queryWithBackoff retries exchange.Query up to QueryRetryMax times,
// doubling the delay each attempt, returning the resolved status on the
// first successful query.
func (e *Engine) queryWithBackoff(ctx context.Context, order *domain.Order) (domain.OrderStatus, bool) {
	backoff := e.cfg.QueryBackoffBase
	for attempt := 0; attempt < e.cfg.QueryRetryMax; attempt++ {
		if attempt > 0 {
			if e.clock != nil {
				e.clock.Sleep(backoff)
			}
			backoff *= 2
		}

		queryCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
		status, err := e.exchange.Query(queryCtx, order.ClientID, order.ExchangeID)
		cancel()
		if err == nil {
			return status, true
		}
	}
	return 0, false
}

// Cancel implements the cancellation protocol.
func (e *Engine) Cancel(ctx context.Context, clientID uint64) error {
	order := e.cache.GetOrder(clientID)
	if order == nil {
		return ErrUnknownOrder
	}
	if order.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}

	now := e.nowNs()
	order.Status = domain.OrderStatusCancelPending
	e.b.Publish("order.cancel_requested", &events.OrderCanceledEvent{
		Header:    events.Header{Type: events.TypeOrderCanceled, TimestampNs: now},
		ClientID:  clientID,
		Symbol:    order.Symbol,
		Status:    domain.OrderStatusCancelPending,
		UpdatedNs: now,
	})

	cancelCtx, cancel := context.WithTimeout(ctx, e.cfg.CancelTimeout)
	defer cancel()

	err := e.exchange.Cancel(cancelCtx, order.ExchangeID)
	switch {
	case err == nil:
		e.finalizeCancel(order)
		return nil
	case isTimeoutErr(cancelCtx, err):
		return e.handleCancelTimeout(ctx, order)
	default:
		return NewError(KindTransient, "cancel failed", err)
	}
}

func (e *Engine) finalizeCancel(order *domain.Order) {
	if order.Status.IsTerminal() {
		// A fill landed while the cancel was in flight (stream.go applied
		// it concurrently); the order is already Filled or otherwise
		// terminal and that must win. Publishing a cancel here would
		// overwrite a terminal state, violating its immutability.
		return
	}
	now := e.nowNs()
	order.Status = domain.OrderStatusCanceled
	order.UpdatedNs = now
	e.tel.IncOrdersCanceled()
	e.b.Publish("order.canceled", &events.OrderCanceledEvent{
		Header:    events.Header{Type: events.TypeOrderCanceled, TimestampNs: now},
		ClientID:  order.ClientID,
		Symbol:    order.Symbol,
		Status:    domain.OrderStatusCanceled,
		UpdatedNs: now,
	})
}

// handleCancelTimeout retries the same query-by-client_id backoff as
// submission; a fill discovered mid-flight wins the race against the
// cancel.
func (e *Engine) handleCancelTimeout(ctx context.Context, order *domain.Order) error {
	status, resolved := e.queryWithBackoff(ctx, order)
	if !resolved {
		e.surfaceUncertain(order, "cancel query exhausted, order state unresolved")
		return NewError(KindUncertain, "cancel outcome unresolved", nil)
	}

	switch status {
	case domain.OrderStatusCanceled:
		e.finalizeCancel(order)
	default:
		// Filled or PartiallyFilled: the cancel lost the race. The fill
		// itself arrives with full detail (price, qty) through the
		// exchange event stream (stream.go); this just reflects the
		// resolved status so Cache isn't left showing CancelPending.
		order.Status = status
	}
	return nil
}
