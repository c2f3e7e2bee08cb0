package execution

import (
	"context"
	"fmt"
	"hash/crc32"

	"go.uber.org/zap"

	"github.com/zigquant/engine/internal/cache"
	"github.com/zigquant/engine/internal/checkpoint"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/ports"
)

// ReasonOrphanRecovered marks a Canceled order whose cancellation was
// decided by Recover rather than acknowledged by the exchange: an order
// left Pending with no ExchangeID at crash time, so the venue never saw
// it and there is nothing to reconcile against.
const ReasonOrphanRecovered = "OrphanRecovered"

// RecoveryReport summarizes a boot/crash-restart recovery, published as
// system.recovered once recovery completes.
type RecoveryReport struct {
	RestoredOrders  int
	ReplayedIntents int
	Reconciled      int
	OrphansCanceled int
}

// Recover loads the last snapshot, restores the Cache, replays any order
// intents appended after that snapshot, then queries the exchange for
// every non-terminal order to reconcile status,
// fills, and exchange IDs. Orphan-pending orders — persisted locally but
// never acknowledged by the exchange — are canceled if CancelOrphanOrders
// is set. Safe to call with a nil store (no-op) for tests that don't
// exercise durability.
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if e.store == nil {
		return report, nil
	}

	snap, found, err := e.store.LoadLatest(ctx)
	if err != nil {
		return report, NewError(KindFatal, "load snapshot", err)
	}
	if found {
		cpSnap, err := checkpoint.Decode(snap.Bytes)
		if err != nil {
			return report, NewError(KindFatal, "decode snapshot", err)
		}
		e.cache.Restore(cache.Snapshot{
			Orders:    cpSnap.Orders,
			Positions: cpSnap.Positions,
			Accounts:  []domain.Account{cpSnap.Account},
		})
		report.RestoredOrders = len(cpSnap.Orders)
	}

	payloads, err := e.store.ReplaySince(ctx, 0)
	if err != nil {
		return report, NewError(KindFatal, "replay event log", err)
	}
	for payload := range payloads {
		order, err := decodeOrder(payload)
		if err != nil {
			e.tel.IncInvariantViolation()
			continue
		}
		if existing := e.cache.GetOrder(order.ClientID); existing != nil {
			continue
		}
		e.cache.TrackPending(order)
		report.ReplayedIntents++
	}

	for _, order := range e.cache.OpenOrders() {
		status, err := e.exchange.Query(ctx, order.ClientID, order.ExchangeID)
		if err != nil {
			if order.Status == domain.OrderStatusPending && order.ExchangeID == "" && e.cfg.CancelOrphanOrders {
				now := e.nowNs()
				order.Status = domain.OrderStatusCanceled
				order.UpdatedNs = now
				report.OrphansCanceled++
				e.b.Publish("order.canceled", &events.OrderCanceledEvent{
					Header:    events.Header{Type: events.TypeOrderCanceled, TimestampNs: now},
					ClientID:  order.ClientID,
					Symbol:    order.Symbol,
					Status:    domain.OrderStatusCanceled,
					Reason:    ReasonOrphanRecovered,
					UpdatedNs: now,
				})
			}
			continue
		}
		order.Status = status
		report.Reconciled++
	}

	e.logger.Info("recovery complete",
		zap.Int("restored_orders", report.RestoredOrders),
		zap.Int("replayed_intents", report.ReplayedIntents),
		zap.Int("reconciled", report.Reconciled),
		zap.Int("orphans_canceled", report.OrphansCanceled),
	)
	e.b.Publish("system.recovered", &events.ConnectionStateEvent{
		Header:    events.Header{Type: events.TypeConnectionState, TimestampNs: e.nowNs()},
		Connected: true,
		Detail:    recoverySummary(report),
	})
	return report, nil
}

func recoverySummary(r RecoveryReport) string {
	return fmt.Sprintf("restored_orders=%d replayed_intents=%d reconciled=%d orphans_canceled=%d",
		r.RestoredOrders, r.ReplayedIntents, r.Reconciled, r.OrphansCanceled)
}

// Checkpoint builds a checkpoint.Snapshot from the current Cache state and
// persists it via the StateStore, the counterpart write-side of Recover.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	snap := e.cache.Snapshot()
	var account domain.Account
	if len(snap.Accounts) > 0 {
		account = snap.Accounts[0]
	}

	bytesOut, err := checkpoint.Encode(checkpoint.Snapshot{
		TimestampNs: e.nowNs(),
		Account:     account,
		Positions:   snap.Positions,
		Orders:      snap.Orders,
	})
	if err != nil {
		return NewError(KindInvariantViolation, "encode checkpoint", err)
	}

	return e.store.SaveSnapshot(ctx, ports.Snapshot{
		Bytes:    bytesOut,
		Checksum: crc32.ChecksumIEEE(bytesOut),
	})
}
