package service

import (
	"context"
	"fmt"

	"station-system/internal/domain"
	"station-system/internal/repository"
)

// StartPreparing moves a placed order to preparing. It reports false when the
// order already left placed, so a second station racing the same order is a
// no-op.
func (s *StationService) StartPreparing(ctx context.Context, orderID string, st domain.Station) (bool, error) {
	var changed bool
	err := s.inTx(ctx, "start_preparing", orderID, func(ctx context.Context, tx repository.Tx) error {
		changed = false
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != domain.StatusPlaced {
			return nil
		}
		o.Status = domain.StatusPreparing
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		changed = true
		return s.transition(ctx, tx, o, domain.StatusPlaced, domain.StatusPreparing, string(st), "")
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info("order_preparing", map[string]any{"order_id": orderID, "station": st})
	}
	return changed, nil
}

// Cancel deletes a placed order nobody has prepared anything for and frees
// its table after the delete commits.
func (s *StationService) Cancel(ctx context.Context, orderID string, by string) error {
	var table *int
	err := s.inTx(ctx, "cancel", orderID, func(ctx context.Context, tx repository.Tx) error {
		table = nil
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != domain.StatusPlaced {
			return fmt.Errorf("cancel order %s in status %s: %w", o.ID, o.Status, domain.ErrPreconditionFailed)
		}
		if o.AnyPrepared() {
			return fmt.Errorf("cancel order %s with prepared items: %w", o.ID, domain.ErrPreconditionFailed)
		}
		if err := tx.DeleteOrder(ctx, o); err != nil {
			return err
		}
		table = o.TableNumber
		if err := tx.AppendStatus(ctx, domain.StatusChange{
			OrderID: o.ID, Status: domain.StatusCancelled, ChangedBy: by, ChangedAt: s.now(),
		}); err != nil {
			return err
		}
		return enqueue(ctx, tx, o.ID, domain.EventOrderCancelled, domain.OrderCancelledEvent{
			OrderID: o.ID, TableNumber: o.TableNumber, Timestamp: s.now(),
		})
	})
	if err != nil {
		return err
	}
	s.log.Info("order_cancelled", map[string]any{"order_id": orderID, "by": by, "table": table})

	// The table is freed only once the delete is committed.
	if table != nil {
		if err := s.store.ReleaseTable(context.WithoutCancel(ctx), *table); err != nil {
			s.log.Error("release_table_failed", err, map[string]any{"order_id": orderID, "table": *table})
			return fmt.Errorf("order %s cancelled, release table %d: %w", orderID, *table, err)
		}
	}
	return nil
}

// Complete finalizes a served order. Completing twice is a no-op.
func (s *StationService) Complete(ctx context.Context, orderID string, by string) (bool, error) {
	var changed bool
	err := s.inTx(ctx, "complete", orderID, func(ctx context.Context, tx repository.Tx) error {
		changed = false
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		switch o.Status {
		case domain.StatusCompleted:
			return nil
		case domain.StatusServed:
		default:
			return fmt.Errorf("complete order %s in status %s: %w", o.ID, o.Status, domain.ErrPreconditionFailed)
		}
		o.Status = domain.StatusCompleted
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		changed = true
		return s.transition(ctx, tx, o, domain.StatusServed, domain.StatusCompleted, by, "")
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info("order_completed", map[string]any{"order_id": orderID, "by": by})
	}
	return changed, nil
}
