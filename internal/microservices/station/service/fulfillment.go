package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"station-system/internal/domain"
	"station-system/internal/outbox"
	"station-system/internal/repository"
)

// MarkReady completes every item of the order that belongs to st and is not
// prepared yet. Ingredient stock is debited, the prepared set grows and the
// order is served once every item is prepared, all in one transaction. A
// repeated call finds nothing pending and changes nothing.
//
// MarkReady also accepts a placed order whose station never called
// StartPreparing: the order passes through preparing in the same
// transaction and the timeline records both steps.
func (s *StationService) MarkReady(ctx context.Context, orderID string, st domain.Station) (Result, error) {
	return s.markReady(ctx, "mark_ready", orderID, st, nil)
}

// MarkItemsReady completes only the named items. Every name must be on the
// order and routed to st.
func (s *StationService) MarkItemsReady(ctx context.Context, orderID string, st domain.Station, names []string) (Result, error) {
	if len(names) == 0 {
		return s.MarkReady(ctx, orderID, st)
	}
	return s.markReady(ctx, "mark_items_ready", orderID, st, names)
}

func (s *StationService) markReady(ctx context.Context, op, orderID string, st domain.Station, only []string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "station."+op)
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("station", string(st)))

	var res Result
	err := s.inTx(ctx, op, orderID, func(ctx context.Context, tx repository.Tx) error {
		r, err := s.fulfill(ctx, tx, orderID, st, only)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("mark_ready_failed", err, map[string]any{"order_id": orderID, "station": st})
		return Result{}, err
	}

	span.SetAttributes(attribute.Bool("order.served", res.OrderNowServed), attribute.Int("items.prepared", len(res.Prepared)))
	if !res.Changed {
		s.log.Debug("mark_ready_noop", map[string]any{"order_id": orderID, "station": st})
		return res, nil
	}
	s.log.Info("items_prepared", map[string]any{
		"order_id": orderID, "station": st, "items": res.Prepared, "order_served": res.OrderNowServed,
	})
	for _, a := range res.StockAlerts {
		s.log.Warn("stock_low", map[string]any{
			"order_id": orderID, "ingredient_id": a.IngredientID, "stock": a.Stock.String(),
			"threshold": a.Threshold.String(), "negative": a.Negative,
		})
	}
	return res, nil
}

// fulfill is one attempt of the mark-ready transaction body. It must only
// use state read through tx so a retry starts from scratch.
func (s *StationService) fulfill(ctx context.Context, tx repository.Tx, orderID string, st domain.Station, only []string) (Result, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Status: o.Status, Prepared: []string{}}
	if !o.Status.Active() {
		return res, nil
	}

	menu, err := LoadMenu(ctx, s.catalog, o.ItemNames())
	if err != nil {
		return Result{}, err
	}
	lines, err := s.part.RelevantItems(o, st, menu)
	if err != nil {
		return Result{}, err
	}
	if only != nil {
		if lines, err = s.selectItems(o, st, menu, lines, only); err != nil {
			return Result{}, err
		}
	}
	if len(lines) == 0 {
		return res, nil
	}

	consumed, err := Consumption(lines, menu)
	if err != nil {
		return Result{}, err
	}
	alerts, err := s.debit(ctx, tx, consumed)
	if err != nil {
		return Result{}, err
	}

	names := lineNames(lines)
	old := o.Status
	o = o.WithPrepared(st, names)
	if o.Status == domain.StatusPlaced {
		o.Status = domain.StatusPreparing
	}
	if o.AllPrepared() {
		o.Status = domain.StatusServed
	}
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return Result{}, err
	}
	if err := s.recordTransitions(ctx, tx, o, old, string(st)); err != nil {
		return Result{}, err
	}
	if len(alerts) > 0 {
		if err := enqueue(ctx, tx, o.ID, domain.EventStockLow, domain.StockLowEvent{
			OrderID: o.ID, Station: st, Alerts: alerts, Timestamp: s.now(),
		}); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Changed:        true,
		OrderNowServed: o.Status == domain.StatusServed,
		Status:         o.Status,
		Prepared:       names,
		Consumed:       consumed,
		StockAlerts:    alerts,
	}, nil
}

// selectItems narrows pending lines to the requested names.
func (s *StationService) selectItems(o domain.Order, st domain.Station, menu Menu, pending []domain.OrderLine, only []string) ([]domain.OrderLine, error) {
	want := make(map[string]struct{}, len(only))
	for _, n := range only {
		item, ok := menu[n]
		if !ok {
			return nil, fmt.Errorf("item %q is not on order %s: %w", n, o.ID, domain.ErrPreconditionFailed)
		}
		if !s.part.Owns(st, item) {
			return nil, fmt.Errorf("item %q is not prepared at %s: %w", n, st, domain.ErrPreconditionFailed)
		}
		want[n] = struct{}{}
	}
	out := pending[:0:0]
	for _, l := range pending {
		if _, ok := want[l.Name]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// debit subtracts consumed quantities from the ledger. Every ingredient is
// read before any is written.
func (s *StationService) debit(ctx context.Context, tx repository.Tx, consumed map[string]decimal.Decimal) ([]domain.StockAlert, error) {
	if len(consumed) == 0 {
		return nil, nil
	}
	ids := ingredientIDs(consumed)
	inv, err := tx.GetInventory(ctx, ids)
	if err != nil {
		return nil, err
	}

	var alerts []domain.StockAlert
	for _, id := range ids {
		it := inv[id]
		it.Stock = it.Stock.Sub(consumed[id])
		negative := it.Stock.IsNegative()
		if negative && s.policy.RejectNegativeStock {
			return nil, fmt.Errorf("%s: need %s %s, have %s: %w",
				id, consumed[id].String(), it.Unit, inv[id].Stock.String(), domain.ErrInsufficientStock)
		}
		if negative || it.Stock.LessThan(it.MinThreshold) {
			alerts = append(alerts, domain.StockAlert{
				IngredientID: id, Stock: it.Stock, Threshold: it.MinThreshold, Negative: negative,
			})
		}
		if err := tx.UpdateInventory(ctx, it); err != nil {
			return nil, err
		}
	}
	return alerts, nil
}

// recordTransitions logs and publishes every status step from old to o.Status.
func (s *StationService) recordTransitions(ctx context.Context, tx repository.Tx, o domain.Order, old domain.OrderStatus, by string) error {
	var steps []domain.OrderStatus
	switch {
	case old == domain.StatusPlaced && o.Status == domain.StatusServed:
		steps = []domain.OrderStatus{domain.StatusPreparing, domain.StatusServed}
	case old != o.Status:
		steps = []domain.OrderStatus{o.Status}
	}

	from := old
	for _, to := range steps {
		if err := s.transition(ctx, tx, o, from, to, by, ""); err != nil {
			return err
		}
		from = to
	}
	if o.Status == domain.StatusServed && old != domain.StatusServed {
		return enqueue(ctx, tx, o.ID, domain.EventOrderServed, domain.OrderServedEvent{
			OrderID: o.ID, TableNumber: o.TableNumber, Timestamp: s.now(),
		})
	}
	return nil
}

func (s *StationService) transition(ctx context.Context, tx repository.Tx, o domain.Order, from, to domain.OrderStatus, by, notes string) error {
	now := s.now()
	if err := tx.AppendStatus(ctx, domain.StatusChange{
		OrderID: o.ID, Status: to, ChangedBy: by, ChangedAt: now, Notes: notes,
	}); err != nil {
		return err
	}
	return enqueue(ctx, tx, o.ID, domain.EventStatusChanged, domain.StatusChangedEvent{
		OrderID: o.ID, OldStatus: from, NewStatus: to, ChangedBy: by, Timestamp: now,
	})
}

func enqueue(ctx context.Context, tx repository.Tx, aggregateID, typ string, payload any) error {
	ev, err := outbox.NewEvent(ctx, aggregateID, typ, payload)
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, ev)
}
