package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"station-system/internal/common/logger"
	"station-system/internal/common/mq"
	"station-system/internal/domain"
	stationsvc "station-system/internal/microservices/station/service"
	"station-system/internal/microservices/tracker/models"
	"station-system/internal/repository"
)

type FeedStore interface {
	repository.Orders
	repository.Changes
}

// Feed projects active orders onto per-station views. It never writes.
type Feed struct {
	store     FeedStore
	catalog   repository.Catalog
	part      *stationsvc.Partitioner
	publisher mq.Publisher
	log       *logger.Logger
	now       func() time.Time
}

func NewFeed(store FeedStore, catalog repository.Catalog, routing domain.Routing, publisher mq.Publisher, log *logger.Logger) *Feed {
	if publisher == nil {
		publisher = mq.Nop{}
	}
	return &Feed{
		store:     store,
		catalog:   catalog,
		part:      stationsvc.NewPartitioner(routing),
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot returns the placed and preparing orders that still have work for st.
func (f *Feed) Snapshot(ctx context.Context, st domain.Station) (models.View, error) {
	views, err := f.snapshots(ctx, []domain.Station{st})
	if err != nil {
		return models.View{}, err
	}
	return views[st], nil
}

func (f *Feed) snapshots(ctx context.Context, stations []domain.Station) (map[domain.Station]models.View, error) {
	orders, err := f.store.ListActiveOrders(ctx)
	if err != nil {
		return nil, err
	}
	menu, err := f.menuFor(ctx, orders)
	if err != nil {
		return nil, err
	}

	now := f.now()
	out := make(map[domain.Station]models.View, len(stations))
	for _, st := range stations {
		v := models.View{Station: st, Orders: []models.StationOrder{}, GeneratedAt: now}
		for _, o := range orders {
			pending := f.part.PendingItems(o, st, menu)
			if len(pending) == 0 {
				continue
			}
			prepared := append([]string{}, o.Prepared[st]...)
			v.Orders = append(v.Orders, models.StationOrder{
				OrderID:     o.ID,
				Status:      o.Status,
				TableNumber: o.TableNumber,
				Pending:     pending,
				Prepared:    prepared,
				CreatedAt:   o.CreatedAt,
			})
		}
		out[st] = v
	}
	return out, nil
}

// menuFor resolves every item named by orders. Unknown items are left out
// and their lines are skipped by the partitioner.
func (f *Feed) menuFor(ctx context.Context, orders []domain.Order) (stationsvc.Menu, error) {
	menu := make(stationsvc.Menu)
	missing := make(map[string]bool)
	for _, o := range orders {
		for _, name := range o.ItemNames() {
			if _, ok := menu[name]; ok || missing[name] {
				continue
			}
			it, err := f.catalog.MenuItem(ctx, name)
			if errors.Is(err, domain.ErrNotFound) {
				missing[name] = true
				f.log.Warn("feed_unknown_menu_item", map[string]any{"order_id": o.ID, "item": name})
				continue
			}
			if err != nil {
				return nil, err
			}
			menu[name] = it
		}
	}
	return menu, nil
}

// Watch emits the current view of st and then a fresh one after every change
// to the order collection. The channel closes when ctx is done.
func (f *Feed) Watch(ctx context.Context, st domain.Station) (<-chan models.View, error) {
	ctx, cancel := context.WithCancel(ctx)
	changes, err := f.store.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	first, err := f.Snapshot(ctx, st)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan models.View, 1)
	out <- first
	go func() {
		defer cancel()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				v, err := f.Snapshot(ctx, st)
				if err != nil {
					if ctx.Err() == nil {
						f.log.Error("feed_snapshot_failed", err, map[string]any{"station": st})
					}
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// RunSignals publishes a station.new_order message each time an order enters
// a station's feed. Orders already present at start are not announced.
func (f *Feed) RunSignals(ctx context.Context, stations []domain.Station) error {
	changes, err := f.store.Subscribe(ctx)
	if err != nil {
		return err
	}
	known := make(map[domain.Station]map[string]struct{}, len(stations))
	views, err := f.snapshots(ctx, stations)
	if err != nil {
		return err
	}
	for st, v := range views {
		known[st] = idSet(v)
	}
	f.log.Info("feed_signals_started", map[string]any{"stations": stations})

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			views, err := f.snapshots(ctx, stations)
			if err != nil {
				f.log.Error("feed_snapshot_failed", err, nil)
				continue
			}
			for st, v := range views {
				f.announce(ctx, st, v, known[st])
				known[st] = idSet(v)
			}
		}
	}
}

func (f *Feed) announce(ctx context.Context, st domain.Station, v models.View, known map[string]struct{}) {
	for _, o := range v.Orders {
		if _, ok := known[o.OrderID]; ok {
			continue
		}
		names := make([]string, 0, len(o.Pending))
		for _, l := range o.Pending {
			names = append(names, l.Name)
		}
		body, err := json.Marshal(domain.NewStationOrderEvent{
			Station: st, OrderID: o.OrderID, Items: names, Timestamp: v.GeneratedAt,
		})
		if err != nil {
			continue
		}
		msg := mq.Message{
			ID:   "new-order-" + string(st) + "-" + o.OrderID,
			Type: domain.EventNewStationOrder,
			Key:  o.OrderID,
			Body: body,
		}
		if err := f.publisher.Publish(ctx, msg); err != nil {
			f.log.Error("new_order_signal_failed", err, map[string]any{"station": st, "order_id": o.OrderID})
			continue
		}
		f.log.Info("new_order_signal", map[string]any{"station": st, "order_id": o.OrderID})
	}
}

func idSet(v models.View) map[string]struct{} {
	out := make(map[string]struct{}, len(v.Orders))
	for _, o := range v.Orders {
		out[o.OrderID] = struct{}{}
	}
	return out
}
