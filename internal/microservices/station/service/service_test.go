package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"station-system/internal/common/logger"
	"station-system/internal/domain"
	"station-system/internal/outbox"
	"station-system/internal/repository"
)

func newTestService(t *testing.T) (*StationService, *repository.Memory) {
	t.Helper()
	m := repository.NewMemory()
	repository.SeedMemory(m)
	s := NewStationService(m, m, domain.DefaultRouting(), Policy{
		MaxRetries:   20,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	}, logger.Nop())
	return s, m
}

func placeOrder(t *testing.T, m *repository.Memory, id string, table *int, lines ...domain.OrderLine) {
	t.Helper()
	err := m.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertOrder(ctx, domain.Order{ID: id, Status: domain.StatusPlaced, Items: lines, TableNumber: table})
	})
	if err != nil {
		t.Fatalf("place order %s: %v", id, err)
	}
}

func line(name string, qty int) domain.OrderLine {
	return domain.OrderLine{Name: name, Quantity: qty, UnitPrice: decimal.NewFromInt(1)}
}

func stock(t *testing.T, m *repository.Memory, id string) decimal.Decimal {
	t.Helper()
	it, err := m.InventoryItem(context.Background(), id)
	if err != nil {
		t.Fatalf("inventory %s: %v", id, err)
	}
	return it.Stock
}

func eventsOfType(m *repository.Memory, typ string) []outbox.Event {
	var out []outbox.Event
	for _, e := range m.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestMarkReady_Conservation(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Cappuccino", 2))

	before, _ := m.ListInventory(ctx)
	res, err := s.MarkReady(ctx, "o-1", domain.Barista)
	if err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if !res.Changed || !res.OrderNowServed || res.Status != domain.StatusServed {
		t.Fatalf("result=%+v", res)
	}
	tl, _ := m.Timeline(ctx, "o-1", 0, 0)
	if len(tl) != 2 || tl[0].Status != domain.StatusPreparing || tl[1].Status != domain.StatusServed {
		t.Fatalf("placed order served in one call, timeline=%+v", tl)
	}

	want := map[string]decimal.Decimal{"coffee_beans": decimal.NewFromInt(36), "milk": decimal.NewFromInt(240)}
	for _, it := range before {
		got := stock(t, m, it.ID)
		diff := it.Stock.Sub(got)
		if !diff.Equal(want[it.ID]) {
			t.Errorf("%s reduced by %s, want %s", it.ID, diff, want[it.ID])
		}
	}
}

func TestMarkReady_IdempotentSequential(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Cappuccino", 1), line("Croissant", 1))

	first, err := s.MarkReady(ctx, "o-1", domain.Barista)
	if err != nil || !first.Changed {
		t.Fatalf("first: %+v %v", first, err)
	}
	second, err := s.MarkReady(ctx, "o-1", domain.Barista)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Changed || len(second.Prepared) != 0 {
		t.Fatalf("second call changed state: %+v", second)
	}

	if got := stock(t, m, "coffee_beans"); !got.Equal(decimal.NewFromInt(5000 - 18)) {
		t.Fatalf("beans=%s", got)
	}
	o, _ := m.GetOrder(ctx, "o-1")
	if len(o.Prepared[domain.Barista]) != 1 {
		t.Fatalf("prepared=%v", o.Prepared)
	}
}

func TestMarkReady_IdempotentConcurrent(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Cappuccino", 1))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.MarkReady(ctx, "o-1", domain.Barista)
			if err != nil {
				t.Errorf("MarkReady: %v", err)
				return
			}
			if res.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if changed != 1 {
		t.Fatalf("%d calls changed state, want 1", changed)
	}
	if got := stock(t, m, "milk"); !got.Equal(decimal.NewFromInt(20000 - 120)) {
		t.Fatalf("milk=%s", got)
	}
	if n := len(eventsOfType(m, domain.EventOrderServed)); n != 1 {
		t.Fatalf("served events=%d", n)
	}
}

func TestMarkReady_SharedIngredientNoLostUpdate(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-cap", nil, line("Cappuccino", 1))
	placeOrder(t, m, "o-lat", nil, line("Latte", 2))

	var wg sync.WaitGroup
	for _, id := range []string{"o-cap", "o-lat"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.MarkReady(ctx, id, domain.Barista); err != nil {
				t.Errorf("MarkReady %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if got, want := stock(t, m, "coffee_beans"), decimal.NewFromInt(5000-18-36); !got.Equal(want) {
		t.Fatalf("beans=%s, want %s", got, want)
	}
	if got, want := stock(t, m, "milk"), decimal.NewFromInt(20000-120-400); !got.Equal(want) {
		t.Fatalf("milk=%s, want %s", got, want)
	}
}

func TestMarkReady_SplitStationCompletion(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Club Sandwich", 1), line("Green Tea", 1))

	res, err := s.MarkReady(ctx, "o-1", domain.Kitchen)
	if err != nil {
		t.Fatalf("kitchen: %v", err)
	}
	if res.OrderNowServed || res.Status != domain.StatusPreparing {
		t.Fatalf("after kitchen: %+v", res)
	}
	o, _ := m.GetOrder(ctx, "o-1")
	if !o.IsPrepared(domain.Kitchen, "Club Sandwich") || o.IsPrepared(domain.Kitchen, "Green Tea") {
		t.Fatalf("prepared=%v", o.Prepared)
	}

	res, err = s.MarkReady(ctx, "o-1", domain.Barista)
	if err != nil {
		t.Fatalf("barista: %v", err)
	}
	if !res.OrderNowServed {
		t.Fatalf("after barista: %+v", res)
	}
	o, _ = m.GetOrder(ctx, "o-1")
	if o.Status != domain.StatusServed || !o.AllPrepared() {
		t.Fatalf("order=%+v", o)
	}

	tl, _ := m.Timeline(ctx, "o-1", 0, 0)
	var statuses []domain.OrderStatus
	for _, c := range tl {
		statuses = append(statuses, c.Status)
	}
	if len(statuses) != 2 || statuses[0] != domain.StatusPreparing || statuses[1] != domain.StatusServed {
		t.Fatalf("timeline=%v", statuses)
	}
}

func TestMarkReady_ConcurrentStationsServeOnce(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Croissant", 1), line("Latte", 1))

	var wg sync.WaitGroup
	for _, st := range domain.Stations {
		wg.Add(1)
		go func(st domain.Station) {
			defer wg.Done()
			if _, err := s.MarkReady(ctx, "o-1", st); err != nil {
				t.Errorf("MarkReady %s: %v", st, err)
			}
		}(st)
	}
	wg.Wait()

	o, _ := m.GetOrder(ctx, "o-1")
	if o.Status != domain.StatusServed {
		t.Fatalf("status=%s", o.Status)
	}
	if n := len(eventsOfType(m, domain.EventOrderServed)); n != 1 {
		t.Fatalf("served events=%d", n)
	}
	if got := stock(t, m, "butter"); !got.Equal(decimal.NewFromInt(2000 - 10)) {
		t.Fatalf("butter=%s", got)
	}
}

func TestMarkReady_Errors(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-unknown", nil, line("Mystery Box", 1))

	if _, err := s.MarkReady(ctx, "missing", domain.Kitchen); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing order err=%v", err)
	}
	if _, err := s.MarkReady(ctx, "o-unknown", domain.Kitchen); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown menu item err=%v", err)
	}
}

func TestMarkReady_NothingForStation(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Latte", 1))

	res, err := s.MarkReady(ctx, "o-1", domain.Kitchen)
	if err != nil || res.Changed {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	o, _ := m.GetOrder(ctx, "o-1")
	if o.Status != domain.StatusPlaced || o.Version != 1 {
		t.Fatalf("order touched: %+v", o)
	}
}

func TestMarkReady_NegativeStock(t *testing.T) {
	t.Run("allowed and reported", func(t *testing.T) {
		s, m := newTestService(t)
		ctx := context.Background()
		placeOrder(t, m, "o-1", nil, line("Croissant", 41))

		res, err := s.MarkReady(ctx, "o-1", domain.Kitchen)
		if err != nil {
			t.Fatalf("MarkReady: %v", err)
		}
		if got := stock(t, m, "croissant_dough"); !got.Equal(decimal.NewFromInt(-1)) {
			t.Fatalf("dough=%s", got)
		}
		var negative bool
		for _, a := range res.StockAlerts {
			if a.IngredientID == "croissant_dough" && a.Negative {
				negative = true
			}
		}
		if !negative {
			t.Fatalf("alerts=%+v", res.StockAlerts)
		}
		if n := len(eventsOfType(m, domain.EventStockLow)); n != 1 {
			t.Fatalf("stock_low events=%d", n)
		}
	})

	t.Run("rejected by policy", func(t *testing.T) {
		s, m := newTestService(t)
		s.policy.RejectNegativeStock = true
		ctx := context.Background()
		placeOrder(t, m, "o-1", nil, line("Croissant", 41))

		if _, err := s.MarkReady(ctx, "o-1", domain.Kitchen); !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("err=%v", err)
		}
		if got := stock(t, m, "croissant_dough"); !got.Equal(decimal.NewFromInt(40)) {
			t.Fatalf("dough=%s", got)
		}
		if got := stock(t, m, "butter"); !got.Equal(decimal.NewFromInt(2000)) {
			t.Fatalf("butter=%s", got)
		}
		o, _ := m.GetOrder(ctx, "o-1")
		if o.AnyPrepared() || o.Status != domain.StatusPlaced {
			t.Fatalf("order=%+v", o)
		}
	})
}

func TestMarkItemsReady(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Croissant", 1), line("Club Sandwich", 1), line("Latte", 1))

	if _, err := s.MarkItemsReady(ctx, "o-1", domain.Kitchen, []string{"Latte"}); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("foreign item err=%v", err)
	}
	if _, err := s.MarkItemsReady(ctx, "o-1", domain.Kitchen, []string{"Bagel"}); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("absent item err=%v", err)
	}

	res, err := s.MarkItemsReady(ctx, "o-1", domain.Kitchen, []string{"Croissant"})
	if err != nil {
		t.Fatalf("MarkItemsReady: %v", err)
	}
	if len(res.Prepared) != 1 || res.Prepared[0] != "Croissant" || res.OrderNowServed {
		t.Fatalf("res=%+v", res)
	}
	if got := stock(t, m, "bread"); !got.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("bread debited early: %s", got)
	}

	res, err = s.MarkItemsReady(ctx, "o-1", domain.Kitchen, []string{"Croissant"})
	if err != nil || res.Changed {
		t.Fatalf("repeat: %+v %v", res, err)
	}

	res, err = s.MarkReady(ctx, "o-1", domain.Kitchen)
	if err != nil || len(res.Prepared) != 1 || res.Prepared[0] != "Club Sandwich" {
		t.Fatalf("rest: %+v %v", res, err)
	}
}

type conflictStore struct {
	*repository.Memory
	calls int
}

func (c *conflictStore) InTx(context.Context, func(context.Context, repository.Tx) error) error {
	c.calls++
	return domain.ErrConflict
}

func TestMarkReady_RetriesExhausted(t *testing.T) {
	m := repository.NewMemory()
	store := &conflictStore{Memory: m}
	s := NewStationService(store, m, domain.DefaultRouting(), Policy{
		MaxRetries: 3, RetryInitial: time.Millisecond, RetryMax: time.Millisecond,
	}, logger.Nop())

	_, err := s.MarkReady(context.Background(), "o-1", domain.Barista)
	if !errors.Is(err, domain.ErrRetriesExhausted) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err=%v", err)
	}
	if store.calls != 4 {
		t.Fatalf("attempts=%d, want 4", store.calls)
	}
}

func TestStartPreparing(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Latte", 1))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for _, st := range domain.Stations {
		wg.Add(1)
		go func(st domain.Station) {
			defer wg.Done()
			ok, err := s.StartPreparing(ctx, "o-1", st)
			if err != nil {
				t.Errorf("StartPreparing: %v", err)
			}
			if ok {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}(st)
	}
	wg.Wait()

	if changed != 1 {
		t.Fatalf("transitions=%d", changed)
	}
	o, _ := m.GetOrder(ctx, "o-1")
	if o.Status != domain.StatusPreparing {
		t.Fatalf("status=%s", o.Status)
	}
	if _, err := s.StartPreparing(ctx, "missing", domain.Kitchen); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing err=%v", err)
	}
}

func TestCancel(t *testing.T) {
	t.Run("guarded once an item is prepared", func(t *testing.T) {
		s, m := newTestService(t)
		ctx := context.Background()
		placeOrder(t, m, "o-1", nil, line("Club Sandwich", 1), line("Latte", 1))
		if _, err := s.MarkReady(ctx, "o-1", domain.Kitchen); err != nil {
			t.Fatalf("MarkReady: %v", err)
		}
		if err := s.Cancel(ctx, "o-1", "kitchen"); !errors.Is(err, domain.ErrPreconditionFailed) {
			t.Fatalf("err=%v", err)
		}
		if _, err := m.GetOrder(ctx, "o-1"); err != nil {
			t.Fatalf("order deleted: %v", err)
		}
	})

	t.Run("guarded once preparing", func(t *testing.T) {
		s, m := newTestService(t)
		ctx := context.Background()
		placeOrder(t, m, "o-1", nil, line("Latte", 1))
		_, _ = s.StartPreparing(ctx, "o-1", domain.Barista)
		if err := s.Cancel(ctx, "o-1", "barista"); !errors.Is(err, domain.ErrPreconditionFailed) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("releases table and deletes", func(t *testing.T) {
		s, m := newTestService(t)
		ctx := context.Background()
		table := 5
		_ = m.OccupyTable(ctx, table)
		placeOrder(t, m, "o-1", &table, line("Latte", 1))

		if err := s.Cancel(ctx, "o-1", "barista"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if m.TableOccupied(table) {
			t.Fatal("table still occupied")
		}
		if _, err := m.GetOrder(ctx, "o-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetOrder err=%v", err)
		}
		if n := len(eventsOfType(m, domain.EventOrderCancelled)); n != 1 {
			t.Fatalf("cancelled events=%d", n)
		}
		if err := s.Cancel(ctx, "o-1", "barista"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("second cancel err=%v", err)
		}
	})

	t.Run("start racing cancel keeps the table", func(t *testing.T) {
		_, m := newTestService(t)
		ctx := context.Background()
		table := 7
		_ = m.OccupyTable(ctx, table)
		placeOrder(t, m, "o-1", &table, line("Latte", 1))

		starter := NewStationService(m, m, domain.DefaultRouting(), Policy{MaxRetries: 1}, logger.Nop())
		racing := &interleavingStore{Memory: m, between: func() {
			if _, err := starter.StartPreparing(ctx, "o-1", domain.Barista); err != nil {
				t.Errorf("StartPreparing: %v", err)
			}
		}}
		s := NewStationService(racing, m, domain.DefaultRouting(), Policy{
			MaxRetries: 5, RetryInitial: time.Millisecond, RetryMax: time.Millisecond,
		}, logger.Nop())

		if err := s.Cancel(ctx, "o-1", "barista"); !errors.Is(err, domain.ErrPreconditionFailed) {
			t.Fatalf("err=%v", err)
		}
		if !m.TableOccupied(table) {
			t.Fatal("table freed for an order still in progress")
		}
		o, err := m.GetOrder(ctx, "o-1")
		if err != nil || o.Status != domain.StatusPreparing {
			t.Fatalf("order=%+v err=%v", o, err)
		}
	})
}

// interleavingStore runs between once, after the first transaction body
// finished and before it commits.
type interleavingStore struct {
	*repository.Memory
	once    sync.Once
	between func()
}

func (s *interleavingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.Memory.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		s.once.Do(s.between)
		return nil
	})
}

func TestComplete(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()
	placeOrder(t, m, "o-1", nil, line("Latte", 1))

	if _, err := s.Complete(ctx, "o-1", "cashier"); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("complete placed err=%v", err)
	}
	if _, err := s.MarkReady(ctx, "o-1", domain.Barista); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	ok, err := s.Complete(ctx, "o-1", "cashier")
	if err != nil || !ok {
		t.Fatalf("complete: %v %v", ok, err)
	}
	ok, err = s.Complete(ctx, "o-1", "cashier")
	if err != nil || ok {
		t.Fatalf("second complete: %v %v", ok, err)
	}
	res, err := s.MarkReady(ctx, "o-1", domain.Barista)
	if err != nil || res.Changed || res.Status != domain.StatusCompleted {
		t.Fatalf("mark ready after completion: %+v %v", res, err)
	}
}
