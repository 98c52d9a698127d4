//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"station-system/internal/domain"
	"station-system/internal/outbox"
)

func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("stations"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	p := NewPostgres(pool)
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, it := range DemoMenu() {
		if err := p.PutMenuItem(ctx, it); err != nil {
			t.Fatalf("menu: %v", err)
		}
	}
	for _, it := range DemoInventory() {
		if err := p.PutInventoryItem(ctx, it); err != nil {
			t.Fatalf("inventory: %v", err)
		}
	}
	return p
}

func TestPostgres_OrderRoundTrip(t *testing.T) {
	p := startPostgres(t)
	ctx := context.Background()
	table := 4

	err := p.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertOrder(ctx, domain.Order{
			ID:          "o-1",
			Status:      domain.StatusPlaced,
			TableNumber: &table,
			Items: []domain.OrderLine{
				{Name: "Cappuccino", Quantity: 2, UnitPrice: decimal.RequireFromString("3.50"), Customizations: []string{"oat milk"}},
				{Name: "Croissant", Quantity: 1, UnitPrice: decimal.RequireFromString("2.20")},
			},
		})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = p.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, "o-1")
		if err != nil {
			return err
		}
		o = o.WithPrepared(domain.Kitchen, []string{"Croissant"})
		o.Status = domain.StatusPreparing
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	o, err := p.GetOrder(ctx, "o-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.Status != domain.StatusPreparing || o.Version != 2 || *o.TableNumber != 4 {
		t.Fatalf("order=%+v", o)
	}
	if !o.IsPrepared(domain.Kitchen, "Croissant") || len(o.Items) != 2 || o.Items[0].Customizations[0] != "oat milk" {
		t.Fatalf("order=%+v", o)
	}
	active, _ := p.ListActiveOrders(ctx)
	if len(active) != 1 {
		t.Fatalf("active=%d", len(active))
	}
}

func TestPostgres_StaleVersionConflicts(t *testing.T) {
	p := startPostgres(t)
	ctx := context.Background()

	stale, _ := p.InventoryItem(ctx, "coffee_beans")
	err := p.InTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := tx.GetInventory(ctx, []string{"coffee_beans"})
		if err != nil {
			return err
		}
		it := inv["coffee_beans"]
		it.Stock = it.Stock.Sub(decimal.NewFromInt(18))
		return tx.UpdateInventory(ctx, it)
	})
	if err != nil {
		t.Fatalf("first debit: %v", err)
	}

	err = p.InTx(ctx, func(ctx context.Context, tx Tx) error {
		stale.Stock = stale.Stock.Sub(decimal.NewFromInt(18))
		return tx.UpdateInventory(ctx, stale)
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err=%v, want conflict", err)
	}

	it, _ := p.InventoryItem(ctx, "coffee_beans")
	if !it.Stock.Equal(decimal.NewFromInt(4982)) {
		t.Fatalf("stock=%s", it.Stock)
	}
}

func TestPostgres_NotifiesOnOrderChange(t *testing.T) {
	p := startPostgres(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertOrder(ctx, domain.Order{ID: "o-9", Status: domain.StatusPlaced})
		})
	}()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
	wg.Wait()
}

func TestPostgres_OutboxLease(t *testing.T) {
	p := startPostgres(t)
	ctx := context.Background()
	_ = p.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev := outboxEvent(t, ctx)
		return tx.Enqueue(ctx, ev)
	})

	first, err := p.LockBatch(ctx, "a", 10, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("lock a: %v %d", err, len(first))
	}
	second, err := p.LockBatch(ctx, "b", 10, time.Minute)
	if err != nil || len(second) != 0 {
		t.Fatalf("lock b: %v %d", err, len(second))
	}
	if err := p.MarkSent(ctx, []int64{first[0].ID}); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
}

func outboxEvent(t *testing.T, ctx context.Context) outbox.Event {
	t.Helper()
	ev, err := outbox.NewEvent(ctx, "o-1", domain.EventOrderServed, domain.OrderServedEvent{OrderID: "o-1"})
	if err != nil {
		t.Fatal(err)
	}
	return ev
}
