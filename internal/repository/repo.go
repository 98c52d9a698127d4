package repository

import (
	"context"

	"station-system/internal/domain"
	"station-system/internal/outbox"
)

// Tx is the read/write set of one transaction. Writes are conditional on the
// Version of the document that was read; a lost race surfaces as
// domain.ErrConflict from the write or from the commit.
type Tx interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	InsertOrder(ctx context.Context, o domain.Order) error
	UpdateOrder(ctx context.Context, o domain.Order) error
	DeleteOrder(ctx context.Context, o domain.Order) error

	// GetInventory reads every requested ingredient; a missing one is ErrNotFound.
	GetInventory(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error)
	UpdateInventory(ctx context.Context, item domain.InventoryItem) error

	AppendStatus(ctx context.Context, c domain.StatusChange) error
	Enqueue(ctx context.Context, ev outbox.Event) error
}

type Transactor interface {
	// InTx runs fn in a single transaction and commits when fn returns nil.
	// Nothing fn wrote is visible to others unless the commit succeeds.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Orders interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListActiveOrders(ctx context.Context) ([]domain.Order, error)
	Timeline(ctx context.Context, id string, limit, offset int) ([]domain.StatusChange, error)
}

// Ledger is the read side of the inventory.
type Ledger interface {
	InventoryItem(ctx context.Context, id string) (domain.InventoryItem, error)
	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
}

type Catalog interface {
	MenuItem(ctx context.Context, name string) (domain.MenuItem, error)
}

type Tables interface {
	OccupyTable(ctx context.Context, number int) error
	ReleaseTable(ctx context.Context, number int) error
}

// Changes signals that the order collection changed. Signals coalesce.
type Changes interface {
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

type Store interface {
	Transactor
	Orders
	Ledger
	Catalog
	Tables
	Changes
	outbox.Store
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
