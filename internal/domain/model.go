package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPlaced    OrderStatus = "placed"
	StatusPreparing OrderStatus = "preparing"
	StatusServed    OrderStatus = "served"
	StatusCompleted OrderStatus = "completed"
	// StatusCancelled only appears in timelines; cancelled orders are deleted.
	StatusCancelled OrderStatus = "cancelled"
)

// Active reports whether stations still work on orders in this status.
func (s OrderStatus) Active() bool { return s == StatusPlaced || s == StatusPreparing }

type OrderLine struct {
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Customizations []string        `json:"customizations,omitempty"`
}

type Order struct {
	ID          string               `json:"id"`
	Items       []OrderLine          `json:"items"`
	TableNumber *int                 `json:"table_number,omitempty"`
	Status      OrderStatus          `json:"status"`
	Prepared    map[Station][]string `json:"prepared"`
	Version     int64                `json:"version"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type RecipeEntry struct {
	IngredientID    string          `json:"ingredient_id"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
}

type MenuItem struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Recipe   []RecipeEntry   `json:"recipe"`
}

type InventoryItem struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Stock        decimal.Decimal `json:"stock"`
	Unit         string          `json:"unit"`
	MinThreshold decimal.Decimal `json:"min_threshold"`
	Version      int64           `json:"version"`
}

// StatusChange is one row of an order's timeline.
type StatusChange struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	ChangedBy string      `json:"changed_by"`
	ChangedAt time.Time   `json:"changed_at"`
	Notes     string      `json:"notes,omitempty"`
}
