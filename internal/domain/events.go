package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced     = "order.placed"
	EventStatusChanged   = "order.status_changed"
	EventOrderServed     = "order.served"
	EventOrderCancelled  = "order.cancelled"
	EventStockLow        = "inventory.stock_low"
	EventNewStationOrder = "station.new_order"
)

type OrderPlacedEvent struct {
	OrderID     string          `json:"order_id"`
	TableNumber *int            `json:"table_number,omitempty"`
	Items       []OrderLine     `json:"items"`
	Total       decimal.Decimal `json:"total"`
	Timestamp   time.Time       `json:"timestamp"`
}

type StatusChangedEvent struct {
	OrderID   string      `json:"order_id"`
	OldStatus OrderStatus `json:"old_status"`
	NewStatus OrderStatus `json:"new_status"`
	ChangedBy string      `json:"changed_by"`
	Timestamp time.Time   `json:"timestamp"`
}

type OrderServedEvent struct {
	OrderID     string    `json:"order_id"`
	TableNumber *int      `json:"table_number,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type OrderCancelledEvent struct {
	OrderID     string    `json:"order_id"`
	TableNumber *int      `json:"table_number,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// StockAlert flags an ingredient that dropped below its threshold or below
// zero after a debit.
type StockAlert struct {
	IngredientID string          `json:"ingredient_id"`
	Stock        decimal.Decimal `json:"stock"`
	Threshold    decimal.Decimal `json:"threshold"`
	Negative     bool            `json:"negative"`
}

type StockLowEvent struct {
	OrderID   string       `json:"order_id"`
	Station   Station      `json:"station"`
	Alerts    []StockAlert `json:"alerts"`
	Timestamp time.Time    `json:"timestamp"`
}

type NewStationOrderEvent struct {
	Station   Station   `json:"station"`
	OrderID   string    `json:"order_id"`
	Items     []string  `json:"items"`
	Timestamp time.Time `json:"timestamp"`
}
