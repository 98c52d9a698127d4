package models

import (
	"time"

	"station-system/internal/domain"
)

// StationOrder is one actionable order as a station sees it: only the lines
// routed to that station and not yet prepared there.
type StationOrder struct {
	OrderID     string             `json:"order_id"`
	Status      domain.OrderStatus `json:"status"`
	TableNumber *int               `json:"table_number,omitempty"`
	Pending     []domain.OrderLine `json:"pending"`
	Prepared    []string           `json:"prepared"`
	CreatedAt   time.Time          `json:"created_at"`
}

// View is a station's feed at one point in time, oldest order first.
type View struct {
	Station     domain.Station `json:"station"`
	Orders      []StationOrder `json:"orders"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// IDs returns the order ids in the view.
func (v View) IDs() []string {
	out := make([]string, 0, len(v.Orders))
	for _, o := range v.Orders {
		out = append(out, o.OrderID)
	}
	return out
}

type OrderView struct {
	OrderID     string              `json:"order_id"`
	Status      domain.OrderStatus  `json:"status"`
	TableNumber *int                `json:"table_number,omitempty"`
	Prepared    map[string][]string `json:"prepared"`
	UpdatedAt   time.Time           `json:"updated_at"`
}
