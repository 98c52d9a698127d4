package dto

import (
	"github.com/shopspring/decimal"

	"station-system/internal/domain"
)

type CreateOrderRequest struct {
	TableNumber *int             `json:"table_number,omitempty"`
	Items       []OrderItemInput `json:"items"`
}

type OrderItemInput struct {
	Name           string   `json:"name"`
	Quantity       int      `json:"quantity"`
	Customizations []string `json:"customizations,omitempty"`
}

type CreateOrderResponse struct {
	OrderID     string             `json:"order_id"`
	Status      domain.OrderStatus `json:"status"`
	TableNumber *int               `json:"table_number,omitempty"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
}
