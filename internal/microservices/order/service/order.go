package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"station-system/internal/common/logger"
	"station-system/internal/domain"
	dto "station-system/internal/microservices/order/domain/dto"
	"station-system/internal/outbox"
	"station-system/internal/repository"
)

const maxItemsPerOrder = 20

type OrderServiceInterface interface {
	AddOrder(ctx context.Context, req dto.CreateOrderRequest) (dto.CreateOrderResponse, error)
}

type Store interface {
	repository.Transactor
	repository.Tables
}

type OrderService struct {
	store   Store
	catalog repository.Catalog
	routing domain.Routing
	log     *logger.Logger
	newID   func() string
}

func NewOrderService(store Store, catalog repository.Catalog, routing domain.Routing, log *logger.Logger) *OrderService {
	return &OrderService{store: store, catalog: catalog, routing: routing, log: log, newID: uuid.NewString}
}

// AddOrder validates the request against the menu and stores the order as
// placed. Unit prices come from the menu, not from the client. Items whose
// category no station prepares are rejected, since the order could never be
// served.
func (svc *OrderService) AddOrder(ctx context.Context, req dto.CreateOrderRequest) (dto.CreateOrderResponse, error) {
	if len(req.Items) == 0 {
		return dto.CreateOrderResponse{}, fmt.Errorf("at least one item is required: %w", domain.ErrInvalidInput)
	}
	if len(req.Items) > maxItemsPerOrder {
		return dto.CreateOrderResponse{}, fmt.Errorf("at most %d items per order: %w", maxItemsPerOrder, domain.ErrInvalidInput)
	}
	if req.TableNumber != nil && *req.TableNumber <= 0 {
		return dto.CreateOrderResponse{}, fmt.Errorf("table number must be positive: %w", domain.ErrInvalidInput)
	}

	lines := make([]domain.OrderLine, 0, len(req.Items))
	total := decimal.Zero
	for _, in := range req.Items {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return dto.CreateOrderResponse{}, fmt.Errorf("item name is required: %w", domain.ErrInvalidInput)
		}
		if in.Quantity <= 0 {
			return dto.CreateOrderResponse{}, fmt.Errorf("invalid quantity for item %s: %w", name, domain.ErrInvalidInput)
		}
		item, err := svc.catalog.MenuItem(ctx, name)
		if err != nil {
			return dto.CreateOrderResponse{}, err
		}
		if _, ok := svc.routing.StationFor(item.Category); !ok {
			return dto.CreateOrderResponse{}, fmt.Errorf("item %s: no station prepares category %q: %w", item.Name, item.Category, domain.ErrInvalidInput)
		}
		lines = append(lines, domain.OrderLine{
			Name:           item.Name,
			Quantity:       in.Quantity,
			UnitPrice:      item.Price,
			Customizations: in.Customizations,
		})
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(in.Quantity))))
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:          svc.newID(),
		Items:       lines,
		TableNumber: req.TableNumber,
		Status:      domain.StatusPlaced,
		CreatedAt:   now,
	}

	if order.TableNumber != nil {
		if err := svc.store.OccupyTable(ctx, *order.TableNumber); err != nil {
			return dto.CreateOrderResponse{}, fmt.Errorf("occupy table %d: %w", *order.TableNumber, err)
		}
	}
	err := svc.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, domain.StatusChange{
			OrderID: order.ID, Status: domain.StatusPlaced, ChangedBy: "order-service", ChangedAt: now,
		}); err != nil {
			return err
		}
		ev, err := outbox.NewEvent(ctx, order.ID, domain.EventOrderPlaced, domain.OrderPlacedEvent{
			OrderID: order.ID, TableNumber: order.TableNumber, Items: lines, Total: total, Timestamp: now,
		})
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, ev)
	})
	if err != nil {
		return dto.CreateOrderResponse{}, fmt.Errorf("failed to save order: %w", err)
	}

	svc.log.Info("order_placed", map[string]any{"order_id": order.ID, "items": len(lines), "total": total.String()})
	return dto.CreateOrderResponse{
		OrderID:     order.ID,
		Status:      order.Status,
		TableNumber: order.TableNumber,
		TotalAmount: total,
	}, nil
}
