package service

import (
	"context"

	"station-system/internal/domain"
	"station-system/internal/microservices/tracker/models"
	"station-system/internal/repository"
)

type TrackerServiceInterface interface {
	GetOrderView(ctx context.Context, id string) (models.OrderView, error)
	GetOrderTimeline(ctx context.Context, id string, limit, offset int) ([]domain.StatusChange, error)
	Snapshot(ctx context.Context, st domain.Station) (models.View, error)
	Watch(ctx context.Context, st domain.Station) (<-chan models.View, error)
}

type TrackerService struct {
	*Feed
	orders repository.Orders
}

func NewTrackerService(feed *Feed, orders repository.Orders) *TrackerService {
	return &TrackerService{Feed: feed, orders: orders}
}

func (s *TrackerService) GetOrderView(ctx context.Context, id string) (models.OrderView, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return models.OrderView{}, err
	}
	prepared := make(map[string][]string, len(o.Prepared))
	for st, names := range o.Prepared {
		prepared[string(st)] = names
	}
	return models.OrderView{
		OrderID:     o.ID,
		Status:      o.Status,
		TableNumber: o.TableNumber,
		Prepared:    prepared,
		UpdatedAt:   o.UpdatedAt,
	}, nil
}

func (s *TrackerService) GetOrderTimeline(ctx context.Context, id string, limit, offset int) ([]domain.StatusChange, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	events, err := s.orders.Timeline(ctx, id, limit, offset)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []domain.StatusChange{}
	}
	return events, nil
}
