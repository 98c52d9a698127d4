package service

import (
	"station-system/internal/common/logger"
	"station-system/internal/domain"
	"station-system/internal/repository"
)

type Service struct {
	OrderService OrderServiceInterface
}

func New(store Store, catalog repository.Catalog, routing domain.Routing, log *logger.Logger) *Service {
	return &Service{
		OrderService: NewOrderService(store, catalog, routing, log),
	}
}
