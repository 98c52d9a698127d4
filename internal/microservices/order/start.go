package order

import (
	"context"
	"fmt"

	"station-system/internal/common/httpx"
	"station-system/internal/common/logger"
	"station-system/internal/domain"
	"station-system/internal/microservices/order/handlers"
	"station-system/internal/microservices/order/service"
	"station-system/internal/repository"
)

func Run(ctx context.Context, port, maxConcurrent int, store service.Store, catalog repository.Catalog, routing domain.Routing, log *logger.Logger) error {
	svc := service.New(store, catalog, routing, log)
	h := handlers.New(svc)

	addr := fmt.Sprintf(":%d", port)
	log.Info("service_started", map[string]any{"addr": addr})
	return httpx.New(addr, handlers.Router(h, maxConcurrent)).Run(ctx)
}
