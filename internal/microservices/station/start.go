package station

import (
	"context"
	"fmt"

	"station-system/internal/app"
	"station-system/internal/common/httpx"
	"station-system/internal/common/logger"
	"station-system/internal/connections/rabbitmq"
	"station-system/internal/domain"
	"station-system/internal/idempotency"
	"station-system/internal/microservices/station/handlers"
	"station-system/internal/microservices/station/service"
)

// Run serves the station API. When rmqClient is set it also consumes every
// station's command queue. The first failure stops everything.
func Run(ctx context.Context, port, maxConcurrent int, svc service.StationServiceInterface, rmqClient *rabbitmq.Client, dedupe idempotency.Deduper, prefetch int, log *logger.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := httpx.New(addr, handlers.Router(handlers.New(svc, log), maxConcurrent))

	fns := []func(context.Context) error{srv.Run}
	if rmqClient != nil {
		for _, st := range domain.Stations {
			w := service.NewWorker(svc, rmqClient, dedupe, log.Named("station-worker"), st, "", prefetch)
			fns = append(fns, w.Run)
		}
	}

	log.Info("service_started", map[string]any{"addr": addr, "workers": len(fns) - 1})
	return app.Group(ctx, fns...)
}
