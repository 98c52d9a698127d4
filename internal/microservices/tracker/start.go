package tracker

import (
	"context"
	"fmt"

	"station-system/internal/app"
	"station-system/internal/common/httpx"
	"station-system/internal/common/logger"
	"station-system/internal/domain"
	"station-system/internal/microservices/tracker/handler"
	"station-system/internal/microservices/tracker/service"
)

// Start serves the tracking API and publishes new-order signals until ctx is
// done.
func Start(ctx context.Context, port int, feed *service.Feed, orders service.FeedStore, log *logger.Logger) error {
	svc := service.NewTrackerService(feed, orders)
	h := &handler.Handler{TrackerHandler: handler.NewTrackerHandler(svc, log)}

	addr := fmt.Sprintf(":%d", port)
	log.Info("service_started", map[string]any{"addr": addr})
	return app.Group(ctx,
		httpx.New(addr, handler.Router(h)).Run,
		func(ctx context.Context) error { return feed.RunSignals(ctx, domain.Stations) },
	)
}
