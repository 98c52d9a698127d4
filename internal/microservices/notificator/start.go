package notificator

import (
	"context"

	"station-system/internal/common/logger"
	"station-system/internal/connections/rabbitmq"
	"station-system/internal/microservices/notificator/service"
)

func Start(ctx context.Context, rmqClient *rabbitmq.Client, log *logger.Logger) error {
	return service.NewNotificatorService(rmqClient, log).Notify(ctx)
}
