package service

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"station-system/internal/common/logger"
	"station-system/internal/connections/rabbitmq"
	"station-system/internal/domain"
)

// NotificatorService logs every station and inventory signal. Delivering
// them to terminals is left to whatever consumes these logs.
type NotificatorService struct {
	rmqClient *rabbitmq.Client
	log       *logger.Logger
	queue     string
}

func NewNotificatorService(rmqClient *rabbitmq.Client, log *logger.Logger) *NotificatorService {
	return &NotificatorService{rmqClient: rmqClient, log: log, queue: rabbitmq.NotificationsQ}
}

func (ns *NotificatorService) Notify(ctx context.Context) error {
	ch, err := ns.rmqClient.NewChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(10, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(ns.queue, "notificator", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", ns.queue, err)
	}
	ns.log.Info("service_started", map[string]any{"queue": ns.queue})

	for {
		select {
		case <-ctx.Done():
			ns.log.Info("graceful_shutdown", nil)
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			ns.handle(d)
			_ = d.Ack(false)
		}
	}
}

func (ns *NotificatorService) handle(d amqp.Delivery) {
	fields := map[string]any{"routing_key": d.RoutingKey, "message_id": d.MessageId}
	switch d.RoutingKey {
	case domain.EventNewStationOrder:
		var ev domain.NewStationOrderEvent
		if json.Unmarshal(d.Body, &ev) == nil {
			fields["station"], fields["order_id"], fields["items"] = ev.Station, ev.OrderID, ev.Items
		}
		ns.log.Info("notification_new_order", fields)
	case domain.EventOrderServed:
		var ev domain.OrderServedEvent
		if json.Unmarshal(d.Body, &ev) == nil {
			fields["order_id"], fields["table_number"] = ev.OrderID, ev.TableNumber
		}
		ns.log.Info("notification_order_served", fields)
	case domain.EventStockLow:
		var ev domain.StockLowEvent
		if json.Unmarshal(d.Body, &ev) == nil {
			fields["order_id"], fields["alerts"] = ev.OrderID, ev.Alerts
		}
		ns.log.Warn("notification_stock_low", fields)
	default:
		fields["body"] = string(d.Body)
		ns.log.Debug("notification_received", fields)
	}
}
