package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"station-system/internal/connections/rabbitmq"
)

type RabbitPublisher struct {
	client   *rabbitmq.Client
	exchange string
}

func NewRabbitPublisher(client *rabbitmq.Client) *RabbitPublisher {
	return &RabbitPublisher{client: client, exchange: rabbitmq.EventsExchange}
}

func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	headers := amqp.Table{"x-source": "station-system", "event_type": msg.Type}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	return p.client.Publish(ctx, p.exchange, msg.Type, msg.Body, headers, msg.ID)
}
