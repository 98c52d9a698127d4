package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"station-system/internal/config"
)

const (
	EventsExchange   = "station_events"
	CommandsExchange = "station_commands"
	DeadLetterEx     = "dlx"
	DeadLetterQueue  = "dlq"
	NotificationsQ   = "notifications.q"
)

// CommandQueue is the queue a station's terminals publish commands to.
func CommandQueue(station string) string { return "station." + station + ".commands" }

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // confirms are matched to publishes in order
}

func Dial(ctx context.Context, cfg config.RabbitMQConfig) (*Client, error) {
	vhost := cfg.VHost
	if vhost == "" || vhost == "/" {
		vhost = ""
	}
	scheme := "amqp"
	if cfg.UseTLS {
		scheme = "amqps"
	}
	url := fmt.Sprintf("%s://%s:%s@%s:%d/%s", scheme, cfg.User, cfg.Password, cfg.Host, cfg.Port, vhost)

	var conn *amqp.Connection
	op := func() error {
		var err error
		if cfg.UseTLS {
			conn, err = amqp.DialTLS(url, &tls.Config{MinVersion: tls.VersionTLS12})
		} else {
			conn, err = amqp.Dial(url)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 10), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &Client{conn: conn, ch: ch, acks: acks}, nil
}

// NewChannel opens a separate channel, used by consumers so that deliveries
// do not share the confirm-mode publishing channel.
func (c *Client) NewChannel() (*amqp.Channel, error) { return c.conn.Channel() }

func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

func (c *Client) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Publish sends one message and waits for the broker ack.
func (c *Client) Publish(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}); err != nil {
		return err
	}

	select {
	case conf := <-c.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeclareTopology declares exchanges and queues. It is idempotent.
func (c *Client) DeclareTopology(stations []string) error {
	ch := c.ch
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", EventsExchange, err)
	}
	if err := ch.ExchangeDeclare(CommandsExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", CommandsExchange, err)
	}
	if err := ch.ExchangeDeclare(DeadLetterEx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", DeadLetterEx, err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterQueue, DeadLetterEx, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(NotificationsQ, true, false, false, false, nil); err != nil {
		return err
	}
	for _, key := range []string{"station.#", "inventory.#", "order.#"} {
		if err := ch.QueueBind(NotificationsQ, key, EventsExchange, false, nil); err != nil {
			return err
		}
	}
	for _, st := range stations {
		q := CommandQueue(st)
		if _, err := ch.QueueDeclare(q, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    DeadLetterEx,
			"x-dead-letter-routing-key": DeadLetterQueue,
		}); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		if err := ch.QueueBind(q, st, CommandsExchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", q, err)
		}
	}
	return nil
}
