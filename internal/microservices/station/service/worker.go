package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"station-system/internal/common/logger"
	"station-system/internal/common/tracing"
	"station-system/internal/connections/rabbitmq"
	"station-system/internal/domain"
	"station-system/internal/idempotency"
)

var (
	ErrRequeue = errors.New("requeue")     // nack(requeue=true)
	ErrDLQ     = errors.New("dead_letter") // nack(requeue=false)
)

const (
	CmdStartPreparing = "start_preparing"
	CmdMarkReady      = "mark_ready"
	CmdCancel         = "cancel"
	CmdComplete       = "complete"
)

// Command is what a station terminal sends over the commands exchange.
type Command struct {
	Type    string   `json:"type"`
	OrderID string   `json:"order_id"`
	Items   []string `json:"items,omitempty"`
	By      string   `json:"by,omitempty"`
}

// Worker consumes one station's command queue.
type Worker struct {
	svc    StationServiceInterface
	client *rabbitmq.Client
	dedupe idempotency.Deduper
	log    *logger.Logger

	Station  domain.Station
	Name     string
	Queue    string
	Prefetch int
}

func NewWorker(svc StationServiceInterface, client *rabbitmq.Client, dedupe idempotency.Deduper, log *logger.Logger, st domain.Station, name string, prefetch int) *Worker {
	if prefetch <= 0 {
		prefetch = 1
	}
	if strings.TrimSpace(name) == "" {
		name = string(st) + "-worker"
	}
	return &Worker{
		svc:      svc,
		client:   client,
		dedupe:   dedupe,
		log:      log,
		Station:  st,
		Name:     name,
		Queue:    rabbitmq.CommandQueue(string(st)),
		Prefetch: prefetch,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	ch, err := w.client.NewChannel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))
	cancelCh := ch.NotifyCancel(make(chan string, 1))
	go func() {
		for {
			select {
			case e := <-closeCh:
				if e != nil {
					w.log.Error("amqp_channel_closed", e, map[string]any{"code": e.Code})
				}
				return
			case tag := <-cancelCh:
				if tag != "" {
					w.log.Error("consumer_canceled", errors.New("consumer canceled by broker"), map[string]any{"tag": tag})
				}
			}
		}
	}()

	if err := ch.Qos(w.Prefetch, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(w.Queue, w.Name, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", w.Queue, err)
	}
	w.log.Info("worker_started", map[string]any{"queue": w.Queue, "prefetch": w.Prefetch, "worker": w.Name})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range msgs {
			err := w.handle(ctx, d)
			switch {
			case err == nil:
				_ = d.Ack(false)
			case errors.Is(err, ErrDLQ):
				_ = d.Nack(false, false)
			default:
				_ = d.Nack(false, true)
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
		return fmt.Errorf("deliveries for %s stopped", w.Queue)
	}
	w.log.Info("graceful_shutdown", map[string]any{"worker": w.Name})
	_ = ch.Cancel(w.Name, false)
	<-done
	return nil
}

// handle runs one delivery. The returned error decides ack, requeue or
// dead-lettering.
func (w *Worker) handle(ctx context.Context, d amqp.Delivery) error {
	var cmd Command
	if err := json.Unmarshal(d.Body, &cmd); err != nil {
		w.log.Error("command_malformed", err, map[string]any{"message_id": d.MessageId})
		return ErrDLQ
	}
	if cmd.OrderID == "" || cmd.Type == "" {
		w.log.Error("command_invalid", errors.New("type and order_id are required"), map[string]any{"message_id": d.MessageId})
		return ErrDLQ
	}

	key := ""
	if d.MessageId != "" && w.dedupe != nil {
		key = idempotency.Key(w.Queue, d.MessageId)
		seen, err := w.dedupe.Seen(ctx, key)
		if err != nil {
			w.log.Error("dedupe_failed", err, map[string]any{"message_id": d.MessageId})
			return ErrRequeue
		}
		if seen {
			w.log.Debug("command_duplicate", map[string]any{"message_id": d.MessageId, "order_id": cmd.OrderID})
			return nil
		}
	}

	ctx = tracing.Extract(ctx, headerStrings(d.Headers))
	err := w.apply(ctx, cmd)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPreconditionFailed),
		errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInvalidInput):
		w.log.Error("command_rejected", err, map[string]any{"type": cmd.Type, "order_id": cmd.OrderID})
		return fmt.Errorf("%w: %w", ErrDLQ, err)
	default:
		w.log.Error("command_failed", err, map[string]any{"type": cmd.Type, "order_id": cmd.OrderID})
		return fmt.Errorf("%w: %w", ErrRequeue, err)
	}

	// Marked only once applied. A lost mark costs one redelivery; start,
	// mark_ready and complete are no-ops the second time.
	if key != "" {
		if err := w.dedupe.Mark(context.WithoutCancel(ctx), key); err != nil {
			w.log.Warn("dedupe_mark_failed", map[string]any{"message_id": d.MessageId, "error": err.Error()})
		}
	}
	return nil
}

func (w *Worker) apply(ctx context.Context, cmd Command) error {
	by := cmd.By
	if by == "" {
		by = string(w.Station)
	}
	switch cmd.Type {
	case CmdStartPreparing:
		_, err := w.svc.StartPreparing(ctx, cmd.OrderID, w.Station)
		return err
	case CmdMarkReady:
		_, err := w.svc.MarkItemsReady(ctx, cmd.OrderID, w.Station, cmd.Items)
		return err
	case CmdCancel:
		return w.svc.Cancel(ctx, cmd.OrderID, by)
	case CmdComplete:
		_, err := w.svc.Complete(ctx, cmd.OrderID, by)
		return err
	default:
		return fmt.Errorf("command %q: %w", cmd.Type, domain.ErrInvalidInput)
	}
}

func headerStrings(t amqp.Table) map[string]string {
	out := make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
