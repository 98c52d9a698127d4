package outbox

import (
	"context"
	"strconv"
	"time"

	"station-system/internal/common/logger"
	"station-system/internal/common/mq"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// Relay moves committed outbox events to the broker.
type Relay struct {
	log       *logger.Logger
	store     Store
	publisher mq.Publisher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

func NewRelay(log *logger.Logger, store Store, publisher mq.Publisher, relayID string, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		log:       log,
		store:     store,
		publisher: publisher,
		relayID:   relayID,
		batchSize: batchSize,
		interval:  interval,
		lease:     5 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay_stopping", map[string]any{"relay_id": r.relayID})
			return nil
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil {
				r.log.Error("relay_lock_batch_failed", err, nil)
			}
		}
	}
}

// Flush publishes one batch and returns how many events were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.publisher.Publish(ctx, toMessage(e)); err != nil {
			r.log.Error("outbox_dispatch_failed", err, map[string]any{"event_id": e.ID, "type": e.Type})
			_ = r.store.MarkFailed(ctx, e.ID, err.Error())
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return 0, err
		}
		r.log.Debug("outbox_dispatched", map[string]any{"count": len(ids)})
	}
	return len(ids), nil
}

func toMessage(e Event) mq.Message {
	return mq.Message{
		ID:      "outbox-" + strconv.FormatInt(e.ID, 10),
		Type:    e.Type,
		Key:     e.AggregateID,
		Body:    e.Payload,
		Headers: e.Headers,
	}
}
