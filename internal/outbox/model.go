package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"station-system/internal/common/tracing"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// MaxAttempts bounds how often a failing event is handed to the publisher.
const MaxAttempts = 5

type Event struct {
	ID          int64
	AggregateID string
	Type        string
	Payload     []byte
	Headers     map[string]string
	CreatedAt   time.Time
	Status      Status
	RetryCount  int
	LastError   *string
}

// NewEvent marshals payload and captures the trace context of ctx.
func NewEvent(ctx context.Context, aggregateID, typ string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return Event{
		AggregateID: aggregateID,
		Type:        typ,
		Payload:     b,
		Headers:     tracing.Inject(ctx),
		CreatedAt:   time.Now().UTC(),
		Status:      StatusPending,
	}, nil
}
