package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"station-system/internal/common/logger"
	"station-system/internal/config"
	"station-system/internal/domain"
	"station-system/internal/repository"
)

type StationServiceInterface interface {
	StartPreparing(ctx context.Context, orderID string, st domain.Station) (bool, error)
	MarkReady(ctx context.Context, orderID string, st domain.Station) (Result, error)
	MarkItemsReady(ctx context.Context, orderID string, st domain.Station, names []string) (Result, error)
	Cancel(ctx context.Context, orderID string, by string) error
	Complete(ctx context.Context, orderID string, by string) (bool, error)
	Inventory(ctx context.Context) ([]domain.InventoryItem, error)
	InventoryItem(ctx context.Context, id string) (domain.InventoryItem, error)
}

// Result describes the effect of one mark-ready call.
type Result struct {
	Changed        bool                       `json:"changed"`
	OrderNowServed bool                       `json:"order_now_served"`
	Status         domain.OrderStatus         `json:"status"`
	Prepared       []string                   `json:"prepared"`
	Consumed       map[string]decimal.Decimal `json:"consumed,omitempty"`
	StockAlerts    []domain.StockAlert        `json:"stock_alerts,omitempty"`
}

// Policy bounds conflict retries and chooses the negative stock behaviour.
type Policy struct {
	MaxRetries          int
	RetryInitial        time.Duration
	RetryMax            time.Duration
	RejectNegativeStock bool
}

func PolicyFrom(cfg config.FulfillmentConfig) Policy {
	return Policy{
		MaxRetries:          cfg.MaxRetries,
		RetryInitial:        cfg.RetryInitial,
		RetryMax:            cfg.RetryMax,
		RejectNegativeStock: cfg.RejectNegativeStock,
	}
}

type Store interface {
	repository.Transactor
	repository.Ledger
	repository.Tables
}

type StationService struct {
	store   Store
	catalog repository.Catalog
	part    *Partitioner
	policy  Policy
	log     *logger.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewStationService(store Store, catalog repository.Catalog, routing domain.Routing, policy Policy, log *logger.Logger) *StationService {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 8
	}
	if policy.RetryInitial <= 0 {
		policy.RetryInitial = 10 * time.Millisecond
	}
	if policy.RetryMax <= 0 {
		policy.RetryMax = 500 * time.Millisecond
	}
	return &StationService{
		store:   store,
		catalog: catalog,
		part:    NewPartitioner(routing),
		policy:  policy,
		log:     log,
		tracer:  otel.Tracer("station-system/station"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *StationService) Inventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.store.ListInventory(ctx)
}

func (s *StationService) InventoryItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	return s.store.InventoryItem(ctx, id)
}

// inTx runs fn in a transaction and reruns it with fresh reads while the
// commit loses races. Other errors stop immediately.
func (s *StationService) inTx(ctx context.Context, op, orderID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	attempt := 0
	run := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := s.store.InTx(ctx, fn)
		if err == nil || errors.Is(err, domain.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.policy.RetryInitial
	eb.MaxInterval = s.policy.RetryMax
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.policy.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		s.log.Debug("tx_conflict_retry", map[string]any{
			"op": op, "order_id": orderID, "attempt": attempt, "wait_ms": wait.Milliseconds(), "error": err.Error(),
		})
	}
	err := backoff.RetryNotify(run, b, notify)
	if err != nil && errors.Is(err, domain.ErrConflict) {
		s.log.Warn("tx_retries_exhausted", map[string]any{"op": op, "order_id": orderID, "attempts": attempt})
		return fmt.Errorf("%s %s after %d attempts: %w: %w", op, orderID, attempt, domain.ErrRetriesExhausted, err)
	}
	return err
}
