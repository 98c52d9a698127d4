package app

import (
	"context"
	"fmt"

	"station-system/internal/common/logger"
	"station-system/internal/common/mq"
	"station-system/internal/config"
	"station-system/internal/connections/database"
	"station-system/internal/connections/kafka"
	"station-system/internal/connections/rabbitmq"
	redisconn "station-system/internal/connections/redis"
	"station-system/internal/idempotency"
	"station-system/internal/outbox"
	"station-system/internal/repository"
)

// Options tells Open which connections the selected mode needs beyond storage.
type Options struct {
	// Commands dials RabbitMQ even when events go elsewhere.
	Commands bool
}

// Deps is the set of connections and adapters shared by every mode.
type Deps struct {
	Store     repository.Store
	Catalog   repository.Catalog
	Rabbit    *rabbitmq.Client
	Publisher mq.Publisher
	Dedupe    idempotency.Deduper

	closers []func() error
	log     *logger.Logger
}

func Open(ctx context.Context, cfg config.Config, log *logger.Logger, opts Options) (*Deps, error) {
	d := &Deps{log: log}
	if err := d.openStorage(ctx, cfg); err != nil {
		d.Close()
		return nil, err
	}

	if cfg.Events.Broker == "rabbitmq" || (opts.Commands && cfg.RabbitMQ.Host != "") {
		rmq, err := rabbitmq.Dial(ctx, cfg.RabbitMQ)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("rabbitmq connect: %w", err)
		}
		d.Rabbit = rmq
		d.closers = append(d.closers, rmq.Close)
		log.Info("rabbitmq_connected", map[string]any{"host": cfg.RabbitMQ.Host, "port": cfg.RabbitMQ.Port, "vhost": cfg.RabbitMQ.VHost})
	}

	switch cfg.Events.Broker {
	case "rabbitmq":
		d.Publisher = mq.NewRabbitPublisher(d.Rabbit)
	case "kafka":
		w := kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		d.Publisher = mq.NewKafkaPublisher(w)
		d.closers = append(d.closers, w.Close)
		log.Info("kafka_writer_ready", map[string]any{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic})
	default:
		d.Publisher = mq.Nop{}
	}
	return d, nil
}

func (d *Deps) openStorage(ctx context.Context, cfg config.Config) error {
	if cfg.Storage.Driver == "memory" {
		mem := repository.NewMemory()
		repository.SeedMemory(mem)
		d.Store, d.Catalog = mem, mem
		d.Dedupe = idempotency.NewMemory(cfg.Redis.IdempotencyTTL)
		d.log.Info("storage_ready", map[string]any{"driver": "memory"})
		return nil
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	d.closers = append(d.closers, func() error { pool.Close(); return nil })
	pg := repository.NewPostgres(pool)
	d.Store = pg
	d.log.Info("db_connected", map[string]any{"host": cfg.Database.Host, "port": cfg.Database.Port, "database": cfg.Database.Database})

	rdb, err := redisconn.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, rdb.Close)
	d.Catalog = repository.NewCachedCatalog(rdb, pg, cfg.Redis.MenuCacheTTL)
	d.Dedupe = idempotency.NewStore(rdb, cfg.Redis.IdempotencyTTL)
	d.log.Info("redis_connected", map[string]any{"addr": cfg.Redis.Addr})
	return nil
}

// Relay builds the outbox relay publishing through the configured broker.
func (d *Deps) Relay(cfg config.Config, relayID string) *outbox.Relay {
	return outbox.NewRelay(d.log.Named("outbox-relay"), d.Store, d.Publisher, relayID, cfg.Events.RelayInterval, cfg.Events.RelayBatch)
}

// Close releases connections in reverse order of opening.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Error("close_failed", err, nil)
		}
	}
	d.closers = nil
}
