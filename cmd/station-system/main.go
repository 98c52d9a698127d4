package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"station-system/internal/app"
	"station-system/internal/common/logger"
	"station-system/internal/common/tracing"
	"station-system/internal/config"
	"station-system/internal/microservices/notificator"
	"station-system/internal/microservices/order"
	"station-system/internal/microservices/station"
	stationsvc "station-system/internal/microservices/station/service"
	"station-system/internal/microservices/tracker"
	trackersvc "station-system/internal/microservices/tracker/service"
)

const modes = "station-service | order-service | tracking-service | notification-subscriber | outbox-relay | all"

func main() {
	mode := flag.String("mode", "", modes)
	cfgPath := flag.String("config", "config.yml", "path to YAML config; defaults apply when the file is absent")
	port := flag.Int("port", 0, "http port for services that expose HTTP")
	maxConc := flag.Int("max-concurrent", 0, "max concurrent HTTP requests")
	prefetch := flag.Int("prefetch", 0, "station-service: RabbitMQ prefetch per command queue")
	commands := flag.Bool("commands", true, "station-service: consume station command queues")
	flag.Parse()

	lg := logger.New("bootstrap")
	defer lg.Sync()

	if *mode == "" {
		fmt.Fprintln(os.Stderr, "--mode is required: "+modes)
		os.Exit(2)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": *cfgPath})
		os.Exit(1)
	}
	if *maxConc > 0 {
		cfg.HTTP.MaxConcurrent = *maxConc
	}
	if *prefetch > 0 {
		cfg.RabbitMQ.Prefetch = *prefetch
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *mode, cfg, *port, *commands, lg); err != nil {
		lg.Error("fatal", err, map[string]any{"mode": *mode})
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Parse(strings.NewReader(""))
	}
	return cfg, err
}

func run(ctx context.Context, mode string, cfg config.Config, port int, commands bool, lg *logger.Logger) error {
	shutdown, err := tracing.Setup(ctx, cfg.Otel, mode)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			lg.Error("tracing_shutdown_failed", err, nil)
		}
	}()

	opts := app.Options{Commands: commands && (mode == "station-service" || mode == "all")}
	if mode == "notification-subscriber" {
		opts.Commands = true
	}
	deps, err := app.Open(ctx, cfg, lg, opts)
	if err != nil {
		return err
	}
	defer deps.Close()

	hostname, _ := os.Hostname()
	relayID := hostname + "-" + mode
	portOr := func(def int) int {
		if port != 0 {
			return port
		}
		return def
	}

	stationSvc := func(ctx context.Context) error {
		svc := stationsvc.NewStationService(deps.Store, deps.Catalog, cfg.Stations, stationsvc.PolicyFrom(cfg.Fulfillment), logger.New("station-service"))
		rmq := deps.Rabbit
		if !commands {
			rmq = nil
		}
		return station.Run(ctx, portOr(cfg.HTTP.StationPort), cfg.HTTP.MaxConcurrent, svc, rmq, deps.Dedupe, cfg.RabbitMQ.Prefetch, logger.New("station-service"))
	}
	orderSvc := func(ctx context.Context) error {
		return order.Run(ctx, portOr(cfg.HTTP.OrderPort), cfg.HTTP.MaxConcurrent, deps.Store, deps.Catalog, cfg.Stations, logger.New("order-service"))
	}
	trackingSvc := func(ctx context.Context) error {
		log := logger.New("tracking-service")
		feed := trackersvc.NewFeed(deps.Store, deps.Catalog, cfg.Stations, deps.Publisher, log)
		return tracker.Start(ctx, portOr(cfg.HTTP.TrackingPort), feed, deps.Store, log)
	}
	relay := func(ctx context.Context) error { return deps.Relay(cfg, relayID).Run(ctx) }

	lg.Info("service_started", map[string]any{"mode": mode, "storage": cfg.Storage.Driver, "events": cfg.Events.Broker})

	switch mode {
	case "station-service":
		return app.Group(ctx, stationSvc, relay)
	case "order-service":
		return app.Group(ctx, orderSvc, relay)
	case "tracking-service":
		return trackingSvc(ctx)
	case "notification-subscriber":
		if deps.Rabbit == nil {
			return errors.New("notification-subscriber requires rabbitmq")
		}
		return notificator.Start(ctx, deps.Rabbit, logger.New("notification-subscriber"))
	case "outbox-relay":
		return relay(ctx)
	case "all":
		// A single process on one store; ports fall back to the configured defaults.
		port = 0
		return app.Group(ctx, stationSvc, orderSvc, trackingSvc, relay)
	default:
		return fmt.Errorf("unknown mode %q; want %s", mode, modes)
	}
}
