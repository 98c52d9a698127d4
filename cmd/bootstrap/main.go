package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"station-system/internal/common/logger"
	"station-system/internal/config"
	"station-system/internal/connections/database"
	"station-system/internal/connections/rabbitmq"
	redisconn "station-system/internal/connections/redis"
	"station-system/internal/domain"
	"station-system/internal/repository"
)

// bootstrap applies the schema, optionally seeds the demo menu and inventory,
// and declares the broker topology. Every step is idempotent.
func main() {
	cfgPath := flag.String("config", "config.yml", "path to YAML config")
	seed := flag.Bool("seed", false, "load the demo menu and inventory")
	flag.Parse()

	lg := logger.New("bootstrap")
	defer lg.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": *cfgPath})
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *seed, lg); err != nil {
		lg.Error("bootstrap_failed", err, nil)
		os.Exit(1)
	}
	lg.Info("bootstrap_done", nil)
}

func run(ctx context.Context, cfg config.Config, seed bool, lg *logger.Logger) error {
	if cfg.Storage.Driver == "postgres" {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		lg.Info("db_connected", map[string]any{"host": cfg.Database.Host, "port": cfg.Database.Port, "database": cfg.Database.Database})

		pg := repository.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		lg.Info("schema_applied", nil)

		if seed {
			for _, item := range repository.DemoMenu() {
				if err := pg.PutMenuItem(ctx, item); err != nil {
					return err
				}
			}
			for _, item := range repository.DemoInventory() {
				if err := pg.PutInventoryItem(ctx, item); err != nil {
					return err
				}
			}
			lg.Info("demo_data_loaded", map[string]any{"menu": len(repository.DemoMenu()), "inventory": len(repository.DemoInventory())})
			if err := invalidateMenu(ctx, cfg.Redis, pg, lg); err != nil {
				return err
			}
		}
	}

	if cfg.RabbitMQ.Host == "" {
		return nil
	}
	rmq, err := rabbitmq.Dial(ctx, cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer rmq.Close()

	stations := make([]string, 0, len(domain.Stations))
	for _, st := range domain.Stations {
		stations = append(stations, string(st))
	}
	if err := rmq.DeclareTopology(stations); err != nil {
		return err
	}
	lg.Info("topology_declared", map[string]any{"stations": stations})
	return nil
}

// invalidateMenu drops cached menu items so services pick up the new recipes.
func invalidateMenu(ctx context.Context, cfg config.RedisConfig, source repository.Catalog, lg *logger.Logger) error {
	if cfg.Addr == "" {
		return nil
	}
	rdb, err := redisconn.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	cache := repository.NewCachedCatalog(rdb, source, cfg.MenuCacheTTL)
	for _, item := range repository.DemoMenu() {
		if err := cache.Invalidate(ctx, item.Name); err != nil {
			return err
		}
	}
	lg.Info("menu_cache_invalidated", nil)
	return nil
}
