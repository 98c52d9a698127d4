package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"station-system/internal/domain"
)

// Config holds every application parameter.
type Config struct {
	Storage     StorageConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Events      EventsConfig
	Otel        OtelConfig
	HTTP        HTTPConfig
	Fulfillment FulfillmentConfig
	Stations    domain.Routing
}

type StorageConfig struct {
	Driver string // postgres | memory
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	UseTLS   bool
	Prefetch int
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
	MenuCacheTTL   time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type EventsConfig struct {
	Broker        string // rabbitmq | kafka | none
	RelayInterval time.Duration
	RelayBatch    int
}

type OtelConfig struct {
	Endpoint   string
	AuthHeader string
}

type HTTPConfig struct {
	StationPort   int
	OrderPort     int
	TrackingPort  int
	MaxConcurrent int
}

type FulfillmentConfig struct {
	MaxRetries          int
	RetryInitial        time.Duration
	RetryMax            time.Duration
	RejectNegativeStock bool
}

func Default() Config {
	return Config{
		Storage:  StorageConfig{Driver: "postgres"},
		Database: DatabaseConfig{Port: 5432, SSLMode: "disable", MaxConns: 10},
		RabbitMQ: RabbitMQConfig{Port: 5672, VHost: "/", Prefetch: 1},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			IdempotencyTTL: 24 * time.Hour,
			MenuCacheTTL:   5 * time.Minute,
		},
		Kafka:  KafkaConfig{Topic: "station.events"},
		Events: EventsConfig{Broker: "rabbitmq", RelayInterval: 500 * time.Millisecond, RelayBatch: 100},
		HTTP:   HTTPConfig{StationPort: 3001, OrderPort: 3000, TrackingPort: 3002, MaxConcurrent: 50},
		Fulfillment: FulfillmentConfig{
			MaxRetries:   8,
			RetryInitial: 10 * time.Millisecond,
			RetryMax:     500 * time.Millisecond,
		},
		Stations: domain.DefaultRouting(),
	}
}

func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads the two-level "section:\n  key: value" format. Environment
// variables override file values, then the result is validated.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	stationsSeen := false

	var section string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, ":") && !strings.Contains(line, " ") {
			section = strings.TrimSuffix(line, ":")
			continue
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"'`)

		switch section {
		case "storage":
			if key == "driver" {
				cfg.Storage.Driver = val
			}
		case "database":
			assignDB(&cfg.Database, key, val)
		case "rabbitmq":
			assignMQ(&cfg.RabbitMQ, key, val)
		case "redis":
			assignRedis(&cfg.Redis, key, val)
		case "kafka":
			switch key {
			case "brokers":
				cfg.Kafka.Brokers = splitList(val)
			case "topic":
				cfg.Kafka.Topic = val
			}
		case "events":
			switch key {
			case "broker":
				cfg.Events.Broker = val
			case "relay_interval_ms":
				cfg.Events.RelayInterval = millis(val, cfg.Events.RelayInterval)
			case "relay_batch":
				cfg.Events.RelayBatch = atoi(val, cfg.Events.RelayBatch)
			}
		case "otel":
			switch key {
			case "endpoint":
				cfg.Otel.Endpoint = val
			case "auth_header":
				cfg.Otel.AuthHeader = val
			}
		case "http":
			switch key {
			case "station_port":
				cfg.HTTP.StationPort = atoi(val, cfg.HTTP.StationPort)
			case "order_port":
				cfg.HTTP.OrderPort = atoi(val, cfg.HTTP.OrderPort)
			case "tracking_port":
				cfg.HTTP.TrackingPort = atoi(val, cfg.HTTP.TrackingPort)
			case "max_concurrent":
				cfg.HTTP.MaxConcurrent = atoi(val, cfg.HTTP.MaxConcurrent)
			}
		case "fulfillment":
			switch key {
			case "max_retries":
				cfg.Fulfillment.MaxRetries = atoi(val, cfg.Fulfillment.MaxRetries)
			case "retry_initial_ms":
				cfg.Fulfillment.RetryInitial = millis(val, cfg.Fulfillment.RetryInitial)
			case "retry_max_ms":
				cfg.Fulfillment.RetryMax = millis(val, cfg.Fulfillment.RetryMax)
			case "reject_negative_stock":
				cfg.Fulfillment.RejectNegativeStock = val == "true"
			}
		case "stations":
			if !stationsSeen {
				cfg.Stations = domain.Routing{}
				stationsSeen = true
			}
			cfg.Stations[domain.Station(strings.ToLower(key))] = splitList(val)
		}
	}
	if err := sc.Err(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
			return fmt.Errorf("database config incomplete")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Events.Broker {
	case "none":
	case "rabbitmq":
		if c.RabbitMQ.Host == "" || c.RabbitMQ.User == "" {
			return fmt.Errorf("rabbitmq config incomplete")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required")
		}
	default:
		return fmt.Errorf("unknown events broker %q", c.Events.Broker)
	}
	if c.Fulfillment.MaxRetries < 1 {
		return fmt.Errorf("fulfillment.max_retries must be positive")
	}
	return c.Stations.Validate()
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode, d.MaxConns)
}

func assignDB(d *DatabaseConfig, k, v string) {
	switch k {
	case "host":
		d.Host = v
	case "port":
		d.Port = atoi(v, 5432)
	case "user":
		d.User = v
	case "password":
		d.Password = v
	case "database":
		d.Database = v
	case "sslmode":
		if v != "" {
			d.SSLMode = v
		}
	case "max_conns":
		d.MaxConns = atoi(v, 10)
	}
}

func assignMQ(m *RabbitMQConfig, k, v string) {
	switch k {
	case "host":
		m.Host = v
	case "port":
		m.Port = atoi(v, 5672)
	case "user":
		m.User = v
	case "password":
		m.Password = v
	case "vhost":
		if v != "" {
			m.VHost = v
		}
	case "tls":
		m.UseTLS = v == "true"
	case "prefetch":
		m.Prefetch = atoi(v, 1)
	}
}

func assignRedis(r *RedisConfig, k, v string) {
	switch k {
	case "addr":
		r.Addr = v
	case "password":
		r.Password = v
	case "db":
		r.DB = atoi(v, 0)
	case "idempotency_ttl_seconds":
		r.IdempotencyTTL = time.Duration(atoi(v, 86400)) * time.Second
	case "menu_cache_ttl_seconds":
		r.MenuCacheTTL = time.Duration(atoi(v, 300)) * time.Second
	}
}

func applyEnv(c *Config) {
	c.Storage.Driver = env("STATION_STORAGE", c.Storage.Driver)
	c.Database.Host = env("STATION_DB_HOST", c.Database.Host)
	c.Database.Password = env("STATION_DB_PASSWORD", c.Database.Password)
	c.RabbitMQ.Host = env("STATION_RABBITMQ_HOST", c.RabbitMQ.Host)
	c.RabbitMQ.Password = env("STATION_RABBITMQ_PASSWORD", c.RabbitMQ.Password)
	c.Redis.Addr = env("STATION_REDIS_ADDR", c.Redis.Addr)
	c.Events.Broker = env("STATION_EVENTS_BROKER", c.Events.Broker)
	c.Otel.Endpoint = env("OTEL_ENDPOINT", c.Otel.Endpoint)
	c.Otel.AuthHeader = env("OTEL_AUTH_HEADER", c.Otel.AuthHeader)
	if v := os.Getenv("STATION_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func millis(s string, def time.Duration) time.Duration {
	n := atoi(s, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
