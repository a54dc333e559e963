package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	platformobservability "github.com/Apurer/go-order-reconciler/internal/platform/observability"
	platformpostgres "github.com/Apurer/go-order-reconciler/internal/platform/postgres"
)

// Config carries environment-driven settings shared by the API and worker processes.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	PostgresDSN         string        `env:"POSTGRES_DSN"`
	PostgresMaxOpen     int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"20"`
	PostgresMaxIdle     int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	PostgresMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"orders.events"`
	KafkaClientID string   `env:"KAFKA_CLIENT_ID" envDefault:"order-reconciler"`

	GatewayBaseURL     string        `env:"GATEWAY_BASE_URL"`
	GatewayAPIKey      string        `env:"GATEWAY_API_KEY"`
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	SandboxSettleAfter int           `env:"SANDBOX_SETTLE_AFTER" envDefault:"3"`

	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
	PollBudget        time.Duration `env:"POLL_BUDGET" envDefault:"2m"`
	MaxWatchBudget    time.Duration `env:"MAX_WATCH_BUDGET" envDefault:"10m"`
	MinWatchInterval  time.Duration `env:"MIN_WATCH_INTERVAL" envDefault:"500ms"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15s"`
	ReconcileBudget   time.Duration `env:"RECONCILE_BUDGET" envDefault:"30m"`

	DefaultCurrency string        `env:"DEFAULT_CURRENCY" envDefault:"TZS"`
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	TemporalAddress   string `env:"TEMPORAL_ADDRESS" envDefault:"localhost:7233"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE" envDefault:"default"`
	TemporalDisabled  bool   `env:"TEMPORAL_DISABLED"`

	Environment      string  `env:"ENVIRONMENT" envDefault:"local"`
	LogLevel         string  `env:"LOG_LEVEL" envDefault:"info"`
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" envDefault:"1"`
}

// Pool returns the PostgreSQL pool bounds.
func (c Config) Pool() platformpostgres.Pool {
	return platformpostgres.Pool{
		MaxOpenConns:    c.PostgresMaxOpen,
		MaxIdleConns:    c.PostgresMaxIdle,
		ConnMaxLifetime: c.PostgresMaxLifetime,
	}
}

// Telemetry returns the observability settings for the named process.
func (c Config) Telemetry(serviceName string) platformobservability.Settings {
	return platformobservability.Settings{
		ServiceName:  serviceName,
		Environment:  c.Environment,
		LogLevel:     c.LogLevel,
		OTLPEndpoint: c.OTLPEndpoint,
		OTLPInsecure: c.OTLPInsecure,
		SampleRatio:  c.TraceSampleRatio,
	}
}

// LoadConfig reads environment variables, applies defaults, and validates basic constraints.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.PostgresDSN = strings.TrimSpace(cfg.PostgresDSN)
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.GatewayBaseURL = strings.TrimSpace(cfg.GatewayBaseURL)
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"SHUTDOWN_TIMEOUT":   c.ShutdownTimeout,
		"GATEWAY_TIMEOUT":    c.GatewayTimeout,
		"POLL_INTERVAL":      c.PollInterval,
		"POLL_BUDGET":        c.PollBudget,
		"MAX_WATCH_BUDGET":   c.MaxWatchBudget,
		"MIN_WATCH_INTERVAL": c.MinWatchInterval,
		"RECONCILE_INTERVAL": c.ReconcileInterval,
		"RECONCILE_BUDGET":   c.ReconcileBudget,
		"IDEMPOTENCY_TTL":    c.IdempotencyTTL,
	}
	for name, value := range positive {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.PollInterval > c.PollBudget {
		errs = append(errs, errors.New("POLL_INTERVAL must not exceed POLL_BUDGET"))
	}
	if c.ReconcileInterval > c.ReconcileBudget {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must not exceed RECONCILE_BUDGET"))
	}
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, errors.New("DEFAULT_CURRENCY must be a three-letter code"))
	}
	if c.PostgresMaxOpen < 0 || c.PostgresMaxIdle < 0 {
		errs = append(errs, errors.New("POSTGRES_MAX_OPEN_CONNS and POSTGRES_MAX_IDLE_CONNS must not be negative"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("TRACE_SAMPLE_RATIO must be between 0 and 1"))
	}
	if c.SandboxSettleAfter <= 0 {
		errs = append(errs, errors.New("SANDBOX_SETTLE_AFTER must be a positive integer"))
	}
	if c.GatewayBaseURL != "" {
		u, err := url.Parse(c.GatewayBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, errors.New("GATEWAY_BASE_URL must be an absolute URL"))
		}
	}
	return errors.Join(errs...)
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
