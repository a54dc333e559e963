package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	workerlog "go.temporal.io/sdk/log"
	"gorm.io/gorm"

	gatewayclient "github.com/Apurer/go-order-reconciler/internal/clients/http/gateway"
	rediscache "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/cache/redis"
	kafkaevents "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/events/kafka"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/gateway/httpgateway"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/gateway/sandbox"
	ordersmemory "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/memory"
	ordersobs "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/observability"
	orderspostgres "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/persistence/postgres"
	ordersworkflows "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/workflows"
	ordersapp "github.com/Apurer/go-order-reconciler/internal/domains/orders/application"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
	"github.com/Apurer/go-order-reconciler/internal/platform/migrations"
	platformobservability "github.com/Apurer/go-order-reconciler/internal/platform/observability"
	platformpostgres "github.com/Apurer/go-order-reconciler/internal/platform/postgres"
)

const instrumentationName = "internal.orders.application"

// Scheduling selects how server side reconciliation is run by a process.
type Scheduling int

const (
	// ScheduleReconciliation wires Temporal, or the inline poller when Temporal is unavailable.
	ScheduleReconciliation Scheduling = iota
	// NoScheduling leaves reconciliation to the caller, as the worker does.
	NoScheduling
)

// Dependencies is the wired order service plus everything that must be closed with it.
type Dependencies struct {
	Logger   *slog.Logger
	Service  ports.Service
	Core     *ordersapp.Service
	Temporal client.Client

	inline   *ordersworkflows.InlineReconciler
	cleanups []func()
}

// Build wires stores, gateway, events and reconciliation from the config.
// Every optional backend falls back to an in-process adapter with a warning.
func Build(ctx context.Context, cfg Config, instruments *platformobservability.Instruments, scheduling Scheduling) (*Dependencies, error) {
	logger := effectiveLogger(instruments)
	deps := &Dependencies{Logger: logger}

	db, closeDB := platformpostgres.ConnectOrFallback(ctx, cfg.PostgresDSN, cfg.Pool(), logger)
	deps.onClose(closeDB)
	if db != nil {
		if err := migrations.Run(db); err != nil {
			deps.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	store := buildStore(db, logger)
	idempotency, closeIdem := buildIdempotencyStore(ctx, cfg, db, logger)
	deps.onClose(closeIdem)
	events, closeEvents := buildEventPublisher(cfg, logger)
	deps.onClose(closeEvents)
	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	tracer := instruments.Tracer(instrumentationName)
	meter := instruments.Meter(instrumentationName)
	core := ordersapp.NewService(store, gateway, nil,
		ordersapp.WithLogger(logger),
		ordersapp.WithEvents(events),
		ordersapp.WithIdempotencyStore(idempotency),
		ordersapp.WithWatchDefaults(cfg.PollInterval, cfg.PollBudget),
		ordersapp.WithReconcileWindow(cfg.ReconcileInterval, cfg.ReconcileBudget),
		ordersapp.WithDefaultCurrency(cfg.DefaultCurrency),
	)
	deps.Core = core
	deps.Service = ordersobs.New(core,
		ordersobs.WithLogger(logger),
		ordersobs.WithTracer(tracer),
		ordersobs.WithMeter(meter),
	)

	temporalClient, err := connectTemporalClient(cfg, instruments)
	if err != nil {
		logger.Warn("Temporal unavailable", slog.String("error", err.Error()))
	} else {
		deps.Temporal = temporalClient
		deps.onClose(temporalClient.Close)
		logger.Info("Temporal client connected", slog.String("namespace", cfg.TemporalNamespace))
	}

	if scheduling == ScheduleReconciliation {
		if deps.Temporal != nil {
			core.SetScheduler(ordersworkflows.NewTemporalReconciler(deps.Temporal, logger))
		} else {
			logger.Warn("running payment reconciliation inline; pending work is lost on restart")
			deps.inline = ordersworkflows.NewInlineReconciler(deps.Service, ordersworkflows.WithInlineLogger(logger))
			core.SetScheduler(deps.inline)
		}
	}
	return deps, nil
}

// Close stops background reconciliation, waits for detached gateway calls and
// releases backends in reverse order.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.inline != nil {
		d.inline.Close()
	}
	if d.Core != nil {
		d.Core.Wait()
	}
	for i := len(d.cleanups) - 1; i >= 0; i-- {
		d.cleanups[i]()
	}
	d.cleanups = nil
}

func (d *Dependencies) onClose(fn func()) {
	if fn != nil {
		d.cleanups = append(d.cleanups, fn)
	}
}

func buildStore(db *gorm.DB, logger *slog.Logger) ports.Store {
	if db == nil {
		return ordersmemory.NewStore()
	}
	logger.Info("order store configured with postgres")
	return orderspostgres.NewStore(db)
}

func buildIdempotencyStore(ctx context.Context, cfg Config, db *gorm.DB, logger *slog.Logger) (ports.IdempotencyStore, func()) {
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("failed to connect to redis, falling back", slog.String("error", err.Error()))
			_ = rdb.Close()
		} else {
			logger.Info("idempotency keys stored in redis", slog.String("addr", cfg.RedisAddr))
			return rediscache.NewIdempotencyStore(rdb, rediscache.WithTTL(cfg.IdempotencyTTL)), func() { _ = rdb.Close() }
		}
	}
	if db != nil {
		return orderspostgres.NewIdempotencyStore(db), nil
	}
	return ordersmemory.NewIdempotencyStore(), nil
}

func buildEventPublisher(cfg Config, logger *slog.Logger) (ports.EventPublisher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, order events are kept in memory")
		return ordersmemory.NewEventRecorder(), nil
	}
	producer, err := kafkaevents.NewSyncProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
	if err != nil {
		logger.Warn("failed to connect to kafka, order events are kept in memory", slog.String("error", err.Error()))
		return ordersmemory.NewEventRecorder(), nil
	}
	publisher := kafkaevents.NewPublisher(producer, kafkaevents.WithTopic(cfg.KafkaTopic))
	logger.Info("order events published to kafka", slog.String("topic", cfg.KafkaTopic))
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close kafka producer", slog.String("error", err.Error()))
		}
	}
}

func buildGateway(cfg Config, logger *slog.Logger) (ports.PaymentGateway, error) {
	if cfg.GatewayBaseURL == "" {
		logger.Warn("GATEWAY_BASE_URL not set, using the sandbox payment gateway")
		return sandbox.New(sandbox.WithSettleAfter(cfg.SandboxSettleAfter)), nil
	}
	httpClient := &http.Client{
		Timeout:   cfg.GatewayTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	c, err := gatewayclient.NewClient(cfg.GatewayBaseURL, httpClient, gatewayclient.WithAPIKey(cfg.GatewayAPIKey))
	if err != nil {
		return nil, fmt.Errorf("configure payment gateway: %w", err)
	}
	return httpgateway.New(c, httpgateway.WithLogger(logger)), nil
}

func connectTemporalClient(cfg Config, instruments *platformobservability.Instruments) (client.Client, error) {
	if cfg.TemporalDisabled {
		return nil, errors.New("temporal disabled via TEMPORAL_DISABLED env")
	}
	tracerOptions := temporalotel.TracerOptions{Tracer: instruments.Tracer("temporal-client")}
	tracingInterceptor, err := temporalotel.NewTracingInterceptor(tracerOptions)
	if err != nil {
		return nil, err
	}
	options := client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    workerlog.NewStructuredLogger(effectiveLogger(instruments)),
	}
	options.Interceptors = append(options.Interceptors, tracingInterceptor)
	return client.Dial(options)
}

func effectiveLogger(instruments *platformobservability.Instruments) *slog.Logger {
	if instruments != nil && instruments.Logger != nil {
		return instruments.Logger
	}
	return slog.Default()
}
