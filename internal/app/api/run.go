package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	orderserver "github.com/Apurer/go-order-reconciler/go"
	"github.com/Apurer/go-order-reconciler/internal/app/bootstrap"
	platformobservability "github.com/Apurer/go-order-reconciler/internal/platform/observability"
)

const serviceName = "order-reconciler-api"

// Run boots the order HTTP API and blocks until ctx is cancelled or the
// listener fails. In-flight requests drain within cfg.ShutdownTimeout.
func Run(ctx context.Context) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	instruments, shutdown, err := platformobservability.Init(ctx, cfg.Telemetry(serviceName))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()
	logger := instruments.Logger

	deps, err := bootstrap.Build(ctx, cfg, instruments, bootstrap.ScheduleReconciliation)
	if err != nil {
		return err
	}
	defer deps.Close()

	handlers := orderserver.ApiHandleFunctions{
		OrderAPI: orderserver.NewOrderAPI(deps.Service,
			orderserver.WithMaxWatchBudget(cfg.MaxWatchBudget),
			orderserver.WithMinWatchInterval(cfg.MinWatchInterval),
		),
		AdminAPI: orderserver.NewAdminAPI(deps.Service),
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	router := orderserver.NewRouterWithGinEngine(engine, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("order API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("order API server exited", slog.String("addr", srv.Addr), slog.String("error", err.Error()))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("order API shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
