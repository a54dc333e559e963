package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Apurer/go-order-reconciler/internal/app/bootstrap"
	platformobservability "github.com/Apurer/go-order-reconciler/internal/platform/observability"
	orderactivities "github.com/Apurer/go-order-reconciler/internal/platform/temporal/activities/orders"
	orderworkflows "github.com/Apurer/go-order-reconciler/internal/platform/temporal/workflows/orders"
)

const serviceName = "order-reconciler-worker"

// Run starts the Temporal worker that executes payment reconciliation
// workflows. It returns when ctx is cancelled or the worker fails.
func Run(ctx context.Context) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.TemporalDisabled {
		return errors.New("worker requires Temporal; unset TEMPORAL_DISABLED")
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

	// The workflow is the reconciler here, so nothing else is scheduled.
	deps, err := bootstrap.Build(ctx, cfg, instruments, bootstrap.NoScheduling)
	if err != nil {
		return err
	}
	defer deps.Close()
	if deps.Temporal == nil {
		return fmt.Errorf("failed to create Temporal client for %s", cfg.TemporalAddress)
	}

	reconcileActivities := orderactivities.NewActivities(deps.Service)
	w := worker.New(deps.Temporal, orderworkflows.PaymentReconciliationTaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(orderworkflows.PaymentReconciliationWorkflow, workflow.RegisterOptions{Name: orderworkflows.PaymentReconciliationWorkflowName})
	w.RegisterActivityWithOptions(reconcileActivities.ReconcilePayment, activity.RegisterOptions{Name: orderactivities.ReconcilePaymentActivityName})

	logger.Info("worker listening",
		slog.String("taskQueue", orderworkflows.PaymentReconciliationTaskQueue),
		slog.String("namespace", cfg.TemporalNamespace),
	)
	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	if err := w.Run(stop); err != nil {
		logger.Error("Temporal worker exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Temporal worker stopped")
	return nil
}
