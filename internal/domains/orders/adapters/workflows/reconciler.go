package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	oteltrace "go.opentelemetry.io/otel/trace"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
	"github.com/Apurer/go-order-reconciler/internal/platform/poller"
	orderworkflows "github.com/Apurer/go-order-reconciler/internal/platform/temporal/workflows/orders"
)

var (
	_ ports.ReconciliationScheduler = (*TemporalReconciler)(nil)
	_ ports.ReconciliationScheduler = (*InlineReconciler)(nil)
)

// runSlack is added to the workflow budget so the final pass can finish.
const runSlack = 5 * time.Minute

// TemporalReconciler starts payment reconciliation workflows on a Temporal cluster.
type TemporalReconciler struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewTemporalReconciler wires a Temporal client into the scheduler.
func NewTemporalReconciler(c client.Client, logger *slog.Logger) *TemporalReconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TemporalReconciler{client: c, taskQueue: orderworkflows.PaymentReconciliationTaskQueue, logger: logger}
}

// ScheduleReconciliation starts the workflow and returns without waiting for it.
// A run already in progress for the order is reused.
func (r *TemporalReconciler) ScheduleReconciliation(ctx context.Context, req ports.ReconciliationRequest) error {
	if r == nil || r.client == nil {
		return errors.New("temporal reconciler not configured")
	}
	if req.OrderID == "" {
		return errors.New("order id is required")
	}
	options := client.StartWorkflowOptions{
		ID:                                       ReconciliationWorkflowID(req.OrderID),
		TaskQueue:                                r.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	if req.Budget > 0 {
		options.WorkflowRunTimeout = req.Budget + runSlack
	}
	run, err := r.client.ExecuteWorkflow(
		ctx,
		options,
		orderworkflows.PaymentReconciliationWorkflowName,
		orderworkflows.PaymentReconciliationInput{
			OrderID:  req.OrderID,
			Interval: req.Interval,
			Budget:   req.Budget,
			TraceID:  workflowTraceID(ctx),
		},
	)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			r.logger.LogAttrs(ctx, slog.LevelDebug, "payment reconciliation already running",
				slog.String("order.id", req.OrderID), slog.String("workflow.run_id", alreadyStarted.RunId))
			return nil
		}
		return err
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "payment reconciliation scheduled",
		slog.String("order.id", req.OrderID),
		slog.String("workflow.id", run.GetID()),
		slog.String("workflow.run_id", run.GetRunID()))
	return nil
}

// ReconciliationWorkflowID is deterministic per order so duplicate schedules collapse.
func ReconciliationWorkflowID(orderID string) string {
	return fmt.Sprintf("payment-reconciliation-%s", orderID)
}

// StatusReader is the part of the order service the inline reconciler polls.
type StatusReader interface {
	Status(ctx context.Context, orderID string) (*types.StatusView, error)
}

// InlineReconciler runs reconciliation in-process with the status poller.
// It is the fallback when no Temporal cluster is configured; work is lost on restart.
type InlineReconciler struct {
	service StatusReader
	clock   clock.Clock
	logger  *slog.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
}

// InlineOption customizes the inline reconciler.
type InlineOption func(*InlineReconciler)

// WithInlineClock overrides the poller clock.
func WithInlineClock(c clock.Clock) InlineOption {
	return func(r *InlineReconciler) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithInlineLogger sets the logger for watch outcomes.
func WithInlineLogger(l *slog.Logger) InlineOption {
	return func(r *InlineReconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewInlineReconciler wraps the order service for in-process reconciliation.
func NewInlineReconciler(service StatusReader, opts ...InlineOption) *InlineReconciler {
	root, cancel := context.WithCancel(context.Background())
	r := &InlineReconciler{
		service: service,
		clock:   clock.New(),
		logger:  slog.New(slog.DiscardHandler),
		root:    root,
		cancel:  cancel,
		active:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ScheduleReconciliation starts a detached watch unless one is already running for the order.
func (r *InlineReconciler) ScheduleReconciliation(_ context.Context, req ports.ReconciliationRequest) error {
	if r == nil || r.service == nil {
		return errors.New("inline reconciler not configured")
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("inline reconciler closed")
	}
	if _, running := r.active[req.OrderID]; running {
		r.mu.Unlock()
		return nil
	}
	r.active[req.OrderID] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(req)
	return nil
}

// Close stops every running watch and waits for them to finish.
func (r *InlineReconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// Running reports how many orders are being reconciled.
func (r *InlineReconciler) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *InlineReconciler) run(req ports.ReconciliationRequest) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, req.OrderID)
		r.mu.Unlock()
	}()

	query := func(ctx context.Context) (types.StatusView, error) {
		view, err := r.service.Status(ctx, req.OrderID)
		if err != nil {
			return types.StatusView{}, err
		}
		return *view, nil
	}
	w := poller.Watch(r.root, query, poller.Options[types.StatusView]{
		Interval:   req.Interval,
		Budget:     req.Budget,
		IsTerminal: types.StatusView.Terminal,
		Clock:      r.clock,
	})

	var last types.StatusView
	failures := 0
	for snap := range w.C {
		if snap.Err != nil {
			failures++
			if errors.Is(snap.Err, ports.ErrNotFound) {
				w.Stop()
			}
			continue
		}
		last = snap.Value
	}
	r.logger.LogAttrs(r.root, slog.LevelInfo, "inline payment reconciliation finished",
		slog.String("order.id", req.OrderID),
		slog.String("payment.status", string(last.Payment)),
		slog.String("reason", string(w.Reason())),
		slog.Int("failures", failures))
}

func workflowTraceID(ctx context.Context) string {
	spanCtx := oteltrace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}
