package orders

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	orderactivities "github.com/Apurer/go-order-reconciler/internal/platform/temporal/activities/orders"
	"github.com/Apurer/go-order-reconciler/internal/platform/temporal/sequences"
)

const (
	// PaymentReconciliationWorkflowName is the public identifier for registering the workflow.
	PaymentReconciliationWorkflowName = "orders.workflows.PaymentReconciliation"
	// PaymentReconciliationTaskQueue is the queue consumed by the worker processing reconciliation.
	PaymentReconciliationTaskQueue = "PAYMENT_RECONCILIATION"

	defaultInterval = 15 * time.Second
	defaultBudget   = 30 * time.Minute
)

// PaymentReconciliationInput configures one server side reconciliation run.
type PaymentReconciliationInput struct {
	OrderID  string
	Interval time.Duration
	Budget   time.Duration
	TraceID  string
}

// PaymentReconciliationOutcome summarizes how the run ended.
type PaymentReconciliationOutcome struct {
	OrderID  string
	Payment  string
	Terminal bool
	Passes   int
	Failures int
}

// PaymentReconciliationWorkflow reconciles an order until its payment settles or the budget runs out.
// Failed passes are logged and retried on the next tick.
func PaymentReconciliationWorkflow(ctx workflow.Context, input PaymentReconciliationInput) (*PaymentReconciliationOutcome, error) {
	logger := workflow.GetLogger(ctx)
	if input.Interval <= 0 {
		input.Interval = defaultInterval
	}
	if input.Budget <= 0 {
		input.Budget = defaultBudget
	}
	deadline := workflow.Now(ctx).Add(input.Budget)
	outcome := &PaymentReconciliationOutcome{OrderID: input.OrderID}
	logger.Info("PaymentReconciliationWorkflow started", withTraceID(input.TraceID, "orderId", input.OrderID)...)

	for {
		outcome.Passes++
		result, err := sequences.RunReconcilePassSequence(ctx, input.OrderID)
		switch {
		case err != nil && isOrderNotFound(err):
			logger.Error("PaymentReconciliationWorkflow order missing", withTraceID(input.TraceID, "orderId", input.OrderID)...)
			return outcome, err
		case err != nil:
			outcome.Failures++
			logger.Warn("reconciliation pass failed", withTraceID(input.TraceID, "orderId", input.OrderID, "error", err)...)
		default:
			outcome.Payment = result.Payment
			if result.Terminal {
				outcome.Terminal = true
				logger.Info("PaymentReconciliationWorkflow settled", withTraceID(input.TraceID, "orderId", input.OrderID, "payment", result.Payment)...)
				return outcome, nil
			}
		}

		if !workflow.Now(ctx).Add(input.Interval).Before(deadline) {
			logger.Info("PaymentReconciliationWorkflow budget exhausted", withTraceID(input.TraceID, "orderId", input.OrderID, "passes", outcome.Passes)...)
			return outcome, nil
		}
		if err := workflow.Sleep(ctx, input.Interval); err != nil {
			return outcome, err
		}
	}
}

func isOrderNotFound(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == orderactivities.OrderNotFoundErrorType
}

func withTraceID(traceID string, keyvals ...interface{}) []interface{} {
	if traceID == "" {
		return keyvals
	}
	return append(keyvals, "traceId", traceID)
}
