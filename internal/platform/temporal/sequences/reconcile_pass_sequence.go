package sequences

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	orderactivities "github.com/Apurer/go-order-reconciler/internal/platform/temporal/activities/orders"
)

// RunReconcilePassSequence executes a single reconciliation pass with its own retry policy.
func RunReconcilePassSequence(ctx workflow.Context, orderID string) (*orderactivities.ReconcilePaymentResult, error) {
	options := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        10 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{orderactivities.OrderNotFoundErrorType},
		},
	}
	var result orderactivities.ReconcilePaymentResult
	err := workflow.ExecuteActivity(
		workflow.WithActivityOptions(ctx, options),
		orderactivities.ReconcilePaymentActivityName,
		orderactivities.ReconcilePaymentInput{OrderID: orderID},
	).Get(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
