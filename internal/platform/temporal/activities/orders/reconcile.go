package orders

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

const (
	// ReconcilePaymentActivityName runs one reconciliation pass against the gateway.
	ReconcilePaymentActivityName = "orders.activities.ReconcilePayment"
	// OrderNotFoundErrorType marks activity failures that must not be retried.
	OrderNotFoundErrorType = "OrderNotFound"
)

// StatusReader is the slice of the order service the activities need.
type StatusReader interface {
	Status(ctx context.Context, orderID string) (*types.StatusView, error)
}

// ReconcilePaymentInput identifies the order to reconcile.
type ReconcilePaymentInput struct {
	OrderID string
}

// ReconcilePaymentResult is the serializable outcome of a pass.
type ReconcilePaymentResult struct {
	OrderID     string
	Payment     string
	Fulfillment string
	Terminal    bool
}

// Activities groups activities that operate on the orders bounded context.
type Activities struct {
	service StatusReader
}

// NewActivities wires the order service into the Temporal activities bundle.
func NewActivities(service StatusReader) *Activities {
	return &Activities{service: service}
}

// ReconcilePayment queries the gateway once and persists any payment change.
func (a *Activities) ReconcilePayment(ctx context.Context, input ReconcilePaymentInput) (*ReconcilePaymentResult, error) {
	logger := activity.GetLogger(ctx)
	if a == nil || a.service == nil {
		logger.Error("reconcile activity not initialized", "orderId", input.OrderID)
		return nil, errors.New("reconcile activity not initialized")
	}
	view, err := a.service.Status(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, temporal.NewNonRetryableApplicationError("order not found", OrderNotFoundErrorType, err)
		}
		logger.Warn("ReconcilePayment pass failed", "orderId", input.OrderID, "error", err)
		return nil, err
	}
	logger.Info("ReconcilePayment pass completed", "orderId", input.OrderID, "payment", string(view.Payment))
	return &ReconcilePaymentResult{
		OrderID:     view.OrderID,
		Payment:     string(view.Payment),
		Fulfillment: string(view.Fulfillment),
		Terminal:    view.Terminal(),
	}, nil
}
