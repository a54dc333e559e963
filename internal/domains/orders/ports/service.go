package ports

import (
	"context"

	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/platform/poller"
)

// Fulfillment applies administrative changes to an order, independent of payment.
type Fulfillment interface {
	Transition(ctx context.Context, orderID string, target domain.FulfillmentStatus) (*domain.Order, error)
	SetTracking(ctx context.Context, orderID, number string) (*domain.Order, error)
	SetNotes(ctx context.Context, orderID, text string) (*domain.Order, error)
	Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error)
}

// Service is the order lifecycle facade exposed to driving adapters.
type Service interface {
	CreateAndPay(ctx context.Context, input types.CreateOrderInput) (*types.PaymentResult, error)
	RetryPayment(ctx context.Context, input types.RetryPaymentInput) (*types.PaymentResult, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]*domain.Order, error)
	// Status runs one reconciliation pass and persists any payment change.
	Status(ctx context.Context, orderID string) (*types.StatusView, error)
	// Observe streams reconciliation passes until the payment settles or the watch budget runs out.
	Observe(ctx context.Context, orderID string, opts types.WatchOptions) (*poller.Watcher[types.StatusView], error)
	RequestCancellation(ctx context.Context, orderID, reason string) (*domain.Order, error)
	Transition(ctx context.Context, orderID string, target domain.FulfillmentStatus) (*domain.Order, error)
	SetTracking(ctx context.Context, orderID, number string) (*domain.Order, error)
	SetNotes(ctx context.Context, orderID, text string) (*domain.Order, error)
}
