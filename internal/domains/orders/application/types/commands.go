package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItemInput is one cart line as submitted by the storefront.
type LineItemInput struct {
	SKU       string
	Quantity  int32
	UnitPrice decimal.Decimal
}

// CreateOrderInput carries the cart snapshot and the chosen payment rail.
type CreateOrderInput struct {
	Items          []LineItemInput
	ShippingAmount decimal.Decimal
	Currency       string
	Method         string
	// IdempotencyKey is optional; when set, retries with the same cart replay the first result.
	IdempotencyKey string
}

// RetryPaymentInput starts a fresh payment attempt for an existing order.
type RetryPaymentInput struct {
	OrderID string
	Method  string
}

// WatchOptions bounds an Observe stream. Zero values use the service defaults.
type WatchOptions struct {
	Interval time.Duration
	Budget   time.Duration
}
