package ports

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
)

var (
	// ErrGatewayUnavailable is retryable: the gateway could not be reached or failed internally.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected is terminal for the attempt: the gateway refused the payment.
	ErrRejected = errors.New("payment rejected by gateway")
)

// InitiateRequest starts a payment attempt for an order.
type InitiateRequest struct {
	OrderID  string
	Method   domain.Method
	Amount   decimal.Decimal
	Currency string
	// IdempotencyKey identifies the attempt. Resending the same key must not
	// open a second charge.
	IdempotencyKey string
}

// InitiateResult describes the transaction the gateway opened.
type InitiateResult struct {
	TransactionID     string
	ProviderReference string
	CheckoutURL       string
	Status            domain.TransactionStatus
	RawResponse       json.RawMessage
}

// GatewayStatus is the gateway's view of an order. Transactions are unordered.
type GatewayStatus struct {
	OrderStatus  domain.TransactionStatus
	Transactions []domain.Transaction
}

// PaymentGateway talks to the third party payment provider.
type PaymentGateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	// QueryStatus is an idempotent read; adapters hide any fallback lookups.
	QueryStatus(ctx context.Context, orderID string) (*GatewayStatus, error)
	CancelPayment(ctx context.Context, orderID string) error
}
