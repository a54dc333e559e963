package mapper

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

// LineItem is one cart line on the wire.
type LineItem struct {
	SKU       string          `json:"sku" binding:"required"`
	Quantity  int32           `json:"quantity" binding:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// CreateOrderRequest is the body of POST /v1/orders.
type CreateOrderRequest struct {
	Items          []LineItem      `json:"items" binding:"required,min=1,dive"`
	ShippingAmount decimal.Decimal `json:"shippingAmount"`
	Currency       string          `json:"currency"`
	Method         string          `json:"method" binding:"required"`
}

// RetryPaymentRequest is the body of POST /v1/orders/:orderId/payments.
type RetryPaymentRequest struct {
	Method string `json:"method" binding:"required"`
}

// CancelRequest is the body of POST /v1/orders/:orderId/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// TransitionRequest moves an order along the fulfillment graph.
type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// TrackingRequest records a carrier tracking number.
type TrackingRequest struct {
	TrackingNumber string `json:"trackingNumber" binding:"required"`
}

// NotesRequest replaces the internal notes.
type NotesRequest struct {
	Notes string `json:"notes"`
}

// Order is the transport shape of the order aggregate.
type Order struct {
	ID                string          `json:"id"`
	Items             []LineItem      `json:"items"`
	Currency          string          `json:"currency"`
	ShippingAmount    decimal.Decimal `json:"shippingAmount"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	FulfillmentStatus string          `json:"fulfillmentStatus"`
	PaymentStatus     string          `json:"paymentStatus"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	InternalNotes     string          `json:"internalNotes,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	Version           int64           `json:"version"`
}

// Transaction is the transport shape of one payment attempt.
type Transaction struct {
	ID                string          `json:"id"`
	Method            string          `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	Status            string          `json:"status"`
	ProviderReference string          `json:"providerReference,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// PaymentResponse answers create-and-pay and payment retries.
type PaymentResponse struct {
	Order       Order        `json:"order"`
	Transaction *Transaction `json:"transaction,omitempty"`
	CheckoutURL string       `json:"checkoutUrl,omitempty"`
	Replayed    bool         `json:"replayed,omitempty"`
}

// Hint tells the client what to render next to the status.
type Hint struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StatusResponse is one reconciled observation; SSE streams send it as the
// data of each status event.
type StatusResponse struct {
	OrderID           string       `json:"orderId"`
	PaymentStatus     string       `json:"paymentStatus,omitempty"`
	FulfillmentStatus string       `json:"fulfillmentStatus,omitempty"`
	LatestTransaction *Transaction `json:"latestTransaction,omitempty"`
	CheckoutURL       string       `json:"checkoutUrl,omitempty"`
	Hint              Hint         `json:"hint"`
	Terminal          bool         `json:"terminal"`
	Attempt           int          `json:"attempt,omitempty"`
	ObservedAt        *time.Time   `json:"observedAt,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// ToCreateOrderInput converts the request body into an application command.
func ToCreateOrderInput(req CreateOrderRequest, idempotencyKey string) types.CreateOrderInput {
	items := make([]types.LineItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, types.LineItemInput{SKU: item.SKU, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return types.CreateOrderInput{
		Items:          items,
		ShippingAmount: req.ShippingAmount,
		Currency:       req.Currency,
		Method:         req.Method,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

// ToListFilter parses admin listing query parameters.
func ToListFilter(fulfillment, payment, sku string, limit int) (ports.ListFilter, error) {
	filter := ports.ListFilter{SKU: strings.TrimSpace(sku), Limit: limit}
	if strings.TrimSpace(fulfillment) != "" {
		status, err := domain.ParseFulfillmentStatus(fulfillment)
		if err != nil {
			return ports.ListFilter{}, err
		}
		filter.Fulfillment = status
	}
	if strings.TrimSpace(payment) != "" {
		status, err := domain.ParsePaymentStatus(payment)
		if err != nil {
			return ports.ListFilter{}, err
		}
		filter.Payment = status
	}
	return filter, nil
}

// FromOrder converts a domain order to the transport representation.
func FromOrder(order *domain.Order) Order {
	if order == nil {
		return Order{}
	}
	items := make([]LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, LineItem{SKU: item.SKU, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return Order{
		ID:                order.ID,
		Items:             items,
		Currency:          order.Currency,
		ShippingAmount:    order.ShippingAmount,
		TotalAmount:       order.TotalAmount,
		FulfillmentStatus: string(order.Fulfillment),
		PaymentStatus:     string(order.Payment),
		TrackingNumber:    order.TrackingNumber,
		InternalNotes:     order.InternalNotes,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
		Version:           order.Version,
	}
}

// FromOrderList converts a slice of domain orders.
func FromOrderList(orders []*domain.Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, order := range orders {
		out = append(out, FromOrder(order))
	}
	return out
}

// FromTransaction converts a payment attempt; nil stays nil.
func FromTransaction(tx *domain.Transaction) *Transaction {
	if tx == nil {
		return nil
	}
	return &Transaction{
		ID:                tx.ID,
		Method:            string(tx.Method),
		Amount:            tx.Amount,
		Status:            string(tx.Status),
		ProviderReference: tx.ProviderReference,
		CreatedAt:         tx.CreatedAt,
	}
}

// FromPaymentResult converts the create-and-pay outcome.
func FromPaymentResult(result *types.PaymentResult) PaymentResponse {
	if result == nil {
		return PaymentResponse{}
	}
	return PaymentResponse{
		Order:       FromOrder(result.Order),
		Transaction: FromTransaction(result.Transaction),
		CheckoutURL: result.CheckoutURL,
		Replayed:    result.Replayed,
	}
}

// FromStatusView converts a reconciled observation.
func FromStatusView(view types.StatusView) StatusResponse {
	return StatusResponse{
		OrderID:           view.OrderID,
		PaymentStatus:     string(view.Payment),
		FulfillmentStatus: string(view.Fulfillment),
		LatestTransaction: FromTransaction(view.LatestTransaction),
		CheckoutURL:       view.CheckoutURL,
		Hint:              Hint{Kind: string(view.Hint.Kind), Message: view.Hint.Message},
		Terminal:          view.Terminal(),
	}
}

// FromFailedObservation reports a status check that failed and will be retried.
func FromFailedObservation(orderID string, err error) StatusResponse {
	hint := types.TransientHint()
	resp := StatusResponse{
		OrderID: orderID,
		Hint:    Hint{Kind: string(hint.Kind), Message: hint.Message},
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
