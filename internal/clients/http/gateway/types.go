package gateway

import (
	"encoding/json"
	"time"
)

// PaymentRequest is the body of POST /v1/payments.
type PaymentRequest struct {
	OrderID  string `json:"order_id"`
	Method   string `json:"method"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// PaymentResponse is returned when a payment attempt is opened.
type PaymentResponse struct {
	TransactionID     string          `json:"transaction_id"`
	ProviderReference string          `json:"provider_reference"`
	Status            string          `json:"status"`
	CheckoutURL       string          `json:"checkout_url,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

// Transaction is the gateway's record of one attempt.
type Transaction struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	Method            string          `json:"method"`
	Amount            string          `json:"amount"`
	ProviderReference string          `json:"provider_reference"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	Details           json.RawMessage `json:"details,omitempty"`
}

// OrderStatusResponse is returned by GET /v1/orders/{id}/status.
type OrderStatusResponse struct {
	OrderID      string        `json:"order_id"`
	Status       string        `json:"status"`
	Transactions []Transaction `json:"transactions"`
}

// TransactionPage is one page of GET /v1/transactions.
type TransactionPage struct {
	Items    []Transaction `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	HasMore  bool          `json:"has_more"`
}

// ErrorBody is the gateway's error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
