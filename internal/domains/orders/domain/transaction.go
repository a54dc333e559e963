package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method identifies the payment rail a transaction runs on.
type Method string

const (
	MethodMobileWalletA Method = "mobile-wallet-a"
	MethodMobileWalletB Method = "mobile-wallet-b"
	MethodCard          Method = "card"
)

// ParseMethod validates a client supplied payment method.
func ParseMethod(raw string) (Method, error) {
	method := Method(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case MethodMobileWalletA, MethodMobileWalletB, MethodCard:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, raw)
	}
}

// DisplayName is the customer facing label of the rail.
func (m Method) DisplayName() string {
	switch m {
	case MethodMobileWalletA:
		return "Mobile Wallet A"
	case MethodMobileWalletB:
		return "Mobile Wallet B"
	case MethodCard:
		return "card"
	default:
		return string(m)
	}
}

// IsMobileWallet reports whether confirmation happens on the payer's phone.
func (m Method) IsMobileWallet() bool {
	return m == MethodMobileWalletA || m == MethodMobileWalletB
}

// TransactionStatus is the gateway's vocabulary for one payment attempt.
type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionPaid       TransactionStatus = "paid"
	TransactionFailed     TransactionStatus = "failed"
	TransactionCancelled  TransactionStatus = "cancelled"
)

// ParseTransactionStatus maps gateway strings, tolerating casing and a few
// common synonyms, onto the known vocabulary.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "created", "initiated":
		return TransactionPending, nil
	case "processing", "in_progress":
		return TransactionProcessing, nil
	case "paid", "success", "successful", "completed", "settled":
		return TransactionPaid, nil
	case "failed", "declined", "rejected", "expired":
		return TransactionFailed, nil
	case "cancelled", "canceled":
		return TransactionCancelled, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction status %q", ErrInvalidStatus, raw)
	}
}

// PaymentStatus maps the gateway vocabulary 1:1 onto the order's payment domain.
func (s TransactionStatus) PaymentStatus() PaymentStatus {
	switch s {
	case TransactionPaid:
		return PaymentPaid
	case TransactionFailed:
		return PaymentFailed
	case TransactionCancelled:
		return PaymentCancelled
	default:
		return PaymentAwaitingConfirmation
	}
}

// IsOpen reports whether the attempt can still settle either way.
func (s TransactionStatus) IsOpen() bool {
	return s == TransactionPending || s == TransactionProcessing
}

// Transaction is one attempt to move money for an order. Transactions are
// append-only; a retry produces a new one.
type Transaction struct {
	ID                string
	OrderID           string
	Method            Method
	Amount            decimal.Decimal
	ProviderReference string
	Status            TransactionStatus
	RawResponse       json.RawMessage
	CreatedAt         time.Time
}

var checkoutURLKeys = []string{"checkout_url", "checkoutUrl", "redirect_url", "redirectUrl", "payment_url"}

// CheckoutURL digs a human followable URL out of the raw gateway response.
func (t Transaction) CheckoutURL() string {
	if len(t.RawResponse) == 0 {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(t.RawResponse, &payload); err != nil {
		return ""
	}
	for _, key := range checkoutURLKeys {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	if data, ok := payload["data"].(map[string]any); ok {
		for _, key := range checkoutURLKeys {
			if v, ok := data[key].(string); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return ""
}

// LatestTransaction returns the most recently created transaction. Input
// order is irrelevant; ties are broken by ID to stay deterministic.
func LatestTransaction(txs []Transaction) *Transaction {
	if len(txs) == 0 {
		return nil
	}
	sorted := append([]Transaction{}, txs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	latest := sorted[len(sorted)-1]
	return &latest
}

// HasOpenAttempt reports whether the most recent attempt is still waiting on
// the gateway.
func HasOpenAttempt(txs []Transaction) bool {
	latest := LatestTransaction(txs)
	return latest != nil && latest.Status.IsOpen()
}

// ReconcilePayment derives the order payment status from the gateway's view.
// Any paid transaction settles the order; otherwise the latest attempt
// decides. With no transactions the gateway's order level status is used.
func ReconcilePayment(txs []Transaction, orderStatus TransactionStatus) (PaymentStatus, *Transaction) {
	latest := LatestTransaction(txs)
	for _, tx := range txs {
		if tx.Status == TransactionPaid {
			return PaymentPaid, latest
		}
	}
	if latest != nil {
		return latest.Status.PaymentStatus(), latest
	}
	if orderStatus != "" {
		return orderStatus.PaymentStatus(), nil
	}
	return PaymentUnpaid, nil
}
