package types

import (
	"fmt"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
)

// PaymentResult is returned by create-and-pay and payment retries.
type PaymentResult struct {
	Order       *domain.Order
	Transaction *domain.Transaction
	CheckoutURL string
	// Replayed is set when an idempotency key matched an earlier request.
	Replayed bool
}

// HintKind tells a client what to show next to the payment status.
type HintKind string

const (
	HintConfirmOnPhone HintKind = "confirm_on_phone"
	HintRedirect       HintKind = "redirect"
	HintPending        HintKind = "pending"
	HintPaid           HintKind = "paid"
	HintFailed         HintKind = "failed"
	HintCancelled      HintKind = "cancelled"
	HintTransient      HintKind = "transient_error"
	HintNotStarted     HintKind = "not_started"
)

// UIHint is a rendering suggestion; it carries no state of its own.
type UIHint struct {
	Kind    HintKind
	Message string
}

// StatusView is one reconciled observation of an order.
type StatusView struct {
	OrderID           string
	Payment           domain.PaymentStatus
	Fulfillment       domain.FulfillmentStatus
	LatestTransaction *domain.Transaction
	CheckoutURL       string
	Hint              UIHint
}

// Terminal reports whether the payment side has settled one way or another.
func (v StatusView) Terminal() bool {
	return v.Payment.IsTerminal()
}

// HintFor derives the hint from the payment status and the rail of the latest attempt.
func HintFor(payment domain.PaymentStatus, latest *domain.Transaction, checkoutURL string) UIHint {
	switch payment {
	case domain.PaymentPaid:
		return UIHint{Kind: HintPaid, Message: "Payment received."}
	case domain.PaymentFailed:
		return UIHint{Kind: HintFailed, Message: "Payment failed. You can try again with another method."}
	case domain.PaymentCancelled:
		return UIHint{Kind: HintCancelled, Message: "Payment was cancelled."}
	case domain.PaymentUnpaid:
		if latest == nil || !latest.Status.IsOpen() {
			return UIHint{Kind: HintNotStarted, Message: "No payment has been started for this order."}
		}
	}
	if latest != nil && latest.Method.IsMobileWallet() {
		return UIHint{
			Kind:    HintConfirmOnPhone,
			Message: fmt.Sprintf("Confirm the payment prompt from %s on your phone.", latest.Method.DisplayName()),
		}
	}
	if checkoutURL != "" {
		return UIHint{Kind: HintRedirect, Message: "Complete the payment on the checkout page."}
	}
	return UIHint{Kind: HintPending, Message: "Waiting for the payment provider to confirm."}
}

// TransientHint is shown when a status check failed and will be retried.
func TransientHint() UIHint {
	return UIHint{Kind: HintTransient, Message: "Could not reach the payment provider, retrying."}
}
