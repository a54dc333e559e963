package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentStatus enumerates the money settlement stages of an order.
type PaymentStatus string

const (
	PaymentUnpaid               PaymentStatus = "unpaid"
	PaymentAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentPaid                 PaymentStatus = "paid"
	PaymentFailed               PaymentStatus = "failed"
	PaymentCancelled            PaymentStatus = "cancelled"
)

// IsValid reports whether s is a known payment status.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentUnpaid, PaymentAwaitingConfirmation, PaymentPaid, PaymentFailed, PaymentCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a watcher can stop polling.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentFailed || s == PaymentCancelled
}

// ParsePaymentStatus normalizes a persisted payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// ApplyPayment records a reconciled payment status and reports whether the
// order changed. Paid is sticky. A cancelled order only accepts a late paid
// settlement. Nothing moves an order back to unpaid.
func (o *Order) ApplyPayment(status PaymentStatus, at time.Time) (bool, error) {
	if !status.IsValid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if status == o.Payment || status == PaymentUnpaid || o.Payment == PaymentPaid {
		return false, nil
	}
	if o.Payment == PaymentCancelled && status != PaymentPaid {
		return false, nil
	}
	o.Payment = status
	o.touch(at)
	return true, nil
}

// CanRetryPayment reports whether a new payment attempt may be started.
func (o *Order) CanRetryPayment() bool {
	if o.Fulfillment == FulfillmentCancelled {
		return false
	}
	return o.Payment == PaymentUnpaid || o.Payment == PaymentFailed
}
