package domain

import (
	"fmt"
	"strings"
	"time"
)

// FulfillmentStatus enumerates the physical handling stages of an order.
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentConfirmed  FulfillmentStatus = "confirmed"
	FulfillmentProcessing FulfillmentStatus = "processing"
	FulfillmentShipped    FulfillmentStatus = "shipped"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
	FulfillmentCancelled  FulfillmentStatus = "cancelled"
)

// successors is the directed fulfillment graph. There are no back-edges.
var successors = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentPending:    {FulfillmentConfirmed, FulfillmentCancelled},
	FulfillmentConfirmed:  {FulfillmentProcessing, FulfillmentCancelled},
	FulfillmentProcessing: {FulfillmentShipped},
	FulfillmentShipped:    {FulfillmentDelivered},
}

// IsValid reports whether s is a known fulfillment status.
func (s FulfillmentStatus) IsValid() bool {
	switch s {
	case FulfillmentPending, FulfillmentConfirmed, FulfillmentProcessing,
		FulfillmentShipped, FulfillmentDelivered, FulfillmentCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s FulfillmentStatus) IsTerminal() bool {
	return s == FulfillmentDelivered || s == FulfillmentCancelled
}

// Cancellable reports whether an end user may still cancel.
func (s FulfillmentStatus) Cancellable() bool {
	return s == FulfillmentPending || s == FulfillmentConfirmed
}

// CanTransitionTo reports whether target is a direct successor of s.
func (s FulfillmentStatus) CanTransitionTo(target FulfillmentStatus) bool {
	for _, next := range successors[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ParseFulfillmentStatus normalizes user input into a known status.
func ParseFulfillmentStatus(raw string) (FulfillmentStatus, error) {
	status := FulfillmentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// Transition moves the order along the fulfillment graph. Moving to cancelled
// applies the same side effects as Cancel with an empty reason.
func (o *Order) Transition(target FulfillmentStatus, at time.Time) error {
	if !target.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if o.Fulfillment.IsTerminal() || !o.Fulfillment.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Fulfillment, target)
	}
	if target == FulfillmentCancelled {
		return o.Cancel("", at)
	}
	o.Fulfillment = target
	o.touch(at)
	return nil
}

// Cancel stops fulfillment. Payment is marked cancelled unless the money has
// already settled; the reason is appended to the internal notes.
func (o *Order) Cancel(reason string, at time.Time) error {
	if !o.Fulfillment.Cancellable() {
		return fmt.Errorf("%w: order is %s", ErrNotCancellable, o.Fulfillment)
	}
	o.Fulfillment = FulfillmentCancelled
	if o.Payment != PaymentPaid {
		o.Payment = PaymentCancelled
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		line := "cancelled: " + reason
		if o.InternalNotes == "" {
			o.InternalNotes = line
		} else {
			o.InternalNotes = o.InternalNotes + "\n" + line
		}
	}
	o.touch(at)
	return nil
}
