package domain

import "time"

// Event is the base interface for all domain events.
type Event interface {
	EventName() string
	OccurredAt() time.Time
	AggregateID() string
}

// BaseEvent provides common event metadata.
type BaseEvent struct {
	OrderID   string
	Timestamp time.Time
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID returns the order the event belongs to.
func (e BaseEvent) AggregateID() string {
	return e.OrderID
}

// OrderCreated is raised when an order is persisted for the first time.
type OrderCreated struct {
	BaseEvent
	TotalAmount string
	Currency    string
	Method      Method
}

// EventName returns the event type identifier.
func (e OrderCreated) EventName() string {
	return "orders.order.created"
}

// PaymentStatusChanged is raised when reconciliation moves the payment status.
type PaymentStatusChanged struct {
	BaseEvent
	From          PaymentStatus
	To            PaymentStatus
	TransactionID string
}

// EventName returns the event type identifier.
func (e PaymentStatusChanged) EventName() string {
	return "orders.payment.status_changed"
}

// FulfillmentStatusChanged is raised on every accepted fulfillment transition.
type FulfillmentStatusChanged struct {
	BaseEvent
	From FulfillmentStatus
	To   FulfillmentStatus
}

// EventName returns the event type identifier.
func (e FulfillmentStatusChanged) EventName() string {
	return "orders.fulfillment.status_changed"
}

// OrderCancelled is raised when an order is cancelled.
type OrderCancelled struct {
	BaseEvent
	Reason        string
	PaymentStatus PaymentStatus
	NotifyGateway bool
}

// EventName returns the event type identifier.
func (e OrderCancelled) EventName() string {
	return "orders.order.cancelled"
}
