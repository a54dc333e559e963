package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyOrderID      = errors.New("order id is required")
	ErrEmptyItems        = errors.New("order must contain at least one item")
	ErrInvalidSKU        = errors.New("item sku is required")
	ErrInvalidQuantity   = errors.New("item quantity must be greater than zero")
	ErrNegativeAmount    = errors.New("amounts must not be negative")
	ErrInvalidCurrency   = errors.New("currency must be a three-letter code")
	ErrEmptyTracking     = errors.New("tracking number is required")
	ErrInvalidStatus     = errors.New("order status is invalid")
	ErrIllegalTransition = errors.New("illegal fulfillment transition")
	ErrNotCancellable    = errors.New("order is not cancellable")
	ErrInvalidState      = errors.New("operation not allowed in the current fulfillment state")
	ErrInvalidMethod     = errors.New("payment method is not supported")
)

// LineItem is one entry of the cart snapshot the order was created from.
type LineItem struct {
	SKU       string
	Quantity  int32
	UnitPrice decimal.Decimal
}

// Subtotal returns quantity times unit price.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt32(i.Quantity))
}

// Order is the purchase order aggregate. Fulfillment and payment progress are
// tracked independently and only meet in the lifecycle coordinator.
type Order struct {
	ID             string
	Items          []LineItem
	Currency       string
	ShippingAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	Fulfillment    FulfillmentStatus
	Payment        PaymentStatus
	TrackingNumber string
	InternalNotes  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// Version is the optimistic concurrency token maintained by the store.
	Version int64
}

// NewOrder validates the cart snapshot and builds a pending, unpaid order.
func NewOrder(id string, items []LineItem, shipping decimal.Decimal, currency string, now time.Time) (*Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyOrderID
	}
	order := &Order{
		ID:             id,
		Items:          append([]LineItem{}, items...),
		Currency:       strings.ToUpper(strings.TrimSpace(currency)),
		ShippingAmount: shipping,
		Fulfillment:    FulfillmentPending,
		Payment:        PaymentUnpaid,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	order.TotalAmount = order.computeTotal()
	return order, nil
}

// Validate enforces the aggregate invariants.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return ErrEmptyOrderID
	}
	if len(o.Items) == 0 {
		return ErrEmptyItems
	}
	for _, item := range o.Items {
		if strings.TrimSpace(item.SKU) == "" {
			return ErrInvalidSKU
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: sku %s", ErrInvalidQuantity, item.SKU)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: sku %s", ErrNegativeAmount, item.SKU)
		}
	}
	if o.ShippingAmount.IsNegative() {
		return ErrNegativeAmount
	}
	if len(o.Currency) != 3 {
		return ErrInvalidCurrency
	}
	if !o.Fulfillment.IsValid() || !o.Payment.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// SetTracking records the carrier tracking number. Setting the same value
// again is allowed and only refreshes UpdatedAt.
func (o *Order) SetTracking(number string, at time.Time) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return ErrEmptyTracking
	}
	switch o.Fulfillment {
	case FulfillmentProcessing, FulfillmentShipped, FulfillmentDelivered:
	default:
		return fmt.Errorf("%w: cannot set tracking while %s", ErrInvalidState, o.Fulfillment)
	}
	o.TrackingNumber = number
	o.touch(at)
	return nil
}

// SetNotes replaces the administrator notes.
func (o *Order) SetNotes(text string, at time.Time) {
	o.InternalNotes = text
	o.touch(at)
}

func (o *Order) touch(at time.Time) {
	if at.After(o.UpdatedAt) {
		o.UpdatedAt = at
		return
	}
	// Clocks with coarse resolution must still advance UpdatedAt.
	o.UpdatedAt = o.UpdatedAt.Add(time.Nanosecond)
}

func (o *Order) computeTotal() decimal.Decimal {
	total := o.ShippingAmount
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Clone returns a deep copy safe to hand across adapter boundaries.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem{}, o.Items...)
	return &clone
}
