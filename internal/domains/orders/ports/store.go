package ports

import (
	"context"
	"errors"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrAlreadyExists    = errors.New("order already exists")
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
)

// ListFilter narrows order listings. Empty fields match everything.
type ListFilter struct {
	Fulfillment domain.FulfillmentStatus
	Payment     domain.PaymentStatus
	SKU         string
	Limit       int
}

// Matches reports whether the order satisfies the filter, ignoring Limit.
func (f ListFilter) Matches(order *domain.Order) bool {
	if f.Fulfillment != "" && order.Fulfillment != f.Fulfillment {
		return false
	}
	if f.Payment != "" && order.Payment != f.Payment {
		return false
	}
	if f.SKU == "" {
		return true
	}
	for _, item := range order.Items {
		if item.SKU == f.SKU {
			return true
		}
	}
	return false
}

// Store persists orders and their append-only payment transaction log.
type Store interface {
	// Create stores a new order at version 1.
	Create(ctx context.Context, order *domain.Order) (*domain.Order, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	// Update writes the order when the stored version equals order.Version and
	// returns the persisted copy with the incremented version. A mismatch yields
	// ErrConcurrentUpdate and leaves the stored order untouched.
	Update(ctx context.Context, order *domain.Order) (*domain.Order, error)
	// List returns orders matching every non-empty filter field, oldest first.
	List(ctx context.Context, filter ListFilter) ([]*domain.Order, error)
	// AppendTransaction adds a payment attempt. Appending an already known ID is a no-op.
	AppendTransaction(ctx context.Context, tx domain.Transaction) error
	// ListTransactions returns every transaction of the order in no particular order.
	ListTransactions(ctx context.Context, orderID string) ([]domain.Transaction, error)
}
