package ports

import (
	"context"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
)

// EventPublisher forwards domain events to interested systems. Publishing is
// best effort; callers log failures and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.Event) error
}
