package ports

import (
	"context"
	"time"
)

// ReconciliationRequest asks for server side settlement tracking of an order.
type ReconciliationRequest struct {
	OrderID  string
	Interval time.Duration
	Budget   time.Duration
}

// ReconciliationScheduler keeps reconciling an order after the client stopped watching.
type ReconciliationScheduler interface {
	ScheduleReconciliation(ctx context.Context, req ReconciliationRequest) error
}
