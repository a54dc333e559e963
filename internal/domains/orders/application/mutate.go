package application

import (
	"context"
	"errors"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

const defaultMaxUpdateAttempts = 5

// mutation changes a freshly loaded order. Returning changed=false skips the write.
type mutation func(order *domain.Order) (changed bool, err error)

// updateOrder runs load, mutate and compare-and-swap. A concurrent writer
// forces a reload, so fn always validates against the latest stored state.
func updateOrder(ctx context.Context, store ports.Store, orderID string, attempts int, fn mutation) (*domain.Order, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		order, err := store.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		changed, err := fn(order)
		if err != nil {
			return nil, err
		}
		if !changed {
			return order, nil
		}
		saved, err := store.Update(ctx, order)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ports.ErrConcurrentUpdate) {
			return nil, err
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
