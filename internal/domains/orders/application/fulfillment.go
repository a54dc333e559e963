package application

import (
	"context"
	"log/slog"

	"github.com/facebookgo/clock"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

// FulfillmentService drives the fulfillment state machine on stored orders.
type FulfillmentService struct {
	store       ports.Store
	events      ports.EventPublisher
	clock       clock.Clock
	logger      *slog.Logger
	maxAttempts int
}

// FulfillmentOption customizes the fulfillment service.
type FulfillmentOption func(*FulfillmentService)

// WithFulfillmentClock overrides the time source.
func WithFulfillmentClock(c clock.Clock) FulfillmentOption {
	return func(s *FulfillmentService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithFulfillmentEvents publishes fulfillment events after each committed change.
func WithFulfillmentEvents(p ports.EventPublisher) FulfillmentOption {
	return func(s *FulfillmentService) {
		s.events = p
	}
}

// WithFulfillmentLogger sets the logger used for event publishing failures.
func WithFulfillmentLogger(l *slog.Logger) FulfillmentOption {
	return func(s *FulfillmentService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxUpdateAttempts bounds the reload and retry loop on concurrent writes.
func WithMaxUpdateAttempts(n int) FulfillmentOption {
	return func(s *FulfillmentService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewFulfillmentService wires the fulfillment state machine to a store.
func NewFulfillmentService(store ports.Store, opts ...FulfillmentOption) *FulfillmentService {
	s := &FulfillmentService{
		store:       store,
		clock:       clock.New(),
		logger:      slog.New(slog.DiscardHandler),
		maxAttempts: defaultMaxUpdateAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Transition moves the order to target if target is a direct successor.
func (s *FulfillmentService) Transition(ctx context.Context, orderID string, target domain.FulfillmentStatus) (*domain.Order, error) {
	var from domain.FulfillmentStatus
	var payment domain.PaymentStatus
	saved, err := updateOrder(ctx, s.store, orderID, s.maxAttempts, func(order *domain.Order) (bool, error) {
		from, payment = order.Fulfillment, order.Payment
		return true, order.Transition(target, s.clock.Now())
	})
	if err != nil {
		return nil, mapError(err)
	}
	events := []domain.Event{domain.FulfillmentStatusChanged{
		BaseEvent: domain.BaseEvent{OrderID: saved.ID, Timestamp: saved.UpdatedAt},
		From:      from,
		To:        saved.Fulfillment,
	}}
	if saved.Fulfillment == domain.FulfillmentCancelled {
		events = append(events, cancelledEvent(saved, "", payment))
	}
	s.publish(ctx, events...)
	return saved, nil
}

// SetTracking records the carrier tracking number.
func (s *FulfillmentService) SetTracking(ctx context.Context, orderID, number string) (*domain.Order, error) {
	saved, err := updateOrder(ctx, s.store, orderID, s.maxAttempts, func(order *domain.Order) (bool, error) {
		return true, order.SetTracking(number, s.clock.Now())
	})
	if err != nil {
		return nil, mapError(err)
	}
	return saved, nil
}

// SetNotes replaces the administrator notes unconditionally.
func (s *FulfillmentService) SetNotes(ctx context.Context, orderID, text string) (*domain.Order, error) {
	saved, err := updateOrder(ctx, s.store, orderID, s.maxAttempts, func(order *domain.Order) (bool, error) {
		order.SetNotes(text, s.clock.Now())
		return true, nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return saved, nil
}

// Cancel stops fulfillment while the order is still pending or confirmed.
func (s *FulfillmentService) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	var from domain.FulfillmentStatus
	var payment domain.PaymentStatus
	saved, err := updateOrder(ctx, s.store, orderID, s.maxAttempts, func(order *domain.Order) (bool, error) {
		from, payment = order.Fulfillment, order.Payment
		return true, order.Cancel(reason, s.clock.Now())
	})
	if err != nil {
		return nil, mapError(err)
	}
	s.publish(ctx,
		domain.FulfillmentStatusChanged{
			BaseEvent: domain.BaseEvent{OrderID: saved.ID, Timestamp: saved.UpdatedAt},
			From:      from,
			To:        saved.Fulfillment,
		},
		cancelledEvent(saved, reason, payment),
	)
	return saved, nil
}

func (s *FulfillmentService) publish(ctx context.Context, events ...domain.Event) {
	publishEvents(ctx, s.events, s.logger, events...)
}

func cancelledEvent(order *domain.Order, reason string, paymentBefore domain.PaymentStatus) domain.OrderCancelled {
	return domain.OrderCancelled{
		BaseEvent:     domain.BaseEvent{OrderID: order.ID, Timestamp: order.UpdatedAt},
		Reason:        reason,
		PaymentStatus: order.Payment,
		NotifyGateway: paymentBefore == domain.PaymentAwaitingConfirmation,
	}
}

func publishEvents(ctx context.Context, publisher ports.EventPublisher, logger *slog.Logger, events ...domain.Event) {
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, events...); err != nil {
		logger.LogAttrs(ctx, slog.LevelWarn, "failed to publish order events",
			slog.String("order.id", events[0].AggregateID()),
			slog.Int("events.count", len(events)),
			slog.String("error", err.Error()))
	}
}

var _ ports.Fulfillment = (*FulfillmentService)(nil)
