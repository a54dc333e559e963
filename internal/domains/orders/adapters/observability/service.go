package observability

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
	"github.com/Apurer/go-order-reconciler/internal/platform/poller"
)

const tracerName = "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/observability/service"

// Service decorates the order lifecycle service with tracing, logging, and metrics.
type Service struct {
	inner   ports.Service
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics serviceMetrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tr
	}
}

func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		s.metrics = newServiceMetrics(m)
	}
}

// New wraps the core order service.
func New(inner ports.Service, opts ...Option) ports.Service {
	s := &Service{
		inner:   inner,
		tracer:  nooptrace.NewTracerProvider().Tracer(tracerName),
		logger:  slog.New(slog.DiscardHandler),
		metrics: newServiceMetrics(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	return s
}

func (s *Service) CreateAndPay(ctx context.Context, input types.CreateOrderInput) (*types.PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateAndPay",
		trace.WithAttributes(attribute.String("payment.method", input.Method), attribute.Int("order.items", len(input.Items))))
	defer span.End()

	s.logInfo(ctx, "creating order", slog.String("payment.method", input.Method), slog.Bool("idempotent", input.IdempotencyKey != ""))
	result, err := s.inner.CreateAndPay(ctx, input)
	if result != nil && result.Order != nil {
		span.SetAttributes(attribute.String("order.id", result.Order.ID))
		if !result.Replayed {
			s.metrics.recordCreated(ctx, input.Method)
		}
		s.metrics.recordPayment(ctx, result.Order.Payment)
	}
	if err != nil {
		attrs := []slog.Attr{slog.String("payment.method", input.Method)}
		if result != nil && result.Order != nil {
			attrs = append(attrs, slog.String("order.id", result.Order.ID), slog.String("payment.status", string(result.Order.Payment)))
		}
		return result, s.handleError(ctx, span, err, "failed to create and pay order", attrs...)
	}
	s.logInfo(ctx, "order created",
		slog.String("order.id", result.Order.ID),
		slog.String("payment.status", string(result.Order.Payment)),
		slog.Bool("replayed", result.Replayed))
	return result, nil
}

func (s *Service) RetryPayment(ctx context.Context, input types.RetryPaymentInput) (*types.PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.RetryPayment",
		trace.WithAttributes(attribute.String("order.id", input.OrderID), attribute.String("payment.method", input.Method)))
	defer span.End()

	s.logInfo(ctx, "retrying payment", slog.String("order.id", input.OrderID), slog.String("payment.method", input.Method))
	result, err := s.inner.RetryPayment(ctx, input)
	if result != nil && result.Order != nil {
		s.metrics.recordPayment(ctx, result.Order.Payment)
	}
	if err != nil {
		return result, s.handleError(ctx, span, err, "failed to retry payment", slog.String("order.id", input.OrderID))
	}
	s.logInfo(ctx, "payment retried", slog.String("order.id", input.OrderID), slog.String("payment.status", string(result.Order.Payment)))
	return result, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	result, err := s.inner.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to load order", slog.String("order.id", orderID))
	}
	return result, nil
}

func (s *Service) ListOrders(ctx context.Context, filter ports.ListFilter) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders", trace.WithAttributes(
		attribute.String("filter.fulfillment", string(filter.Fulfillment)),
		attribute.String("filter.payment", string(filter.Payment)),
		attribute.String("filter.sku", filter.SKU)))
	defer span.End()

	result, err := s.inner.ListOrders(ctx, filter)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to list orders")
	}
	span.SetAttributes(attribute.Int("orders.count", len(result)))
	return result, nil
}

func (s *Service) Status(ctx context.Context, orderID string) (*types.StatusView, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Status", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	view, err := s.inner.Status(ctx, orderID)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to reconcile order", slog.String("order.id", orderID))
	}
	span.SetAttributes(attribute.String("payment.status", string(view.Payment)))
	s.logInfo(ctx, "order reconciled", slog.String("order.id", orderID), slog.String("payment.status", string(view.Payment)))
	return view, nil
}

func (s *Service) Observe(ctx context.Context, orderID string, opts types.WatchOptions) (*poller.Watcher[types.StatusView], error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Observe", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int64("watch.interval_ms", opts.Interval.Milliseconds()),
		attribute.Int64("watch.budget_ms", opts.Budget.Milliseconds())))
	defer span.End()

	w, err := s.inner.Observe(ctx, orderID, opts)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to start watch", slog.String("order.id", orderID))
	}
	s.metrics.recordWatch(ctx)
	s.logInfo(ctx, "watch started", slog.String("order.id", orderID))
	return w, nil
}

func (s *Service) RequestCancellation(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.RequestCancellation", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	s.logInfo(ctx, "cancelling order", slog.String("order.id", orderID))
	result, err := s.inner.RequestCancellation(ctx, orderID, reason)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to cancel order", slog.String("order.id", orderID))
	}
	s.metrics.recordTransition(ctx, result.Fulfillment)
	s.logInfo(ctx, "order cancelled", slog.String("order.id", orderID), slog.String("payment.status", string(result.Payment)))
	return result, nil
}

func (s *Service) Transition(ctx context.Context, orderID string, target domain.FulfillmentStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Transition", trace.WithAttributes(
		attribute.String("order.id", orderID), attribute.String("fulfillment.target", string(target))))
	defer span.End()

	s.logInfo(ctx, "transitioning order", slog.String("order.id", orderID), slog.String("fulfillment.target", string(target)))
	result, err := s.inner.Transition(ctx, orderID, target)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to transition order",
			slog.String("order.id", orderID), slog.String("fulfillment.target", string(target)))
	}
	s.metrics.recordTransition(ctx, result.Fulfillment)
	s.logInfo(ctx, "order transitioned", slog.String("order.id", orderID), slog.String("fulfillment.status", string(result.Fulfillment)))
	return result, nil
}

func (s *Service) SetTracking(ctx context.Context, orderID, number string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.SetTracking", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	result, err := s.inner.SetTracking(ctx, orderID, number)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to set tracking number", slog.String("order.id", orderID))
	}
	s.logInfo(ctx, "tracking number set", slog.String("order.id", orderID), slog.String("tracking.number", result.TrackingNumber))
	return result, nil
}

func (s *Service) SetNotes(ctx context.Context, orderID, text string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.SetNotes", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	result, err := s.inner.SetNotes(ctx, orderID, text)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to set notes", slog.String("order.id", orderID))
	}
	return result, nil
}

func (s *Service) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *Service) logError(ctx context.Context, level slog.Level, msg string, err error, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, level, msg, attrs...)
}

// handleError records err on the span. Client caused failures are logged at
// warn level, everything else at error.
func (s *Service) handleError(ctx context.Context, span trace.Span, err error, msg string, attrs ...slog.Attr) error {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	level := slog.LevelError
	if isExpected(err) {
		level = slog.LevelWarn
	}
	s.logError(ctx, level, msg, err, attrs...)
	return err
}

func isExpected(err error) bool {
	return errors.Is(err, ports.ErrNotFound) ||
		errors.Is(err, ports.ErrRejected) ||
		errors.Is(err, ports.ErrIdempotencyConflict) ||
		errors.Is(err, domain.ErrIllegalTransition) ||
		errors.Is(err, domain.ErrNotCancellable) ||
		errors.Is(err, domain.ErrInvalidState)
}

type serviceMetrics struct {
	ordersCreated  metric.Int64Counter
	paymentStatus  metric.Int64Counter
	transitions    metric.Int64Counter
	watchesStarted metric.Int64Counter
}

func newServiceMetrics(m metric.Meter) serviceMetrics {
	if m == nil {
		return serviceMetrics{}
	}
	ordersCreated, _ := m.Int64Counter("orders.service.orders_created", metric.WithDescription("Number of orders created"))
	paymentStatus, _ := m.Int64Counter("orders.service.payment_status", metric.WithDescription("Payment statuses returned by create and retry"))
	transitions, _ := m.Int64Counter("orders.service.fulfillment_transitions", metric.WithDescription("Accepted fulfillment transitions"))
	watchesStarted, _ := m.Int64Counter("orders.service.watches_started", metric.WithDescription("Status watches started"))
	return serviceMetrics{
		ordersCreated:  ordersCreated,
		paymentStatus:  paymentStatus,
		transitions:    transitions,
		watchesStarted: watchesStarted,
	}
}

func (m serviceMetrics) recordCreated(ctx context.Context, method string) {
	if m.ordersCreated != nil {
		m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("payment.method", method)))
	}
}

func (m serviceMetrics) recordPayment(ctx context.Context, status domain.PaymentStatus) {
	if m.paymentStatus != nil {
		m.paymentStatus.Add(ctx, 1, metric.WithAttributes(attribute.String("payment.status", string(status))))
	}
}

func (m serviceMetrics) recordTransition(ctx context.Context, status domain.FulfillmentStatus) {
	if m.transitions != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("fulfillment.status", string(status))))
	}
}

func (m serviceMetrics) recordWatch(ctx context.Context) {
	if m.watchesStarted != nil {
		m.watchesStarted.Add(ctx, 1)
	}
}

var _ ports.Service = (*Service)(nil)
