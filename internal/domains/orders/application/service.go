package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
	"github.com/Apurer/go-order-reconciler/internal/platform/poller"
)

const (
	defaultCurrency      = "TZS"
	defaultCancelTimeout = 10 * time.Second
	defaultReconcileTime = 30 * time.Minute
	defaultReconcileTick = 15 * time.Second
)

// Service coordinates order creation, payment reconciliation and fulfillment.
type Service struct {
	store       ports.Store
	gateway     ports.PaymentGateway
	fulfillment ports.Fulfillment
	idempotency ports.IdempotencyStore
	events      ports.EventPublisher
	scheduler   ports.ReconciliationScheduler

	clock           clock.Clock
	logger          *slog.Logger
	newID           func() string
	defaultCurrency string
	watch           types.WatchOptions
	reconcile       types.WatchOptions
	cancelTimeout   time.Duration
	maxAttempts     int

	background sync.WaitGroup
}

// Option customizes the coordinator.
type Option func(*Service)

// WithClock overrides the time source for deterministic testing.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger used for best effort side effects.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEvents publishes order and payment events.
func WithEvents(p ports.EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// WithIdempotencyStore enables Idempotency-Key replay for create-and-pay.
func WithIdempotencyStore(store ports.IdempotencyStore) Option {
	return func(s *Service) {
		s.idempotency = store
	}
}

// WithScheduler keeps reconciling orders server side after payment initiation.
func WithScheduler(scheduler ports.ReconciliationScheduler) Option {
	return func(s *Service) {
		s.scheduler = scheduler
	}
}

// WithWatchDefaults sets the interval and budget used when Observe callers pass zero values.
func WithWatchDefaults(interval, budget time.Duration) Option {
	return func(s *Service) {
		s.watch = types.WatchOptions{Interval: interval, Budget: budget}
	}
}

// WithReconcileWindow sets the cadence and budget of server side reconciliation.
func WithReconcileWindow(interval, budget time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.reconcile.Interval = interval
		}
		if budget > 0 {
			s.reconcile.Budget = budget
		}
	}
}

// WithDefaultCurrency is applied when create requests omit the currency.
func WithDefaultCurrency(code string) Option {
	return func(s *Service) {
		if code = strings.TrimSpace(code); code != "" {
			s.defaultCurrency = code
		}
	}
}

// WithIDGenerator overrides order id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithCancelTimeout bounds the detached gateway cancel notification.
func WithCancelTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cancelTimeout = d
		}
	}
}

// NewService wires the coordinator. fulfillment may be nil, in which case a
// FulfillmentService sharing the store, clock and events is created.
func NewService(store ports.Store, gateway ports.PaymentGateway, fulfillment ports.Fulfillment, opts ...Option) *Service {
	s := &Service{
		store:           store,
		gateway:         gateway,
		fulfillment:     fulfillment,
		clock:           clock.New(),
		logger:          slog.New(slog.DiscardHandler),
		newID:           uuid.NewString,
		defaultCurrency: defaultCurrency,
		reconcile:       types.WatchOptions{Interval: defaultReconcileTick, Budget: defaultReconcileTime},
		cancelTimeout:   defaultCancelTimeout,
		maxAttempts:     defaultMaxUpdateAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.fulfillment == nil {
		s.fulfillment = NewFulfillmentService(store,
			WithFulfillmentClock(s.clock),
			WithFulfillmentEvents(s.events),
			WithFulfillmentLogger(s.logger),
		)
	}
	return s
}

// SetScheduler attaches a reconciliation scheduler after construction, for
// schedulers that call back into this service.
func (s *Service) SetScheduler(scheduler ports.ReconciliationScheduler) {
	s.scheduler = scheduler
}

// Wait blocks until detached gateway notifications have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// CreateAndPay persists a pending, unpaid order and opens a payment attempt.
// When the gateway rejects the attempt the failed order is returned alongside
// an error wrapping ports.ErrRejected.
func (s *Service) CreateAndPay(ctx context.Context, input types.CreateOrderInput) (*types.PaymentResult, error) {
	method, err := domain.ParseMethod(input.Method)
	if err != nil {
		return nil, mapError(err)
	}
	if strings.TrimSpace(input.Currency) == "" {
		input.Currency = s.defaultCurrency
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	useIdempotency := key != "" && s.idempotency != nil
	var requestHash string
	if useIdempotency {
		if requestHash, err = FingerprintCreateOrder(input); err != nil {
			return nil, err
		}
		existing, err := s.idempotency.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.RequestHash != requestHash {
				return nil, ports.ErrIdempotencyConflict
			}
			return s.replay(ctx, existing.OrderID)
		}
	}

	order, err := domain.NewOrder(s.newID(), toLineItems(input.Items), input.ShippingAmount, input.Currency, s.clock.Now())
	if err != nil {
		return nil, mapError(err)
	}
	created, err := s.store.Create(ctx, order)
	if err != nil {
		return nil, mapError(err)
	}

	if useIdempotency {
		record, err := s.idempotency.Save(ctx, ports.IdempotencyRecord{Key: key, RequestHash: requestHash, OrderID: created.ID})
		if err != nil {
			if !errors.Is(err, ports.ErrIdempotencyConflict) || record == nil {
				return nil, err
			}
			// Another request with this key won the race; retire our copy.
			if _, cancelErr := s.fulfillment.Cancel(ctx, created.ID, "duplicate request"); cancelErr != nil {
				s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to cancel duplicate order",
					slog.String("order.id", created.ID), slog.String("error", cancelErr.Error()))
			}
			if record.RequestHash != requestHash {
				return nil, ports.ErrIdempotencyConflict
			}
			return s.replay(ctx, record.OrderID)
		}
	}

	s.publish(ctx, domain.OrderCreated{
		BaseEvent:   domain.BaseEvent{OrderID: created.ID, Timestamp: created.CreatedAt},
		TotalAmount: created.TotalAmount.String(),
		Currency:    created.Currency,
		Method:      method,
	})
	return s.startPayment(ctx, created, method, 1)
}

// RetryPayment opens a new payment attempt; earlier transactions are kept.
func (s *Service) RetryPayment(ctx context.Context, input types.RetryPaymentInput) (*types.PaymentResult, error) {
	method, err := domain.ParseMethod(input.Method)
	if err != nil {
		return nil, mapError(err)
	}
	order, err := s.store.Get(ctx, input.OrderID)
	if err != nil {
		return nil, mapError(err)
	}
	if !order.CanRetryPayment() {
		return nil, fmt.Errorf("%w: payment is %s and fulfillment is %s", ErrPaymentNotRetryable, order.Payment, order.Fulfillment)
	}
	txs, err := s.store.ListTransactions(ctx, order.ID)
	if err != nil {
		return nil, mapError(err)
	}
	if domain.HasOpenAttempt(txs) {
		return nil, fmt.Errorf("%w: an earlier attempt is still pending", ErrPaymentNotRetryable)
	}
	return s.startPayment(ctx, order, method, len(txs)+1)
}

// GetOrder loads an order without contacting the gateway.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	return order, nil
}

// ListOrders serves the administrative order listing.
func (s *Service) ListOrders(ctx context.Context, filter ports.ListFilter) ([]*domain.Order, error) {
	orders, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, mapError(err)
	}
	return orders, nil
}

// Status runs one reconciliation pass against the gateway.
func (s *Service) Status(ctx context.Context, orderID string) (*types.StatusView, error) {
	return s.reconcileOnce(ctx, orderID)
}

// Observe starts a watch whose snapshots are reconciliation passes. The
// returned watcher already holds the first snapshot.
func (s *Service) Observe(ctx context.Context, orderID string, opts types.WatchOptions) (*poller.Watcher[types.StatusView], error) {
	if _, err := s.store.Get(ctx, orderID); err != nil {
		return nil, mapError(err)
	}
	if opts.Interval <= 0 {
		opts.Interval = s.watch.Interval
	}
	if opts.Budget <= 0 {
		opts.Budget = s.watch.Budget
	}
	query := func(ctx context.Context) (types.StatusView, error) {
		view, err := s.reconcileOnce(ctx, orderID)
		if err != nil {
			return types.StatusView{}, err
		}
		return *view, nil
	}
	return poller.Watch(ctx, query, poller.Options[types.StatusView]{
		Interval:   opts.Interval,
		Budget:     opts.Budget,
		IsTerminal: types.StatusView.Terminal,
		Clock:      s.clock,
	}), nil
}

// RequestCancellation cancels fulfillment and, when a payment attempt was
// still open, tells the gateway in the background.
func (s *Service) RequestCancellation(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	before, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	openAttempt := before.Payment == domain.PaymentAwaitingConfirmation
	if before.Payment == domain.PaymentUnpaid {
		txs, err := s.store.ListTransactions(ctx, orderID)
		if err != nil {
			return nil, mapError(err)
		}
		openAttempt = domain.HasOpenAttempt(txs)
	}
	saved, err := s.fulfillment.Cancel(ctx, orderID, reason)
	if err != nil {
		return nil, err
	}
	if openAttempt && saved.Payment == domain.PaymentCancelled {
		s.notifyGatewayCancel(ctx, orderID)
	}
	return saved, nil
}

// Transition delegates to the fulfillment state machine.
func (s *Service) Transition(ctx context.Context, orderID string, target domain.FulfillmentStatus) (*domain.Order, error) {
	return s.fulfillment.Transition(ctx, orderID, target)
}

// SetTracking delegates to the fulfillment state machine.
func (s *Service) SetTracking(ctx context.Context, orderID, number string) (*domain.Order, error) {
	return s.fulfillment.SetTracking(ctx, orderID, number)
}

// SetNotes delegates to the fulfillment state machine.
func (s *Service) SetNotes(ctx context.Context, orderID, text string) (*domain.Order, error) {
	return s.fulfillment.SetNotes(ctx, orderID, text)
}

// attemptKey names the n-th payment attempt of an order. An attempt that never
// reached the transaction log reuses its key on retry, so a gateway that did
// receive the lost request answers with the original charge.
func attemptKey(orderID string, attempt int) string {
	return fmt.Sprintf("%s-attempt-%d", orderID, attempt)
}

func (s *Service) startPayment(ctx context.Context, order *domain.Order, method domain.Method, attempt int) (*types.PaymentResult, error) {
	key := attemptKey(order.ID, attempt)
	result, err := s.gateway.Initiate(ctx, ports.InitiateRequest{
		OrderID:        order.ID,
		Method:         method,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		err = fmt.Errorf("initiate payment for order %s: %w", order.ID, err)
		if !errors.Is(err, ports.ErrRejected) {
			return &types.PaymentResult{Order: order}, err
		}
		return s.recordRejection(ctx, order, method, key, err)
	}

	tx := domain.Transaction{
		ID:                result.TransactionID,
		OrderID:           order.ID,
		Method:            method,
		Amount:            order.TotalAmount,
		ProviderReference: result.ProviderReference,
		Status:            result.Status,
		RawResponse:       result.RawResponse,
		CreatedAt:         s.clock.Now(),
	}
	if tx.ID == "" {
		tx.ID = key
	}
	if tx.Status == "" {
		tx.Status = domain.TransactionPending
	}
	if err := s.store.AppendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	// A pending attempt leaves a fresh order unpaid until the first
	// reconciliation pass; anything else is recorded right away.
	saved := order
	if status := tx.Status.PaymentStatus(); status != domain.PaymentAwaitingConfirmation || order.Payment != domain.PaymentUnpaid {
		if saved, err = s.applyPayment(ctx, order.ID, status, tx.ID); err != nil {
			return nil, err
		}
	}

	checkoutURL := result.CheckoutURL
	if checkoutURL == "" {
		checkoutURL = tx.CheckoutURL()
	}
	if !saved.Payment.IsTerminal() {
		s.scheduleReconciliation(ctx, saved.ID)
	}
	return &types.PaymentResult{Order: saved, Transaction: &tx, CheckoutURL: checkoutURL}, nil
}

// recordRejection logs the refused attempt and marks the payment failed.
func (s *Service) recordRejection(ctx context.Context, order *domain.Order, method domain.Method, key string, cause error) (*types.PaymentResult, error) {
	tx := domain.Transaction{
		ID:        key,
		OrderID:   order.ID,
		Method:    method,
		Amount:    order.TotalAmount,
		Status:    domain.TransactionFailed,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.AppendTransaction(ctx, tx); err != nil {
		return nil, errors.Join(cause, err)
	}
	failed, err := s.applyPayment(ctx, order.ID, domain.PaymentFailed, tx.ID)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	return &types.PaymentResult{Order: failed, Transaction: &tx}, cause
}

func (s *Service) reconcileOnce(ctx context.Context, orderID string) (*types.StatusView, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	local, err := s.store.ListTransactions(ctx, orderID)
	if err != nil {
		return nil, err
	}
	remote, err := s.gateway.QueryStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}

	txs := mergeTransactions(local, remote.Transactions)
	status, latest := domain.ReconcilePayment(txs, remote.OrderStatus)
	if status != order.Payment {
		txID := ""
		if latest != nil {
			txID = latest.ID
		}
		if order, err = s.applyPayment(ctx, orderID, status, txID); err != nil {
			return nil, err
		}
	}
	return buildStatusView(order, latest), nil
}

// applyPayment persists a payment status through the concurrency guarded
// update path and publishes a change event when the status moved.
func (s *Service) applyPayment(ctx context.Context, orderID string, status domain.PaymentStatus, txID string) (*domain.Order, error) {
	var from domain.PaymentStatus
	saved, err := updateOrder(ctx, s.store, orderID, s.maxAttempts, func(order *domain.Order) (bool, error) {
		from = order.Payment
		return order.ApplyPayment(status, s.clock.Now())
	})
	if err != nil {
		return nil, mapError(err)
	}
	if saved.Payment != from {
		s.publish(ctx, domain.PaymentStatusChanged{
			BaseEvent:     domain.BaseEvent{OrderID: saved.ID, Timestamp: saved.UpdatedAt},
			From:          from,
			To:            saved.Payment,
			TransactionID: txID,
		})
	}
	return saved, nil
}

func (s *Service) replay(ctx context.Context, orderID string) (*types.PaymentResult, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	txs, err := s.store.ListTransactions(ctx, orderID)
	if err != nil {
		return nil, err
	}
	result := &types.PaymentResult{Order: order, Replayed: true}
	if latest := domain.LatestTransaction(txs); latest != nil {
		result.Transaction = latest
		result.CheckoutURL = latest.CheckoutURL()
	}
	return result, nil
}

func (s *Service) scheduleReconciliation(ctx context.Context, orderID string) {
	if s.scheduler == nil {
		return
	}
	req := ports.ReconciliationRequest{OrderID: orderID, Interval: s.reconcile.Interval, Budget: s.reconcile.Budget}
	if err := s.scheduler.ScheduleReconciliation(context.WithoutCancel(ctx), req); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to schedule payment reconciliation",
			slog.String("order.id", orderID), slog.String("error", err.Error()))
	}
}

func (s *Service) notifyGatewayCancel(ctx context.Context, orderID string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cancelTimeout)
		defer cancel()
		if err := s.gateway.CancelPayment(cancelCtx, orderID); err != nil {
			s.logger.LogAttrs(cancelCtx, slog.LevelWarn, "gateway cancel notification failed",
				slog.String("order.id", orderID), slog.String("error", err.Error()))
		}
	}()
}

func (s *Service) publish(ctx context.Context, events ...domain.Event) {
	publishEvents(ctx, s.events, s.logger, events...)
}

// mergeTransactions overlays the gateway view on the local log. Gateway
// statuses win; local raw responses fill in missing checkout data, and
// attempts the gateway has not indexed yet are kept.
func mergeTransactions(local, remote []domain.Transaction) []domain.Transaction {
	byID := make(map[string]int, len(local)+len(remote))
	merged := make([]domain.Transaction, 0, len(local)+len(remote))
	for _, tx := range local {
		byID[tx.ID] = len(merged)
		merged = append(merged, tx)
	}
	for _, tx := range remote {
		idx, ok := byID[tx.ID]
		if !ok {
			byID[tx.ID] = len(merged)
			merged = append(merged, tx)
			continue
		}
		existing := merged[idx]
		existing.Status = tx.Status
		if tx.ProviderReference != "" {
			existing.ProviderReference = tx.ProviderReference
		}
		if len(tx.RawResponse) > 0 && existing.CheckoutURL() == "" {
			existing.RawResponse = tx.RawResponse
		}
		merged[idx] = existing
	}
	return merged
}

func buildStatusView(order *domain.Order, latest *domain.Transaction) *types.StatusView {
	view := &types.StatusView{
		OrderID:           order.ID,
		Payment:           order.Payment,
		Fulfillment:       order.Fulfillment,
		LatestTransaction: latest,
	}
	if latest != nil {
		view.CheckoutURL = latest.CheckoutURL()
	}
	view.Hint = types.HintFor(order.Payment, latest, view.CheckoutURL)
	return view
}

func toLineItems(inputs []types.LineItemInput) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, domain.LineItem{
			SKU:       strings.TrimSpace(in.SKU),
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
		})
	}
	return items
}

var _ ports.Service = (*Service)(nil)
