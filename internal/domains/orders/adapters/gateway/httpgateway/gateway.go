package httpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	gatewayclient "github.com/Apurer/go-order-reconciler/internal/clients/http/gateway"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

var _ ports.PaymentGateway = (*Gateway)(nil)

const (
	defaultPageSize = 50
	defaultMaxPages = 20
)

// Gateway adapts the gateway HTTP client to the payment gateway port.
type Gateway struct {
	client     *gatewayclient.Client
	newBackOff func() backoff.BackOff
	pageSize   int
	maxPages   int
	logger     *slog.Logger
}

// Option customizes the adapter.
type Option func(*Gateway)

// WithBackOff replaces the retry policy used for keyed payment creation and status reads.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.newBackOff = fn
		}
	}
}

// WithPaging bounds the fallback scan of the transaction listing.
func WithPaging(pageSize, maxPages int) Option {
	return func(g *Gateway) {
		if pageSize > 0 {
			g.pageSize = pageSize
		}
		if maxPages > 0 {
			g.maxPages = maxPages
		}
	}
}

// WithLogger logs fallbacks and unknown gateway vocabulary.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New wires the HTTP client into the port adapter.
func New(client *gatewayclient.Client, opts ...Option) *Gateway {
	g := &Gateway{
		client:     client,
		newBackOff: defaultBackOff,
		pageSize:   defaultPageSize,
		maxPages:   defaultMaxPages,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 3 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// Initiate opens a payment attempt. The idempotency key travels with every
// try, so transient failures are retried without opening a second charge.
// Requests without a key are sent once.
func (g *Gateway) Initiate(ctx context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("http gateway not configured")
	}
	payment := gatewayclient.PaymentRequest{
		OrderID:  req.OrderID,
		Method:   string(req.Method),
		Amount:   req.Amount.StringFixed(2),
		Currency: req.Currency,
	}
	op := func() (*gatewayclient.PaymentResponse, error) {
		resp, err := g.client.CreatePayment(ctx, payment, req.IdempotencyKey)
		if err != nil && (req.IdempotencyKey == "" || !retryable(err)) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	resp, err := backoff.RetryWithData(op, backoff.WithContext(g.newBackOff(), ctx))
	if err != nil {
		return nil, classify(err)
	}
	status := g.parseStatus(ctx, resp.Status)
	if status == "" {
		status = domain.TransactionPending
	}
	return &ports.InitiateResult{
		TransactionID:     resp.TransactionID,
		ProviderReference: resp.ProviderReference,
		CheckoutURL:       resp.CheckoutURL,
		Status:            status,
		RawResponse:       resp.Raw,
	}, nil
}

// QueryStatus reads the order status endpoint with retries and falls back to
// scanning the transaction listing when the endpoint keeps failing.
func (g *Gateway) QueryStatus(ctx context.Context, orderID string) (*ports.GatewayStatus, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("http gateway not configured")
	}
	op := func() (*gatewayclient.OrderStatusResponse, error) {
		resp, err := g.client.GetOrderStatus(ctx, orderID)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	resp, statusErr := backoff.RetryWithData(op, backoff.WithContext(g.newBackOff(), ctx))
	if statusErr == nil {
		return g.toStatus(ctx, orderID, resp.Status, resp.Transactions), nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrGatewayUnavailable, ctx.Err())
	}

	g.logger.LogAttrs(ctx, slog.LevelWarn, "gateway status endpoint failed, scanning transactions",
		slog.String("order.id", orderID), slog.String("error", statusErr.Error()))
	txs, listErr := g.scanTransactions(ctx, orderID)
	if listErr != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrGatewayUnavailable, errors.Join(statusErr, listErr))
	}
	return g.toStatus(ctx, orderID, "", txs), nil
}

// CancelPayment tells the gateway the order no longer needs paying.
func (g *Gateway) CancelPayment(ctx context.Context, orderID string) error {
	if g == nil || g.client == nil {
		return errors.New("http gateway not configured")
	}
	if err := g.client.CancelOrder(ctx, orderID); err != nil {
		return classify(err)
	}
	return nil
}

func (g *Gateway) scanTransactions(ctx context.Context, orderID string) ([]gatewayclient.Transaction, error) {
	var all []gatewayclient.Transaction
	for page := 1; page <= g.maxPages; page++ {
		resp, err := g.client.ListTransactions(ctx, orderID, page, g.pageSize)
		if err != nil {
			return nil, err
		}
		for _, tx := range resp.Items {
			// Some gateway builds ignore the order_id filter.
			if tx.OrderID == "" || tx.OrderID == orderID {
				all = append(all, tx)
			}
		}
		if !resp.HasMore || len(resp.Items) == 0 {
			return all, nil
		}
	}
	return all, nil
}

func (g *Gateway) toStatus(ctx context.Context, orderID, orderStatus string, txs []gatewayclient.Transaction) *ports.GatewayStatus {
	status := &ports.GatewayStatus{
		OrderStatus:  g.parseStatus(ctx, orderStatus),
		Transactions: make([]domain.Transaction, 0, len(txs)),
	}
	for _, tx := range txs {
		amount, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			amount = decimal.Zero
		}
		txStatus := g.parseStatus(ctx, tx.Status)
		if txStatus == "" {
			txStatus = domain.TransactionPending
		}
		method, err := domain.ParseMethod(tx.Method)
		if err != nil {
			method = domain.Method(tx.Method)
		}
		orderRef := tx.OrderID
		if orderRef == "" {
			orderRef = orderID
		}
		status.Transactions = append(status.Transactions, domain.Transaction{
			ID:                tx.ID,
			OrderID:           orderRef,
			Method:            method,
			Amount:            amount,
			ProviderReference: tx.ProviderReference,
			Status:            txStatus,
			RawResponse:       json.RawMessage(tx.Details),
			CreatedAt:         tx.CreatedAt,
		})
	}
	return status
}

// parseStatus returns "" for empty or unknown values so callers pick their own default.
func (g *Gateway) parseStatus(ctx context.Context, raw string) domain.TransactionStatus {
	if raw == "" {
		return ""
	}
	status, err := domain.ParseTransactionStatus(raw)
	if err != nil {
		g.logger.LogAttrs(ctx, slog.LevelWarn, "unknown gateway status", slog.String("gateway.status", raw))
		return ""
	}
	return status
}

func retryable(err error) bool {
	var apiErr *gatewayclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

func classify(err error) error {
	var apiErr *gatewayclient.APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		return fmt.Errorf("%w: %w", ports.ErrRejected, err)
	}
	return fmt.Errorf("%w: %w", ports.ErrGatewayUnavailable, err)
}
