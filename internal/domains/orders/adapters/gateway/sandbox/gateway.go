// Package sandbox is an in-process payment gateway for local runs and tests.
// Payments settle after a fixed number of status queries.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

var _ ports.PaymentGateway = (*Gateway)(nil)

type orderState struct {
	transactions []domain.Transaction
	queries      int
	byKey        map[string]*ports.InitiateResult
}

// Gateway settles every pending attempt of an order once the order has been
// queried SettleAfter times.
type Gateway struct {
	mu              sync.Mutex
	orders          map[string]*orderState
	settleAfter     int
	outcome         domain.TransactionStatus
	checkoutBaseURL string
	maxAmount       decimal.Decimal
	clock           clock.Clock
}

// Option customizes the sandbox.
type Option func(*Gateway)

// WithSettleAfter sets how many status queries pass before pending attempts settle.
func WithSettleAfter(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.settleAfter = n
		}
	}
}

// WithOutcome sets the status pending attempts settle to.
func WithOutcome(status domain.TransactionStatus) Option {
	return func(g *Gateway) {
		if status != "" {
			g.outcome = status
		}
	}
}

// WithCheckoutBaseURL sets the prefix of checkout links handed out for card payments.
func WithCheckoutBaseURL(base string) Option {
	return func(g *Gateway) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			g.checkoutBaseURL = base
		}
	}
}

// WithMaxAmount makes the sandbox reject payments above the limit.
func WithMaxAmount(limit decimal.Decimal) Option {
	return func(g *Gateway) {
		g.maxAmount = limit
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		if c != nil {
			g.clock = c
		}
	}
}

func New(opts ...Option) *Gateway {
	g := &Gateway{
		orders:          map[string]*orderState{},
		settleAfter:     3,
		outcome:         domain.TransactionPaid,
		checkoutBaseURL: "https://sandbox.pay.local/checkout",
		clock:           clock.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *Gateway) Initiate(_ context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ports.ErrRejected)
	}
	if !g.maxAmount.IsZero() && req.Amount.GreaterThan(g.maxAmount) {
		return nil, fmt.Errorf("%w: amount %s exceeds sandbox limit", ports.ErrRejected, req.Amount)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.state(req.OrderID)
	if prior, ok := state.byKey[req.IdempotencyKey]; req.IdempotencyKey != "" && ok {
		replayed := *prior
		return &replayed, nil
	}

	id := uuid.NewString()
	reference := "SBX-" + strings.ToUpper(id[:8])
	payload := map[string]any{
		"transaction_id":     id,
		"provider_reference": reference,
		"status":             string(domain.TransactionPending),
	}
	checkoutURL := ""
	if req.Method == domain.MethodCard {
		checkoutURL = g.checkoutBaseURL + "/" + id
		payload["checkout_url"] = checkoutURL
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	state.transactions = append(state.transactions, domain.Transaction{
		ID:                id,
		OrderID:           req.OrderID,
		Method:            req.Method,
		Amount:            req.Amount,
		ProviderReference: reference,
		Status:            domain.TransactionPending,
		RawResponse:       raw,
		CreatedAt:         g.clock.Now(),
	})
	// A fresh attempt restarts the settlement countdown.
	state.queries = 0
	result := &ports.InitiateResult{
		TransactionID:     id,
		ProviderReference: reference,
		CheckoutURL:       checkoutURL,
		Status:            domain.TransactionPending,
		RawResponse:       raw,
	}
	if req.IdempotencyKey != "" {
		stored := *result
		state.byKey[req.IdempotencyKey] = &stored
	}
	return result, nil
}

func (g *Gateway) QueryStatus(_ context.Context, orderID string) (*ports.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.orders[orderID]
	if !ok {
		return &ports.GatewayStatus{}, nil
	}
	state.queries++
	if state.queries >= g.settleAfter {
		for i := range state.transactions {
			if state.transactions[i].Status == domain.TransactionPending {
				state.transactions[i].Status = g.outcome
			}
		}
	}
	txs := append([]domain.Transaction(nil), state.transactions...)
	status := &ports.GatewayStatus{Transactions: txs}
	if latest := domain.LatestTransaction(txs); latest != nil {
		status.OrderStatus = latest.Status
	}
	return status, nil
}

func (g *Gateway) CancelPayment(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.orders[orderID]
	if !ok {
		return nil
	}
	for i := range state.transactions {
		if state.transactions[i].Status == domain.TransactionPending {
			state.transactions[i].Status = domain.TransactionCancelled
		}
	}
	return nil
}

func (g *Gateway) state(orderID string) *orderState {
	state, ok := g.orders[orderID]
	if !ok {
		state = &orderState{byKey: map[string]*ports.InitiateResult{}}
		g.orders[orderID] = state
	}
	return state
}
