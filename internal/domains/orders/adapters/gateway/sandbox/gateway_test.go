package sandbox

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

func TestGateway_SettlesAfterConfiguredQueries(t *testing.T) {
	ctx := context.Background()
	gw := New(WithSettleAfter(3))

	res, err := gw.Initiate(ctx, ports.InitiateRequest{OrderID: "ord-1", Method: domain.MethodMobileWalletA, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)
	assert.Empty(t, res.CheckoutURL)

	var seen []domain.TransactionStatus
	for i := 0; i < 3; i++ {
		status, err := gw.QueryStatus(ctx, "ord-1")
		require.NoError(t, err)
		require.Len(t, status.Transactions, 1)
		seen = append(seen, status.Transactions[0].Status)
	}
	assert.Equal(t, []domain.TransactionStatus{domain.TransactionPending, domain.TransactionPending, domain.TransactionPaid}, seen)
}

func TestGateway_CardReturnsCheckoutURL(t *testing.T) {
	gw := New(WithCheckoutBaseURL("https://checkout.test/"))
	res, err := gw.Initiate(context.Background(), ports.InitiateRequest{OrderID: "ord-1", Method: domain.MethodCard, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/"+res.TransactionID, res.CheckoutURL)
	assert.Equal(t, res.CheckoutURL, domain.Transaction{RawResponse: res.RawResponse}.CheckoutURL())
}

func TestGateway_RepeatedKeyReturnsOriginalAttempt(t *testing.T) {
	ctx := context.Background()
	gw := New()
	req := ports.InitiateRequest{OrderID: "ord-1", Method: domain.MethodCard, Amount: decimal.NewFromInt(5), IdempotencyKey: "ord-1-attempt-1"}

	first, err := gw.Initiate(ctx, req)
	require.NoError(t, err)
	again, err := gw.Initiate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, again.TransactionID)

	req.IdempotencyKey = "ord-1-attempt-2"
	other, err := gw.Initiate(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.TransactionID, other.TransactionID)

	status, err := gw.QueryStatus(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, status.Transactions, 2)
}

func TestGateway_Rejections(t *testing.T) {
	gw := New(WithMaxAmount(decimal.NewFromInt(100)))
	_, err := gw.Initiate(context.Background(), ports.InitiateRequest{OrderID: "ord-1", Amount: decimal.Zero})
	require.ErrorIs(t, err, ports.ErrRejected)
	_, err = gw.Initiate(context.Background(), ports.InitiateRequest{OrderID: "ord-1", Amount: decimal.NewFromInt(101)})
	require.ErrorIs(t, err, ports.ErrRejected)
}

func TestGateway_CancelPayment(t *testing.T) {
	ctx := context.Background()
	gw := New(WithSettleAfter(10))
	_, err := gw.Initiate(ctx, ports.InitiateRequest{OrderID: "ord-1", Method: domain.MethodCard, Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	require.NoError(t, gw.CancelPayment(ctx, "ord-1"))
	status, err := gw.QueryStatus(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCancelled, status.OrderStatus)
}

func TestGateway_UnknownOrder(t *testing.T) {
	status, err := New().QueryStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, status.Transactions)
}
