package httpgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatewayclient "github.com/Apurer/go-order-reconciler/internal/clients/http/gateway"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

func newTestGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := gatewayclient.NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	return New(client,
		WithBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }),
		WithPaging(2, 5),
	)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestInitiate_Success(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payments", r.URL.Path)
		var req gatewayclient.PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ord-1", req.OrderID)
		assert.Equal(t, "card", req.Method)
		assert.Equal(t, "1000.00", req.Amount)
		writeJSON(w, http.StatusCreated, map[string]any{
			"transaction_id":     "tx-1",
			"provider_reference": "PRV-1",
			"status":             "pending",
			"checkout_url":       "https://pay.example/c/tx-1",
		})
	}))

	res, err := gw.Initiate(context.Background(), ports.InitiateRequest{
		OrderID: "ord-1", Method: domain.MethodCard, Amount: decimal.NewFromInt(1000), Currency: "TZS",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.TransactionID)
	assert.Equal(t, "PRV-1", res.ProviderReference)
	assert.Equal(t, domain.TransactionPending, res.Status)
	assert.Equal(t, "https://pay.example/c/tx-1", res.CheckoutURL)
	assert.Equal(t, "https://pay.example/c/tx-1", domain.Transaction{RawResponse: res.RawResponse}.CheckoutURL())
}

func TestInitiate_SendsIdempotencyKeyOnEveryTry(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		first := len(keys) == 1
		mu.Unlock()
		if first {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"code": "busy"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction_id": "tx-1", "status": "pending"})
	}))

	res, err := gw.Initiate(context.Background(), ports.InitiateRequest{
		OrderID: "ord-1", Method: domain.MethodCard, Amount: decimal.NewFromInt(10), IdempotencyKey: "ord-1-attempt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.TransactionID)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ord-1-attempt-1", "ord-1-attempt-1"}, keys)
}

func TestInitiate_WithoutKeyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"code": "busy"})
	}))

	_, err := gw.Initiate(context.Background(), ports.InitiateRequest{OrderID: "ord-1", Method: domain.MethodCard, Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ports.ErrGatewayUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInitiate_ClassifiesErrors(t *testing.T) {
	cases := map[int]error{
		http.StatusUnprocessableEntity: ports.ErrRejected,
		http.StatusBadRequest:          ports.ErrRejected,
		http.StatusServiceUnavailable:  ports.ErrGatewayUnavailable,
		http.StatusTooManyRequests:     ports.ErrGatewayUnavailable,
	}
	for code, want := range cases {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, code, map[string]any{"code": "nope", "message": "declined"})
			}))
			_, err := gw.Initiate(context.Background(), ports.InitiateRequest{OrderID: "ord-1", Method: domain.MethodCard})
			require.ErrorIs(t, err, want)
		})
	}
}

func TestQueryStatus_UsesStatusEndpoint(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders/ord-1/status", r.URL.Path)
		writeJSON(w, http.StatusOK, gatewayclient.OrderStatusResponse{
			OrderID: "ord-1",
			Status:  "processing",
			Transactions: []gatewayclient.Transaction{
				{ID: "tx-1", OrderID: "ord-1", Method: "mobile-wallet-a", Amount: "1000.00", Status: "SUCCESS", CreatedAt: created},
			},
		})
	}))

	status, err := gw.QueryStatus(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionProcessing, status.OrderStatus)
	require.Len(t, status.Transactions, 1)
	assert.Equal(t, domain.TransactionPaid, status.Transactions[0].Status)
	assert.Equal(t, domain.MethodMobileWalletA, status.Transactions[0].Method)
	assert.True(t, decimal.NewFromInt(1000).Equal(status.Transactions[0].Amount))
}

func TestQueryStatus_FallsBackToTransactionListing(t *testing.T) {
	var statusCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders/ord-1/status", func(w http.ResponseWriter, r *http.Request) {
		statusCalls.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]any{"message": "upstream down"})
	})
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ord-1", r.URL.Query().Get("order_id"))
		assert.Equal(t, "2", r.URL.Query().Get("page_size"))
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(w, http.StatusOK, gatewayclient.TransactionPage{Page: 1, PageSize: 2, HasMore: true, Items: []gatewayclient.Transaction{
				{ID: "tx-1", OrderID: "ord-1", Status: "failed"},
				{ID: "tx-x", OrderID: "other", Status: "paid"},
			}})
		default:
			writeJSON(w, http.StatusOK, gatewayclient.TransactionPage{Page: 2, PageSize: 2, Items: []gatewayclient.Transaction{
				{ID: "tx-2", OrderID: "ord-1", Status: "pending"},
			}})
		}
	})
	gw := newTestGateway(t, mux)

	status, err := gw.QueryStatus(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), statusCalls.Load())
	assert.Empty(t, status.OrderStatus)
	require.Len(t, status.Transactions, 2)
	assert.Equal(t, "tx-1", status.Transactions[0].ID)
	assert.Equal(t, "tx-2", status.Transactions[1].ID)
}

func TestQueryStatus_NotFoundSkipsRetries(t *testing.T) {
	var statusCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders/ord-1/status", func(w http.ResponseWriter, r *http.Request) {
		statusCalls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "unknown order"})
	})
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gatewayclient.TransactionPage{})
	})
	gw := newTestGateway(t, mux)

	status, err := gw.QueryStatus(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), statusCalls.Load())
	assert.Empty(t, status.Transactions)
}

func TestQueryStatus_BothPathsFailing(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "boom"})
	}))

	_, err := gw.QueryStatus(context.Background(), "ord-1")
	require.ErrorIs(t, err, ports.ErrGatewayUnavailable)
}

func TestCancelPayment(t *testing.T) {
	var called atomic.Bool
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders/ord-1/cancel", r.URL.Path)
		called.Store(true)
		w.WriteHeader(http.StatusAccepted)
	}))

	require.NoError(t, gw.CancelPayment(context.Background(), "ord-1"))
	assert.True(t, called.Load())
}
