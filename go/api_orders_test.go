package orderserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/gateway/sandbox"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/http/mapper"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/memory"
	ordersapp "github.com/Apurer/go-order-reconciler/internal/domains/orders/application"
	apierrors "github.com/Apurer/go-order-reconciler/internal/shared/errors"
)

type testServer struct {
	router  *gin.Engine
	service *ordersapp.Service
}

func newTestServer(t *testing.T, gatewayOpts ...sandbox.Option) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service := ordersapp.NewService(
		memory.NewStore(),
		sandbox.New(gatewayOpts...),
		nil,
		ordersapp.WithIdempotencyStore(memory.NewIdempotencyStore()),
	)
	t.Cleanup(service.Wait)
	router := NewRouterWithGinEngine(gin.New(), ApiHandleFunctions{
		OrderAPI: NewOrderAPI(service, WithMinWatchInterval(time.Millisecond)),
		AdminAPI: NewAdminAPI(service),
	})
	return &testServer{router: router, service: service}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func cart(method string) mapper.CreateOrderRequest {
	return mapper.CreateOrderRequest{
		Items: []mapper.LineItem{
			{SKU: "tea-200g", Quantity: 2, UnitPrice: decimal.NewFromInt(4000)},
			{SKU: "mug", Quantity: 1, UnitPrice: decimal.NewFromInt(7000)},
		},
		ShippingAmount: decimal.NewFromInt(2000),
		Currency:       "TZS",
		Method:         method,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createOrder(t *testing.T, method string) mapper.PaymentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/orders", cart(method))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[mapper.PaymentResponse](t, rec)
}

func TestCreateOrder_StartsPayment(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/v1/orders", cart("card"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[mapper.PaymentResponse](t, rec)

	assert.Equal(t, "/v1/orders/"+resp.Order.ID, rec.Header().Get("Location"))
	assert.Equal(t, "pending", resp.Order.FulfillmentStatus)
	assert.Equal(t, "unpaid", resp.Order.PaymentStatus)
	assert.True(t, decimal.NewFromInt(17000).Equal(resp.Order.TotalAmount))
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "pending", resp.Transaction.Status)
	assert.Equal(t, "card", resp.Transaction.Method)
	assert.True(t, strings.HasPrefix(resp.CheckoutURL, "https://sandbox.pay.local/checkout/"))
}

func TestCreateOrder_InvalidBody(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/v1/orders", map[string]any{"items": []any{}, "method": "card"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
	problem := decode[apierrors.ProblemDetail](t, rec)
	assert.Equal(t, apierrors.TypeValidation, problem.Type)
	assert.Equal(t, map[string]any{"Items": "min=1"}, problem.Extensions["fields"])

	rec = srv.do(t, http.MethodPost, "/v1/orders", cart("carrier-pigeon"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	problem = decode[apierrors.ProblemDetail](t, rec)
	assert.Equal(t, apierrors.TypeValidation, problem.Type)
}

func TestCreateOrder_RejectedPaymentReturns402WithOrderID(t *testing.T) {
	srv := newTestServer(t, sandbox.WithMaxAmount(decimal.NewFromInt(100)))

	rec := srv.do(t, http.MethodPost, "/v1/orders", cart("mobile-wallet-a"))
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	problem := decode[apierrors.ProblemDetail](t, rec)
	orderID, _ := problem.Extensions["orderId"].(string)
	require.NotEmpty(t, orderID)

	rec = srv.do(t, http.MethodGet, "/v1/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[mapper.Order](t, rec)
	assert.Equal(t, "failed", order.PaymentStatus)
	assert.Equal(t, "pending", order.FulfillmentStatus)
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	srv := newTestServer(t)

	first := srv.do(t, http.MethodPost, "/v1/orders", cart("card"), IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := srv.do(t, http.MethodPost, "/v1/orders", cart("card"), IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusOK, second.Code)

	a := decode[mapper.PaymentResponse](t, first)
	b := decode[mapper.PaymentResponse](t, second)
	assert.Equal(t, a.Order.ID, b.Order.ID)
	assert.True(t, b.Replayed)
	assert.Equal(t, a.CheckoutURL, b.CheckoutURL)

	changed := cart("card")
	changed.Items[0].Quantity = 5
	conflict := srv.do(t, http.MethodPost, "/v1/orders", changed, IdempotencyKeyHeader, "key-1")
	assert.Equal(t, http.StatusUnprocessableEntity, conflict.Code)
}

func TestWatchOrder_StreamsUntilPaid(t *testing.T) {
	srv := newTestServer(t, sandbox.WithSettleAfter(3))
	created := srv.createOrder(t, "mobile-wallet-a")

	rec := srv.do(t, http.MethodGet, "/v1/orders/"+created.Order.ID+"/watch?interval_ms=5&budget_ms=5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4, rec.Body.String())
	var statuses []string
	for _, ev := range events[:3] {
		require.Equal(t, "status", ev.name)
		var status mapper.StatusResponse
		require.NoError(t, json.Unmarshal([]byte(ev.data), &status))
		statuses = append(statuses, status.PaymentStatus)
		assert.Equal(t, "pending", status.FulfillmentStatus)
	}
	assert.Equal(t, []string{"awaiting_confirmation", "awaiting_confirmation", "paid"}, statuses)
	assert.Equal(t, "end", events[3].name)
	assert.Contains(t, events[3].data, "terminal")

	rec = srv.do(t, http.MethodGet, "/v1/orders/"+created.Order.ID, nil)
	assert.Equal(t, "paid", decode[mapper.Order](t, rec).PaymentStatus)
}

func TestWatchOrder_HintsMobileConfirmation(t *testing.T) {
	srv := newTestServer(t, sandbox.WithSettleAfter(10))
	created := srv.createOrder(t, "mobile-wallet-b")

	rec := srv.do(t, http.MethodGet, "/v1/orders/"+created.Order.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[mapper.StatusResponse](t, rec)
	assert.Equal(t, "confirm_on_phone", status.Hint.Kind)
	assert.Contains(t, status.Hint.Message, "Mobile Wallet B")
	assert.False(t, status.Terminal)
}

func TestWatchOrder_RejectsBadParameters(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createOrder(t, "card")

	rec := srv.do(t, http.MethodGet, "/v1/orders/"+created.Order.ID+"/watch?interval_ms=-5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/orders/missing/watch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchOptions_ClampsToServerBounds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := NewOrderAPI(nil, WithMaxWatchBudget(time.Minute))
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/orders/ord-1/watch?interval_ms=1&budget_ms=99999999999999999", nil)

	opts, err := api.watchOptions(c)
	require.NoError(t, err)
	assert.Equal(t, defaultMinWatchInterval, opts.Interval)
	assert.Equal(t, time.Minute, opts.Budget)
}

func TestCancelOrder(t *testing.T) {
	srv := newTestServer(t, sandbox.WithSettleAfter(10))
	created := srv.createOrder(t, "mobile-wallet-a")

	rec := srv.do(t, http.MethodPost, "/v1/orders/"+created.Order.ID+"/cancel", mapper.CancelRequest{Reason: "changed my mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decode[mapper.Order](t, rec)
	assert.Equal(t, "cancelled", order.FulfillmentStatus)
	assert.Equal(t, "cancelled", order.PaymentStatus)
	assert.Contains(t, order.InternalNotes, "changed my mind")

	rec = srv.do(t, http.MethodPost, "/v1/orders/"+created.Order.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryPayment_RequiresFailedPayment(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createOrder(t, "card")

	rec := srv.do(t, http.MethodPost, "/v1/orders/"+created.Order.ID+"/payments", mapper.RetryPaymentRequest{Method: "card"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/v1/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	problem := decode[apierrors.ProblemDetail](t, rec)
	assert.Equal(t, "/v1/orders/nope", problem.Instance)
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.data += strings.TrimPrefix(line, "data:")
			}
		}
		if ev.name != "" {
			events = append(events, ev)
		}
	}
	return events
}
