package orderserver

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/http/mapper"
	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

// IdempotencyKeyHeader lets clients retry create-and-pay safely.
const IdempotencyKeyHeader = "Idempotency-Key"

const (
	defaultMaxWatchBudget   = 10 * time.Minute
	defaultMinWatchInterval = 500 * time.Millisecond
	maxMillis               = math.MaxInt64 / int64(time.Millisecond)
)

// OrderAPI wires the storefront facing HTTP transport to the order service.
type OrderAPI struct {
	service          ports.Service
	maxWatchBudget   time.Duration
	minWatchInterval time.Duration
}

// OrderAPIOption customizes the storefront handlers.
type OrderAPIOption func(*OrderAPI)

// WithMaxWatchBudget caps the budget a client may request for a watch stream.
func WithMaxWatchBudget(d time.Duration) OrderAPIOption {
	return func(api *OrderAPI) {
		if d > 0 {
			api.maxWatchBudget = d
		}
	}
}

// WithMinWatchInterval is the shortest poll interval a watch stream may use.
func WithMinWatchInterval(d time.Duration) OrderAPIOption {
	return func(api *OrderAPI) {
		if d > 0 {
			api.minWatchInterval = d
		}
	}
}

// NewOrderAPI creates an OrderAPI backed by the provided service.
func NewOrderAPI(service ports.Service, opts ...OrderAPIOption) OrderAPI {
	api := OrderAPI{service: service, maxWatchBudget: defaultMaxWatchBudget, minWatchInterval: defaultMinWatchInterval}
	for _, opt := range opts {
		opt(&api)
	}
	return api
}

// Post /v1/orders
// Create an order and start paying for it
func (api *OrderAPI) CreateOrder(c *gin.Context) {
	var payload mapper.CreateOrderRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, err)
		return
	}
	input := mapper.ToCreateOrderInput(payload, c.GetHeader(IdempotencyKeyHeader))
	result, err := api.service.CreateAndPay(c.Request.Context(), input)
	if err != nil {
		respondOrderServiceErrorFor(c, orderIDOf(result), err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.Header("Location", "/v1/orders/"+result.Order.ID)
	c.JSON(status, mapper.FromPaymentResult(result))
}

// Get /v1/orders/:orderId
// Load an order without contacting the payment provider
func (api *OrderAPI) GetOrder(c *gin.Context) {
	order, err := api.service.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromOrder(order))
}

// Get /v1/orders/:orderId/status
// Reconcile once with the payment provider
func (api *OrderAPI) GetOrderStatus(c *gin.Context) {
	view, err := api.service.Status(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromStatusView(*view))
}

// Get /v1/orders/:orderId/watch
// Stream reconciled status as Server-Sent Events until the payment settles
func (api *OrderAPI) WatchOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	opts, err := api.watchOptions(c)
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	watcher, err := api.service.Observe(c.Request.Context(), orderID, opts)
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	defer watcher.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for snap := range watcher.C {
		var event mapper.StatusResponse
		if snap.Err != nil {
			event = mapper.FromFailedObservation(orderID, snap.Err)
		} else {
			event = mapper.FromStatusView(snap.Value)
		}
		observed := snap.ObservedAt
		event.Attempt = snap.Attempt
		event.ObservedAt = &observed
		c.SSEvent("status", event)
		c.Writer.Flush()
	}
	c.SSEvent("end", gin.H{"reason": string(watcher.Reason())})
	c.Writer.Flush()
}

// Post /v1/orders/:orderId/payments
// Start a new payment attempt
func (api *OrderAPI) RetryPayment(c *gin.Context) {
	var payload mapper.RetryPaymentRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, err)
		return
	}
	orderID := c.Param("orderId")
	result, err := api.service.RetryPayment(c.Request.Context(), types.RetryPaymentInput{OrderID: orderID, Method: payload.Method})
	if err != nil {
		respondOrderServiceErrorFor(c, orderID, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromPaymentResult(result))
}

// Post /v1/orders/:orderId/cancel
// Cancel an order that has not shipped
func (api *OrderAPI) CancelOrder(c *gin.Context) {
	var payload mapper.CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondBadRequest(c, err)
			return
		}
	}
	order, err := api.service.RequestCancellation(c.Request.Context(), c.Param("orderId"), strings.TrimSpace(payload.Reason))
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromOrder(order))
}

func (api *OrderAPI) watchOptions(c *gin.Context) (types.WatchOptions, error) {
	interval, err := millisParam(c, "interval_ms")
	if err != nil {
		return types.WatchOptions{}, err
	}
	budget, err := millisParam(c, "budget_ms")
	if err != nil {
		return types.WatchOptions{}, err
	}
	if budget > api.maxWatchBudget {
		budget = api.maxWatchBudget
	}
	if interval > 0 && interval < api.minWatchInterval {
		interval = api.minWatchInterval
	}
	return types.WatchOptions{Interval: interval, Budget: budget}, nil
}

func millisParam(c *gin.Context, name string) (time.Duration, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	ms = min(ms, maxMillis)
	return time.Duration(ms) * time.Millisecond, nil
}

func orderIDOf(result *types.PaymentResult) string {
	if result == nil || result.Order == nil {
		return ""
	}
	return result.Order.ID
}
