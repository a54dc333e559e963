package orderserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/http/mapper"
	ordersapp "github.com/Apurer/go-order-reconciler/internal/domains/orders/application"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

const maxListLimit = 500

var errInvalidLimit = errors.New("limit must be a non-negative integer")

// AdminAPI exposes the fulfillment operations used by back-office staff.
type AdminAPI struct {
	service ports.Service
}

// NewAdminAPI creates an AdminAPI backed by the provided service.
func NewAdminAPI(service ports.Service) AdminAPI {
	return AdminAPI{service: service}
}

// Get /v1/admin/orders
// List orders by fulfillment status, payment status or SKU
func (api *AdminAPI) ListOrders(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondBadRequest(c, errInvalidLimit)
			return
		}
		limit = parsed
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	filter, err := mapper.ToListFilter(c.Query("fulfillment"), c.Query("payment"), c.Query("sku"), limit)
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	orders, err := api.service.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromOrderList(orders))
}

// Post /v1/admin/orders/:orderId/transitions
// Move an order along the fulfillment graph
func (api *AdminAPI) TransitionOrder(c *gin.Context) {
	var payload mapper.TransitionRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, err)
		return
	}
	target, err := domain.ParseFulfillmentStatus(payload.Status)
	if err != nil {
		respondOrderServiceError(c, fmt.Errorf("%w: %w", ordersapp.ErrInvalidInput, err))
		return
	}
	order, err := api.service.Transition(c.Request.Context(), c.Param("orderId"), target)
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromOrder(order))
}

// Put /v1/admin/orders/:orderId/tracking
// Record the carrier tracking number
func (api *AdminAPI) SetTracking(c *gin.Context) {
	var payload mapper.TrackingRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, err)
		return
	}
	order, err := api.service.SetTracking(c.Request.Context(), c.Param("orderId"), payload.TrackingNumber)
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromOrder(order))
}

// Put /v1/admin/orders/:orderId/notes
// Replace the internal notes
func (api *AdminAPI) SetNotes(c *gin.Context) {
	var payload mapper.NotesRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, err)
		return
	}
	order, err := api.service.SetNotes(c.Request.Context(), c.Param("orderId"), payload.Notes)
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromOrder(order))
}
