package orderserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Route is the information for every URI.
type Route struct {
	// Name is the name of this Route.
	Name string
	// Method is the string for the HTTP method. ex) GET, POST etc..
	Method string
	// Pattern is the pattern of the URI.
	Pattern string
	// HandlerFunc is the handler function of this route.
	HandlerFunc gin.HandlerFunc
}

// ApiHandleFunctions groups the handlers mounted by the router.
type ApiHandleFunctions struct {
	OrderAPI OrderAPI
	AdminAPI AdminAPI
}

// NewRouter returns a new router.
func NewRouter(handleFunctions ApiHandleFunctions) *gin.Engine {
	return NewRouterWithGinEngine(gin.Default(), handleFunctions)
}

// NewRouterWithGinEngine adds the routes to an existing engine so callers can
// install middleware first.
func NewRouterWithGinEngine(router *gin.Engine, handleFunctions ApiHandleFunctions) *gin.Engine {
	for _, route := range getRoutes(handleFunctions) {
		if route.HandlerFunc == nil {
			route.HandlerFunc = DefaultHandleFunc
		}
		router.Handle(route.Method, route.Pattern, route.HandlerFunc)
	}
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return router
}

// DefaultHandleFunc answers routes without a handler.
func DefaultHandleFunc(c *gin.Context) {
	c.String(http.StatusNotImplemented, "501 not implemented")
}

func getRoutes(handleFunctions ApiHandleFunctions) []Route {
	return []Route{
		{"CreateOrder", http.MethodPost, "/v1/orders", handleFunctions.OrderAPI.CreateOrder},
		{"GetOrder", http.MethodGet, "/v1/orders/:orderId", handleFunctions.OrderAPI.GetOrder},
		{"GetOrderStatus", http.MethodGet, "/v1/orders/:orderId/status", handleFunctions.OrderAPI.GetOrderStatus},
		{"WatchOrder", http.MethodGet, "/v1/orders/:orderId/watch", handleFunctions.OrderAPI.WatchOrder},
		{"RetryPayment", http.MethodPost, "/v1/orders/:orderId/payments", handleFunctions.OrderAPI.RetryPayment},
		{"CancelOrder", http.MethodPost, "/v1/orders/:orderId/cancel", handleFunctions.OrderAPI.CancelOrder},
		{"ListOrders", http.MethodGet, "/v1/admin/orders", handleFunctions.AdminAPI.ListOrders},
		{"TransitionOrder", http.MethodPost, "/v1/admin/orders/:orderId/transitions", handleFunctions.AdminAPI.TransitionOrder},
		{"SetTracking", http.MethodPut, "/v1/admin/orders/:orderId/tracking", handleFunctions.AdminAPI.SetTracking},
		{"SetNotes", http.MethodPut, "/v1/admin/orders/:orderId/notes", handleFunctions.AdminAPI.SetNotes},
	}
}
