//go:build pact
// +build pact

package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pacttest "github.com/Apurer/go-order-reconciler/test/pact"

	orderserver "github.com/Apurer/go-order-reconciler/go"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/gateway/sandbox"
	ordersmemory "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/memory"
	ordersobs "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/observability"
	ordersapp "github.com/Apurer/go-order-reconciler/internal/domains/orders/application"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"

	"github.com/gin-gonic/gin"
	"github.com/pact-foundation/pact-go/v2/models"
	pactprovider "github.com/pact-foundation/pact-go/v2/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestOrderAPIProviderPact(t *testing.T) {
	gin.SetMode(gin.TestMode)

	app := newContractProviderApp(t)
	pactFile := filepath.ToSlash(pacttest.PactFile(t))
	if _, err := os.Stat(pactFile); errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pact file not found at %s - run the pact consumer tests first", pactFile)
	} else {
		require.NoError(t, err)
	}

	verifier := pactprovider.NewVerifier()
	stateHandlers := models.StateHandlers{
		pacttest.StateOrdersBaseline: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset()
			return nil, nil
		},
		pacttest.StateOrderExists: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset()
			if setup {
				app.seedOrder(t, pacttest.ExistingOrderID)
			}
			return nil, nil
		},
		pacttest.StateOrderMissing: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset()
			return nil, nil
		},
	}

	err := verifier.VerifyProvider(t, pactprovider.VerifyRequest{
		ProviderBaseURL: app.server.URL,
		Provider:        pacttest.ProviderName,
		PactFiles:       []string{pactFile},
		StateHandlers:   stateHandlers,
		BeforeEach: func() error {
			app.reset()
			return nil
		},
	})
	require.NoError(t, err)
}

// contractProviderApp rebuilds the in-memory stack per provider state so
// interactions never observe each other's orders.
type contractProviderApp struct {
	server *httptest.Server

	mu      sync.RWMutex
	store   *ordersmemory.Store
	handler http.Handler
}

func newContractProviderApp(t testing.TB) *contractProviderApp {
	t.Helper()
	app := &contractProviderApp{}
	app.reset()
	app.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.mu.RLock()
		handler := app.handler
		app.mu.RUnlock()
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(app.server.Close)
	return app
}

func (a *contractProviderApp) reset() {
	store := ordersmemory.NewStore()
	service := ordersobs.New(ordersapp.NewService(store, sandbox.New(),
		nil,
		ordersapp.WithIdempotencyStore(ordersmemory.NewIdempotencyStore()),
	))
	handlers := orderserver.ApiHandleFunctions{
		OrderAPI: orderserver.NewOrderAPI(service),
		AdminAPI: orderserver.NewAdminAPI(service),
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router = orderserver.NewRouterWithGinEngine(router, handlers)

	a.mu.Lock()
	a.store = store
	a.handler = router
	a.mu.Unlock()
}

func (a *contractProviderApp) seedOrder(t testing.TB, id string) {
	t.Helper()
	order, err := domain.NewOrder(id, []domain.LineItem{
		{SKU: pacttest.ExampleSKU, Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
	}, decimal.RequireFromString("4.50"), "USD", time.Now())
	require.NoError(t, err)

	a.mu.RLock()
	store := a.store
	a.mu.RUnlock()
	_, err = store.Create(context.Background(), order)
	require.NoError(t, err)
}
