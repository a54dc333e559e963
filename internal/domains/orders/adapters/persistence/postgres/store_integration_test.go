//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
	"github.com/Apurer/go-order-reconciler/internal/platform/migrations"
)

func setupOrdersPostgresContainer(t *testing.T) (*gorm.DB, func()) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("orders_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = migrations.Run(db)
	require.NoError(t, err)

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		pgContainer.Terminate(ctx)
	}

	return db, cleanup
}

func newOrder(t *testing.T, id string, skus ...string) *domain.Order {
	t.Helper()
	items := make([]domain.LineItem, 0, len(skus))
	for _, sku := range skus {
		items = append(items, domain.LineItem{SKU: sku, Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")})
	}
	order, err := domain.NewOrder(id, items, decimal.NewFromInt(5), "TZS", time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, err)
	return order
}

func TestStore_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()

	created, err := store.Create(ctx, newOrder(t, "ord-1", "tea", "mug"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	fetched, err := store.Get(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, fetched.Items, 2)
	assert.True(t, decimal.NewFromInt(55).Equal(fetched.TotalAmount))
	assert.Equal(t, domain.FulfillmentPending, fetched.Fulfillment)
	assert.Equal(t, domain.PaymentUnpaid, fetched.Payment)

	_, err = store.Create(ctx, newOrder(t, "ord-1", "tea"))
	assert.ErrorIs(t, err, ports.ErrAlreadyExists)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_UpdateCompareAndSwap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()

	created, err := store.Create(ctx, newOrder(t, "ord-1", "tea"))
	require.NoError(t, err)

	fresh := created.Clone()
	require.NoError(t, fresh.Transition(domain.FulfillmentConfirmed, time.Now()))
	saved, err := store.Update(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	stale := created.Clone()
	require.NoError(t, stale.Cancel("stale", time.Now()))
	_, err = store.Update(ctx, stale)
	require.ErrorIs(t, err, ports.ErrConcurrentUpdate)

	current, err := store.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentConfirmed, current.Fulfillment)
	assert.Equal(t, int64(2), current.Version)

	ghost := newOrder(t, "ghost", "tea")
	_, err = store.Update(ctx, ghost)
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_TransactionsAndListing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()

	_, err := store.Create(ctx, newOrder(t, "ord-1", "tea"))
	require.NoError(t, err)
	_, err = store.Create(ctx, newOrder(t, "ord-2", "coffee"))
	require.NoError(t, err)

	tx := domain.Transaction{
		ID: "tx-1", OrderID: "ord-1", Method: domain.MethodCard, Amount: decimal.NewFromInt(30),
		Status: domain.TransactionPending, RawResponse: json.RawMessage(`{"checkout_url":"https://pay.test/1"}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AppendTransaction(ctx, tx))
	require.NoError(t, store.AppendTransaction(ctx, tx))

	txs, err := store.ListTransactions(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "https://pay.test/1", txs[0].CheckoutURL())

	assert.ErrorIs(t, store.AppendTransaction(ctx, domain.Transaction{ID: "tx-2", OrderID: "missing"}), ports.ErrNotFound)

	tea, err := store.List(ctx, ports.ListFilter{SKU: "tea"})
	require.NoError(t, err)
	require.Len(t, tea, 1)
	assert.Equal(t, "ord-1", tea[0].ID)

	all, err := store.List(ctx, ports.ListFilter{Payment: domain.PaymentUnpaid})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIdempotencyStore_SaveConflictPurge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewIdempotencyStore(db)
	ctx := context.Background()

	_, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", OrderID: "ord-1"})
	require.NoError(t, err)

	same, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", OrderID: "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", same.OrderID)

	_, err = store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h2", OrderID: "ord-2"})
	assert.ErrorIs(t, err, ports.ErrIdempotencyConflict)

	removed, err := store.PurgeExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	missing, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
