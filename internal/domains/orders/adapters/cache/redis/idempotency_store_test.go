package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

func newTestStore(t *testing.T, opts ...Option) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(client, opts...), mr
}

func TestIdempotencyStore_SaveAndReplay(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mr := newTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	saved, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", OrderID: "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, fixed, saved.CreatedAt)
	assert.True(t, mr.Exists(defaultKeyPrefix+"k1"))
	assert.Equal(t, defaultTTL, mr.TTL(defaultKeyPrefix+"k1"))

	again, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", OrderID: "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", again.OrderID)

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.RequestHash)
	assert.True(t, fixed.Equal(got.CreatedAt))
}

func TestIdempotencyStore_Conflict(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", OrderID: "ord-1"})
	require.NoError(t, err)

	existing, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h2", OrderID: "ord-2"})
	require.ErrorIs(t, err, ports.ErrIdempotencyConflict)
	require.NotNil(t, existing)
	assert.Equal(t, "ord-1", existing.OrderID)
}

func TestIdempotencyStore_KeysExpire(t *testing.T) {
	store, mr := newTestStore(t, WithTTL(time.Minute), WithKeyPrefix("test:"))
	ctx := context.Background()

	_, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", OrderID: "ord-1"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h2", OrderID: "ord-2"})
	require.NoError(t, err)
}

func TestIdempotencyStore_CorruptValue(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set(defaultKeyPrefix+"bad", "not-json"))

	_, err := store.Get(context.Background(), "bad")
	require.Error(t, err)
}
