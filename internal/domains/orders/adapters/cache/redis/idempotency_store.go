package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

var _ ports.IdempotencyStore = (*IdempotencyStore)(nil)

const (
	defaultKeyPrefix = "orders:idempotency:"
	defaultTTL       = 24 * time.Hour
)

// IdempotencyStore keeps idempotency keys in Redis and lets them expire on their own.
type IdempotencyStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Option customizes the Redis idempotency store.
type Option func(*IdempotencyStore)

// WithTTL sets how long a key is remembered.
func WithTTL(ttl time.Duration) Option {
	return func(s *IdempotencyStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces the keys written to Redis.
func WithKeyPrefix(prefix string) Option {
	return func(s *IdempotencyStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *IdempotencyStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewIdempotencyStore wires a Redis-backed store. Caller manages the client lifecycle.
func NewIdempotencyStore(client goredis.UniversalClient, opts ...Option) *IdempotencyStore {
	s := &IdempotencyStore{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type storedRecord struct {
	RequestHash string    `json:"requestHash"`
	OrderID     string    `json:"orderId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Get returns the stored record for the key, or nil when absent or expired.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*ports.IdempotencyRecord, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis idempotency store not configured")
	}
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decode(key, raw)
}

// Save stores the record with SETNX; an existing key is compared against the request.
func (s *IdempotencyStore) Save(ctx context.Context, record ports.IdempotencyRecord) (*ports.IdempotencyRecord, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis idempotency store not configured")
	}
	now := s.now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	payload, err := json.Marshal(storedRecord{
		RequestHash: record.RequestHash,
		OrderID:     record.OrderID,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}

	stored, err := s.client.SetNX(ctx, s.prefix+record.Key, payload, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if stored {
		return &record, nil
	}

	existing, err := s.Get(ctx, record.Key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// expired between SETNX and GET
		return s.Save(ctx, record)
	}
	if existing.RequestHash != record.RequestHash || existing.OrderID != record.OrderID {
		return existing, ports.ErrIdempotencyConflict
	}
	return existing, nil
}

func decode(key string, raw []byte) (*ports.IdempotencyRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode idempotency key %s: %w", key, err)
	}
	return &ports.IdempotencyRecord{
		Key:         key,
		RequestHash: stored.RequestHash,
		OrderID:     stored.OrderID,
		CreatedAt:   stored.CreatedAt,
		UpdatedAt:   stored.UpdatedAt,
	}, nil
}
