package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

var _ ports.Store = (*Store)(nil)

// Store is an in-memory order persistence adapter. Updates are serialized by
// the mutex and guarded by the order version.
type Store struct {
	mu           sync.RWMutex
	orders       map[string]*domain.Order
	transactions map[string][]domain.Transaction
}

func NewStore() *Store {
	return &Store{
		orders:       map[string]*domain.Order{},
		transactions: map[string][]domain.Transaction{},
	}
}

func (s *Store) Create(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, errors.New("order is nil")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return nil, ports.ErrAlreadyExists
	}
	clone := order.Clone()
	clone.Version = 1
	s.orders[clone.ID] = clone
	return clone.Clone(), nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return order.Clone(), nil
}

func (s *Store) Update(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, errors.New("order is nil")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.orders[order.ID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	if current.Version != order.Version {
		return nil, ports.ErrConcurrentUpdate
	}
	clone := order.Clone()
	clone.Version = current.Version + 1
	clone.CreatedAt = current.CreatedAt
	s.orders[clone.ID] = clone
	return clone.Clone(), nil
}

func (s *Store) List(_ context.Context, filter ports.ListFilter) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.Matches(order) {
			list = append(list, order.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	if filter.Limit > 0 && len(list) > filter.Limit {
		list = list[:filter.Limit]
	}
	return list, nil
}

func (s *Store) AppendTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[tx.OrderID]; !ok {
		return ports.ErrNotFound
	}
	for _, existing := range s.transactions[tx.OrderID] {
		if existing.ID == tx.ID {
			return nil
		}
	}
	tx.RawResponse = append([]byte(nil), tx.RawResponse...)
	s.transactions[tx.OrderID] = append(s.transactions[tx.OrderID], tx)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, orderID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orders[orderID]; !ok {
		return nil, ports.ErrNotFound
	}
	return append([]domain.Transaction(nil), s.transactions[orderID]...), nil
}
