package orders

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/ariefcatur/go-saga-orders/internal/memtx"
)

type MemoryStore struct {
	tx memtx.Runner

	mu       sync.RWMutex
	orders   map[string]Order
	byNumber map[string]string
	byExtID  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]Order),
		byNumber: make(map[string]string),
		byExtID:  make(map[string]string),
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.Run(ctx, fn)
}

func (s *MemoryStore) Create(ctx context.Context, o Order) error {
	o.Items = slices.Clone(o.Items)
	s.mu.Lock()
	if _, taken := s.byNumber[o.OrderNumber]; taken {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	if _, taken := s.byExtID[o.ExternalID]; taken && o.ExternalID != "" {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	s.orders[o.ID] = o
	s.byNumber[o.OrderNumber] = o.ID
	if o.ExternalID != "" {
		s.byExtID[o.ExternalID] = o.ID
	}
	s.mu.Unlock()

	s.onRollback(ctx, func() {
		delete(s.orders, o.ID)
		delete(s.byNumber, o.OrderNumber)
		if o.ExternalID != "" {
			delete(s.byExtID, o.ExternalID)
		}
	})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

// GetForUpdate needs no lock of its own; the memtx.Runner runs one
// transaction at a time.
func (s *MemoryStore) GetForUpdate(ctx context.Context, id string) (Order, error) {
	return s.Get(ctx, id)
}

func (s *MemoryStore) GetByNumber(_ context.Context, number string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byNumber[number])
}

func (s *MemoryStore) GetByExternalID(_ context.Context, externalID string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byExtID[externalID])
}

func (s *MemoryStore) lookup(id string) (Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.CustomerID != "" && o.Customer.CustomerID != f.CustomerID {
			continue
		}
		o.Items = slices.Clone(o.Items)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, o Order) error {
	s.mu.Lock()
	prev, ok := s.orders[o.ID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	s.orders[o.ID] = o
	s.mu.Unlock()

	s.onRollback(ctx, func() { s.orders[o.ID] = prev })
	return nil
}

func (s *MemoryStore) onRollback(ctx context.Context, undo func()) {
	tx := memtx.From(ctx)
	if tx == nil {
		return
	}
	tx.OnRollback(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		undo()
	})
}
