package payment

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ariefcatur/go-saga-orders/internal/memtx"
)

type MemoryStore struct {
	tx memtx.Runner

	mu       sync.RWMutex
	payments map[string]Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]Payment)}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.Run(ctx, fn)
}

func (s *MemoryStore) Get(_ context.Context, id string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return clonePayment(p), nil
}

func (s *MemoryStore) GetByProcessorIntent(_ context.Context, processorIntentID string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ProcessorIntentID == processorIntentID {
			return clonePayment(p), nil
		}
	}
	return Payment{}, ErrNotFound
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Payment
	for _, p := range s.payments {
		if f.OrderID != "" && p.OrderID != f.OrderID {
			continue
		}
		if f.CustomerID != "" && p.CustomerID != f.CustomerID {
			continue
		}
		out = append(out, clonePayment(p))
	}
	slices.SortFunc(out, func(a, b Payment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.PaymentIntentID, b.PaymentIntentID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, p Payment) error {
	p = clonePayment(p)
	s.mu.Lock()
	prev, existed := s.payments[p.PaymentIntentID]
	s.payments[p.PaymentIntentID] = p
	s.mu.Unlock()

	if tx := memtx.From(ctx); tx != nil {
		tx.OnRollback(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if existed {
				s.payments[p.PaymentIntentID] = prev
			} else {
				delete(s.payments, p.PaymentIntentID)
			}
		})
	}
	return nil
}

func clonePayment(p Payment) Payment {
	p.Items = slices.Clone(p.Items)
	return p
}
