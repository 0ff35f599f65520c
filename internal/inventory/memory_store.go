package inventory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/memtx"
)

// MemoryStore keeps inventory state in maps. Transactions are serialized by
// a memtx.Runner and undone on failure.
type MemoryStore struct {
	tx memtx.Runner

	mu           sync.RWMutex
	products     map[string]Product
	reservations map[string]Reservation
	outcomes     map[string]RequestOutcome
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]Product),
		reservations: make(map[string]Reservation),
		outcomes:     make(map[string]RequestOutcome),
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.Run(ctx, fn)
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetProductsForUpdate(_ context.Context, ids []string) (map[string]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *MemoryStore) SearchProducts(_ context.Context, term string, limit int) ([]Product, error) {
	term = strings.ToLower(term)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Product
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		for _, field := range []string{p.Name, p.SKU, p.Category} {
			if strings.Contains(strings.ToLower(field), term) {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveProduct(ctx context.Context, p Product) error {
	s.mu.Lock()
	prev, existed := s.products[p.ID]
	s.products[p.ID] = p
	s.mu.Unlock()

	s.onRollback(ctx, func() {
		if existed {
			s.products[p.ID] = prev
		} else {
			delete(s.products, p.ID)
		}
	})
	return nil
}

func (s *MemoryStore) GetReservation(_ context.Context, orderID string) (Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[orderID]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	r.Items = slices.Clone(r.Items)
	return r, nil
}

// GetReservationForUpdate needs no row lock here: the memtx.Runner already
// runs one transaction at a time.
func (s *MemoryStore) GetReservationForUpdate(ctx context.Context, orderID string) (Reservation, error) {
	return s.GetReservation(ctx, orderID)
}

func (s *MemoryStore) ListReservations(_ context.Context, f ReservationFilter) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reservation
	for _, r := range s.reservations {
		if f.CustomerID != "" && r.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		r.Items = slices.Clone(r.Items)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveReservation(ctx context.Context, r Reservation) error {
	r.Items = slices.Clone(r.Items)
	s.mu.Lock()
	prev, existed := s.reservations[r.OrderID]
	s.reservations[r.OrderID] = r
	s.mu.Unlock()

	s.onRollback(ctx, func() {
		if existed {
			s.reservations[r.OrderID] = prev
		} else {
			delete(s.reservations, r.OrderID)
		}
	})
	return nil
}

func (s *MemoryStore) ListExpiredReservations(_ context.Context, now time.Time, limit int) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reservation
	for _, r := range s.reservations {
		if r.Status == ReservationPending && r.ExpiresAt.Before(now) {
			r.Items = slices.Clone(r.Items)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetRequestOutcome(_ context.Context, orderID string) (RequestOutcome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[orderID]
	return o, ok, nil
}

func (s *MemoryStore) SaveRequestOutcome(ctx context.Context, orderID string, outcome RequestOutcome, _ time.Time) error {
	s.mu.Lock()
	s.outcomes[orderID] = outcome
	s.mu.Unlock()
	s.onRollback(ctx, func() { delete(s.outcomes, orderID) })
	return nil
}

// PendingReservations lists every pending reservation.
func (s *MemoryStore) PendingReservations() []Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reservation
	for _, r := range s.reservations {
		if r.Status == ReservationPending {
			out = append(out, r)
		}
	}
	return out
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
