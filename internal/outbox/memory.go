package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/memtx"
)

// MemoryStore is an in-process Store. Enqueues made inside a memtx
// transaction become visible only when it commits.
type MemoryStore struct {
	mu   sync.Mutex
	msgs map[string]*Message
	seq  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[string]*Message)}
}

func (s *MemoryStore) Enqueue(ctx context.Context, msgs ...Message) error {
	add := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, m := range msgs {
			m := m
			if m.Status == "" {
				m.Status = StatusPending
			}
			s.msgs[m.ID] = &m
			s.seq = append(s.seq, m.ID)
		}
	}
	if tx := memtx.From(ctx); tx != nil {
		tx.OnCommit(add)
		return nil
	}
	add()
	return nil
}

func (s *MemoryStore) FetchPending(_ context.Context, limit int, now time.Time) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, id := range s.seq {
		m := s.msgs[id]
		if m.Status != StatusPending || m.AvailableAt.After(now) {
			continue
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.msgs[id]; ok {
		m.Status = StatusPublished
		m.PublishedAt = &at
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, cause error, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.msgs[id]; ok {
		m.Attempts++
		m.LastError = cause.Error()
		m.AvailableAt = retryAt
	}
	return nil
}

func (s *MemoryStore) MarkDead(_ context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.msgs[id]; ok {
		m.Attempts++
		m.Status = StatusDead
		m.LastError = cause.Error()
	}
	return nil
}

// Messages returns a snapshot of every stored message in enqueue order.
func (s *MemoryStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.seq))
	for _, id := range s.seq {
		out = append(out, *s.msgs[id])
	}
	return out
}
