package bus

import (
	"context"
	"sync"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
)

// DedupStore remembers which event ids a consumer group has processed.
type DedupStore interface {
	Seen(ctx context.Context, group, eventID string) (bool, error)
	Mark(ctx context.Context, group, eventID string) error
}

// Dedup drops redelivered events. An event is marked only once its handler
// has returned nil, so a failure, a panic or a crash leaves it unmarked and
// the redelivery is processed. Two concurrent deliveries of one event can
// both run; handlers are idempotent on their own state.
func Dedup(store DedupStore, group string, logg *logger.Logger) Middleware {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			eventID, err := eventIDOf(msg)
			if err != nil {
				return err
			}
			seen, err := store.Seen(ctx, group, eventID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "check dedup mark")
			}
			if seen {
				logg.Debug(logg.WithEventID(ctx, eventID), "duplicate event skipped")
				return nil
			}
			if err := next(ctx, msg); err != nil {
				return err
			}
			// The work is committed; a lost mark only costs one idempotent replay.
			if err := store.Mark(context.WithoutCancel(ctx), group, eventID); err != nil {
				logg.Error(logg.WithEventID(ctx, eventID), "mark event processed", err)
			}
			return nil
		}
	}
}

func eventIDOf(msg Message) (string, error) {
	if id := msg.Headers[events.HeaderEventID]; id != "" {
		return id, nil
	}
	env, err := events.Unmarshal(msg.Value)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeFatal, err, "undecodable message")
	}
	return env.EventID, nil
}

// MemoryDedup is an in-process DedupStore.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]struct{})}
}

func (m *MemoryDedup) Seen(_ context.Context, group, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[group+":"+eventID]
	return ok, nil
}

func (m *MemoryDedup) Mark(_ context.Context, group, eventID string) error {
	m.mu.Lock()
	m.seen[group+":"+eventID] = struct{}{}
	m.mu.Unlock()
	return nil
}
