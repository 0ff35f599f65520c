package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/redisx"
)

type LegStatus string

const (
	LegPending   LegStatus = "pending"
	LegSucceeded LegStatus = "succeeded"
	LegFailed    LegStatus = "failed"
	LegReleased  LegStatus = "released"
	LegRefunded  LegStatus = "refunded"
)

// SagaState is what the order service has heard from the inventory and
// payment legs of one order, plus which compensations it already asked for.
type SagaState struct {
	OrderID                string
	Inventory              LegStatus
	ReservationID          string
	Payment                LegStatus
	PaymentIntentID        string
	InventoryCompensated   bool
	PaymentCompensated     bool
	PaymentCancelRequested bool
	UpdatedAt              time.Time
	// Version counts saves; Save only succeeds against the version loaded.
	Version int64
}

func newSagaState(orderID string) SagaState {
	return SagaState{OrderID: orderID, Inventory: LegPending, Payment: LegPending}
}

// ErrSagaConflict reports that another handler saved the saga after it was
// loaded. Redelivery replays the event against the newer state.
var ErrSagaConflict = pkgerrors.New(pkgerrors.CodeTransient, "saga state changed concurrently")

// SagaStore loads and saves saga state. Load of an unknown order returns a
// state with both legs pending at version 0. Save writes st at st.Version+1,
// or fails with ErrSagaConflict when the stored version is no longer
// st.Version.
type SagaStore interface {
	Load(ctx context.Context, orderID string) (SagaState, error)
	Save(ctx context.Context, st SagaState) error
}

type MemorySagaStore struct {
	mu     sync.Mutex
	states map[string]SagaState
}

func NewMemorySagaStore() *MemorySagaStore {
	return &MemorySagaStore{states: make(map[string]SagaState)}
}

func (m *MemorySagaStore) Load(_ context.Context, orderID string) (SagaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[orderID]; ok {
		return st, nil
	}
	return newSagaState(orderID), nil
}

func (m *MemorySagaStore) Save(_ context.Context, st SagaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[st.OrderID].Version != st.Version {
		return fmt.Errorf("save saga %s at version %d: %w", st.OrderID, st.Version, ErrSagaConflict)
	}
	st.Version++
	m.states[st.OrderID] = st
	return nil
}

// RedisSagaStore keeps each saga in the hash saga:{orderId}.
type RedisSagaStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSagaStore(rdb redis.Cmdable, ttl time.Duration) (*RedisSagaStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("saga ttl must be positive")
	}
	return &RedisSagaStore{rdb: rdb, ttl: ttl}, nil
}

const (
	fieldInventory       = "inventory"
	fieldReservationID   = "reservation_id"
	fieldPayment         = "payment"
	fieldPaymentIntentID = "payment_intent_id"
	fieldInvCompensated  = "inventory_compensated"
	fieldPayCompensated  = "payment_compensated"
	fieldCancelRequested = "payment_cancel_requested"
	fieldUpdatedAt       = "updated_at"
	fieldVersion         = "version"
)

// saveScript writes the hash only while its version still matches ARGV[1].
// ARGV[2] is the TTL in milliseconds, the rest are field/value pairs.
var saveScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version") or "0"
if current ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1`)

func (s *RedisSagaStore) Load(ctx context.Context, orderID string) (SagaState, error) {
	h, err := s.rdb.HGetAll(ctx, redisx.SagaKey(orderID)).Result()
	if err != nil {
		return SagaState{}, fmt.Errorf("load saga %s: %w", orderID, err)
	}
	st := newSagaState(orderID)
	if len(h) == 0 {
		return st, nil
	}
	if v := h[fieldInventory]; v != "" {
		st.Inventory = LegStatus(v)
	}
	if v := h[fieldPayment]; v != "" {
		st.Payment = LegStatus(v)
	}
	st.ReservationID = h[fieldReservationID]
	st.PaymentIntentID = h[fieldPaymentIntentID]
	st.InventoryCompensated, _ = strconv.ParseBool(h[fieldInvCompensated])
	st.PaymentCompensated, _ = strconv.ParseBool(h[fieldPayCompensated])
	st.PaymentCancelRequested, _ = strconv.ParseBool(h[fieldCancelRequested])
	if v := h[fieldUpdatedAt]; v != "" {
		if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return SagaState{}, fmt.Errorf("saga %s updated_at: %w", orderID, err)
		}
	}
	if v := h[fieldVersion]; v != "" {
		if st.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return SagaState{}, fmt.Errorf("saga %s version: %w", orderID, err)
		}
	}
	return st, nil
}

func (s *RedisSagaStore) Save(ctx context.Context, st SagaState) error {
	args := []any{
		strconv.FormatInt(st.Version, 10),
		s.ttl.Milliseconds(),
		fieldInventory, string(st.Inventory),
		fieldReservationID, st.ReservationID,
		fieldPayment, string(st.Payment),
		fieldPaymentIntentID, st.PaymentIntentID,
		fieldInvCompensated, strconv.FormatBool(st.InventoryCompensated),
		fieldPayCompensated, strconv.FormatBool(st.PaymentCompensated),
		fieldCancelRequested, strconv.FormatBool(st.PaymentCancelRequested),
		fieldUpdatedAt, st.UpdatedAt.UTC().Format(time.RFC3339Nano),
		fieldVersion, strconv.FormatInt(st.Version+1, 10),
	}
	saved, err := saveScript.Run(ctx, s.rdb, []string{redisx.SagaKey(st.OrderID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("save saga %s: %w", st.OrderID, err)
	}
	if saved == 0 {
		return fmt.Errorf("save saga %s at version %d: %w", st.OrderID, st.Version, ErrSagaConflict)
	}
	return nil
}
