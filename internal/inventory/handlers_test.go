package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	"github.com/ariefcatur/go-saga-orders/internal/events"
)

func publishEvent(t *testing.T, b bus.Publisher, eventType, orderID string, payload any) {
	t.Helper()
	env, err := events.New(eventType, "orders", orderID, epoch, payload)
	require.NoError(t, err)
	raw, err := env.Marshal()
	require.NoError(t, err)
	topic, ok := events.TopicFor(eventType)
	require.True(t, ok)
	require.NoError(t, b.Publish(context.Background(), bus.Message{
		Topic:   topic,
		Key:     events.PartitionKey(orderID),
		Value:   raw,
		Headers: env.Headers(),
	}))
}

func newHandlerBus(t *testing.T, f fixture) *bus.MemoryBus {
	t.Helper()
	b := bus.NewMemory(bus.MemoryOptions{
		Duplicate: true,
		NoBackoff: true,
		Dispatch:  bus.DispatchConfig{MaxAttempts: 2},
	})
	require.NoError(t, bus.SubscribeAll(b, ConsumerGroup, f.svc.Routes(), bus.Dedup(bus.NewMemoryDedup(), ConsumerGroup, nil)))
	return b
}

func TestHandlersReserveAndConfirm(t *testing.T) {
	f := newFixture(t, Product{ID: "p1", SKU: "P1", Name: "Widget", StockQuantity: 5})
	b := newHandlerBus(t, f)
	ctx := context.Background()

	publishEvent(t, b, events.TypeInventoryReservationRequested, "o-1", events.InventoryReservationRequested{
		OrderID:        "o-1",
		CustomerID:     "cust-1",
		Items:          []events.Item{{ProductID: "p1", Quantity: 2, UnitPrice: 999}},
		TimeoutMinutes: 10,
	})
	_, err := b.Drain(ctx)
	require.NoError(t, err)

	r, err := f.svc.GetReservation(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(10*time.Minute), r.ExpiresAt)
	assert.EqualValues(t, 2, f.product(t, "p1").ReservedQuantity)
	assert.Len(t, f.emitted(events.TopicInventoryReserved), 1)

	publishEvent(t, b, events.TypeInventoryReservationConfirm, "o-1", events.InventoryReservationConfirm{OrderID: "o-1"})
	_, err = b.Drain(ctx)
	require.NoError(t, err)

	p := f.product(t, "p1")
	assert.EqualValues(t, 3, p.StockQuantity)
	assert.EqualValues(t, 0, p.ReservedQuantity)
	assert.Len(t, f.emitted(events.TopicInventoryConfirmed), 1)
}

func TestReleaseOfUnknownReservationIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	b := newHandlerBus(t, f)

	publishEvent(t, b, events.TypeInventoryReservationRelease, "o-9", events.InventoryReservationRelease{OrderID: "o-9", Reason: "payment failed"})
	_, err := b.Drain(context.Background())
	require.NoError(t, err)

	assert.Empty(t, b.Published(events.DeadLetterTopic(events.TopicInventoryReservationRelease)))
	assert.Empty(t, f.outbox.Messages())
}

func TestUndecodablePayloadIsDeadLettered(t *testing.T) {
	f := newFixture(t)
	b := newHandlerBus(t, f)

	require.NoError(t, b.Publish(context.Background(), bus.Message{
		Topic: events.TopicInventoryReservationRequested,
		Key:   []byte("o-1"),
		Value: []byte("{not json"),
	}))
	_, err := b.Drain(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, b.Published(events.DeadLetterTopic(events.TopicInventoryReservationRequested)))
}
