package orders

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
)

// legBus delivers leg outcomes to the order service. Every message arrives
// twice and no dedup middleware is installed, so handlers must be idempotent
// on their own.
func legBus(t *testing.T, f fixture) *bus.MemoryBus {
	t.Helper()
	b := bus.NewMemory(bus.MemoryOptions{
		Duplicate: true,
		NoBackoff: true,
		Dispatch:  bus.DispatchConfig{MaxAttempts: 2},
	})
	require.NoError(t, bus.SubscribeAll(b, ConsumerGroup, f.svc.Routes()))
	return b
}

func deliver(t *testing.T, b *bus.MemoryBus, eventType, orderID string, payload any) {
	t.Helper()
	env, err := events.New(eventType, "test", orderID, epoch, payload)
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
	_, err = b.Drain(context.Background())
	require.NoError(t, err)
	require.Empty(t, b.Published(events.DeadLetterTopic(topic)))
}

func reserved(orderID string) events.InventoryReserved {
	return events.InventoryReserved{
		OrderID:       orderID,
		ReservationID: "res_" + orderID,
		CustomerID:    "cust-1",
		ExpiresAt:     epoch.Add(30 * time.Minute),
	}
}

func paid(orderID string) events.PaymentSucceeded {
	return events.PaymentSucceeded{PaymentIntentID: "pay_" + orderID, OrderID: orderID, Amount: 5399, PaidAt: epoch}
}

func TestJoinConfirmsInEitherOrder(t *testing.T) {
	for _, inventoryFirst := range []bool{true, false} {
		name := "payment first"
		if inventoryFirst {
			name = "inventory first"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			b := legBus(t, f)
			o := f.create(t)

			legs := []func(){
				func() { deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID)) },
				func() { deliver(t, b, events.TypePaymentSucceeded, o.ID, paid(o.ID)) },
			}
			if !inventoryFirst {
				legs[0], legs[1] = legs[1], legs[0]
			}

			legs[0]()
			assert.Equal(t, StatusPending, f.order(t, o.ID).Status, "one leg is not enough")
			assert.Empty(t, f.emitted(events.TopicOrderConfirmed))

			legs[1]()
			assert.Equal(t, StatusConfirmed, f.order(t, o.ID).Status)

			confirmed := f.emitted(events.TopicOrderConfirmed)
			require.Len(t, confirmed, 1)
			p, err := events.Decode[events.OrderConfirmed](confirmed[0])
			require.NoError(t, err)
			assert.Equal(t, "res_"+o.ID, p.ReservationID)
			assert.Equal(t, "pay_"+o.ID, p.PaymentIntentID)

			confirms := f.emitted(events.TopicInventoryReservationConfirm)
			require.Len(t, confirms, 1)
			c, err := events.Decode[events.InventoryReservationConfirm](confirms[0])
			require.NoError(t, err)
			assert.Equal(t, "res_"+o.ID, c.ReservationID)

			st, err := f.sagas.Load(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, LegSucceeded, st.Inventory)
			assert.Equal(t, LegSucceeded, st.Payment)
			assert.Equal(t, epoch, st.UpdatedAt)
		})
	}
}

// gatedSagaStore parks the first Save until release is closed, leaving a
// window between a handler's commit and its saga write.
type gatedSagaStore struct {
	SagaStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSagaStore) Save(ctx context.Context, st SagaState) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.SagaStore.Save(ctx, st)
}

func envelope(t *testing.T, eventType, orderID string, payload any) events.Envelope {
	t.Helper()
	env, err := events.New(eventType, "test", orderID, epoch, payload)
	require.NoError(t, err)
	return env
}

// Two replicas with their own in-process locks handle the two legs of one
// order at the same time. The loser of the saga write is redelivered and
// the join still happens.
func TestLegsHandledOnTwoReplicasStillJoin(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	ctx := context.Background()

	gated := &gatedSagaStore{SagaStore: f.sagas, entered: make(chan struct{}), release: make(chan struct{})}
	gated.armed.Store(true)
	replicaA := NewService(f.store, gated, f.outbox, WithClock(f.clock))
	replicaB := NewService(f.store, f.sagas, f.outbox, WithClock(f.clock))

	reservedEnv := envelope(t, events.TypeInventoryReserved, o.ID, reserved(o.ID))
	errA := make(chan error, 1)
	go func() { errA <- replicaA.onInventoryReserved(ctx, reservedEnv, reserved(o.ID)) }()
	<-gated.entered

	require.NoError(t, replicaB.onPaymentSucceeded(ctx, envelope(t, events.TypePaymentSucceeded, o.ID, paid(o.ID)), paid(o.ID)))
	close(gated.release)

	err := <-errA
	require.ErrorIs(t, err, ErrSagaConflict)
	assert.Equal(t, pkgerrors.Retry, pkgerrors.DispositionOf(err))
	assert.Equal(t, StatusPending, f.order(t, o.ID).Status)

	require.NoError(t, replicaA.onInventoryReserved(ctx, reservedEnv, reserved(o.ID)))

	assert.Equal(t, StatusConfirmed, f.order(t, o.ID).Status)
	assert.Len(t, f.emitted(events.TopicOrderConfirmed), 1)
	st, err := f.sagas.Load(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, LegSucceeded, st.Inventory)
	assert.Equal(t, LegSucceeded, st.Payment)
	assert.EqualValues(t, 2, st.Version)
}

func TestRedeliveredLegAfterJoinChangesNothing(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	o := f.create(t)
	deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID))
	deliver(t, b, events.TypePaymentSucceeded, o.ID, paid(o.ID))
	before := len(f.outbox.Messages())

	// Fresh event ids, same facts.
	deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID))
	deliver(t, b, events.TypePaymentSucceeded, o.ID, paid(o.ID))

	assert.Equal(t, StatusConfirmed, f.order(t, o.ID).Status)
	assert.Len(t, f.outbox.Messages(), before)
}

func TestInsufficientStockCancelsAndRefundsPayment(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	o := f.create(t)

	deliver(t, b, events.TypePaymentSucceeded, o.ID, paid(o.ID))
	deliver(t, b, events.TypeInventoryInsufficient, o.ID, events.InventoryInsufficient{
		OrderID: o.ID,
		Reason:  "Insufficient stock for one or more items",
	})

	got := f.order(t, o.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "Insufficient stock for one or more items", got.CancelReason)

	require.Len(t, f.emitted(events.TopicOrderCancelled), 1)
	refunds := f.emitted(events.TopicPaymentRefundRequested)
	require.Len(t, refunds, 1)
	r, err := events.Decode[events.PaymentRefundRequested](refunds[0])
	require.NoError(t, err)
	assert.Equal(t, "pay_"+o.ID, r.PaymentIntentID)
	assert.Nil(t, r.Amount, "full refund")
	assert.Empty(t, f.emitted(events.TopicInventoryReservationRelease))

	deliver(t, b, events.TypePaymentRefunded, o.ID, events.PaymentRefunded{
		PaymentIntentID: "pay_" + o.ID, OrderID: o.ID, Amount: 5399, RefundAmount: 5399,
	})
	st, err := f.sagas.Load(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, LegRefunded, st.Payment)
	assert.Len(t, f.emitted(events.TopicPaymentRefundRequested), 1)
}

func TestPaymentFailureCancelsAndReleasesReservation(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	o := f.create(t)

	deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID))
	deliver(t, b, events.TypePaymentFailed, o.ID, events.PaymentFailed{
		PaymentIntentID: "pay_" + o.ID,
		OrderID:         o.ID,
		ErrorMessage:    "Your card was declined.",
	})

	got := f.order(t, o.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "payment failed: Your card was declined.", got.CancelReason)

	releases := f.emitted(events.TopicInventoryReservationRelease)
	require.Len(t, releases, 1)
	r, err := events.Decode[events.InventoryReservationRelease](releases[0])
	require.NoError(t, err)
	assert.Equal(t, "res_"+o.ID, r.ReservationID)
	assert.Equal(t, got.CancelReason, r.Reason)
	assert.Empty(t, f.emitted(events.TopicPaymentRefundRequested))

	// Inventory confirms the release; nothing further to do.
	deliver(t, b, events.TypeInventoryReleased, o.ID, events.InventoryReleased{OrderID: o.ID, ReservationID: "res_" + o.ID, Reason: r.Reason})
	assert.Len(t, f.emitted(events.TopicInventoryReservationRelease), 1)
	assert.Len(t, f.emitted(events.TopicOrderCancelled), 1)
}

func TestLateReservationAfterCancelIsReleased(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	o := f.create(t)

	deliver(t, b, events.TypePaymentFailed, o.ID, events.PaymentFailed{OrderID: o.ID, ErrorMessage: "Your card was declined."})
	require.Equal(t, StatusCancelled, f.order(t, o.ID).Status)
	assert.Empty(t, f.emitted(events.TopicInventoryReservationRelease))

	deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID))
	assert.Len(t, f.emitted(events.TopicInventoryReservationRelease), 1)
	assert.Equal(t, StatusCancelled, f.order(t, o.ID).Status)
}

func TestLatePaymentAfterCancelIsRefunded(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	o := f.create(t)

	deliver(t, b, events.TypeInventoryInsufficient, o.ID, events.InventoryInsufficient{OrderID: o.ID, Reason: "out of stock"})
	// The open payment is asked to cancel.
	cancels := f.emitted(events.TopicPaymentRefundRequested)
	require.Len(t, cancels, 1)
	c, err := events.Decode[events.PaymentRefundRequested](cancels[0])
	require.NoError(t, err)
	assert.Empty(t, c.PaymentIntentID)

	// It had already been charged.
	deliver(t, b, events.TypePaymentSucceeded, o.ID, paid(o.ID))
	refunds := f.emitted(events.TopicPaymentRefundRequested)
	require.Len(t, refunds, 2)
	r, err := events.Decode[events.PaymentRefundRequested](refunds[1])
	require.NoError(t, err)
	assert.Equal(t, "pay_"+o.ID, r.PaymentIntentID)
	assert.Equal(t, "out of stock", r.Reason)
}

func TestReleaseOfPendingOrderCancelsIt(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	o := f.create(t)

	deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID))
	deliver(t, b, events.TypeInventoryReleased, o.ID, events.InventoryReleased{
		OrderID: o.ID, ReservationID: "res_" + o.ID, Reason: "reservation expired",
	})

	got := f.order(t, o.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "reservation expired", got.CancelReason)
	assert.Empty(t, f.emitted(events.TopicInventoryReservationRelease), "stock is already back")
	assert.Len(t, f.emitted(events.TopicPaymentRefundRequested), 1)

	// The payment lands afterwards and is refunded.
	deliver(t, b, events.TypePaymentSucceeded, o.ID, paid(o.ID))
	assert.Len(t, f.emitted(events.TopicPaymentRefundRequested), 2)
	assert.Empty(t, f.emitted(events.TopicOrderConfirmed))
}

func TestReleaseAfterConfirmCancelsAndRefunds(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	o := f.create(t)
	deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID))
	deliver(t, b, events.TypePaymentSucceeded, o.ID, paid(o.ID))
	require.Equal(t, StatusConfirmed, f.order(t, o.ID).Status)

	deliver(t, b, events.TypeInventoryReleased, o.ID, events.InventoryReleased{
		OrderID: o.ID, ReservationID: "res_" + o.ID, Reason: "reservation expired",
	})

	assert.Equal(t, StatusCancelled, f.order(t, o.ID).Status)
	refunds := f.emitted(events.TopicPaymentRefundRequested)
	require.Len(t, refunds, 1)
	r, err := events.Decode[events.PaymentRefundRequested](refunds[0])
	require.NoError(t, err)
	assert.Equal(t, "pay_"+o.ID, r.PaymentIntentID)
}

func TestEventForUnknownOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	deliver(t, b, events.TypeInventoryReserved, "ghost", reserved("ghost"))
	assert.Empty(t, f.outbox.Messages())
}

func TestUserCancelCompensatesSucceededLegs(t *testing.T) {
	f := newFixture(t)
	b := legBus(t, f)
	o := f.create(t)
	deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID))

	_, err := f.svc.CancelOrder(context.Background(), o.ID, "customer request")
	require.NoError(t, err)
	assert.Len(t, f.emitted(events.TopicInventoryReservationRelease), 1)
	assert.Len(t, f.emitted(events.TopicPaymentRefundRequested), 1)

	// Repeating the cancel asks for nothing new.
	_, err = f.svc.CancelOrder(context.Background(), o.ID, "customer request")
	require.NoError(t, err)
	deliver(t, b, events.TypeInventoryReserved, o.ID, reserved(o.ID))
	assert.Len(t, f.emitted(events.TopicInventoryReservationRelease), 1)
}
