package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-saga-orders/internal/clock"
	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *MemoryStore
	sagas  *MemorySagaStore
	outbox *outbox.MemoryStore
	clock  *clock.Manual
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		store:  NewMemoryStore(),
		sagas:  NewMemorySagaStore(),
		outbox: outbox.NewMemoryStore(),
		clock:  clock.NewManual(epoch),
	}
	f.svc = NewService(f.store, f.sagas, f.outbox, append([]Option{WithClock(f.clock)}, opts...)...)
	return f
}

func (f fixture) emitted(topic string) []events.Envelope {
	var out []events.Envelope
	for _, m := range f.outbox.Messages() {
		if m.Topic != topic {
			continue
		}
		env, err := events.Unmarshal(m.Payload)
		if err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

func (f fixture) order(t *testing.T, id string) Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

// forceStatus moves an order without the saga, for tests of later states.
func (f fixture) forceStatus(t *testing.T, id string, st Status) {
	t.Helper()
	o := f.order(t, id)
	o.Status = st
	require.NoError(t, f.store.Update(context.Background(), o))
}

func orderInput() CreateOrderInput {
	return CreateOrderInput{
		Customer: Customer{
			CustomerID: "cust-1",
			Email:      "jane@example.com",
			FirstName:  "Jane",
			LastName:   "Doe",
		},
		Items: []ItemInput{
			{ProductID: "p1", ProductName: "Widget", Quantity: 2, UnitPrice: 1500},
			{ProductID: "p2", ProductName: "Gadget", Quantity: 1, UnitPrice: 999},
		},
		ShippingAddress: Address{
			Street:     "1 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
			Country:    "US",
		},
		PaymentMethod: "pm_card_visa",
	}
}

func (f fixture) create(t *testing.T) Order {
	t.Helper()
	o, created, err := f.svc.CreateOrder(context.Background(), orderInput())
	require.NoError(t, err)
	require.True(t, created)
	return o
}

func TestCreateOrderPricesAndRequestsBothLegs(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	assert.Equal(t, StatusPending, o.Status)
	assert.EqualValues(t, 3999, o.Subtotal)
	assert.EqualValues(t, 400, o.Tax)
	assert.EqualValues(t, 1000, o.ShippingCost)
	assert.EqualValues(t, 5399, o.Total)
	assert.EqualValues(t, 3000, o.Items[0].LineTotal)
	assert.Equal(t, "usd", o.Currency)
	assert.Regexp(t, `^ORD-20250301-[0-9A-F]{8}$`, o.OrderNumber)

	created := f.emitted(events.TopicOrderCreated)
	require.Len(t, created, 1)
	assert.Equal(t, o.ID, created[0].CorrelationID)
	assert.Equal(t, ServiceName, created[0].Producer)

	reqs := f.emitted(events.TopicInventoryReservationRequested)
	require.Len(t, reqs, 1)
	inv, err := events.Decode[events.InventoryReservationRequested](reqs[0])
	require.NoError(t, err)
	assert.Equal(t, 30, inv.TimeoutMinutes)
	assert.Len(t, inv.Items, 2)

	pays := f.emitted(events.TopicPaymentProcessingRequested)
	require.Len(t, pays, 1)
	pay, err := events.Decode[events.PaymentProcessingRequested](pays[0])
	require.NoError(t, err)
	assert.EqualValues(t, 5399, pay.Amount)
	assert.Equal(t, "jane@example.com", pay.CustomerEmail)
	assert.Equal(t, "pm_card_visa", pay.PaymentMethod)

	got, err := f.svc.GetByNumber(context.Background(), o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestCreateOrderWithExternalIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := orderInput()
	in.ExternalID = "checkout-42"

	first, created, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, f.emitted(events.TopicOrderCreated), 1)
}

func TestCreateOrderRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	in := orderInput()
	in.Items = nil
	in.Customer.Email = "not-an-email"

	_, _, err := f.svc.CreateOrder(context.Background(), in)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "items")
	assert.Contains(t, details, "customer.email")

	in = orderInput()
	in.Items[0].Quantity = 0
	_, _, err = f.svc.CreateOrder(context.Background(), in)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.outbox.Messages())
}

func TestCreateOrderRejectsOverflowingAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := orderInput()
	in.Items = []ItemInput{{ProductID: "p1", ProductName: "Widget", Quantity: 1 << 62, UnitPrice: 2}}
	_, _, err := f.svc.CreateOrder(ctx, in)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	in.Items = []ItemInput{{ProductID: "p1", ProductName: "Widget", Quantity: 2, UnitPrice: 1 << 40}}
	_, _, err = f.svc.CreateOrder(ctx, in)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	all, err := f.svc.ListOrders(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.outbox.Messages())
}

func TestUpdateOrderMovesForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	confirmed := StatusConfirmed
	_, err := f.svc.UpdateOrder(ctx, o.ID, UpdateOrderInput{Status: &confirmed})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict), "pending orders are confirmed by the saga")

	f.forceStatus(t, o.ID, StatusConfirmed)
	processing := StatusProcessing
	got, err := f.svc.UpdateOrder(ctx, o.ID, UpdateOrderInput{Status: &processing})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)

	updates := f.emitted(events.TopicOrderUpdated)
	require.Len(t, updates, 1)
	p, err := events.Decode[events.OrderUpdated](updates[0])
	require.NoError(t, err)
	assert.Equal(t, "processing", p.Status)
	assert.Equal(t, "confirmed", p.Previous)

	delivered := StatusDelivered
	_, err = f.svc.UpdateOrder(ctx, o.ID, UpdateOrderInput{Status: &delivered})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateOrder(ctx, o.ID, UpdateOrderInput{Status: &confirmed})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusProcessing, f.order(t, o.ID).Status)
}

func TestUpdateOrderChangesNotesWithoutEvent(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	notes := "leave at the door"
	addr := o.ShippingAddress
	addr.Street = "2 Side St"

	got, err := f.svc.UpdateOrder(context.Background(), o.ID, UpdateOrderInput{Notes: &notes, ShippingAddress: &addr})
	require.NoError(t, err)
	assert.Equal(t, notes, got.Notes)
	assert.Equal(t, "2 Side St", f.order(t, o.ID).ShippingAddress.Street)
	assert.Empty(t, f.emitted(events.TopicOrderUpdated))
}

func TestUpdateToCancelledCancels(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	cancelled := StatusCancelled

	got, err := f.svc.UpdateOrder(context.Background(), o.ID, UpdateOrderInput{Status: &cancelled, CancelReason: "changed my mind"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "changed my mind", got.CancelReason)
	assert.Len(t, f.emitted(events.TopicOrderCancelled), 1)
	assert.Empty(t, f.emitted(events.TopicOrderUpdated))
}

func TestCancelOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	got, err := f.svc.CancelOrder(ctx, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, reasonCancelled, got.CancelReason)

	again, err := f.svc.CancelOrder(ctx, o.ID, "second try")
	require.NoError(t, err)
	assert.Equal(t, reasonCancelled, again.CancelReason)

	assert.Len(t, f.emitted(events.TopicOrderCancelled), 1)
	// The payment leg was still open, so it is asked to cancel once.
	assert.Len(t, f.emitted(events.TopicPaymentRefundRequested), 1)
	assert.Empty(t, f.emitted(events.TopicInventoryReservationRelease))
}

func TestCancelDeliveredOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	f.forceStatus(t, o.ID, StatusDelivered)

	_, err := f.svc.CancelOrder(context.Background(), o.ID, "too late")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, f.emitted(events.TopicOrderCancelled))
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CancelOrder(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrderStatusReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	v, err := f.svc.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, v.Status)
	assert.Equal(t, o.OrderNumber, v.OrderNumber)

	_, err = f.svc.CancelOrder(ctx, o.ID, "")
	require.NoError(t, err)
	v, err = f.svc.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, v.Status)

	_, err = f.svc.GetOrderStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t)
	f.clock.Advance(time.Minute)
	b := f.create(t)
	_, err := f.svc.CancelOrder(ctx, a.ID, "")
	require.NoError(t, err)

	all, err := f.svc.ListOrders(ctx, ListFilter{CustomerID: "cust-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "newest first")

	pending, err := f.svc.ListOrders(ctx, ListFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	none, err := f.svc.ListOrders(ctx, ListFilter{CustomerID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.ListOrders(ctx, ListFilter{Status: "lost"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestTotalsInvariantHoldsForEveryOrder(t *testing.T) {
	f := newFixture(t, WithPricing(Pricing{TaxRateBasisPoints: 725, ShippingCost: 499}))
	ctx := context.Background()
	for q := int64(1); q <= 20; q++ {
		in := orderInput()
		in.Items[0].Quantity = q
		in.Items[1].UnitPrice = 333 * q
		_, _, err := f.svc.CreateOrder(ctx, in)
		require.NoError(t, err)
	}
	all, err := f.svc.ListOrders(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 20)
	for _, o := range all {
		assert.Equal(t, o.Subtotal+o.Tax+o.ShippingCost, o.Total, o.OrderNumber)
		var sum int64
		for _, it := range o.Items {
			sum += it.LineTotal
		}
		assert.Equal(t, sum, o.Subtotal)
	}
}
