package orders_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	"github.com/ariefcatur/go-saga-orders/internal/clock"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/inventory"
	"github.com/ariefcatur/go-saga-orders/internal/orders"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/payment"
)

// ChoreographySuite runs the three services against one in-memory bus, each
// with its own stores and outbox relay, the way they run in production.
type ChoreographySuite struct {
	suite.Suite

	ctx   context.Context
	clock *clock.Manual
	bus   *bus.MemoryBus

	orders    *orders.Service
	inventory *inventory.Service
	payments  *payment.Service

	invStore *inventory.MemoryStore
	payStore *payment.MemoryStore
	relays   []*outbox.Relay
}

func TestChoreography(t *testing.T) {
	suite.Run(t, new(ChoreographySuite))
}

func (s *ChoreographySuite) SetupTest() {
	s.build(false)
}

// build wires the services. With duplicate set every message is delivered
// twice and no dedup middleware is installed.
func (s *ChoreographySuite) build(duplicate bool) {
	s.ctx = context.Background()
	s.clock = clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	s.bus = bus.NewMemory(bus.MemoryOptions{
		Duplicate: duplicate,
		NoBackoff: true,
		Dispatch:  bus.DispatchConfig{MaxAttempts: 3},
	})
	s.relays = nil

	orderOutbox := outbox.NewMemoryStore()
	s.orders = orders.NewService(orders.NewMemoryStore(), orders.NewMemorySagaStore(), orderOutbox,
		orders.WithClock(s.clock))

	invOutbox := outbox.NewMemoryStore()
	s.invStore = inventory.NewMemoryStore()
	s.inventory = inventory.NewService(s.invStore, invOutbox, inventory.WithClock(s.clock))

	payOutbox := outbox.NewMemoryStore()
	s.payStore = payment.NewMemoryStore()
	s.payments = payment.NewService(s.payStore, payOutbox, payment.NewFakeProcessor(), payment.WithClock(s.clock))

	subscribe := func(group string, routes []bus.Route) {
		var mws []bus.Middleware
		if !duplicate {
			mws = append(mws, bus.Dedup(bus.NewMemoryDedup(), group, nil))
		}
		s.Require().NoError(bus.SubscribeAll(s.bus, group, routes, mws...))
	}
	subscribe(orders.ConsumerGroup, s.orders.Routes())
	subscribe(inventory.ConsumerGroup, s.inventory.Routes())
	subscribe(payment.ConsumerGroup, s.payments.Routes())

	for _, store := range []*outbox.MemoryStore{orderOutbox, invOutbox, payOutbox} {
		r, err := outbox.NewRelay(outbox.RelayParams{Store: store, Publisher: s.bus, Clock: s.clock})
		s.Require().NoError(err)
		s.relays = append(s.relays, r)
	}

	_, err := s.inventory.UpsertProduct(s.ctx, inventory.UpsertProductInput{
		ID: "p1", SKU: "P1", Name: "Widget", Price: 1500, StockQuantity: 5,
	})
	s.Require().NoError(err)
	_, err = s.inventory.UpsertProduct(s.ctx, inventory.UpsertProductInput{
		ID: "p2", SKU: "P2", Name: "Gadget", Price: 999, StockQuantity: 50,
	})
	s.Require().NoError(err)
}

// settle relays and delivers until no service has anything left to say.
func (s *ChoreographySuite) settle() {
	for range 50 {
		moved := 0
		for _, r := range s.relays {
			n, err := r.Flush(s.ctx)
			s.Require().NoError(err)
			moved += n
		}
		n, err := s.bus.Drain(s.ctx)
		s.Require().NoError(err)
		moved += n
		if moved == 0 {
			return
		}
	}
	s.FailNow("saga did not settle")
}

func (s *ChoreographySuite) placeOrder(paymentMethod string, qty int64) orders.Order {
	o, created, err := s.orders.CreateOrder(s.ctx, orders.CreateOrderInput{
		Customer: orders.Customer{CustomerID: "cust-1", Email: "jane@example.com", FirstName: "Jane", LastName: "Doe"},
		Items: []orders.ItemInput{
			{ProductID: "p1", ProductName: "Widget", Quantity: qty, UnitPrice: 1500},
			{ProductID: "p2", ProductName: "Gadget", Quantity: 1, UnitPrice: 999},
		},
		ShippingAddress: orders.Address{Street: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US"},
		PaymentMethod:   paymentMethod,
	})
	s.Require().NoError(err)
	s.Require().True(created)
	return o
}

func (s *ChoreographySuite) product(id string) inventory.Product {
	p, err := s.inventory.GetProduct(s.ctx, id)
	s.Require().NoError(err)
	return p
}

func (s *ChoreographySuite) orderStatus(id string) orders.Status {
	o, err := s.orders.GetOrder(s.ctx, id)
	s.Require().NoError(err)
	return o.Status
}

func (s *ChoreographySuite) paymentOf(orderID string) payment.Payment {
	p, err := s.payments.GetPayment(s.ctx, payment.IntentID(orderID))
	s.Require().NoError(err)
	return p
}

func (s *ChoreographySuite) noDeadLetters() {
	for _, topic := range []string{
		events.TopicInventoryReservationRequested, events.TopicInventoryReservationRelease,
		events.TopicInventoryReservationConfirm, events.TopicPaymentProcessingRequested,
		events.TopicPaymentRefundRequested, events.TopicInventoryReserved, events.TopicInventoryInsufficient,
		events.TopicInventoryReleased, events.TopicPaymentSucceeded, events.TopicPaymentFailed, events.TopicPaymentRefunded,
	} {
		s.Empty(s.bus.Published(events.DeadLetterTopic(topic)), topic)
	}
}

func (s *ChoreographySuite) TestHappyPathConfirmsOrder() {
	o := s.placeOrder("pm_card_visa", 2)
	s.settle()

	s.Equal(orders.StatusConfirmed, s.orderStatus(o.ID))

	p1 := s.product("p1")
	s.EqualValues(3, p1.StockQuantity)
	s.EqualValues(0, p1.ReservedQuantity)

	r, err := s.inventory.GetReservation(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(inventory.ReservationConfirmed, r.Status)

	pay := s.paymentOf(o.ID)
	s.Equal(payment.StatusSucceeded, pay.Status)
	s.Equal(o.Total, pay.Amount)

	s.Len(s.bus.Published(events.TopicOrderConfirmed), 1)
	s.Len(s.bus.Published(events.TopicInventoryConfirmed), 1)
	s.Empty(s.bus.Published(events.TopicOrderCancelled))
	s.noDeadLetters()
}

func (s *ChoreographySuite) TestDeclinedPaymentCancelsAndReleasesStock() {
	o := s.placeOrder(payment.DeclinedPaymentMethod, 2)
	s.settle()

	got, err := s.orders.GetOrder(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusCancelled, got.Status)
	s.Equal("payment failed: Your card was declined.", got.CancelReason)

	p1 := s.product("p1")
	s.EqualValues(5, p1.StockQuantity)
	s.EqualValues(0, p1.ReservedQuantity)
	r, err := s.inventory.GetReservation(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(inventory.ReservationReleased, r.Status)

	s.Equal(payment.StatusFailed, s.paymentOf(o.ID).Status)
	s.Len(s.bus.Published(events.TopicInventoryReleased), 1)
	s.Empty(s.bus.Published(events.TopicOrderConfirmed))
	s.noDeadLetters()
}

func (s *ChoreographySuite) TestInsufficientStockCancelsAndRefunds() {
	o := s.placeOrder("pm_card_visa", 10)
	s.settle()

	got, err := s.orders.GetOrder(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusCancelled, got.Status)
	s.Equal("Insufficient stock for one or more items", got.CancelReason)

	p1 := s.product("p1")
	s.EqualValues(5, p1.StockQuantity)
	s.EqualValues(0, p1.ReservedQuantity)

	pay := s.paymentOf(o.ID)
	s.Equal(payment.StatusRefunded, pay.Status)
	s.Equal(pay.Amount, pay.RefundAmount)
	s.Len(s.bus.Published(events.TopicPaymentRefunded), 1)
	s.noDeadLetters()
}

func (s *ChoreographySuite) TestWaitingPaymentIsCancelledWhenStockIsShort() {
	o := s.placeOrder("", 10)
	s.settle()

	s.Equal(orders.StatusCancelled, s.orderStatus(o.ID))
	pay := s.paymentOf(o.ID)
	s.Equal(payment.StatusCancelled, pay.Status)
	s.Empty(s.bus.Published(events.TopicPaymentRefunded))
}

func (s *ChoreographySuite) TestExpiredReservationCancelsOrder() {
	o := s.placeOrder("", 2)
	s.settle()
	s.Equal(orders.StatusPending, s.orderStatus(o.ID), "payment waits for the client")
	s.EqualValues(2, s.product("p1").ReservedQuantity)

	s.clock.Advance(31 * time.Minute)
	n, err := s.inventory.ExpireReservations(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.settle()

	got, err := s.orders.GetOrder(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusCancelled, got.Status)
	s.Equal("reservation expired", got.CancelReason)
	s.EqualValues(0, s.product("p1").ReservedQuantity)
	s.Equal(payment.StatusCancelled, s.paymentOf(o.ID).Status)
}

func (s *ChoreographySuite) TestDuplicateDeliveryReachesSameEndState() {
	s.build(true)

	happy := s.placeOrder("pm_card_visa", 2)
	declined := s.placeOrder(payment.DeclinedPaymentMethod, 1)
	short := s.placeOrder("pm_card_visa", 10)
	s.settle()

	s.Equal(orders.StatusConfirmed, s.orderStatus(happy.ID))
	s.Equal(orders.StatusCancelled, s.orderStatus(declined.ID))
	s.Equal(orders.StatusCancelled, s.orderStatus(short.ID))

	p1 := s.product("p1")
	s.EqualValues(3, p1.StockQuantity)
	s.EqualValues(0, p1.ReservedQuantity)
	p2 := s.product("p2")
	s.EqualValues(49, p2.StockQuantity)
	s.EqualValues(0, p2.ReservedQuantity)

	s.Equal(payment.StatusSucceeded, s.paymentOf(happy.ID).Status)
	s.Equal(payment.StatusFailed, s.paymentOf(declined.ID).Status)
	refunded := s.paymentOf(short.ID)
	s.Equal(payment.StatusRefunded, refunded.Status)
	s.Equal(refunded.Amount, refunded.RefundAmount)
	s.noDeadLetters()
}
