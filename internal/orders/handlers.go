package orders

import (
	"context"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/telemetry"
)

// ConsumerGroup is the group the order service consumes under.
const ConsumerGroup = "orders"

// Routes lists the leg outcomes the order saga reacts to.
func (s *Service) Routes() []bus.Route {
	return []bus.Route{
		{Topic: events.TopicInventoryReserved, Handler: bus.Typed(s.onInventoryReserved)},
		{Topic: events.TopicInventoryInsufficient, Handler: bus.Typed(s.onInventoryInsufficient)},
		{Topic: events.TopicInventoryReleased, Handler: bus.Typed(s.onInventoryReleased)},
		{Topic: events.TopicPaymentSucceeded, Handler: bus.Typed(s.onPaymentSucceeded)},
		{Topic: events.TopicPaymentFailed, Handler: bus.Typed(s.onPaymentFailed)},
		{Topic: events.TopicPaymentRefunded, Handler: bus.Typed(s.onPaymentRefunded)},
	}
}

func (s *Service) onInventoryReserved(ctx context.Context, env events.Envelope, p events.InventoryReserved) error {
	return s.advance(ctx, env, p.OrderID, "", func(st *SagaState) {
		if st.Inventory == LegPending {
			st.Inventory = LegSucceeded
			st.ReservationID = p.ReservationID
		}
	})
}

func (s *Service) onInventoryInsufficient(ctx context.Context, env events.Envelope, p events.InventoryInsufficient) error {
	return s.advance(ctx, env, p.OrderID, p.Reason, func(st *SagaState) {
		if st.Inventory == LegPending {
			st.Inventory = LegFailed
		}
	})
}

func (s *Service) onInventoryReleased(ctx context.Context, env events.Envelope, p events.InventoryReleased) error {
	return s.advance(ctx, env, p.OrderID, p.Reason, func(st *SagaState) {
		if st.Inventory == LegPending || st.Inventory == LegSucceeded {
			st.Inventory = LegReleased
			if st.ReservationID == "" {
				st.ReservationID = p.ReservationID
			}
		}
		// Nothing is held any more.
		st.InventoryCompensated = true
	})
}

func (s *Service) onPaymentSucceeded(ctx context.Context, env events.Envelope, p events.PaymentSucceeded) error {
	return s.advance(ctx, env, p.OrderID, "", func(st *SagaState) {
		if st.Payment == LegPending {
			st.Payment = LegSucceeded
			st.PaymentIntentID = p.PaymentIntentID
		}
	})
}

func (s *Service) onPaymentFailed(ctx context.Context, env events.Envelope, p events.PaymentFailed) error {
	return s.advance(ctx, env, p.OrderID, "payment failed: "+p.ErrorMessage, func(st *SagaState) {
		if st.Payment == LegPending {
			st.Payment = LegFailed
			st.PaymentIntentID = p.PaymentIntentID
		}
	})
}

func (s *Service) onPaymentRefunded(ctx context.Context, env events.Envelope, p events.PaymentRefunded) error {
	return s.advance(ctx, env, p.OrderID, "", func(st *SagaState) {
		if st.Payment != LegRefunded {
			st.Payment = LegRefunded
			st.PaymentIntentID = p.PaymentIntentID
		}
		st.PaymentCompensated = true
	})
}

// advance records a leg outcome and reconciles the order. The order row is
// locked before the saga is loaded, so a replica handling the other leg of
// the same order waits for this one. Order changes and the events they cause
// commit together; saga state is saved after with a version check, and
// losing that check means the event is redelivered against the newer state.
func (s *Service) advance(ctx context.Context, env events.Envelope, orderID, hint string, record func(*SagaState)) error {
	ctx = s.logg.WithOrderID(s.logg.WithEventID(ctx, env.EventID), orderID)
	ctx = s.logg.WithField(ctx, "event_type", env.EventType)
	ctx, span := telemetry.StartSpan(ctx, "orders."+env.EventType)
	defer span.End()

	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	var (
		o          Order
		prev       Status
		st, before SagaState
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.store.GetForUpdate(ctx, orderID); err != nil {
			return err
		}
		if st, err = s.sagas.Load(ctx, orderID); err != nil {
			return err
		}
		before = st
		record(&st)
		prev = o.Status
		return s.reconcile(ctx, &o, &st, hint)
	})
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		s.logg.Warn(ctx, "event for unknown order")
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.saveSaga(ctx, st, before); err != nil {
		return err
	}
	if o.Status != prev {
		s.cacheStatus(ctx, o)
	}
	return nil
}
