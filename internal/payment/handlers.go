package payment

import (
	"context"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
)

// ConsumerGroup is the group the payment service consumes under.
const ConsumerGroup = "payment"

func (s *Service) Routes() []bus.Route {
	return []bus.Route{
		{Topic: events.TopicPaymentProcessingRequested, Handler: bus.Typed(s.onProcessingRequested)},
		{Topic: events.TopicPaymentRefundRequested, Handler: bus.Typed(s.onRefundRequested)},
	}
}

func (s *Service) onProcessingRequested(ctx context.Context, env events.Envelope, req events.PaymentProcessingRequested) error {
	ctx = s.logg.WithOrderID(s.logg.WithEventID(ctx, env.EventID), req.OrderID)
	items := make([]Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = Item(it)
	}
	p, _, err := s.CreatePaymentIntent(ctx, CreateIntentInput{
		OrderID:       req.OrderID,
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Items:         items,
	})
	if err != nil {
		return err
	}
	// Without a payment method the client confirms later over HTTP.
	if req.PaymentMethod == "" || p.Status != StatusPending {
		return nil
	}
	_, err = s.ConfirmPayment(ctx, p.PaymentIntentID, req.PaymentMethod)
	return err
}

// onRefundRequested compensates the payment leg of a cancelled order: a
// succeeded payment is refunded, an open one is cancelled, anything else is
// already settled.
func (s *Service) onRefundRequested(ctx context.Context, env events.Envelope, req events.PaymentRefundRequested) error {
	ctx = s.logg.WithOrderID(s.logg.WithEventID(ctx, env.EventID), req.OrderID)
	id := req.PaymentIntentID
	if id == "" {
		id = IntentID(req.OrderID)
	}
	p, err := s.store.Get(ctx, id)
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		s.logg.Info(ctx, "refund requested for unknown payment")
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case p.Status == StatusSucceeded:
		_, err = s.RefundPayment(ctx, id, req.Amount, req.Reason)
	case p.Status.Open():
		_, err = s.CancelPayment(ctx, id, req.Reason)
	default:
		s.logg.Info(s.logg.WithField(ctx, "status", string(p.Status)), "payment already settled, nothing to refund")
		return nil
	}
	if pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
		// Settled concurrently.
		return nil
	}
	return err
}
