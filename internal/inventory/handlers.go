package inventory

import (
	"context"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
)

// ConsumerGroup is the group the inventory service consumes under.
const ConsumerGroup = "inventory"

// Routes lists the events the inventory service reacts to.
func (s *Service) Routes() []bus.Route {
	return []bus.Route{
		{Topic: events.TopicInventoryReservationRequested, Handler: bus.Typed(s.onReservationRequested)},
		{Topic: events.TopicInventoryReservationRelease, Handler: bus.Typed(s.onReservationRelease)},
		{Topic: events.TopicInventoryReservationConfirm, Handler: bus.Typed(s.onReservationConfirm)},
	}
}

func (s *Service) onReservationRequested(ctx context.Context, env events.Envelope, p events.InventoryReservationRequested) error {
	ctx = s.logg.WithOrderID(s.logg.WithEventID(ctx, env.EventID), p.OrderID)
	items := make([]Item, len(p.Items))
	for i, it := range p.Items {
		items[i] = Item(it)
	}
	req := ReservationRequest{OrderID: p.OrderID, CustomerID: p.CustomerID, Items: items}
	if p.TimeoutMinutes > 0 {
		req.Timeout = time.Duration(p.TimeoutMinutes) * time.Minute
	}
	_, err := s.RequestReservation(ctx, req)
	return err
}

func (s *Service) onReservationRelease(ctx context.Context, env events.Envelope, p events.InventoryReservationRelease) error {
	ctx = s.logg.WithOrderID(s.logg.WithEventID(ctx, env.EventID), p.OrderID)
	_, err := s.ReleaseReservation(ctx, p.OrderID, p.Reason)
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		s.logg.Info(ctx, "no pending reservation to release")
		return nil
	}
	return err
}

func (s *Service) onReservationConfirm(ctx context.Context, env events.Envelope, p events.InventoryReservationConfirm) error {
	ctx = s.logg.WithOrderID(s.logg.WithEventID(ctx, env.EventID), p.OrderID)
	_, err := s.ConfirmReservation(ctx, p.OrderID)
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		s.logg.Info(ctx, "no pending reservation to confirm")
		return nil
	}
	return err
}
