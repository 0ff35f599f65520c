package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/ariefcatur/go-saga-orders/internal/clock"
	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/keylock"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/postgres"
	"github.com/ariefcatur/go-saga-orders/internal/telemetry"
)

const (
	ServiceName = "inventory"

	defaultReservationTTL    = 30 * time.Minute
	defaultLowStockThreshold = 10
	sweepBatchSize           = 100

	reasonInsufficient = "Insufficient stock for one or more items"
	reasonExpired      = "reservation expired"
)

type Service struct {
	store             Store
	outbox            outbox.Writer
	locks             *keylock.Locker
	clock             clock.Clock
	logg              *logger.Logger
	name              string
	reservationTTL    time.Duration
	lowStockThreshold int64
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.logg = l } }

func WithReservationTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reservationTTL = d
		}
	}
}

func WithLowStockThreshold(n int64) Option {
	return func(s *Service) {
		if n >= 0 {
			s.lowStockThreshold = n
		}
	}
}

func WithProducerName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.name = name
		}
	}
}

func NewService(store Store, w outbox.Writer, opts ...Option) *Service {
	s := &Service{
		store:             store,
		outbox:            w,
		locks:             keylock.New(),
		clock:             clock.NewSystem(),
		logg:              logger.Nop(),
		name:              ServiceName,
		reservationTTL:    defaultReservationTTL,
		lowStockThreshold: defaultLowStockThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func productKey(id string) string { return "product:" + id }
func orderKey(id string) string   { return "order:" + id }

func (s *Service) lockReservation(orderID string, productIDs []string) func() {
	keys := make([]string, 0, len(productIDs)+1)
	keys = append(keys, orderKey(orderID))
	for _, id := range productIDs {
		keys = append(keys, productKey(id))
	}
	return s.locks.LockAll(keys...)
}

func (s *Service) emit(ctx context.Context, eventType, correlationID, key string, payload any) error {
	return outbox.Emit(ctx, s.outbox, s.name, s.clock.Now(), eventType, correlationID, key, payload)
}

func validateRequest(req ReservationRequest) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if len(req.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 || it.Quantity > MaxLineQuantity {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid item %q quantity %d", it.ProductID, it.Quantity)
		}
	}
	return nil
}

// RequestReservation reserves every item of the order or none of them. A
// request for an order that was already answered changes nothing and emits
// nothing.
func (s *Service) RequestReservation(ctx context.Context, req ReservationRequest) (RequestResult, error) {
	if err := validateRequest(req); err != nil {
		return RequestResult{}, err
	}
	ctx, span := telemetry.StartSpan(ctx, "inventory.RequestReservation")
	defer span.End()

	wanted, err := quantities(req.Items)
	if err != nil {
		return RequestResult{}, err
	}
	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	unlock := s.lockReservation(req.OrderID, ids)
	defer unlock()

	var result RequestResult
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, seen, err := s.store.GetRequestOutcome(ctx, req.OrderID); err != nil {
			return err
		} else if seen {
			result = RequestResult{Outcome: OutcomeDuplicate}
			if r, err := s.store.GetReservation(ctx, req.OrderID); err == nil {
				result.Reservation = &r
			}
			return nil
		}

		products, err := s.store.GetProductsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		var short []InsufficientItem
		for _, id := range ids {
			p, ok := products[id]
			available := int64(0)
			name := lineName(req.Items, id)
			if ok {
				name = p.Name
				if p.Active {
					available = p.Available()
				}
			}
			if available < wanted[id] {
				short = append(short, InsufficientItem{
					ProductID:         id,
					ProductName:       name,
					RequestedQuantity: wanted[id],
					AvailableQuantity: max(available, 0),
				})
			}
		}

		if len(short) > 0 {
			result = RequestResult{Outcome: OutcomeInsufficient, Insufficient: short}
			if err := s.store.SaveRequestOutcome(ctx, req.OrderID, OutcomeInsufficient, now); err != nil {
				return err
			}
			return s.emit(ctx, events.TypeInventoryInsufficient, req.OrderID, req.OrderID, events.InventoryInsufficient{
				OrderID:           req.OrderID,
				CustomerID:        req.CustomerID,
				InsufficientItems: toEventShort(short),
				Reason:            reasonInsufficient,
			})
		}

		for _, id := range ids {
			p := products[id]
			p.ReservedQuantity += wanted[id]
			p.UpdatedAt = now
			if err := s.store.SaveProduct(ctx, p); err != nil {
				return err
			}
		}

		ttl := s.reservationTTL
		if req.Timeout > 0 {
			ttl = req.Timeout
		}
		items := make([]Item, len(req.Items))
		for i, it := range req.Items {
			it.ProductName = products[it.ProductID].Name
			items[i] = it
		}
		res := Reservation{
			ID:         ReservationID(req.OrderID),
			OrderID:    req.OrderID,
			CustomerID: req.CustomerID,
			Items:      items,
			Status:     ReservationPending,
			ExpiresAt:  now.Add(ttl),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.store.SaveReservation(ctx, res); err != nil {
			return err
		}
		if err := s.store.SaveRequestOutcome(ctx, req.OrderID, OutcomeReserved, now); err != nil {
			return err
		}
		result = RequestResult{Outcome: OutcomeReserved, Reservation: &res}
		return s.emit(ctx, events.TypeInventoryReserved, req.OrderID, req.OrderID, events.InventoryReserved{
			OrderID:       req.OrderID,
			ReservationID: res.ID,
			CustomerID:    req.CustomerID,
			Items:         toEventItems(items),
			ExpiresAt:     res.ExpiresAt,
		})
	})
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			// A concurrent replica answered this order first.
			return RequestResult{Outcome: OutcomeDuplicate}, nil
		}
		return RequestResult{}, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": req.OrderID,
		"outcome":  string(result.Outcome),
	}), "reservation request handled")
	return result, nil
}

// ConfirmReservation turns a pending reservation into a stock decrement.
func (s *Service) ConfirmReservation(ctx context.Context, orderID string) (Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "inventory.ConfirmReservation")
	defer span.End()

	current, err := s.store.GetReservation(ctx, orderID)
	if err != nil {
		return Reservation{}, err
	}
	unlock := s.lockReservation(orderID, current.productIDs())
	defer unlock()

	var out Reservation
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.pendingReservation(ctx, orderID)
		if err != nil {
			return err
		}
		wanted, err := quantities(res.Items)
		if err != nil {
			return err
		}
		products, err := s.store.GetProductsForUpdate(ctx, res.productIDs())
		if err != nil {
			return err
		}
		now := s.clock.Now()

		for id, qty := range wanted {
			p, ok := products[id]
			if !ok {
				return fmt.Errorf("confirm %s: %w", id, ErrProductNotFound)
			}
			if p.ReservedQuantity < qty {
				return fmt.Errorf("confirm %s: reserved %d, reservation holds %d: %w", id, p.ReservedQuantity, qty, ErrReservedMismatch)
			}
			if p.StockQuantity < qty {
				return fmt.Errorf("confirm %s: have %d, need %d: %w", id, p.StockQuantity, qty, ErrInsufficientStock)
			}
		}

		var alerts []Product
		for _, id := range sortedKeys(wanted) {
			p := products[id]
			p.StockQuantity -= wanted[id]
			p.ReservedQuantity -= wanted[id]
			p.UpdatedAt = now
			if err := s.store.SaveProduct(ctx, p); err != nil {
				return err
			}
			if p.lowOnStock() {
				alerts = append(alerts, p)
			}
		}

		res.Status = ReservationConfirmed
		res.UpdatedAt = now
		if err := s.store.SaveReservation(ctx, res); err != nil {
			return err
		}
		out = res
		if err := s.emit(ctx, events.TypeInventoryConfirmed, orderID, orderID, events.InventoryConfirmed{
			OrderID:       orderID,
			ReservationID: res.ID,
			Items:         toEventItems(res.Items),
		}); err != nil {
			return err
		}
		return s.emitLowStock(ctx, alerts...)
	})
	if err != nil {
		return Reservation{}, err
	}
	s.logg.Info(s.logg.WithOrderID(ctx, orderID), "reservation confirmed")
	return out, nil
}

// ReleaseReservation returns a pending reservation's quantities to stock.
func (s *Service) ReleaseReservation(ctx context.Context, orderID, reason string) (Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "inventory.ReleaseReservation")
	defer span.End()

	current, err := s.store.GetReservation(ctx, orderID)
	if err != nil {
		return Reservation{}, err
	}
	unlock := s.lockReservation(orderID, current.productIDs())
	defer unlock()

	var out Reservation
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.pendingReservation(ctx, orderID)
		if err != nil {
			return err
		}
		out, err = s.release(ctx, res, ReservationReleased, reason)
		return err
	})
	if err != nil {
		return Reservation{}, err
	}
	s.logg.Info(s.logg.WithOrderID(ctx, orderID), "reservation released")
	return out, nil
}

// ExpireReservations releases every pending reservation whose deadline has
// passed and returns how many it expired. It works through the backlog in
// batches until one comes back short or has failures.
func (s *Service) ExpireReservations(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "inventory.ExpireReservations")
	defer span.End()

	now := s.clock.Now()
	expired := 0
	var errs error
	for {
		candidates, err := s.store.ListExpiredReservations(ctx, now, sweepBatchSize)
		if err != nil {
			return expired, multierr.Append(errs, err)
		}

		failed := 0
		for _, c := range candidates {
			ok, err := s.expireOne(ctx, c)
			if err != nil {
				failed++
				errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", c.ID, err))
				continue
			}
			if ok {
				expired++
			}
		}
		// Failed candidates stay pending and would be listed again.
		if len(candidates) < sweepBatchSize || failed > 0 || ctx.Err() != nil {
			return expired, errs
		}
	}
}

func (s *Service) expireOne(ctx context.Context, candidate Reservation) (bool, error) {
	unlock := s.lockReservation(candidate.OrderID, candidate.productIDs())
	defer unlock()

	expired := false
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.store.GetReservationForUpdate(ctx, candidate.OrderID)
		if err != nil {
			return err
		}
		// Confirmed or released while we waited for the lock.
		if res.Status != ReservationPending || !res.ExpiresAt.Before(s.clock.Now()) {
			return nil
		}
		if _, err := s.release(ctx, res, ReservationExpired, reasonExpired); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if expired {
		s.logg.Info(s.logg.WithOrderID(ctx, candidate.OrderID), "reservation expired")
	}
	return expired, err
}

func (s *Service) release(ctx context.Context, res Reservation, status ReservationStatus, reason string) (Reservation, error) {
	wanted, err := quantities(res.Items)
	if err != nil {
		return Reservation{}, err
	}
	products, err := s.store.GetProductsForUpdate(ctx, res.productIDs())
	if err != nil {
		return Reservation{}, err
	}
	now := s.clock.Now()
	for _, id := range sortedKeys(wanted) {
		p, ok := products[id]
		if !ok {
			return Reservation{}, fmt.Errorf("release %s: product missing: %w", id, ErrReservedMismatch)
		}
		if p.ReservedQuantity < wanted[id] {
			return Reservation{}, fmt.Errorf("release %s: reserved %d, reservation holds %d: %w", id, p.ReservedQuantity, wanted[id], ErrReservedMismatch)
		}
		p.ReservedQuantity -= wanted[id]
		p.UpdatedAt = now
		if err := s.store.SaveProduct(ctx, p); err != nil {
			return Reservation{}, err
		}
	}

	res.Status = status
	res.Reason = reason
	res.UpdatedAt = now
	if err := s.store.SaveReservation(ctx, res); err != nil {
		return Reservation{}, err
	}
	return res, s.emit(ctx, events.TypeInventoryReleased, res.OrderID, res.OrderID, events.InventoryReleased{
		OrderID:       res.OrderID,
		ReservationID: res.ID,
		CustomerID:    res.CustomerID,
		Items:         toEventItems(res.Items),
		Reason:        reason,
	})
}

// pendingReservation locks the reservation row before anything else, so a
// concurrent confirm, release or expiry sees the status this one leaves.
func (s *Service) pendingReservation(ctx context.Context, orderID string) (Reservation, error) {
	res, err := s.store.GetReservationForUpdate(ctx, orderID)
	if err != nil {
		return Reservation{}, err
	}
	if res.Status != ReservationPending {
		return Reservation{}, fmt.Errorf("reservation %s is %s: %w", res.ID, res.Status, ErrReservationNotFound)
	}
	return res, nil
}

func (s *Service) GetReservation(ctx context.Context, orderID string) (Reservation, error) {
	return s.store.GetReservation(ctx, orderID)
}

func (s *Service) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown reservation status %q", f.Status)
	}
	return s.store.ListReservations(ctx, f)
}

func (s *Service) emitLowStock(ctx context.Context, products ...Product) error {
	for _, p := range products {
		if err := s.emit(ctx, events.TypeLowStockAlert, p.ID, p.ID, events.LowStockAlert{
			ProductID:    p.ID,
			ProductName:  p.Name,
			CurrentStock: p.StockQuantity,
			Threshold:    p.LowStockThreshold,
		}); err != nil {
			return err
		}
		s.logg.Warn(s.logg.WithField(ctx, "product_id", p.ID), "product low on stock")
	}
	return nil
}

func lineName(items []Item, productID string) string {
	for _, it := range items {
		if it.ProductID == productID && it.ProductName != "" {
			return it.ProductName
		}
	}
	return ""
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toEventItems(items []Item) []events.Item {
	out := make([]events.Item, len(items))
	for i, it := range items {
		out[i] = events.Item{ProductID: it.ProductID, ProductName: it.ProductName, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return out
}

func toEventShort(items []InsufficientItem) []events.InsufficientItem {
	out := make([]events.InsufficientItem, len(items))
	for i, it := range items {
		out[i] = events.InsufficientItem(it)
	}
	return out
}
