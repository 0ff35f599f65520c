package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-saga-orders/internal/clock"
	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/keylock"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/telemetry"
	"github.com/ariefcatur/go-saga-orders/internal/validate"
)

const (
	ServiceName = "orders"

	defaultCurrency           = "usd"
	defaultTaxRateBasisPoints = 1000
	defaultShippingCost       = 1000
	defaultReservationTimeout = 30

	reasonCancelled = "cancelled by request"
	reasonReleased  = "reservation released"
)

type Service struct {
	store   Store
	sagas   SagaStore
	cache   StatusCache
	outbox  outbox.Writer
	locks   *keylock.Locker
	clock   clock.Clock
	logg    *logger.Logger
	metrics *metrics.SagaMetrics

	pricing            Pricing
	currency           string
	reservationTimeout int
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.logg = l } }

func WithStatusCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }

func WithSagaMetrics(m *metrics.SagaMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithPricing(p Pricing) Option { return func(s *Service) { s.pricing = p } }

func WithCurrency(c string) Option {
	return func(s *Service) {
		if c != "" {
			s.currency = strings.ToLower(c)
		}
	}
}

// WithReservationTimeout sets how long, in minutes, inventory holds stock
// for a new order.
func WithReservationTimeout(minutes int) Option {
	return func(s *Service) {
		if minutes > 0 {
			s.reservationTimeout = minutes
		}
	}
}

func NewService(store Store, sagas SagaStore, w outbox.Writer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		sagas:  sagas,
		cache:  newMemoryStatusCache(),
		outbox: w,
		locks:  keylock.New(),
		clock:  clock.NewSystem(),
		logg:   logger.Nop(),
		pricing: Pricing{
			TaxRateBasisPoints: defaultTaxRateBasisPoints,
			ShippingCost:       defaultShippingCost,
		},
		currency:           defaultCurrency,
		reservationTimeout: defaultReservationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func orderKey(id string) string { return "order:" + id }

func (s *Service) emit(ctx context.Context, eventType, orderID string, payload any) error {
	return outbox.Emit(ctx, s.outbox, ServiceName, s.clock.Now(), eventType, orderID, orderID, payload)
}

// CreateOrder prices and stores a pending order, then asks inventory and
// payment to act on it. created is false when ExternalID matched an order
// placed earlier, which is returned unchanged.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (o Order, created bool, err error) {
	if err := validate.Struct(in); err != nil {
		return Order{}, false, err
	}
	ctx, span := telemetry.StartSpan(ctx, "orders.CreateOrder")
	defer span.End()

	if in.ExternalID != "" {
		existing, err := s.store.GetByExternalID(ctx, in.ExternalID)
		if err == nil {
			return existing, false, nil
		}
		if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return Order{}, false, err
		}
	}

	now := s.clock.Now().UTC()
	totals, err := s.pricing.Price(in.Items)
	if err != nil {
		return Order{}, false, err
	}
	o = Order{
		ID:              uuid.NewString(),
		OrderNumber:     newOrderNumber(now),
		ExternalID:      in.ExternalID,
		Customer:        in.Customer,
		Items:           make([]Item, len(in.Items)),
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		ShippingCost:    totals.ShippingCost,
		Total:           totals.Total,
		Currency:        s.currency,
		Status:          StatusPending,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, it := range in.Items {
		o.Items[i] = Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   totals.LineTotals[i],
		}
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, o); err != nil {
			return err
		}
		items := toEventItems(o.Items)
		if err := s.emit(ctx, events.TypeOrderCreated, o.ID, events.OrderCreated{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			CustomerID:  o.Customer.CustomerID,
			Subtotal:    o.Subtotal,
			Tax:         o.Tax,
			Shipping:    o.ShippingCost,
			Total:       o.Total,
			Currency:    o.Currency,
			Items:       items,
		}); err != nil {
			return err
		}
		if err := s.emit(ctx, events.TypeInventoryReservationRequested, o.ID, events.InventoryReservationRequested{
			OrderID:        o.ID,
			CustomerID:     o.Customer.CustomerID,
			Items:          items,
			TimeoutMinutes: s.reservationTimeout,
		}); err != nil {
			return err
		}
		return s.emit(ctx, events.TypePaymentProcessingRequested, o.ID, events.PaymentProcessingRequested{
			OrderID:       o.ID,
			CustomerID:    o.Customer.CustomerID,
			CustomerEmail: o.Customer.Email,
			Amount:        o.Total,
			Currency:      o.Currency,
			PaymentMethod: o.PaymentMethod,
			Items:         items,
		})
	})
	if pkgerrors.Is(err, pkgerrors.CodeConflict) && in.ExternalID != "" {
		// Lost a race with a request carrying the same external id.
		existing, getErr := s.store.GetByExternalID(ctx, in.ExternalID)
		if getErr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return Order{}, false, err
	}

	ctx = s.logg.WithOrderID(ctx, o.ID)
	s.logg.Info(s.logg.WithField(ctx, "total", o.Total), "order created")
	s.metrics.Inc("created")
	s.cacheStatus(ctx, o)
	return o, true, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (Order, error) {
	return s.store.GetByNumber(ctx, number)
}

func (s *Service) ListOrders(ctx context.Context, f ListFilter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown status %q", f.Status)
	}
	return s.store.List(ctx, f)
}

// GetOrderStatus answers from the status cache and fills it on a miss.
func (s *Service) GetOrderStatus(ctx context.Context, id string) (StatusView, error) {
	v, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "status cache read failed")
	}
	if ok {
		return v, nil
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	s.cacheStatus(ctx, o)
	return o.statusView(), nil
}

func (s *Service) cacheStatus(ctx context.Context, o Order) {
	if err := s.cache.Set(ctx, o.statusView()); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "status cache write failed")
	}
}

// UpdateOrder applies a status move, a new shipping address or notes.
// Status only moves forward; pending orders leave pending through the saga
// or by being cancelled.
func (s *Service) UpdateOrder(ctx context.Context, id string, in UpdateOrderInput) (Order, error) {
	if err := validate.Struct(in); err != nil {
		return Order{}, err
	}
	if in.Status != nil && !in.Status.Valid() {
		return Order{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown status %q", *in.Status)
	}
	unlock := s.locks.Lock(orderKey(id))
	defer unlock()
	ctx = s.logg.WithOrderID(ctx, id)

	var (
		o      Order
		prev   Status
		change *sagaChange
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.store.GetForUpdate(ctx, id); err != nil {
			return err
		}
		prev = o.Status

		if in.ShippingAddress != nil {
			if o.Status == StatusShipped || o.Status.Terminal() {
				return fmt.Errorf("change address of %s order: %w", o.Status, ErrInvalidTransition)
			}
			o.ShippingAddress = *in.ShippingAddress
		}
		if in.Notes != nil {
			o.Notes = *in.Notes
		}

		if in.Status != nil && *in.Status == StatusCancelled {
			if o.Status == StatusCancelled {
				return nil
			}
			change, err = s.cancelTx(ctx, &o, in.CancelReason)
			return err
		}

		if in.Status != nil && *in.Status != o.Status {
			next := *in.Status
			if o.Status == StatusPending || !CanTransition(o.Status, next) {
				return fmt.Errorf("%s -> %s: %w", o.Status, next, ErrInvalidTransition)
			}
			o.Status = next
		}
		o.UpdatedAt = s.clock.Now().UTC()
		if err := s.store.Update(ctx, o); err != nil {
			return err
		}
		if o.Status == prev {
			return nil
		}
		return s.emit(ctx, events.TypeOrderUpdated, o.ID, events.OrderUpdated{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Status:      string(o.Status),
			Previous:    string(prev),
		})
	})
	if err != nil {
		return Order{}, err
	}
	if err := s.finishCancel(ctx, change); err != nil {
		return Order{}, err
	}
	if o.Status != prev {
		if change == nil {
			s.logg.Info(s.logg.WithField(ctx, "status", string(o.Status)), "order status changed")
		}
		s.cacheStatus(ctx, o)
	}
	return o, nil
}

// CancelOrder cancels the order and compensates whatever leg already
// succeeded. Cancelling a cancelled order returns it unchanged.
func (s *Service) CancelOrder(ctx context.Context, id, reason string) (Order, error) {
	unlock := s.locks.Lock(orderKey(id))
	defer unlock()
	ctx = s.logg.WithOrderID(ctx, id)

	var (
		o      Order
		change *sagaChange
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.store.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if o.Status == StatusCancelled {
			return nil
		}
		change, err = s.cancelTx(ctx, &o, reason)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	if change == nil {
		return o, nil
	}
	if err := s.finishCancel(ctx, change); err != nil {
		return Order{}, err
	}
	s.cacheStatus(ctx, o)
	return o, nil
}

// sagaChange is saga state a transaction moved from before to after.
type sagaChange struct {
	before, after SagaState
}

// cancelTx cancels o inside the caller's transaction, which must hold the
// order row lock. The saga change is saved by finishCancel after commit.
func (s *Service) cancelTx(ctx context.Context, o *Order, reason string) (*sagaChange, error) {
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, fmt.Errorf("cancel %s order: %w", o.Status, ErrInvalidTransition)
	}
	if strings.TrimSpace(reason) == "" {
		reason = reasonCancelled
	}
	st, err := s.sagas.Load(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	change := &sagaChange{before: st}
	if err := s.cancel(ctx, o, &st, reason); err != nil {
		return nil, err
	}
	change.after = st
	return change, nil
}

func (s *Service) finishCancel(ctx context.Context, change *sagaChange) error {
	if change == nil {
		return nil
	}
	return s.saveSaga(ctx, change.after, change.before)
}

// cancel runs inside a transaction.
func (s *Service) cancel(ctx context.Context, o *Order, st *SagaState, reason string) error {
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.Update(ctx, *o); err != nil {
		return err
	}
	if err := s.emit(ctx, events.TypeOrderCancelled, o.ID, events.OrderCancelled{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.Customer.CustomerID,
		Reason:      reason,
	}); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "reason", reason), "order cancelled")
	s.metrics.Inc("cancelled")
	return s.compensate(ctx, *o, st)
}

// compensate asks each leg that succeeded to undo itself, once. An open
// payment is asked to cancel so a late confirmation cannot charge the
// customer.
func (s *Service) compensate(ctx context.Context, o Order, st *SagaState) error {
	if st.Inventory == LegSucceeded && !st.InventoryCompensated {
		if err := s.emit(ctx, events.TypeInventoryReservationRelease, o.ID, events.InventoryReservationRelease{
			OrderID:       o.ID,
			ReservationID: st.ReservationID,
			Reason:        o.CancelReason,
		}); err != nil {
			return err
		}
		st.InventoryCompensated = true
	}

	switch {
	case st.Payment == LegSucceeded && !st.PaymentCompensated:
		if err := s.emit(ctx, events.TypePaymentRefundRequested, o.ID, events.PaymentRefundRequested{
			OrderID:         o.ID,
			PaymentIntentID: st.PaymentIntentID,
			Reason:          o.CancelReason,
		}); err != nil {
			return err
		}
		st.PaymentCompensated = true
	case st.Payment == LegPending && !st.PaymentCancelRequested:
		if err := s.emit(ctx, events.TypePaymentRefundRequested, o.ID, events.PaymentRefundRequested{
			OrderID: o.ID,
			Reason:  o.CancelReason,
		}); err != nil {
			return err
		}
		st.PaymentCancelRequested = true
	}
	return nil
}

func (s *Service) confirm(ctx context.Context, o *Order, st SagaState) error {
	o.Status = StatusConfirmed
	o.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.Update(ctx, *o); err != nil {
		return err
	}
	if err := s.emit(ctx, events.TypeOrderConfirmed, o.ID, events.OrderConfirmed{
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.Customer.CustomerID,
		ReservationID:   st.ReservationID,
		PaymentIntentID: st.PaymentIntentID,
	}); err != nil {
		return err
	}
	if err := s.emit(ctx, events.TypeInventoryReservationConfirm, o.ID, events.InventoryReservationConfirm{
		OrderID:       o.ID,
		ReservationID: st.ReservationID,
	}); err != nil {
		return err
	}
	s.logg.Info(ctx, "order confirmed")
	s.metrics.Inc("confirmed")
	return nil
}

// reconcile moves the order to where its legs say it should be. It runs
// inside a transaction and is safe to repeat.
func (s *Service) reconcile(ctx context.Context, o *Order, st *SagaState, hint string) error {
	switch {
	case o.Status == StatusPending:
		if reason := failureReason(*st, hint); reason != "" {
			return s.cancel(ctx, o, st, reason)
		}
		if st.Inventory == LegSucceeded && st.Payment == LegSucceeded {
			return s.confirm(ctx, o, *st)
		}
		return nil
	case o.Status == StatusCancelled:
		return s.compensate(ctx, *o, st)
	case st.Inventory == LegReleased && CanTransition(o.Status, StatusCancelled):
		// Stock went back before inventory saw the confirmation.
		return s.cancel(ctx, o, st, firstNonEmpty(hint, reasonReleased))
	}
	return nil
}

func failureReason(st SagaState, hint string) string {
	switch {
	case st.Inventory == LegFailed:
		return firstNonEmpty(hint, "insufficient stock")
	case st.Payment == LegFailed:
		return firstNonEmpty(hint, "payment failed")
	case st.Inventory == LegReleased:
		return firstNonEmpty(hint, reasonReleased)
	}
	return ""
}

func (s *Service) saveSaga(ctx context.Context, st, before SagaState) error {
	if st == before {
		return nil
	}
	st.UpdatedAt = s.clock.Now().UTC()
	return s.sagas.Save(ctx, st)
}

func toEventItems(items []Item) []events.Item {
	out := make([]events.Item, len(items))
	for i, it := range items {
		out[i] = events.Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
