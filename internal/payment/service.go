package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/clock"
	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/keylock"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/telemetry"
	"github.com/ariefcatur/go-saga-orders/internal/validate"
)

const (
	ServiceName = "payment"

	defaultCurrency         = "usd"
	defaultProcessorTimeout = 10 * time.Second
)

type Service struct {
	store            Store
	outbox           outbox.Writer
	processor        Processor
	locks            *keylock.Locker
	clock            clock.Clock
	logg             *logger.Logger
	processorTimeout time.Duration
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.logg = l } }

func WithProcessorTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.processorTimeout = d
		}
	}
}

func NewService(store Store, w outbox.Writer, processor Processor, opts ...Option) *Service {
	s := &Service{
		store:            store,
		outbox:           w,
		processor:        processor,
		locks:            keylock.New(),
		clock:            clock.NewSystem(),
		logg:             logger.Nop(),
		processorTimeout: defaultProcessorTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateIntentInput struct {
	OrderID       string `json:"orderId" validate:"required"`
	CustomerID    string `json:"customerId" validate:"required"`
	CustomerEmail string `json:"customerEmail" validate:"omitempty,email"`
	Amount        int64  `json:"amount" validate:"gte=0"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
	Items         []Item `json:"items"`
}

func (s *Service) emit(ctx context.Context, eventType string, p Payment, payload any) error {
	return outbox.Emit(ctx, s.outbox, ServiceName, s.clock.Now(), eventType, p.OrderID, p.OrderID, payload)
}

func (s *Service) callProcessor(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.processorTimeout)
}

func processorFailure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProcessor, err)
}

// CreatePaymentIntent opens a payment for an order. A second call for the
// same order returns the existing payment with created false. When the
// processor refuses the intent the payment is stored as failed and
// PaymentFailed is emitted.
func (s *Service) CreatePaymentIntent(ctx context.Context, in CreateIntentInput) (p Payment, created bool, err error) {
	if err := validate.Struct(in); err != nil {
		return Payment{}, false, err
	}
	ctx, span := telemetry.StartSpan(ctx, "payment.CreatePaymentIntent")
	defer span.End()

	id := IntentID(in.OrderID)
	unlock := s.locks.Lock(id)
	defer unlock()

	existing, err := s.store.Get(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return Payment{}, false, err
	}

	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	pctx, cancel := s.callProcessor(ctx)
	intent, err := s.processor.CreateIntent(pctx, IntentRequest{
		IdempotencyKey: id,
		OrderID:        in.OrderID,
		CustomerID:     in.CustomerID,
		CustomerEmail:  in.CustomerEmail,
		Amount:         in.Amount,
		Currency:       currency,
	})
	cancel()
	var decline *DeclineError
	if err != nil {
		var ok bool
		if decline, ok = isDecline(err); !ok {
			return Payment{}, false, processorFailure("create intent", err)
		}
	}

	now := s.clock.Now()
	p = Payment{
		PaymentIntentID:   id,
		OrderID:           in.OrderID,
		CustomerID:        in.CustomerID,
		CustomerEmail:     in.CustomerEmail,
		Amount:            in.Amount,
		Currency:          currency,
		Status:            StatusPending,
		ProcessorIntentID: intent.ID,
		ClientSecret:      intent.ClientSecret,
		Items:             in.Items,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if decline != nil {
		// Refused at creation: settle now so the order hears about it.
		p, err = s.fail(s.logg.WithOrderID(ctx, p.OrderID), p, decline.Message)
		if err != nil {
			return Payment{}, false, err
		}
		return p, true, nil
	}
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, p); err != nil {
			return err
		}
		return s.emit(ctx, events.TypePaymentIntentCreated, p, events.PaymentIntentCreated{
			PaymentIntentID: p.PaymentIntentID,
			OrderID:         p.OrderID,
			CustomerID:      p.CustomerID,
			Amount:          p.Amount,
			Currency:        p.Currency,
			Status:          string(p.Status),
			ClientSecret:    p.ClientSecret,
		})
	})
	if err != nil {
		return Payment{}, false, err
	}
	s.logg.Info(s.logg.WithOrderID(ctx, p.OrderID), "payment intent created")
	return p, true, nil
}

// ConfirmPayment charges an open payment. A decline settles it as failed; a
// processor outage restores the previous status and returns a transient error.
func (s *Service) ConfirmPayment(ctx context.Context, paymentIntentID, paymentMethodID string) (Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "payment.ConfirmPayment")
	defer span.End()

	unlock := s.locks.Lock(paymentIntentID)
	defer unlock()

	p, err := s.store.Get(ctx, paymentIntentID)
	if err != nil {
		return Payment{}, err
	}
	if !p.Status.Open() {
		return Payment{}, fmt.Errorf("confirm %s payment: %w", p.Status, ErrInvalidState)
	}
	ctx = s.logg.WithOrderID(ctx, p.OrderID)

	previous := p.Status
	p.Status = StatusProcessing
	p.UpdatedAt = s.clock.Now()
	if err := s.store.Save(ctx, p); err != nil {
		return Payment{}, err
	}

	pctx, cancel := s.callProcessor(ctx)
	intent, err := s.processor.ConfirmIntent(pctx, p.ProcessorIntentID, paymentMethodID)
	cancel()
	if err != nil {
		if decline, ok := isDecline(err); ok {
			return s.fail(ctx, p, decline.Message)
		}
		p.Status = previous
		p.UpdatedAt = s.clock.Now()
		if serr := s.store.Save(context.WithoutCancel(ctx), p); serr != nil {
			s.logg.Error(ctx, "restore payment status", serr)
		}
		return Payment{}, processorFailure("confirm intent", err)
	}

	if intent.Status != IntentSucceeded {
		msg := intent.FailureMessage
		if msg == "" {
			msg = fmt.Sprintf("Payment confirmation failed with status: %s", intent.Status)
		}
		return s.fail(ctx, p, msg)
	}
	if intent.PaymentMethodID != "" {
		paymentMethodID = intent.PaymentMethodID
	}
	return s.succeed(ctx, p, paymentMethodID)
}

func (s *Service) succeed(ctx context.Context, p Payment, paymentMethodID string) (Payment, error) {
	now := s.clock.Now()
	p.Status = StatusSucceeded
	p.PaymentMethodID = paymentMethodID
	p.PaidAt = &now
	p.UpdatedAt = now
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, p); err != nil {
			return err
		}
		return s.emit(ctx, events.TypePaymentSucceeded, p, events.PaymentSucceeded{
			PaymentIntentID: p.PaymentIntentID,
			OrderID:         p.OrderID,
			CustomerID:      p.CustomerID,
			Amount:          p.Amount,
			Currency:        p.Currency,
			PaymentMethodID: p.PaymentMethodID,
			PaidAt:          now,
		})
	})
	if err != nil {
		return Payment{}, err
	}
	s.logg.Info(ctx, "payment succeeded")
	return p, nil
}

func (s *Service) fail(ctx context.Context, p Payment, message string) (Payment, error) {
	return s.settleFailed(ctx, p, StatusFailed, message)
}

func (s *Service) settleFailed(ctx context.Context, p Payment, status Status, message string) (Payment, error) {
	now := s.clock.Now()
	p.Status = status
	p.ErrorMessage = message
	p.UpdatedAt = now
	if status == StatusCancelled {
		p.CancelledAt = &now
	} else {
		p.FailedAt = &now
	}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, p); err != nil {
			return err
		}
		return s.emit(ctx, events.TypePaymentFailed, p, events.PaymentFailed{
			PaymentIntentID: p.PaymentIntentID,
			OrderID:         p.OrderID,
			CustomerID:      p.CustomerID,
			Amount:          p.Amount,
			ErrorMessage:    message,
			FailedAt:        now,
		})
	})
	if err != nil {
		return Payment{}, err
	}
	s.logg.Info(s.logg.WithField(ctx, "reason", message), "payment "+string(status))
	return p, nil
}

// RefundPayment refunds a succeeded payment. amount nil refunds in full.
func (s *Service) RefundPayment(ctx context.Context, paymentIntentID string, amount *int64, reason string) (Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "payment.RefundPayment")
	defer span.End()

	unlock := s.locks.Lock(paymentIntentID)
	defer unlock()

	p, err := s.store.Get(ctx, paymentIntentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusSucceeded {
		return Payment{}, fmt.Errorf("refund %s payment: %w", p.Status, ErrInvalidState)
	}
	refundAmount := p.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if refundAmount <= 0 || refundAmount > p.Amount {
		return Payment{}, fmt.Errorf("refund %d of %d: %w", refundAmount, p.Amount, ErrInvalidRefund)
	}
	ctx = s.logg.WithOrderID(ctx, p.OrderID)

	pctx, cancel := s.callProcessor(ctx)
	r, err := s.processor.Refund(pctx, p.ProcessorIntentID, refundAmount, reason)
	cancel()
	if decline, ok := isDecline(err); ok {
		// The payment stays succeeded; someone has to look at it.
		return Payment{}, fmt.Errorf("refund %s: %s: %w", paymentIntentID, decline.Message, ErrRefundRejected)
	}
	if err != nil {
		return Payment{}, processorFailure("refund", err)
	}

	now := s.clock.Now()
	p.Status = StatusRefunded
	p.RefundID = r.ID
	p.RefundAmount = refundAmount
	p.RefundReason = reason
	p.RefundedAt = &now
	p.UpdatedAt = now
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, p); err != nil {
			return err
		}
		return s.emit(ctx, events.TypePaymentRefunded, p, events.PaymentRefunded{
			PaymentIntentID: p.PaymentIntentID,
			OrderID:         p.OrderID,
			CustomerID:      p.CustomerID,
			Amount:          p.Amount,
			RefundAmount:    p.RefundAmount,
			RefundID:        p.RefundID,
			Reason:          reason,
			RefundedAt:      now,
		})
	})
	if err != nil {
		return Payment{}, err
	}
	s.logg.Info(s.logg.WithField(ctx, "refund_amount", refundAmount), "payment refunded")
	return p, nil
}

// CancelPayment abandons an open payment. It emits PaymentFailed so the
// order side settles the payment leg.
func (s *Service) CancelPayment(ctx context.Context, paymentIntentID, reason string) (Payment, error) {
	unlock := s.locks.Lock(paymentIntentID)
	defer unlock()

	p, err := s.store.Get(ctx, paymentIntentID)
	if err != nil {
		return Payment{}, err
	}
	if !CanTransition(p.Status, StatusCancelled) {
		return Payment{}, fmt.Errorf("cancel %s payment: %w", p.Status, ErrInvalidState)
	}
	return s.settleFailed(s.logg.WithOrderID(ctx, p.OrderID), p, StatusCancelled, "cancelled: "+reason)
}

func (s *Service) GetPayment(ctx context.Context, paymentIntentID string) (Payment, error) {
	return s.store.Get(ctx, paymentIntentID)
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return s.store.List(ctx, ListFilter{OrderID: orderID})
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Payment, error) {
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	return s.store.List(ctx, ListFilter{CustomerID: customerID})
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ListPayments returns the oldest payments up to limit; 0 means
// DefaultListLimit.
func (s *Service) ListPayments(ctx context.Context, limit int) ([]Payment, error) {
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 0 || limit > MaxListLimit {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "limit must be between 1 and %d", MaxListLimit)
	}
	return s.store.List(ctx, ListFilter{Limit: limit})
}
