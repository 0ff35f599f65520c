package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/payment"
)

type PaymentsHandler struct {
	Service *payment.Service
	Logger  *logger.Logger
}

type confirmPaymentReq struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

type refundPaymentReq struct {
	Amount *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Reason string `json:"reason" validate:"max=500"`
}

type cancelPaymentReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments/intents", h.createIntent)
	r.Get("/payments", h.listPayments)
	r.Get("/payments/{id}", h.getPayment)
	r.Post("/payments/{id}/confirm", h.confirm)
	r.Post("/payments/{id}/refund", h.refund)
	r.Post("/payments/{id}/cancel", h.cancel)
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req payment.CreateIntentInput
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	p, created, err := h.Service.CreatePaymentIntent(r.Context(), req)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	WriteSuccess(w, status, p)
}

// listPayments filters by orderId or customerId, or lists everything up to
// limit when neither is given.
func (h *PaymentsHandler) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		ps  []payment.Payment
		err error
	)
	switch orderID, customerID := q.Get("orderId"), q.Get("customerId"); {
	case orderID != "" && customerID != "":
		err = pkgerrors.New(pkgerrors.CodeValidation, "use either orderId or customerId, not both")
	case orderID != "":
		ps, err = h.Service.ListByOrder(r.Context(), orderID)
	case customerID != "":
		ps, err = h.Service.ListByCustomer(r.Context(), customerID)
	default:
		limit := 0
		if v := q.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil {
				err = pkgerrors.Newf(pkgerrors.CodeValidation, "invalid limit %q", v)
				break
			}
		}
		ps, err = h.Service.ListPayments(r.Context(), limit)
	}
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	if ps == nil {
		ps = []payment.Payment{}
	}
	WriteSuccess(w, http.StatusOK, ps)
}

func (h *PaymentsHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, p)
}

func (h *PaymentsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentReq
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	p, err := h.Service.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), req.PaymentMethodID)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, p)
}

func (h *PaymentsHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundPaymentReq
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(r.Context(), h.Logger, w, err)
			return
		}
	}
	p, err := h.Service.RefundPayment(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reason)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, p)
}

func (h *PaymentsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelPaymentReq
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(r.Context(), h.Logger, w, err)
			return
		}
	}
	p, err := h.Service.CancelPayment(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, p)
}
