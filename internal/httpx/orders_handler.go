package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/orders"
)

type OrdersHandler struct {
	Service *orders.Service
	Logger  *logger.Logger
}

type cancelOrderReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/number/{number}", h.getByNumber)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}", h.updateOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderInput
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	o, created, err := h.Service.CreateOrder(r.Context(), req)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	WriteSuccess(w, status, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{
		Status:     orders.Status(q.Get("status")),
		CustomerID: q.Get("customerId"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(r.Context(), h.Logger, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a non-negative integer"))
			return
		}
		f.Limit = n
	}
	out, err := h.Service.ListOrders(r.Context(), f)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	if out == nil {
		out = []orders.Order{}
	}
	WriteSuccess(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, o)
}

func (h *OrdersHandler) getByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, o)
}

// getStatus is the cheap poll endpoint, served from the status cache.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.GetOrderStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, v)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.UpdateOrderInput
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	o, err := h.Service.UpdateOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderReq
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(r.Context(), h.Logger, w, err)
			return
		}
	}
	o, err := h.Service.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, o)
}
