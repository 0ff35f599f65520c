package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/inventory"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
)

type InventoryHandler struct {
	Service *inventory.Service
	Logger  *logger.Logger
}

type adjustStockReq struct {
	Delta  int64  `json:"delta" validate:"ne=0"`
	Reason string `json:"reason" validate:"max=500"`
}

type releaseReservationReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

const manualReleaseReason = "released by request"

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.upsertProduct)
	r.Get("/products/search", h.searchProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Put("/products/{id}", h.upsertProduct)
	r.Delete("/products/{id}", h.deactivateProduct)
	r.Post("/products/{id}/adjust", h.adjustStock)
	r.Get("/products/{id}/available-quantity", h.availableQuantity)
	r.Get("/reservations", h.listReservations)
	r.Get("/reservations/{orderId}", h.getReservation)
	r.Post("/reservations/{orderId}/release", h.releaseReservation)
	r.Post("/reservations/{orderId}/confirm", h.confirmReservation)
}

func (h *InventoryHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListProducts(r.Context())
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	if ps == nil {
		ps = []inventory.Product{}
	}
	WriteSuccess(w, http.StatusOK, ps)
}

func (h *InventoryHandler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req inventory.UpsertProductInput
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		req.ID = id
	}
	p, err := h.Service.UpsertProduct(r.Context(), req)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, p)
}

func (h *InventoryHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, p)
}

func (h *InventoryHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockReq
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	p, err := h.Service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, p)
}

func (h *InventoryHandler) getReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GetReservation(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, res)
}

func (h *InventoryHandler) searchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(r.Context(), h.Logger, w, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid limit %q", v))
			return
		}
		limit = n
	}
	ps, err := h.Service.SearchProducts(r.Context(), q.Get("q"), limit)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	if ps == nil {
		ps = []inventory.Product{}
	}
	WriteSuccess(w, http.StatusOK, ps)
}

func (h *InventoryHandler) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Service.DeactivateProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) availableQuantity(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.AvailableQuantity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, map[string]int64{"availableQuantity": n})
}

func (h *InventoryHandler) listReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rs, err := h.Service.ListReservations(r.Context(), inventory.ReservationFilter{
		CustomerID: q.Get("customerId"),
		Status:     inventory.ReservationStatus(q.Get("status")),
	})
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	if rs == nil {
		rs = []inventory.Reservation{}
	}
	WriteSuccess(w, http.StatusOK, rs)
}

func (h *InventoryHandler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	var req releaseReservationReq
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(r.Context(), h.Logger, w, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = manualReleaseReason
	}
	res, err := h.Service.ReleaseReservation(r.Context(), chi.URLParam(r, "orderId"), req.Reason)
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, res)
}

func (h *InventoryHandler) confirmReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ConfirmReservation(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		WriteError(r.Context(), h.Logger, w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, res)
}
