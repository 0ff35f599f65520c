package httpx

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/orders"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
)

func newOrdersRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := orders.NewService(orders.NewMemoryStore(), orders.NewMemorySagaStore(), outbox.NewMemoryStore())
	return newTestRouter(&OrdersHandler{Service: svc, Logger: logger.Nop()})
}

func orderBody(externalID string) map[string]any {
	return map[string]any{
		"externalId": externalID,
		"customer": map[string]any{
			"customerId": "cust-1", "email": "jane@example.com", "firstName": "Jane", "lastName": "Doe",
		},
		"items": []map[string]any{
			{"productId": "p1", "productName": "Widget", "quantity": 2, "unitPrice": 1500},
		},
		"shippingAddress": map[string]any{
			"street": "1 Main St", "city": "Springfield", "state": "IL", "postalCode": "62701", "country": "US",
		},
	}
}

func TestOrdersCreateAndFetch(t *testing.T) {
	r := newOrdersRouter(t)

	rec := do(t, r, http.MethodPost, "/orders", orderBody("ext-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created orders.Order
	decodeData(t, rec, &created)
	assert.Equal(t, orders.StatusPending, created.Status)
	assert.EqualValues(t, 3000, created.Subtotal)
	assert.Equal(t, created.Subtotal+created.Tax+created.ShippingCost, created.Total)

	rec = do(t, r, http.MethodPost, "/orders", orderBody("ext-1"))
	require.Equal(t, http.StatusOK, rec.Code, "same external id replays")
	var replay orders.Order
	decodeData(t, rec, &replay)
	assert.Equal(t, created.ID, replay.ID)

	rec = do(t, r, http.MethodGet, "/orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/orders/number/"+created.OrderNumber, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byNumber orders.Order
	decodeData(t, rec, &byNumber)
	assert.Equal(t, created.ID, byNumber.ID)

	rec = do(t, r, http.MethodGet, "/orders/"+created.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view orders.StatusView
	decodeData(t, rec, &view)
	assert.Equal(t, orders.StatusPending, view.Status)
	assert.Equal(t, created.OrderNumber, view.OrderNumber)
}

func TestOrdersCreateRejectsBadInput(t *testing.T) {
	r := newOrdersRouter(t)

	body := orderBody("")
	body["items"] = []map[string]any{}
	rec := do(t, r, http.MethodPost, "/orders", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeValidation), e.Code)
	assert.NotNil(t, e.Details)

	rec = do(t, r, http.MethodPost, "/orders", `{"customer":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/orders", `{"surprise":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestOrdersListFilters(t *testing.T) {
	r := newOrdersRouter(t)
	for i := range 3 {
		rec := do(t, r, http.MethodPost, "/orders", orderBody(fmt.Sprintf("ext-%d", i)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, r, http.MethodGet, "/orders?customerId=cust-1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []orders.Order
	decodeData(t, rec, &list)
	assert.Len(t, list, 2)

	rec = do(t, r, http.MethodGet, "/orders?status=confirmed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &list)
	assert.Empty(t, list)
	assert.Contains(t, rec.Body.String(), `"data":[]`)

	rec = do(t, r, http.MethodGet, "/orders?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/orders?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrdersUpdateAndCancel(t *testing.T) {
	r := newOrdersRouter(t)
	rec := do(t, r, http.MethodPost, "/orders", orderBody(""))
	require.Equal(t, http.StatusCreated, rec.Code)
	var o orders.Order
	decodeData(t, rec, &o)

	rec = do(t, r, http.MethodPatch, "/orders/"+o.ID, map[string]any{"notes": "leave at the door"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &o)
	assert.Equal(t, "leave at the door", o.Notes)

	rec = do(t, r, http.MethodPatch, "/orders/"+o.ID, map[string]any{"status": "shipped"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, string(pkgerrors.CodeStateConflict), decodeError(t, rec).Code)

	rec = do(t, r, http.MethodPost, "/orders/"+o.ID+"/cancel", map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &o)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, "changed my mind", o.CancelReason)

	rec = do(t, r, http.MethodPost, "/orders/"+o.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "cancelling twice is a no-op")
}

func TestOrdersUnknownID(t *testing.T) {
	r := newOrdersRouter(t)

	rec := do(t, r, http.MethodGet, "/orders/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeNotFound), decodeError(t, rec).Code)

	rec = do(t, r, http.MethodPost, "/orders/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
