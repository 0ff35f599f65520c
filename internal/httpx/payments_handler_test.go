package httpx

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/payment"
)

func newPaymentsRouter(t *testing.T) (http.Handler, *payment.Service) {
	t.Helper()
	svc := payment.NewService(payment.NewMemoryStore(), outbox.NewMemoryStore(), payment.NewFakeProcessor())
	return newTestRouter(&PaymentsHandler{Service: svc, Logger: logger.Nop()}), svc
}

func createIntent(t *testing.T, r http.Handler, orderID string) payment.Payment {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/payments/intents", map[string]any{
		"orderId": orderID, "customerId": "cust-1", "amount": 5399, "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p payment.Payment
	decodeData(t, rec, &p)
	return p
}

func TestPaymentsCreateIntent(t *testing.T) {
	r, _ := newPaymentsRouter(t)

	p := createIntent(t, r, "o1")
	assert.Equal(t, payment.IntentID("o1"), p.PaymentIntentID)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, "usd", p.Currency)
	assert.NotEmpty(t, p.ClientSecret)

	rec := do(t, r, http.MethodPost, "/payments/intents", map[string]any{
		"orderId": "o1", "customerId": "cust-1", "amount": 5399,
	})
	assert.Equal(t, http.StatusOK, rec.Code, "second create returns the existing intent")

	rec = do(t, r, http.MethodPost, "/payments/intents", map[string]any{"customerId": "cust-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/payments?orderId=o1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []payment.Payment
	decodeData(t, rec, &list)
	assert.Len(t, list, 1)

	rec = do(t, r, http.MethodGet, "/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &list)
	assert.Len(t, list, 1)

	rec = do(t, r, http.MethodGet, "/payments?orderId=o1&customerId=cust-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, r, http.MethodGet, "/payments?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/payments/pay_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentsConfirmAndRefund(t *testing.T) {
	r, _ := newPaymentsRouter(t)
	p := createIntent(t, r, "o1")
	base := "/payments/" + p.PaymentIntentID

	rec := do(t, r, http.MethodPost, base+"/refund", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "nothing charged yet")

	rec = do(t, r, http.MethodPost, base+"/confirm", map[string]any{"paymentMethodId": "pm_card_visa"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &p)
	assert.Equal(t, payment.StatusSucceeded, p.Status)

	rec = do(t, r, http.MethodPost, base+"/refund", map[string]any{"amount": 999999})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, base+"/refund", map[string]any{"amount": 1000, "reason": "damaged"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &p)
	assert.Equal(t, payment.StatusRefunded, p.Status)
	assert.EqualValues(t, 1000, p.RefundAmount)
	assert.Equal(t, "damaged", p.RefundReason)

	rec = do(t, r, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPaymentsDeclineAndCancel(t *testing.T) {
	r, _ := newPaymentsRouter(t)

	declined := createIntent(t, r, "o1")
	rec := do(t, r, http.MethodPost, "/payments/"+declined.PaymentIntentID+"/confirm",
		map[string]any{"paymentMethodId": payment.DeclinedPaymentMethod})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &declined)
	assert.Equal(t, payment.StatusFailed, declined.Status)
	assert.Equal(t, "Your card was declined.", declined.ErrorMessage)

	rec = do(t, r, http.MethodPost, "/payments/"+declined.PaymentIntentID+"/confirm", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "payment method is required")

	open := createIntent(t, r, "o2")
	rec = do(t, r, http.MethodPost, "/payments/"+open.PaymentIntentID+"/cancel", map[string]any{"reason": "abandoned"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &open)
	assert.Equal(t, payment.StatusCancelled, open.Status)
}

func TestPaymentsListByCustomer(t *testing.T) {
	r, _ := newPaymentsRouter(t)
	createIntent(t, r, "o1")
	createIntent(t, r, "o2")

	rec := do(t, r, http.MethodGet, "/payments?customerId=cust-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []payment.Payment
	decodeData(t, rec, &list)
	assert.Len(t, list, 2)

	rec = do(t, r, http.MethodGet, "/payments?customerId=nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var none []payment.Payment
	decodeData(t, rec, &none)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	rec = do(t, r, http.MethodGet, "/payments?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &list)
	assert.Len(t, list, 1)
}
