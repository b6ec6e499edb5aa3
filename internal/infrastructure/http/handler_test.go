package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apppayment "github.com/Zhima-Mochi/payflow/internal/application/payment"
	domoutbox "github.com/Zhima-Mochi/payflow/internal/domain/outbox"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/gateways/dummy"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/memory"
)

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, e domoutbox.Event) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.NewPaymentRepository()
	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register(dummy.Name, dummy.New(), gateway.Config{SupportsRefund: true}))
	service := apppayment.NewService(repo, registry, nopPublisher{}, nil)
	return NewHandler(service, nil).Router()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createPayment(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/payments", map[string]string{
		"gateway":  dummy.Name,
		"amount":   "80",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	id := createPayment(t, router)

	rec := doJSON(t, router, http.MethodPost, "/payments/"+id+"/authorize", map[string]string{"token": "tok"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/payments/"+id+"/capture", map[string]string{"amount": "70", "currency": "USD"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/payments/"+id+"/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/payments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payment struct {
		ChargeStatus   string `json:"charge_status"`
		IsActive       bool   `json:"is_active"`
		CapturedAmount string `json:"captured_amount"`
		Transactions   int    `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payment))
	assert.Equal(t, "fully-refunded", payment.ChargeStatus)
	assert.False(t, payment.IsActive)
	assert.Equal(t, "0", payment.CapturedAmount)
	assert.Equal(t, 3, payment.Transactions)
}

func TestCreatePaymentValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/payments", map[string]string{
		"gateway":  dummy.Name,
		"amount":   "not-a-number",
		"currency": "USD",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/payments", map[string]string{
		"gateway":  "missing",
		"amount":   "80",
		"currency": "USD",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPreconditionViolationMapsToConflict(t *testing.T) {
	router := newTestRouter(t)
	id := createPayment(t, router)

	rec := doJSON(t, router, http.MethodPost, "/payments/"+id+"/capture", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetUnknownPayment(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/payments/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientTokenEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/gateways/"+dummy.Name+"/client-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["client_token"])
}

func TestNetaxeptRoutesWithoutConfiguration(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/payments/pay-1/netaxept/register", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
