package netaxept

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/payflow/internal/domain/money"
	dompay "github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/memory"
)

func gatewayConfig(baseURL string) gateway.Config {
	return gateway.Config{
		AutoCapture:    true,
		SupportsRefund: true,
		ConnectionParams: map[string]string{
			"merchant_id":        "merchant-1",
			"secret":             "secret",
			"base_url":           baseURL,
			"after_terminal_url": "https://shop.example.com/callback",
		},
	}
}

func TestGatewayCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "CAPTURE", r.PostForm.Get("operation"))
		_, _ = w.Write([]byte(`<ProcessResponse><ResponseCode>OK</ResponseCode></ProcessResponse>`))
	}))
	defer srv.Close()

	g := New()
	resp, err := g.Capture(context.Background(), gateway.PaymentData{
		Token:    "abc-123",
		Amount:   decimal.NewFromInt(70),
		Currency: "NOK",
	}, gatewayConfig(srv.URL))
	require.NoError(t, err)

	assert.True(t, resp.IsSuccess)
	assert.Equal(t, dompay.KindCapture, resp.Kind)
	assert.Equal(t, "abc-123", resp.TransactionID)
}

func TestGatewayVoidMapsToAnnul(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ANNUL", r.PostForm.Get("operation"))
		_, _ = w.Write([]byte(`<ProcessResponse><ResponseCode>OK</ResponseCode></ProcessResponse>`))
	}))
	defer srv.Close()

	g := New()
	resp, err := g.Void(context.Background(), gateway.PaymentData{
		Token:    "abc-123",
		Amount:   decimal.NewFromInt(80),
		Currency: "NOK",
	}, gatewayConfig(srv.URL))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, dompay.KindVoid, resp.Kind)
}

func TestGatewayRefundRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "CREDIT", r.PostForm.Get("operation"))
		_, _ = w.Write([]byte(`<Exception><Error><Message>Transaction already credited</Message></Error></Exception>`))
	}))
	defer srv.Close()

	g := New()
	resp, err := g.Refund(context.Background(), gateway.PaymentData{
		Token:    "abc-123",
		Amount:   decimal.NewFromInt(80),
		Currency: "NOK",
	}, gatewayConfig(srv.URL))
	require.NoError(t, err)

	assert.False(t, resp.IsSuccess)
	assert.Equal(t, "Transaction already credited", resp.Error)
	assert.Equal(t, dompay.KindRefund, resp.Kind)
}

func newActionsFixture(t *testing.T, baseURL string) (*Actions, *memory.PaymentRepository, *dompay.Payment) {
	t.Helper()
	repo := memory.NewPaymentRepository()
	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register(Name, New(), gatewayConfig(baseURL)))

	p := dompay.New("pay-1", Name, money.FromMajor(80, "NOK"), "customer@example.com")
	require.NoError(t, repo.Insert(context.Background(), p))

	return NewActions(repo, registry, nil), repo, p
}

func TestRegisterPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<RegisterResponse><TransactionId>abc-123</TransactionId></RegisterResponse>`))
	}))
	defer srv.Close()

	actions, repo, p := newActionsFixture(t, srv.URL)
	terminalURL, err := actions.RegisterPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Contains(t, terminalURL, "transactionId=abc-123")

	got, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got.Token)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, dompay.KindRegister, got.Transactions[0].Kind)
	assert.True(t, got.Transactions[0].IsSuccess)

	// the token is set exactly once
	_, err = actions.RegisterPayment(context.Background(), p.ID)
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
}

func TestRegisterPaymentFailureIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<Exception><Error><Message>Invalid merchant</Message></Error></Exception>`))
	}))
	defer srv.Close()

	actions, repo, p := newActionsFixture(t, srv.URL)
	_, err := actions.RegisterPayment(context.Background(), p.ID)
	assert.True(t, dompay.IsCode(err, dompay.CodeGateway))

	got, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Token)
	require.Len(t, got.Transactions, 1)
	assert.False(t, got.Transactions[0].IsSuccess)
	assert.Equal(t, "Invalid merchant", got.Transactions[0].Error)
}

func TestConfirmAuthVerifiesWithQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<PaymentInfo><Summary>
			<Annulled>false</Annulled>
			<Authorized>true</Authorized>
			<AuthorizationId>064392</AuthorizationId>
		</Summary></PaymentInfo>`))
	}))
	defer srv.Close()

	repo := memory.NewPaymentRepository()
	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register(Name, New(), gatewayConfig(srv.URL)))

	p := dompay.New("pay-1", Name, money.FromMajor(80, "NOK"), "")
	p.Token = "abc-123"
	require.NoError(t, repo.Insert(context.Background(), p))

	actions := NewActions(repo, registry, nil)
	txn, err := actions.ConfirmAuth(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, dompay.KindAuth, txn.Kind)
	assert.True(t, txn.IsSuccess)

	got, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAuthorized())
}

func TestConfirmAuthRejectsUnverifiedCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<PaymentInfo><Summary>
			<Annulled>false</Annulled>
			<Authorized>false</Authorized>
			<AuthorizationId></AuthorizationId>
		</Summary></PaymentInfo>`))
	}))
	defer srv.Close()

	repo := memory.NewPaymentRepository()
	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register(Name, New(), gatewayConfig(srv.URL)))

	p := dompay.New("pay-1", Name, money.FromMajor(80, "NOK"), "")
	p.Token = "abc-123"
	require.NoError(t, repo.Insert(context.Background(), p))

	actions := NewActions(repo, registry, nil)
	txn, err := actions.ConfirmAuth(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.False(t, txn.IsSuccess)

	got, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAuthorized())
}
