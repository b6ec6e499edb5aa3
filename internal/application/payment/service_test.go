package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/payflow/internal/domain/money"
	domoutbox "github.com/Zhima-Mochi/payflow/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/gateways/dummy"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/memory"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (r *eventRecorder) Publish(ctx context.Context, e domoutbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventName()
	}
	return out
}

type fixture struct {
	service *Service
	repo    *memory.PaymentRepository
	gateway *dummy.Gateway
	events  *eventRecorder
}

func newFixture(t *testing.T, cfg gateway.Config) *fixture {
	t.Helper()
	repo := memory.NewPaymentRepository()
	registry := gateway.NewRegistry()
	gw := dummy.New()
	require.NoError(t, registry.Register(dummy.Name, gw, cfg))
	events := &eventRecorder{}
	return &fixture{
		service: NewService(repo, registry, events, nil),
		repo:    repo,
		gateway: gw,
		events:  events,
	}
}

func (f *fixture) createPayment(t *testing.T) *dompay.Payment {
	t.Helper()
	p, err := f.service.CreatePayment(context.Background(), dummy.Name, money.FromMajor(80, "USD"), "customer@example.com")
	require.NoError(t, err)
	return p
}

func (f *fixture) reload(t *testing.T, id string) *dompay.Payment {
	t.Helper()
	p, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func amountOf(units int64) *money.Money {
	m := money.FromMajor(units, "USD")
	return &m
}

func TestCreatePaymentUnknownGateway(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	_, err := f.service.CreatePayment(context.Background(), "missing", money.FromMajor(10, "USD"), "")
	assert.True(t, dompay.IsCode(err, dompay.CodeConfiguration))
}

func TestCreatePaymentNonPositiveTotal(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	_, err := f.service.CreatePayment(context.Background(), dummy.Name, money.Zero("USD"), "")
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	txn, err := f.service.Authorize(context.Background(), p.ID, "one-time-token")
	require.NoError(t, err)
	assert.Equal(t, dompay.KindAuth, txn.Kind)
	assert.True(t, txn.IsSuccess)
	assert.Equal(t, "one-time-token", txn.Token)
	assert.True(t, txn.Amount.Equal(p.Total))

	got := f.reload(t, p.ID)
	assert.Len(t, got.Transactions, 1)
	assert.Equal(t, dompay.ChargeStatusNotCharged, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.IsZero())
	assert.True(t, got.IsAuthorized())
	assert.Equal(t, []string{"payment.authorized"}, f.events.names())
}

func TestAuthorizeChargedPayment(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	_, err = f.service.Capture(context.Background(), p.ID, nil)
	require.NoError(t, err)

	_, err = f.service.Authorize(context.Background(), p.ID, "tok-2")
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
}

func TestCaptureDefaultsToOutstanding(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	txn, err := f.service.Capture(context.Background(), p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, dompay.KindCapture, txn.Kind)
	assert.True(t, txn.Amount.Equal(p.Total))

	got := f.reload(t, p.ID)
	assert.Equal(t, dompay.ChargeStatusFullyCharged, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.Equal(p.Total))
	assert.Len(t, got.Transactions, 2)
	assert.Equal(t, []string{"payment.authorized", "payment.captured"}, f.events.names())
}

func TestPartialCapture(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	_, err = f.service.Capture(context.Background(), p.ID, amountOf(70))
	require.NoError(t, err)

	got := f.reload(t, p.ID)
	assert.Equal(t, dompay.ChargeStatusPartiallyCharged, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.Equal(money.FromMajor(70, "USD")))
	assert.True(t, got.ChargeAmount().Equal(money.FromMajor(10, "USD")))
	assert.True(t, got.AuthorizedAmount().IsZero())
}

func TestOverCaptureCreatesNoTransaction(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	_, err = f.service.Capture(context.Background(), p.ID, amountOf(120))
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))

	got := f.reload(t, p.ID)
	assert.Len(t, got.Transactions, 1)
	assert.Equal(t, dompay.ChargeStatusNotCharged, got.ChargeStatus)
}

func TestCaptureUnauthorized(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Capture(context.Background(), p.ID, nil)
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
	assert.Empty(t, f.reload(t, p.ID).Transactions)
}

func TestCaptureCurrencyMismatch(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	eur := money.FromMajor(10, "EUR")
	_, err = f.service.Capture(context.Background(), p.ID, &eur)
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
}

func TestVoid(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	txn, err := f.service.Void(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, dompay.KindVoid, txn.Kind)

	got := f.reload(t, p.ID)
	assert.False(t, got.IsActive)
	assert.Equal(t, dompay.ChargeStatusNotCharged, got.ChargeStatus)

	// closed payments reject every further operation
	_, err = f.service.Capture(context.Background(), p.ID, nil)
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
}

func TestVoidUnauthorized(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Void(context.Background(), p.ID)
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
	assert.Empty(t, f.reload(t, p.ID).Transactions)
}

func TestVoidAfterCapture(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	_, err = f.service.Capture(context.Background(), p.ID, nil)
	require.NoError(t, err)

	_, err = f.service.Void(context.Background(), p.ID)
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
}

func TestPartialRefund(t *testing.T) {
	f := newFixture(t, gateway.Config{SupportsRefund: true})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	_, err = f.service.Capture(context.Background(), p.ID, nil)
	require.NoError(t, err)
	txn, err := f.service.Refund(context.Background(), p.ID, amountOf(30))
	require.NoError(t, err)
	assert.Equal(t, dompay.KindRefund, txn.Kind)

	got := f.reload(t, p.ID)
	assert.Equal(t, dompay.ChargeStatusPartiallyRefunded, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.Equal(money.FromMajor(50, "USD")))
	assert.True(t, got.IsActive)
}

func TestFullRefundClosesPayment(t *testing.T) {
	f := newFixture(t, gateway.Config{SupportsRefund: true})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	_, err = f.service.Capture(context.Background(), p.ID, nil)
	require.NoError(t, err)
	_, err = f.service.Refund(context.Background(), p.ID, nil)
	require.NoError(t, err)

	got := f.reload(t, p.ID)
	assert.Equal(t, dompay.ChargeStatusFullyRefunded, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.IsZero())
	assert.False(t, got.IsActive)
	assert.Equal(t,
		[]string{"payment.authorized", "payment.captured", "payment.refunded"},
		f.events.names())
}

func TestRefundMoreThanCaptured(t *testing.T) {
	f := newFixture(t, gateway.Config{SupportsRefund: true})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	_, err = f.service.Capture(context.Background(), p.ID, amountOf(70))
	require.NoError(t, err)
	_, err = f.service.Refund(context.Background(), p.ID, amountOf(80))
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))

	assert.Len(t, f.reload(t, p.ID).Transactions, 2)
}

func TestRefundUnsupportedByGateway(t *testing.T) {
	f := newFixture(t, gateway.Config{SupportsRefund: false})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)
	_, err = f.service.Capture(context.Background(), p.ID, nil)
	require.NoError(t, err)
	_, err = f.service.Refund(context.Background(), p.ID, nil)
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
}

func TestProcessPayment(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	txn, err := f.service.ProcessPayment(context.Background(), p.ID, "one-time-token")
	require.NoError(t, err)
	assert.Equal(t, dompay.KindCapture, txn.Kind)

	got := f.reload(t, p.ID)
	assert.Equal(t, dompay.ChargeStatusFullyCharged, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.Equal(p.Total))
	assert.Equal(t, []string{"payment.processed"}, f.events.names())
}

func TestProcessPaymentRejectedWhenAlreadyCharged(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.ProcessPayment(context.Background(), p.ID, "one-time-token")
	require.NoError(t, err)

	_, err = f.service.ProcessPayment(context.Background(), p.ID, "one-time-token")
	assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))

	got := f.reload(t, p.ID)
	assert.True(t, got.CapturedAmount.Equal(p.Total))
	assert.False(t, got.CapturedAmount.GreaterThan(p.Total))
	assert.Equal(t, dompay.ChargeStatusFullyCharged, got.ChargeStatus)
	require.Len(t, got.Transactions, 1)
}

func TestDeclinedTransactionIsRecorded(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)
	f.gateway.SetFail(true)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	assert.True(t, dompay.IsCode(err, dompay.CodeGateway))
	assert.Contains(t, err.Error(), "declined")

	got := f.reload(t, p.ID)
	require.Len(t, got.Transactions, 1)
	assert.False(t, got.Transactions[0].IsSuccess)
	assert.Equal(t, dompay.ChargeStatusNotCharged, got.ChargeStatus)
	assert.Empty(t, f.events.names())
}

type panickyGateway struct{}

func (panickyGateway) Authorize(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	panic("boom")
}

func TestGatewayPanicIsRecordedAsFailure(t *testing.T) {
	repo := memory.NewPaymentRepository()
	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register("panicky", panickyGateway{}, gateway.Config{}))
	svc := NewService(repo, registry, &eventRecorder{}, nil)

	p, err := svc.CreatePayment(context.Background(), "panicky", money.FromMajor(10, "USD"), "")
	require.NoError(t, err)

	_, err = svc.Authorize(context.Background(), p.ID, "tok")
	assert.True(t, dompay.IsCode(err, dompay.CodeGateway))

	got, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 1)
	assert.False(t, got.Transactions[0].IsSuccess)
}

type badKindGateway struct{}

func (badKindGateway) Authorize(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return &gateway.Response{
		IsSuccess: true,
		Kind:      "sideways",
		Amount:    data.Amount,
		Currency:  data.Currency,
	}, nil
}

func TestUnknownResponseKindIsDiscarded(t *testing.T) {
	repo := memory.NewPaymentRepository()
	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register("badkind", badKindGateway{}, gateway.Config{}))
	svc := NewService(repo, registry, &eventRecorder{}, nil)

	p, err := svc.CreatePayment(context.Background(), "badkind", money.FromMajor(10, "USD"), "")
	require.NoError(t, err)

	_, err = svc.Authorize(context.Background(), p.ID, "tok")
	assert.True(t, dompay.IsCode(err, dompay.CodeInvalidResponse))

	// The claimed success must not reach the ledger.
	got, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 1)
	assert.False(t, got.Transactions[0].IsSuccess)
	assert.Equal(t, dompay.ChargeStatusNotCharged, got.ChargeStatus)
}

type authOnlyGateway struct{}

func (authOnlyGateway) Authorize(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return &gateway.Response{
		IsSuccess:     true,
		Kind:          dompay.KindAuth,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: data.Token,
		RawResponse:   map[string]any{"transaction_id": data.Token},
	}, nil
}

func TestMissingCapabilityIsConfigurationError(t *testing.T) {
	repo := memory.NewPaymentRepository()
	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register("authonly", authOnlyGateway{}, gateway.Config{}))
	svc := NewService(repo, registry, &eventRecorder{}, nil)

	p, err := svc.CreatePayment(context.Background(), "authonly", money.FromMajor(10, "USD"), "")
	require.NoError(t, err)
	_, err = svc.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)

	_, err = svc.Capture(context.Background(), p.ID, nil)
	assert.True(t, dompay.IsCode(err, dompay.CodeConfiguration))

	// no transaction recorded for the unsupported operation
	got, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Transactions, 1)
}

func TestClientToken(t *testing.T) {
	f := newFixture(t, gateway.Config{})

	token, err := f.service.ClientToken(context.Background(), dummy.Name)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = f.service.ClientToken(context.Background(), "missing")
	assert.True(t, dompay.IsCode(err, dompay.CodeConfiguration))
}

func TestConcurrentCaptureIsSerialized(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	p := f.createPayment(t)

	_, err := f.service.Authorize(context.Background(), p.ID, "tok")
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Capture(context.Background(), p.ID, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			assert.True(t, dompay.IsCode(err, dompay.CodePrecondition))
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	got := f.reload(t, p.ID)
	assert.Equal(t, dompay.ChargeStatusFullyCharged, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.Equal(p.Total))
}
