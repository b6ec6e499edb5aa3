package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Zhima-Mochi/payflow/internal/domain/money"
	domoutbox "github.com/Zhima-Mochi/payflow/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
	"github.com/Zhima-Mochi/payflow/internal/observability"
	"github.com/Zhima-Mochi/payflow/internal/observability/logctx"
)

const (
	serviceName = "payment-service"
	spanPrefix  = "UC."

	genericTransactionError = "transaction was unsuccessful"
)

// Service is the orchestration layer: it validates preconditions against the
// payment aggregate, invokes the gateway plugin, records every attempt in the
// ledger, and applies post-processing. Every operation follows the same
// template; gateways never see the persistence layer and the persistence
// layer never sees the network.
type Service struct {
	repo      dompay.Repository
	registry  *gateway.Registry
	publisher domoutbox.Publisher

	tel       observability.Observability
	log       observability.Logger
	opCounter observability.Counter
	opLatency observability.Histogram
	gwCounter observability.Counter
	gwLatency observability.Histogram

	locks *keyedMutex
}

func NewService(
	repo dompay.Repository,
	registry *gateway.Registry,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Service{
		repo:      repo,
		registry:  registry,
		publisher: publisher,
		tel:       tel,
		log:       tel.Logger().With(observability.F("service", serviceName)),
		opCounter: tel.Metrics().Counter(observability.MPaymentOperations),
		opLatency: tel.Metrics().Histogram(observability.MPaymentOperationLatency),
		gwCounter: tel.Metrics().Counter(observability.MGatewayRequests),
		gwLatency: tel.Metrics().Histogram(observability.MGatewayRequestLatency),
		locks:     newKeyedMutex(),
	}
}

// CreatePayment opens a new payment bound to a registered gateway. An unknown
// gateway name fails here, at the edge, rather than deep inside a later
// capture flow.
func (s *Service) CreatePayment(ctx context.Context, gatewayName string, total money.Money, customerEmail string) (*dompay.Payment, error) {
	if _, _, err := s.registry.Resolve(gatewayName); err != nil {
		return nil, dompay.NewError(dompay.CodeConfiguration, "%v", err)
	}
	if !total.IsPositive() {
		return nil, dompay.NewError(dompay.CodePrecondition, "total should be a positive number")
	}
	p := dompay.New(uuid.NewString(), gatewayName, total, customerEmail)
	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, err
	}
	logctx.FromOr(ctx, s.log).Info("payment_created",
		observability.F("payment_id", p.ID),
		observability.F("gateway", gatewayName),
		observability.F("total", total.String()),
	)
	return p, nil
}

// Authorize places a hold on customer funds using a one-time payment token.
// It creates an AUTH transaction but does not mutate the captured amount;
// only a subsequent capture does.
func (s *Service) Authorize(ctx context.Context, paymentID, token string) (txn *dompay.Transaction, err error) {
	ctx, finish := s.begin(ctx, "authorize", paymentID)
	defer func() { finish(err) }()

	unlock := s.locks.Lock(paymentID)
	defer unlock()

	p, plugin, cfg, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.CanAuthorize() {
		return nil, dompay.NewError(dompay.CodePrecondition, "charged transactions cannot be authorized again")
	}

	txn, err = s.callGateway(ctx, p, plugin, cfg, gateway.OpAuthorize, dompay.KindAuth, s.paymentData(p, token, p.Total))
	if err != nil {
		return nil, err
	}
	if err = s.commit(ctx, p, txn); err != nil {
		return nil, err
	}
	s.publish(ctx, dompay.AuthorizedEvent{PaymentID: p.ID, TransactionID: txn.ID})
	return txn, nil
}

// ProcessPayment performs the whole payment in one step on gateways that
// combine authorize and capture. The recorded transaction carries the kind
// the gateway reports, CAPTURE by convention.
func (s *Service) ProcessPayment(ctx context.Context, paymentID, token string) (txn *dompay.Transaction, err error) {
	ctx, finish := s.begin(ctx, "process_payment", paymentID)
	defer func() { finish(err) }()

	unlock := s.locks.Lock(paymentID)
	defer unlock()

	p, plugin, cfg, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.NotCharged() {
		return nil, dompay.NewError(dompay.CodePrecondition, "this payment has already been charged")
	}

	txn, err = s.callGateway(ctx, p, plugin, cfg, gateway.OpProcessPayment, dompay.KindCapture, s.paymentData(p, token, p.Total))
	if err != nil {
		return nil, err
	}
	if err = s.commit(ctx, p, txn); err != nil {
		return nil, err
	}
	s.publish(ctx, dompay.ProcessedEvent{PaymentID: p.ID, TransactionID: txn.ID, Amount: txn.Amount})
	return txn, nil
}

// Capture transfers funds reserved by a prior authorization. A nil amount
// captures the maximum outstanding (total minus already captured).
func (s *Service) Capture(ctx context.Context, paymentID string, amount *money.Money) (txn *dompay.Transaction, err error) {
	ctx, finish := s.begin(ctx, "capture", paymentID)
	defer func() { finish(err) }()

	unlock := s.locks.Lock(paymentID)
	defer unlock()

	p, plugin, cfg, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	amt := p.ChargeAmount()
	if amount != nil {
		amt = *amount
	}
	if err = cleanCapture(p, amt, cfg); err != nil {
		return nil, err
	}

	auth := p.LastSuccessful(dompay.KindAuth)
	if auth == nil {
		return nil, dompay.NewError(dompay.CodePrecondition, "cannot capture unauthorized transaction")
	}

	txn, err = s.callGateway(ctx, p, plugin, cfg, gateway.OpCapture, dompay.KindCapture, s.paymentData(p, auth.Token, amt))
	if err != nil {
		return nil, err
	}
	if err = s.commit(ctx, p, txn); err != nil {
		return nil, err
	}
	s.publish(ctx, dompay.CapturedEvent{PaymentID: p.ID, TransactionID: txn.ID, Amount: txn.Amount})
	return txn, nil
}

// Void cancels an authorization before capture and closes the payment.
func (s *Service) Void(ctx context.Context, paymentID string) (txn *dompay.Transaction, err error) {
	ctx, finish := s.begin(ctx, "void", paymentID)
	defer func() { finish(err) }()

	unlock := s.locks.Lock(paymentID)
	defer unlock()

	p, plugin, cfg, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.CanVoid() {
		return nil, dompay.NewError(dompay.CodePrecondition, "only pre-authorized transactions can be voided")
	}

	auth := p.LastSuccessful(dompay.KindAuth)
	if auth == nil {
		return nil, dompay.NewError(dompay.CodePrecondition, "cannot void unauthorized transaction")
	}

	txn, err = s.callGateway(ctx, p, plugin, cfg, gateway.OpVoid, dompay.KindVoid, s.paymentData(p, auth.Token, p.Total))
	if err != nil {
		return nil, err
	}
	if err = s.commit(ctx, p, txn); err != nil {
		return nil, err
	}
	s.publish(ctx, dompay.VoidedEvent{PaymentID: p.ID, TransactionID: txn.ID})
	return txn, nil
}

// Refund returns previously captured funds. A nil amount refunds the full
// captured amount; refunds can be partial.
func (s *Service) Refund(ctx context.Context, paymentID string, amount *money.Money) (txn *dompay.Transaction, err error) {
	ctx, finish := s.begin(ctx, "refund", paymentID)
	defer func() { finish(err) }()

	unlock := s.locks.Lock(paymentID)
	defer unlock()

	p, plugin, cfg, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	amt := p.CapturedAmount
	if amount != nil {
		amt = *amount
	}
	if err = cleanRefund(p, amt, cfg); err != nil {
		return nil, err
	}

	capture := p.LastSuccessful(dompay.KindCapture)
	if capture == nil {
		return nil, dompay.NewError(dompay.CodePrecondition, "cannot refund uncaptured transaction")
	}

	txn, err = s.callGateway(ctx, p, plugin, cfg, gateway.OpRefund, dompay.KindRefund, s.paymentData(p, capture.Token, amt))
	if err != nil {
		return nil, err
	}
	if err = s.commit(ctx, p, txn); err != nil {
		return nil, err
	}
	s.publish(ctx, dompay.RefundedEvent{PaymentID: p.ID, TransactionID: txn.ID, Amount: txn.Amount})
	return txn, nil
}

// GetPayment returns the payment with its full ledger.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*dompay.Payment, error) {
	return s.repo.Get(ctx, paymentID)
}

// ClientToken asks the named gateway for a client-side tokenization
// identifier.
func (s *Service) ClientToken(ctx context.Context, gatewayName string) (string, error) {
	plugin, cfg, err := s.registry.Resolve(gatewayName)
	if err != nil {
		return "", dompay.NewError(dompay.CodeConfiguration, "%v", err)
	}
	tokener, ok := plugin.(gateway.ClientTokener)
	if !ok {
		return "", dompay.NewError(dompay.CodeConfiguration, "gateway %s doesn't implement %s operation", gatewayName, gateway.OpClientToken)
	}
	return tokener.ClientToken(ctx, cfg)
}

// load fetches the payment, checks it is still open, and resolves its
// gateway. Both failure modes precede any gateway call and any transaction.
func (s *Service) load(ctx context.Context, paymentID string) (*dompay.Payment, any, gateway.Config, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, nil, gateway.Config{}, err
	}
	if !p.IsActive {
		return nil, nil, gateway.Config{}, dompay.NewError(dompay.CodePrecondition, "this payment is no longer active")
	}
	plugin, cfg, err := s.registry.Resolve(p.Gateway)
	if err != nil {
		return nil, nil, gateway.Config{}, dompay.NewError(dompay.CodeConfiguration, "%v", err)
	}
	return p, plugin, cfg, nil
}

func cleanCapture(p *dompay.Payment, amount money.Money, cfg gateway.Config) error {
	if amount.IsNonPositive() {
		return dompay.NewError(dompay.CodePrecondition, "amount should be a positive number")
	}
	if amount.Currency != p.Total.Currency {
		return dompay.NewError(dompay.CodePrecondition, "amount currency %s does not match payment currency %s", amount.Currency, p.Total.Currency)
	}
	if !p.CanCapture() {
		return dompay.NewError(dompay.CodePrecondition, "this payment cannot be captured")
	}
	if cfg.AutoCapture && !p.IsAuthorized() {
		return dompay.NewError(dompay.CodePrecondition, "this payment cannot be captured")
	}
	if amount.GreaterThan(p.Total) || amount.GreaterThan(p.ChargeAmount()) {
		return dompay.NewError(dompay.CodePrecondition, "unable to charge more than un-captured amount")
	}
	return nil
}

func cleanRefund(p *dompay.Payment, amount money.Money, cfg gateway.Config) error {
	if !p.CanRefund(cfg.SupportsRefund) {
		return dompay.NewError(dompay.CodePrecondition, "this payment cannot be refunded")
	}
	if amount.IsNonPositive() {
		return dompay.NewError(dompay.CodePrecondition, "amount should be a positive number")
	}
	if amount.Currency != p.Total.Currency {
		return dompay.NewError(dompay.CodePrecondition, "amount currency %s does not match payment currency %s", amount.Currency, p.Total.Currency)
	}
	if amount.GreaterThan(p.CapturedAmount) {
		return dompay.NewError(dompay.CodePrecondition, "cannot refund more than captured")
	}
	return nil
}

// callGateway invokes the plugin, validates the response, and turns the
// outcome into a ledger transaction. Failed attempts are persisted here and
// surfaced as a payment error; successful transactions are returned
// unpersisted so the caller can commit them atomically with the mutated
// payment.
func (s *Service) callGateway(
	ctx context.Context,
	p *dompay.Payment,
	plugin any,
	cfg gateway.Config,
	op gateway.Operation,
	defaultKind dompay.Kind,
	data gateway.PaymentData,
) (*dompay.Transaction, error) {
	if !gateway.Supports(plugin, op) {
		return nil, dompay.NewError(dompay.CodeConfiguration, "gateway %s doesn't implement %s operation", p.Gateway, op)
	}

	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("payment_id", p.ID),
		observability.F("gateway", p.Gateway),
		observability.F("operation", string(op)),
	)

	code := dompay.CodeGateway
	var errMsg string
	started := time.Now()
	resp, callErr := invoke(ctx, plugin, op, data, cfg)
	s.gwLatency.Observe(time.Since(started).Seconds(),
		observability.L("gateway", p.Gateway),
		observability.L("operation", string(op)),
	)
	if callErr != nil {
		errMsg = fmt.Sprintf("gateway encountered an error: %v", callErr)
		logger.Warn("gateway_call_failed", observability.F("error", callErr.Error()))
		resp = nil
	} else if verr := validateResponse(resp); verr != nil {
		// Discard the response entirely, even if the plugin claimed success:
		// a malformed response must not poison the ledger.
		errMsg = "gateway response validation failed"
		code = dompay.CodeInvalidResponse
		logger.Warn("gateway_response_invalid", observability.F("error", verr.Error()))
		resp = nil
	}

	outcome := "failure"
	if resp != nil && resp.IsSuccess {
		outcome = "success"
	}
	s.gwCounter.Add(1,
		observability.L("gateway", p.Gateway),
		observability.L("operation", string(op)),
		observability.L("outcome", outcome),
	)

	txn := newTransaction(p, defaultKind, data, resp, errMsg)
	if txn.IsSuccess {
		return txn, nil
	}

	// The ledger captures every failed attempt before the error surfaces.
	if err := s.repo.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}
	msg := txn.Error
	if msg == "" {
		msg = genericTransactionError
	}
	return nil, dompay.NewError(code, "%s", msg)
}

// commit applies post-processing for the transaction kind and persists the
// transaction together with the mutated payment in one atomic unit. AUTH and
// REGISTER kinds mutate nothing and append the transaction alone.
func (s *Service) commit(ctx context.Context, p *dompay.Payment, txn *dompay.Transaction) error {
	mutated := false
	switch txn.Kind {
	case dompay.KindCapture:
		if err := p.RecordCaptured(txn.Amount); err != nil {
			return err
		}
		mutated = true
	case dompay.KindRefund:
		if err := p.RecordRefunded(txn.Amount); err != nil {
			return err
		}
		mutated = true
	case dompay.KindVoid:
		p.RecordVoided()
		mutated = true
	}

	if !mutated {
		return s.repo.AppendTransaction(ctx, txn)
	}
	return s.repo.AppendTransactionAndUpdate(ctx, txn, p)
}

func (s *Service) paymentData(p *dompay.Payment, token string, amount money.Money) gateway.PaymentData {
	md, err := p.Metadata()
	if err != nil {
		md = map[string]string{}
	}
	return gateway.PaymentData{
		Token:         token,
		Amount:        amount.Amount,
		Currency:      amount.Currency,
		CustomerEmail: p.CustomerEmail,
		CustomerIP:    p.CustomerIP,
		Metadata:      md,
	}
}

func (s *Service) publish(ctx context.Context, e domoutbox.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		logctx.FromOr(ctx, s.log).Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
}

// begin opens the span and returns the finish func that records metrics and
// the operation log line.
func (s *Service) begin(ctx context.Context, op, paymentID string) (context.Context, func(error)) {
	ctx, span := s.tel.Tracer().Start(ctx, spanPrefix+op,
		attribute.String("payment.operation", op),
		attribute.String("payment.id", paymentID),
	)
	start := time.Now()

	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()

		latency := time.Since(start).Seconds()
		s.opCounter.Add(1,
			observability.L("operation", op),
			observability.L("outcome", outcome),
		)
		s.opLatency.Observe(latency, observability.L("operation", op))

		fields := []observability.Field{
			observability.F("operation", op),
			observability.F("payment_id", paymentID),
			observability.F("outcome", outcome),
			observability.F("latency_seconds", latency),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logctx.FromOr(ctx, s.log).Info("payment_operation_done", fields...)
	}
}

// invoke dispatches to the plugin capability, converting a plugin panic into
// an error so a buggy plugin cannot take the orchestrator down with it.
func invoke(ctx context.Context, plugin any, op gateway.Operation, data gateway.PaymentData, cfg gateway.Config) (resp *gateway.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("gateway panic: %v", r)
		}
	}()

	switch op {
	case gateway.OpAuthorize:
		return plugin.(gateway.Authorizer).Authorize(ctx, data, cfg)
	case gateway.OpProcessPayment:
		return plugin.(gateway.PaymentProcessor).ProcessPayment(ctx, data, cfg)
	case gateway.OpCapture:
		return plugin.(gateway.Capturer).Capture(ctx, data, cfg)
	case gateway.OpVoid:
		return plugin.(gateway.Voider).Void(ctx, data, cfg)
	case gateway.OpRefund:
		return plugin.(gateway.Refunder).Refund(ctx, data, cfg)
	default:
		return nil, fmt.Errorf("unknown gateway operation %q", op)
	}
}

func validateResponse(resp *gateway.Response) error {
	if resp == nil {
		return &gateway.ValidationError{Reason: "gateway needs to return a response"}
	}
	if !dompay.KnownKind(resp.Kind) {
		return &gateway.ValidationError{Reason: fmt.Sprintf("kind %q is not a recognized transaction kind", resp.Kind)}
	}
	if _, err := json.Marshal(resp.RawResponse); err != nil {
		return &gateway.ValidationError{Reason: "raw response is not serializable"}
	}
	return nil
}

// newTransaction builds the ledger record for a gateway outcome. A nil
// response means the call failed or was discarded; the placeholder keeps the
// default kind and the request's token and amount so the audit trail still
// names what was attempted.
func newTransaction(p *dompay.Payment, defaultKind dompay.Kind, data gateway.PaymentData, resp *gateway.Response, errMsg string) *dompay.Transaction {
	if resp == nil {
		resp = &gateway.Response{
			IsSuccess:     false,
			Kind:          defaultKind,
			Amount:        data.Amount,
			Currency:      data.Currency,
			TransactionID: data.Token,
			Error:         errMsg,
			RawResponse:   map[string]any{},
		}
	}

	raw, err := json.Marshal(resp.RawResponse)
	if err != nil {
		raw = []byte("{}")
	}

	return &dompay.Transaction{
		ID:              uuid.NewString(),
		PaymentID:       p.ID,
		Kind:            resp.Kind,
		IsSuccess:       resp.IsSuccess,
		Token:           resp.TransactionID,
		Amount:          money.New(resp.Amount, resp.Currency),
		Error:           resp.Error,
		GatewayResponse: raw,
		CreatedAt:       time.Now().UTC(),
	}
}
