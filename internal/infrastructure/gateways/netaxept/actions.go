package netaxept

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
	"github.com/Zhima-Mochi/payflow/internal/observability"
	"github.com/Zhima-Mochi/payflow/internal/observability/logctx"
)

// Actions drives the hosted-terminal flow that cannot go through the generic
// plugin operations: registering the payment before redirecting the customer,
// and confirming the authorization when the terminal calls back.
type Actions struct {
	payments payment.Repository
	registry *gateway.Registry
	log      observability.Logger
}

func NewActions(payments payment.Repository, registry *gateway.Registry, log observability.Logger) *Actions {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Actions{payments: payments, registry: registry, log: log}
}

// RegisterPayment registers the payment with netaxept and stores the returned
// transaction id as the payment token. The register attempt is recorded in the
// ledger whether it succeeds or not. Returns the hosted terminal URL the
// customer should be redirected to.
func (a *Actions) RegisterPayment(ctx context.Context, paymentID string) (string, error) {
	p, err := a.payments.Get(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if p.Token != "" {
		return "", payment.NewError(payment.CodePrecondition, "payment is already registered with the gateway")
	}
	_, cfg, err := a.registry.Resolve(p.Gateway)
	if err != nil {
		return "", payment.NewError(payment.CodeConfiguration, "%v", err)
	}

	client := NewClient(ConfigFromGateway(cfg))
	reg, err := client.Register(ctx, RegisterRequest{
		Amount:        p.Total,
		OrderNumber:   p.ID,
		CustomerEmail: p.CustomerEmail,
	})
	if err != nil {
		pe, ok := err.(*gateway.ProtocolError)
		if !ok {
			return "", err
		}
		txn := a.newTransaction(p, payment.KindRegister, false, "", pe.RawResponse)
		txn.Error = pe.Message
		if aerr := a.payments.AppendTransaction(ctx, txn); aerr != nil {
			return "", aerr
		}
		return "", payment.NewError(payment.CodeGateway, "%s", pe.Message)
	}

	txn := a.newTransaction(p, payment.KindRegister, true, reg.TransactionID, reg.RawResponse)
	p.Token = reg.TransactionID
	if err := a.payments.AppendTransactionAndUpdate(ctx, txn, p); err != nil {
		return "", err
	}
	return client.TerminalURL(reg.TransactionID), nil
}

// ConfirmAuth handles the post-terminal callback. The callback itself carries
// no proof, so the authorization state is re-read from the gateway and the
// resulting AUTH transaction reflects what the gateway reports, not what the
// redirect claimed.
func (a *Actions) ConfirmAuth(ctx context.Context, transactionID string) (*payment.Transaction, error) {
	p, err := a.payments.FindByToken(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	_, cfg, err := a.registry.Resolve(p.Gateway)
	if err != nil {
		return nil, payment.NewError(payment.CodeConfiguration, "%v", err)
	}

	client := NewClient(ConfigFromGateway(cfg))
	q, err := client.Query(ctx, transactionID)
	if err != nil {
		pe, ok := err.(*gateway.ProtocolError)
		if !ok {
			return nil, err
		}
		txn := a.newTransaction(p, payment.KindAuth, false, transactionID, pe.RawResponse)
		txn.Error = pe.Message
		if aerr := a.payments.AppendTransaction(ctx, txn); aerr != nil {
			return nil, aerr
		}
		return txn, nil
	}

	authorized := q.Authorized && !q.Annulled
	txn := a.newTransaction(p, payment.KindAuth, authorized, transactionID, q.RawResponse)
	if !authorized {
		txn.Error = "transaction is not authorized"
		logctx.FromOr(ctx, a.log).Warn("netaxept_callback_unauthorized",
			observability.F("payment_id", p.ID),
			observability.F("transaction_id", transactionID))
	}
	if err := a.payments.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (a *Actions) newTransaction(p *payment.Payment, kind payment.Kind, ok bool, token string, raw map[string]any) *payment.Transaction {
	encoded, err := json.Marshal(raw)
	if err != nil {
		encoded = []byte("{}")
	}
	return &payment.Transaction{
		ID:              uuid.NewString(),
		PaymentID:       p.ID,
		Kind:            kind,
		IsSuccess:       ok,
		Token:           token,
		Amount:          p.Total,
		GatewayResponse: encoded,
		CreatedAt:       time.Now().UTC(),
	}
}
