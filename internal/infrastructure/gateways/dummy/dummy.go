// Package dummy is an in-process gateway implementing every capability of the
// SPI. It moves no real money; it exists to validate the contract and to give
// local environments and tests a fully featured backend.
package dummy

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
)

const Name = "dummy"

type Gateway struct {
	mu   sync.Mutex
	fail bool
}

func New() *Gateway {
	return &Gateway{}
}

// SetFail makes every subsequent call report a declined transaction, so
// failure paths can be exercised deterministically.
func (g *Gateway) SetFail(fail bool) {
	g.mu.Lock()
	g.fail = fail
	g.mu.Unlock()
}

func (g *Gateway) succeed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.fail
}

func (g *Gateway) Authorize(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.respond(ctx, payment.KindAuth, data)
}

func (g *Gateway) ProcessPayment(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.respond(ctx, payment.KindCapture, data)
}

func (g *Gateway) Capture(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.respond(ctx, payment.KindCapture, data)
}

func (g *Gateway) Void(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.respond(ctx, payment.KindVoid, data)
}

func (g *Gateway) Refund(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.respond(ctx, payment.KindRefund, data)
}

func (g *Gateway) ClientToken(ctx context.Context, cfg gateway.Config) (string, error) {
	_ = ctx
	return uuid.NewString(), nil
}

func (g *Gateway) respond(ctx context.Context, kind payment.Kind, data gateway.PaymentData) (*gateway.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	success := g.succeed()
	txnID := data.Token
	if txnID == "" {
		txnID = uuid.NewString()
	}

	resp := &gateway.Response{
		IsSuccess:     success,
		Kind:          kind,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: txnID,
		RawResponse: map[string]any{
			"transaction_id": txnID,
			"operation":      string(kind),
		},
	}
	if !success {
		resp.Error = "fake gateway declined the transaction"
	}
	return resp, nil
}
