package netaxept

import (
	"context"

	"github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
)

// Gateway adapts the netaxept hosted-terminal protocol to the plugin
// interface. Registration and authorization happen through the hosted
// terminal (see Actions), so the plugin only offers the post-auth operations.
type Gateway struct{}

func New() *Gateway { return &Gateway{} }

var (
	_ gateway.Capturer = (*Gateway)(nil)
	_ gateway.Refunder = (*Gateway)(nil)
	_ gateway.Voider   = (*Gateway)(nil)
)

func (g *Gateway) Name() string { return Name }

func (g *Gateway) Capture(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.process(ctx, data, cfg, OperationCapture, payment.KindCapture)
}

func (g *Gateway) Refund(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.process(ctx, data, cfg, OperationCredit, payment.KindRefund)
}

func (g *Gateway) Void(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.process(ctx, data, cfg, OperationAnnul, payment.KindVoid)
}

func (g *Gateway) process(ctx context.Context, data gateway.PaymentData, cfg gateway.Config, op Operation, kind payment.Kind) (*gateway.Response, error) {
	client := NewClient(ConfigFromGateway(cfg))
	resp, err := client.Process(ctx, data.Token, op, data.Amount)
	if err != nil {
		// Gateway-side rejections become failed responses so the caller
		// records them; anything else (cancelled context, bad request
		// construction) propagates as a plain error.
		if pe, ok := err.(*gateway.ProtocolError); ok {
			return &gateway.Response{
				IsSuccess:     false,
				Kind:          kind,
				Amount:        data.Amount,
				Currency:      data.Currency,
				TransactionID: data.Token,
				Error:         pe.Message,
				RawResponse:   pe.RawResponse,
			}, nil
		}
		return nil, err
	}
	out := &gateway.Response{
		IsSuccess:     resp.ResponseCode == "OK",
		Kind:          kind,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: data.Token,
		RawResponse:   resp.RawResponse,
	}
	if !out.IsSuccess {
		out.Error = "unexpected response code " + resp.ResponseCode
	}
	return out, nil
}
