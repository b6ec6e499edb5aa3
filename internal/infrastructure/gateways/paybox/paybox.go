package paybox

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
)

// Gateway adapts Paybox Direct to the plugin interface.
//
// Authorize expects the card entry fields in PaymentData.Metadata
// ("card_number", "card_expiry" as MMYY, "card_cvv"); the issued token packs
// NUMTRANS and NUMAPPEL, the two references every follow-up operation must
// present.
type Gateway struct{}

func New() *Gateway { return &Gateway{} }

var (
	_ gateway.Authorizer       = (*Gateway)(nil)
	_ gateway.PaymentProcessor = (*Gateway)(nil)
	_ gateway.Capturer         = (*Gateway)(nil)
	_ gateway.Voider           = (*Gateway)(nil)
	_ gateway.Refunder         = (*Gateway)(nil)
)

func (g *Gateway) Name() string { return Name }

func (g *Gateway) Authorize(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.card(ctx, data, cfg, opAuthorize, payment.KindAuth)
}

func (g *Gateway) ProcessPayment(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.card(ctx, data, cfg, opAuthCapture, payment.KindCapture)
}

func (g *Gateway) Capture(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.followUp(ctx, data, cfg, opCapture, payment.KindCapture)
}

func (g *Gateway) Void(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.followUp(ctx, data, cfg, opCancel, payment.KindVoid)
}

func (g *Gateway) Refund(ctx context.Context, data gateway.PaymentData, cfg gateway.Config) (*gateway.Response, error) {
	return g.followUp(ctx, data, cfg, opRefund, payment.KindRefund)
}

// card runs the first operation of a payment, where the card itself is
// presented.
func (g *Gateway) card(ctx context.Context, data gateway.PaymentData, cfg gateway.Config, op opType, kind payment.Kind) (*gateway.Response, error) {
	fields := g.baseFields(data)
	fields.Set("PORTEUR", data.Metadata["card_number"])
	fields.Set("DATEVAL", data.Metadata["card_expiry"])
	if cvv := data.Metadata["card_cvv"]; cvv != "" {
		fields.Set("CVV", cvv)
	}
	return g.call(ctx, cfg, op, kind, data, fields)
}

// followUp runs an operation against a previously authorized transaction.
func (g *Gateway) followUp(ctx context.Context, data gateway.PaymentData, cfg gateway.Config, op opType, kind payment.Kind) (*gateway.Response, error) {
	numTrans, numAppel := splitToken(data.Token)
	fields := g.baseFields(data)
	fields.Set("NUMTRANS", numTrans)
	fields.Set("NUMAPPEL", numAppel)
	return g.call(ctx, cfg, op, kind, data, fields)
}

func (g *Gateway) baseFields(data gateway.PaymentData) url.Values {
	fields := url.Values{}
	fields.Set("MONTANT", strconv.FormatInt(minorUnits(data.Amount), 10))
	fields.Set("DEVISE", currencyCode(data.Currency))
	fields.Set("REFERENCE", data.OrderID)
	return fields
}

func (g *Gateway) call(ctx context.Context, cfg gateway.Config, op opType, kind payment.Kind, data gateway.PaymentData, fields url.Values) (*gateway.Response, error) {
	client := NewClient(ConfigFromGateway(cfg))
	values, err := client.Call(ctx, op, fields)
	if err != nil {
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

	code := values["CODEREPONSE"]
	resp := &gateway.Response{
		IsSuccess:     code == codeSuccess,
		Kind:          kind,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: joinToken(values["NUMTRANS"], values["NUMAPPEL"]),
		RawResponse:   rawMap(values),
	}
	if resp.TransactionID == "" {
		resp.TransactionID = data.Token
	}
	if !resp.IsSuccess {
		resp.Error = responseMessage(code)
	}
	return resp, nil
}

// The ledger stores a single token per transaction, so the two Paybox
// references travel packed as "NUMTRANS:NUMAPPEL".

func joinToken(numTrans, numAppel string) string {
	if numTrans == "" && numAppel == "" {
		return ""
	}
	return numTrans + ":" + numAppel
}

func splitToken(token string) (numTrans, numAppel string) {
	numTrans, numAppel, _ = strings.Cut(token, ":")
	return numTrans, numAppel
}
