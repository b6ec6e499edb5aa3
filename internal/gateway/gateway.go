package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/payflow/internal/domain/payment"
)

// PaymentData is the normalized input handed to every gateway call. It is all
// a plugin may see of a payment: plugins talk to the network and must never
// touch the payment or transaction persistence, which belongs to the
// orchestration layer.
type PaymentData struct {
	// Token is the gateway-side reference for the operation: a one-time
	// tokenized payment method for authorize, or the reference of a prior
	// transaction for capture, void and refund.
	Token    string
	Amount   decimal.Decimal
	Currency string
	OrderID  string

	CustomerEmail string
	CustomerIP    string

	Billing  *Address
	Shipping *Address

	Metadata map[string]string
}

// Address carries optional billing/shipping detail for fraud-prevention
// mechanisms gateway-side.
type Address struct {
	FirstName   string
	LastName    string
	CompanyName string
	Street1     string
	Street2     string
	City        string
	PostalCode  string
	CountryCode string
	CountryArea string
	Phone       string
}

// Config is the per-gateway configuration resolved by the registry at
// startup. ConnectionParams hold whatever the concrete protocol needs
// (merchant ids, secrets, endpoints).
type Config struct {
	// AutoCapture: the gateway captures at authorization time, so a capture
	// requires a prior successful AUTH.
	AutoCapture bool
	// SupportsRefund is false for backends (e.g. manual payments) that cannot
	// return funds.
	SupportsRefund   bool
	ConnectionParams map[string]string
	// TemplatePath is a display/template reference for hosted-page gateways.
	TemplatePath string
}

// Response is the normalized shape every gateway call must return; the single
// contract point between orchestration and every plugin. RawResponse is the
// opaque backend payload and must be JSON-serializable.
type Response struct {
	IsSuccess     bool
	Kind          payment.Kind
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	Error         string
	RawResponse   map[string]any
}

// Operation names a gateway capability.
type Operation string

const (
	OpAuthorize      Operation = "authorize"
	OpProcessPayment Operation = "process_payment"
	OpCapture        Operation = "capture"
	OpVoid           Operation = "void"
	OpRefund         Operation = "refund"
	OpClientToken    Operation = "get_client_token"
)

// A gateway plugin implements whatever subset of the capability interfaces
// its backend supports. Invoking an unimplemented capability is a
// configuration error, signaled distinctly from a transaction failure.

type Authorizer interface {
	Authorize(ctx context.Context, data PaymentData, cfg Config) (*Response, error)
}

// PaymentProcessor performs authorize and capture in a single step.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, data PaymentData, cfg Config) (*Response, error)
}

type Capturer interface {
	Capture(ctx context.Context, data PaymentData, cfg Config) (*Response, error)
}

type Voider interface {
	Void(ctx context.Context, data PaymentData, cfg Config) (*Response, error)
}

type Refunder interface {
	Refund(ctx context.Context, data PaymentData, cfg Config) (*Response, error)
}

// ClientTokener issues a client-side tokenization identifier.
type ClientTokener interface {
	ClientToken(ctx context.Context, cfg Config) (string, error)
}

// Supports reports whether the plugin implements the given operation.
func Supports(plugin any, op Operation) bool {
	switch op {
	case OpAuthorize:
		_, ok := plugin.(Authorizer)
		return ok
	case OpProcessPayment:
		_, ok := plugin.(PaymentProcessor)
		return ok
	case OpCapture:
		_, ok := plugin.(Capturer)
		return ok
	case OpVoid:
		_, ok := plugin.(Voider)
		return ok
	case OpRefund:
		_, ok := plugin.(Refunder)
		return ok
	case OpClientToken:
		_, ok := plugin.(ClientTokener)
		return ok
	default:
		return false
	}
}
