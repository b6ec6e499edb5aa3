package payment

import (
	"time"

	"github.com/Zhima-Mochi/payflow/internal/domain/money"
)

// Kind identifies the payment operation a transaction records.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindCapture        Kind = "capture"
	KindVoid           Kind = "void"
	KindRefund         Kind = "refund"
	KindRegister       Kind = "register"
	KindProcessPayment Kind = "process_payment"
)

var knownKinds = map[Kind]struct{}{
	KindAuth:           {},
	KindCapture:        {},
	KindVoid:           {},
	KindRefund:         {},
	KindRegister:       {},
	KindProcessPayment: {},
}

// KnownKind reports whether k is a recognized transaction kind. Gateway
// responses carrying any other kind are rejected before they reach the ledger.
func KnownKind(k Kind) bool {
	_, ok := knownKinds[k]
	return ok
}

// Transaction is a single attempt to move money between the store and a
// customer. Transactions are write-once: the repository offers no update, and
// the payment's derived fields are always recomputable from the ordered set
// of successful transactions.
type Transaction struct {
	ID        string
	PaymentID string
	Kind      Kind
	IsSuccess bool
	// Token is the gateway-side reference at the time of this operation.
	Token  string
	Amount money.Money
	// Error holds the gateway or validation message when IsSuccess is false.
	Error string
	// GatewayResponse is the raw backend payload kept for audit, JSON-encoded.
	GatewayResponse []byte
	// Seq is the creation order within the owning payment, assigned by the
	// repository. "Most recent" always means highest Seq.
	Seq       int64
	CreatedAt time.Time
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	clone.GatewayResponse = append([]byte(nil), t.GatewayResponse...)
	return &clone
}
