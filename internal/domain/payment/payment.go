package payment

import (
	"encoding/json"
	"time"

	"github.com/Zhima-Mochi/payflow/internal/domain/money"
)

type ChargeStatus string

const (
	ChargeStatusNotCharged        ChargeStatus = "not-charged"
	ChargeStatusPartiallyCharged  ChargeStatus = "partially-charged"
	ChargeStatusFullyCharged      ChargeStatus = "fully-charged"
	ChargeStatusPartiallyRefunded ChargeStatus = "partially-refunded"
	ChargeStatusFullyRefunded     ChargeStatus = "fully-refunded"
)

// Payment is the aggregate root of a single payment. All process-level detail
// lives gateway-side; we hold the reusable token that correlates this payment
// to the gateway's state, plus fields derived from the transaction ledger.
//
// Payments are never deleted and mutate only through the orchestration
// layer's post-processing, so the cached fields stay consistent with the
// ledger (see RecomputeFromLedger).
type Payment struct {
	ID string
	// Gateway names the backend in use. Fixed after creation.
	Gateway string
	// IsActive is false once the payment is closed to further operations
	// (voided or fully refunded).
	IsActive     bool
	ChargeStatus ChargeStatus
	// Token is the gateway-assigned reference, empty until the gateway
	// creates one.
	Token string
	// Total is fixed at creation and never changes.
	Total money.Money
	// CapturedAmount stays within [0, Total] at all times.
	CapturedAmount money.Money

	CardFirstDigits string
	CardLastDigits  string
	CardBrand       string
	CardExpMonth    int
	CardExpYear     int

	CustomerEmail string
	CustomerIP    string

	// ExtraData is the serialized metadata blob. An empty map serializes to
	// the empty string.
	ExtraData string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Transactions is the ordered, append-only ledger, loaded by the
	// repository with the payment.
	Transactions []*Transaction
}

func New(id, gatewayName string, total money.Money, customerEmail string) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:             id,
		Gateway:        gatewayName,
		IsActive:       true,
		ChargeStatus:   ChargeStatusNotCharged,
		Total:          total,
		CapturedAmount: money.Zero(total.Currency),
		CustomerEmail:  customerEmail,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (p *Payment) Clone() *Payment {
	clone := *p
	clone.Transactions = make([]*Transaction, len(p.Transactions))
	for i, txn := range p.Transactions {
		clone.Transactions[i] = txn.Clone()
	}
	return &clone
}

// LastTransaction returns the newest ledger entry, or nil for a fresh payment.
func (p *Payment) LastTransaction() *Transaction {
	if len(p.Transactions) == 0 {
		return nil
	}
	return p.Transactions[len(p.Transactions)-1]
}

// LastSuccessful returns the most recent successful transaction of the given
// kind, meaning the one with the highest creation order, or nil.
func (p *Payment) LastSuccessful(kind Kind) *Transaction {
	for i := len(p.Transactions) - 1; i >= 0; i-- {
		if txn := p.Transactions[i]; txn.Kind == kind && txn.IsSuccess {
			return txn
		}
	}
	return nil
}

// IsAuthorized reports whether any successful AUTH transaction exists.
func (p *Payment) IsAuthorized() bool {
	return p.LastSuccessful(KindAuth) != nil
}

func (p *Payment) NotCharged() bool {
	return p.ChargeStatus == ChargeStatusNotCharged
}

// AuthorizedAmount sums the successful AUTH transactions. Once any capture
// succeeded there is no authorized amount anymore, since capture can only be
// made once even when partial.
func (p *Payment) AuthorizedAmount() money.Money {
	total := money.Zero(p.Total.Currency)
	if p.LastSuccessful(KindCapture) != nil {
		return total
	}
	for _, txn := range p.Transactions {
		if txn.Kind != KindAuth || !txn.IsSuccess {
			continue
		}
		// A mismatched-currency amount cannot enter the ledger through the
		// orchestration preconditions; if one appears it is skipped, not summed.
		if sum, err := total.Add(txn.Amount); err == nil {
			total = sum
		}
	}
	return total
}

// ChargeAmount is the maximum capture still possible: total minus captured.
func (p *Payment) ChargeAmount() money.Money {
	out, _ := p.Total.Sub(p.CapturedAmount)
	return out
}

func (p *Payment) CanAuthorize() bool {
	return p.IsActive && p.NotCharged()
}

func (p *Payment) CanCapture() bool {
	return p.IsActive && p.NotCharged()
}

func (p *Payment) CanVoid() bool {
	return p.IsActive && p.NotCharged() && p.IsAuthorized()
}

// CanRefund reports whether a refund is possible; supportsRefund is the
// gateway capability flag from configuration.
func (p *Payment) CanRefund(supportsRefund bool) bool {
	switch p.ChargeStatus {
	case ChargeStatusPartiallyCharged, ChargeStatusFullyCharged, ChargeStatusPartiallyRefunded:
		return p.IsActive && supportsRefund
	default:
		return false
	}
}

// Metadata decodes the extra-data blob. The empty string decodes to an empty
// map, keeping the round-trip invariant with SetMetadata.
func (p *Payment) Metadata() (map[string]string, error) {
	if p.ExtraData == "" {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(p.ExtraData), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Payment) SetMetadata(md map[string]string) error {
	if len(md) == 0 {
		p.ExtraData = ""
		return nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	p.ExtraData = string(b)
	return nil
}

// RecordCaptured applies a successful capture of amount to the cached fields.
func (p *Payment) RecordCaptured(amount money.Money) error {
	captured, err := p.CapturedAmount.Add(amount)
	if err != nil {
		return err
	}
	p.CapturedAmount = captured
	if p.ChargeAmount().IsNonPositive() {
		p.ChargeStatus = ChargeStatusFullyCharged
	} else {
		p.ChargeStatus = ChargeStatusPartiallyCharged
	}
	p.touch()
	return nil
}

// RecordRefunded applies a successful refund of amount. Reaching zero closes
// the payment.
func (p *Payment) RecordRefunded(amount money.Money) error {
	captured, err := p.CapturedAmount.Sub(amount)
	if err != nil {
		return err
	}
	p.CapturedAmount = captured
	p.ChargeStatus = ChargeStatusPartiallyRefunded
	if captured.IsNonPositive() {
		p.ChargeStatus = ChargeStatusFullyRefunded
		p.IsActive = false
	}
	p.touch()
	return nil
}

// RecordVoided closes the payment after a successful void.
func (p *Payment) RecordVoided() {
	p.IsActive = false
	p.touch()
}

// RecomputeFromLedger rederives the cached fields from the ordered successful
// transactions. The cached values must always match this derivation; tests
// use it as the consistency oracle.
func (p *Payment) RecomputeFromLedger() {
	captured := money.Zero(p.Total.Currency)
	status := ChargeStatusNotCharged
	active := true

	for _, txn := range p.Transactions {
		if !txn.IsSuccess {
			continue
		}
		switch txn.Kind {
		case KindCapture:
			captured, _ = captured.Add(txn.Amount)
			if outstanding, _ := p.Total.Sub(captured); outstanding.IsNonPositive() {
				status = ChargeStatusFullyCharged
			} else {
				status = ChargeStatusPartiallyCharged
			}
		case KindRefund:
			captured, _ = captured.Sub(txn.Amount)
			status = ChargeStatusPartiallyRefunded
			if captured.IsNonPositive() {
				status = ChargeStatusFullyRefunded
				active = false
			}
		case KindVoid:
			active = false
		}
	}

	p.CapturedAmount = captured
	p.ChargeStatus = status
	p.IsActive = active
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}
