package payment

import "github.com/Zhima-Mochi/payflow/internal/domain/money"

// Lifecycle events published after a successful operation has been committed.

type AuthorizedEvent struct {
	PaymentID     string
	TransactionID string
}

func (AuthorizedEvent) EventName() string { return "payment.authorized" }

type CapturedEvent struct {
	PaymentID     string
	TransactionID string
	Amount        money.Money
}

func (CapturedEvent) EventName() string { return "payment.captured" }

type RefundedEvent struct {
	PaymentID     string
	TransactionID string
	Amount        money.Money
}

func (RefundedEvent) EventName() string { return "payment.refunded" }

type VoidedEvent struct {
	PaymentID     string
	TransactionID string
}

func (VoidedEvent) EventName() string { return "payment.voided" }

type ProcessedEvent struct {
	PaymentID     string
	TransactionID string
	Amount        money.Money
}

func (ProcessedEvent) EventName() string { return "payment.processed" }
