package payment

import "context"

// Repository persists payments and their append-only ledger. There is no
// delete and no transaction update.
type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	// Get loads the payment together with its ledger, ordered by creation.
	Get(ctx context.Context, id string) (*Payment, error)
	// FindByToken locates the payment carrying the given gateway token.
	FindByToken(ctx context.Context, token string) (*Payment, error)
	// AppendTransaction records an attempt without touching the payment.
	// Used for failed operations, whose outcome never mutates the aggregate.
	AppendTransaction(ctx context.Context, txn *Transaction) error
	// AppendTransactionAndUpdate records the transaction and the mutated
	// payment as one atomic unit: either both persist or neither does.
	AppendTransactionAndUpdate(ctx context.Context, txn *Transaction, p *Payment) error
}
