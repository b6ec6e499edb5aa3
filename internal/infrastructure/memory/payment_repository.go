package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/payflow/internal/domain/payment"
)

// PaymentRepository is an in-memory Repository. Each call copies aggregates
// in and out, and the single mutex makes the transaction-plus-payment write
// atomic the same way the sql implementation does with a db transaction.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	ledgers  map[string][]*domain.Transaction
	byToken  map[string]string
	seq      int64
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*domain.Payment),
		ledgers:  make(map[string][]*domain.Transaction),
		byToken:  make(map[string]string),
	}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; exists {
		return domain.ErrConflict
	}
	r.payments[p.ID] = clonePayment(p)
	if p.Token != "" {
		r.byToken[p.Token] = p.ID
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loadLocked(id)
}

func (r *PaymentRepository) FindByToken(ctx context.Context, token string) (*domain.Payment, error) {
	_ = ctx
	if token == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.loadLocked(id)
}

func (r *PaymentRepository) AppendTransaction(ctx context.Context, txn *domain.Transaction) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.appendLocked(txn)
}

func (r *PaymentRepository) AppendTransactionAndUpdate(ctx context.Context, txn *domain.Transaction, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; !exists {
		return domain.ErrNotFound
	}
	if err := r.appendLocked(txn); err != nil {
		return err
	}
	r.payments[p.ID] = clonePayment(p)
	if p.Token != "" {
		r.byToken[p.Token] = p.ID
	}
	return nil
}

func (r *PaymentRepository) loadLocked(id string) (*domain.Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := clonePayment(p)
	ledger := r.ledgers[id]
	out.Transactions = make([]*domain.Transaction, len(ledger))
	for i, txn := range ledger {
		out.Transactions[i] = txn.Clone()
	}
	return out, nil
}

func (r *PaymentRepository) appendLocked(txn *domain.Transaction) error {
	if txn == nil || txn.PaymentID == "" {
		return fmt.Errorf("payment repository: transaction payment id is required")
	}
	if _, exists := r.payments[txn.PaymentID]; !exists {
		return domain.ErrNotFound
	}
	r.seq++
	stored := txn.Clone()
	stored.Seq = r.seq
	txn.Seq = r.seq
	r.ledgers[txn.PaymentID] = append(r.ledgers[txn.PaymentID], stored)
	return nil
}

func clonePayment(p *domain.Payment) *domain.Payment {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Transactions = nil
	return &clone
}
