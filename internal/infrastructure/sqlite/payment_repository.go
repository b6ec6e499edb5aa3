package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/payflow/internal/domain/money"
	domain "github.com/Zhima-Mochi/payflow/internal/domain/payment"
)

// PaymentRepository persists payments and their ledger in sqlite. The ledger
// table is append-only: rows are inserted, never updated, and the sequence
// column is the creation order used for "most recent" lookups.
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments
		 (id, gateway, is_active, charge_status, token, total, captured_amount, currency,
		  cc_first_digits, cc_last_digits, cc_brand, cc_exp_month, cc_exp_year,
		  customer_email, customer_ip, extra_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Gateway,
		boolToInt(p.IsActive),
		string(p.ChargeStatus),
		p.Token,
		p.Total.Amount.String(),
		p.CapturedAmount.Amount.String(),
		p.Total.Currency,
		p.CardFirstDigits,
		p.CardLastDigits,
		p.CardBrand,
		p.CardExpMonth,
		p.CardExpYear,
		p.CustomerEmail,
		p.CustomerIP,
		p.ExtraData,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, gateway, is_active, charge_status, token, total, captured_amount, currency,
		        cc_first_digits, cc_last_digits, cc_brand, cc_exp_month, cc_exp_year,
		        customer_email, customer_ip, extra_data, created_at, updated_at
		 FROM payments
		 WHERE id = ?`,
		id,
	)
	return r.scanPayment(ctx, row)
}

func (r *PaymentRepository) FindByToken(ctx context.Context, token string) (*domain.Payment, error) {
	if token == "" {
		return nil, domain.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, gateway, is_active, charge_status, token, total, captured_amount, currency,
		        cc_first_digits, cc_last_digits, cc_brand, cc_exp_month, cc_exp_year,
		        customer_email, customer_ip, extra_data, created_at, updated_at
		 FROM payments
		 WHERE token = ?`,
		token,
	)
	return r.scanPayment(ctx, row)
}

func (r *PaymentRepository) AppendTransaction(ctx context.Context, txn *domain.Transaction) error {
	return r.appendTx(ctx, r.db, txn)
}

func (r *PaymentRepository) AppendTransactionAndUpdate(ctx context.Context, txn *domain.Transaction, p *domain.Payment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.appendTx(ctx, tx, txn); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET is_active = ?, charge_status = ?, token = ?, captured_amount = ?, extra_data = ?, updated_at = ?
		 WHERE id = ?`,
		boolToInt(p.IsActive),
		string(p.ChargeStatus),
		p.Token,
		p.CapturedAmount.Amount.String(),
		p.ExtraData,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PaymentRepository) appendTx(ctx context.Context, db execer, txn *domain.Transaction) error {
	raw := txn.GatewayResponse
	if raw == nil {
		raw = []byte("{}")
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO payment_transactions
		 (id, payment_id, kind, is_success, token, amount, currency, error, gateway_response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.PaymentID,
		string(txn.Kind),
		boolToInt(txn.IsSuccess),
		txn.Token,
		txn.Amount.Amount.String(),
		txn.Amount.Currency,
		txn.Error,
		raw,
		txn.CreatedAt,
	)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	txn.Seq = seq
	return nil
}

func (r *PaymentRepository) scanPayment(ctx context.Context, row *sql.Row) (*domain.Payment, error) {
	var (
		p         domain.Payment
		isActive  int
		status    string
		total     string
		captured  string
		currency  string
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(
		&p.ID,
		&p.Gateway,
		&isActive,
		&status,
		&p.Token,
		&total,
		&captured,
		&currency,
		&p.CardFirstDigits,
		&p.CardLastDigits,
		&p.CardBrand,
		&p.CardExpMonth,
		&p.CardExpYear,
		&p.CustomerEmail,
		&p.CustomerIP,
		&p.ExtraData,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	totalAmount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, err
	}
	capturedAmount, err := decimal.NewFromString(captured)
	if err != nil {
		return nil, err
	}

	p.IsActive = isActive == 1
	p.ChargeStatus = domain.ChargeStatus(status)
	p.Total = money.New(totalAmount, currency)
	p.CapturedAmount = money.New(capturedAmount, currency)
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt

	txns, err := r.loadLedger(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Transactions = txns

	return &p, nil
}

func (r *PaymentRepository) loadLedger(ctx context.Context, paymentID string) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, id, payment_id, kind, is_success, token, amount, currency, error, gateway_response, created_at
		 FROM payment_transactions
		 WHERE payment_id = ?
		 ORDER BY seq`,
		paymentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var (
			txn       domain.Transaction
			kind      string
			isSuccess int
			amount    string
			currency  string
		)
		if err := rows.Scan(
			&txn.Seq,
			&txn.ID,
			&txn.PaymentID,
			&kind,
			&isSuccess,
			&txn.Token,
			&amount,
			&currency,
			&txn.Error,
			&txn.GatewayResponse,
			&txn.CreatedAt,
		); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}
		txn.Kind = domain.Kind(kind)
		txn.IsSuccess = isSuccess == 1
		txn.Amount = money.New(d, currency)
		out = append(out, &txn)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
