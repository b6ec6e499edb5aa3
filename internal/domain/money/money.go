package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Money is an amount in a single currency. Amounts are decimals, not floats,
// so partial captures and refunds never accumulate rounding drift.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// FromMajor builds Money from whole units, e.g. FromMajor(80, "USD") is 80 USD.
func FromMajor(units int64, currency string) Money {
	return Money{Amount: decimal.NewFromInt(units), Currency: currency}
}

func FromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse amount %q: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsZero() bool     { return m.Amount.IsZero() }

// IsNonPositive reports amount <= 0.
func (m Money) IsNonPositive() bool { return !m.Amount.IsPositive() }

func (m Money) GreaterThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount.GreaterThan(other.Amount)
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.String(), m.Currency)
}
