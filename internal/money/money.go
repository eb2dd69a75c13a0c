// Package money wraps shopspring/decimal for ledger arithmetic. Amounts are
// fixed-point with two decimal places; floating point never touches a balance.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
)

// Scale is the number of decimal places kept for every stored amount.
const Scale = 2

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "IDR"

var hundred = decimal.NewFromInt(100)

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse reads a decimal string and rejects anything with more precision than Scale.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", common.ErrInvalidAmount, s)
	}
	if !d.Equal(d.Round(Scale)) {
		return decimal.Zero, fmt.Errorf("%w: %q has more than %d decimals", common.ErrInvalidAmount, s, Scale)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Positive returns ErrInvalidAmount unless amount > 0.
func Positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", common.ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Round(Scale)) {
		return fmt.Errorf("%w: %s has more than %d decimals", common.ErrInvalidAmount, amount.String(), Scale)
	}
	return nil
}

// Percent returns pct% of amount, rounded half-up to Scale.
func Percent(amount decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(Scale)
}

// Share splits amount into n parts and returns one part rounded down, so that
// n-1 shares never exceed the total. The caller captures the remainder last.
func Share(amount decimal.Decimal, n int) decimal.Decimal {
	if n <= 1 {
		return amount
	}
	return amount.Div(decimal.NewFromInt(int64(n))).RoundDown(Scale)
}
