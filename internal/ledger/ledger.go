// Package ledger provides the balance and transfer primitives the raffle
// settles against. Every Transfer is atomic: either both legs apply or none.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of one unit (GAS style).
const Decimals = 8

// Errors
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRejected            = errors.New("account rejects incoming funds")
	ErrInvalidAccount      = errors.New("invalid account")
)

// Ledger moves funds between accounts.
type Ledger interface {
	// Balance returns the balance of account in base units. Unknown accounts hold zero.
	Balance(ctx context.Context, account string) (int64, error)
	// Transfer moves amount base units from one account to another atomically.
	Transfer(ctx context.Context, from, to string, amount int64) error
}

// ParseAmount converts a decimal string ("0.01") into base units.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	scaled := d.Mul(decimal.New(1, Decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, Decimals)
	}
	units := scaled.BigInt()
	if !units.IsInt64() {
		return 0, fmt.Errorf("%w: %q exceeds the maximum amount", ErrInvalidAmount, s)
	}
	return units.Int64(), nil
}

// FormatAmount renders base units as a decimal string.
func FormatAmount(units int64) string {
	return decimal.New(units, -Decimals).String()
}

func validateTransfer(from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return ErrInvalidAccount
	}
	return nil
}
