package sned

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const lamportsDecimals = 9

var maxLamports = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)

// ParseSOL converts a decimal SOL amount such as "0.25" to lamports.
// Non-numeric, non-positive and sub-lamport amounts are a *ValidationError.
func ParseSOL(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, &ValidationError{Field: "amount", Message: "not a number: " + s}
	}
	if !d.IsPositive() {
		return 0, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	lamports := d.Shift(lamportsDecimals)
	if !lamports.Equal(lamports.Truncate(0)) {
		return 0, &ValidationError{Field: "amount", Message: "more precise than one lamport (9 decimals): " + s}
	}
	if lamports.GreaterThan(maxLamports) {
		return 0, &ValidationError{Field: "amount", Message: "too large: " + s}
	}
	return lamports.BigInt().Uint64(), nil
}

// LamportsToSOL returns lamports as an exact decimal SOL amount.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportsDecimals)
}
