// Package money provides parsing and formatting of decimal prices in
// contract minor units.
//
// The escrow contract denominates prices in minor units with 2 decimal
// places (1.00 in the ledger = 100 units in the contract). Conversion
// happens exactly once, at order creation; the snapshot is never
// recomputed afterwards.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// ToMinor converts a decimal string (e.g. "1.50") to its minor-unit
// big.Int representation (150). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func ToMinor(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// FromMinor converts a minor-unit big.Int to a decimal string with
// exactly 2 decimal places (e.g. "1.50").
func FromMinor(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// LineTotal returns unitPrice × quantity in minor units. unitPrice is a
// decimal string; invalid prices return (nil, false).
func LineTotal(unitPrice string, quantity int64) (*big.Int, bool) {
	unit, ok := ToMinor(unitPrice)
	if !ok {
		return nil, false
	}
	return new(big.Int).Mul(unit, big.NewInt(quantity)), true
}
