package token

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ParseUnits converts a human readable amount such as "0.5" into base units
// of a token with the given number of decimals. Amounts with more fractional
// digits than decimals are rejected rather than truncated.
func ParseUnits(value string, decimals uint8) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("token: amount required")
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("token: invalid amount %q: %w", value, err)
	}
	if parsed.IsNegative() {
		return nil, fmt.Errorf("token: amount %q must not be negative", value)
	}
	scaled := parsed.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("token: amount %q has more than %d decimal places", value, decimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("token: amount %q exceeds 256 bits", value)
	}
	return out, nil
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}
