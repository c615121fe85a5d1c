package ethunit

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the minor-unit exponent of the chain's gas token.
const NativeDecimals = 18

// Pow10 returns 10^n as a fresh big.Int. n must be >= 0.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ParseUnits converts a human decimal amount ("12.5") into minor units of a
// token with the given decimals. Amounts with more fractional digits than the
// token carries are rejected rather than silently truncated, as are negative
// amounts.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return shifted.BigInt(), nil
}

// FormatUnits renders minor units as a human decimal string with trailing
// zeros trimmed ("12500000" at 6 decimals -> "12.5").
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// FormatWei renders a native-token amount held in wei.
func FormatWei(amount *big.Int) string {
	return FormatUnits(amount, NativeDecimals)
}

// FloorToWhole drops the sub-unit remainder of a minor-unit amount, leaving a
// multiple of one whole token. Returns a fresh value; nil is treated as zero.
func FloorToWhole(amount *big.Int, decimals int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	unit := Pow10(decimals)
	rem := new(big.Int).Mod(amount, unit)
	return new(big.Int).Sub(amount, rem)
}

// ParseAddress parses a 0x-prefixed 20-byte hex address, rejecting anything
// common.HexToAddress would quietly coerce.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
