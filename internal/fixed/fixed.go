// Package fixed implements the 18-decimal fixed-point arithmetic used by
// every ledger quantity, and the conversions between that representation and
// raw native token amounts.
//
// All monetary values use shopspring/decimal, never float64 for money.
// Multiplication and division truncate toward zero at 18 places so results
// are reproducible regardless of intermediate precision.
package fixed

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// Decimals is the number of fractional digits kept by the ledger.
	Decimals int32 = 18

	// RateDecimals is the precision of fee-curve rates (1e-5).
	RateDecimals int32 = 5

	// MaxTokenDecimals is the largest native decimal count a token may have.
	MaxTokenDecimals uint8 = 18
)

var (
	// ErrNegative is returned when a negative quantity crosses the token boundary.
	ErrNegative = errors.New("fixed: negative amount")

	// ErrOverflow is returned when a quantity does not fit into 256 bits.
	ErrOverflow = errors.New("fixed: amount overflows uint256")

	// ErrDecimals is returned for tokens with more than 18 decimals.
	ErrDecimals = errors.New("fixed: token decimals exceed 18")


	// Zero and One are shared constants.
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// Mul returns a*b truncated to 18 decimals.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Decimals)
}

// Div returns a/b truncated to 18 decimals. Division by zero yields zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	q, _ := a.QuoRem(b, Decimals)
	return q
}

// MulDiv returns a*b/c truncated to 18 decimals without truncating the
// intermediate product.
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	if c.IsZero() {
		return decimal.Zero
	}
	q, _ := a.Mul(b).QuoRem(c, Decimals)
	return q
}

// RateMulDiv returns a*b/c truncated to rate precision (5 decimals).
func RateMulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	if c.IsZero() {
		return decimal.Zero
	}
	q, _ := a.Mul(b).QuoRem(c, RateDecimals)
	return q
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Normalize truncates an externally supplied value to ledger precision.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Decimals)
}

// ToWad converts a raw native amount with the given decimals into the
// 18-decimal ledger representation. The conversion is exact.
func ToWad(raw *uint256.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw.ToBig(), -int32(decimals))
}

// FromWad converts a ledger quantity back into raw native units, truncating
// any precision finer than the token supports.
func FromWad(wad decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	if decimals > MaxTokenDecimals {
		return nil, ErrDecimals
	}
	if wad.IsNegative() {
		return nil, ErrNegative
	}
	b := wad.Shift(int32(decimals)).Truncate(0).BigInt()
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrOverflow
	}
	return u, nil
}

// TruncateToToken drops ledger precision the token cannot represent, so the
// returned quantity converts to raw units without loss.
func TruncateToToken(wad decimal.Decimal, decimals uint8) decimal.Decimal {
	return wad.Truncate(int32(decimals))
}

// ParseRaw parses a base-10 raw token amount.
func ParseRaw(s string) (*uint256.Int, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("fixed: invalid integer amount " + s)
	}
	if b.Sign() < 0 {
		return nil, ErrNegative
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrOverflow
	}
	return u, nil
}
