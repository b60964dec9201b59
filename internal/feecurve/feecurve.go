// Package feecurve prices add/remove-liquidity actions by how far an asset's
// pool value sits from its target share of total pool value.
//
// With oldDiff = |current - target| and newDiff = |after - target|:
//
//   - a trade that moves toward the target (newDiff < oldDiff) earns a rebate
//     rebate = min(dynamic * oldDiff / target, dynamic), fee = max(base - rebate, 0)
//   - any other trade pays the average deviation across the trade
//     fee = base + dynamic * min((oldDiff + newDiff) / 2, target) / target
//
// The dynamic term is truncated to rate precision (1e-5), so the fee always
// lies in [base - dynamic, base + dynamic].
//
// All values use shopspring/decimal, never float64 for money.
package feecurve

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
)

var (
	// ErrInvalidRates is returned for a negative base or dynamic rate.
	ErrInvalidRates = errors.New("feecurve: rates must be non-negative")

	// ErrInvalidValue is returned for negative pool values.
	ErrInvalidValue = errors.New("feecurve: values must be non-negative")

	// ErrRemoveExceedsValue is returned when a removal is larger than the
	// asset's current value.
	ErrRemoveExceedsValue = errors.New("feecurve: removal exceeds current value")
)

// Curve holds the base and dynamic fee rates. It is stateless; pool values
// are passed as arguments.
type Curve struct {
	base    decimal.Decimal
	dynamic decimal.Decimal
}

// New creates a fee curve.
func New(base, dynamic decimal.Decimal) (*Curve, error) {
	if base.IsNegative() || dynamic.IsNegative() {
		return nil, ErrInvalidRates
	}
	return &Curve{base: base, dynamic: dynamic}, nil
}

// Base returns the base rate.
func (c *Curve) Base() decimal.Decimal { return c.base }

// Dynamic returns the dynamic rate.
func (c *Curve) Dynamic() decimal.Decimal { return c.dynamic }

// Rate returns the fee rate for adding (isAdd) or removing delta of value
// from an asset currently worth current whose target value is target.
func (c *Curve) Rate(current, target, delta decimal.Decimal, isAdd bool) (decimal.Decimal, error) {
	if current.IsNegative() || target.IsNegative() || delta.IsNegative() {
		return decimal.Zero, ErrInvalidValue
	}
	after := current.Add(delta)
	if !isAdd {
		if delta.GreaterThan(current) {
			return decimal.Zero, ErrRemoveExceedsValue
		}
		after = current.Sub(delta)
	}
	if target.IsZero() {
		return c.base, nil
	}

	oldDiff := current.Sub(target).Abs()
	newDiff := after.Sub(target).Abs()

	if newDiff.LessThan(oldDiff) {
		rebate := fixed.Min(fixed.RateMulDiv(c.dynamic, oldDiff, target), c.dynamic)
		return fixed.Max(c.base.Sub(rebate), decimal.Zero), nil
	}

	avg := fixed.Min(oldDiff.Add(newDiff).Div(decimal.NewFromInt(2)), target)
	return c.base.Add(fixed.RateMulDiv(c.dynamic, avg, target)), nil
}

// Fee returns amount * rate truncated to ledger precision.
func Fee(amount, rate decimal.Decimal) decimal.Decimal {
	return fixed.Mul(amount, rate)
}

// TargetValue returns an asset's target value: its spot weight's share of
// the total pool value.
func TargetValue(poolValue, spotWeight, totalWeight decimal.Decimal) decimal.Decimal {
	if totalWeight.IsZero() {
		return decimal.Zero
	}
	return fixed.MulDiv(poolValue, spotWeight, totalWeight)
}
