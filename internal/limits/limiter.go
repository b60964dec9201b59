// Package limits enforces hard caps on position size.
//
// Two caps apply to every size increase:
//   - the asset's aggregate cap for the side (maxLongPositionSize or
//     maxShortPositionSize), summed over all traders
//   - an optional per-sub-account cap shared by all assets
//
// A zero cap disables that check.
package limits

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/model"
)

// PositionLimiter enforces position size caps.
type PositionLimiter struct {
	// MaxPerSubAccount is the largest size one sub-account may hold.
	MaxPerSubAccount decimal.Decimal
}

// NewPositionLimiter creates a limiter. Pass decimal.Zero to disable the
// per-sub-account cap.
func NewPositionLimiter(maxPerSubAccount decimal.Decimal) *PositionLimiter {
	if maxPerSubAccount.IsNegative() {
		maxPerSubAccount = decimal.Zero
	}
	return &PositionLimiter{MaxPerSubAccount: maxPerSubAccount}
}

// CheckLimit validates a size increase of delta on one side of asset a for a
// sub-account currently holding accountSize. Aggregates in a must not yet
// include delta.
func (l *PositionLimiter) CheckLimit(a model.Asset, isLong bool, accountSize, delta decimal.Decimal) error {
	side, total, limit := "short", a.TotalShortPosition, a.MaxShortPositionSize
	if isLong {
		side, total, limit = "long", a.TotalLongPosition, a.MaxLongPositionSize
	}

	// 1. Aggregate side cap.
	if limit.IsPositive() {
		if next := total.Add(delta); next.GreaterThan(limit) {
			return fmt.Errorf("%w: %s %s aggregate %s > %s", model.ErrPositionLimitExceeded, a.Symbol, side, next, limit)
		}
	}

	// 2. Per-sub-account cap.
	if l.MaxPerSubAccount.IsPositive() {
		if next := accountSize.Add(delta); next.GreaterThan(l.MaxPerSubAccount) {
			return fmt.Errorf("%w: sub-account size %s > %s", model.ErrPositionLimitExceeded, next, l.MaxPerSubAccount)
		}
	}
	return nil
}

// Headroom returns how much more size the side can take before hitting the
// aggregate cap. It returns (0, false) when the side is uncapped.
func Headroom(a model.Asset, isLong bool) (decimal.Decimal, bool) {
	total, limit := a.TotalShortPosition, a.MaxShortPositionSize
	if isLong {
		total, limit = a.TotalLongPosition, a.MaxLongPositionSize
	}
	if !limit.IsPositive() {
		return decimal.Zero, false
	}
	if total.GreaterThanOrEqual(limit) {
		return decimal.Zero, true
	}
	return limit.Sub(total), true
}
