// Package funding implements the per-asset funding indices.
//
// Funding accrues per discrete period, not continuously. A broker supplies
// each asset's long and short utilization u in [0, 1]; the rate curve is
//
//	rate(u) = max(base, limit * u)
//
// so rate(0) = base, rate(1) = limit and the curve never decreases in u.
// Rates are quoted on an 8-hour basis and scaled linearly by the whole span
// since the last update (no compounding across skipped periods):
//
//	accrued = rate(u) * span / 8h
//
// The long index accrues the dimensionless rate. The short index accrues
// rate*price, so it is already denominated in the price unit and is used
// directly at settlement.
package funding

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/model"
)

// RateBasis is the period the base/limit rates are quoted over.
const RateBasis = 8 * time.Hour

// DefaultInterval is the default funding period.
const DefaultInterval = 8 * time.Hour

var (
	// ErrInvalidUtilization is returned for utilization outside [0, 1].
	ErrInvalidUtilization = errors.New("funding: utilization must be within [0, 1]")

	// ErrInvalidInterval is returned for a non-positive funding interval.
	ErrInvalidInterval = errors.New("funding: interval must be positive")

	// ErrInvalidRates is returned when base > limit or a rate is negative.
	ErrInvalidRates = errors.New("funding: rates must satisfy 0 <= base <= limit")
)

// Rate returns the 8-hour funding rate at utilization u.
func Rate(base, limit, u decimal.Decimal) (decimal.Decimal, error) {
	if u.IsNegative() || u.GreaterThan(fixed.One) {
		return decimal.Zero, ErrInvalidUtilization
	}
	return fixed.Max(base, fixed.Mul(limit, u)), nil
}

// ValidateRates checks a base/limit pair.
func ValidateRates(base, limit decimal.Decimal) error {
	if base.IsNegative() || limit.LessThan(base) {
		return ErrInvalidRates
	}
	return nil
}

// Accrued scales an 8-hour rate to span.
func Accrued(rate decimal.Decimal, span time.Duration) decimal.Decimal {
	return fixed.MulDiv(rate, decimal.NewFromInt(int64(span/time.Second)), decimal.NewFromInt(int64(RateBasis/time.Second)))
}

// Boundary returns the last period boundary at or before now.
func Boundary(now time.Time, interval time.Duration) time.Time {
	sec := int64(interval / time.Second)
	if sec <= 0 {
		return now.UTC()
	}
	unix := now.Unix()
	return time.Unix(unix-unix%sec, 0).UTC()
}

// Step describes what an update at now should do.
type Step struct {
	// Initialize is set on the very first update: the boundary is recorded
	// and nothing accrues.
	Initialize bool
	// Span is the time to accrue over; zero means nothing to do.
	Span time.Duration
	// Boundary is the new last funding time.
	Boundary time.Time
}

// NextStep computes the funding step from the last recorded boundary.
// Partial periods are not accrued until a later call crosses a boundary.
func NextStep(last, now time.Time, interval time.Duration) (Step, error) {
	if interval <= 0 {
		return Step{}, ErrInvalidInterval
	}
	b := Boundary(now, interval)
	if last.IsZero() {
		return Step{Initialize: true, Boundary: b}, nil
	}
	if !b.After(last) {
		return Step{Boundary: last}, nil
	}
	return Step{Span: b.Sub(last), Boundary: b}, nil
}

// Input is one asset's broker-supplied funding observation.
type Input struct {
	AssetID          uint8           `json:"asset_id"`
	LongUtilization  decimal.Decimal `json:"long_utilization"`
	ShortUtilization decimal.Decimal `json:"short_utilization"`
	Price            decimal.Decimal `json:"price"`
}

// Accrual is the result of applying one step to one asset.
type Accrual struct {
	LongRate     decimal.Decimal
	ShortRate    decimal.Decimal
	LongAccrued  decimal.Decimal
	ShortAccrued decimal.Decimal
}

// Apply advances an asset's indices by span.
func Apply(a model.Asset, in Input, span time.Duration) (model.Asset, Accrual, error) {
	var acc Accrual
	var err error
	if acc.LongRate, err = Rate(a.LongFundingBaseRate8H, a.LongFundingLimitRate8H, in.LongUtilization); err != nil {
		return a, acc, err
	}
	if acc.ShortRate, err = Rate(a.ShortFundingBaseRate8H, a.ShortFundingLimitRate8H, in.ShortUtilization); err != nil {
		return a, acc, err
	}
	acc.LongAccrued = Accrued(acc.LongRate, span)
	acc.ShortAccrued = Accrued(acc.ShortRate, span)

	a.LongCumulativeFundingRate = a.LongCumulativeFundingRate.Add(acc.LongAccrued)
	a.ShortCumulativeFunding = a.ShortCumulativeFunding.Add(fixed.Mul(acc.ShortAccrued, in.Price))
	return a, acc, nil
}

// Index returns the index a position on the given side snapshots.
func Index(a model.Asset, isLong bool) decimal.Decimal {
	if isLong {
		return a.LongCumulativeFundingRate
	}
	return a.ShortCumulativeFunding
}

// Fee returns the funding owed by a position since its entry snapshot, in
// the price unit. Longs pay (index - entry) * price * size; shorts pay
// (index - entry) * size since their index is price-denominated.
func Fee(a model.Asset, sa model.SubAccount, isLong bool, price decimal.Decimal) decimal.Decimal {
	if sa.Size.IsZero() {
		return decimal.Zero
	}
	delta := Index(a, isLong).Sub(sa.EntryFunding)
	if !delta.IsPositive() {
		return decimal.Zero
	}
	if isLong {
		return fixed.Mul(fixed.Mul(delta, price), sa.Size)
	}
	return fixed.Mul(delta, sa.Size)
}
