// Package position implements the position and margin engine: opening and
// closing positions against the asset ledger, funding and fee settlement,
// margin safety, liquidation, and collateral movements.
//
// Every operation runs against a ledger.Tx; the caller commits or discards.
// Prices are supplied by the caller and trusted.
package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/funding"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/limits"
	"github.com/atmx/liquidity-pool/internal/model"
)

// Engine applies position operations. It holds no state of its own.
type Engine struct {
	limiter *limits.PositionLimiter
}

// NewEngine creates a position engine. A nil limiter enforces only the
// per-asset aggregate caps.
func NewEngine(limiter *limits.PositionLimiter) *Engine {
	if limiter == nil {
		limiter = limits.NewPositionLimiter(decimal.Zero)
	}
	return &Engine{limiter: limiter}
}

// Fill carries the broker-supplied inputs of a position fill.
type Fill struct {
	Size             decimal.Decimal
	Price            decimal.Decimal // exposure asset index price
	CollateralPrice  decimal.Decimal
	ProfitAssetID    uint8
	ProfitAssetPrice decimal.Decimal
	OrderID          uint64
}

func (f Fill) validatePrices() error {
	if !f.Price.IsPositive() || !f.CollateralPrice.IsPositive() {
		return fmt.Errorf("%w: price %s collateral price %s", model.ErrInvalidPrice, f.Price, f.CollateralPrice)
	}
	return nil
}

// Result summarizes a size-changing operation.
type Result struct {
	FillPrice decimal.Decimal // index price after half-spread
	HasProfit bool
	PnlUsd    decimal.Decimal
	FeeUsd    decimal.Decimal
	Payout    decimal.Decimal // profit paid in the profit asset
	Debt      decimal.Decimal // profit minted as debt tokens
	Returned  decimal.Decimal // collateral returned to the trader
}

// --- price helpers ---

// OpenPrice applies the half-spread against the trader on open.
func OpenPrice(price, halfSpread decimal.Decimal, isLong bool) decimal.Decimal {
	if isLong {
		return fixed.Mul(price, fixed.One.Add(halfSpread))
	}
	return fixed.Mul(price, fixed.One.Sub(halfSpread))
}

// ClosePrice applies the half-spread against the trader on close.
func ClosePrice(price, halfSpread decimal.Decimal, isLong bool) decimal.Decimal {
	return OpenPrice(price, halfSpread, !isLong)
}

// --- pnl and margin ---

// Pnl returns the unrealized PnL in the price unit of closing amount of the
// position at price. Profit taken within minProfitTime of the last size
// increase that moved less than entryPrice*minProfitRate counts as zero;
// minProfitApplied reports that case.
func Pnl(a model.Asset, sa model.SubAccount, isLong bool, amount, price decimal.Decimal, now time.Time) (hasProfit bool, pnl decimal.Decimal, minProfitApplied bool) {
	if amount.IsZero() || sa.Size.IsZero() {
		return false, decimal.Zero, false
	}
	delta := price.Sub(sa.EntryPrice)
	if isLong {
		hasProfit = delta.IsPositive()
	} else {
		hasProfit = delta.IsNegative()
	}
	delta = delta.Abs()

	if hasProfit && a.MinProfitTime > 0 &&
		now.Before(sa.LastIncreasedTime.Add(a.MinProfitTime)) &&
		delta.LessThan(fixed.Mul(sa.EntryPrice, a.MinProfitRate)) {
		return false, decimal.Zero, true
	}
	return hasProfit, fixed.Mul(delta, amount), false
}

// Margin is a point-in-time margin evaluation of a sub-account.
type Margin struct {
	CollateralUsd       decimal.Decimal `json:"collateral_usd"`
	HasProfit           bool            `json:"has_profit"`
	PnlUsd              decimal.Decimal `json:"pnl_usd"`
	FundingFeeUsd       decimal.Decimal `json:"funding_fee_usd"`
	InitialRequired     decimal.Decimal `json:"initial_required"`
	MaintenanceRequired decimal.Decimal `json:"maintenance_required"`
	InitialSafe         bool            `json:"initial_safe"`
	MaintenanceSafe     bool            `json:"maintenance_safe"`
}

// Evaluate computes the margin state of sa at the given prices.
func Evaluate(a model.Asset, sa model.SubAccount, isLong bool, collateralPrice, price decimal.Decimal, now time.Time) Margin {
	hasProfit, pnl, _ := Pnl(a, sa, isLong, sa.Size, price, now)
	fee := funding.Fee(a, sa, isLong, price)
	m := Margin{
		CollateralUsd:       fixed.Mul(sa.Collateral, collateralPrice),
		HasProfit:           hasProfit,
		PnlUsd:              pnl,
		FundingFeeUsd:       fee,
		InitialRequired:     required(sa, price, a.InitialMarginRate, fee),
		MaintenanceRequired: required(sa, price, a.MaintenanceMarginRate, fee),
	}
	m.InitialSafe = covers(m.CollateralUsd, hasProfit, pnl, m.InitialRequired)
	m.MaintenanceSafe = covers(m.CollateralUsd, hasProfit, pnl, m.MaintenanceRequired)
	return m
}

// IsSafe reports whether collateral*collateralPrice +/- pnl covers
// size*price*rate plus pending funding.
func IsSafe(a model.Asset, sa model.SubAccount, isLong bool, collateralPrice, price, rate decimal.Decimal, now time.Time) bool {
	hasProfit, pnl, _ := Pnl(a, sa, isLong, sa.Size, price, now)
	fee := funding.Fee(a, sa, isLong, price)
	return covers(fixed.Mul(sa.Collateral, collateralPrice), hasProfit, pnl, required(sa, price, rate, fee))
}

func required(sa model.SubAccount, price, rate, fundingFee decimal.Decimal) decimal.Decimal {
	return fixed.Mul(fixed.Mul(sa.Size, price), rate).Add(fundingFee)
}

func covers(collateralUsd decimal.Decimal, hasProfit bool, pnl, threshold decimal.Decimal) bool {
	if hasProfit {
		return collateralUsd.Add(pnl).GreaterThanOrEqual(threshold)
	}
	return collateralUsd.GreaterThanOrEqual(threshold.Add(pnl))
}

// --- shared plumbing ---

// slot is the loaded view of one sub-account and its two assets.
type slot struct {
	id         model.SubAccountID
	sa         model.SubAccount
	collateral model.Asset
	asset      model.Asset
}

func load(tx *ledger.Tx, id model.SubAccountID) (slot, error) {
	coll, err := tx.Asset(id.CollateralID)
	if err != nil {
		return slot{}, fmt.Errorf("collateral: %w", err)
	}
	asset, err := tx.Asset(id.AssetID)
	if err != nil {
		return slot{}, fmt.Errorf("exposure: %w", err)
	}
	return slot{id: id, sa: tx.SubAccount(id), collateral: coll, asset: asset}, nil
}

func requireEnabled(a model.Asset) error {
	if !a.IsEnabled {
		return fmt.Errorf("%w: %s", model.ErrAssetDisabled, a.Symbol)
	}
	return nil
}

func requireTradable(a model.Asset) error {
	if err := requireEnabled(a); err != nil {
		return err
	}
	if !a.IsTradable {
		return fmt.Errorf("%w: %s", model.ErrNotTradable, a.Symbol)
	}
	return nil
}

// updateAsset reloads an asset from the tx, applies fn and stages the
// result. Collateral, exposure and profit assets may alias, so no caller
// holds a copy across updates.
func updateAsset(tx *ledger.Tx, id uint8, fn func(model.Asset) (model.Asset, error)) error {
	a, err := tx.Asset(id)
	if err != nil {
		return err
	}
	a, err = fn(a)
	if err != nil {
		return err
	}
	tx.PutAsset(a)
	return nil
}

// settleFunding snapshots the current funding index into the sub-account.
func settleFunding(a model.Asset, sa *model.SubAccount, isLong bool) {
	sa.EntryFunding = funding.Index(a, isLong)
}

// collectFromCollateral moves feeUsd worth of collateral into the collateral
// asset's collected fees. With capped, the fee is limited to the available
// collateral; otherwise a shortfall is an error. It returns the fee in
// collateral units actually taken.
func collectFromCollateral(tx *ledger.Tx, collateralID uint8, sa *model.SubAccount, feeUsd, collateralPrice decimal.Decimal, capped bool) (decimal.Decimal, error) {
	if !feeUsd.IsPositive() {
		return decimal.Zero, nil
	}
	fee := fixed.Div(feeUsd, collateralPrice)
	if fee.GreaterThan(sa.Collateral) {
		if !capped {
			return decimal.Zero, fmt.Errorf("%w: fee %s exceeds collateral %s", model.ErrInsufficientCollateral, fee, sa.Collateral)
		}
		fee = sa.Collateral
	}
	sa.Collateral = sa.Collateral.Sub(fee)
	err := updateAsset(tx, collateralID, func(a model.Asset) (model.Asset, error) {
		return ledger.CollectFee(a, fee), nil
	})
	return fee, err
}

func attrsForSlot(s slot, kv ...any) map[string]string {
	base := []any{
		"sub_account", s.id.Hex(),
		"collateral_id", s.id.CollateralID,
		"asset_id", s.id.AssetID,
		"is_long", s.id.IsLong,
	}
	return ledger.Attrs(append(base, kv...)...)
}
