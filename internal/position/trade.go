package position

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/funding"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/settlement"
)

// Open increases a position by f.Size at f.Price. The position fee and any
// pending funding are charged from collateral, and the sub-account must meet
// the initial margin afterwards.
func (e *Engine) Open(tx *ledger.Tx, id model.SubAccountID, f Fill) (Result, error) {
	var res Result
	if !f.Size.IsPositive() {
		return res, fmt.Errorf("%w: size", model.ErrZeroAmount)
	}
	if err := f.validatePrices(); err != nil {
		return res, err
	}
	s, err := load(tx, id)
	if err != nil {
		return res, err
	}
	if err := requireEnabled(s.collateral); err != nil {
		return res, err
	}
	if err := requireTradable(s.asset); err != nil {
		return res, err
	}
	if !s.asset.IsOpenable {
		return res, fmt.Errorf("%w: %s", model.ErrNotOpenable, s.asset.Symbol)
	}
	if !id.IsLong && !s.asset.IsShortable {
		return res, fmt.Errorf("%w: %s", model.ErrNotShortable, s.asset.Symbol)
	}
	if err := e.limiter.CheckLimit(s.asset, id.IsLong, s.sa.Size, f.Size); err != nil {
		return res, err
	}

	sa := s.sa
	price := OpenPrice(f.Price, s.asset.HalfSpread, id.IsLong)
	fundingFee := funding.Fee(s.asset, sa, id.IsLong, price)
	positionFee := fixed.Mul(fixed.Mul(f.Size, price), s.asset.PositionFeeRate)
	res.FillPrice = price
	res.FeeUsd = fundingFee.Add(positionFee)

	settleFunding(s.asset, &sa, id.IsLong)
	if _, err := collectFromCollateral(tx, id.CollateralID, &sa, res.FeeUsd, f.CollateralPrice, false); err != nil {
		return res, err
	}
	sa.EntryPrice = ledger.WeightedPrice(sa.Size, sa.EntryPrice, f.Size, price)
	sa.Size = sa.Size.Add(f.Size)
	sa.LastIncreasedTime = tx.Now()

	if err := updateAsset(tx, id.AssetID, func(a model.Asset) (model.Asset, error) {
		return ledger.IncreaseTotalSize(a, id.IsLong, f.Size, price), nil
	}); err != nil {
		return res, err
	}

	asset, err := tx.Asset(id.AssetID)
	if err != nil {
		return res, err
	}
	if !IsSafe(asset, sa, id.IsLong, f.CollateralPrice, price, asset.InitialMarginRate, tx.Now()) {
		return res, fmt.Errorf("%w: initial margin after open", model.ErrInsufficientMargin)
	}
	tx.PutSubAccount(id, sa)

	tx.Emit(model.EventOpenPosition, f.OrderID, id.Account, attrsForSlot(s,
		"size", f.Size,
		"price", price,
		"entry_price", sa.EntryPrice,
		"fee_usd", res.FeeUsd,
		"collateral", sa.Collateral,
		"position_size", sa.Size,
	))
	return res, nil
}

// Close decreases a position by f.Size at f.Price and realizes the PnL of
// the closed part. With requireMinProfit, a close whose profit is zeroed by
// the min-profit rule is rejected.
func (e *Engine) Close(tx *ledger.Tx, id model.SubAccountID, f Fill, requireMinProfit bool) (Result, error) {
	var res Result
	if !f.Size.IsPositive() {
		return res, fmt.Errorf("%w: size", model.ErrZeroAmount)
	}
	if err := f.validatePrices(); err != nil {
		return res, err
	}
	s, err := load(tx, id)
	if err != nil {
		return res, err
	}
	if err := requireTradable(s.asset); err != nil {
		return res, err
	}
	sa := s.sa
	if f.Size.GreaterThan(sa.Size) {
		return res, fmt.Errorf("%w: closing %s of %s", model.ErrInsufficientSize, f.Size, sa.Size)
	}

	price := ClosePrice(f.Price, s.asset.HalfSpread, id.IsLong)
	hasProfit, pnl, applied := Pnl(s.asset, sa, id.IsLong, f.Size, price, tx.Now())
	if requireMinProfit && applied {
		return res, model.ErrMinProfitNotReached
	}
	fundingFee := funding.Fee(s.asset, sa, id.IsLong, price)
	positionFee := fixed.Mul(fixed.Mul(f.Size, price), s.asset.PositionFeeRate)
	res.FillPrice, res.HasProfit, res.PnlUsd = price, hasProfit, pnl
	res.FeeUsd = fundingFee.Add(positionFee)

	settleFunding(s.asset, &sa, id.IsLong)
	nettedFeeUsd := decimal.Zero
	if hasProfit {
		pa, profitPrice, err := profitAsset(tx, s, f)
		if err != nil {
			return res, err
		}
		var payout settlement.Result
		nettedFeeUsd, payout, err = realizeProfit(tx, id.Account, pnl, res.FeeUsd, pa.ID, profitPrice, f.OrderID)
		if err != nil {
			return res, err
		}
		res.Payout, res.Debt = payout.Paid, payout.Minted
	} else if _, err := realizeLoss(tx, id.CollateralID, &sa, pnl, f.CollateralPrice, false); err != nil {
		return res, err
	}

	sa.Size = sa.Size.Sub(f.Size)
	if sa.Size.IsZero() {
		resetEntry(&sa)
	}
	if err := updateAsset(tx, id.AssetID, func(a model.Asset) (model.Asset, error) {
		return ledger.DecreaseTotalSize(a, id.IsLong, f.Size)
	}); err != nil {
		return res, err
	}
	if _, err := collectFromCollateral(tx, id.CollateralID, &sa, res.FeeUsd.Sub(nettedFeeUsd), f.CollateralPrice, false); err != nil {
		return res, err
	}

	if sa.Size.IsPositive() {
		asset, err := tx.Asset(id.AssetID)
		if err != nil {
			return res, err
		}
		if !IsSafe(asset, sa, id.IsLong, f.CollateralPrice, price, asset.MaintenanceMarginRate, tx.Now()) {
			return res, fmt.Errorf("%w: maintenance margin after partial close", model.ErrInsufficientMargin)
		}
	}
	tx.PutSubAccount(id, sa)

	tx.Emit(model.EventClosePosition, f.OrderID, id.Account, attrsForSlot(s,
		"size", f.Size,
		"price", price,
		"has_profit", hasProfit,
		"pnl_usd", pnl,
		"fee_usd", res.FeeUsd,
		"payout", res.Payout,
		"debt", res.Debt,
		"collateral", sa.Collateral,
		"position_size", sa.Size,
	))
	return res, nil
}

// Liquidate force-closes a position that fails the maintenance margin under
// the asset's current parameters. The loss and the liquidation fee are
// capped at the collateral; any residual collateral goes back to the trader.
func (e *Engine) Liquidate(tx *ledger.Tx, id model.SubAccountID, f Fill) (Result, error) {
	var res Result
	if err := f.validatePrices(); err != nil {
		return res, err
	}
	s, err := load(tx, id)
	if err != nil {
		return res, err
	}
	if err := requireTradable(s.asset); err != nil {
		return res, err
	}
	if !s.asset.CanBeLiquidated {
		return res, fmt.Errorf("%w: %s", model.ErrNotLiquidatable, s.asset.Symbol)
	}
	sa := s.sa
	if !sa.Size.IsPositive() {
		return res, fmt.Errorf("%w: empty position", model.ErrInsufficientSize)
	}

	price := ClosePrice(f.Price, s.asset.HalfSpread, id.IsLong)
	if IsSafe(s.asset, sa, id.IsLong, f.CollateralPrice, price, s.asset.MaintenanceMarginRate, tx.Now()) {
		return res, model.ErrPositionSafe
	}

	size := sa.Size
	hasProfit, pnl, _ := Pnl(s.asset, sa, id.IsLong, size, price, tx.Now())
	fundingFee := funding.Fee(s.asset, sa, id.IsLong, price)
	liquidationFee := fixed.Mul(fixed.Mul(size, price), s.asset.LiquidationFeeRate)
	res.FillPrice, res.HasProfit, res.PnlUsd = price, hasProfit, pnl
	res.FeeUsd = fundingFee.Add(liquidationFee)

	settleFunding(s.asset, &sa, id.IsLong)
	nettedFeeUsd := decimal.Zero
	if hasProfit {
		pa, profitPrice, err := profitAsset(tx, s, f)
		if err != nil {
			return res, err
		}
		var payout settlement.Result
		nettedFeeUsd, payout, err = realizeProfit(tx, id.Account, pnl, res.FeeUsd, pa.ID, profitPrice, f.OrderID)
		if err != nil {
			return res, err
		}
		res.Payout, res.Debt = payout.Paid, payout.Minted
	} else if _, err := realizeLoss(tx, id.CollateralID, &sa, pnl, f.CollateralPrice, true); err != nil {
		return res, err
	}
	if _, err := collectFromCollateral(tx, id.CollateralID, &sa, res.FeeUsd.Sub(nettedFeeUsd), f.CollateralPrice, true); err != nil {
		return res, err
	}

	sa.Size = decimal.Zero
	resetEntry(&sa)
	if err := updateAsset(tx, id.AssetID, func(a model.Asset) (model.Asset, error) {
		return ledger.DecreaseTotalSize(a, id.IsLong, size)
	}); err != nil {
		return res, err
	}

	if sa.Collateral.IsPositive() {
		coll, err := tx.Asset(id.CollateralID)
		if err != nil {
			return res, err
		}
		if err := tx.PushAsset(coll, id.Account, sa.Collateral); err != nil {
			return res, fmt.Errorf("return collateral: %w", err)
		}
		res.Returned = sa.Collateral
		sa.Collateral = decimal.Zero
	}
	tx.PutSubAccount(id, sa)

	tx.Emit(model.EventLiquidate, f.OrderID, id.Account, attrsForSlot(s,
		"size", size,
		"price", price,
		"has_profit", hasProfit,
		"pnl_usd", pnl,
		"fee_usd", res.FeeUsd,
		"payout", res.Payout,
		"debt", res.Debt,
		"returned", res.Returned,
	))
	return res, nil
}

// WithdrawProfit pays out amount (in collateral units, valued at the
// collateral price) of unrealized profit without reducing size. The entry
// price moves against the trader by the withdrawn value per unit of size.
func (e *Engine) WithdrawProfit(tx *ledger.Tx, id model.SubAccountID, amount decimal.Decimal, f Fill) (Result, error) {
	var res Result
	if !amount.IsPositive() {
		return res, fmt.Errorf("%w: amount", model.ErrZeroAmount)
	}
	if err := f.validatePrices(); err != nil {
		return res, err
	}
	s, err := load(tx, id)
	if err != nil {
		return res, err
	}
	if err := requireTradable(s.asset); err != nil {
		return res, err
	}
	sa := s.sa
	if !sa.Size.IsPositive() {
		return res, fmt.Errorf("%w: empty position", model.ErrInsufficientSize)
	}

	price := ClosePrice(f.Price, s.asset.HalfSpread, id.IsLong)
	hasProfit, pnl, _ := Pnl(s.asset, sa, id.IsLong, sa.Size, price, tx.Now())
	if !hasProfit {
		return res, model.ErrNoProfit
	}
	fundingFee := funding.Fee(s.asset, sa, id.IsLong, price)
	delta := fixed.Mul(amount, f.CollateralPrice).Add(fundingFee)
	if delta.GreaterThan(pnl) {
		return res, fmt.Errorf("%w: withdrawing %s of %s profit", model.ErrInsufficientMargin, delta, pnl)
	}
	res.FillPrice, res.HasProfit, res.PnlUsd, res.FeeUsd = price, true, delta, fundingFee

	settleFunding(s.asset, &sa, id.IsLong)
	pa, profitPrice, err := profitAsset(tx, s, f)
	if err != nil {
		return res, err
	}
	nettedFeeUsd, payout, err := realizeProfit(tx, id.Account, delta, fundingFee, pa.ID, profitPrice, f.OrderID)
	if err != nil {
		return res, err
	}
	res.Payout, res.Debt = payout.Paid, payout.Minted
	if _, err := collectFromCollateral(tx, id.CollateralID, &sa, fundingFee.Sub(nettedFeeUsd), f.CollateralPrice, false); err != nil {
		return res, err
	}

	shift := fixed.Div(delta, sa.Size)
	if id.IsLong {
		sa.EntryPrice = sa.EntryPrice.Add(shift)
	} else {
		sa.EntryPrice = sa.EntryPrice.Sub(shift)
	}

	asset, err := tx.Asset(id.AssetID)
	if err != nil {
		return res, err
	}
	if !IsSafe(asset, sa, id.IsLong, f.CollateralPrice, price, asset.InitialMarginRate, tx.Now()) {
		return res, fmt.Errorf("%w: initial margin after profit withdrawal", model.ErrInsufficientMargin)
	}
	tx.PutSubAccount(id, sa)

	tx.Emit(model.EventWithdrawProfit, f.OrderID, id.Account, attrsForSlot(s,
		"amount", amount,
		"price", price,
		"profit_usd", delta,
		"payout", res.Payout,
		"debt", res.Debt,
		"entry_price", sa.EntryPrice,
	))
	return res, nil
}

func resetEntry(sa *model.SubAccount) {
	sa.EntryPrice = decimal.Zero
	sa.EntryFunding = decimal.Zero
	sa.LastIncreasedTime = time.Time{}
}

// profitAsset resolves the asset profit is paid in and its price. Assets
// without UseStableTokenForProfit always pay in the exposure asset.
func profitAsset(tx *ledger.Tx, s slot, f Fill) (model.Asset, decimal.Decimal, error) {
	if !s.asset.UseStableTokenForProfit {
		return s.asset, f.Price, nil
	}
	pa, err := tx.Asset(f.ProfitAssetID)
	if err != nil {
		return pa, decimal.Zero, fmt.Errorf("profit: %w", err)
	}
	if !pa.IsStable {
		return pa, decimal.Zero, fmt.Errorf("%w: profit asset %s", model.ErrNotStable, pa.Symbol)
	}
	if err := requireEnabled(pa); err != nil {
		return pa, decimal.Zero, err
	}
	price := f.ProfitAssetPrice
	if !price.IsPositive() && pa.ID == s.collateral.ID {
		price = f.CollateralPrice
	}
	if !price.IsPositive() {
		return pa, decimal.Zero, fmt.Errorf("%w: profit asset price %s", model.ErrInvalidPrice, price)
	}
	return pa, price, nil
}

// realizeProfit pays pnlUsd to the trader in the profit asset, net of up to
// feeUsd. The netted fee is collected from spot liquidity as far as spot
// allows; the rest of it simply reduces the trader's claim. The net profit
// is settled by PayOut, so a short pool mints debt instead of failing. The
// returned nettedFeeUsd is what the caller need not charge elsewhere.
func realizeProfit(tx *ledger.Tx, trader common.Address, pnlUsd, feeUsd decimal.Decimal, profitID uint8, profitPrice decimal.Decimal, orderID uint64) (decimal.Decimal, settlement.Result, error) {
	nettedFeeUsd := fixed.Min(feeUsd, pnlUsd)
	if nettedFeeUsd.IsPositive() {
		fee := fixed.Div(nettedFeeUsd, profitPrice)
		err := updateAsset(tx, profitID, func(a model.Asset) (model.Asset, error) {
			collected := fixed.Min(fee, a.SpotLiquidity)
			if !collected.IsPositive() {
				return a, nil
			}
			a, err := ledger.DecreaseSpot(a, collected)
			if err != nil {
				return a, err
			}
			return ledger.CollectFee(a, collected), nil
		})
		if err != nil {
			return decimal.Zero, settlement.Result{}, err
		}
	}

	rest := pnlUsd.Sub(nettedFeeUsd)
	if !rest.IsPositive() {
		return nettedFeeUsd, settlement.Result{}, nil
	}
	res, err := settlement.PayOut(tx, profitID, trader, fixed.Div(rest, profitPrice), orderID)
	return nettedFeeUsd, res, err
}

// realizeLoss moves pnlUsd worth of collateral into the collateral asset's
// spot liquidity. Without capped, a loss larger than the collateral fails.
func realizeLoss(tx *ledger.Tx, collateralID uint8, sa *model.SubAccount, pnlUsd, collateralPrice decimal.Decimal, capped bool) (decimal.Decimal, error) {
	if !pnlUsd.IsPositive() {
		return decimal.Zero, nil
	}
	loss := fixed.Div(pnlUsd, collateralPrice)
	if loss.GreaterThan(sa.Collateral) {
		if !capped {
			return decimal.Zero, fmt.Errorf("%w: loss %s exceeds collateral %s", model.ErrInsufficientCollateral, loss, sa.Collateral)
		}
		loss = sa.Collateral
	}
	sa.Collateral = sa.Collateral.Sub(loss)
	err := updateAsset(tx, collateralID, func(a model.Asset) (model.Asset, error) {
		return ledger.IncreaseSpot(a, loss), nil
	})
	return loss, err
}
