package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/feecurve"
	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
)

// LiquidityOrderRequest adds Amount of an asset to the pool, or removes
// Amount share tokens worth of it.
type LiquidityOrderRequest struct {
	AssetID  uint8           `json:"asset_id"`
	Amount   decimal.Decimal `json:"amount"`
	IsAdding bool            `json:"is_adding"`
}

// PlaceLiquidityOrder escrows the asset (adding) or share tokens (removing).
func (e *Engine) PlaceLiquidityOrder(ctx context.Context, caller common.Address, req LiquidityOrderRequest) (model.Order, error) {
	var placed model.Order
	err := e.exec(ctx, "place_liquidity", func(tx *ledger.Tx) error {
		a, err := tx.Asset(req.AssetID)
		if err != nil {
			return err
		}
		if err := requireLiquidityAsset(a); err != nil {
			return err
		}
		amount := req.Amount
		if req.IsAdding {
			amount = fixed.TruncateToToken(amount, a.Decimals)
		} else {
			amount = fixed.Normalize(amount)
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: liquidity amount", model.ErrZeroAmount)
		}

		if req.IsAdding {
			if err := escrow(tx, a, caller, amount); err != nil {
				return err
			}
		} else {
			share := tx.PoolParams().ShareToken
			if err := tx.TransferAmount(share, ledger.ShareDecimals, caller, ledger.EscrowAccount, amount); err != nil {
				return fmt.Errorf("escrow shares: %w", err)
			}
		}

		lo := model.LiquidityOrder{AssetID: a.ID, Amount: amount, IsAdding: req.IsAdding}
		placed = newOrder(tx, model.Order{
			Type:      model.OrderTypeLiquidity,
			Account:   caller,
			Deadline:  tx.Now().Add(tx.OrderBookParams().LiquidityOrderTimeout),
			Liquidity: &lo,
		}, ledger.Attrs(
			"asset_id", lo.AssetID,
			"amount", lo.Amount,
			"is_adding", lo.IsAdding,
		))
		return nil
	})
	if committed(err) {
		e.placed(placed)
	}
	return placed, err
}

func requireLiquidityAsset(a model.Asset) error {
	if !a.IsEnabled {
		return fmt.Errorf("%w: %s", model.ErrAssetDisabled, a.Symbol)
	}
	if !a.CanAddRemoveLiquidity {
		return fmt.Errorf("%w: %s", model.ErrLiquidityClosed, a.Symbol)
	}
	return nil
}

// lockPeriod returns the asset's liquidity lock period, falling back to the
// order-book default.
func lockPeriod(tx *ledger.Tx, assetID uint8) (time.Duration, error) {
	a, err := tx.Asset(assetID)
	if err != nil {
		return 0, err
	}
	if a.LiquidityLockPeriod > 0 {
		return a.LiquidityLockPeriod, nil
	}
	return tx.OrderBookParams().LiquidityLockPeriod, nil
}

// LiquidityFill carries the broker's prices for a liquidity fill, in USD.
// The fee curve inputs are derived from the ledger: the asset's current
// value is SpotLiquidity*AssetPrice and its target is its spot-weight share
// of the pool value, SharePrice*share supply. CurrentAssetValue and
// TargetAssetValue are optional; when set they must match those values.
type LiquidityFill struct {
	AssetPrice        decimal.Decimal `json:"asset_price"`
	SharePrice        decimal.Decimal `json:"share_price"`
	CurrentAssetValue decimal.Decimal `json:"current_asset_value"`
	TargetAssetValue  decimal.Decimal `json:"target_asset_value"`
}

func (f LiquidityFill) validate(pool model.PoolParams) error {
	if !f.AssetPrice.IsPositive() || !f.SharePrice.IsPositive() {
		return fmt.Errorf("%w: asset price %s share price %s", model.ErrInvalidPrice, f.AssetPrice, f.SharePrice)
	}
	if f.CurrentAssetValue.IsNegative() || f.TargetAssetValue.IsNegative() {
		return fmt.Errorf("%w: negative pool value", model.ErrInvalidParams)
	}
	if pool.SharePriceLowerBound.IsPositive() && f.SharePrice.LessThan(pool.SharePriceLowerBound) ||
		pool.SharePriceUpperBound.IsPositive() && f.SharePrice.GreaterThan(pool.SharePriceUpperBound) {
		return fmt.Errorf("%w: %s not in [%s, %s]", model.ErrSharePriceOutOfBounds,
			f.SharePrice, pool.SharePriceLowerBound, pool.SharePriceUpperBound)
	}
	return nil
}

// assetValues returns the current and target USD value of a in the pool.
func assetValues(tx *ledger.Tx, a model.Asset, p LiquidityFill) (current, target decimal.Decimal, err error) {
	current = fixed.Mul(a.SpotLiquidity, p.AssetPrice)

	totalWeight := decimal.Zero
	for _, id := range tx.AssetIDs() {
		other, err := tx.Asset(id)
		if err != nil {
			return current, target, err
		}
		totalWeight = totalWeight.Add(other.SpotWeight)
	}
	supply := fixed.ToWad(tx.TotalSupply(tx.PoolParams().ShareToken), ledger.ShareDecimals)
	target = feecurve.TargetValue(fixed.Mul(supply, p.SharePrice), a.SpotWeight, totalWeight)

	if !p.CurrentAssetValue.IsZero() && !p.CurrentAssetValue.Equal(current) {
		return current, target, fmt.Errorf("%w: current value %s, ledger %s", model.ErrPoolValueMismatch, p.CurrentAssetValue, current)
	}
	if !p.TargetAssetValue.IsZero() && !p.TargetAssetValue.Equal(target) {
		return current, target, fmt.Errorf("%w: target value %s, ledger %s", model.ErrPoolValueMismatch, p.TargetAssetValue, target)
	}
	return current, target, nil
}

// FillLiquidityOrder mints or burns share tokens at the broker's share price
// once the lock period has elapsed. The fee rate comes from the liquidity
// fee curve.
func (e *Engine) FillLiquidityOrder(ctx context.Context, broker common.Address, orderID uint64, p LiquidityFill) error {
	defer observeLatency(model.OrderTypeLiquidity.String(), time.Now())
	err := e.exec(ctx, "fill_liquidity", func(tx *ledger.Tx) error {
		if err := requireBroker(tx, broker); err != nil {
			return err
		}
		o, err := pendingOrder(tx, orderID, model.OrderTypeLiquidity)
		if err != nil {
			return err
		}
		lo := *o.Liquidity
		lock, err := lockPeriod(tx, lo.AssetID)
		if err != nil {
			return err
		}
		if until := o.PlacedAt.Add(lock); tx.Now().Before(until) {
			return fmt.Errorf("%w: fillable from %s", model.ErrLiquidityLocked, until.Format(time.RFC3339))
		}
		pool := tx.PoolParams()
		if err := p.validate(pool); err != nil {
			return err
		}
		if err := requireFillable(tx, o); err != nil {
			return err
		}
		a, err := tx.Asset(lo.AssetID)
		if err != nil {
			return err
		}
		if err := requireLiquidityAsset(a); err != nil {
			return err
		}
		curve, err := feecurve.New(pool.LiquidityBaseFeeRate, pool.LiquidityDynamicFeeRate)
		if err != nil {
			return err
		}
		current, target, err := assetValues(tx, a, p)
		if err != nil {
			return err
		}

		var fee, shares, assetAmount decimal.Decimal
		if lo.IsAdding {
			assetAmount = lo.Amount
			rate, err := curve.Rate(current, target, fixed.Mul(assetAmount, p.AssetPrice), true)
			if err != nil {
				return err
			}
			fee = fixed.TruncateToToken(feecurve.Fee(assetAmount, rate), a.Decimals)
			if err := tx.TransferAmount(a.Token, a.Decimals, ledger.EscrowAccount, ledger.VaultAccount, assetAmount); err != nil {
				return fmt.Errorf("add liquidity: %w", err)
			}
			if a, err = ledger.AddLiquidity(a, assetAmount, fee); err != nil {
				return err
			}
			tx.PutAsset(a)
			shares = fixed.MulDiv(assetAmount.Sub(fee), p.AssetPrice, p.SharePrice)
			if err := tx.MintAmount(pool.ShareToken, o.Account, shares); err != nil {
				return err
			}
			tx.Emit(model.EventAddLiquidity, o.ID, o.Account, ledger.Attrs(
				"asset_id", a.ID,
				"amount", assetAmount,
				"fee", fee,
				"fee_rate", rate,
				"current_value", current,
				"target_value", target,
				"shares", shares,
				"share_price", p.SharePrice,
			))
		} else {
			shares = lo.Amount
			assetAmount = fixed.TruncateToToken(fixed.MulDiv(shares, p.SharePrice, p.AssetPrice), a.Decimals)
			rate, err := curve.Rate(current, target, fixed.Mul(shares, p.SharePrice), false)
			if err != nil {
				return err
			}
			fee = fixed.TruncateToToken(feecurve.Fee(assetAmount, rate), a.Decimals)
			if a, err = ledger.RemoveLiquidity(a, assetAmount, fee); err != nil {
				return err
			}
			tx.PutAsset(a)
			if err := tx.BurnAmount(pool.ShareToken, ledger.EscrowAccount, shares); err != nil {
				return err
			}
			if err := tx.PushAsset(a, o.Account, assetAmount.Sub(fee)); err != nil {
				return fmt.Errorf("remove liquidity: %w", err)
			}
			tx.Emit(model.EventRemoveLiquidity, o.ID, o.Account, ledger.Attrs(
				"asset_id", a.ID,
				"amount", assetAmount,
				"fee", fee,
				"fee_rate", rate,
				"current_value", current,
				"target_value", target,
				"shares", shares,
				"share_price", p.SharePrice,
			))
		}

		tx.CountFill(broker)
		tx.Emit(model.EventFillOrder, o.ID, o.Account, ledger.Attrs(
			"kind", o.Type,
			"broker", broker.Hex(),
			"asset_price", p.AssetPrice,
			"share_price", p.SharePrice,
			"shares", shares,
		))
		return nil
	})
	return e.finishFill(model.OrderTypeLiquidity, orderID, broker, err)
}
