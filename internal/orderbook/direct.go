package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/access"
	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/funding"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/position"
	"github.com/atmx/liquidity-pool/internal/settlement"
)

// DepositCollateral moves amount of the sub-account's collateral asset from
// the caller into the pool.
func (e *Engine) DepositCollateral(ctx context.Context, caller common.Address, id model.SubAccountID, amount decimal.Decimal) error {
	return e.exec(ctx, "deposit_collateral", func(tx *ledger.Tx) error {
		if err := requireOwnerOf(caller, id.Account); err != nil {
			return err
		}
		coll, err := tx.Asset(id.CollateralID)
		if err != nil {
			return err
		}
		return e.positions.DepositCollateral(tx, id, caller, fixed.TruncateToToken(amount, coll.Decimals), 0)
	})
}

// WithdrawAllCollateral returns all collateral of an empty position.
func (e *Engine) WithdrawAllCollateral(ctx context.Context, caller common.Address, id model.SubAccountID) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := e.exec(ctx, "withdraw_all_collateral", func(tx *ledger.Tx) error {
		if err := requireOwnerOf(caller, id.Account); err != nil {
			return err
		}
		var err error
		amount, err = e.positions.WithdrawAllCollateral(tx, id, 0)
		return err
	})
	return amount, err
}

// LiquidateRequest carries the broker's prices for a liquidation.
type LiquidateRequest struct {
	SubAccountID     model.SubAccountID `json:"sub_account_id"`
	ProfitAssetID    uint8              `json:"profit_asset_id"`
	CollateralPrice  decimal.Decimal    `json:"collateral_price"`
	AssetPrice       decimal.Decimal    `json:"asset_price"`
	ProfitAssetPrice decimal.Decimal    `json:"profit_asset_price"`
}

// Liquidate force-closes an unsafe position. Brokers only.
func (e *Engine) Liquidate(ctx context.Context, broker common.Address, req LiquidateRequest) (position.Result, error) {
	var res position.Result
	err := e.exec(ctx, "liquidate", func(tx *ledger.Tx) error {
		if err := requireBroker(tx, broker); err != nil {
			return err
		}
		var err error
		res, err = e.positions.Liquidate(tx, req.SubAccountID, position.Fill{
			Price:            req.AssetPrice,
			CollateralPrice:  req.CollateralPrice,
			ProfitAssetID:    req.ProfitAssetID,
			ProfitAssetPrice: req.ProfitAssetPrice,
		})
		return err
	})
	if err != nil {
		e.log.Warn("liquidation rejected", "sub_account", req.SubAccountID.Hex(), "error", err)
		return res, err
	}
	e.log.Info("position liquidated",
		"sub_account", req.SubAccountID.Hex(),
		"broker", broker.Hex(),
		"price", res.FillPrice.String(),
		"pnl_usd", res.PnlUsd.String(),
		"returned", res.Returned.String(),
	)
	return res, nil
}

// UpdateFundingState advances every enabled tradable asset's funding indices
// to the last period boundary. The first call only records the boundary.
// It reports whether anything accrued.
func (e *Engine) UpdateFundingState(ctx context.Context, broker common.Address, inputs []funding.Input) (bool, error) {
	var accrued bool
	err := e.exec(ctx, "update_funding", func(tx *ledger.Tx) error {
		if err := requireBroker(tx, broker); err != nil {
			return err
		}
		step, err := funding.NextStep(tx.LastFundingTime(), tx.Now(), tx.PoolParams().FundingInterval)
		if err != nil {
			return err
		}
		if step.Initialize {
			tx.SetLastFundingTime(step.Boundary)
			tx.Emit(model.EventUpdateFunding, 0, broker, ledger.Attrs(
				"initialized", true,
				"boundary", step.Boundary.Format(time.RFC3339),
			))
			return nil
		}
		if step.Span == 0 {
			return nil
		}

		byID := make(map[uint8]funding.Input, len(inputs))
		for _, in := range inputs {
			if _, dup := byID[in.AssetID]; dup {
				return fmt.Errorf("%w: duplicate funding input for asset %d", model.ErrInvalidParams, in.AssetID)
			}
			if !tx.HasAsset(in.AssetID) {
				return fmt.Errorf("%w: %d", model.ErrAssetNotFound, in.AssetID)
			}
			byID[in.AssetID] = in
		}
		for _, id := range tx.AssetIDs() {
			a, err := tx.Asset(id)
			if err != nil {
				return err
			}
			if !a.IsEnabled || !a.IsTradable {
				continue
			}
			in, ok := byID[id]
			if !ok {
				return fmt.Errorf("%w: no funding input for %s", model.ErrLengthMismatch, a.Symbol)
			}
			if !in.Price.IsPositive() {
				return fmt.Errorf("%w: %s funding price", model.ErrInvalidPrice, a.Symbol)
			}
			a, acc, err := funding.Apply(a, in, step.Span)
			if err != nil {
				return fmt.Errorf("%s: %w", a.Symbol, err)
			}
			tx.PutAsset(a)
			tx.Emit(model.EventUpdateFunding, 0, broker, ledger.Attrs(
				"asset_id", a.ID,
				"long_rate", acc.LongRate,
				"short_rate", acc.ShortRate,
				"long_cumulative_funding_rate", a.LongCumulativeFundingRate,
				"short_cumulative_funding", a.ShortCumulativeFunding,
				"span", step.Span,
			))
		}
		tx.SetLastFundingTime(step.Boundary)
		accrued = true
		return nil
	})
	return accrued, err
}

// ClaimBrokerGasRebate pays the broker's accumulated fill stipend out of a
// strict-stable asset's collected fees, capped at what was collected, and
// resets the fill counter. It returns the amount paid.
func (e *Engine) ClaimBrokerGasRebate(ctx context.Context, broker common.Address, assetID uint8) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := e.exec(ctx, "claim_gas_rebate", func(tx *ledger.Tx) error {
		if err := requireBroker(tx, broker); err != nil {
			return err
		}
		a, err := tx.Asset(assetID)
		if err != nil {
			return err
		}
		if !a.IsStrictStable {
			return fmt.Errorf("%w: %s", model.ErrNotStrictStable, a.Symbol)
		}
		fills := tx.BrokerFills(broker)
		owed := fixed.Mul(decimal.NewFromInt(int64(fills)), tx.PoolParams().BrokerGasRebate)
		paid = fixed.TruncateToToken(fixed.Min(owed, a.CollectedFee), a.Decimals)
		if paid.IsPositive() {
			if a, err = ledger.SpendFee(a, paid); err != nil {
				return err
			}
			tx.PutAsset(a)
			if err := tx.PushAsset(a, broker, paid); err != nil {
				return fmt.Errorf("gas rebate: %w", err)
			}
		}
		tx.ResetFills(broker)
		tx.Emit(model.EventClaimBrokerGasRebate, 0, broker, ledger.Attrs(
			"asset_id", a.ID,
			"fills", fills,
			"owed", owed,
			"amount", paid,
		))
		return nil
	})
	return paid, err
}

// RedeemDebtToken burns the caller's debt tokens of an asset against the
// available spot liquidity. It returns the amount redeemed, which may be
// less than requested.
func (e *Engine) RedeemDebtToken(ctx context.Context, caller common.Address, assetID uint8, amount decimal.Decimal) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := e.exec(ctx, "redeem_debt", func(tx *ledger.Tx) error {
		var err error
		paid, err = settlement.Redeem(tx, assetID, caller, fixed.Normalize(amount))
		return err
	})
	return paid, err
}

// BorrowAsset lends spot liquidity to a borrower. Borrowers only.
func (e *Engine) BorrowAsset(ctx context.Context, borrower common.Address, assetID uint8, amount, fee decimal.Decimal) error {
	return e.exec(ctx, "borrow", func(tx *ledger.Tx) error {
		if err := access.Require(tx, borrower, model.RoleBorrower); err != nil {
			return err
		}
		return position.Borrow(tx, borrower, assetID, amount, fee)
	})
}

// RepayAsset returns borrowed liquidity. Borrowers only.
func (e *Engine) RepayAsset(ctx context.Context, repayer common.Address, assetID uint8, amount, fee, badDebt decimal.Decimal) error {
	return e.exec(ctx, "repay", func(tx *ledger.Tx) error {
		if err := access.Require(tx, repayer, model.RoleBorrower); err != nil {
			return err
		}
		return position.Repay(tx, repayer, assetID, amount, fee, badDebt)
	})
}
