// Package settlement pays obligations out of an asset's spot liquidity and
// covers any shortfall by minting that asset's debt token 1:1, so the
// triggering operation still succeeds. Holders later redeem debt tokens
// against replenished liquidity.
package settlement

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
)

// ErrNothingToRedeem is returned when the asset has no spot liquidity to
// redeem debt tokens against.
var ErrNothingToRedeem = errors.New("settlement: no spot liquidity to redeem against")

// Result reports how an obligation was settled.
type Result struct {
	Paid   decimal.Decimal // underlying transferred
	Minted decimal.Decimal // debt tokens issued for the shortfall
}

// PayOut pays amount of asset assetID to `to`. The part spot liquidity
// cannot cover, including sub-unit dust the token cannot represent, is
// minted as debt tokens.
func PayOut(tx *ledger.Tx, assetID uint8, to common.Address, amount decimal.Decimal, orderID uint64) (Result, error) {
	var res Result
	if !amount.IsPositive() {
		return res, nil
	}
	a, err := tx.Asset(assetID)
	if err != nil {
		return res, err
	}

	res.Paid = fixed.TruncateToToken(fixed.Min(amount, a.SpotLiquidity), a.Decimals)
	res.Minted = amount.Sub(res.Paid)

	if res.Paid.IsPositive() {
		if a, err = ledger.DecreaseSpot(a, res.Paid); err != nil {
			return res, err
		}
		tx.PutAsset(a)
		if err := tx.PushAsset(a, to, res.Paid); err != nil {
			return res, fmt.Errorf("pay out %s: %w", a.Symbol, err)
		}
	}

	if res.Minted.IsPositive() {
		if err := tx.MintAmount(a.DebtToken, to, res.Minted); err != nil {
			return res, fmt.Errorf("issue %s debt: %w", a.Symbol, err)
		}
		tx.Emit(model.EventIssueDebt, orderID, to, ledger.Attrs(
			"asset_id", a.ID,
			"amount", res.Minted,
			"spot_liquidity", a.SpotLiquidity,
		))
	}
	return res, nil
}

// Redeem burns up to amount of the holder's debt tokens and pays the same
// amount of underlying, limited by available spot liquidity. It returns the
// redeemed amount.
func Redeem(tx *ledger.Tx, assetID uint8, holder common.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.ErrZeroAmount
	}
	a, err := tx.Asset(assetID)
	if err != nil {
		return decimal.Zero, err
	}
	held := fixed.ToWad(tx.BalanceOf(a.DebtToken, holder), ledger.ShareDecimals)
	if amount.GreaterThan(held) {
		return decimal.Zero, fmt.Errorf("%w: holds %s %s debt, redeeming %s", model.ErrInsufficientBalance, held, a.Symbol, amount)
	}

	paid := fixed.TruncateToToken(fixed.Min(amount, a.SpotLiquidity), a.Decimals)
	if !paid.IsPositive() {
		return decimal.Zero, ErrNothingToRedeem
	}

	if err := tx.BurnAmount(a.DebtToken, holder, paid); err != nil {
		return decimal.Zero, err
	}
	if a, err = ledger.DecreaseSpot(a, paid); err != nil {
		return decimal.Zero, err
	}
	tx.PutAsset(a)
	if err := tx.PushAsset(a, holder, paid); err != nil {
		return decimal.Zero, err
	}
	tx.Emit(model.EventRedeemDebt, 0, holder, ledger.Attrs(
		"asset_id", a.ID,
		"amount", paid,
		"requested", amount,
	))
	return paid, nil
}

// DebtSupply returns the outstanding debt token supply of an asset.
func DebtSupply(tx *ledger.Tx, a model.Asset) decimal.Decimal {
	return fixed.ToWad(tx.TotalSupply(a.DebtToken), ledger.ShareDecimals)
}
