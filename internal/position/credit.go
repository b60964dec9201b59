package position

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
)

// Borrow lends amount of an asset out of spot liquidity to borrower against
// the asset's credit line. fee is kept by the pool; borrower receives
// amount-fee.
func Borrow(tx *ledger.Tx, borrower common.Address, assetID uint8, amount, fee decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: borrow", model.ErrZeroAmount)
	}
	if fee.IsNegative() || fee.GreaterThan(amount) {
		return fmt.Errorf("%w: fee %s of %s", model.ErrInvalidParams, fee, amount)
	}
	a, err := tx.Asset(assetID)
	if err != nil {
		return err
	}
	if err := requireEnabled(a); err != nil {
		return err
	}
	if a, err = ledger.Borrow(a, amount, fee); err != nil {
		return err
	}
	tx.PutAsset(a)
	if err := tx.PushAsset(a, borrower, amount.Sub(fee)); err != nil {
		return fmt.Errorf("borrow %s: %w", a.Symbol, err)
	}
	tx.Emit(model.EventBorrowAsset, 0, borrower, ledger.Attrs(
		"asset_id", a.ID,
		"amount", amount,
		"fee", fee,
		"credit", a.Credit,
	))
	return nil
}

// Repay pulls amount+fee from repayer back into the pool. badDebt is written
// off the credit line without a transfer.
func Repay(tx *ledger.Tx, repayer common.Address, assetID uint8, amount, fee, badDebt decimal.Decimal) error {
	if !amount.IsPositive() && !badDebt.IsPositive() {
		return fmt.Errorf("%w: repay", model.ErrZeroAmount)
	}
	if amount.IsNegative() || fee.IsNegative() || badDebt.IsNegative() {
		return fmt.Errorf("%w: negative repay", model.ErrInvalidParams)
	}
	a, err := tx.Asset(assetID)
	if err != nil {
		return err
	}
	if a, err = ledger.Repay(a, amount, fee, badDebt); err != nil {
		return err
	}
	tx.PutAsset(a)
	if total := amount.Add(fee); total.IsPositive() {
		if err := tx.PullAsset(a, repayer, total); err != nil {
			return fmt.Errorf("repay %s: %w", a.Symbol, err)
		}
	}
	tx.Emit(model.EventRepayAsset, 0, repayer, ledger.Attrs(
		"asset_id", a.ID,
		"amount", amount,
		"fee", fee,
		"bad_debt", badDebt,
		"credit", a.Credit,
	))
	return nil
}
