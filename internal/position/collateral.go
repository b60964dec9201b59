package position

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/funding"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
)

// DepositCollateral moves amount of the collateral asset from `from` into the
// vault and credits it to the sub-account. Order fills deposit from the
// order-book escrow; direct deposits come from the trader.
func (e *Engine) DepositCollateral(tx *ledger.Tx, id model.SubAccountID, from common.Address, amount decimal.Decimal, orderID uint64) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: collateral", model.ErrZeroAmount)
	}
	s, err := load(tx, id)
	if err != nil {
		return err
	}
	if err := requireEnabled(s.collateral); err != nil {
		return err
	}
	if err := tx.PullAsset(s.collateral, from, amount); err != nil {
		return fmt.Errorf("deposit collateral: %w", err)
	}
	sa := s.sa
	sa.Collateral = sa.Collateral.Add(amount)
	tx.PutSubAccount(id, sa)

	tx.Emit(model.EventDepositCollateral, orderID, id.Account, attrsForSlot(s,
		"amount", amount,
		"collateral", sa.Collateral,
	))
	return nil
}

// WithdrawCollateral returns amount of collateral to the trader. Pending
// funding is settled first and the sub-account must still meet the initial
// margin afterwards.
func (e *Engine) WithdrawCollateral(tx *ledger.Tx, id model.SubAccountID, amount, collateralPrice, price decimal.Decimal, orderID uint64) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: collateral", model.ErrZeroAmount)
	}
	if !collateralPrice.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("%w: price %s collateral price %s", model.ErrInvalidPrice, price, collateralPrice)
	}
	s, err := load(tx, id)
	if err != nil {
		return err
	}
	sa := s.sa

	fundingFee := funding.Fee(s.asset, sa, id.IsLong, price)
	if sa.Size.IsPositive() {
		settleFunding(s.asset, &sa, id.IsLong)
	}
	if _, err := collectFromCollateral(tx, id.CollateralID, &sa, fundingFee, collateralPrice, false); err != nil {
		return err
	}
	if amount.GreaterThan(sa.Collateral) {
		return fmt.Errorf("%w: withdrawing %s of %s", model.ErrInsufficientCollateral, amount, sa.Collateral)
	}
	sa.Collateral = sa.Collateral.Sub(amount)

	asset, err := tx.Asset(id.AssetID)
	if err != nil {
		return err
	}
	if !IsSafe(asset, sa, id.IsLong, collateralPrice, price, asset.InitialMarginRate, tx.Now()) {
		return fmt.Errorf("%w: initial margin after withdrawal", model.ErrInsufficientMargin)
	}

	coll, err := tx.Asset(id.CollateralID)
	if err != nil {
		return err
	}
	if err := tx.PushAsset(coll, id.Account, amount); err != nil {
		return fmt.Errorf("withdraw collateral: %w", err)
	}
	tx.PutSubAccount(id, sa)

	tx.Emit(model.EventWithdrawCollateral, orderID, id.Account, attrsForSlot(s,
		"amount", amount,
		"funding_fee_usd", fundingFee,
		"collateral", sa.Collateral,
	))
	return nil
}

// WithdrawAllCollateral returns all collateral of an empty position to the
// trader. It returns the amount withdrawn.
func (e *Engine) WithdrawAllCollateral(tx *ledger.Tx, id model.SubAccountID, orderID uint64) (decimal.Decimal, error) {
	s, err := load(tx, id)
	if err != nil {
		return decimal.Zero, err
	}
	sa := s.sa
	if !sa.Size.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: size %s", model.ErrPositionNotEmpty, sa.Size)
	}
	amount := sa.Collateral
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	if err := tx.PushAsset(s.collateral, id.Account, amount); err != nil {
		return decimal.Zero, fmt.Errorf("withdraw collateral: %w", err)
	}
	sa.Collateral = decimal.Zero
	tx.PutSubAccount(id, sa)

	tx.Emit(model.EventWithdrawCollateral, orderID, id.Account, attrsForSlot(s,
		"amount", amount,
		"collateral", sa.Collateral,
		"all", true,
	))
	return amount, nil
}
