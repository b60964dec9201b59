package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/model"
)

// The functions below are the only writers of an asset's reserve and
// exposure fields. Each takes the current record and returns the new one;
// token movement is the caller's job, against the same Tx.

// IncreaseSpot adds amount to spot liquidity.
func IncreaseSpot(a model.Asset, amount decimal.Decimal) model.Asset {
	a.SpotLiquidity = a.SpotLiquidity.Add(amount)
	return a
}

// DecreaseSpot removes amount from spot liquidity. It never goes negative.
func DecreaseSpot(a model.Asset, amount decimal.Decimal) (model.Asset, error) {
	if amount.GreaterThan(a.SpotLiquidity) {
		return a, fmt.Errorf("%w: %s has %s, needs %s",
			model.ErrInsufficientLiquidity, a.Symbol, a.SpotLiquidity, amount)
	}
	a.SpotLiquidity = a.SpotLiquidity.Sub(amount)
	return a, nil
}

// CollectFee adds fee to the asset's collected fees.
func CollectFee(a model.Asset, fee decimal.Decimal) model.Asset {
	a.CollectedFee = a.CollectedFee.Add(fee)
	return a
}

// SpendFee withdraws from collected fees, e.g. for broker gas rebates.
func SpendFee(a model.Asset, amount decimal.Decimal) (model.Asset, error) {
	if amount.GreaterThan(a.CollectedFee) {
		return a, fmt.Errorf("%w: %s collected fee %s, needs %s",
			model.ErrInsufficientLiquidity, a.Symbol, a.CollectedFee, amount)
	}
	a.CollectedFee = a.CollectedFee.Sub(amount)
	return a, nil
}

// AddLiquidity books an LP deposit: the fee is collected and the rest
// becomes spot liquidity.
func AddLiquidity(a model.Asset, amount, fee decimal.Decimal) (model.Asset, error) {
	if fee.GreaterThan(amount) {
		return a, fmt.Errorf("%w: fee %s exceeds amount %s", model.ErrInvalidParams, fee, amount)
	}
	a = CollectFee(a, fee)
	return IncreaseSpot(a, amount.Sub(fee)), nil
}

// RemoveLiquidity books an LP withdrawal of amount, of which fee stays in
// the pool as collected fee.
func RemoveLiquidity(a model.Asset, amount, fee decimal.Decimal) (model.Asset, error) {
	a, err := DecreaseSpot(a, amount)
	if err != nil {
		return a, err
	}
	return CollectFee(a, fee), nil
}

// Borrow lends amount out of spot liquidity against credit.
func Borrow(a model.Asset, amount, fee decimal.Decimal) (model.Asset, error) {
	a, err := DecreaseSpot(a, amount)
	if err != nil {
		return a, err
	}
	a.Credit = a.Credit.Add(amount)
	return CollectFee(a, fee), nil
}

// Repay returns amount to spot liquidity. badDebt is written off credit
// without being repaid.
func Repay(a model.Asset, amount, fee, badDebt decimal.Decimal) (model.Asset, error) {
	settled := amount.Add(badDebt)
	if settled.GreaterThan(a.Credit) {
		return a, fmt.Errorf("%w: %s credit %s, repay %s", model.ErrCreditExceeded, a.Symbol, a.Credit, settled)
	}
	a.Credit = a.Credit.Sub(settled)
	a = IncreaseSpot(a, amount)
	return CollectFee(a, fee), nil
}

// IncreaseTotalSize adds size at price to the long or short aggregate,
// keeping the size-weighted average price.
func IncreaseTotalSize(a model.Asset, isLong bool, size, price decimal.Decimal) model.Asset {
	if isLong {
		a.AverageLongPrice = WeightedPrice(a.TotalLongPosition, a.AverageLongPrice, size, price)
		a.TotalLongPosition = a.TotalLongPosition.Add(size)
	} else {
		a.AverageShortPrice = WeightedPrice(a.TotalShortPosition, a.AverageShortPrice, size, price)
		a.TotalShortPosition = a.TotalShortPosition.Add(size)
	}
	return a
}

// DecreaseTotalSize removes size from the long or short aggregate. The
// average price is kept unless the side becomes empty.
func DecreaseTotalSize(a model.Asset, isLong bool, size decimal.Decimal) (model.Asset, error) {
	total := a.TotalShortPosition
	if isLong {
		total = a.TotalLongPosition
	}
	if size.GreaterThan(total) {
		return a, fmt.Errorf("%w: %s aggregate %s, decrease %s", model.ErrInsufficientSize, a.Symbol, total, size)
	}
	total = total.Sub(size)
	if isLong {
		a.TotalLongPosition = total
		if total.IsZero() {
			a.AverageLongPrice = decimal.Zero
		}
	} else {
		a.TotalShortPosition = total
		if total.IsZero() {
			a.AverageShortPrice = decimal.Zero
		}
	}
	return a, nil
}

// WeightedPrice returns (oldSize*oldPrice + size*price) / (oldSize+size).
func WeightedPrice(oldSize, oldPrice, size, price decimal.Decimal) decimal.Decimal {
	newSize := oldSize.Add(size)
	if newSize.IsZero() {
		return decimal.Zero
	}
	return fixed.Div(oldSize.Mul(oldPrice).Add(size.Mul(price)), newSize)
}
