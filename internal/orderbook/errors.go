package orderbook

import (
	"errors"

	"github.com/atmx/liquidity-pool/internal/feecurve"
	"github.com/atmx/liquidity-pool/internal/funding"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/settlement"
)

// reasons maps sentinel errors to short metric labels.
var reasons = []struct {
	err   error
	label string
}{
	{model.ErrUnauthorized, "unauthorized"},
	{model.ErrOrderNotFound, "order_not_found"},
	{model.ErrOrderExpired, "expired"},
	{model.ErrPriceOutOfBounds, "price_bound"},
	{model.ErrInvalidPrice, "invalid_price"},
	{model.ErrLiquidityLocked, "locked"},
	{model.ErrInsufficientMargin, "margin"},
	{model.ErrInsufficientCollateral, "collateral"},
	{model.ErrInsufficientLiquidity, "liquidity"},
	{model.ErrInsufficientSize, "size"},
	{model.ErrPositionLimitExceeded, "size_cap"},
	{model.ErrPositionSafe, "position_safe"},
	{model.ErrMinProfitNotReached, "min_profit"},
	{model.ErrSharePriceOutOfBounds, "share_price"},
	{model.ErrSlippage, "slippage"},
	{model.ErrAssetDisabled, "asset_disabled"},
	{model.ErrNotTradable, "not_tradable"},
	{model.ErrInsufficientBalance, "balance"},
	{feecurve.ErrRemoveExceedsValue, "fee_curve"},
	{funding.ErrInvalidUtilization, "utilization"},
	{settlement.ErrNothingToRedeem, "nothing_to_redeem"},
}

// Reason returns a short, bounded label for err.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
