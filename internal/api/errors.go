package api

import (
	"errors"
	"net/http"

	"github.com/atmx/liquidity-pool/internal/feecurve"
	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/funding"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/settlement"
)

var statuses = []struct {
	err    error
	status int
}{
	{model.ErrUnauthorized, http.StatusForbidden},
	{model.ErrOrderNotFound, http.StatusNotFound},
	{model.ErrAssetNotFound, http.StatusNotFound},

	{model.ErrZeroAmount, http.StatusBadRequest},
	{model.ErrLengthMismatch, http.StatusBadRequest},
	{model.ErrInvalidFlags, http.StatusBadRequest},
	{model.ErrInvalidPrice, http.StatusBadRequest},
	{model.ErrInvalidDeadline, http.StatusBadRequest},
	{model.ErrInvalidParams, http.StatusBadRequest},
	{model.ErrInvalidSubAccountID, http.StatusBadRequest},
	{model.ErrAssetDisabled, http.StatusBadRequest},
	{model.ErrNotTradable, http.StatusBadRequest},
	{model.ErrNotOpenable, http.StatusBadRequest},
	{model.ErrNotShortable, http.StatusBadRequest},
	{model.ErrNotStable, http.StatusBadRequest},
	{model.ErrNotStrictStable, http.StatusBadRequest},
	{model.ErrLiquidityClosed, http.StatusBadRequest},
	{model.ErrNotLiquidatable, http.StatusBadRequest},
	{funding.ErrInvalidUtilization, http.StatusBadRequest},
	{funding.ErrInvalidInterval, http.StatusBadRequest},
	{funding.ErrInvalidRates, http.StatusBadRequest},
	{feecurve.ErrInvalidRates, http.StatusBadRequest},
	{feecurve.ErrInvalidValue, http.StatusBadRequest},
	{fixed.ErrNegative, http.StatusBadRequest},
	{fixed.ErrDecimals, http.StatusBadRequest},

	{model.ErrAssetExists, http.StatusConflict},
	{model.ErrInsufficientMargin, http.StatusConflict},
	{model.ErrInsufficientCollateral, http.StatusConflict},
	{model.ErrInsufficientBalance, http.StatusConflict},
	{model.ErrInsufficientLiquidity, http.StatusConflict},
	{model.ErrInsufficientSize, http.StatusConflict},
	{model.ErrPositionLimitExceeded, http.StatusConflict},
	{model.ErrPositionSafe, http.StatusConflict},
	{model.ErrPositionNotEmpty, http.StatusConflict},
	{model.ErrPriceOutOfBounds, http.StatusConflict},
	{model.ErrLiquidityLocked, http.StatusConflict},
	{model.ErrOrderExpired, http.StatusConflict},
	{model.ErrCoolDown, http.StatusConflict},
	{model.ErrMinProfitNotReached, http.StatusConflict},
	{model.ErrNoProfit, http.StatusConflict},
	{model.ErrSharePriceOutOfBounds, http.StatusConflict},
	{model.ErrPoolValueMismatch, http.StatusConflict},
	{model.ErrSlippage, http.StatusConflict},
	{model.ErrCreditExceeded, http.StatusConflict},
	{feecurve.ErrRemoveExceedsValue, http.StatusConflict},
	{settlement.ErrNothingToRedeem, http.StatusConflict},
	{fixed.ErrOverflow, http.StatusConflict},
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
