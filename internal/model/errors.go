package model

import "errors"

// Validation errors. They reject a call before any state is touched.
var (
	ErrZeroAmount      = errors.New("pool: amount must be non-zero")
	ErrUnauthorized    = errors.New("pool: caller lacks required role")
	ErrOrderNotFound   = errors.New("pool: order not found")
	ErrLengthMismatch  = errors.New("pool: input lengths mismatch")
	ErrAssetNotFound   = errors.New("pool: asset not found")
	ErrAssetExists     = errors.New("pool: asset already registered")
	ErrInvalidFlags    = errors.New("pool: invalid order flags")
	ErrInvalidPrice    = errors.New("pool: price must be positive")
	ErrInvalidDeadline = errors.New("pool: invalid order deadline")
	ErrInvalidParams   = errors.New("pool: invalid parameters")
	ErrAssetDisabled   = errors.New("pool: asset is disabled")
	ErrNotTradable     = errors.New("pool: asset is not tradable")
	ErrNotOpenable     = errors.New("pool: asset is not openable")
	ErrNotShortable    = errors.New("pool: asset is not shortable")
	ErrNotStable       = errors.New("pool: asset is not a stable asset")
	ErrNotStrictStable = errors.New("pool: asset is not a strict stable asset")
	ErrLiquidityClosed = errors.New("pool: asset does not accept liquidity changes")
	ErrNotLiquidatable = errors.New("pool: asset cannot be liquidated")
)

// Economic and safety errors. A rejected fill leaves its order pending.
var (
	ErrInsufficientMargin     = errors.New("pool: insufficient margin")
	ErrInsufficientCollateral = errors.New("pool: insufficient collateral")
	ErrInsufficientBalance    = errors.New("pool: insufficient token balance")
	ErrInsufficientLiquidity  = errors.New("pool: insufficient spot liquidity")
	ErrInsufficientSize       = errors.New("pool: close size exceeds position size")
	ErrPositionLimitExceeded  = errors.New("pool: position size limit exceeded")
	ErrPositionSafe           = errors.New("pool: position is safe")
	ErrPositionNotEmpty       = errors.New("pool: position size is not zero")
	ErrPriceOutOfBounds       = errors.New("pool: fill price outside order bound")
	ErrLiquidityLocked        = errors.New("pool: liquidity lock period not elapsed")
	ErrOrderExpired           = errors.New("pool: order expired")
	ErrCoolDown               = errors.New("pool: cancel cool-down not elapsed")
	ErrMinProfitNotReached    = errors.New("pool: min profit not reached")
	ErrNoProfit               = errors.New("pool: no unrealized profit")
	ErrSharePriceOutOfBounds  = errors.New("pool: share price outside bounds")
	ErrSlippage               = errors.New("pool: amount exceeds max allowed")
	ErrCreditExceeded         = errors.New("pool: repay exceeds outstanding credit")
	ErrPoolValueMismatch      = errors.New("pool: pool value does not match ledger")
)
