// Package model defines the core domain types shared across the pool engine.
// All monetary values use shopspring/decimal, never float64 for money.
// Ledger quantities carry 18 fractional digits; raw token amounts use uint256.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Asset is one supported token. The id space is shared by the collateral
// and tradable roles.
type Asset struct {
	ID        uint8          `json:"id"`
	Symbol    string         `json:"symbol"`
	Decimals  uint8          `json:"decimals"`
	Token     common.Address `json:"token"`
	DebtToken common.Address `json:"debt_token"`

	// Reserves.
	SpotLiquidity decimal.Decimal `json:"spot_liquidity"`
	CollectedFee  decimal.Decimal `json:"collected_fee"`
	Credit        decimal.Decimal `json:"credit"`

	// Exposure aggregates.
	TotalLongPosition  decimal.Decimal `json:"total_long_position"`
	AverageLongPrice   decimal.Decimal `json:"average_long_price"`
	TotalShortPosition decimal.Decimal `json:"total_short_position"`
	AverageShortPrice  decimal.Decimal `json:"average_short_price"`

	// Funding state. The long index is a dimensionless rate; the short index
	// accumulates rate*price at every accrual.
	LongCumulativeFundingRate decimal.Decimal `json:"long_cumulative_funding_rate"`
	ShortCumulativeFunding    decimal.Decimal `json:"short_cumulative_funding"`
	LongFundingBaseRate8H     decimal.Decimal `json:"long_funding_base_rate_8h"`
	LongFundingLimitRate8H    decimal.Decimal `json:"long_funding_limit_rate_8h"`
	ShortFundingBaseRate8H    decimal.Decimal `json:"short_funding_base_rate_8h"`
	ShortFundingLimitRate8H   decimal.Decimal `json:"short_funding_limit_rate_8h"`

	AssetParams
	AssetFlags
}

// AssetParams are the governance-set risk parameters of an asset.
type AssetParams struct {
	InitialMarginRate     decimal.Decimal `json:"initial_margin_rate"`
	MaintenanceMarginRate decimal.Decimal `json:"maintenance_margin_rate"`
	PositionFeeRate       decimal.Decimal `json:"position_fee_rate"`
	LiquidationFeeRate    decimal.Decimal `json:"liquidation_fee_rate"`
	MinProfitRate         decimal.Decimal `json:"min_profit_rate"`
	MinProfitTime         time.Duration   `json:"min_profit_time"`
	MaxLongPositionSize   decimal.Decimal `json:"max_long_position_size"`
	MaxShortPositionSize  decimal.Decimal `json:"max_short_position_size"`
	SpotWeight            decimal.Decimal `json:"spot_weight"`
	HalfSpread            decimal.Decimal `json:"half_spread"`
	// LiquidityLockPeriod overrides the order-book default when non-zero.
	LiquidityLockPeriod time.Duration `json:"liquidity_lock_period"`
}

// AssetFlags are the boolean switches of an asset.
type AssetFlags struct {
	IsStable                bool `json:"is_stable"`
	IsTradable              bool `json:"is_tradable"`
	IsOpenable              bool `json:"is_openable"`
	IsShortable             bool `json:"is_shortable"`
	UseStableTokenForProfit bool `json:"use_stable_token_for_profit"`
	IsEnabled               bool `json:"is_enabled"`
	IsStrictStable          bool `json:"is_strict_stable"`
	CanBeLiquidated         bool `json:"can_be_liquidated"`
	CanAddRemoveLiquidity   bool `json:"can_add_remove_liquidity"`
}

// FundingParams are the 8-hour base/limit rates of an asset.
type FundingParams struct {
	LongBaseRate8H   decimal.Decimal `json:"long_base_rate_8h"`
	LongLimitRate8H  decimal.Decimal `json:"long_limit_rate_8h"`
	ShortBaseRate8H  decimal.Decimal `json:"short_base_rate_8h"`
	ShortLimitRate8H decimal.Decimal `json:"short_limit_rate_8h"`
}

// PoolParams are pool-wide parameters.
type PoolParams struct {
	FundingInterval         time.Duration   `json:"funding_interval"`
	LiquidityBaseFeeRate    decimal.Decimal `json:"liquidity_base_fee_rate"`
	LiquidityDynamicFeeRate decimal.Decimal `json:"liquidity_dynamic_fee_rate"`
	ShareToken              common.Address  `json:"share_token"`
	SharePriceLowerBound    decimal.Decimal `json:"share_price_lower_bound"`
	SharePriceUpperBound    decimal.Decimal `json:"share_price_upper_bound"`
	// BrokerGasRebate is the USD stipend a broker may claim per fill.
	BrokerGasRebate decimal.Decimal `json:"broker_gas_rebate"`
}

// OrderBookParams are the time windows of the order lifecycle.
type OrderBookParams struct {
	LiquidityLockPeriod   time.Duration `json:"liquidity_lock_period"`
	LiquidityOrderTimeout time.Duration `json:"liquidity_order_timeout"`
	MarketOrderTimeout    time.Duration `json:"market_order_timeout"`
	MaxLimitOrderTimeout  time.Duration `json:"max_limit_order_timeout"`
	CancelCoolDown        time.Duration `json:"cancel_cool_down"`
}

// Globals are the scalar pieces of engine state.
type Globals struct {
	NextOrderID     uint64    `json:"next_order_id"`
	LastFundingTime time.Time `json:"last_funding_time"`
	EventSeq        uint64    `json:"event_seq"`
}

// Balance is one holder's raw balance of one token.
type Balance struct {
	Token  common.Address `json:"token"`
	Holder common.Address `json:"holder"`
	Amount string         `json:"amount"` // base-10 raw units
}

// Supply is the raw total supply of one token.
type Supply struct {
	Token  common.Address `json:"token"`
	Amount string         `json:"amount"`
}

// BrokerFills counts fills a broker has not yet claimed a rebate for.
type BrokerFills struct {
	Broker common.Address `json:"broker"`
	Fills  uint64         `json:"fills"`
}
