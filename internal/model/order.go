package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OrderType tags the kind of an order.
type OrderType uint8

const (
	OrderTypePosition OrderType = iota + 1
	OrderTypeLiquidity
	OrderTypeWithdrawal
	OrderTypeRebalance
)

func (t OrderType) String() string {
	switch t {
	case OrderTypePosition:
		return "position"
	case OrderTypeLiquidity:
		return "liquidity"
	case OrderTypeWithdrawal:
		return "withdrawal"
	case OrderTypeRebalance:
		return "rebalance"
	}
	return "unknown"
}

// PositionOrderFlags is the bitfield carried by position orders.
type PositionOrderFlags uint8

const (
	FlagOpen                 PositionOrderFlags = 0x80
	FlagMarket               PositionOrderFlags = 0x40
	FlagWithdrawAllIfEmpty   PositionOrderFlags = 0x20
	FlagTrigger              PositionOrderFlags = 0x10
	FlagTpslStrategy         PositionOrderFlags = 0x08
	FlagShouldReachMinProfit PositionOrderFlags = 0x04
)

func (f PositionOrderFlags) IsOpen() bool               { return f&FlagOpen != 0 }
func (f PositionOrderFlags) IsMarket() bool             { return f&FlagMarket != 0 }
func (f PositionOrderFlags) WithdrawAllIfEmpty() bool   { return f&FlagWithdrawAllIfEmpty != 0 }
func (f PositionOrderFlags) IsTrigger() bool            { return f&FlagTrigger != 0 }
func (f PositionOrderFlags) IsTpslStrategy() bool       { return f&FlagTpslStrategy != 0 }
func (f PositionOrderFlags) ShouldReachMinProfit() bool { return f&FlagShouldReachMinProfit != 0 }

// Order is the tagged union stored in the pending set. Exactly one of the
// kind payloads is set, matching Type.
type Order struct {
	ID       uint64         `json:"id"`
	Type     OrderType      `json:"type"`
	Account  common.Address `json:"account"`
	PlacedAt time.Time      `json:"placed_at"`
	Deadline time.Time      `json:"deadline"`

	Position   *PositionOrder   `json:"position,omitempty"`
	Liquidity  *LiquidityOrder  `json:"liquidity,omitempty"`
	Withdrawal *WithdrawalOrder `json:"withdrawal,omitempty"`
	Rebalance  *RebalanceOrder  `json:"rebalance,omitempty"`
}

// IsExpired reports whether the order's deadline has passed at now.
func (o Order) IsExpired(now time.Time) bool {
	return now.After(o.Deadline)
}

// Clone returns a deep copy so callers cannot alias stored payloads.
func (o Order) Clone() Order {
	c := o
	if o.Position != nil {
		p := *o.Position
		c.Position = &p
	}
	if o.Liquidity != nil {
		l := *o.Liquidity
		c.Liquidity = &l
	}
	if o.Withdrawal != nil {
		w := *o.Withdrawal
		c.Withdrawal = &w
	}
	if o.Rebalance != nil {
		r := *o.Rebalance
		c.Rebalance = &r
	}
	return c
}

// PositionOrder opens or closes a position. Collateral is escrowed for open
// orders; for close orders it is the amount to withdraw after closing.
type PositionOrder struct {
	SubAccountID  SubAccountID       `json:"sub_account_id"`
	Collateral    decimal.Decimal    `json:"collateral"`
	Size          decimal.Decimal    `json:"size"`
	Price         decimal.Decimal    `json:"price"`
	ProfitAssetID uint8              `json:"profit_asset_id"`
	Flags         PositionOrderFlags `json:"flags"`

	TakeProfitPrice   decimal.Decimal `json:"take_profit_price"`
	StopLossPrice     decimal.Decimal `json:"stop_loss_price"`
	TpslProfitAssetID uint8           `json:"tpsl_profit_asset_id"`
	TpslDeadline      time.Time       `json:"tpsl_deadline"`
}

// LiquidityOrder adds or removes pool liquidity. Amount is in the asset
// when adding and in share tokens when removing.
type LiquidityOrder struct {
	AssetID  uint8           `json:"asset_id"`
	Amount   decimal.Decimal `json:"amount"`
	IsAdding bool            `json:"is_adding"`
}

// WithdrawalOrder withdraws collateral, or realized profit when IsProfit.
type WithdrawalOrder struct {
	SubAccountID  SubAccountID    `json:"sub_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	ProfitAssetID uint8           `json:"profit_asset_id"`
	IsProfit      bool            `json:"is_profit"`
}

// RebalanceOrder swaps Amount0 of pool asset 0 for at most MaxAmount1 of
// asset 1 supplied by the rebalancer.
type RebalanceOrder struct {
	AssetID0   uint8           `json:"asset_id0"`
	AssetID1   uint8           `json:"asset_id1"`
	Amount0    decimal.Decimal `json:"amount0"`
	MaxAmount1 decimal.Decimal `json:"max_amount1"`
	UserData   common.Hash     `json:"user_data"`
}
