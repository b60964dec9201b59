package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names an engine event.
type EventType string

const (
	EventNewPositionOrder     EventType = "NewPositionOrder"
	EventNewLiquidityOrder    EventType = "NewLiquidityOrder"
	EventNewWithdrawalOrder   EventType = "NewWithdrawalOrder"
	EventNewRebalanceOrder    EventType = "NewRebalanceOrder"
	EventFillOrder            EventType = "FillOrder"
	EventCancelOrder          EventType = "CancelOrder"
	EventOpenPosition         EventType = "OpenPosition"
	EventClosePosition        EventType = "ClosePosition"
	EventLiquidate            EventType = "Liquidate"
	EventDepositCollateral    EventType = "DepositCollateral"
	EventWithdrawCollateral   EventType = "WithdrawCollateral"
	EventWithdrawProfit       EventType = "WithdrawProfit"
	EventAddLiquidity         EventType = "AddLiquidity"
	EventRemoveLiquidity      EventType = "RemoveLiquidity"
	EventBorrowAsset          EventType = "BorrowAsset"
	EventRepayAsset           EventType = "RepayAsset"
	EventIssueDebt            EventType = "IssueDebt"
	EventRedeemDebt           EventType = "RedeemDebt"
	EventUpdateFunding        EventType = "UpdateFunding"
	EventRebalance            EventType = "Rebalance"
	EventClaimBrokerGasRebate EventType = "ClaimBrokerGasRebate"
	EventAssetUpdated         EventType = "AssetUpdated"
	EventRoleUpdated          EventType = "RoleUpdated"
	EventFundAccount          EventType = "FundAccount"
)

// Event is an immutable record of one engine effect. Amounts are carried as
// decimal strings in Attrs so history can be rebuilt off-line.
type Event struct {
	Seq     uint64            `json:"seq"`
	Type    EventType         `json:"type"`
	Time    time.Time         `json:"time"`
	OrderID uint64            `json:"order_id,omitempty"`
	Account common.Address    `json:"account"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// EventFilter narrows an event history query. Zero fields match everything.
type EventFilter struct {
	OrderID uint64
	Account *common.Address
	Type    EventType
	Limit   int
}

// Matches reports whether e passes the filter.
func (f EventFilter) Matches(e Event) bool {
	if f.OrderID != 0 && e.OrderID != f.OrderID {
		return false
	}
	if f.Account != nil && e.Account != *f.Account {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}
