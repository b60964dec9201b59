package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Role is a permission gate on engine operations.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleBroker     Role = "broker"
	RoleRebalancer Role = "rebalancer"
	RoleBorrower   Role = "borrower"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleBroker, RoleRebalancer, RoleBorrower:
		return true
	}
	return false
}

// RoleGrant records a role membership change, or a membership in a snapshot.
type RoleGrant struct {
	Role    Role           `json:"role"`
	Account common.Address `json:"account"`
	Granted bool           `json:"granted"`
}

// ChangeSet is everything one committed engine call wrote. Stores apply it
// atomically; slices hold the final value of each touched key.
type ChangeSet struct {
	Assets             []Asset            `json:"assets,omitempty"`
	SubAccounts        []SubAccountRecord `json:"sub_accounts,omitempty"`
	ClearedSubAccounts []SubAccountID     `json:"cleared_sub_accounts,omitempty"`
	Orders             []Order            `json:"orders,omitempty"`
	RemovedOrders      []uint64           `json:"removed_orders,omitempty"`
	Balances           []Balance          `json:"balances,omitempty"`
	Supplies           []Supply           `json:"supplies,omitempty"`
	BrokerFills        []BrokerFills      `json:"broker_fills,omitempty"`
	Roles              []RoleGrant        `json:"roles,omitempty"`
	PoolParams         *PoolParams        `json:"pool_params,omitempty"`
	OrderBookParams    *OrderBookParams   `json:"order_book_params,omitempty"`
	Globals            Globals            `json:"globals"`
	Events             []Event            `json:"events,omitempty"`
}

// Snapshot is the full persisted engine state.
type Snapshot struct {
	Assets          []Asset            `json:"assets"`
	SubAccounts     []SubAccountRecord `json:"sub_accounts"`
	Orders          []Order            `json:"orders"`
	Balances        []Balance          `json:"balances"`
	Supplies        []Supply           `json:"supplies"`
	BrokerFills     []BrokerFills      `json:"broker_fills"`
	Roles           []RoleGrant        `json:"roles"`
	PoolParams      PoolParams         `json:"pool_params"`
	OrderBookParams OrderBookParams    `json:"order_book_params"`
	Globals         Globals            `json:"globals"`
}

// DebtSupply is the outstanding supply of one asset's debt token.
type DebtSupply struct {
	AssetID uint8           `json:"asset_id"`
	Token   common.Address  `json:"token"`
	Supply  decimal.Decimal `json:"supply"`
}

// ChainStorage is the aggregate read view consumed by reporting tooling.
type ChainStorage struct {
	Assets          []Asset         `json:"assets"`
	ShareToken      common.Address  `json:"share_token"`
	ShareSupply     decimal.Decimal `json:"share_supply"`
	DebtSupplies    []DebtSupply    `json:"debt_supplies"`
	PoolParams      PoolParams      `json:"pool_params"`
	OrderBookParams OrderBookParams `json:"order_book_params"`
	LastFundingTime time.Time       `json:"last_funding_time"`
	NextOrderID     uint64          `json:"next_order_id"`
	PendingOrders   int             `json:"pending_orders"`
	GeneratedAt     time.Time       `json:"generated_at"`
}
