// Package ledger owns the engine's mutable state: the asset table, the
// sub-account map, the pending order set, the token bank and the scalar
// globals. All writes go through a Tx overlay that either commits entirely
// or is discarded, so a failed operation never leaves partial state behind.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/liquidity-pool/internal/access"
	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/model"
)

// Well-known bank accounts.
var (
	// VaultAccount holds the pool's tokens: spot liquidity, collected fees
	// and trader collateral.
	VaultAccount = common.HexToAddress("0x000000000000000000000000000000000000f001")

	// EscrowAccount holds funds of pending orders.
	EscrowAccount = common.HexToAddress("0x000000000000000000000000000000000000f002")
)

type balanceKey struct {
	token  common.Address
	holder common.Address
}

// State is the committed engine state. It is not safe for concurrent use;
// the owning engine serializes access.
type State struct {
	assets      map[uint8]model.Asset
	subAccounts map[model.SubAccountID]model.SubAccount
	orders      map[uint64]model.Order
	balances    map[balanceKey]*uint256.Int
	supplies    map[common.Address]*uint256.Int
	fills       map[common.Address]uint64
	roles       access.Set
	pool        model.PoolParams
	book        model.OrderBookParams
	globals     model.Globals
}

// NewState returns an empty state. Order ids start at 1.
func NewState() *State {
	return &State{
		assets:      make(map[uint8]model.Asset),
		subAccounts: make(map[model.SubAccountID]model.SubAccount),
		orders:      make(map[uint64]model.Order),
		balances:    make(map[balanceKey]*uint256.Int),
		supplies:    make(map[common.Address]*uint256.Int),
		fills:       make(map[common.Address]uint64),
		roles:       access.NewSet(),
		globals:     model.Globals{NextOrderID: 1},
	}
}

// Begin opens a transaction overlay evaluated at now.
func (s *State) Begin(now time.Time) *Tx {
	return newTx(s, now)
}

// Restore replaces the state with a persisted snapshot.
func (s *State) Restore(snap model.Snapshot) error {
	fresh := NewState()
	for _, a := range snap.Assets {
		fresh.assets[a.ID] = a
	}
	for _, r := range snap.SubAccounts {
		fresh.subAccounts[r.ID] = r.SubAccount
	}
	for _, o := range snap.Orders {
		fresh.orders[o.ID] = o.Clone()
	}
	for _, b := range snap.Balances {
		v, err := fixed.ParseRaw(b.Amount)
		if err != nil {
			return fmt.Errorf("restore balance %s/%s: %w", b.Token.Hex(), b.Holder.Hex(), err)
		}
		if !v.IsZero() {
			fresh.balances[balanceKey{b.Token, b.Holder}] = v
		}
	}
	for _, sp := range snap.Supplies {
		v, err := fixed.ParseRaw(sp.Amount)
		if err != nil {
			return fmt.Errorf("restore supply %s: %w", sp.Token.Hex(), err)
		}
		fresh.supplies[sp.Token] = v
	}
	for _, f := range snap.BrokerFills {
		if f.Fills > 0 {
			fresh.fills[f.Broker] = f.Fills
		}
	}
	for _, g := range snap.Roles {
		fresh.roles.Apply(g)
	}
	fresh.pool = snap.PoolParams
	fresh.book = snap.OrderBookParams
	fresh.globals = snap.Globals
	if fresh.globals.NextOrderID == 0 {
		fresh.globals.NextOrderID = 1
	}
	*s = *fresh
	return nil
}

// Snapshot returns a deep copy of the full state.
func (s *State) Snapshot() model.Snapshot {
	snap := model.Snapshot{
		Assets:          s.Assets(),
		SubAccounts:     s.SubAccounts(),
		Orders:          s.Orders(0, 0),
		Roles:           s.roles.Grants(),
		PoolParams:      s.pool,
		OrderBookParams: s.book,
		Globals:         s.globals,
	}
	for k, v := range s.balances {
		snap.Balances = append(snap.Balances, model.Balance{Token: k.token, Holder: k.holder, Amount: v.ToBig().String()})
	}
	sortBalances(snap.Balances)
	for t, v := range s.supplies {
		snap.Supplies = append(snap.Supplies, model.Supply{Token: t, Amount: v.ToBig().String()})
	}
	sortSupplies(snap.Supplies)
	for b, n := range s.fills {
		snap.BrokerFills = append(snap.BrokerFills, model.BrokerFills{Broker: b, Fills: n})
	}
	sortFills(snap.BrokerFills)
	return snap
}

// --- Reads ---

// Asset returns the asset with id.
func (s *State) Asset(id uint8) (model.Asset, error) {
	a, ok := s.assets[id]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %d", model.ErrAssetNotFound, id)
	}
	return a, nil
}

// Assets returns all assets ordered by id.
func (s *State) Assets() []model.Asset {
	out := make([]model.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SubAccount returns the sub-account, zero-valued if never touched.
func (s *State) SubAccount(id model.SubAccountID) model.SubAccount {
	return s.subAccounts[id]
}

// SubAccounts returns all non-empty sub-accounts ordered by packed id.
func (s *State) SubAccounts() []model.SubAccountRecord {
	out := make([]model.SubAccountRecord, 0, len(s.subAccounts))
	for id, sa := range s.subAccounts {
		out = append(out, model.SubAccountRecord{ID: id, SubAccount: sa})
	}
	sortSubAccounts(out)
	return out
}

// SubAccountsOf returns the non-empty sub-accounts owned by account.
func (s *State) SubAccountsOf(account common.Address) []model.SubAccountRecord {
	var out []model.SubAccountRecord
	for id, sa := range s.subAccounts {
		if id.Account == account {
			out = append(out, model.SubAccountRecord{ID: id, SubAccount: sa})
		}
	}
	sortSubAccounts(out)
	return out
}

// Order returns a pending order.
func (s *State) Order(id uint64) (model.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
	}
	return o.Clone(), nil
}

// Orders returns pending orders in ascending id order, skipping offset and
// returning at most limit (0 = all).
func (s *State) Orders(offset, limit int) []model.Order {
	ids := make([]uint64, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset >= len(ids) {
		return []model.Order{}
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.orders[id].Clone())
	}
	return out
}

// OrderCount returns the number of pending orders.
func (s *State) OrderCount() int {
	return len(s.orders)
}

// BalanceOf returns holder's raw balance of token.
func (s *State) BalanceOf(token, holder common.Address) *uint256.Int {
	if v, ok := s.balances[balanceKey{token, holder}]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// TotalSupply returns the raw supply of a minted token.
func (s *State) TotalSupply(token common.Address) *uint256.Int {
	if v, ok := s.supplies[token]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// BrokerFills returns the unclaimed fill count of broker.
func (s *State) BrokerFills(broker common.Address) uint64 {
	return s.fills[broker]
}

// HasRole implements access.Checker.
func (s *State) HasRole(role model.Role, account common.Address) bool {
	return s.roles.HasRole(role, account)
}

// Members lists the holders of role.
func (s *State) Members(role model.Role) []common.Address {
	return s.roles.Members(role)
}

// PoolParams returns the pool-wide parameters.
func (s *State) PoolParams() model.PoolParams { return s.pool }

// OrderBookParams returns the order lifecycle windows.
func (s *State) OrderBookParams() model.OrderBookParams { return s.book }

// Globals returns the scalar state.
func (s *State) Globals() model.Globals { return s.globals }

// --- ordering helpers ---

func sortSubAccounts(rs []model.SubAccountRecord) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID.Hex() < rs[j].ID.Hex() })
}

func sortBalances(bs []model.Balance) {
	sort.Slice(bs, func(i, j int) bool {
		if c := bs[i].Token.Cmp(bs[j].Token); c != 0 {
			return c < 0
		}
		return bs[i].Holder.Cmp(bs[j].Holder) < 0
	})
}

func sortSupplies(ss []model.Supply) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].Token.Cmp(ss[j].Token) < 0 })
}

func sortFills(fs []model.BrokerFills) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].Broker.Cmp(fs[j].Broker) < 0 })
}
