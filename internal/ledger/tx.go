package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/liquidity-pool/internal/model"
)

// ErrTxClosed is returned when a committed or discarded Tx is reused.
var ErrTxClosed = errors.New("ledger: transaction already closed")

type roleKey struct {
	role    model.Role
	account common.Address
}

// Tx is a copy-on-write overlay over State. Reads see staged writes; nothing
// reaches the State until Commit.
type Tx struct {
	base *State
	now  time.Time

	assets      map[uint8]model.Asset
	subAccounts map[model.SubAccountID]model.SubAccount
	orders      map[uint64]*model.Order // nil marks removal
	balances    map[balanceKey]*uint256.Int
	supplies    map[common.Address]*uint256.Int
	fills       map[common.Address]uint64
	roles       map[roleKey]bool
	roleLog     []model.RoleGrant
	pool        *model.PoolParams
	book        *model.OrderBookParams
	globals     model.Globals
	events      []model.Event

	closed bool
}

func newTx(s *State, now time.Time) *Tx {
	return &Tx{
		base:        s,
		now:         now,
		assets:      make(map[uint8]model.Asset),
		subAccounts: make(map[model.SubAccountID]model.SubAccount),
		orders:      make(map[uint64]*model.Order),
		balances:    make(map[balanceKey]*uint256.Int),
		supplies:    make(map[common.Address]*uint256.Int),
		fills:       make(map[common.Address]uint64),
		roles:       make(map[roleKey]bool),
		globals:     s.globals,
	}
}

// Now is the block time the transaction executes at.
func (tx *Tx) Now() time.Time { return tx.now }

// --- Assets ---

// Asset returns the current view of an asset.
func (tx *Tx) Asset(id uint8) (model.Asset, error) {
	if a, ok := tx.assets[id]; ok {
		return a, nil
	}
	return tx.base.Asset(id)
}

// HasAsset reports whether id is registered.
func (tx *Tx) HasAsset(id uint8) bool {
	_, err := tx.Asset(id)
	return err == nil
}

// PutAsset stages an asset write.
func (tx *Tx) PutAsset(a model.Asset) {
	tx.assets[a.ID] = a
}

// AssetIDs returns every registered id in ascending order.
func (tx *Tx) AssetIDs() []uint8 {
	seen := make(map[uint8]struct{}, len(tx.base.assets)+len(tx.assets))
	for id := range tx.base.assets {
		seen[id] = struct{}{}
	}
	for id := range tx.assets {
		seen[id] = struct{}{}
	}
	ids := make([]uint8, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- Sub-accounts ---

// SubAccount returns the current view of a sub-account.
func (tx *Tx) SubAccount(id model.SubAccountID) model.SubAccount {
	if sa, ok := tx.subAccounts[id]; ok {
		return sa
	}
	return tx.base.SubAccount(id)
}

// PutSubAccount stages a sub-account write. An empty sub-account is cleared
// on commit.
func (tx *Tx) PutSubAccount(id model.SubAccountID, sa model.SubAccount) {
	tx.subAccounts[id] = sa
}

// --- Orders ---

// Order returns a pending order.
func (tx *Tx) Order(id uint64) (model.Order, error) {
	if o, ok := tx.orders[id]; ok {
		if o == nil {
			return model.Order{}, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
		}
		return o.Clone(), nil
	}
	return tx.base.Order(id)
}

// PutOrder stages an insert or update of a pending order.
func (tx *Tx) PutOrder(o model.Order) {
	c := o.Clone()
	tx.orders[o.ID] = &c
}

// RemoveOrder stages removal of a pending order.
func (tx *Tx) RemoveOrder(id uint64) error {
	if _, err := tx.Order(id); err != nil {
		return err
	}
	tx.orders[id] = nil
	return nil
}

// PendingOrders returns all pending orders as seen by the transaction, in
// ascending id order.
func (tx *Tx) PendingOrders() []model.Order {
	ids := make(map[uint64]struct{}, len(tx.base.orders))
	for id := range tx.base.orders {
		ids[id] = struct{}{}
	}
	for id := range tx.orders {
		ids[id] = struct{}{}
	}
	sorted := make([]uint64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []model.Order
	for _, id := range sorted {
		if o, err := tx.Order(id); err == nil {
			out = append(out, o)
		}
	}
	return out
}

// AllocOrderID reserves the next order id. Ids are never reused.
func (tx *Tx) AllocOrderID() uint64 {
	id := tx.globals.NextOrderID
	tx.globals.NextOrderID++
	return id
}

// --- Globals and params ---

// LastFundingTime returns the last funding boundary.
func (tx *Tx) LastFundingTime() time.Time { return tx.globals.LastFundingTime }

// SetLastFundingTime stages a new funding boundary.
func (tx *Tx) SetLastFundingTime(t time.Time) { tx.globals.LastFundingTime = t }

// PoolParams returns the current pool parameters.
func (tx *Tx) PoolParams() model.PoolParams {
	if tx.pool != nil {
		return *tx.pool
	}
	return tx.base.pool
}

// SetPoolParams stages new pool parameters.
func (tx *Tx) SetPoolParams(p model.PoolParams) { tx.pool = &p }

// OrderBookParams returns the current order lifecycle windows.
func (tx *Tx) OrderBookParams() model.OrderBookParams {
	if tx.book != nil {
		return *tx.book
	}
	return tx.base.book
}

// SetOrderBookParams stages new order lifecycle windows.
func (tx *Tx) SetOrderBookParams(p model.OrderBookParams) { tx.book = &p }

// --- Roles ---

// HasRole implements access.Checker.
func (tx *Tx) HasRole(role model.Role, account common.Address) bool {
	if granted, ok := tx.roles[roleKey{role, account}]; ok {
		return granted
	}
	return tx.base.HasRole(role, account)
}

// SetRole stages a grant or revocation.
func (tx *Tx) SetRole(g model.RoleGrant) {
	tx.roles[roleKey{g.Role, g.Account}] = g.Granted
	tx.roleLog = append(tx.roleLog, g)
}

// --- Broker fills ---

// BrokerFills returns the unclaimed fill count of broker.
func (tx *Tx) BrokerFills(broker common.Address) uint64 {
	if n, ok := tx.fills[broker]; ok {
		return n
	}
	return tx.base.BrokerFills(broker)
}

// CountFill records one fill for the broker gas rebate.
func (tx *Tx) CountFill(broker common.Address) {
	tx.fills[broker] = tx.BrokerFills(broker) + 1
}

// ResetFills clears broker's counter after a rebate claim.
func (tx *Tx) ResetFills(broker common.Address) {
	tx.fills[broker] = 0
}

// --- Events ---

// Emit appends an event. Sequence numbers are assigned in emission order.
func (tx *Tx) Emit(typ model.EventType, orderID uint64, account common.Address, attrs map[string]string) {
	tx.globals.EventSeq++
	tx.events = append(tx.events, model.Event{
		Seq:     tx.globals.EventSeq,
		Type:    typ,
		Time:    tx.now,
		OrderID: orderID,
		Account: account,
		Attrs:   attrs,
	})
}

// Events returns the events emitted so far.
func (tx *Tx) Events() []model.Event {
	return tx.events
}

// --- Lifecycle ---

// Discard drops every staged write.
func (tx *Tx) Discard() {
	tx.closed = true
}

// Commit applies every staged write to the State and returns what changed.
func (tx *Tx) Commit() (model.ChangeSet, error) {
	if tx.closed {
		return model.ChangeSet{}, ErrTxClosed
	}
	tx.closed = true
	s := tx.base
	var cs model.ChangeSet

	for id, a := range tx.assets {
		s.assets[id] = a
		cs.Assets = append(cs.Assets, a)
	}
	sort.Slice(cs.Assets, func(i, j int) bool { return cs.Assets[i].ID < cs.Assets[j].ID })

	for id, sa := range tx.subAccounts {
		if sa.IsEmpty() {
			if _, ok := s.subAccounts[id]; ok {
				delete(s.subAccounts, id)
				cs.ClearedSubAccounts = append(cs.ClearedSubAccounts, id)
			}
			continue
		}
		s.subAccounts[id] = sa
		cs.SubAccounts = append(cs.SubAccounts, model.SubAccountRecord{ID: id, SubAccount: sa})
	}
	sortSubAccounts(cs.SubAccounts)
	sort.Slice(cs.ClearedSubAccounts, func(i, j int) bool {
		return cs.ClearedSubAccounts[i].Hex() < cs.ClearedSubAccounts[j].Hex()
	})

	for id, o := range tx.orders {
		if o == nil {
			if _, ok := s.orders[id]; ok {
				delete(s.orders, id)
				cs.RemovedOrders = append(cs.RemovedOrders, id)
			}
			continue
		}
		s.orders[id] = *o
		cs.Orders = append(cs.Orders, o.Clone())
	}
	sort.Slice(cs.Orders, func(i, j int) bool { return cs.Orders[i].ID < cs.Orders[j].ID })
	sort.Slice(cs.RemovedOrders, func(i, j int) bool { return cs.RemovedOrders[i] < cs.RemovedOrders[j] })

	for k, v := range tx.balances {
		if v.IsZero() {
			delete(s.balances, k)
		} else {
			s.balances[k] = v
		}
		cs.Balances = append(cs.Balances, model.Balance{Token: k.token, Holder: k.holder, Amount: v.ToBig().String()})
	}
	sortBalances(cs.Balances)

	for t, v := range tx.supplies {
		s.supplies[t] = v
		cs.Supplies = append(cs.Supplies, model.Supply{Token: t, Amount: v.ToBig().String()})
	}
	sortSupplies(cs.Supplies)

	for b, n := range tx.fills {
		if n == 0 {
			delete(s.fills, b)
		} else {
			s.fills[b] = n
		}
		cs.BrokerFills = append(cs.BrokerFills, model.BrokerFills{Broker: b, Fills: n})
	}
	sortFills(cs.BrokerFills)

	for _, g := range tx.roleLog {
		s.roles.Apply(g)
	}
	cs.Roles = tx.roleLog

	if tx.pool != nil {
		s.pool = *tx.pool
		cs.PoolParams = tx.pool
	}
	if tx.book != nil {
		s.book = *tx.book
		cs.OrderBookParams = tx.book
	}

	s.globals = tx.globals
	cs.Globals = tx.globals
	cs.Events = tx.events
	return cs, nil
}

// Attrs builds an event attribute map from alternating key/value pairs.
// Values are formatted with fmt's %v, except fmt.Stringer values.
func Attrs(kv ...any) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			m[key] = v
		case fmt.Stringer:
			m[key] = v.String()
		case bool:
			m[key] = strconv.FormatBool(v)
		default:
			m[key] = fmt.Sprint(v)
		}
	}
	return m
}
