package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/liquidity-pool/internal/access"
	"github.com/atmx/liquidity-pool/internal/model"
)

type balanceKey struct {
	token  common.Address
	holder common.Address
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	applied     bool
	assets      map[uint8]model.Asset
	subAccounts map[model.SubAccountID]model.SubAccountRecord
	orders      map[uint64]model.Order
	balances    map[balanceKey]string
	supplies    map[common.Address]string
	fills       map[common.Address]uint64
	roles       access.Set
	pool        model.PoolParams
	book        model.OrderBookParams
	globals     model.Globals
	events      []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:      make(map[uint8]model.Asset),
		subAccounts: make(map[model.SubAccountID]model.SubAccountRecord),
		orders:      make(map[uint64]model.Order),
		balances:    make(map[balanceKey]string),
		supplies:    make(map[common.Address]string),
		fills:       make(map[common.Address]uint64),
		roles:       access.NewSet(),
	}
}

func (s *MemoryStore) Apply(_ context.Context, cs model.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applied = true
	for _, a := range cs.Assets {
		s.assets[a.ID] = a
	}
	for _, r := range cs.SubAccounts {
		s.subAccounts[r.ID] = r
	}
	for _, id := range cs.ClearedSubAccounts {
		delete(s.subAccounts, id)
	}
	for _, o := range cs.Orders {
		s.orders[o.ID] = o.Clone()
	}
	for _, id := range cs.RemovedOrders {
		delete(s.orders, id)
	}
	for _, b := range cs.Balances {
		k := balanceKey{b.Token, b.Holder}
		if b.Amount == "0" {
			delete(s.balances, k)
			continue
		}
		s.balances[k] = b.Amount
	}
	for _, sp := range cs.Supplies {
		s.supplies[sp.Token] = sp.Amount
	}
	for _, f := range cs.BrokerFills {
		if f.Fills == 0 {
			delete(s.fills, f.Broker)
			continue
		}
		s.fills[f.Broker] = f.Fills
	}
	for _, g := range cs.Roles {
		s.roles.Apply(g)
	}
	if cs.PoolParams != nil {
		s.pool = *cs.PoolParams
	}
	if cs.OrderBookParams != nil {
		s.book = *cs.OrderBookParams
	}
	s.globals = cs.Globals
	s.events = append(s.events, cs.Events...)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (model.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.applied {
		return model.Snapshot{}, false, nil
	}
	snap := model.Snapshot{
		Roles:           s.roles.Grants(),
		PoolParams:      s.pool,
		OrderBookParams: s.book,
		Globals:         s.globals,
	}
	for _, a := range s.assets {
		snap.Assets = append(snap.Assets, a)
	}
	sort.Slice(snap.Assets, func(i, j int) bool { return snap.Assets[i].ID < snap.Assets[j].ID })
	for _, r := range s.subAccounts {
		snap.SubAccounts = append(snap.SubAccounts, r)
	}
	sort.Slice(snap.SubAccounts, func(i, j int) bool { return snap.SubAccounts[i].ID.Hex() < snap.SubAccounts[j].ID.Hex() })
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o.Clone())
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	for k, v := range s.balances {
		snap.Balances = append(snap.Balances, model.Balance{Token: k.token, Holder: k.holder, Amount: v})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		if c := snap.Balances[i].Token.Cmp(snap.Balances[j].Token); c != 0 {
			return c < 0
		}
		return snap.Balances[i].Holder.Cmp(snap.Balances[j].Holder) < 0
	})
	for t, v := range s.supplies {
		snap.Supplies = append(snap.Supplies, model.Supply{Token: t, Amount: v})
	}
	sort.Slice(snap.Supplies, func(i, j int) bool { return snap.Supplies[i].Token.Cmp(snap.Supplies[j].Token) < 0 })
	for b, n := range s.fills {
		snap.BrokerFills = append(snap.BrokerFills, model.BrokerFills{Broker: b, Fills: n})
	}
	sort.Slice(snap.BrokerFills, func(i, j int) bool { return snap.BrokerFills[i].Broker.Cmp(snap.BrokerFills[j].Broker) < 0 })
	return snap, true, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, f model.EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if !f.Matches(e) {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}
