// Package orderbook is the pool engine: the asynchronous order lifecycle
// that gates every ledger mutation, plus the direct broker, borrower and
// admin entry points and the read views.
//
// Orders move Pending -> {Filled | Cancelled | Expired}. Untrusted accounts
// place orders; brokers fill them with fresh prices. Every state-mutating
// method runs to completion under one mutex against a ledger transaction
// that is committed entirely or discarded, so a failed call leaves no trace
// and a rejected fill leaves its order pending.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/access"
	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/limits"
	"github.com/atmx/liquidity-pool/internal/metrics"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/position"
)

// ErrNotPersisted is returned when an operation took effect in the engine
// but the store failed to record it.
var ErrNotPersisted = errors.New("orderbook: committed but not persisted")

// DefaultPersistTimeout bounds how long a committed change may take to reach
// the store and publishers.
const DefaultPersistTimeout = 5 * time.Second

// Persister records committed change sets.
type Persister interface {
	Apply(ctx context.Context, cs model.ChangeSet) error
}

// Publisher receives committed events in execution order.
type Publisher interface {
	Publish(ctx context.Context, events []model.Event)
}

// Engine serializes all pool mutations.
type Engine struct {
	mu        sync.Mutex
	state     *ledger.State
	positions *position.Engine
	persister Persister
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPersister records every committed change set.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

// WithPublisher streams committed events.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithPersistTimeout overrides DefaultPersistTimeout.
func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides time.Now, for tests and replay.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPositionLimiter sets the per-sub-account size cap.
func WithPositionLimiter(l *limits.PositionLimiter) Option {
	return func(e *Engine) { e.positions = position.NewEngine(l) }
}

// New creates an engine over state.
func New(state *ledger.State, opts ...Option) *Engine {
	e := &Engine{
		state:     state,
		positions: position.NewEngine(nil),
		timeout:   DefaultPersistTimeout,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	metrics.PendingOrders.Set(float64(state.OrderCount()))
	return e
}

// exec runs fn in one transaction under the engine lock. On success the
// change set is persisted and its events published.
func (e *Engine) exec(ctx context.Context, op string, fn func(tx *ledger.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execLocked(ctx, op, fn)
}

func (e *Engine) execLocked(ctx context.Context, op string, fn func(tx *ledger.Tx) error) error {
	tx := e.state.Begin(e.now().UTC())
	if err := fn(tx); err != nil {
		tx.Discard()
		return err
	}
	cs, err := tx.Commit()
	if err != nil {
		return err
	}
	metrics.PendingOrders.Set(float64(e.state.OrderCount()))
	e.observe(cs.Events)

	// The change is already committed in memory; the caller going away must
	// not keep it from the store.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	var persistErr error
	if e.persister != nil {
		if err := e.persister.Apply(ctx, cs); err != nil {
			metrics.PersistFailures.Inc()
			e.log.Error("persist change set", "op", op, "error", err)
			persistErr = fmt.Errorf("%w: %s: %v", ErrNotPersisted, op, err)
		}
	}
	if e.publisher != nil && len(cs.Events) > 0 {
		e.publisher.Publish(ctx, cs.Events)
	}
	return persistErr
}

// observe feeds committed events into metrics.
func (e *Engine) observe(events []model.Event) {
	for _, ev := range events {
		switch ev.Type {
		case model.EventIssueDebt:
			metrics.DebtIssued.WithLabelValues(ev.Attrs["asset_id"]).Inc()
		case model.EventLiquidate:
			metrics.Liquidations.WithLabelValues(ev.Attrs["asset_id"]).Inc()
		}
	}
}

// rejectFill logs and counts a failed broker fill.
func (e *Engine) rejectFill(kind model.OrderType, orderID uint64, err error) {
	metrics.FillRejections.WithLabelValues(kind.String(), Reason(err)).Inc()
	e.log.Warn("fill rejected", "kind", kind.String(), "order_id", orderID, "error", err)
}

func observeLatency(kind string, start time.Time) {
	metrics.FillLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// requireOwnerOf checks that caller is the account an operation acts for.
func requireOwnerOf(caller, account common.Address) error {
	if caller != account {
		return fmt.Errorf("%w: %s acting for %s", model.ErrUnauthorized, caller.Hex(), account.Hex())
	}
	return nil
}

func requireBroker(tx *ledger.Tx, caller common.Address) error {
	return access.Require(tx, caller, model.RoleBroker)
}

// --- reads ---

// Asset returns one asset snapshot.
func (e *Engine) Asset(id uint8) (model.Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Asset(id)
}

// Assets returns all assets by id.
func (e *Engine) Assets() []model.Asset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Assets()
}

// SubAccount returns one sub-account snapshot; absent sub-accounts are zero.
func (e *Engine) SubAccount(id model.SubAccountID) model.SubAccount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.SubAccount(id)
}

// SubAccountsOf returns the non-empty sub-accounts of one trader.
func (e *Engine) SubAccountsOf(account common.Address) []model.SubAccountRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.SubAccountsOf(account)
}

// Margin evaluates a sub-account at the given prices.
func (e *Engine) Margin(id model.SubAccountID, collateralPrice, price decimal.Decimal) (position.Margin, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !collateralPrice.IsPositive() || !price.IsPositive() {
		return position.Margin{}, model.ErrInvalidPrice
	}
	a, err := e.state.Asset(id.AssetID)
	if err != nil {
		return position.Margin{}, err
	}
	return position.Evaluate(a, e.state.SubAccount(id), id.IsLong, collateralPrice, price, e.now().UTC()), nil
}

// Order returns one pending order.
func (e *Engine) Order(id uint64) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Order(id)
}

// Orders pages through pending orders by ascending id. It also returns the
// total number of pending orders.
func (e *Engine) Orders(offset, limit int) ([]model.Order, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Orders(offset, limit), e.state.OrderCount()
}

// BalanceOf returns holder's balance of token in ledger units.
func (e *Engine) BalanceOf(token, holder common.Address, decimals uint8) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fixed.ToWad(e.state.BalanceOf(token, holder), decimals)
}

// BrokerFills returns the fills a broker has not claimed a rebate for.
func (e *Engine) BrokerFills(broker common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.BrokerFills(broker)
}

// Members lists the holders of a role.
func (e *Engine) Members(role model.Role) []common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Members(role)
}

// PoolParams returns the pool-wide parameters.
func (e *Engine) PoolParams() model.PoolParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.PoolParams()
}

// OrderBookParams returns the order lifecycle windows.
func (e *Engine) OrderBookParams() model.OrderBookParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.OrderBookParams()
}

// ChainStorage returns the aggregate reporting view.
func (e *Engine) ChainStorage() model.ChainStorage {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool := e.state.PoolParams()
	g := e.state.Globals()
	assets := e.state.Assets()
	cs := model.ChainStorage{
		Assets:          assets,
		ShareToken:      pool.ShareToken,
		ShareSupply:     fixed.ToWad(e.state.TotalSupply(pool.ShareToken), ledger.ShareDecimals),
		DebtSupplies:    make([]model.DebtSupply, 0, len(assets)),
		PoolParams:      pool,
		OrderBookParams: e.state.OrderBookParams(),
		LastFundingTime: g.LastFundingTime,
		NextOrderID:     g.NextOrderID,
		PendingOrders:   e.state.OrderCount(),
		GeneratedAt:     e.now().UTC(),
	}
	for _, a := range assets {
		cs.DebtSupplies = append(cs.DebtSupplies, model.DebtSupply{
			AssetID: a.ID,
			Token:   a.DebtToken,
			Supply:  fixed.ToWad(e.state.TotalSupply(a.DebtToken), ledger.ShareDecimals),
		})
	}
	return cs
}

// Snapshot returns the full engine state, e.g. for a store re-sync.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}

// DebtSupply returns the outstanding debt token supply of one asset.
func (e *Engine) DebtSupply(assetID uint8) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.state.Asset(assetID)
	if err != nil {
		return decimal.Zero, err
	}
	return fixed.ToWad(e.state.TotalSupply(a.DebtToken), ledger.ShareDecimals), nil
}

// committed reports whether an operation took effect, persisted or not.
func committed(err error) bool {
	return err == nil || errors.Is(err, ErrNotPersisted)
}
