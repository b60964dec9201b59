package orderbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/metrics"
	"github.com/atmx/liquidity-pool/internal/model"
)

// newOrder assigns the next id, inserts o into the pending set and emits the
// kind's placement event.
func newOrder(tx *ledger.Tx, o model.Order, attrs map[string]string) model.Order {
	o.ID = tx.AllocOrderID()
	o.PlacedAt = tx.Now()
	tx.PutOrder(o)

	typ := model.EventNewPositionOrder
	switch o.Type {
	case model.OrderTypeLiquidity:
		typ = model.EventNewLiquidityOrder
	case model.OrderTypeWithdrawal:
		typ = model.EventNewWithdrawalOrder
	case model.OrderTypeRebalance:
		typ = model.EventNewRebalanceOrder
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["deadline"] = o.Deadline.Format(time.RFC3339)
	tx.Emit(typ, o.ID, o.Account, attrs)
	return o
}

// pendingOrder loads an order that must be of kind typ.
func pendingOrder(tx *ledger.Tx, id uint64, typ model.OrderType) (model.Order, error) {
	o, err := tx.Order(id)
	if err != nil {
		return o, err
	}
	if o.Type != typ {
		return o, fmt.Errorf("%w: order %d is a %s order, not %s", model.ErrOrderNotFound, id, o.Type, typ)
	}
	return o, nil
}

// requireFillable checks the order has not expired and removes it from the
// pending set. The removal is discarded with the tx if the fill fails.
func requireFillable(tx *ledger.Tx, o model.Order) error {
	if o.IsExpired(tx.Now()) {
		return fmt.Errorf("%w: order %d deadline %s", model.ErrOrderExpired, o.ID, o.Deadline.Format(time.RFC3339))
	}
	return tx.RemoveOrder(o.ID)
}

// limitDeadline validates a caller-chosen deadline: in the future and no
// further out than maxTimeout (zero disables the upper bound).
func limitDeadline(now, deadline time.Time, maxTimeout time.Duration) error {
	if !deadline.After(now) {
		return fmt.Errorf("%w: %s is not after %s", model.ErrInvalidDeadline, deadline.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if maxTimeout > 0 && deadline.After(now.Add(maxTimeout)) {
		return fmt.Errorf("%w: more than %s ahead", model.ErrInvalidDeadline, maxTimeout)
	}
	return nil
}

func escrow(tx *ledger.Tx, a model.Asset, from common.Address, amount decimal.Decimal) error {
	if err := tx.TransferAmount(a.Token, a.Decimals, from, ledger.EscrowAccount, amount); err != nil {
		return fmt.Errorf("escrow %s: %w", a.Symbol, err)
	}
	return nil
}

func release(tx *ledger.Tx, a model.Asset, to common.Address, amount decimal.Decimal) error {
	if err := tx.TransferAmount(a.Token, a.Decimals, ledger.EscrowAccount, to, amount); err != nil {
		return fmt.Errorf("release %s: %w", a.Symbol, err)
	}
	return nil
}

// finishFill records the outcome of a broker fill.
func (e *Engine) finishFill(kind model.OrderType, orderID uint64, broker common.Address, err error) error {
	if err != nil && !errors.Is(err, ErrNotPersisted) {
		e.rejectFill(kind, orderID, err)
		return err
	}
	metrics.OrdersFilled.WithLabelValues(kind.String()).Inc()
	e.log.Info("order filled", "kind", kind.String(), "order_id", orderID, "broker", broker.Hex())
	return err
}

// --- cancel ---

// Cancel cancels a pending order and refunds its escrow. Brokers may cancel
// at any time, the order's account after its cool-down, and anyone once the
// deadline has passed.
func (e *Engine) Cancel(ctx context.Context, caller common.Address, orderID uint64) error {
	var o model.Order
	var expired bool
	err := e.exec(ctx, "cancel", func(tx *ledger.Tx) error {
		var err error
		if o, err = tx.Order(orderID); err != nil {
			return err
		}
		expired = o.IsExpired(tx.Now())
		if err := authorizeCancel(tx, caller, o, expired); err != nil {
			return err
		}
		return cancelOrder(tx, o, expired)
	})
	if err != nil && !errors.Is(err, ErrNotPersisted) {
		return err
	}
	metrics.OrdersCancelled.WithLabelValues(o.Type.String(), fmt.Sprint(expired)).Inc()
	e.log.Info("order cancelled", "kind", o.Type.String(), "order_id", o.ID, "caller", caller.Hex(), "expired", expired)
	return err
}

// CancelExpired cancels every pending order whose deadline has passed. Each
// order is cancelled in its own transaction; it returns how many were
// cancelled and the first error met.
func (e *Engine) CancelExpired(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	var expired []model.Order
	for _, o := range e.state.Orders(0, 0) {
		if o.IsExpired(now) {
			expired = append(expired, o)
		}
	}

	var n int
	var firstErr error
	for _, o := range expired {
		err := e.execLocked(ctx, "cancel_expired", func(tx *ledger.Tx) error {
			return cancelOrder(tx, o, true)
		})
		if err != nil && !errors.Is(err, ErrNotPersisted) {
			e.log.Error("cancel expired order", "order_id", o.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
		metrics.OrdersCancelled.WithLabelValues(o.Type.String(), "true").Inc()
	}
	if n > 0 {
		e.log.Info("expired orders cancelled", "count", n)
	}
	return n, firstErr
}

func authorizeCancel(tx *ledger.Tx, caller common.Address, o model.Order, expired bool) error {
	if expired || tx.HasRole(model.RoleBroker, caller) {
		return nil
	}
	if caller != o.Account {
		return fmt.Errorf("%w: order %d belongs to %s", model.ErrUnauthorized, o.ID, o.Account.Hex())
	}
	coolDown := tx.OrderBookParams().CancelCoolDown
	if o.Type == model.OrderTypeLiquidity {
		lock, err := lockPeriod(tx, o.Liquidity.AssetID)
		if err != nil {
			return err
		}
		coolDown = lock
	}
	if until := o.PlacedAt.Add(coolDown); tx.Now().Before(until) {
		return fmt.Errorf("%w: cancellable from %s", model.ErrCoolDown, until.Format(time.RFC3339))
	}
	return nil
}

// cancelOrder refunds escrow, removes the order and emits CancelOrder.
func cancelOrder(tx *ledger.Tx, o model.Order, expired bool) error {
	if err := refund(tx, o); err != nil {
		return err
	}
	if err := tx.RemoveOrder(o.ID); err != nil {
		return err
	}
	tx.Emit(model.EventCancelOrder, o.ID, o.Account, ledger.Attrs(
		"kind", o.Type,
		"expired", expired,
	))
	return nil
}

func refund(tx *ledger.Tx, o model.Order) error {
	switch o.Type {
	case model.OrderTypePosition:
		po := o.Position
		if !po.Flags.IsOpen() || !po.Collateral.IsPositive() {
			return nil
		}
		a, err := tx.Asset(po.SubAccountID.CollateralID)
		if err != nil {
			return err
		}
		return release(tx, a, o.Account, po.Collateral)
	case model.OrderTypeLiquidity:
		lo := o.Liquidity
		if !lo.IsAdding {
			share := tx.PoolParams().ShareToken
			return tx.TransferAmount(share, ledger.ShareDecimals, ledger.EscrowAccount, o.Account, lo.Amount)
		}
		a, err := tx.Asset(lo.AssetID)
		if err != nil {
			return err
		}
		return release(tx, a, o.Account, lo.Amount)
	case model.OrderTypeRebalance:
		ro := o.Rebalance
		a, err := tx.Asset(ro.AssetID1)
		if err != nil {
			return err
		}
		return release(tx, a, o.Account, ro.MaxAmount1)
	}
	return nil
}
