package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
)

// RebalanceOrderRequest asks the pool to hand out Amount0 of asset 0 in
// exchange for at most MaxAmount1 of asset 1.
type RebalanceOrderRequest struct {
	AssetID0   uint8           `json:"asset_id0"`
	AssetID1   uint8           `json:"asset_id1"`
	Amount0    decimal.Decimal `json:"amount0"`
	MaxAmount1 decimal.Decimal `json:"max_amount1"`
	UserData   common.Hash     `json:"user_data"`
}

// PlaceRebalanceOrder escrows MaxAmount1 of asset 1. Rebalancers only.
func (e *Engine) PlaceRebalanceOrder(ctx context.Context, caller common.Address, req RebalanceOrderRequest) (model.Order, error) {
	var placed model.Order
	err := e.exec(ctx, "place_rebalance", func(tx *ledger.Tx) error {
		if !tx.HasRole(model.RoleRebalancer, caller) {
			return fmt.Errorf("%w: %s is not a rebalancer", model.ErrUnauthorized, caller.Hex())
		}
		if req.AssetID0 == req.AssetID1 {
			return fmt.Errorf("%w: rebalance within one asset", model.ErrInvalidParams)
		}
		a0, err := tx.Asset(req.AssetID0)
		if err != nil {
			return err
		}
		a1, err := tx.Asset(req.AssetID1)
		if err != nil {
			return err
		}
		for _, a := range []model.Asset{a0, a1} {
			if !a.IsEnabled {
				return fmt.Errorf("%w: %s", model.ErrAssetDisabled, a.Symbol)
			}
		}
		amount0 := fixed.TruncateToToken(req.Amount0, a0.Decimals)
		max1 := fixed.TruncateToToken(req.MaxAmount1, a1.Decimals)
		if !amount0.IsPositive() || !max1.IsPositive() {
			return fmt.Errorf("%w: rebalance amounts", model.ErrZeroAmount)
		}
		if err := escrow(tx, a1, caller, max1); err != nil {
			return err
		}

		ro := model.RebalanceOrder{
			AssetID0:   a0.ID,
			AssetID1:   a1.ID,
			Amount0:    amount0,
			MaxAmount1: max1,
			UserData:   req.UserData,
		}
		placed = newOrder(tx, model.Order{
			Type:      model.OrderTypeRebalance,
			Account:   caller,
			Deadline:  tx.Now().Add(tx.OrderBookParams().MarketOrderTimeout),
			Rebalance: &ro,
		}, ledger.Attrs(
			"asset_id0", ro.AssetID0,
			"asset_id1", ro.AssetID1,
			"amount0", ro.Amount0,
			"max_amount1", ro.MaxAmount1,
			"user_data", ro.UserData.Hex(),
		))
		return nil
	})
	if committed(err) {
		e.placed(placed)
	}
	return placed, err
}

// RebalanceFill carries the broker's prices for both legs.
type RebalanceFill struct {
	Price0 decimal.Decimal `json:"price0"`
	Price1 decimal.Decimal `json:"price1"`
}

// FillRebalanceOrder swaps at the broker's prices. The pool pays Amount0 of
// asset 0 out of spot liquidity, keeps the equivalent amount of asset 1 and
// refunds the unused escrow.
func (e *Engine) FillRebalanceOrder(ctx context.Context, broker common.Address, orderID uint64, p RebalanceFill) error {
	defer observeLatency(model.OrderTypeRebalance.String(), time.Now())
	err := e.exec(ctx, "fill_rebalance", func(tx *ledger.Tx) error {
		if err := requireBroker(tx, broker); err != nil {
			return err
		}
		if !p.Price0.IsPositive() || !p.Price1.IsPositive() {
			return fmt.Errorf("%w: price0 %s price1 %s", model.ErrInvalidPrice, p.Price0, p.Price1)
		}
		o, err := pendingOrder(tx, orderID, model.OrderTypeRebalance)
		if err != nil {
			return err
		}
		if err := requireFillable(tx, o); err != nil {
			return err
		}
		ro := *o.Rebalance
		a0, err := tx.Asset(ro.AssetID0)
		if err != nil {
			return err
		}
		a1, err := tx.Asset(ro.AssetID1)
		if err != nil {
			return err
		}

		amount1 := fixed.TruncateToToken(fixed.MulDiv(ro.Amount0, p.Price0, p.Price1), a1.Decimals)
		if amount1.GreaterThan(ro.MaxAmount1) {
			return fmt.Errorf("%w: needs %s %s, max %s", model.ErrSlippage, amount1, a1.Symbol, ro.MaxAmount1)
		}

		if a0, err = ledger.DecreaseSpot(a0, ro.Amount0); err != nil {
			return err
		}
		tx.PutAsset(a0)
		if err := tx.PushAsset(a0, o.Account, ro.Amount0); err != nil {
			return fmt.Errorf("rebalance %s: %w", a0.Symbol, err)
		}
		if amount1.IsPositive() {
			if err := tx.TransferAmount(a1.Token, a1.Decimals, ledger.EscrowAccount, ledger.VaultAccount, amount1); err != nil {
				return fmt.Errorf("rebalance %s: %w", a1.Symbol, err)
			}
			tx.PutAsset(ledger.IncreaseSpot(a1, amount1))
		}
		if refund := ro.MaxAmount1.Sub(amount1); refund.IsPositive() {
			if err := release(tx, a1, o.Account, refund); err != nil {
				return err
			}
		}

		tx.Emit(model.EventRebalance, o.ID, o.Account, ledger.Attrs(
			"asset_id0", a0.ID,
			"asset_id1", a1.ID,
			"amount0", ro.Amount0,
			"amount1", amount1,
			"price0", p.Price0,
			"price1", p.Price1,
			"user_data", ro.UserData.Hex(),
		))
		tx.CountFill(broker)
		tx.Emit(model.EventFillOrder, o.ID, o.Account, ledger.Attrs(
			"kind", o.Type,
			"broker", broker.Hex(),
			"amount1", amount1,
		))
		return nil
	})
	return e.finishFill(model.OrderTypeRebalance, orderID, broker, err)
}
