package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/metrics"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/position"
)

// PositionOrderRequest is a trader's request to open or close a position.
// Collateral is escrowed for open orders; on close orders it is withdrawn
// after closing.
type PositionOrderRequest struct {
	SubAccountID  model.SubAccountID       `json:"sub_account_id"`
	Collateral    decimal.Decimal          `json:"collateral"`
	Size          decimal.Decimal          `json:"size"`
	Price         decimal.Decimal          `json:"price"`
	ProfitAssetID uint8                    `json:"profit_asset_id"`
	Flags         model.PositionOrderFlags `json:"flags"`
	// Deadline applies to limit and trigger orders only.
	Deadline time.Time `json:"deadline"`

	TakeProfitPrice   decimal.Decimal `json:"take_profit_price"`
	StopLossPrice     decimal.Decimal `json:"stop_loss_price"`
	TpslProfitAssetID uint8           `json:"tpsl_profit_asset_id"`
	TpslDeadline      time.Time       `json:"tpsl_deadline"`
}

func (r PositionOrderRequest) validate() error {
	if !r.Size.IsPositive() {
		return fmt.Errorf("%w: size", model.ErrZeroAmount)
	}
	if r.Collateral.IsNegative() || r.Price.IsNegative() ||
		r.TakeProfitPrice.IsNegative() || r.StopLossPrice.IsNegative() {
		return fmt.Errorf("%w: negative amount", model.ErrInvalidParams)
	}
	f := r.Flags
	switch {
	case f.IsOpen() && (f.IsTrigger() || f.WithdrawAllIfEmpty() || f.ShouldReachMinProfit()):
		return fmt.Errorf("%w: open order with close-only flags %#x", model.ErrInvalidFlags, uint8(f))
	case f.IsMarket() && f.IsTrigger():
		return fmt.Errorf("%w: market trigger order", model.ErrInvalidFlags)
	case f.IsTpslStrategy() && !f.IsOpen():
		return fmt.Errorf("%w: tp/sl strategy on a close order", model.ErrInvalidFlags)
	}
	hasTpsl := r.TakeProfitPrice.IsPositive() || r.StopLossPrice.IsPositive()
	if f.IsTpslStrategy() != hasTpsl {
		return fmt.Errorf("%w: tp/sl prices require the tp/sl strategy flag", model.ErrInvalidFlags)
	}
	if !f.IsMarket() && !r.Price.IsPositive() {
		return fmt.Errorf("%w: limit price", model.ErrInvalidPrice)
	}
	return nil
}

// PlacePositionOrder escrows collateral for open orders and queues the
// order for a broker.
func (e *Engine) PlacePositionOrder(ctx context.Context, caller common.Address, req PositionOrderRequest) (model.Order, error) {
	var placed model.Order
	err := e.exec(ctx, "place_position", func(tx *ledger.Tx) error {
		if err := requireOwnerOf(caller, req.SubAccountID.Account); err != nil {
			return err
		}
		if err := req.validate(); err != nil {
			return err
		}
		coll, err := tx.Asset(req.SubAccountID.CollateralID)
		if err != nil {
			return err
		}
		asset, err := tx.Asset(req.SubAccountID.AssetID)
		if err != nil {
			return err
		}
		if err := checkPositionAssets(coll, asset, req.SubAccountID.IsLong, req.Flags.IsOpen()); err != nil {
			return err
		}

		now := tx.Now()
		book := tx.OrderBookParams()
		deadline := now.Add(book.MarketOrderTimeout)
		if !req.Flags.IsMarket() {
			if err := limitDeadline(now, req.Deadline, book.MaxLimitOrderTimeout); err != nil {
				return err
			}
			deadline = req.Deadline
		}
		if req.Flags.IsTpslStrategy() {
			if err := limitDeadline(now, req.TpslDeadline, book.MaxLimitOrderTimeout); err != nil {
				return fmt.Errorf("tp/sl: %w", err)
			}
		}

		collateral := fixed.TruncateToToken(req.Collateral, coll.Decimals)
		if req.Flags.IsOpen() && collateral.IsPositive() {
			if err := escrow(tx, coll, caller, collateral); err != nil {
				return err
			}
		}

		po := model.PositionOrder{
			SubAccountID:      req.SubAccountID,
			Collateral:        collateral,
			Size:              req.Size,
			Price:             req.Price,
			ProfitAssetID:     req.ProfitAssetID,
			Flags:             req.Flags,
			TakeProfitPrice:   req.TakeProfitPrice,
			StopLossPrice:     req.StopLossPrice,
			TpslProfitAssetID: req.TpslProfitAssetID,
			TpslDeadline:      req.TpslDeadline,
		}
		placed = newOrder(tx, model.Order{
			Type:     model.OrderTypePosition,
			Account:  caller,
			Deadline: deadline,
			Position: &po,
		}, positionAttrs(po))
		return nil
	})
	if committed(err) {
		e.placed(placed)
	}
	return placed, err
}

func checkPositionAssets(coll, asset model.Asset, isLong, isOpen bool) error {
	if !coll.IsEnabled {
		return fmt.Errorf("%w: collateral %s", model.ErrAssetDisabled, coll.Symbol)
	}
	if !asset.IsEnabled {
		return fmt.Errorf("%w: %s", model.ErrAssetDisabled, asset.Symbol)
	}
	if !asset.IsTradable {
		return fmt.Errorf("%w: %s", model.ErrNotTradable, asset.Symbol)
	}
	if isOpen && !asset.IsOpenable {
		return fmt.Errorf("%w: %s", model.ErrNotOpenable, asset.Symbol)
	}
	if isOpen && !isLong && !asset.IsShortable {
		return fmt.Errorf("%w: %s", model.ErrNotShortable, asset.Symbol)
	}
	return nil
}

func positionAttrs(po model.PositionOrder) map[string]string {
	return ledger.Attrs(
		"sub_account", po.SubAccountID.Hex(),
		"collateral", po.Collateral,
		"size", po.Size,
		"price", po.Price,
		"profit_asset_id", po.ProfitAssetID,
		"flags", fmt.Sprintf("%#02x", uint8(po.Flags)),
	)
}

// PositionFill carries the broker's prices for a position order fill.
type PositionFill struct {
	CollateralPrice  decimal.Decimal `json:"collateral_price"`
	AssetPrice       decimal.Decimal `json:"asset_price"`
	ProfitAssetPrice decimal.Decimal `json:"profit_asset_price"`
}

// FillPositionOrder executes a pending position order at the broker's
// prices. Any failure leaves the order pending.
func (e *Engine) FillPositionOrder(ctx context.Context, broker common.Address, orderID uint64, p PositionFill) error {
	defer observeLatency(model.OrderTypePosition.String(), time.Now())
	err := e.exec(ctx, "fill_position", func(tx *ledger.Tx) error {
		if err := requireBroker(tx, broker); err != nil {
			return err
		}
		o, err := pendingOrder(tx, orderID, model.OrderTypePosition)
		if err != nil {
			return err
		}
		po := *o.Position
		if err := checkFillPrice(po, p.AssetPrice); err != nil {
			return err
		}
		if err := requireFillable(tx, o); err != nil {
			return err
		}

		id := po.SubAccountID
		fill := position.Fill{
			Size:             po.Size,
			Price:            p.AssetPrice,
			CollateralPrice:  p.CollateralPrice,
			ProfitAssetID:    po.ProfitAssetID,
			ProfitAssetPrice: p.ProfitAssetPrice,
			OrderID:          o.ID,
		}
		var res position.Result
		if po.Flags.IsOpen() {
			if po.Collateral.IsPositive() {
				if err := e.positions.DepositCollateral(tx, id, ledger.EscrowAccount, po.Collateral, o.ID); err != nil {
					return err
				}
			}
			if res, err = e.positions.Open(tx, id, fill); err != nil {
				return err
			}
			if po.Flags.IsTpslStrategy() {
				if err := placeTpsl(tx, o); err != nil {
					return err
				}
			}
		} else {
			if res, err = e.positions.Close(tx, id, fill, po.Flags.ShouldReachMinProfit()); err != nil {
				return err
			}
			if po.Collateral.IsPositive() {
				if err := e.positions.WithdrawCollateral(tx, id, po.Collateral, p.CollateralPrice, p.AssetPrice, o.ID); err != nil {
					return err
				}
			}
			if po.Flags.WithdrawAllIfEmpty() && tx.SubAccount(id).Size.IsZero() {
				if _, err := e.positions.WithdrawAllCollateral(tx, id, o.ID); err != nil {
					return err
				}
			}
		}

		tx.CountFill(broker)
		tx.Emit(model.EventFillOrder, o.ID, o.Account, ledger.Attrs(
			"kind", o.Type,
			"broker", broker.Hex(),
			"asset_price", p.AssetPrice,
			"fill_price", res.FillPrice,
			"size", po.Size,
			"fee_usd", res.FeeUsd,
		))
		return nil
	})
	return e.finishFill(model.OrderTypePosition, orderID, broker, err)
}

// checkFillPrice enforces limit and trigger bounds; market orders skip it.
//
//	open limit:        long price <= limit, short price >= limit
//	close limit (TP):  long price >= limit, short price <= limit
//	close trigger (SL): long price <= limit, short price >= limit
func checkFillPrice(po model.PositionOrder, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: asset price %s", model.ErrInvalidPrice, price)
	}
	if po.Flags.IsMarket() {
		return nil
	}
	belowOK := po.SubAccountID.IsLong
	if !po.Flags.IsOpen() && !po.Flags.IsTrigger() {
		belowOK = !belowOK
	}
	ok := price.GreaterThanOrEqual(po.Price)
	if belowOK {
		ok = price.LessThanOrEqual(po.Price)
	}
	if !ok {
		return fmt.Errorf("%w: price %s against limit %s", model.ErrPriceOutOfBounds, price, po.Price)
	}
	return nil
}

// placeTpsl queues the take-profit and stop-loss close orders of a filled
// open order carrying the TP/SL strategy.
func placeTpsl(tx *ledger.Tx, o model.Order) error {
	po := o.Position
	if !po.TpslDeadline.After(tx.Now()) {
		return fmt.Errorf("tp/sl: %w: deadline passed", model.ErrInvalidDeadline)
	}
	base := model.PositionOrder{
		SubAccountID:  po.SubAccountID,
		Size:          po.Size,
		ProfitAssetID: po.TpslProfitAssetID,
	}
	if po.TakeProfitPrice.IsPositive() {
		tp := base
		tp.Price = po.TakeProfitPrice
		tp.Flags = model.FlagWithdrawAllIfEmpty | model.FlagShouldReachMinProfit
		newOrder(tx, model.Order{
			Type: model.OrderTypePosition, Account: o.Account, Deadline: po.TpslDeadline, Position: &tp,
		}, positionAttrs(tp))
	}
	if po.StopLossPrice.IsPositive() {
		sl := base
		sl.Price = po.StopLossPrice
		sl.Flags = model.FlagTrigger | model.FlagWithdrawAllIfEmpty
		newOrder(tx, model.Order{
			Type: model.OrderTypePosition, Account: o.Account, Deadline: po.TpslDeadline, Position: &sl,
		}, positionAttrs(sl))
	}
	return nil
}

// placed records a successful placement.
func (e *Engine) placed(o model.Order) {
	metrics.OrdersPlaced.WithLabelValues(o.Type.String()).Inc()
	e.log.Info("order placed",
		"kind", o.Type.String(),
		"order_id", o.ID,
		"account", o.Account.Hex(),
		"deadline", o.Deadline,
	)
}
