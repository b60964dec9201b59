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
	"github.com/atmx/liquidity-pool/internal/position"
)

// WithdrawalOrderRequest withdraws collateral, or unrealized profit when
// IsProfit is set. Amount is in collateral units either way.
type WithdrawalOrderRequest struct {
	SubAccountID  model.SubAccountID `json:"sub_account_id"`
	Amount        decimal.Decimal    `json:"amount"`
	ProfitAssetID uint8              `json:"profit_asset_id"`
	IsProfit      bool               `json:"is_profit"`
}

// PlaceWithdrawalOrder queues a withdrawal. Nothing is escrowed.
func (e *Engine) PlaceWithdrawalOrder(ctx context.Context, caller common.Address, req WithdrawalOrderRequest) (model.Order, error) {
	var placed model.Order
	err := e.exec(ctx, "place_withdrawal", func(tx *ledger.Tx) error {
		if err := requireOwnerOf(caller, req.SubAccountID.Account); err != nil {
			return err
		}
		coll, err := tx.Asset(req.SubAccountID.CollateralID)
		if err != nil {
			return err
		}
		if _, err := tx.Asset(req.SubAccountID.AssetID); err != nil {
			return err
		}
		amount := fixed.TruncateToToken(req.Amount, coll.Decimals)
		if !amount.IsPositive() {
			return fmt.Errorf("%w: withdrawal amount", model.ErrZeroAmount)
		}
		wo := model.WithdrawalOrder{
			SubAccountID:  req.SubAccountID,
			Amount:        amount,
			ProfitAssetID: req.ProfitAssetID,
			IsProfit:      req.IsProfit,
		}
		placed = newOrder(tx, model.Order{
			Type:       model.OrderTypeWithdrawal,
			Account:    caller,
			Deadline:   tx.Now().Add(tx.OrderBookParams().MarketOrderTimeout),
			Withdrawal: &wo,
		}, ledger.Attrs(
			"sub_account", wo.SubAccountID.Hex(),
			"amount", wo.Amount,
			"profit_asset_id", wo.ProfitAssetID,
			"is_profit", wo.IsProfit,
		))
		return nil
	})
	if committed(err) {
		e.placed(placed)
	}
	return placed, err
}

// FillWithdrawalOrder executes a pending withdrawal at the broker's prices.
func (e *Engine) FillWithdrawalOrder(ctx context.Context, broker common.Address, orderID uint64, p PositionFill) error {
	defer observeLatency(model.OrderTypeWithdrawal.String(), time.Now())
	err := e.exec(ctx, "fill_withdrawal", func(tx *ledger.Tx) error {
		if err := requireBroker(tx, broker); err != nil {
			return err
		}
		o, err := pendingOrder(tx, orderID, model.OrderTypeWithdrawal)
		if err != nil {
			return err
		}
		if err := requireFillable(tx, o); err != nil {
			return err
		}
		wo := *o.Withdrawal
		if wo.IsProfit {
			_, err = e.positions.WithdrawProfit(tx, wo.SubAccountID, wo.Amount, position.Fill{
				Price:            p.AssetPrice,
				CollateralPrice:  p.CollateralPrice,
				ProfitAssetID:    wo.ProfitAssetID,
				ProfitAssetPrice: p.ProfitAssetPrice,
				OrderID:          o.ID,
			})
		} else {
			err = e.positions.WithdrawCollateral(tx, wo.SubAccountID, wo.Amount, p.CollateralPrice, p.AssetPrice, o.ID)
		}
		if err != nil {
			return err
		}

		tx.CountFill(broker)
		tx.Emit(model.EventFillOrder, o.ID, o.Account, ledger.Attrs(
			"kind", o.Type,
			"broker", broker.Hex(),
			"asset_price", p.AssetPrice,
			"collateral_price", p.CollateralPrice,
			"amount", wo.Amount,
		))
		return nil
	})
	return e.finishFill(model.OrderTypeWithdrawal, orderID, broker, err)
}
