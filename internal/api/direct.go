package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/funding"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/orderbook"
	"github.com/atmx/liquidity-pool/internal/position"
)

// AmountRequest is the body of deposit and redeem calls.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreditRequest is the body of borrow and repay calls.
type CreditRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Fee     decimal.Decimal `json:"fee"`
	BadDebt decimal.Decimal `json:"bad_debt"`
}

// FundingRequest is the body of POST /funding.
type FundingRequest struct {
	Inputs []funding.Input `json:"inputs"`
}

// RebateRequest is the body of POST /brokers/rebate.
type RebateRequest struct {
	AssetID uint8 `json:"asset_id"`
}

// LiquidationResponse reports the settlement of a liquidated position.
type LiquidationResponse struct {
	SubAccountID model.SubAccountID `json:"sub_account_id"`
	FillPrice    decimal.Decimal    `json:"fill_price"`
	HasProfit    bool               `json:"has_profit"`
	PnlUsd       decimal.Decimal    `json:"pnl_usd"`
	FeeUsd       decimal.Decimal    `json:"fee_usd"`
	Payout       decimal.Decimal    `json:"payout"`
	Debt         decimal.Decimal    `json:"debt"`
	Returned     decimal.Decimal    `json:"returned"`
}

func newLiquidationResponse(id model.SubAccountID, res position.Result) LiquidationResponse {
	return LiquidationResponse{
		SubAccountID: id,
		FillPrice:    res.FillPrice,
		HasProfit:    res.HasProfit,
		PnlUsd:       res.PnlUsd,
		FeeUsd:       res.FeeUsd,
		Payout:       res.Payout,
		Debt:         res.Debt,
		Returned:     res.Returned,
	}
}

// DepositCollateral handles POST /api/v1/sub-accounts/{subAccountID}/deposit
func (s *Server) DepositCollateral(w http.ResponseWriter, r *http.Request) {
	id, err := subAccountParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req AmountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	err = s.engine.DepositCollateral(r.Context(), Caller(r.Context()), id, req.Amount)
	s.finish(w, r, "deposit_collateral", http.StatusOK, s.engine.SubAccount(id), err)
}

// WithdrawAllCollateral handles POST /api/v1/sub-accounts/{subAccountID}/withdraw-all
func (s *Server) WithdrawAllCollateral(w http.ResponseWriter, r *http.Request) {
	id, err := subAccountParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := s.engine.WithdrawAllCollateral(r.Context(), Caller(r.Context()), id)
	s.finish(w, r, "withdraw_all_collateral", http.StatusOK, AmountRequest{Amount: amount}, err)
}

// Liquidate handles POST /api/v1/liquidations
func (s *Server) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req orderbook.LiquidateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.engine.Liquidate(r.Context(), Caller(r.Context()), req)
	s.finish(w, r, "liquidate", http.StatusOK, newLiquidationResponse(req.SubAccountID, res), err)
}

// UpdateFunding handles POST /api/v1/funding
func (s *Server) UpdateFunding(w http.ResponseWriter, r *http.Request) {
	var req FundingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	applied, err := s.engine.UpdateFundingState(r.Context(), Caller(r.Context()), req.Inputs)
	s.finish(w, r, "update_funding", http.StatusOK, map[string]bool{"applied": applied}, err)
}

// ClaimBrokerGasRebate handles POST /api/v1/brokers/rebate
func (s *Server) ClaimBrokerGasRebate(w http.ResponseWriter, r *http.Request) {
	var req RebateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := s.engine.ClaimBrokerGasRebate(r.Context(), Caller(r.Context()), req.AssetID)
	s.finish(w, r, "claim_rebate", http.StatusOK, AmountRequest{Amount: amount}, err)
}

// RedeemDebt handles POST /api/v1/assets/{assetID}/redeem-debt
func (s *Server) RedeemDebt(w http.ResponseWriter, r *http.Request) {
	assetID, err := assetParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req AmountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	redeemed, err := s.engine.RedeemDebtToken(r.Context(), Caller(r.Context()), assetID, req.Amount)
	s.finish(w, r, "redeem_debt", http.StatusOK, AmountRequest{Amount: redeemed}, err)
}

// BorrowAsset handles POST /api/v1/assets/{assetID}/borrow
func (s *Server) BorrowAsset(w http.ResponseWriter, r *http.Request) {
	assetID, req, ok := creditCall(w, r)
	if !ok {
		return
	}
	err := s.engine.BorrowAsset(r.Context(), Caller(r.Context()), assetID, req.Amount, req.Fee)
	s.finish(w, r, "borrow", http.StatusOK, s.assetOrNil(assetID), err)
}

// RepayAsset handles POST /api/v1/assets/{assetID}/repay
func (s *Server) RepayAsset(w http.ResponseWriter, r *http.Request) {
	assetID, req, ok := creditCall(w, r)
	if !ok {
		return
	}
	err := s.engine.RepayAsset(r.Context(), Caller(r.Context()), assetID, req.Amount, req.Fee, req.BadDebt)
	s.finish(w, r, "repay", http.StatusOK, s.assetOrNil(assetID), err)
}

func creditCall(w http.ResponseWriter, r *http.Request) (uint8, CreditRequest, bool) {
	var req CreditRequest
	assetID, err := assetParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return 0, req, false
	}
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return 0, req, false
	}
	return assetID, req, true
}

func (s *Server) assetOrNil(id uint8) *model.Asset {
	a, err := s.engine.Asset(id)
	if err != nil {
		return nil
	}
	return &a
}

// --- Owner ---

// RoleRequest grants or revokes a role.
type RoleRequest struct {
	Role    model.Role     `json:"role"`
	Account common.Address `json:"account"`
	Granted bool           `json:"granted"`
}

// AddAsset handles POST /api/v1/admin/assets
func (s *Server) AddAsset(w http.ResponseWriter, r *http.Request) {
	var spec orderbook.AssetSpec
	if err := decode(r, &spec); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	a, err := s.engine.AddAsset(r.Context(), Caller(r.Context()), spec)
	s.finish(w, r, "add_asset", http.StatusCreated, a, err)
}

// SetAssetParams handles PUT /api/v1/admin/assets/{assetID}/params
func (s *Server) SetAssetParams(w http.ResponseWriter, r *http.Request) {
	id, err := assetParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var p model.AssetParams
	if err := decode(r, &p); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	err = s.engine.SetAssetParams(r.Context(), Caller(r.Context()), id, p)
	s.finish(w, r, "set_asset_params", http.StatusOK, s.assetOrNil(id), err)
}

// SetAssetFlags handles PUT /api/v1/admin/assets/{assetID}/flags
func (s *Server) SetAssetFlags(w http.ResponseWriter, r *http.Request) {
	id, err := assetParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f model.AssetFlags
	if err := decode(r, &f); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	err = s.engine.SetAssetFlags(r.Context(), Caller(r.Context()), id, f)
	s.finish(w, r, "set_asset_flags", http.StatusOK, s.assetOrNil(id), err)
}

// SetFundingParams handles PUT /api/v1/admin/assets/{assetID}/funding
func (s *Server) SetFundingParams(w http.ResponseWriter, r *http.Request) {
	id, err := assetParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f model.FundingParams
	if err := decode(r, &f); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	err = s.engine.SetFundingParams(r.Context(), Caller(r.Context()), id, f)
	s.finish(w, r, "set_funding_params", http.StatusOK, s.assetOrNil(id), err)
}

// SetPoolParams handles PUT /api/v1/admin/params/pool
func (s *Server) SetPoolParams(w http.ResponseWriter, r *http.Request) {
	var p model.PoolParams
	if err := decode(r, &p); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	err := s.engine.SetPoolParams(r.Context(), Caller(r.Context()), p)
	s.finish(w, r, "set_pool_params", http.StatusOK, s.engine.PoolParams(), err)
}

// SetOrderBookParams handles PUT /api/v1/admin/params/order-book
func (s *Server) SetOrderBookParams(w http.ResponseWriter, r *http.Request) {
	var p model.OrderBookParams
	if err := decode(r, &p); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	err := s.engine.SetOrderBookParams(r.Context(), Caller(r.Context()), p)
	s.finish(w, r, "set_order_book_params", http.StatusOK, s.engine.OrderBookParams(), err)
}

// UpdateRole handles POST /api/v1/admin/roles
func (s *Server) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	var err error
	if req.Granted {
		err = s.engine.GrantRole(r.Context(), Caller(r.Context()), req.Role, req.Account)
	} else {
		err = s.engine.RevokeRole(r.Context(), Caller(r.Context()), req.Role, req.Account)
	}
	s.finish(w, r, "update_role", http.StatusOK, req, err)
}

// FundAccount handles POST /api/v1/admin/funds
func (s *Server) FundAccount(w http.ResponseWriter, r *http.Request) {
	var f orderbook.Fund
	if err := decode(r, &f); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	err := s.engine.FundAccount(r.Context(), Caller(r.Context()), f.AssetID, f.Account, f.Amount)
	s.finish(w, r, "fund_account", http.StatusOK, f, err)
}
