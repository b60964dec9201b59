// Package api exposes the pool engine over HTTP and websockets.
//
// Reads are public. Every state-changing route runs as the account bound to
// the caller's API key; the engine decides whether that account may act.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/orderbook"
)

// EventLog serves the persisted event history.
type EventLog interface {
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error)
}

// Server holds the HTTP handlers.
type Server struct {
	engine *orderbook.Engine
	events EventLog
	keys   map[string]common.Address
	log    *slog.Logger
}

// NewServer creates the handler set. keys maps API keys to the account they
// act as; with no keys, mutating routes take the account from the
// X-Pool-Account header (development only). events may be nil.
func NewServer(engine *orderbook.Engine, events EventLog, keys map[string]common.Address, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, events: events, keys: keys, log: log}
}

// Mount registers every route on r, normally the /api/v1 sub-router. The
// websocket hub is mounted separately.
func (s *Server) Mount(r chi.Router) {
	// Reads.
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{assetID}", s.GetAsset)
	r.Get("/assets/{assetID}/debt-supply", s.GetDebtSupply)
	r.Get("/orders", s.ListOrders)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Get("/sub-accounts/{subAccountID}", s.GetSubAccount)
	r.Get("/sub-accounts/{subAccountID}/margin", s.GetMargin)
	r.Get("/accounts/{account}/sub-accounts", s.ListSubAccounts)
	r.Get("/accounts/{account}/balances", s.GetBalances)
	r.Get("/brokers/{account}/fills", s.GetBrokerFills)
	r.Get("/roles/{role}", s.ListRoleMembers)
	r.Get("/params", s.GetParams)
	r.Get("/chain-storage", s.GetChainStorage)
	r.Get("/events", s.ListEvents)

	r.Group(func(r chi.Router) {
		r.Use(s.Authenticate)

		// Orders.
		r.Post("/orders/position", s.PlacePositionOrder)
		r.Post("/orders/liquidity", s.PlaceLiquidityOrder)
		r.Post("/orders/withdrawal", s.PlaceWithdrawalOrder)
		r.Post("/orders/rebalance", s.PlaceRebalanceOrder)
		r.Post("/orders/{orderID}/fill", s.FillOrder)
		r.Delete("/orders/{orderID}", s.CancelOrder)

		// Direct calls.
		r.Post("/sub-accounts/{subAccountID}/deposit", s.DepositCollateral)
		r.Post("/sub-accounts/{subAccountID}/withdraw-all", s.WithdrawAllCollateral)
		r.Post("/liquidations", s.Liquidate)
		r.Post("/funding", s.UpdateFunding)
		r.Post("/brokers/rebate", s.ClaimBrokerGasRebate)
		r.Post("/assets/{assetID}/redeem-debt", s.RedeemDebt)
		r.Post("/assets/{assetID}/borrow", s.BorrowAsset)
		r.Post("/assets/{assetID}/repay", s.RepayAsset)

		// Owner.
		r.Route("/admin", func(r chi.Router) {
			r.Post("/assets", s.AddAsset)
			r.Put("/assets/{assetID}/params", s.SetAssetParams)
			r.Put("/assets/{assetID}/flags", s.SetAssetFlags)
			r.Put("/assets/{assetID}/funding", s.SetFundingParams)
			r.Put("/params/pool", s.SetPoolParams)
			r.Put("/params/order-book", s.SetOrderBookParams)
			r.Post("/roles", s.UpdateRole)
			r.Post("/funds", s.FundAccount)
		})
	})
}

// finish writes v, or the error. A change that took effect but was not
// persisted is still reported, as 202 with a Warning header.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, op string, status int, v any, err error) {
	if err != nil && !errors.Is(err, orderbook.ErrNotPersisted) {
		s.fail(w, r, op, err)
		return
	}
	if err != nil {
		s.log.Warn("change committed but not persisted",
			"op", op, "request_id", middleware.GetReqID(r.Context()), "err", err)
		w.Header().Set("Warning", `199 poold "committed but not persisted"`)
		status = http.StatusAccepted
	}
	writeJSON(w, status, v)
}

// fail maps err to a status and writes it. Server errors are logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "op", op, "request_id", middleware.GetReqID(r.Context()), "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// --- URL parameters ---

func assetParam(r *http.Request) (uint8, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, "assetID"), 10, 8)
	if err != nil {
		return 0, errors.New("asset id must be an integer in [0, 255]")
	}
	return uint8(n), nil
}

func orderParam(r *http.Request) (uint64, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		return 0, errors.New("order id must be a positive integer")
	}
	return n, nil
}

func accountParam(r *http.Request) (common.Address, error) {
	s := chi.URLParam(r, "account")
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("account must be a hex address")
	}
	return common.HexToAddress(s), nil
}

func subAccountParam(r *http.Request) (model.SubAccountID, error) {
	return model.ParseSubAccountID(chi.URLParam(r, "subAccountID"))
}
