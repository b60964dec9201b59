package api

import (
	"net/http"
	"strconv"

	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/orderbook"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// OrderList is one page of pending orders.
type OrderList struct {
	Orders []model.Order `json:"orders"`
	Total  int           `json:"total"`
}

// PlacePositionOrder handles POST /api/v1/orders/position
func (s *Server) PlacePositionOrder(w http.ResponseWriter, r *http.Request) {
	var req orderbook.PositionOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.engine.PlacePositionOrder(r.Context(), Caller(r.Context()), req)
	s.finish(w, r, "place_position", http.StatusCreated, o, err)
}

// PlaceLiquidityOrder handles POST /api/v1/orders/liquidity
func (s *Server) PlaceLiquidityOrder(w http.ResponseWriter, r *http.Request) {
	var req orderbook.LiquidityOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.engine.PlaceLiquidityOrder(r.Context(), Caller(r.Context()), req)
	s.finish(w, r, "place_liquidity", http.StatusCreated, o, err)
}

// PlaceWithdrawalOrder handles POST /api/v1/orders/withdrawal
func (s *Server) PlaceWithdrawalOrder(w http.ResponseWriter, r *http.Request) {
	var req orderbook.WithdrawalOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.engine.PlaceWithdrawalOrder(r.Context(), Caller(r.Context()), req)
	s.finish(w, r, "place_withdrawal", http.StatusCreated, o, err)
}

// PlaceRebalanceOrder handles POST /api/v1/orders/rebalance
func (s *Server) PlaceRebalanceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderbook.RebalanceOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.engine.PlaceRebalanceOrder(r.Context(), Caller(r.Context()), req)
	s.finish(w, r, "place_rebalance", http.StatusCreated, o, err)
}

// FillOrder handles POST /api/v1/orders/{orderID}/fill
// The body carries the prices for the order's kind.
func (s *Server) FillOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.engine.Order(id)
	if err != nil {
		s.fail(w, r, "fill", err)
		return
	}

	ctx, broker := r.Context(), Caller(r.Context())
	switch o.Type {
	case model.OrderTypePosition:
		var p orderbook.PositionFill
		if err := decode(r, &p); err != nil {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		err = s.engine.FillPositionOrder(ctx, broker, id, p)
	case model.OrderTypeLiquidity:
		var p orderbook.LiquidityFill
		if err := decode(r, &p); err != nil {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		err = s.engine.FillLiquidityOrder(ctx, broker, id, p)
	case model.OrderTypeWithdrawal:
		var p orderbook.PositionFill
		if err := decode(r, &p); err != nil {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		err = s.engine.FillWithdrawalOrder(ctx, broker, id, p)
	case model.OrderTypeRebalance:
		var p orderbook.RebalanceFill
		if err := decode(r, &p); err != nil {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		err = s.engine.FillRebalanceOrder(ctx, broker, id, p)
	default:
		writeError(w, "unknown order type", http.StatusInternalServerError)
		return
	}

	s.finish(w, r, "fill_"+o.Type.String(), http.StatusOK, map[string]any{
		"order_id": id,
		"type":     o.Type.String(),
		"status":   "filled",
	}, err)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = s.engine.Cancel(r.Context(), Caller(r.Context()), id)
	s.finish(w, r, "cancel", http.StatusOK, map[string]any{
		"order_id": id,
		"status":   "cancelled",
	}, err)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.engine.Order(id)
	if err != nil {
		s.fail(w, r, "get_order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOrders handles GET /api/v1/orders?offset=&limit=
// Pending orders are listed by ascending id.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	limit = min(limit, maxPageSize)

	orders, total := s.engine.Orders(offset, limit)
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, OrderList{Orders: orders, Total: total})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
