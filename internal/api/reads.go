package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/limits"
	"github.com/atmx/liquidity-pool/internal/model"
)

const maxEventPage = 1000

// Balance is one token holding of an account.
type Balance struct {
	AssetID *uint8          `json:"asset_id,omitempty"`
	Symbol  string          `json:"symbol"`
	Token   common.Address  `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
}

// AssetView is an asset with the size each side can still open. A headroom
// is omitted when that side is uncapped.
type AssetView struct {
	model.Asset
	LongHeadroom  *decimal.Decimal `json:"long_headroom,omitempty"`
	ShortHeadroom *decimal.Decimal `json:"short_headroom,omitempty"`
}

func newAssetView(a model.Asset) AssetView {
	v := AssetView{Asset: a}
	if room, capped := limits.Headroom(a, true); capped {
		v.LongHeadroom = &room
	}
	if room, capped := limits.Headroom(a, false); capped {
		v.ShortHeadroom = &room
	}
	return v
}

// ListAssets handles GET /api/v1/assets
func (s *Server) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.Assets()
	views := make([]AssetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, newAssetView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetAsset handles GET /api/v1/assets/{assetID}
func (s *Server) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := assetParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	a, err := s.engine.Asset(id)
	if err != nil {
		s.fail(w, r, "get_asset", err)
		return
	}
	writeJSON(w, http.StatusOK, newAssetView(a))
}

// GetDebtSupply handles GET /api/v1/assets/{assetID}/debt-supply
func (s *Server) GetDebtSupply(w http.ResponseWriter, r *http.Request) {
	id, err := assetParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	supply, err := s.engine.DebtSupply(id)
	if err != nil {
		s.fail(w, r, "get_debt_supply", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "supply": supply})
}

// GetSubAccount handles GET /api/v1/sub-accounts/{subAccountID}
// Both the packed hex and the readable form of the id are accepted.
func (s *Server) GetSubAccount(w http.ResponseWriter, r *http.Request) {
	id, err := subAccountParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, model.SubAccountRecord{ID: id, SubAccount: s.engine.SubAccount(id)})
}

// GetMargin handles GET /api/v1/sub-accounts/{subAccountID}/margin?collateral_price=&price=
func (s *Server) GetMargin(w http.ResponseWriter, r *http.Request) {
	id, err := subAccountParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	collateralPrice, err := decimal.NewFromString(q.Get("collateral_price"))
	if err != nil {
		writeError(w, "collateral_price must be a decimal", http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(q.Get("price"))
	if err != nil {
		writeError(w, "price must be a decimal", http.StatusBadRequest)
		return
	}
	m, err := s.engine.Margin(id, collateralPrice, price)
	if err != nil {
		s.fail(w, r, "get_margin", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListSubAccounts handles GET /api/v1/accounts/{account}/sub-accounts
func (s *Server) ListSubAccounts(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	subs := s.engine.SubAccountsOf(account)
	if subs == nil {
		subs = []model.SubAccountRecord{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetBalances handles GET /api/v1/accounts/{account}/balances
// It lists the account's underlying, debt and share token holdings.
func (s *Server) GetBalances(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var out []Balance
	for _, a := range s.engine.Assets() {
		id := a.ID
		out = append(out,
			Balance{AssetID: &id, Symbol: a.Symbol, Token: a.Token,
				Amount: s.engine.BalanceOf(a.Token, account, a.Decimals)},
			Balance{AssetID: &id, Symbol: a.Symbol + "-debt", Token: a.DebtToken,
				Amount: s.engine.BalanceOf(a.DebtToken, account, ledger.ShareDecimals)},
		)
	}
	share := s.engine.PoolParams().ShareToken
	out = append(out, Balance{Symbol: "share", Token: share,
		Amount: s.engine.BalanceOf(share, account, ledger.ShareDecimals)})
	writeJSON(w, http.StatusOK, out)
}

// GetBrokerFills handles GET /api/v1/brokers/{account}/fills
func (s *Server) GetBrokerFills(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"broker": account, "fills": s.engine.BrokerFills(account)})
}

// ListRoleMembers handles GET /api/v1/roles/{role}
func (s *Server) ListRoleMembers(w http.ResponseWriter, r *http.Request) {
	role := model.Role(chi.URLParam(r, "role"))
	if !role.Valid() {
		writeError(w, "unknown role", http.StatusNotFound)
		return
	}
	members := s.engine.Members(role)
	if members == nil {
		members = []common.Address{}
	}
	writeJSON(w, http.StatusOK, members)
}

// GetParams handles GET /api/v1/params
func (s *Server) GetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pool":       s.engine.PoolParams(),
		"order_book": s.engine.OrderBookParams(),
	})
}

// GetChainStorage handles GET /api/v1/chain-storage
func (s *Server) GetChainStorage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ChainStorage())
}

// ListEvents handles GET /api/v1/events?order_id=&account=&type=&limit=
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, "event history is not available", http.StatusNotImplemented)
		return
	}
	f, err := eventFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := s.events.ListEvents(r.Context(), f)
	if err != nil {
		s.fail(w, r, "list_events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// eventFilter reads order_id, account, type and limit from the query.
func eventFilter(r *http.Request) (model.EventFilter, error) {
	f, err := streamFilter(r)
	if err != nil {
		return f, err
	}
	f.Limit = maxEventPage
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errBadQuery("limit must be a positive integer")
		}
		f.Limit = min(n, maxEventPage)
	}
	return f, nil
}

type errBadQuery string

func (e errBadQuery) Error() string { return string(e) }
