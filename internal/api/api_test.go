package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/liquidity-pool/internal/api"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/orderbook"
	"github.com/atmx/liquidity-pool/internal/store"
)

var (
	t0 = time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)

	owner  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	broker = common.HexToAddress("0x0000000000000000000000000000000000000002")
	trader = common.HexToAddress("0x00000000000000000000000000000000000000a1")

	long = model.SubAccountID{Account: trader, CollateralID: 0, AssetID: 1, IsLong: true}

	keys = map[string]common.Address{
		"owner-key":  owner,
		"broker-key": broker,
		"trader-key": trader,
	}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func genesis() orderbook.Genesis {
	usdc := orderbook.AssetSpec{ID: 0, Symbol: "USDC", Decimals: 6, Token: common.HexToAddress("0xc0")}
	usdc.Params.InitialMarginRate = d("0.1")
	usdc.Params.MaintenanceMarginRate = d("0.05")
	usdc.Flags = model.AssetFlags{IsStable: true, IsStrictStable: true, IsEnabled: true}

	weth := orderbook.AssetSpec{ID: 1, Symbol: "WETH", Decimals: 18, Token: common.HexToAddress("0xe0")}
	weth.Params = model.AssetParams{
		InitialMarginRate:     d("0.1"),
		MaintenanceMarginRate: d("0.05"),
		PositionFeeRate:       d("0.001"),
	}
	weth.Flags = model.AssetFlags{
		IsEnabled: true, IsTradable: true, IsOpenable: true, IsShortable: true,
		UseStableTokenForProfit: true,
	}

	return orderbook.Genesis{
		Owner: owner,
		Roles: []model.RoleGrant{{Role: model.RoleBroker, Account: broker, Granted: true}},
		PoolParams: model.PoolParams{
			FundingInterval: 8 * time.Hour,
			ShareToken:      common.HexToAddress("0x50"),
		},
		OrderBookParams: model.OrderBookParams{
			LiquidityLockPeriod:   15 * time.Minute,
			LiquidityOrderTimeout: time.Hour,
			MarketOrderTimeout:    2 * time.Minute,
			MaxLimitOrderTimeout:  24 * time.Hour,
		},
		Assets:        []orderbook.AssetSpec{usdc, weth},
		SpotLiquidity: map[uint8]decimal.Decimal{0: d("10000"), 1: d("10")},
		Funds:         []orderbook.Fund{{AssetID: 0, Account: trader, Amount: d("1000")}},
	}
}

type failingStore struct{ store.Store }

func (failingStore) Apply(context.Context, model.ChangeSet) error {
	return errors.New("database unavailable")
}

// newTestEnv creates an engine over an in-memory store and mounts the API
// on a chi router.
func newTestEnv(t *testing.T, persister orderbook.Persister, history api.EventLog) (*orderbook.Engine, chi.Router) {
	t.Helper()
	e := orderbook.New(ledger.NewState(),
		orderbook.WithClock(func() time.Time { return t0 }),
		orderbook.WithLogger(discard()),
	)
	_, err := e.Seed(context.Background(), genesis())
	require.NoError(t, err)
	// Attach the persister after seeding so genesis is not part of the test.
	if persister != nil {
		e = orderbook.New(restore(t, e),
			orderbook.WithPersister(persister),
			orderbook.WithClock(func() time.Time { return t0 }),
			orderbook.WithLogger(discard()),
		)
	}

	srv := api.NewServer(e, history, keys, discard())
	r := chi.NewRouter()
	r.Route("/api/v1", srv.Mount)
	return e, r
}

func restore(t *testing.T, e *orderbook.Engine) *ledger.State {
	t.Helper()
	st := ledger.NewState()
	require.NoError(t, st.Restore(e.Snapshot()))
	return st
}

func do(t *testing.T, r http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func placeMarketOpen(t *testing.T, r http.Handler) model.Order {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/v1/orders/position", "trader-key", map[string]any{
		"sub_account_id": long.String(),
		"collateral":     "500",
		"size":           "1",
		"flags":          model.FlagOpen | model.FlagMarket,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	return o
}

func TestPlaceAndFillPositionOrder(t *testing.T) {
	_, r := newTestEnv(t, nil, nil)

	o := placeMarketOpen(t, r)
	assert.Equal(t, model.OrderTypePosition, o.Type)
	require.NotNil(t, o.Position)
	assert.Equal(t, long, o.Position.SubAccountID)

	w := do(t, r, http.MethodPost, "/api/v1/orders/1/fill", "broker-key", orderbook.PositionFill{
		CollateralPrice: d("1"), AssetPrice: d("2000"), ProfitAssetPrice: d("1"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/v1/sub-accounts/"+long.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec model.SubAccountRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Size.Equal(d("1")), "size %s", rec.Size)
	assert.True(t, rec.Collateral.IsPositive())

	// Packed hex ids address the same sub-account.
	w = do(t, r, http.MethodGet, "/api/v1/sub-accounts/"+long.Hex(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var byHex model.SubAccountRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &byHex))
	assert.True(t, byHex.Size.Equal(rec.Size))

	w = do(t, r, http.MethodGet, "/api/v1/orders", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list api.OrderList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Total)
	assert.Empty(t, list.Orders)
}

func TestMargin(t *testing.T) {
	_, r := newTestEnv(t, nil, nil)
	placeMarketOpen(t, r)
	w := do(t, r, http.MethodPost, "/api/v1/orders/1/fill", "broker-key", orderbook.PositionFill{
		CollateralPrice: d("1"), AssetPrice: d("2000"), ProfitAssetPrice: d("1"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/v1/sub-accounts/"+long.String()+"/margin?collateral_price=1&price=2100", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var m struct {
		HasProfit       bool `json:"has_profit"`
		MaintenanceSafe bool `json:"maintenance_safe"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.True(t, m.HasProfit)
	assert.True(t, m.MaintenanceSafe)

	w = do(t, r, http.MethodGet, "/api/v1/sub-accounts/"+long.String()+"/margin?collateral_price=1&price=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthentication(t *testing.T) {
	_, r := newTestEnv(t, nil, nil)
	body := map[string]any{"sub_account_id": long.String(), "collateral": "1", "size": "1", "flags": 192}

	w := do(t, r, http.MethodPost, "/api/v1/orders/position", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/orders/position", "nope", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The X-API-Key header is accepted too.
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/position", bytes.NewReader(data))
	req.Header.Set("X-API-Key", "trader-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Reads are public.
	w = do(t, r, http.MethodGet, "/api/v1/assets", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorStatuses(t *testing.T) {
	_, r := newTestEnv(t, nil, nil)

	// Someone else's sub-account.
	w := do(t, r, http.MethodPost, "/api/v1/orders/position", "broker-key", map[string]any{
		"sub_account_id": long.String(), "collateral": "1", "size": "1", "flags": 192,
	})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	// Malformed body.
	w = do(t, r, http.MethodPost, "/api/v1/orders/position", "trader-key", map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown order.
	w = do(t, r, http.MethodDelete, "/api/v1/orders/42", "trader-key", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/assets/9", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/sub-accounts/not-an-id", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Traders cannot fill.
	placeMarketOpen(t, r)
	w = do(t, r, http.MethodPost, "/api/v1/orders/1/fill", "trader-key", orderbook.PositionFill{
		CollateralPrice: d("1"), AssetPrice: d("2000"), ProfitAssetPrice: d("1"),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// A limit order filled beyond its bound stays pending.
	w = do(t, r, http.MethodPost, "/api/v1/orders/position", "trader-key", map[string]any{
		"sub_account_id": long.String(),
		"collateral":     "100",
		"size":           "1",
		"price":          "1500",
		"flags":          model.FlagOpen,
		"deadline":       t0.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, "/api/v1/orders/2/fill", "broker-key", orderbook.PositionFill{
		CollateralPrice: d("1"), AssetPrice: d("2000"), ProfitAssetPrice: d("1"),
	})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/v1/orders/2", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelOrder(t *testing.T) {
	e, r := newTestEnv(t, nil, nil)
	placeMarketOpen(t, r)
	assert.True(t, e.BalanceOf(common.HexToAddress("0xc0"), trader, 6).Equal(d("500")))

	w := do(t, r, http.MethodDelete, "/api/v1/orders/1", "broker-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, e.BalanceOf(common.HexToAddress("0xc0"), trader, 6).Equal(d("1000")))

	w = do(t, r, http.MethodGet, "/api/v1/orders/1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventHistory(t *testing.T) {
	ms := store.NewMemoryStore()
	_, r := newTestEnv(t, ms, ms)
	placeMarketOpen(t, r)
	w := do(t, r, http.MethodDelete, "/api/v1/orders/1", "trader-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/v1/events?order_id=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []model.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, model.EventNewPositionOrder, events[0].Type)
	assert.Equal(t, model.EventCancelOrder, events[1].Type)

	w = do(t, r, http.MethodGet, "/api/v1/events?type=CancelOrder&account="+trader.Hex(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.Len(t, events, 1)

	w = do(t, r, http.MethodGet, "/api/v1/events?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotPersistedIsAccepted(t *testing.T) {
	e, r := newTestEnv(t, failingStore{}, nil)

	w := do(t, r, http.MethodPost, "/api/v1/orders/position", "trader-key", map[string]any{
		"sub_account_id": long.String(), "collateral": "500", "size": "1", "flags": 192,
	})
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Warning"), "not persisted")
	_, err := e.Order(1)
	assert.NoError(t, err, "the order took effect")

	w = do(t, r, http.MethodGet, "/api/v1/events", "", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestAdmin(t *testing.T) {
	e, r := newTestEnv(t, nil, nil)

	w := do(t, r, http.MethodPost, "/api/v1/admin/funds", "broker-key", orderbook.Fund{
		AssetID: 0, Account: broker, Amount: d("5"),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/admin/funds", "owner-key", orderbook.Fund{
		AssetID: 0, Account: broker, Amount: d("5"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/v1/accounts/"+broker.Hex()+"/balances", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balances []api.Balance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balances))
	require.NotEmpty(t, balances)
	assert.Equal(t, "USDC", balances[0].Symbol)
	assert.True(t, balances[0].Amount.Equal(d("5")))

	w = do(t, r, http.MethodPost, "/api/v1/admin/roles", "owner-key", api.RoleRequest{
		Role: model.RoleRebalancer, Account: trader, Granted: true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, e.Members(model.RoleRebalancer), trader)

	w = do(t, r, http.MethodGet, "/api/v1/roles/rebalancer", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var members []common.Address
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &members))
	assert.Equal(t, []common.Address{trader}, members)

	w = do(t, r, http.MethodPost, "/api/v1/admin/roles", "owner-key", api.RoleRequest{
		Role: "janitor", Account: trader, Granted: true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/api/v1/admin/assets/1/flags", "owner-key", model.AssetFlags{IsEnabled: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a, err := e.Asset(1)
	require.NoError(t, err)
	assert.False(t, a.IsTradable)
}

func TestChainStorage(t *testing.T) {
	_, r := newTestEnv(t, nil, nil)
	placeMarketOpen(t, r)

	w := do(t, r, http.MethodGet, "/api/v1/chain-storage", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cs model.ChainStorage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cs))
	assert.Len(t, cs.Assets, 2)
	assert.Equal(t, 1, cs.PendingOrders)
	assert.Equal(t, uint64(2), cs.NextOrderID)
}

func TestDevelopmentAccountHeader(t *testing.T) {
	e := orderbook.New(ledger.NewState(), orderbook.WithClock(func() time.Time { return t0 }), orderbook.WithLogger(discard()))
	_, err := e.Seed(context.Background(), genesis())
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Route("/api/v1", api.NewServer(e, nil, nil, discard()).Mount)

	data, _ := json.Marshal(map[string]any{"sub_account_id": long.String(), "collateral": "1", "size": "1", "flags": 192})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/position", bytes.NewReader(data))
	req.Header.Set(api.AccountHeader, trader.Hex())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders/position", bytes.NewReader(data))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetAsset_Headroom(t *testing.T) {
	e, r := newTestEnv(t, nil, nil)
	a, err := e.Asset(1)
	require.NoError(t, err)
	p := a.AssetParams
	p.MaxLongPositionSize = d("5")
	require.NoError(t, e.SetAssetParams(context.Background(), owner, 1, p))

	w := do(t, r, http.MethodGet, "/api/v1/assets/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v api.AssetView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "WETH", v.Symbol)
	require.NotNil(t, v.LongHeadroom)
	assert.True(t, v.LongHeadroom.Equal(d("5")))
	assert.Nil(t, v.ShortHeadroom, "uncapped side has no headroom")
}
