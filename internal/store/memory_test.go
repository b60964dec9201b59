package store_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/orderbook"
	"github.com/atmx/liquidity-pool/internal/store"
)

var (
	owner  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	broker = common.HexToAddress("0x0000000000000000000000000000000000000002")
	trader = common.HexToAddress("0x00000000000000000000000000000000000000a1")

	long = model.SubAccountID{Account: trader, CollateralID: 0, AssetID: 1, IsLong: true}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
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

func newEngine(t *testing.T, s store.Store) *orderbook.Engine {
	t.Helper()
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	e := orderbook.New(ledger.NewState(),
		orderbook.WithPersister(s),
		orderbook.WithClock(func() time.Time { return now }),
		orderbook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	_, err := e.Seed(context.Background(), genesis())
	require.NoError(t, err)
	return e
}

func TestMemoryStore_LoadEmpty(t *testing.T) {
	_, ok, err := store.NewMemoryStore().Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ReplaysEngineState(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newEngine(t, s)

	open, err := e.PlacePositionOrder(ctx, trader, orderbook.PositionOrderRequest{
		SubAccountID: long,
		Collateral:   d("500"),
		Size:         d("1"),
		Flags:        model.FlagOpen | model.FlagMarket,
	})
	require.NoError(t, err)
	require.NoError(t, e.FillPositionOrder(ctx, broker, open.ID, orderbook.PositionFill{
		CollateralPrice: d("1"), AssetPrice: d("2000"), ProfitAssetPrice: d("1"),
	}))
	_, err = e.PlacePositionOrder(ctx, trader, orderbook.PositionOrderRequest{
		SubAccountID: long,
		Collateral:   d("100"),
		Size:         d("1"),
		Price:        d("1500"),
		Flags:        model.FlagOpen,
		Deadline:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	snap, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, snap.Orders, 1)
	assert.Len(t, snap.SubAccounts, 1)

	restored := ledger.NewState()
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, e.Snapshot(), restored.Snapshot())
}

func TestMemoryStore_DropsClearedRecords(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newEngine(t, s)

	o, err := e.PlacePositionOrder(ctx, trader, orderbook.PositionOrderRequest{
		SubAccountID: long,
		Collateral:   d("1000"),
		Size:         d("1"),
		Flags:        model.FlagOpen | model.FlagMarket,
	})
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, trader, o.ID))

	snap, _, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Orders)
	escrow := 0
	for _, b := range snap.Balances {
		if b.Holder == ledger.EscrowAccount {
			escrow++
		}
	}
	assert.Zero(t, escrow, "escrow balance should be deleted once it reaches zero")
}

func TestMemoryStore_ListEvents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newEngine(t, s)

	o, err := e.PlacePositionOrder(ctx, trader, orderbook.PositionOrderRequest{
		SubAccountID: long,
		Collateral:   d("1000"),
		Size:         d("1"),
		Flags:        model.FlagOpen | model.FlagMarket,
	})
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, trader, o.ID))

	all, err := s.ListEvents(ctx, model.EventFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Seq, all[i].Seq)
	}

	byOrder, err := s.ListEvents(ctx, model.EventFilter{OrderID: o.ID})
	require.NoError(t, err)
	require.Len(t, byOrder, 2)
	assert.Equal(t, model.EventNewPositionOrder, byOrder[0].Type)
	assert.Equal(t, model.EventCancelOrder, byOrder[1].Type)

	limited, err := s.ListEvents(ctx, model.EventFilter{Account: &trader, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
