package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/model"
)

var (
	t0     = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trader = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	usdc   = model.Asset{ID: 0, Symbol: "USDC", Decimals: 6, Token: common.HexToAddress("0xc0")}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seeded(t *testing.T) *State {
	t.Helper()
	s := NewState()
	tx := s.Begin(t0)
	tx.PutAsset(usdc)
	require.NoError(t, tx.Mint(usdc.Token, trader, uint256.NewInt(5_000_000_000)))
	_, err := tx.Commit()
	require.NoError(t, err)
	return s
}

func TestTx_DiscardLeavesStateUntouched(t *testing.T) {
	s := seeded(t)
	tx := s.Begin(t0)

	require.NoError(t, tx.PullAsset(usdc, trader, d("1000")))
	a, _ := tx.Asset(usdc.ID)
	tx.PutAsset(IncreaseSpot(a, d("1000")))
	tx.Emit(model.EventAddLiquidity, 0, trader, nil)
	tx.Discard()

	a, err := s.Asset(usdc.ID)
	require.NoError(t, err)
	assert.True(t, a.SpotLiquidity.IsZero())
	assert.Equal(t, uint64(5_000_000_000), s.BalanceOf(usdc.Token, trader).Uint64())
	assert.Zero(t, s.Globals().EventSeq)
}

func TestTx_CommitChangeSet(t *testing.T) {
	s := seeded(t)
	tx := s.Begin(t0)

	require.NoError(t, tx.PullAsset(usdc, trader, d("250.5")))
	id := tx.AllocOrderID()
	tx.PutOrder(model.Order{ID: id, Type: model.OrderTypeLiquidity, Account: trader,
		Liquidity: &model.LiquidityOrder{AssetID: usdc.ID, Amount: d("250.5"), IsAdding: true}})
	tx.Emit(model.EventNewLiquidityOrder, id, trader, Attrs("amount", d("250.5")))

	cs, err := tx.Commit()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), id)
	assert.Equal(t, uint64(2), cs.Globals.NextOrderID)
	require.Len(t, cs.Orders, 1)
	require.Len(t, cs.Events, 1)
	assert.Equal(t, "250.5", cs.Events[0].Attrs["amount"])
	require.Len(t, cs.Balances, 2)
	assert.Equal(t, uint64(250_500_000), s.BalanceOf(usdc.Token, VaultAccount).Uint64())

	_, err = tx.Commit()
	assert.ErrorIs(t, err, ErrTxClosed)
}

func TestTx_OrderIDsNeverReused(t *testing.T) {
	s := NewState()
	tx := s.Begin(t0)
	first := tx.AllocOrderID()
	tx.PutOrder(model.Order{ID: first})
	_, err := tx.Commit()
	require.NoError(t, err)

	tx = s.Begin(t0)
	require.NoError(t, tx.RemoveOrder(first))
	second := tx.AllocOrderID()
	_, err = tx.Commit()
	require.NoError(t, err)

	assert.Equal(t, first+1, second)
	_, err = s.Order(first)
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestTx_EmptySubAccountCleared(t *testing.T) {
	s := NewState()
	id := model.SubAccountID{Account: trader, AssetID: 1, IsLong: true}

	tx := s.Begin(t0)
	tx.PutSubAccount(id, model.SubAccount{Collateral: d("10")})
	_, err := tx.Commit()
	require.NoError(t, err)
	assert.Len(t, s.SubAccounts(), 1)

	tx = s.Begin(t0)
	tx.PutSubAccount(id, model.SubAccount{})
	cs, err := tx.Commit()
	require.NoError(t, err)
	assert.Empty(t, s.SubAccounts())
	assert.Equal(t, []model.SubAccountID{id}, cs.ClearedSubAccounts)
}

func TestBank_InsufficientBalance(t *testing.T) {
	s := seeded(t)
	tx := s.Begin(t0)
	err := tx.PullAsset(usdc, trader, d("5000.000001"))
	assert.True(t, errors.Is(err, model.ErrInsufficientBalance), "got %v", err)
}

func TestBank_MintBurnSupply(t *testing.T) {
	s := NewState()
	share := common.HexToAddress("0x5a")
	tx := s.Begin(t0)
	require.NoError(t, tx.MintAmount(share, trader, d("3")))
	require.NoError(t, tx.BurnAmount(share, trader, d("1.25")))
	assert.ErrorIs(t, tx.BurnAmount(share, trader, d("2")), model.ErrInsufficientBalance)
	_, err := tx.Commit()
	require.NoError(t, err)

	want, err := fixed.ParseRaw("1750000000000000000")
	require.NoError(t, err)
	assert.True(t, s.TotalSupply(share).Eq(want))
	assert.True(t, s.BalanceOf(share, trader).Eq(want))
}

func TestBank_DecimalRoundTrip(t *testing.T) {
	for _, dec := range []uint8{6, 8, 12, 18} {
		tok := model.Asset{ID: 1, Decimals: dec, Token: common.HexToAddress("0xee")}
		s := NewState()
		tx := s.Begin(t0)
		n := uint256.NewInt(123_456_789)
		require.NoError(t, tx.Mint(tok.Token, trader, n))

		amount := tx.AssetBalance(tok, trader)
		require.NoError(t, tx.PullAsset(tok, trader, amount))
		assert.True(t, tx.BalanceOf(tok.Token, trader).IsZero())

		back := tx.AssetBalance(tok, VaultAccount)
		require.NoError(t, tx.PushAsset(tok, trader, back))
		assert.True(t, tx.BalanceOf(tok.Token, trader).Eq(n), "decimals %d", dec)
	}
}

func TestAssetOps(t *testing.T) {
	a := usdc
	a = IncreaseSpot(a, d("100"))

	_, err := DecreaseSpot(a, d("100.01"))
	assert.ErrorIs(t, err, model.ErrInsufficientLiquidity)

	a, err = Borrow(a, d("40"), d("0.4"))
	require.NoError(t, err)
	assert.True(t, a.SpotLiquidity.Equal(d("60")))
	assert.True(t, a.Credit.Equal(d("40")))
	assert.True(t, a.CollectedFee.Equal(d("0.4")))

	_, err = Repay(a, d("30"), decimal.Zero, d("20"))
	assert.ErrorIs(t, err, model.ErrCreditExceeded)

	a, err = Repay(a, d("30"), d("0.3"), d("10"))
	require.NoError(t, err)
	assert.True(t, a.Credit.IsZero())
	assert.True(t, a.SpotLiquidity.Equal(d("90")))
	assert.True(t, a.CollectedFee.Equal(d("0.7")))
}

func TestTotalSize_WeightedAverage(t *testing.T) {
	a := IncreaseTotalSize(usdc, true, d("1"), d("2000"))
	a = IncreaseTotalSize(a, true, d("3"), d("2400"))
	assert.True(t, a.TotalLongPosition.Equal(d("4")))
	assert.True(t, a.AverageLongPrice.Equal(d("2300")))

	a, err := DecreaseTotalSize(a, true, d("4"))
	require.NoError(t, err)
	assert.True(t, a.AverageLongPrice.IsZero())

	_, err = DecreaseTotalSize(a, false, d("1"))
	assert.ErrorIs(t, err, model.ErrInsufficientSize)
}

func TestRestoreSnapshot(t *testing.T) {
	s := seeded(t)
	tx := s.Begin(t0)
	tx.SetRole(model.RoleGrant{Role: model.RoleBroker, Account: trader, Granted: true})
	tx.CountFill(trader)
	tx.SetLastFundingTime(t0)
	_, err := tx.Commit()
	require.NoError(t, err)

	restored := NewState()
	require.NoError(t, restored.Restore(s.Snapshot()))

	assert.Equal(t, s.Snapshot(), restored.Snapshot())
	assert.True(t, restored.HasRole(model.RoleBroker, trader))
	assert.Equal(t, uint64(1), restored.BrokerFills(trader))
}
