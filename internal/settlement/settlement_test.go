package settlement

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
)

var (
	t0     = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trader = common.HexToAddress("0xa1")
	weth   = model.Asset{ID: 1, Symbol: "WETH", Decimals: 18,
		Token: common.HexToAddress("0xe0"), DebtToken: common.HexToAddress("0xd1")}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// poolWithSpot funds the vault with spot liquidity of WETH.
func poolWithSpot(t *testing.T, spot string) *ledger.State {
	t.Helper()
	s := ledger.NewState()
	tx := s.Begin(t0)
	a := ledger.IncreaseSpot(weth, d(spot))
	tx.PutAsset(a)
	raw, err := fixed.FromWad(d(spot), a.Decimals)
	require.NoError(t, err)
	require.NoError(t, tx.Mint(a.Token, ledger.VaultAccount, raw))
	_, err = tx.Commit()
	require.NoError(t, err)
	return s
}

func TestPayOut_FullyCovered(t *testing.T) {
	s := poolWithSpot(t, "10")
	tx := s.Begin(t0)

	res, err := PayOut(tx, weth.ID, trader, d("4"), 7)
	require.NoError(t, err)
	assert.True(t, res.Paid.Equal(d("4")))
	assert.True(t, res.Minted.IsZero())
	assert.Empty(t, tx.Events())

	a, _ := tx.Asset(weth.ID)
	assert.True(t, a.SpotLiquidity.Equal(d("6")))
	assert.True(t, tx.AssetBalance(a, trader).Equal(d("4")))
}

func TestPayOut_ShortfallMintsDebt(t *testing.T) {
	s := poolWithSpot(t, "3")
	tx := s.Begin(t0)

	res, err := PayOut(tx, weth.ID, trader, d("5"), 7)
	require.NoError(t, err)
	assert.True(t, res.Paid.Equal(d("3")))
	assert.True(t, res.Minted.Equal(d("2")))

	a, _ := tx.Asset(weth.ID)
	assert.True(t, a.SpotLiquidity.IsZero(), "spot liquidity never goes negative")
	assert.True(t, DebtSupply(tx, a).Equal(d("2")))
	require.Len(t, tx.Events(), 1)
	assert.Equal(t, model.EventIssueDebt, tx.Events()[0].Type)
	assert.Equal(t, uint64(7), tx.Events()[0].OrderID)
}

func TestRedeem_PartialAgainstAvailableLiquidity(t *testing.T) {
	s := poolWithSpot(t, "1")
	tx := s.Begin(t0)
	_, err := PayOut(tx, weth.ID, trader, d("4"), 0)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	// Nothing left in the pool.
	tx = s.Begin(t0)
	_, err = Redeem(tx, weth.ID, trader, d("1"))
	assert.ErrorIs(t, err, ErrNothingToRedeem)
	tx.Discard()

	// LPs replenish 2 WETH.
	tx = s.Begin(t0)
	a, _ := tx.Asset(weth.ID)
	tx.PutAsset(ledger.IncreaseSpot(a, d("2")))
	require.NoError(t, tx.Mint(a.Token, ledger.VaultAccount, mustRaw(t, "2")))

	redeemed, err := Redeem(tx, weth.ID, trader, d("3"))
	require.NoError(t, err)
	assert.True(t, redeemed.Equal(d("2")))

	a, _ = tx.Asset(weth.ID)
	assert.True(t, a.SpotLiquidity.IsZero())
	assert.True(t, DebtSupply(tx, a).Equal(d("1")), "only the redeemed amount is burned")
	assert.True(t, tx.AssetBalance(a, trader).Equal(d("3")))
}

func TestRedeem_Validation(t *testing.T) {
	s := poolWithSpot(t, "5")
	tx := s.Begin(t0)

	_, err := Redeem(tx, weth.ID, trader, decimal.Zero)
	assert.ErrorIs(t, err, model.ErrZeroAmount)

	_, err = Redeem(tx, weth.ID, trader, d("1"))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = Redeem(tx, 9, trader, d("1"))
	assert.ErrorIs(t, err, model.ErrAssetNotFound)
}

func mustRaw(t *testing.T, wad string) *uint256.Int {
	t.Helper()
	raw, err := fixed.FromWad(d(wad), 18)
	require.NoError(t, err)
	return raw
}
