package position

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
	"github.com/atmx/liquidity-pool/internal/settlement"
)

var (
	t0     = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trader = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	lender = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func usdc() model.Asset {
	a := model.Asset{ID: 0, Symbol: "USDC", Decimals: 6,
		Token: common.HexToAddress("0xc0"), DebtToken: common.HexToAddress("0xd0")}
	a.IsStable, a.IsStrictStable, a.IsEnabled = true, true, true
	return a
}

func weth() model.Asset {
	a := model.Asset{ID: 1, Symbol: "WETH", Decimals: 18,
		Token: common.HexToAddress("0xe0"), DebtToken: common.HexToAddress("0xd1")}
	a.IsEnabled, a.IsTradable, a.IsOpenable, a.IsShortable = true, true, true, true
	a.UseStableTokenForProfit, a.CanBeLiquidated = true, true
	a.InitialMarginRate = d("0.1")
	a.MaintenanceMarginRate = d("0.05")
	a.PositionFeeRate = d("0.001")
	a.LiquidationFeeRate = d("0.002")
	return a
}

type fixture struct {
	t  *testing.T
	s  *ledger.State
	e  *Engine
	id model.SubAccountID
}

// newFixture registers USDC and WETH, seeds USDC spot liquidity and funds the
// trader's wallet.
func newFixture(t *testing.T, spot, wallet string) *fixture {
	t.Helper()
	s := ledger.NewState()
	tx := s.Begin(t0)
	u := usdc()
	tx.PutAsset(ledger.IncreaseSpot(u, d(spot)))
	tx.PutAsset(weth())
	require.NoError(t, tx.Mint(u.Token, ledger.VaultAccount, raw(t, spot, 6)))
	require.NoError(t, tx.Mint(u.Token, trader, raw(t, wallet, 6)))
	_, err := tx.Commit()
	require.NoError(t, err)
	return &fixture{
		t:  t,
		s:  s,
		e:  NewEngine(nil),
		id: model.SubAccountID{Account: trader, CollateralID: 0, AssetID: 1, IsLong: true},
	}
}

func raw(t *testing.T, wad string, decimals uint8) *uint256.Int {
	t.Helper()
	r, err := fixed.FromWad(d(wad), decimals)
	require.NoError(t, err)
	return r
}

// do runs fn in one transaction at time at and commits it when fn succeeds.
func (f *fixture) do(at time.Time, fn func(tx *ledger.Tx) error) error {
	tx := f.s.Begin(at)
	if err := fn(tx); err != nil {
		tx.Discard()
		return err
	}
	_, err := tx.Commit()
	require.NoError(f.t, err)
	return nil
}

func (f *fixture) deposit(amount string) {
	require.NoError(f.t, f.do(t0, func(tx *ledger.Tx) error {
		return f.e.DepositCollateral(tx, f.id, trader, d(amount), 0)
	}))
}

func (f *fixture) open(at time.Time, size, price string) error {
	return f.do(at, func(tx *ledger.Tx) error {
		_, err := f.e.Open(tx, f.id, fill(size, price))
		return err
	})
}

func fill(size, price string) Fill {
	return Fill{Size: d(size), Price: d(price), CollateralPrice: d("1"), ProfitAssetID: 0, ProfitAssetPrice: d("1")}
}

func (f *fixture) asset(id uint8) model.Asset {
	a, err := f.s.Asset(id)
	require.NoError(f.t, err)
	return a
}

// vaultCovers checks that the vault holds exactly the USDC the ledger books
// across spot liquidity, collected fees and trader collateral.
func (f *fixture) vaultCovers() {
	u := f.asset(0)
	booked := u.SpotLiquidity.Add(u.CollectedFee)
	for _, r := range f.s.SubAccounts() {
		if r.ID.CollateralID == 0 {
			booked = booked.Add(r.Collateral)
		}
	}
	held := fixed.ToWad(f.s.BalanceOf(u.Token, ledger.VaultAccount), u.Decimals)
	assert.True(f.t, held.Equal(booked), "vault %s != booked %s", held, booked)
}

func TestOpenClose_RoundTrip(t *testing.T) {
	f := newFixture(t, "10000", "1000")
	f.deposit("1000")

	require.NoError(t, f.open(t0, "1", "2000"))
	sa := f.s.SubAccount(f.id)
	assert.True(t, sa.Collateral.Equal(d("998")), "collateral after open = %s", sa.Collateral)
	assert.True(t, sa.EntryPrice.Equal(d("2000")))
	assert.True(t, sa.Size.Equal(d("1")))
	assert.Equal(t, t0, sa.LastIncreasedTime)
	assert.True(t, f.asset(0).CollectedFee.Equal(d("2")))
	assert.True(t, f.asset(1).TotalLongPosition.Equal(d("1")))
	f.vaultCovers()

	var res Result
	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		var err error
		res, err = f.e.Close(tx, f.id, fill("1", "1900"), false)
		return err
	}))
	assert.False(t, res.HasProfit)
	assert.True(t, res.PnlUsd.Equal(d("100")), "loss = %s", res.PnlUsd)
	assert.True(t, res.FeeUsd.Equal(d("1.9")))

	sa = f.s.SubAccount(f.id)
	assert.True(t, sa.Size.IsZero())
	assert.True(t, sa.EntryPrice.IsZero())
	assert.True(t, sa.LastIncreasedTime.IsZero())
	assert.True(t, sa.Collateral.Equal(d("896.1")), "collateral after close = %s", sa.Collateral)

	u := f.asset(0)
	assert.True(t, u.SpotLiquidity.Equal(d("10100")), "loss flows into spot liquidity")
	assert.True(t, u.CollectedFee.Equal(d("3.9")))
	assert.True(t, f.asset(1).TotalLongPosition.IsZero())
	f.vaultCovers()
}

func TestClose_ProfitPaidInStableAsset(t *testing.T) {
	f := newFixture(t, "10000", "1000")
	f.deposit("1000")
	require.NoError(t, f.open(t0, "1", "2000"))

	var res Result
	require.NoError(t, f.do(t0.Add(time.Hour), func(tx *ledger.Tx) error {
		var err error
		res, err = f.e.Close(tx, f.id, fill("1", "2100"), false)
		return err
	}))
	assert.True(t, res.HasProfit)
	assert.True(t, res.PnlUsd.Equal(d("100")))
	assert.True(t, res.Payout.Equal(d("97.9")), "profit net of the 2.1 fee, got %s", res.Payout)
	assert.True(t, res.Debt.IsZero())

	u := f.asset(0)
	assert.True(t, u.SpotLiquidity.Equal(d("9900")))
	assert.True(t, u.CollectedFee.Equal(d("4.1")))
	assert.True(t, f.s.SubAccount(f.id).Collateral.Equal(d("998")), "fee came out of profit")
	assert.True(t, fixed.ToWad(f.s.BalanceOf(u.Token, trader), 6).Equal(d("97.9")))
	f.vaultCovers()
}

func TestClose_ProfitShortfallMintsDebt(t *testing.T) {
	f := newFixture(t, "50", "1000")
	f.deposit("1000")
	require.NoError(t, f.open(t0, "1", "2000"))

	var res Result
	require.NoError(t, f.do(t0.Add(time.Hour), func(tx *ledger.Tx) error {
		var err error
		res, err = f.e.Close(tx, f.id, fill("1", "2100"), false)
		if err == nil {
			assert.True(t, settlement.DebtSupply(tx, f.asset(0)).Equal(d("50")))
		}
		return err
	}))
	assert.True(t, res.Payout.Equal(d("47.9")))
	assert.True(t, res.Debt.Equal(d("50")))
	assert.True(t, f.asset(0).SpotLiquidity.IsZero())
	f.vaultCovers()
}

func TestClose_FeeLargerThanCollateralNetsAgainstProfit(t *testing.T) {
	f := newFixture(t, "1", "250")
	f.deposit("250")
	require.NoError(t, f.open(t0, "1", "2000"))
	require.True(t, f.s.SubAccount(f.id).Collateral.Equal(d("248")))

	// Fee 300 exceeds the 248 collateral; spot backs 1 of it.
	var res Result
	require.NoError(t, f.do(t0.Add(time.Hour), func(tx *ledger.Tx) error {
		var err error
		res, err = f.e.Close(tx, f.id, fill("1", "300000"), false)
		return err
	}))
	assert.True(t, res.PnlUsd.Equal(d("298000")))
	assert.True(t, res.FeeUsd.Equal(d("300")))
	assert.True(t, res.Payout.IsZero())
	assert.True(t, res.Debt.Equal(d("297700")), "debt = %s", res.Debt)

	assert.True(t, f.s.SubAccount(f.id).Collateral.Equal(d("248")), "fee came out of profit")
	u := f.asset(0)
	assert.True(t, u.SpotLiquidity.IsZero())
	assert.True(t, u.CollectedFee.Equal(d("3")))
	assert.True(t, fixed.ToWad(f.s.BalanceOf(u.DebtToken, trader), ledger.ShareDecimals).Equal(d("297700")))
	f.vaultCovers()
}

func TestOpen_InitialMarginRequired(t *testing.T) {
	f := newFixture(t, "10000", "1000")
	f.deposit("100")

	err := f.open(t0, "1", "2000")
	assert.ErrorIs(t, err, model.ErrInsufficientMargin)
	assert.True(t, f.s.SubAccount(f.id).Collateral.Equal(d("100")), "failed open leaves no trace")
	assert.True(t, f.asset(1).TotalLongPosition.IsZero())
	assert.True(t, f.asset(0).CollectedFee.IsZero())
}

func TestOpen_FlagsAndCaps(t *testing.T) {
	f := newFixture(t, "10000", "10000")
	f.deposit("10000")

	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		a, _ := tx.Asset(1)
		a.MaxLongPositionSize = d("2")
		a.IsShortable = false
		tx.PutAsset(a)
		return nil
	}))
	assert.ErrorIs(t, f.open(t0, "3", "2000"), model.ErrPositionLimitExceeded)

	f.id.IsLong = false
	assert.ErrorIs(t, f.open(t0, "1", "2000"), model.ErrNotShortable)

	assert.ErrorIs(t, f.open(t0, "0", "2000"), model.ErrZeroAmount)
	assert.ErrorIs(t, f.open(t0, "1", "0"), model.ErrInvalidPrice)
}

func TestClose_MinProfitRule(t *testing.T) {
	f := newFixture(t, "10000", "1000")
	f.deposit("1000")
	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		a, _ := tx.Asset(1)
		a.MinProfitTime = time.Hour
		a.MinProfitRate = d("0.01")
		tx.PutAsset(a)
		return nil
	}))
	require.NoError(t, f.open(t0, "1", "2000"))

	early := t0.Add(10 * time.Minute)
	err := f.do(early, func(tx *ledger.Tx) error {
		_, err := f.e.Close(tx, f.id, fill("1", "2010"), true)
		return err
	})
	assert.ErrorIs(t, err, model.ErrMinProfitNotReached)

	var res Result
	require.NoError(t, f.do(early, func(tx *ledger.Tx) error {
		res, err = f.e.Close(tx, f.id, fill("1", "2010"), false)
		return err
	}))
	assert.False(t, res.HasProfit)
	assert.True(t, res.PnlUsd.IsZero(), "profit inside the window counts as zero")
	assert.True(t, res.Payout.IsZero())
}

func TestPnl_Directions(t *testing.T) {
	a := weth()
	sa := model.SubAccount{Size: d("2"), EntryPrice: d("100")}
	tests := []struct {
		name      string
		isLong    bool
		price     string
		hasProfit bool
		pnl       string
	}{
		{"long up", true, "110", true, "20"},
		{"long down", true, "90", false, "20"},
		{"short down", false, "90", true, "20"},
		{"short up", false, "110", false, "20"},
		{"flat", true, "100", false, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasProfit, pnl, _ := Pnl(a, sa, tt.isLong, sa.Size, d(tt.price), t0)
			assert.Equal(t, tt.hasProfit, hasProfit)
			assert.True(t, pnl.Equal(d(tt.pnl)), "pnl = %s", pnl)
		})
	}
}

func TestHalfSpread(t *testing.T) {
	hs := d("0.001")
	assert.True(t, OpenPrice(d("2000"), hs, true).Equal(d("2002")))
	assert.True(t, OpenPrice(d("2000"), hs, false).Equal(d("1998")))
	assert.True(t, ClosePrice(d("2000"), hs, true).Equal(d("1998")))
	assert.True(t, ClosePrice(d("2000"), hs, false).Equal(d("2002")))
}

func TestWithdrawCollateral_InitialMargin(t *testing.T) {
	f := newFixture(t, "10000", "1000")
	f.deposit("1000")
	require.NoError(t, f.open(t0, "1", "2000"))

	withdraw := func(amount string) error {
		return f.do(t0, func(tx *ledger.Tx) error {
			return f.e.WithdrawCollateral(tx, f.id, d(amount), d("1"), d("2000"), 0)
		})
	}
	require.NoError(t, withdraw("700"))
	sa := f.s.SubAccount(f.id)
	assert.True(t, sa.Collateral.Equal(d("298")))
	assert.True(t, IsSafe(f.asset(1), sa, true, d("1"), d("2000"), f.asset(1).InitialMarginRate, t0))

	assert.ErrorIs(t, withdraw("100"), model.ErrInsufficientMargin)
	assert.ErrorIs(t, withdraw("0"), model.ErrZeroAmount)
	f.vaultCovers()

	err := f.do(t0, func(tx *ledger.Tx) error {
		_, err := f.e.WithdrawAllCollateral(tx, f.id, 0)
		return err
	})
	assert.ErrorIs(t, err, model.ErrPositionNotEmpty)
}

func TestWithdrawAllCollateral(t *testing.T) {
	f := newFixture(t, "0", "500")
	f.deposit("500")

	var got decimal.Decimal
	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		var err error
		got, err = f.e.WithdrawAllCollateral(tx, f.id, 0)
		return err
	}))
	assert.True(t, got.Equal(d("500")))
	assert.True(t, f.s.SubAccount(f.id).IsEmpty())
	assert.Empty(t, f.s.SubAccounts(), "empty sub-account is cleared")
	assert.Equal(t, uint64(500_000_000), f.s.BalanceOf(usdc().Token, trader).Uint64())
}

func TestLiquidate(t *testing.T) {
	f := newFixture(t, "10000", "300")
	f.deposit("300")
	require.NoError(t, f.open(t0, "1", "2000"))

	liquidate := func(price string) (Result, error) {
		var res Result
		err := f.do(t0, func(tx *ledger.Tx) error {
			var err error
			res, err = f.e.Liquidate(tx, f.id, fill("1", price))
			return err
		})
		return res, err
	}

	// 298 >= 1800*0.05 + 200.
	_, err := liquidate("1800")
	assert.ErrorIs(t, err, model.ErrPositionSafe)

	res, err := liquidate("1750")
	require.NoError(t, err)
	assert.False(t, res.HasProfit)
	assert.True(t, res.PnlUsd.Equal(d("250")))
	assert.True(t, res.FeeUsd.Equal(d("3.5")))
	assert.True(t, res.Returned.Equal(d("44.5")), "residual collateral = %s", res.Returned)

	assert.True(t, f.s.SubAccount(f.id).IsEmpty())
	u := f.asset(0)
	assert.True(t, u.SpotLiquidity.Equal(d("10250")))
	assert.True(t, u.CollectedFee.Equal(d("5.5")))
	assert.True(t, f.asset(1).TotalLongPosition.IsZero())
	assert.True(t, fixed.ToWad(f.s.BalanceOf(u.Token, trader), 6).Equal(d("44.5")))
	f.vaultCovers()
}

func TestLiquidate_UsesCurrentMaintenanceRate(t *testing.T) {
	f := newFixture(t, "10000", "300")
	f.deposit("300")
	require.NoError(t, f.open(t0, "1", "2000"))

	m := Evaluate(f.asset(1), f.s.SubAccount(f.id), true, d("1"), d("1800"), t0)
	require.True(t, m.MaintenanceSafe)

	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		a, _ := tx.Asset(1)
		a.MaintenanceMarginRate = d("0.06")
		tx.PutAsset(a)
		return nil
	}))
	err := f.do(t0, func(tx *ledger.Tx) error {
		_, err := f.e.Liquidate(tx, f.id, fill("1", "1800"))
		return err
	})
	require.NoError(t, err)
	assert.True(t, f.s.SubAccount(f.id).Size.IsZero())
}

func TestLiquidate_LossCappedAtCollateral(t *testing.T) {
	f := newFixture(t, "10000", "300")
	f.deposit("300")
	require.NoError(t, f.open(t0, "1", "2000"))

	var res Result
	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		var err error
		res, err = f.e.Liquidate(tx, f.id, fill("1", "1500"))
		return err
	}))
	assert.True(t, res.Returned.IsZero())
	assert.True(t, f.asset(0).SpotLiquidity.Equal(d("10298")), "pool takes at most the collateral")
	f.vaultCovers()
}

func TestWithdrawProfit_MovesEntryPrice(t *testing.T) {
	f := newFixture(t, "10000", "1000")
	f.deposit("1000")
	require.NoError(t, f.open(t0, "1", "2000"))

	var res Result
	require.NoError(t, f.do(t0.Add(time.Hour), func(tx *ledger.Tx) error {
		var err error
		res, err = f.e.WithdrawProfit(tx, f.id, d("100"), fill("0", "2200"))
		return err
	}))
	assert.True(t, res.Payout.Equal(d("100")))
	sa := f.s.SubAccount(f.id)
	assert.True(t, sa.EntryPrice.Equal(d("2100")), "entry = %s", sa.EntryPrice)
	assert.True(t, sa.Size.Equal(d("1")))
	f.vaultCovers()

	err := f.do(t0.Add(time.Hour), func(tx *ledger.Tx) error {
		_, err := f.e.WithdrawProfit(tx, f.id, d("150"), fill("0", "2200"))
		return err
	})
	assert.ErrorIs(t, err, model.ErrInsufficientMargin)
}

func TestBorrowRepay(t *testing.T) {
	f := newFixture(t, "10000", "0")

	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		return Borrow(tx, lender, 0, d("1000"), d("1"))
	}))
	u := f.asset(0)
	assert.True(t, u.SpotLiquidity.Equal(d("9000")))
	assert.True(t, u.Credit.Equal(d("1000")))
	assert.True(t, u.CollectedFee.Equal(d("1")))
	assert.Equal(t, uint64(999_000_000), f.s.BalanceOf(u.Token, lender).Uint64())

	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		return tx.Mint(u.Token, lender, raw(t, "3", 6))
	}))
	require.NoError(t, f.do(t0, func(tx *ledger.Tx) error {
		return Repay(tx, lender, 0, d("1000"), d("2"), decimal.Zero)
	}))
	u = f.asset(0)
	assert.True(t, u.SpotLiquidity.Equal(d("10000")))
	assert.True(t, u.Credit.IsZero())
	assert.True(t, u.CollectedFee.Equal(d("3")))
	f.vaultCovers()

	err := f.do(t0, func(tx *ledger.Tx) error {
		return Repay(tx, lender, 0, d("1"), decimal.Zero, decimal.Zero)
	})
	assert.ErrorIs(t, err, model.ErrCreditExceeded)
}
