package orderbook

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/access"
	"github.com/atmx/liquidity-pool/internal/feecurve"
	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/funding"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/model"
)

// AssetSpec registers a new asset.
type AssetSpec struct {
	ID       uint8          `json:"id"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Token    common.Address `json:"token"`
	// DebtToken defaults to an address derived from the asset id.
	DebtToken common.Address      `json:"debt_token"`
	Params    model.AssetParams   `json:"params"`
	Flags     model.AssetFlags    `json:"flags"`
	Funding   model.FundingParams `json:"funding"`
}

// DefaultDebtToken is the debt token address used when none is given.
func DefaultDebtToken(id uint8) common.Address {
	return common.BigToAddress(big.NewInt(0xd000 + int64(id)))
}

func requireOwner(tx *ledger.Tx, caller common.Address) error {
	return access.Require(tx, caller, model.RoleOwner)
}

// AddAsset registers an asset. Owner only.
func (e *Engine) AddAsset(ctx context.Context, caller common.Address, spec AssetSpec) (model.Asset, error) {
	var added model.Asset
	err := e.exec(ctx, "add_asset", func(tx *ledger.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		var err error
		added, err = addAsset(tx, caller, spec)
		return err
	})
	return added, err
}

func addAsset(tx *ledger.Tx, caller common.Address, spec AssetSpec) (model.Asset, error) {
	if tx.HasAsset(spec.ID) {
		return model.Asset{}, fmt.Errorf("%w: %d", model.ErrAssetExists, spec.ID)
	}
	if spec.Symbol == "" || spec.Token == (common.Address{}) {
		return model.Asset{}, fmt.Errorf("%w: asset needs a symbol and a token", model.ErrInvalidParams)
	}
	if spec.Decimals > fixed.MaxTokenDecimals {
		return model.Asset{}, fmt.Errorf("%w: %d decimals", model.ErrInvalidParams, spec.Decimals)
	}
	if err := validateAssetParams(spec.Params); err != nil {
		return model.Asset{}, err
	}
	if err := validateFunding(spec.Funding); err != nil {
		return model.Asset{}, err
	}
	debt := spec.DebtToken
	if debt == (common.Address{}) {
		debt = DefaultDebtToken(spec.ID)
	}
	a := model.Asset{
		ID:          spec.ID,
		Symbol:      spec.Symbol,
		Decimals:    spec.Decimals,
		Token:       spec.Token,
		DebtToken:   debt,
		AssetParams: spec.Params,
		AssetFlags:  spec.Flags,
	}
	a = withFunding(a, spec.Funding)
	tx.PutAsset(a)
	tx.Emit(model.EventAssetUpdated, 0, caller, ledger.Attrs(
		"asset_id", a.ID,
		"symbol", a.Symbol,
		"change", "added",
	))
	return a, nil
}

func validateAssetParams(p model.AssetParams) error {
	one := fixed.One
	switch {
	case !p.InitialMarginRate.IsPositive() || p.InitialMarginRate.GreaterThanOrEqual(one):
		return fmt.Errorf("%w: initial margin rate %s", model.ErrInvalidParams, p.InitialMarginRate)
	case !p.MaintenanceMarginRate.IsPositive() || p.MaintenanceMarginRate.GreaterThan(p.InitialMarginRate):
		return fmt.Errorf("%w: maintenance margin rate %s", model.ErrInvalidParams, p.MaintenanceMarginRate)
	case p.PositionFeeRate.IsNegative() || p.LiquidationFeeRate.IsNegative() || p.MinProfitRate.IsNegative():
		return fmt.Errorf("%w: negative fee rate", model.ErrInvalidParams)
	case p.HalfSpread.IsNegative() || p.HalfSpread.GreaterThanOrEqual(one):
		return fmt.Errorf("%w: half spread %s", model.ErrInvalidParams, p.HalfSpread)
	case p.MaxLongPositionSize.IsNegative() || p.MaxShortPositionSize.IsNegative() || p.SpotWeight.IsNegative():
		return fmt.Errorf("%w: negative size cap or weight", model.ErrInvalidParams)
	case p.MinProfitTime < 0 || p.LiquidityLockPeriod < 0:
		return fmt.Errorf("%w: negative duration", model.ErrInvalidParams)
	}
	return nil
}

func validateFunding(f model.FundingParams) error {
	if err := funding.ValidateRates(f.LongBaseRate8H, f.LongLimitRate8H); err != nil {
		return fmt.Errorf("long: %w", err)
	}
	if err := funding.ValidateRates(f.ShortBaseRate8H, f.ShortLimitRate8H); err != nil {
		return fmt.Errorf("short: %w", err)
	}
	return nil
}

func withFunding(a model.Asset, f model.FundingParams) model.Asset {
	a.LongFundingBaseRate8H = f.LongBaseRate8H
	a.LongFundingLimitRate8H = f.LongLimitRate8H
	a.ShortFundingBaseRate8H = f.ShortBaseRate8H
	a.ShortFundingLimitRate8H = f.ShortLimitRate8H
	return a
}

// updateAsset applies an owner change to one asset.
func (e *Engine) updateAsset(ctx context.Context, op string, caller common.Address, id uint8, fn func(model.Asset) (model.Asset, error)) error {
	return e.exec(ctx, op, func(tx *ledger.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		a, err := tx.Asset(id)
		if err != nil {
			return err
		}
		if a, err = fn(a); err != nil {
			return err
		}
		tx.PutAsset(a)
		tx.Emit(model.EventAssetUpdated, 0, caller, ledger.Attrs(
			"asset_id", a.ID,
			"symbol", a.Symbol,
			"change", op,
		))
		return nil
	})
}

// SetAssetParams replaces an asset's risk parameters.
func (e *Engine) SetAssetParams(ctx context.Context, caller common.Address, id uint8, p model.AssetParams) error {
	return e.updateAsset(ctx, "set_asset_params", caller, id, func(a model.Asset) (model.Asset, error) {
		if err := validateAssetParams(p); err != nil {
			return a, err
		}
		a.AssetParams = p
		return a, nil
	})
}

// SetAssetFlags replaces an asset's switches.
func (e *Engine) SetAssetFlags(ctx context.Context, caller common.Address, id uint8, f model.AssetFlags) error {
	return e.updateAsset(ctx, "set_asset_flags", caller, id, func(a model.Asset) (model.Asset, error) {
		a.AssetFlags = f
		return a, nil
	})
}

// SetFundingParams replaces an asset's 8-hour funding rates.
func (e *Engine) SetFundingParams(ctx context.Context, caller common.Address, id uint8, f model.FundingParams) error {
	return e.updateAsset(ctx, "set_funding_params", caller, id, func(a model.Asset) (model.Asset, error) {
		if err := validateFunding(f); err != nil {
			return a, err
		}
		return withFunding(a, f), nil
	})
}

func validatePoolParams(p model.PoolParams) error {
	if p.FundingInterval <= 0 {
		return fmt.Errorf("%w: %w", model.ErrInvalidParams, funding.ErrInvalidInterval)
	}
	if _, err := feecurve.New(p.LiquidityBaseFeeRate, p.LiquidityDynamicFeeRate); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidParams, err)
	}
	if p.ShareToken == (common.Address{}) {
		return fmt.Errorf("%w: share token", model.ErrInvalidParams)
	}
	if p.SharePriceLowerBound.IsNegative() || p.BrokerGasRebate.IsNegative() ||
		p.SharePriceUpperBound.IsPositive() && p.SharePriceUpperBound.LessThan(p.SharePriceLowerBound) {
		return fmt.Errorf("%w: share price bounds [%s, %s]", model.ErrInvalidParams, p.SharePriceLowerBound, p.SharePriceUpperBound)
	}
	return nil
}

// SetPoolParams replaces the pool-wide parameters.
func (e *Engine) SetPoolParams(ctx context.Context, caller common.Address, p model.PoolParams) error {
	return e.exec(ctx, "set_pool_params", func(tx *ledger.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		if err := validatePoolParams(p); err != nil {
			return err
		}
		tx.SetPoolParams(p)
		return nil
	})
}

func validateBookParams(p model.OrderBookParams) error {
	if p.LiquidityLockPeriod < 0 || p.LiquidityOrderTimeout <= 0 || p.MarketOrderTimeout <= 0 ||
		p.MaxLimitOrderTimeout < 0 || p.CancelCoolDown < 0 {
		return fmt.Errorf("%w: order book windows", model.ErrInvalidParams)
	}
	return nil
}

// SetOrderBookParams replaces the order lifecycle windows.
func (e *Engine) SetOrderBookParams(ctx context.Context, caller common.Address, p model.OrderBookParams) error {
	return e.exec(ctx, "set_order_book_params", func(tx *ledger.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		if err := validateBookParams(p); err != nil {
			return err
		}
		tx.SetOrderBookParams(p)
		return nil
	})
}

// GrantRole adds account to role.
func (e *Engine) GrantRole(ctx context.Context, caller common.Address, role model.Role, account common.Address) error {
	return e.setRole(ctx, caller, model.RoleGrant{Role: role, Account: account, Granted: true})
}

// RevokeRole removes account from role. The last owner cannot be revoked.
func (e *Engine) RevokeRole(ctx context.Context, caller common.Address, role model.Role, account common.Address) error {
	return e.setRole(ctx, caller, model.RoleGrant{Role: role, Account: account})
}

func (e *Engine) setRole(ctx context.Context, caller common.Address, g model.RoleGrant) error {
	return e.exec(ctx, "set_role", func(tx *ledger.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		if !g.Role.Valid() {
			return fmt.Errorf("%w: role %q", model.ErrInvalidParams, g.Role)
		}
		if !g.Granted && g.Role == model.RoleOwner && tx.HasRole(model.RoleOwner, g.Account) &&
			len(e.state.Members(model.RoleOwner)) <= 1 {
			return fmt.Errorf("%w: cannot revoke the last owner", model.ErrInvalidParams)
		}
		tx.SetRole(g)
		tx.Emit(model.EventRoleUpdated, 0, g.Account, ledger.Attrs(
			"role", string(g.Role),
			"granted", g.Granted,
			"by", caller.Hex(),
		))
		return nil
	})
}

// FundAccount credits amount of an asset's underlying token to an account,
// bridging tokens in from outside the engine. Owner only.
func (e *Engine) FundAccount(ctx context.Context, caller common.Address, assetID uint8, to common.Address, amount decimal.Decimal) error {
	return e.exec(ctx, "fund_account", func(tx *ledger.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		return fundAccount(tx, assetID, to, amount)
	})
}

func fundAccount(tx *ledger.Tx, assetID uint8, to common.Address, amount decimal.Decimal) error {
	a, err := tx.Asset(assetID)
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: fund amount", model.ErrZeroAmount)
	}
	raw, err := fixed.FromWad(amount, a.Decimals)
	if err != nil {
		return err
	}
	if err := tx.Mint(a.Token, to, raw); err != nil {
		return err
	}
	tx.Emit(model.EventFundAccount, 0, to, ledger.Attrs(
		"asset_id", a.ID,
		"amount", fixed.ToWad(raw, a.Decimals),
	))
	return nil
}

// Genesis is the initial configuration of an empty engine.
type Genesis struct {
	Owner           common.Address
	Roles           []model.RoleGrant
	PoolParams      model.PoolParams
	OrderBookParams model.OrderBookParams
	Assets          []AssetSpec
	// SpotLiquidity seeds each asset's pool reserves, keyed by asset id.
	// The tokens are minted into the vault.
	SpotLiquidity map[uint8]decimal.Decimal
	Funds         []Fund
}

// Fund is one bridged-in balance of a genesis.
type Fund struct {
	AssetID uint8           `json:"asset_id"`
	Account common.Address  `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// Seed applies g to an engine with no assets and no owner. It reports
// whether anything was seeded; an already initialized engine is left as is.
func (e *Engine) Seed(ctx context.Context, g Genesis) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.state.Assets()) > 0 || len(e.state.Members(model.RoleOwner)) > 0 {
		return false, nil
	}
	if g.Owner == (common.Address{}) {
		return false, fmt.Errorf("%w: genesis owner", model.ErrInvalidParams)
	}
	err := e.execLocked(ctx, "seed", func(tx *ledger.Tx) error {
		if err := validatePoolParams(g.PoolParams); err != nil {
			return err
		}
		if err := validateBookParams(g.OrderBookParams); err != nil {
			return err
		}
		tx.SetPoolParams(g.PoolParams)
		tx.SetOrderBookParams(g.OrderBookParams)
		tx.SetRole(model.RoleGrant{Role: model.RoleOwner, Account: g.Owner, Granted: true})
		for _, r := range g.Roles {
			if !r.Role.Valid() {
				return fmt.Errorf("%w: role %q", model.ErrInvalidParams, r.Role)
			}
			tx.SetRole(r)
		}
		for _, spec := range g.Assets {
			a, err := addAsset(tx, g.Owner, spec)
			if err != nil {
				return fmt.Errorf("asset %s: %w", spec.Symbol, err)
			}
			spot := fixed.TruncateToToken(g.SpotLiquidity[a.ID], a.Decimals)
			if spot.IsPositive() {
				if err := fundAccount(tx, a.ID, ledger.VaultAccount, spot); err != nil {
					return err
				}
				tx.PutAsset(ledger.IncreaseSpot(a, spot))
			}
		}
		for _, f := range g.Funds {
			if err := fundAccount(tx, f.AssetID, f.Account, f.Amount); err != nil {
				return fmt.Errorf("fund %s: %w", f.Account.Hex(), err)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotPersisted) {
		return false, err
	}
	e.log.Info("engine seeded", "owner", g.Owner.Hex(), "assets", len(g.Assets))
	return true, err
}
