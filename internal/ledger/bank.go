package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/fixed"
	"github.com/atmx/liquidity-pool/internal/model"
)

// ShareDecimals is the decimal count of the pool share token and of every
// debt token.
const ShareDecimals uint8 = 18

// BalanceOf returns holder's raw balance of token as seen by the transaction.
func (tx *Tx) BalanceOf(token, holder common.Address) *uint256.Int {
	if v, ok := tx.balances[balanceKey{token, holder}]; ok {
		return new(uint256.Int).Set(v)
	}
	return tx.base.BalanceOf(token, holder)
}

// TotalSupply returns the raw supply of a minted token.
func (tx *Tx) TotalSupply(token common.Address) *uint256.Int {
	if v, ok := tx.supplies[token]; ok {
		return new(uint256.Int).Set(v)
	}
	return tx.base.TotalSupply(token)
}

func (tx *Tx) setBalance(token, holder common.Address, v *uint256.Int) {
	tx.balances[balanceKey{token, holder}] = v
}

// Transfer moves raw units of token between holders.
func (tx *Tx) Transfer(token, from, to common.Address, raw *uint256.Int) error {
	if raw.IsZero() || from == to {
		return nil
	}
	fromBal := tx.BalanceOf(token, from)
	if fromBal.Lt(raw) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			model.ErrInsufficientBalance, from.Hex(), fromBal.ToBig(), token.Hex(), raw.ToBig())
	}
	toBal := tx.BalanceOf(token, to)
	sum, overflow := new(uint256.Int).AddOverflow(toBal, raw)
	if overflow {
		return fixed.ErrOverflow
	}
	tx.setBalance(token, from, new(uint256.Int).Sub(fromBal, raw))
	tx.setBalance(token, to, sum)
	return nil
}

// Mint creates raw units of token for to.
func (tx *Tx) Mint(token, to common.Address, raw *uint256.Int) error {
	if raw.IsZero() {
		return nil
	}
	supply, overflow := new(uint256.Int).AddOverflow(tx.TotalSupply(token), raw)
	if overflow {
		return fixed.ErrOverflow
	}
	bal := new(uint256.Int).Add(tx.BalanceOf(token, to), raw)
	tx.supplies[token] = supply
	tx.setBalance(token, to, bal)
	return nil
}

// Burn destroys raw units of token held by from.
func (tx *Tx) Burn(token, from common.Address, raw *uint256.Int) error {
	if raw.IsZero() {
		return nil
	}
	bal := tx.BalanceOf(token, from)
	if bal.Lt(raw) {
		return fmt.Errorf("%w: burn %s of %s from %s", model.ErrInsufficientBalance, raw.ToBig(), token.Hex(), from.Hex())
	}
	tx.setBalance(token, from, new(uint256.Int).Sub(bal, raw))
	tx.supplies[token] = new(uint256.Int).Sub(tx.TotalSupply(token), raw)
	return nil
}

// TransferAmount moves an 18-decimal ledger amount of a token with the given
// native decimals, converting at the boundary. Sub-unit dust is truncated.
func (tx *Tx) TransferAmount(token common.Address, decimals uint8, from, to common.Address, amount decimal.Decimal) error {
	raw, err := fixed.FromWad(amount, decimals)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", amount, err)
	}
	return tx.Transfer(token, from, to, raw)
}

// MintAmount mints an 18-decimal amount of an 18-decimal token.
func (tx *Tx) MintAmount(token, to common.Address, amount decimal.Decimal) error {
	raw, err := fixed.FromWad(amount, ShareDecimals)
	if err != nil {
		return fmt.Errorf("mint %s: %w", amount, err)
	}
	return tx.Mint(token, to, raw)
}

// BurnAmount burns an 18-decimal amount of an 18-decimal token.
func (tx *Tx) BurnAmount(token, from common.Address, amount decimal.Decimal) error {
	raw, err := fixed.FromWad(amount, ShareDecimals)
	if err != nil {
		return fmt.Errorf("burn %s: %w", amount, err)
	}
	return tx.Burn(token, from, raw)
}

// AssetBalance returns holder's balance of an asset's underlying token in
// ledger units.
func (tx *Tx) AssetBalance(a model.Asset, holder common.Address) decimal.Decimal {
	return fixed.ToWad(tx.BalanceOf(a.Token, holder), a.Decimals)
}

// PullAsset moves amount of the asset's underlying from a user into the vault.
func (tx *Tx) PullAsset(a model.Asset, from common.Address, amount decimal.Decimal) error {
	return tx.TransferAmount(a.Token, a.Decimals, from, VaultAccount, amount)
}

// PushAsset moves amount of the asset's underlying from the vault to a user.
func (tx *Tx) PushAsset(a model.Asset, to common.Address, amount decimal.Decimal) error {
	return tx.TransferAmount(a.Token, a.Decimals, VaultAccount, to, amount)
}
