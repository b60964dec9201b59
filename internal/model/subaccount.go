package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ErrInvalidSubAccountID is returned for malformed sub-account identifiers.
var ErrInvalidSubAccountID = errors.New("model: invalid sub-account id")

// SubAccountID identifies a trader's position slot:
// (account, collateral asset, exposure asset, direction).
type SubAccountID struct {
	Account      common.Address `json:"account"`
	CollateralID uint8          `json:"collateral_id"`
	AssetID      uint8          `json:"asset_id"`
	IsLong       bool           `json:"is_long"`
}

// Pack encodes the id into its 32-byte wire layout:
//
//	[0:20]  account address
//	[20]    collateral asset id
//	[21]    exposure asset id
//	[22]    1 = long, 0 = short
//	[23:32] zero padding
func (id SubAccountID) Pack() [32]byte {
	var b [32]byte
	copy(b[0:20], id.Account.Bytes())
	b[20] = id.CollateralID
	b[21] = id.AssetID
	if id.IsLong {
		b[22] = 1
	}
	return b
}

// UnpackSubAccountID decodes the 32-byte layout produced by Pack.
func UnpackSubAccountID(b [32]byte) (SubAccountID, error) {
	if b[22] > 1 {
		return SubAccountID{}, fmt.Errorf("%w: direction byte %d", ErrInvalidSubAccountID, b[22])
	}
	for _, pad := range b[23:] {
		if pad != 0 {
			return SubAccountID{}, fmt.Errorf("%w: non-zero padding", ErrInvalidSubAccountID)
		}
	}
	return SubAccountID{
		Account:      common.BytesToAddress(b[0:20]),
		CollateralID: b[20],
		AssetID:      b[21],
		IsLong:       b[22] == 1,
	}, nil
}

// Hex returns the 0x-prefixed packed form.
func (id SubAccountID) Hex() string {
	b := id.Pack()
	return common.Hash(b).Hex()
}

// String returns the human-readable form <address>-<collateral>-<asset>-<long|short>.
func (id SubAccountID) String() string {
	dir := "short"
	if id.IsLong {
		dir = "long"
	}
	return fmt.Sprintf("%s-%d-%d-%s", id.Account.Hex(), id.CollateralID, id.AssetID, dir)
}

// MarshalText encodes the id as packed hex so it can key JSON maps.
func (id SubAccountID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText accepts either form accepted by ParseSubAccountID.
func (id *SubAccountID) UnmarshalText(text []byte) error {
	parsed, err := ParseSubAccountID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// humanIDRegex matches: 0x{40 hex}-{collateral}-{asset}-{long|short}
var humanIDRegex = regexp.MustCompile(`^(0x[0-9a-fA-F]{40})-(\d{1,3})-(\d{1,3})-(long|short)$`)

// packedIDRegex matches the 0x-prefixed 32-byte packed form.
var packedIDRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ParseSubAccountID parses either the packed hex form or the human-readable
// form of a sub-account id.
func ParseSubAccountID(s string) (SubAccountID, error) {
	s = strings.TrimSpace(s)
	if packedIDRegex.MatchString(s) {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return SubAccountID{}, fmt.Errorf("%w: %s", ErrInvalidSubAccountID, s)
		}
		var b [32]byte
		copy(b[:], raw)
		return UnpackSubAccountID(b)
	}

	matches := humanIDRegex.FindStringSubmatch(s)
	if matches == nil {
		return SubAccountID{}, fmt.Errorf("%w: %s (expected 0x{64 hex} or {address}-{collateral}-{asset}-{long|short})",
			ErrInvalidSubAccountID, s)
	}
	collateral, err := strconv.ParseUint(matches[2], 10, 8)
	if err != nil {
		return SubAccountID{}, fmt.Errorf("%w: collateral id %s", ErrInvalidSubAccountID, matches[2])
	}
	asset, err := strconv.ParseUint(matches[3], 10, 8)
	if err != nil {
		return SubAccountID{}, fmt.Errorf("%w: asset id %s", ErrInvalidSubAccountID, matches[3])
	}
	return SubAccountID{
		Account:      common.HexToAddress(matches[1]),
		CollateralID: uint8(collateral),
		AssetID:      uint8(asset),
		IsLong:       matches[4] == "long",
	}, nil
}

// SubAccount is a trader's position state in one slot.
type SubAccount struct {
	Collateral        decimal.Decimal `json:"collateral"`
	Size              decimal.Decimal `json:"size"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	EntryFunding      decimal.Decimal `json:"entry_funding"`
	LastIncreasedTime time.Time       `json:"last_increased_time"`
}

// IsEmpty reports whether the slot holds neither size nor collateral.
func (s SubAccount) IsEmpty() bool {
	return s.Size.IsZero() && s.Collateral.IsZero()
}

// SubAccountRecord pairs a sub-account with its id.
type SubAccountRecord struct {
	ID SubAccountID `json:"id"`
	SubAccount
}
