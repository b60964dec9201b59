package fixed

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundTrip_NativeDecimals(t *testing.T) {
	amounts := []string{"0", "1", "7", "1000000", "123456789012345678901234567890", "115792089237316195423570985008687907853269984665640564039457"}
	for _, decimals := range []uint8{6, 8, 12, 18} {
		for _, s := range amounts {
			raw, err := ParseRaw(s)
			require.NoError(t, err)

			wad := ToWad(raw, decimals)
			back, err := FromWad(wad, decimals)
			require.NoError(t, err)
			assert.True(t, raw.Eq(back), "decimals=%d amount=%s got %s", decimals, s, back.ToBig().String())
		}
	}
}

func TestToWad_Scaling(t *testing.T) {
	raw := uint256.NewInt(1_500_000)
	assert.True(t, ToWad(raw, 6).Equal(d("1.5")))
	assert.True(t, ToWad(raw, 18).Equal(d("0.0000000000015")))
}

func TestFromWad_TruncatesDust(t *testing.T) {
	raw, err := FromWad(d("1.23456789"), 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_234_567), raw.Uint64())
}

func TestFromWad_Errors(t *testing.T) {
	_, err := FromWad(d("-1"), 6)
	assert.ErrorIs(t, err, ErrNegative)

	_, err = FromWad(d("1"), 19)
	assert.ErrorIs(t, err, ErrDecimals)

	huge := d("1e80")
	_, err = FromWad(huge, 18)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulDiv_Truncation(t *testing.T) {
	assert.True(t, Div(d("1"), d("3")).Equal(d("0.333333333333333333")))
	assert.True(t, Mul(d("0.000000000000000001"), d("0.5")).IsZero())
	assert.True(t, MulDiv(d("1"), d("2"), d("3")).Equal(d("0.666666666666666666")))
	assert.True(t, Div(d("5"), decimal.Zero).IsZero())
}

func TestRateMulDiv_FivePlaces(t *testing.T) {
	// 0.0005 * 2500 / 29700 = 0.0000420875...
	assert.True(t, RateMulDiv(d("0.0005"), d("2500"), d("29700")).Equal(d("0.00004")))
}

func TestParseRaw_Invalid(t *testing.T) {
	_, err := ParseRaw("abc")
	assert.Error(t, err)
	_, err = ParseRaw("-5")
	assert.ErrorIs(t, err, ErrNegative)
}
