package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/liquidity-pool/internal/model"
)

func TestLoad_Example(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8*time.Hour, cfg.Pool.FundingInterval.Duration)
	assert.Equal(t, 720*time.Hour, cfg.OrderBook.MaxLimitOrderTimeout.Duration)
	require.Len(t, cfg.Server.APIKeys, 2)
	assert.Equal(t, common.HexToAddress("0xb0"), cfg.Server.APIKeys[1].Account)
	assert.False(t, cfg.Postgres.Enabled())

	g := cfg.Genesis()
	assert.Equal(t, common.HexToAddress("0xa0"), g.Owner)
	require.Len(t, g.Roles, 1)
	assert.Equal(t, model.RoleBroker, g.Roles[0].Role)
	require.Len(t, g.Assets, 2)
	weth := g.Assets[1]
	assert.Equal(t, "WETH", weth.Symbol)
	assert.True(t, weth.Params.PositionFeeRate.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, weth.Funding.LongLimitRate8H.Equal(decimal.RequireFromString("0.0009")))
	assert.True(t, weth.Flags.CanBeLiquidated)
	assert.True(t, g.SpotLiquidity[0].Equal(decimal.RequireFromString("1000000")))
	require.Len(t, g.Funds, 1)
	assert.True(t, g.PoolParams.BrokerGasRebate.Equal(decimal.RequireFromString("0.5")))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POOLD_SERVER_ADDR", ":9999")
	t.Setenv("POOLD_LOG_LEVEL", "debug")
	t.Setenv("POOLD_REDIS_LEASE_TTL", "1m")
	t.Setenv("POOLD_SERVER_API_KEYS", "k1:0x00000000000000000000000000000000000000f1, bad-entry ,k2:0x00000000000000000000000000000000000000f2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.Redis.LeaseTTL.Duration)
	require.Len(t, cfg.Server.APIKeys, 2)
	assert.Equal(t, "k2", cfg.Server.APIKeys[1].Key)
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "loud"

[keeper]
expiry_interval = "0s"

[[assets]]
id = 3
symbol = ""
decimals = 30
token = "0x00000000000000000000000000000000000000c0"

[[assets]]
id = 3
symbol = "DUP"
decimals = 6
token = "0x00000000000000000000000000000000000000c1"

[[funds]]
asset_id = 9
account = "0x00000000000000000000000000000000000000d0"
amount = "0"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"log_level",
		"keeper: expiry_interval",
		"roles: owner",
		"pool: share_token",
		"duplicate id 3",
		"symbol must not be empty",
		"decimals must be <= 18",
		"unknown asset id 9",
		"amount must be positive",
	} {
		assert.True(t, strings.Contains(err.Error(), want), "missing %q in %v", want, err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKeys = []APIKey{{Key: "secret", Account: common.HexToAddress("0x1")}}
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "s3"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Server.APIKeys[0].Key)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "secret", cfg.Server.APIKeys[0].Key, "original must be untouched")
}
