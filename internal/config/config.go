// Package config defines the configuration of the pool daemon and converts
// its genesis sections into an orderbook.Genesis.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/liquidity-pool/internal/archive"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/orderbook"
	"github.com/atmx/liquidity-pool/internal/store"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POOLD_* environment variables.
// Rates and amounts are decimal strings ("0.001"), durations Go duration
// strings ("8h").
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Keeper    KeeperConfig    `toml:"keeper"`
	Pool      PoolConfig      `toml:"pool"`
	OrderBook OrderBookConfig `toml:"orderbook"`
	Roles     RolesConfig     `toml:"roles"`
	Assets    []AssetConfig   `toml:"assets"`
	Funds     []FundConfig    `toml:"funds"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr         string   `toml:"addr"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKeys      []APIKey `toml:"api_keys"`
}

// APIKey binds a bearer key to the account it acts as.
type APIKey struct {
	Key     string         `toml:"key"`
	Account common.Address `toml:"account"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty host and
// DSN selects the in-memory store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// Store converts to the store connection parameters.
func (p PostgresConfig) Store() store.PostgresConfig {
	return store.PostgresConfig{
		DSN:      p.DSN,
		Host:     p.Host,
		Port:     p.Port,
		Database: p.Database,
		User:     p.User,
		Password: p.Password,
		SSLMode:  p.SSLMode,
		MaxConns: p.PoolMaxConns,
		MinConns: p.PoolMinConns,
	}
}

// RedisConfig holds Redis connection parameters. An empty addr disables the
// cache, the event bus and the writer lease.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
	LeaseName  string   `toml:"lease_name"`
	LeaseTTL   duration `toml:"lease_ttl"`
}

// Store converts to the store connection parameters.
func (r RedisConfig) Store() store.RedisConfig {
	return store.RedisConfig{
		Addr:       r.Addr,
		Password:   r.Password,
		DB:         r.DB,
		PoolSize:   r.PoolSize,
		TLSEnabled: r.TLSEnabled,
	}
}

// S3Config holds S3-compatible object storage parameters. An empty bucket
// disables the periodic export.
type S3Config struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	Prefix         string   `toml:"prefix"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	ExportInterval duration `toml:"export_interval"`
}

// Archive converts to the archive bucket parameters.
func (s S3Config) Archive() archive.S3Config {
	return archive.S3Config{
		Endpoint:       s.Endpoint,
		Region:         s.Region,
		Bucket:         s.Bucket,
		Prefix:         s.Prefix,
		AccessKey:      s.AccessKey,
		SecretKey:      s.SecretKey,
		UseSSL:         s.UseSSL,
		ForcePathStyle: s.ForcePathStyle,
	}
}

// KeeperConfig tunes the background maintenance loops.
type KeeperConfig struct {
	ExpiryInterval duration `toml:"expiry_interval"`
	// MaxPositionPerSubAccount caps every sub-account's size; "0" disables.
	MaxPositionPerSubAccount decimal.Decimal `toml:"max_position_per_sub_account"`
}

// PoolConfig mirrors model.PoolParams.
type PoolConfig struct {
	FundingInterval         duration        `toml:"funding_interval"`
	LiquidityBaseFeeRate    decimal.Decimal `toml:"liquidity_base_fee_rate"`
	LiquidityDynamicFeeRate decimal.Decimal `toml:"liquidity_dynamic_fee_rate"`
	ShareToken              common.Address  `toml:"share_token"`
	SharePriceLowerBound    decimal.Decimal `toml:"share_price_lower_bound"`
	SharePriceUpperBound    decimal.Decimal `toml:"share_price_upper_bound"`
	BrokerGasRebate         decimal.Decimal `toml:"broker_gas_rebate"`
}

// OrderBookConfig mirrors model.OrderBookParams.
type OrderBookConfig struct {
	LiquidityLockPeriod   duration `toml:"liquidity_lock_period"`
	LiquidityOrderTimeout duration `toml:"liquidity_order_timeout"`
	MarketOrderTimeout    duration `toml:"market_order_timeout"`
	MaxLimitOrderTimeout  duration `toml:"max_limit_order_timeout"`
	CancelCoolDown        duration `toml:"cancel_cool_down"`
}

// RolesConfig lists the genesis role holders.
type RolesConfig struct {
	Owner       common.Address   `toml:"owner"`
	Brokers     []common.Address `toml:"brokers"`
	Rebalancers []common.Address `toml:"rebalancers"`
	Borrowers   []common.Address `toml:"borrowers"`
}

// AssetConfig is one [[assets]] entry.
type AssetConfig struct {
	ID        uint8          `toml:"id"`
	Symbol    string         `toml:"symbol"`
	Decimals  uint8          `toml:"decimals"`
	Token     common.Address `toml:"token"`
	DebtToken common.Address `toml:"debt_token"`

	InitialMarginRate     decimal.Decimal `toml:"initial_margin_rate"`
	MaintenanceMarginRate decimal.Decimal `toml:"maintenance_margin_rate"`
	PositionFeeRate       decimal.Decimal `toml:"position_fee_rate"`
	LiquidationFeeRate    decimal.Decimal `toml:"liquidation_fee_rate"`
	MinProfitRate         decimal.Decimal `toml:"min_profit_rate"`
	MinProfitTime         duration        `toml:"min_profit_time"`
	MaxLongPositionSize   decimal.Decimal `toml:"max_long_position_size"`
	MaxShortPositionSize  decimal.Decimal `toml:"max_short_position_size"`
	SpotWeight            decimal.Decimal `toml:"spot_weight"`
	HalfSpread            decimal.Decimal `toml:"half_spread"`
	LiquidityLockPeriod   duration        `toml:"liquidity_lock_period"`

	IsStable                bool `toml:"is_stable"`
	IsStrictStable          bool `toml:"is_strict_stable"`
	IsTradable              bool `toml:"is_tradable"`
	IsOpenable              bool `toml:"is_openable"`
	IsShortable             bool `toml:"is_shortable"`
	UseStableTokenForProfit bool `toml:"use_stable_token_for_profit"`
	IsEnabled               bool `toml:"is_enabled"`
	CanBeLiquidated         bool `toml:"can_be_liquidated"`
	CanAddRemoveLiquidity   bool `toml:"can_add_remove_liquidity"`

	LongFundingBaseRate8H   decimal.Decimal `toml:"long_funding_base_rate_8h"`
	LongFundingLimitRate8H  decimal.Decimal `toml:"long_funding_limit_rate_8h"`
	ShortFundingBaseRate8H  decimal.Decimal `toml:"short_funding_base_rate_8h"`
	ShortFundingLimitRate8H decimal.Decimal `toml:"short_funding_limit_rate_8h"`

	// SpotLiquidity seeds the pool reserve of this asset at genesis.
	SpotLiquidity decimal.Decimal `toml:"spot_liquidity"`
}

// FundConfig is one [[funds]] entry: a bridged-in genesis balance.
type FundConfig struct {
	AssetID uint8           `toml:"asset_id"`
	Account common.Address  `toml:"account"`
	Amount  decimal.Decimal `toml:"amount"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "8h").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  duration{10 * time.Second},
			WriteTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:  10,
			CacheTTL:  duration{30 * time.Second},
			LeaseName: "poold",
			LeaseTTL:  duration{15 * time.Second},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "pool",
			ExportInterval: duration{time.Hour},
		},
		Keeper: KeeperConfig{
			ExpiryInterval: duration{10 * time.Second},
		},
		Pool: PoolConfig{
			FundingInterval: duration{8 * time.Hour},
		},
		OrderBook: OrderBookConfig{
			LiquidityLockPeriod:   duration{15 * time.Minute},
			LiquidityOrderTimeout: duration{time.Hour},
			MarketOrderTimeout:    duration{2 * time.Minute},
			MaxLimitOrderTimeout:  duration{30 * 24 * time.Hour},
			CancelCoolDown:        duration{30 * time.Second},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Economic parameters are
// validated again by the engine at genesis.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	seenKeys := make(map[string]bool)
	for i, k := range c.Server.APIKeys {
		if k.Key == "" || k.Account == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("server: api_keys[%d] needs both key and account", i))
		}
		if seenKeys[k.Key] {
			errs = append(errs, fmt.Sprintf("server: api_keys[%d] duplicates a key", i))
		}
		seenKeys[k.Key] = true
	}

	if c.Postgres.Enabled() && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
	}

	if c.Redis.Addr != "" {
		if c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be at least 1s")
		}
		if c.Redis.LeaseName == "" {
			errs = append(errs, "redis: lease_name must not be empty")
		}
	}
	if c.S3.Bucket != "" && c.S3.ExportInterval.Duration <= 0 {
		errs = append(errs, "s3: export_interval must be positive")
	}
	if c.Keeper.ExpiryInterval.Duration <= 0 {
		errs = append(errs, "keeper: expiry_interval must be positive")
	}

	if c.Pool.FundingInterval.Duration <= 0 {
		errs = append(errs, "pool: funding_interval must be positive")
	}
	if len(c.Assets) > 0 {
		if c.Roles.Owner == (common.Address{}) {
			errs = append(errs, "roles: owner is required when assets are configured")
		}
		if c.Pool.ShareToken == (common.Address{}) {
			errs = append(errs, "pool: share_token is required when assets are configured")
		}
	}
	seenAssets := make(map[uint8]bool)
	for _, a := range c.Assets {
		if seenAssets[a.ID] {
			errs = append(errs, fmt.Sprintf("assets: duplicate id %d", a.ID))
		}
		seenAssets[a.ID] = true
		if a.Symbol == "" {
			errs = append(errs, fmt.Sprintf("assets[%d]: symbol must not be empty", a.ID))
		}
		if a.Decimals > 18 {
			errs = append(errs, fmt.Sprintf("assets[%d]: decimals must be <= 18, got %d", a.ID, a.Decimals))
		}
		if a.Token == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("assets[%d]: token must be set", a.ID))
		}
		if a.SpotLiquidity.IsNegative() {
			errs = append(errs, fmt.Sprintf("assets[%d]: spot_liquidity must not be negative", a.ID))
		}
	}
	for i, f := range c.Funds {
		if !seenAssets[f.AssetID] {
			errs = append(errs, fmt.Sprintf("funds[%d]: unknown asset id %d", i, f.AssetID))
		}
		if !f.Amount.IsPositive() {
			errs = append(errs, fmt.Sprintf("funds[%d]: amount must be positive", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// PoolParams converts the [pool] section.
func (c *Config) PoolParams() model.PoolParams {
	return model.PoolParams{
		FundingInterval:         c.Pool.FundingInterval.Duration,
		LiquidityBaseFeeRate:    c.Pool.LiquidityBaseFeeRate,
		LiquidityDynamicFeeRate: c.Pool.LiquidityDynamicFeeRate,
		ShareToken:              c.Pool.ShareToken,
		SharePriceLowerBound:    c.Pool.SharePriceLowerBound,
		SharePriceUpperBound:    c.Pool.SharePriceUpperBound,
		BrokerGasRebate:         c.Pool.BrokerGasRebate,
	}
}

// OrderBookParams converts the [orderbook] section.
func (c *Config) OrderBookParams() model.OrderBookParams {
	return model.OrderBookParams{
		LiquidityLockPeriod:   c.OrderBook.LiquidityLockPeriod.Duration,
		LiquidityOrderTimeout: c.OrderBook.LiquidityOrderTimeout.Duration,
		MarketOrderTimeout:    c.OrderBook.MarketOrderTimeout.Duration,
		MaxLimitOrderTimeout:  c.OrderBook.MaxLimitOrderTimeout.Duration,
		CancelCoolDown:        c.OrderBook.CancelCoolDown.Duration,
	}
}

// Genesis converts the genesis sections into the engine's initial state.
func (c *Config) Genesis() orderbook.Genesis {
	g := orderbook.Genesis{
		Owner:           c.Roles.Owner,
		PoolParams:      c.PoolParams(),
		OrderBookParams: c.OrderBookParams(),
		SpotLiquidity:   make(map[uint8]decimal.Decimal),
	}
	grant := func(role model.Role, accounts []common.Address) {
		for _, a := range accounts {
			g.Roles = append(g.Roles, model.RoleGrant{Role: role, Account: a, Granted: true})
		}
	}
	grant(model.RoleBroker, c.Roles.Brokers)
	grant(model.RoleRebalancer, c.Roles.Rebalancers)
	grant(model.RoleBorrower, c.Roles.Borrowers)

	for _, a := range c.Assets {
		g.Assets = append(g.Assets, a.Spec())
		if a.SpotLiquidity.IsPositive() {
			g.SpotLiquidity[a.ID] = a.SpotLiquidity
		}
	}
	for _, f := range c.Funds {
		g.Funds = append(g.Funds, orderbook.Fund{AssetID: f.AssetID, Account: f.Account, Amount: f.Amount})
	}
	return g
}

// Spec converts one asset entry.
func (a AssetConfig) Spec() orderbook.AssetSpec {
	return orderbook.AssetSpec{
		ID:        a.ID,
		Symbol:    a.Symbol,
		Decimals:  a.Decimals,
		Token:     a.Token,
		DebtToken: a.DebtToken,
		Params: model.AssetParams{
			InitialMarginRate:     a.InitialMarginRate,
			MaintenanceMarginRate: a.MaintenanceMarginRate,
			PositionFeeRate:       a.PositionFeeRate,
			LiquidationFeeRate:    a.LiquidationFeeRate,
			MinProfitRate:         a.MinProfitRate,
			MinProfitTime:         a.MinProfitTime.Duration,
			MaxLongPositionSize:   a.MaxLongPositionSize,
			MaxShortPositionSize:  a.MaxShortPositionSize,
			SpotWeight:            a.SpotWeight,
			HalfSpread:            a.HalfSpread,
			LiquidityLockPeriod:   a.LiquidityLockPeriod.Duration,
		},
		Flags: model.AssetFlags{
			IsStable:                a.IsStable,
			IsTradable:              a.IsTradable,
			IsOpenable:              a.IsOpenable,
			IsShortable:             a.IsShortable,
			UseStableTokenForProfit: a.UseStableTokenForProfit,
			IsEnabled:               a.IsEnabled,
			IsStrictStable:          a.IsStrictStable,
			CanBeLiquidated:         a.CanBeLiquidated,
			CanAddRemoveLiquidity:   a.CanAddRemoveLiquidity,
		},
		Funding: model.FundingParams{
			LongBaseRate8H:   a.LongFundingBaseRate8H,
			LongLimitRate8H:  a.LongFundingLimitRate8H,
			ShortBaseRate8H:  a.ShortFundingBaseRate8H,
			ShortLimitRate8H: a.ShortFundingLimitRate8H,
		},
	}
}
