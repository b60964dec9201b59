package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POOLD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setStr(&cfg.Server.Addr, "POOLD_SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLD_SERVER_CORS_ORIGINS")
	setAPIKeys(&cfg.Server.APIKeys, "POOLD_SERVER_API_KEYS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POOLD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POOLD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POOLD_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOLD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POOLD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLD_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "POOLD_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LeaseTTL, "POOLD_REDIS_LEASE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POOLD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLD_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLD_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POOLD_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POOLD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLD_S3_SECRET_KEY")
	setDuration(&cfg.S3.ExportInterval, "POOLD_S3_EXPORT_INTERVAL")

	// ── Keeper ──
	setDuration(&cfg.Keeper.ExpiryInterval, "POOLD_KEEPER_EXPIRY_INTERVAL")

	setStr(&cfg.LogLevel, "POOLD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setAPIKeys parses "key:0xaccount,key2:0xaccount2". Malformed entries are
// skipped; Validate reports a missing account.
func setAPIKeys(dst *[]APIKey, key string) {
	var entries []string
	setStringSlice(&entries, key)
	if len(entries) == 0 {
		return
	}
	keys := make([]APIKey, 0, len(entries))
	for _, e := range entries {
		k, account, ok := strings.Cut(e, ":")
		if !ok || !common.IsHexAddress(account) {
			continue
		}
		keys = append(keys, APIKey{Key: k, Account: common.HexToAddress(account)})
	}
	*dst = keys
}
