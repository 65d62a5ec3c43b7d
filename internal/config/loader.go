package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUTURESD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUTURESD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FUTURESD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FUTURESD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FUTURESD_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FUTURESD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "FUTURESD_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.VaultAddress, "FUTURESD_CHAIN_VAULT_ADDRESS")

	// ── Oracle ──
	setStr(&cfg.Oracle.Endpoint, "FUTURESD_ORACLE_ENDPOINT")

	// ── Indexer ──
	setStr(&cfg.Indexer.URL, "FUTURESD_INDEXER_URL")
	setStr(&cfg.Indexer.APIKey, "FUTURESD_INDEXER_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUTURESD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUTURESD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUTURESD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUTURESD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUTURESD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUTURESD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUTURESD_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "FUTURESD_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "FUTURESD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUTURESD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUTURESD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUTURESD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUTURESD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUTURESD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUTURESD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUTURESD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUTURESD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FUTURESD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUTURESD_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUTURESD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUTURESD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUTURESD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUTURESD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUTURESD_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.IndexInterval, "FUTURESD_ENGINE_INDEX_INTERVAL")
	setDuration(&cfg.Engine.PriceInterval, "FUTURESD_ENGINE_PRICE_INTERVAL")
	setDuration(&cfg.Engine.PendingInterval, "FUTURESD_ENGINE_PENDING_INTERVAL")
	setStringSlice(&cfg.Engine.WatchAddresses, "FUTURESD_ENGINE_WATCH_ADDRESSES")
	setFloat64(&cfg.Engine.WarnLTV, "FUTURESD_ENGINE_WARN_LTV")
	setDuration(&cfg.Engine.ArchiveInterval, "FUTURESD_ENGINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Engine.ArchiveRetentionDays, "FUTURESD_ENGINE_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUTURESD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUTURESD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUTURESD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUTURESD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FUTURESD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUTURESD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUTURESD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUTURESD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUTURESD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUTURESD_MODE")
	setStr(&cfg.LogLevel, "FUTURESD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
