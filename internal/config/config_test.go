package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xabc123"
	cfg.Chain.VaultAddress = "0xvault"
	cfg.Indexer.URL = "https://indexer.example.com/graphql"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, int64(8453), cfg.Chain.ChainID)
	require.Equal(t, "https://hermes.pyth.network", cfg.Oracle.Endpoint)
	require.Equal(t, 15*time.Second, cfg.Engine.IndexInterval.Duration)
	require.Equal(t, 5*time.Second, cfg.Engine.PriceInterval.Duration)
	require.Equal(t, 10*time.Second, cfg.Engine.PendingInterval.Duration)
	require.Equal(t, float64(60), cfg.Engine.WarnLTV)
	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, 120, cfg.Server.RateLimit)
	require.Equal(t, "full", cfg.Mode)
	require.Equal(t, "info", cfg.LogLevel)
	require.True(t, cfg.Postgres.RunMigrations)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "banana"
	cfg.LogLevel = "loud"
	cfg.Chain.RPCURL = ""
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, `unknown mode "banana"`)
	require.ErrorContains(t, err, `unknown log_level "loud"`)
	require.ErrorContains(t, err, "chain: rpc_url")
	require.ErrorContains(t, err, "redis: addr")
}

func TestValidate_WalletRequiredPerMode(t *testing.T) {
	for _, mode := range []string{"engine", "full"} {
		cfg := validConfig()
		cfg.Mode = mode
		cfg.Wallet.PrivateKey = ""
		err := cfg.Validate()
		require.Error(t, err, "mode %s submits transactions", mode)
		require.ErrorContains(t, err, "wallet")
	}

	for _, mode := range []string{"server", "monitor"} {
		cfg := validConfig()
		cfg.Mode = mode
		cfg.Wallet.PrivateKey = ""
		require.NoError(t, cfg.Validate(), "mode %s is read-only", mode)
	}
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = "/etc/futuresd/key.enc"
	cfg.Wallet.KeyPassword = ""

	err := cfg.Validate()
	require.ErrorContains(t, err, "key_password")

	cfg.Wallet.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())
}

func TestValidate_DSNSkipsHostChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://u:p@db.example.com:5432/futuresd"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	require.NoError(t, cfg.Validate())
}

func TestLoad_TomlOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"
log_level = "debug"

[chain]
vault_address = "0xvault"

[indexer]
url = "https://indexer.example.com/graphql"

[engine]
index_interval = "30s"
warn_ltv = 65.0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "server", cfg.Mode)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 30*time.Second, cfg.Engine.IndexInterval.Duration)
	require.Equal(t, 65.0, cfg.Engine.WarnLTV)
	// Untouched sections keep their defaults.
	require.Equal(t, int64(8453), cfg.Chain.ChainID)
	require.Equal(t, 5*time.Second, cfg.Engine.PriceInterval.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FUTURESD_CHAIN_RPC_URL", "https://rpc.example.com")
	t.Setenv("FUTURESD_CHAIN_CHAIN_ID", "84532")
	t.Setenv("FUTURESD_WALLET_PRIVATE_KEY", "0xsecret")
	t.Setenv("FUTURESD_POSTGRES_PASSWORD", "pgpass")
	t.Setenv("FUTURESD_REDIS_TLS_ENABLED", "true")
	t.Setenv("FUTURESD_ENGINE_PRICE_INTERVAL", "2s")
	t.Setenv("FUTURESD_ENGINE_WATCH_ADDRESSES", "0xaaa, 0xbbb")
	t.Setenv("FUTURESD_MODE", "monitor")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, "https://rpc.example.com", cfg.Chain.RPCURL)
	require.Equal(t, int64(84532), cfg.Chain.ChainID)
	require.Equal(t, "0xsecret", cfg.Wallet.PrivateKey)
	require.Equal(t, "pgpass", cfg.Postgres.Password)
	require.True(t, cfg.Redis.TLSEnabled)
	require.Equal(t, 2*time.Second, cfg.Engine.PriceInterval.Duration)
	require.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.Engine.WatchAddresses)
	require.Equal(t, "monitor", cfg.Mode)
}

func TestEnvOverrides_MalformedValuesIgnored(t *testing.T) {
	t.Setenv("FUTURESD_CHAIN_CHAIN_ID", "not-a-number")
	t.Setenv("FUTURESD_ENGINE_PRICE_INTERVAL", "soon")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, int64(8453), cfg.Chain.ChainID)
	require.Equal(t, 5*time.Second, cfg.Engine.PriceInterval.Duration)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.KeyPassword = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Server.APIKey = "apikey"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)
	require.Equal(t, "***", red.Wallet.PrivateKey)
	require.Equal(t, "***", red.Wallet.KeyPassword)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Server.APIKey)
	require.Equal(t, "***", red.Notify.TelegramToken)

	// Non-secret fields survive.
	require.Equal(t, cfg.Chain.RPCURL, red.Chain.RPCURL)
	require.Equal(t, cfg.Mode, red.Mode)

	// The original is untouched.
	require.Equal(t, "0xabc123", cfg.Wallet.PrivateKey)
}
