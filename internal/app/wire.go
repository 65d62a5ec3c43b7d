package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/clearhedge/futuresd/internal/blob/s3"
	"github.com/clearhedge/futuresd/internal/cache/redis"
	"github.com/clearhedge/futuresd/internal/chain"
	"github.com/clearhedge/futuresd/internal/config"
	"github.com/clearhedge/futuresd/internal/crypto"
	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/indexer"
	"github.com/clearhedge/futuresd/internal/notify"
	"github.com/clearhedge/futuresd/internal/oracle"
	"github.com/clearhedge/futuresd/internal/snapshot"
	"github.com/clearhedge/futuresd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	AssetStore    domain.AssetStore
	PositionStore domain.PositionStore
	TxHistory     domain.TxHistoryStore

	// Caches
	PriceCache   domain.PriceCache
	PendingStore domain.PendingStore
	LockManager  domain.LockManager
	RateLimiter  domain.RateLimiter

	// Chain
	ChainClient *chain.Client
	Vault       *chain.Vault
	// TxManager is nil when no wallet key is configured (read-only modes).
	TxManager *chain.TxManager

	// Off-chain sources
	Oracle  *oracle.Client
	Indexer *indexer.Client

	// In-memory snapshot shared by pollers, risk engine, and API.
	Snapshots *snapshot.Store

	// Blob storage (nil outside archiving modes)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that run the cold-storage archiver.
func needsS3(mode string) bool {
	switch mode {
	case "engine", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Snapshots: snapshot.New(),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.AssetStore = postgres.NewAssetStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TxHistory = postgres.NewTxHistoryStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.PendingStore = redis.NewPendingStore(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Chain ---
	chainClient, err := chain.New(ctx, chain.ClientConfig{
		RPCURL:  cfg.Chain.RPCURL,
		ChainID: cfg.Chain.ChainID,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.ChainClient = chainClient

	vault, err := chain.NewVault(chainClient, cfg.Chain.VaultAddress)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: vault: %w", err)
	}
	deps.Vault = vault

	// Operator wallet, if configured. Read-only modes run without one.
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		txmgr, err := chain.NewTxManager(chainClient, key, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: tx manager: %w", err)
		}
		deps.TxManager = txmgr
	}

	// --- Off-chain sources ---
	deps.Oracle = oracle.NewClient(cfg.Oracle.Endpoint)
	deps.Indexer = indexer.NewClient(cfg.Indexer.URL, cfg.Indexer.APIKey)

	// --- S3 blob storage (archiving modes only) ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TxHistory, deps.AssetStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
