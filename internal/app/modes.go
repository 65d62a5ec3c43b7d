package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/notify"
	"github.com/clearhedge/futuresd/internal/pending"
	"github.com/clearhedge/futuresd/internal/poller"
	"github.com/clearhedge/futuresd/internal/position"
	"github.com/clearhedge/futuresd/internal/server"
	"github.com/clearhedge/futuresd/internal/server/handler"
	"github.com/clearhedge/futuresd/internal/server/ws"
)

// settleRetryInterval bounds how often the auto-settler retries one asset
// after a failed settlement attempt.
const settleRetryInterval = 10 * time.Minute

// EngineMode runs the operator automation without an API surface: polling,
// risk alerts, automatic settlement of expired assets, and archiving.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	orch, err := a.buildOrchestrator(deps)
	if err != nil {
		return fmt.Errorf("engine mode: %w", err)
	}
	defer orch.Wait()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.buildPoller(deps).Run(ctx)
	})
	g.Go(func() error {
		return a.buildRiskWatcher(deps).Run(ctx)
	})
	g.Go(func() error {
		return a.runAutoSettler(ctx, deps, orch)
	})
	g.Go(func() error {
		return a.runArchiver(ctx, deps)
	})

	return g.Wait()
}

// ServerMode runs the API surface backed by the pollers. Action endpoints
// are registered only when an operator wallet is configured.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	var orch *position.Orchestrator
	if deps.TxManager != nil {
		var err error
		orch, err = a.buildOrchestrator(deps)
		if err != nil {
			return fmt.Errorf("server mode: %w", err)
		}
		defer orch.Wait()
	} else {
		a.logger.InfoContext(ctx, "no wallet configured, action endpoints disabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.buildPoller(deps).Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, orch)

	return g.Wait()
}

// MonitorMode runs read-only monitoring: polling plus risk and lifecycle
// alerts. No transactions are submitted and no API is exposed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.buildPoller(deps).Run(ctx)
	})
	g.Go(func() error {
		return a.buildRiskWatcher(deps).Run(ctx)
	})

	return g.Wait()
}

// FullMode runs every subsystem: polling, risk alerts, automatic settlement,
// archiving, and the API surface.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	orch, err := a.buildOrchestrator(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	defer orch.Wait()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.buildPoller(deps).Run(ctx)
	})
	g.Go(func() error {
		return a.buildRiskWatcher(deps).Run(ctx)
	})
	g.Go(func() error {
		return a.runAutoSettler(ctx, deps, orch)
	})
	g.Go(func() error {
		return a.runArchiver(ctx, deps)
	})
	a.startHTTPServer(ctx, g, deps, orch)

	return g.Wait()
}

// buildPoller assembles the refresh loops over the configured watch set.
func (a *App) buildPoller(deps *Dependencies) *poller.Poller {
	reconciler := pending.NewReconciler(deps.PendingStore, deps.TxHistory, a.logger)

	return poller.New(
		deps.Indexer,
		deps.Oracle,
		deps.AssetStore,
		deps.PositionStore,
		deps.PriceCache,
		deps.Snapshots,
		reconciler,
		a.watchedAddresses(deps),
		poller.Intervals{
			Index:   a.cfg.Engine.IndexInterval.Duration,
			Prices:  a.cfg.Engine.PriceInterval.Duration,
			Pending: a.cfg.Engine.PendingInterval.Duration,
		},
		a.logger,
	)
}

// buildOrchestrator assembles the transaction pipeline around the operator
// wallet.
func (a *App) buildOrchestrator(deps *Dependencies) (*position.Orchestrator, error) {
	if deps.TxManager == nil {
		return nil, fmt.Errorf("operator wallet is required")
	}

	builder := position.NewTxBuilder(deps.Vault, deps.Vault, deps.Oracle, a.logger)
	return position.NewOrchestrator(
		deps.Snapshots,
		builder,
		deps.TxManager,
		deps.Vault,
		deps.LockManager,
		deps.PendingStore,
		deps.TxHistory,
		a.logger,
	), nil
}

// buildRiskWatcher assembles the alerting watcher over the snapshot feed.
func (a *App) buildRiskWatcher(deps *Dependencies) *notify.RiskWatcher {
	return notify.NewRiskWatcher(
		deps.Snapshots,
		deps.Notifier,
		decimal.NewFromFloat(a.cfg.Engine.WarnLTV),
		a.logger,
	)
}

// watchedAddresses returns the deduplicated set of addresses whose positions
// and pending queues are tracked: the operator wallet plus any configured
// extras.
func (a *App) watchedAddresses(deps *Dependencies) []string {
	seen := make(map[string]bool)
	var watched []string

	add := func(addr string) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		watched = append(watched, addr)
	}

	if deps.TxManager != nil {
		add(deps.TxManager.From())
	}
	for _, addr := range a.cfg.Engine.WatchAddresses {
		add(addr)
	}
	return watched
}

// runAutoSettler watches the snapshot feed and settles assets that expired
// without a recorded settle price. Settlement is permissionless; whichever
// party lands first wins and the rest observe ErrAlreadySettled.
func (a *App) runAutoSettler(ctx context.Context, deps *Dependencies, orch *position.Orchestrator) error {
	updates, cancel := deps.Snapshots.Subscribe()
	defer cancel()

	operator := deps.TxManager.From()
	attempted := make(map[string]time.Time)

	a.logger.InfoContext(ctx, "auto settler starting")

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-updates:
			now := time.Now()
			for _, asset := range snap.Assets {
				if asset.State(now) != domain.AssetExpired {
					continue
				}
				if last, ok := attempted[asset.ID]; ok && now.Sub(last) < settleRetryInterval {
					continue
				}
				attempted[asset.ID] = now

				rec, err := orch.Settle(ctx, operator, asset.ID)
				switch {
				case err == nil:
					a.logger.InfoContext(ctx, "settlement submitted",
						slog.String("asset", asset.ID),
						slog.String("tx_hash", rec.TxHash),
					)
				case errors.Is(err, domain.ErrAlreadySettled):
					// Someone else landed first; the next index refresh
					// flips the asset to settled.
				default:
					a.logger.WarnContext(ctx, "settlement attempt failed",
						slog.String("asset", asset.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// runArchiver periodically moves aged history to cold storage and copies
// settled assets alongside it.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archiver requires blob storage")
	}

	interval := a.cfg.Engine.ArchiveInterval.Duration
	retention := time.Duration(a.cfg.Engine.ArchiveRetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "archiver starting",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Engine.ArchiveRetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)

			if n, err := deps.Archiver.ArchiveTxHistory(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive tx history failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				a.logger.InfoContext(ctx, "tx history archived", slog.Int64("records", n))
			}

			if n, err := deps.Archiver.ArchiveSettledAssets(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive settled assets failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				a.logger.InfoContext(ctx, "settled assets archived", slog.Int64("assets", n))
			}
		}
	}
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server shuts down gracefully when the context is
// cancelled. orch may be nil, which disables the action endpoints.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *position.Orchestrator) {
	hub := ws.NewHub(deps.Snapshots, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Snapshots, a.logger),
		Assets:    handler.NewAssetHandler(deps.Snapshots, a.logger),
		Positions: handler.NewPositionHandler(deps.Snapshots, a.logger),
		Pending:   handler.NewPendingHandler(deps.PendingStore, a.logger),
		History:   handler.NewHistoryHandler(deps.TxHistory, a.logger),
	}
	if orch != nil {
		handlers.Actions = handler.NewActionHandler(orch, a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
