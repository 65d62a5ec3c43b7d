// Package poller runs the background refresh loops: indexed assets and
// positions, oracle prices, and pending-queue reconciliation.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/pending"
	"github.com/clearhedge/futuresd/internal/snapshot"
)

// Intervals configures the cadence of each loop.
type Intervals struct {
	Index   time.Duration
	Prices  time.Duration
	Pending time.Duration
}

// Poller coordinates the refresh goroutines. Each loop runs once at startup
// and then on its ticker; a failed iteration logs and waits for the next
// tick rather than killing the loop.
type Poller struct {
	indexer    domain.IndexerClient
	oracle     domain.OracleClient
	assets     domain.AssetStore
	positions  domain.PositionStore
	prices     domain.PriceCache
	snapshots  *snapshot.Store
	reconciler *pending.Reconciler
	// watched is the set of addresses whose positions and pending queues
	// are tracked, normally just the operator wallet.
	watched   []string
	intervals Intervals
	logger    *slog.Logger
}

// New creates a Poller with all required dependencies.
func New(
	indexer domain.IndexerClient,
	oracle domain.OracleClient,
	assets domain.AssetStore,
	positions domain.PositionStore,
	prices domain.PriceCache,
	snapshots *snapshot.Store,
	reconciler *pending.Reconciler,
	watched []string,
	intervals Intervals,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		indexer:    indexer,
		oracle:     oracle,
		assets:     assets,
		positions:  positions,
		prices:     prices,
		snapshots:  snapshots,
		reconciler: reconciler,
		watched:    watched,
		intervals:  intervals,
		logger:     logger.With(slog.String("component", "poller")),
	}
}

// Run starts all loops and blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller starting",
		slog.Duration("index_interval", p.intervals.Index),
		slog.Duration("price_interval", p.intervals.Prices),
		slog.Duration("pending_interval", p.intervals.Pending),
		slog.Int("watched", len(p.watched)),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := p.loop(ctx, p.intervals.Index, p.refreshIndex)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("index loop: %w", err)
	})

	g.Go(func() error {
		err := p.loop(ctx, p.intervals.Prices, p.refreshPrices)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("price loop: %w", err)
	})

	g.Go(func() error {
		err := p.loop(ctx, p.intervals.Pending, p.reconcilePending)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pending loop: %w", err)
	})

	if err := g.Wait(); err != nil {
		p.logger.Error("poller stopped with error", slog.String("error", err.Error()))
		return err
	}

	p.logger.Info("poller stopped cleanly")
	return nil
}

// loop runs fn immediately and then on every tick until ctx is done.
func (p *Poller) loop(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		p.logger.Error("refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				p.logger.Error("refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// refreshIndex pulls assets and watched positions from the indexer into the
// stores and the snapshot.
func (p *Poller) refreshIndex(ctx context.Context) error {
	assets, err := p.indexer.Assets(ctx)
	if err != nil {
		return fmt.Errorf("poller: fetch assets: %w", err)
	}
	if err := p.assets.UpsertBatch(ctx, assets); err != nil {
		return fmt.Errorf("poller: persist assets: %w", err)
	}
	p.snapshots.UpdateAssets(assets)

	block, err := p.indexer.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("poller: fetch latest block: %w", err)
	}

	var all []domain.Position
	for _, owner := range p.watched {
		positions, err := p.indexer.Positions(ctx, owner)
		if err != nil {
			return fmt.Errorf("poller: fetch positions for %s: %w", owner, err)
		}
		if err := p.positions.UpsertBatch(ctx, positions); err != nil {
			return fmt.Errorf("poller: persist positions for %s: %w", owner, err)
		}
		if removed, err := p.positions.DeleteTerminal(ctx, owner); err != nil {
			p.logger.WarnContext(ctx, "prune terminal positions",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
		} else if removed > 0 {
			p.logger.DebugContext(ctx, "terminal positions pruned",
				slog.String("owner", owner),
				slog.Int64("count", removed),
			)
		}

		for _, pos := range positions {
			if !pos.Terminal() {
				all = append(all, pos)
			}
		}
	}
	p.snapshots.UpdatePositions(all, block)

	return nil
}

// refreshPrices pulls the latest off-chain prices for every feed referenced
// by a known asset.
func (p *Poller) refreshPrices(ctx context.Context) error {
	snap := p.snapshots.Current()

	seen := map[string]struct{}{}
	var feeds []string
	for _, a := range snap.Assets {
		for _, id := range []string{a.Currency.PriceFeedID, a.Collateral.PriceFeedID} {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			feeds = append(feeds, id)
		}
	}
	if len(feeds) == 0 {
		return nil
	}

	prices, err := p.oracle.LatestPrices(ctx, feeds)
	if err != nil {
		return fmt.Errorf("poller: fetch prices: %w", err)
	}

	now := time.Now()
	for id, price := range prices {
		if err := p.prices.SetPrice(ctx, id, price, now); err != nil {
			p.logger.WarnContext(ctx, "cache price",
				slog.String("feed", id),
				slog.String("error", err.Error()),
			)
		}
	}
	p.snapshots.UpdatePrices(prices)

	return nil
}

// reconcilePending prunes each watched address's pending queue against the
// current indexer height.
func (p *Poller) reconcilePending(ctx context.Context) error {
	block := p.snapshots.Current().IndexedBlock

	for _, owner := range p.watched {
		if _, err := p.reconciler.Reconcile(ctx, owner, block); err != nil {
			return err
		}
	}
	return nil
}
