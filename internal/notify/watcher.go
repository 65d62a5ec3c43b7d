package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/risk"
)

// SnapshotSubscriber provides snapshot updates to the watcher.
type SnapshotSubscriber interface {
	Subscribe() (<-chan domain.Snapshot, func())
}

// RiskWatcher observes snapshot updates and raises alerts when a position's
// LTV crosses the warning threshold or an asset changes lifecycle state.
// Alerts are edge-triggered: one per crossing, re-armed when the condition
// clears.
type RiskWatcher struct {
	snapshots SnapshotSubscriber
	notifier  *Notifier
	// warnLTV is the LTV percentage above which a position alert fires.
	warnLTV decimal.Decimal
	logger  *slog.Logger

	now func() time.Time

	atRisk     map[string]bool
	lastStates map[string]domain.AssetState
}

// NewRiskWatcher creates a RiskWatcher with all required dependencies.
func NewRiskWatcher(
	snapshots SnapshotSubscriber,
	notifier *Notifier,
	warnLTV decimal.Decimal,
	logger *slog.Logger,
) *RiskWatcher {
	return &RiskWatcher{
		snapshots:  snapshots,
		notifier:   notifier,
		warnLTV:    warnLTV,
		logger:     logger.With(slog.String("component", "risk_watcher")),
		now:        time.Now,
		atRisk:     make(map[string]bool),
		lastStates: make(map[string]domain.AssetState),
	}
}

// Run consumes snapshot updates until ctx is cancelled.
func (w *RiskWatcher) Run(ctx context.Context) error {
	updates, cancel := w.snapshots.Subscribe()
	defer cancel()

	w.logger.Info("risk watcher starting", slog.String("warn_ltv", w.warnLTV.String()))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("risk watcher stopped")
			return nil
		case snap := <-updates:
			w.inspect(ctx, snap)
		}
	}
}

func (w *RiskWatcher) inspect(ctx context.Context, snap domain.Snapshot) {
	now := w.now()

	for _, asset := range snap.Assets {
		w.checkLifecycle(ctx, asset, now)
	}

	for _, pos := range snap.Positions {
		asset, ok := snap.AssetByID(pos.AssetID)
		if !ok || pos.Debt().Sign() == 0 {
			continue
		}
		w.checkLTV(ctx, asset, pos, snap)
	}
}

// checkLifecycle alerts once per active->expired and expired->settled edge.
func (w *RiskWatcher) checkLifecycle(ctx context.Context, asset domain.Asset, now time.Time) {
	state := asset.State(now)
	prev, seen := w.lastStates[asset.ID]
	w.lastStates[asset.ID] = state

	if !seen || prev == state {
		return
	}

	switch state {
	case domain.AssetExpired:
		_ = w.notifier.Notify(ctx, EventAssetExpired,
			fmt.Sprintf("%s expired", asset.Currency.Symbol),
			fmt.Sprintf("Asset %s expired at %s and is awaiting settlement.",
				asset.ID, asset.Expiration.Format(time.RFC3339)),
		)
	case domain.AssetSettled:
		_ = w.notifier.Notify(ctx, EventAssetSettled,
			fmt.Sprintf("%s settled", asset.Currency.Symbol),
			fmt.Sprintf("Asset %s settled at %s %s per unit.",
				asset.ID, asset.SettlePrice, asset.Collateral.Symbol),
		)
	}
}

func (w *RiskWatcher) checkLTV(ctx context.Context, asset domain.Asset, pos domain.Position, snap domain.Snapshot) {
	debtPrice, okDebt := snap.PriceOf(asset.Currency)
	collPrice, okColl := snap.PriceOf(asset.Collateral)
	if !okDebt || !okColl {
		return
	}

	ltv := risk.Ltv(
		asset.Currency, debtPrice, pos.Debt(),
		asset.Collateral, collPrice, pos.Collateral(),
	)

	key := pos.Owner + "/" + pos.AssetID
	breached := ltv.GreaterThanOrEqual(w.warnLTV)

	if breached && !w.atRisk[key] {
		w.atRisk[key] = true
		liq := risk.LiquidationPrice(
			asset.Currency, pos.Debt(),
			asset.Collateral, collPrice, pos.Collateral(),
			asset.LiquidationThreshold, asset.LTVPrecision,
		)
		_ = w.notifier.Notify(ctx, EventPositionAtRisk,
			fmt.Sprintf("%s position at risk", asset.Currency.Symbol),
			fmt.Sprintf("LTV %s%% for %s (liquidation at %s, current %s).",
				ltv, pos.Owner, liq, debtPrice),
		)
		w.logger.WarnContext(ctx, "position at risk",
			slog.String("owner", pos.Owner),
			slog.String("asset", pos.AssetID),
			slog.String("ltv", ltv.String()),
		)
	} else if !breached && w.atRisk[key] {
		delete(w.atRisk, key)
	}
}
