// Package pending reconciles the per-address queue of in-flight actions
// against the indexer's progress, so clients stop seeing "pending" the
// moment the indexed state already reflects the change.
package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
)

// Reconciler prunes pending entries that the indexer has caught up with,
// entries whose transaction failed, and entries past the global timeout.
type Reconciler struct {
	store   domain.PendingStore
	history domain.TxHistoryStore
	logger  *slog.Logger

	now func() time.Time
}

// NewReconciler creates a Reconciler with all required dependencies.
func NewReconciler(
	store domain.PendingStore,
	history domain.TxHistoryStore,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:   store,
		history: history,
		logger:  logger.With(slog.String("component", "pending_reconciler")),
		now:     time.Now,
	}
}

// Reconcile prunes the address's queue against the given indexer height and
// returns the entries that remain pending.
//
// An entry is retired when any of these holds:
//   - the indexer height has reached the entry's inclusion block
//   - the transaction failed on-chain
//   - the entry has outlived the global timeout
func (r *Reconciler) Reconcile(ctx context.Context, address string, indexedBlock uint64) ([]domain.PendingAction, error) {
	actions, err := r.store.List(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("pending: list %s: %w", address, err)
	}
	if len(actions) == 0 {
		return nil, nil
	}

	now := r.now()
	kept := actions[:0]
	for _, a := range actions {
		retire, reason := r.shouldRetire(ctx, a, indexedBlock, now)
		if retire {
			r.logger.DebugContext(ctx, "pending entry retired",
				slog.String("address", address),
				slog.String("tx_hash", a.TxHash),
				slog.String("reason", reason),
			)
			continue
		}
		kept = append(kept, a)
	}

	if len(kept) != len(actions) {
		if err := r.store.Replace(ctx, address, kept); err != nil {
			return nil, fmt.Errorf("pending: replace %s: %w", address, err)
		}
	}
	return kept, nil
}

func (r *Reconciler) shouldRetire(ctx context.Context, a domain.PendingAction, indexedBlock uint64, now time.Time) (bool, string) {
	if a.Expired(now) {
		return true, "timeout"
	}
	if a.Block > 0 && indexedBlock >= a.Block {
		return true, "indexed"
	}

	rec, err := r.history.GetByHash(ctx, a.TxHash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.WarnContext(ctx, "tx history lookup failed",
				slog.String("tx_hash", a.TxHash),
				slog.String("error", err.Error()),
			)
		}
		return false, ""
	}

	switch rec.Status {
	case domain.TxStatusFailed:
		return true, "failed"
	case domain.TxStatusConfirmed:
		if indexedBlock >= rec.Block {
			return true, "indexed"
		}
	}
	return false, ""
}
