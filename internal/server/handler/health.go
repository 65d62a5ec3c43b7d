package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
)

// SnapshotSource provides the current market snapshot to handlers.
type SnapshotSource interface {
	Current() domain.Snapshot
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	snapshots SnapshotSource
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the given snapshot source and
// logger.
func NewHealthHandler(snapshots SnapshotSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		snapshots: snapshots,
		logger:    logger,
	}
}

// HealthCheck responds with the server status plus the freshness of the
// market snapshot, so monitors can tell a live server with a stalled poller
// from a healthy one.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Current()

	resp := map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"indexed_block": snap.IndexedBlock,
	}
	if !snap.UpdatedAt.IsZero() {
		resp["snapshot_age_seconds"] = int64(time.Since(snap.UpdatedAt).Seconds())
	}

	writeJSON(w, http.StatusOK, resp)
}
