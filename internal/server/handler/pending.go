package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
)

// PendingHandler serves the in-flight action queue for an address.
type PendingHandler struct {
	pending domain.PendingStore
	logger  *slog.Logger
}

// NewPendingHandler creates a PendingHandler with the given store and logger.
func NewPendingHandler(pending domain.PendingStore, logger *slog.Logger) *PendingHandler {
	return &PendingHandler{
		pending: pending,
		logger:  logger,
	}
}

// pendingView is the JSON shape of one in-flight action.
type pendingView struct {
	Action      string `json:"action"`
	AssetID     string `json:"asset_id"`
	TxHash      string `json:"tx_hash"`
	Block       uint64 `json:"block,omitempty"`
	SubmittedAt string `json:"submitted_at"`
}

// listPendingResponse wraps the pending queue response.
type listPendingResponse struct {
	Pending []pendingView `json:"pending"`
}

// ListPending returns the address's in-flight actions.
// GET /api/pending?address=0x...
func (h *PendingHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query parameter required")
		return
	}

	actions, err := h.pending.List(r.Context(), address)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list pending failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list pending actions")
		return
	}

	views := make([]pendingView, 0, len(actions))
	for _, a := range actions {
		views = append(views, pendingView{
			Action:      string(a.Type),
			AssetID:     a.CurrencyID,
			TxHash:      a.TxHash,
			Block:       a.Block,
			SubmittedAt: a.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, listPendingResponse{Pending: views})
}
