package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
)

// HistoryHandler serves the per-address transaction history.
type HistoryHandler struct {
	history domain.TxHistoryStore
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler with the given store and logger.
func NewHistoryHandler(history domain.TxHistoryStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger,
	}
}

// historyView is the JSON shape of one history row.
type historyView struct {
	ID        string `json:"id"`
	AssetID   string `json:"asset_id"`
	Action    string `json:"action"`
	TxHash    string `json:"tx_hash"`
	Status    string `json:"status"`
	Block     uint64 `json:"block,omitempty"`
	GasUsed   uint64 `json:"gas_used,omitempty"`
	CreatedAt string `json:"created_at"`
}

// listHistoryResponse wraps the history response.
type listHistoryResponse struct {
	History []historyView `json:"history"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// ListHistory returns the address's transaction history, newest first,
// optionally filtered by status.
// GET /api/history?address=0x...&status=pending&limit=50&offset=0
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query parameter required")
		return
	}

	var status domain.TxStatus
	if v := r.URL.Query().Get("status"); v != "" {
		switch domain.TxStatus(v) {
		case domain.TxStatusPending, domain.TxStatusConfirmed, domain.TxStatusFailed:
			status = domain.TxStatus(v)
		default:
			writeError(w, http.StatusBadRequest, "status must be pending, confirmed, or failed")
			return
		}
	}

	opts := parseListOpts(r)
	records, err := h.history.ListByAddress(r.Context(), address, status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	views := make([]historyView, 0, len(records))
	for _, rec := range records {
		views = append(views, historyView{
			ID:        rec.ID,
			AssetID:   rec.AssetID,
			Action:    string(rec.Action),
			TxHash:    rec.TxHash,
			Status:    string(rec.Status),
			Block:     rec.Block,
			GasUsed:   rec.GasUsed,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, listHistoryResponse{
		History: views,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}
