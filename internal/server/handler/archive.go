package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
)

// archivePrefix is the key prefix the archiver writes all objects under.
const archivePrefix = "archive/"

// ArchiveHandler serves the cold-storage archive: monthly JSONL files of
// aged transaction history and settled assets uploaded by the archiver.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given blob reader.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logger,
	}
}

// archiveView is the JSON shape of one archive object.
type archiveView struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// listArchivesResponse wraps the archive listing.
type listArchivesResponse struct {
	Archives []archiveView `json:"archives"`
}

// ListArchives returns the archive objects in cold storage, optionally
// narrowed to one kind.
// GET /api/archive?kind=tx_history
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	if kind := r.URL.Query().Get("kind"); kind != "" {
		switch kind {
		case "tx_history", "settled_assets":
			prefix += kind + "/"
		default:
			writeError(w, http.StatusBadRequest, "kind must be tx_history or settled_assets")
			return
		}
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	views := make([]archiveView, 0, len(infos))
	for _, info := range infos {
		views = append(views, archiveView{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: views})
}

// GetArchive streams one archive object back to the caller.
// GET /api/archive/tx_history/2026-08.jsonl
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r, "path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.blobs.Get(r.Context(), archivePrefix+path)
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
