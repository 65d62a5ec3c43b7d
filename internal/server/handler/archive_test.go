package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearhedge/futuresd/internal/domain"
)

type fakeBlobReader struct {
	objects map[string]string
	infos   []domain.BlobInfo
	listErr error

	listedPrefix string
}

func (f *fakeBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBlobReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.listedPrefix = prefix
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.infos, nil
}

func archiveMux(blobs domain.BlobReader) *http.ServeMux {
	h := NewArchiveHandler(blobs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archive", h.ListArchives)
	mux.HandleFunc("GET /api/archive/{path...}", h.GetArchive)
	return mux
}

func TestListArchives(t *testing.T) {
	modified := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	blobs := &fakeBlobReader{
		infos: []domain.BlobInfo{
			{Path: "archive/tx_history/2026-07.jsonl", Size: 512, LastModified: modified},
			{Path: "archive/tx_history/2026-08.jsonl", Size: 1024, LastModified: modified},
		},
	}
	mux := archiveMux(blobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "archive/", blobs.listedPrefix)

	var resp struct {
		Archives []struct {
			Path         string `json:"path"`
			Size         int64  `json:"size"`
			LastModified string `json:"last_modified"`
		} `json:"archives"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Archives, 2)
	require.Equal(t, "archive/tx_history/2026-08.jsonl", resp.Archives[1].Path)
	require.Equal(t, int64(1024), resp.Archives[1].Size)
	require.Equal(t, "2026-08-31T00:00:00Z", resp.Archives[1].LastModified)
}

func TestListArchives_KindFilter(t *testing.T) {
	blobs := &fakeBlobReader{}
	mux := archiveMux(blobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive?kind=settled_assets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "archive/settled_assets/", blobs.listedPrefix)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive?kind=everything", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetArchive(t *testing.T) {
	lines := `{"id":"a"}` + "\n" + `{"id":"b"}` + "\n"
	blobs := &fakeBlobReader{
		objects: map[string]string{"archive/tx_history/2026-08.jsonl": lines},
	}
	mux := archiveMux(blobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive/tx_history/2026-08.jsonl", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	require.Equal(t, lines, rec.Body.String())
}

func TestGetArchive_Missing(t *testing.T) {
	mux := archiveMux(&fakeBlobReader{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive/tx_history/1999-01.jsonl", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetArchive_RejectsTraversal(t *testing.T) {
	blobs := &fakeBlobReader{
		objects: map[string]string{"archive/../secrets.jsonl": "nope"},
	}
	h := NewArchiveHandler(blobs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/api/archive/x", nil)
	req.SetPathValue("path", "../secrets.jsonl")
	rec := httptest.NewRecorder()
	h.GetArchive(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
