package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
)

// archiveBatchSize caps how many tx history rows one archive pass moves, so
// a long backlog drains over several runs instead of one giant upload.
const archiveBatchSize = 10_000

// archiveContentType is the MIME type for newline-delimited JSON.
const archiveContentType = "application/x-ndjson"

// txArchiveRecord is the cold-storage shape of a tx history row.
type txArchiveRecord struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	AssetID   string    `json:"asset_id"`
	Action    string    `json:"action"`
	TxHash    string    `json:"tx_hash"`
	Status    string    `json:"status"`
	Block     uint64    `json:"block"`
	GasUsed   uint64    `json:"gas_used"`
	CreatedAt time.Time `json:"created_at"`
}

// assetArchiveRecord is the cold-storage shape of a settled asset.
type assetArchiveRecord struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Collateral  string    `json:"collateral"`
	Expiration  time.Time `json:"expiration"`
	SettlePrice string    `json:"settle_price"`
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// rows, serializing them to JSONL, and uploading the result to object
// storage.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	history domain.TxHistoryStore
	assets  domain.AssetStore
	logger  *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	history domain.TxHistoryStore,
	assets domain.AssetStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		history: history,
		assets:  assets,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTxHistory uploads confirmed transaction records older than the
// cutoff and deletes them from the primary store. Deletion happens only
// after the upload succeeded, so a failed run is retried, never lossy.
func (a *ArchiveImpl) ArchiveTxHistory(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.history.ListConfirmedBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive tx history query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	archived := make([]txArchiveRecord, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		archived = append(archived, txArchiveRecord{
			ID:        rec.ID,
			Address:   rec.Address,
			AssetID:   rec.AssetID,
			Action:    string(rec.Action),
			TxHash:    rec.TxHash,
			Status:    string(rec.Status),
			Block:     rec.Block,
			GasUsed:   rec.GasUsed,
			CreatedAt: rec.CreatedAt,
		})
		ids = append(ids, rec.ID)
	}

	buf, err := marshalJSONL(archived)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive tx history marshal: %w", err)
	}

	path := archivePath("tx_history", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive tx history upload: %w", err)
	}

	deleted, err := a.history.DeleteByIDs(ctx, ids)
	if err != nil {
		return int64(len(records)), fmt.Errorf("s3blob: archive tx history delete: %w", err)
	}

	a.logger.InfoContext(ctx, "tx history archived",
		slog.String("path", path),
		slog.Int("uploaded", len(records)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(records)), nil
}

// ArchiveSettledAssets uploads settled assets expired before the cutoff.
// Asset rows stay in the store because settled vaults remain redeemable
// indefinitely; the upload is a cold-storage copy of the final state.
func (a *ArchiveImpl) ArchiveSettledAssets(ctx context.Context, before time.Time) (int64, error) {
	assets, err := a.assets.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled assets query: %w", err)
	}
	if len(assets) == 0 {
		return 0, nil
	}

	archived := make([]assetArchiveRecord, 0, len(assets))
	for _, asset := range assets {
		archived = append(archived, assetArchiveRecord{
			ID:          asset.ID,
			Symbol:      asset.Currency.Symbol,
			Collateral:  asset.Collateral.Symbol,
			Expiration:  asset.Expiration,
			SettlePrice: asset.SettlePrice.String(),
		})
	}

	buf, err := marshalJSONL(archived)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled assets marshal: %w", err)
	}

	path := archivePath("settled_assets", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive settled assets upload: %w", err)
	}

	a.logger.InfoContext(ctx, "settled assets archived",
		slog.String("path", path),
		slog.Int("count", len(assets)),
	)
	return int64(len(assets)), nil
}

// upload sends the serialized batch to cold storage, switching to a
// multipart upload once the payload crosses the S3 part-size floor.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/tx_history/2026-08.jsonl
//	archive/settled_assets/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
