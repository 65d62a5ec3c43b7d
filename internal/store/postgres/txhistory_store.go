package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearhedge/futuresd/internal/domain"
)

// TxHistoryStore implements domain.TxHistoryStore using PostgreSQL.
type TxHistoryStore struct {
	pool *pgxpool.Pool
}

// NewTxHistoryStore creates a new TxHistoryStore backed by the given
// connection pool.
func NewTxHistoryStore(pool *pgxpool.Pool) *TxHistoryStore {
	return &TxHistoryStore{pool: pool}
}

const txSelectCols = `id, address, asset_id, action, tx_hash, status,
	block, gas_used, created_at, updated_at`

func scanTxRow(row pgx.Row) (domain.TxRecord, error) {
	var rec domain.TxRecord
	var action, status string
	var block, gasUsed int64

	err := row.Scan(
		&rec.ID, &rec.Address, &rec.AssetID, &action, &rec.TxHash, &status,
		&block, &gasUsed, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.TxRecord{}, err
	}
	rec.Action = domain.ActionType(action)
	rec.Status = domain.TxStatus(status)
	rec.Block = uint64(block)
	rec.GasUsed = uint64(gasUsed)
	return rec, nil
}

func scanTxRows(rows pgx.Rows) ([]domain.TxRecord, error) {
	var records []domain.TxRecord
	for rows.Next() {
		rec, err := scanTxRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Insert adds a new history row, normally in status pending.
func (s *TxHistoryStore) Insert(ctx context.Context, rec domain.TxRecord) error {
	const query = `
		INSERT INTO tx_history (
			id, address, asset_id, action, tx_hash, status,
			block, gas_used, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Address, rec.AssetID, string(rec.Action), rec.TxHash, string(rec.Status),
		int64(rec.Block), int64(rec.GasUsed),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert tx record %s: %w", rec.TxHash, err)
	}
	return nil
}

// UpdateStatus transitions a record by transaction hash, recording the
// inclusion block and gas used.
func (s *TxHistoryStore) UpdateStatus(ctx context.Context, txHash string, status domain.TxStatus, block, gasUsed uint64) error {
	const query = `
		UPDATE tx_history SET
			status     = $2,
			block      = $3,
			gas_used   = $4,
			updated_at = NOW()
		WHERE tx_hash = $1`

	tag, err := s.pool.Exec(ctx, query, txHash, string(status), int64(block), int64(gasUsed))
	if err != nil {
		return fmt.Errorf("postgres: update tx %s: %w", txHash, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByHash retrieves a single record by transaction hash.
func (s *TxHistoryStore) GetByHash(ctx context.Context, txHash string) (domain.TxRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txSelectCols+` FROM tx_history WHERE tx_hash = $1`, txHash)

	rec, err := scanTxRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TxRecord{}, domain.ErrNotFound
		}
		return domain.TxRecord{}, fmt.Errorf("postgres: get tx %s: %w", txHash, err)
	}
	return rec, nil
}

// ListByAddress returns the address's history, newest first, optionally
// filtered by status. An empty status matches everything.
func (s *TxHistoryStore) ListByAddress(ctx context.Context, address string, status domain.TxStatus, opts domain.ListOpts) ([]domain.TxRecord, error) {
	query := `SELECT ` + txSelectCols + ` FROM tx_history WHERE address = $1`
	args := []any{address}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tx history for %s: %w", address, err)
	}
	defer rows.Close()

	records, err := scanTxRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tx history for %s: %w", address, err)
	}
	return records, nil
}

// ListConfirmedBefore returns confirmed records older than the cutoff. These
// are archival candidates.
func (s *TxHistoryStore) ListConfirmedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TxRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM tx_history
		 WHERE status = 'confirmed' AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list confirmed tx before %s: %w", cutoff, err)
	}
	defer rows.Close()

	records, err := scanTxRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan confirmed tx: %w", err)
	}
	return records, nil
}

// DeleteByIDs removes rows after archival and reports how many were removed.
func (s *TxHistoryStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tx_history WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete tx records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TxHistoryStore = (*TxHistoryStore)(nil)
