package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clearhedge/futuresd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `owner, asset_id,
	collateral_amount::text, debt_amount::text, average_price::text, indexed_block`

const positionUpsertQuery = `
	INSERT INTO positions (
		owner, asset_id, collateral_amount, debt_amount, average_price,
		indexed_block, updated_at
	) VALUES (
		$1, $2, $3::numeric, $4::numeric, $5::numeric, $6, NOW()
	)
	ON CONFLICT (owner, asset_id) DO UPDATE SET
		collateral_amount = EXCLUDED.collateral_amount,
		debt_amount       = EXCLUDED.debt_amount,
		average_price     = EXCLUDED.average_price,
		indexed_block     = EXCLUDED.indexed_block,
		updated_at        = NOW()
	WHERE positions.indexed_block <= EXCLUDED.indexed_block`

func positionUpsertArgs(p domain.Position) []any {
	return []any{
		p.Owner, p.AssetID,
		p.Collateral().String(), p.Debt().String(), p.AveragePrice.String(),
		int64(p.IndexedBlock),
	}
}

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var collateral, debt, avgPrice string
	var indexedBlock int64

	err := row.Scan(
		&p.Owner, &p.AssetID,
		&collateral, &debt, &avgPrice, &indexedBlock,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.CollateralAmount, _ = new(big.Int).SetString(collateral, 10)
	p.DebtAmount, _ = new(big.Int).SetString(debt, 10)
	p.AveragePrice, err = decimal.NewFromString(avgPrice)
	if err != nil {
		return domain.Position{}, fmt.Errorf("parse average price: %w", err)
	}
	p.IndexedBlock = uint64(indexedBlock)
	return p, nil
}

// Upsert inserts or refreshes a position. Stale writes lose: a row already
// indexed at a newer block is left untouched.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	if _, err := s.pool.Exec(ctx, positionUpsertQuery, positionUpsertArgs(pos)...); err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", pos.Owner, pos.AssetID, err)
	}
	return nil
}

// UpsertBatch upserts positions in one pipelined batch.
func (s *PositionStore) UpsertBatch(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(positionUpsertQuery, positionUpsertArgs(p)...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, p := range positions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert position %s/%s: %w", p.Owner, p.AssetID, err)
		}
	}
	return nil
}

// Get retrieves the owner's position in one asset.
func (s *PositionStore) Get(ctx context.Context, owner, assetID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner = $1 AND asset_id = $2`, owner, assetID)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", owner, assetID, err)
	}
	return p, nil
}

// ListByOwner returns all of the owner's positions.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner = $1 ORDER BY asset_id`, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", owner, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// DeleteTerminal removes the owner's fully unwound positions and reports how
// many were removed.
func (s *PositionStore) DeleteTerminal(ctx context.Context, owner string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions
		 WHERE owner = $1 AND collateral_amount = 0 AND debt_amount = 0`, owner)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete terminal positions for %s: %w", owner, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
