package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clearhedge/futuresd/internal/domain"
)

// AssetStore implements domain.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *pgxpool.Pool
}

// NewAssetStore creates a new AssetStore backed by the given connection pool.
func NewAssetStore(pool *pgxpool.Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

const assetSelectCols = `id,
	currency_id, currency_symbol, currency_name, currency_decimals, currency_price_feed_id,
	collateral_id, collateral_symbol, collateral_name, collateral_decimals, collateral_price_feed_id,
	expiration, max_ltv, liquidation_threshold, ltv_precision,
	min_debt::text, settle_price::text,
	open_minute_utc, close_minute_utc, weekend_closed`

const assetUpsertQuery = `
	INSERT INTO assets (
		id,
		currency_id, currency_symbol, currency_name, currency_decimals, currency_price_feed_id,
		collateral_id, collateral_symbol, collateral_name, collateral_decimals, collateral_price_feed_id,
		expiration, max_ltv, liquidation_threshold, ltv_precision,
		min_debt, settle_price,
		open_minute_utc, close_minute_utc, weekend_closed, updated_at
	) VALUES (
		$1,
		$2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14, $15,
		$16::numeric, $17::numeric,
		$18, $19, $20, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		settle_price = EXCLUDED.settle_price,
		updated_at   = NOW()`

func assetUpsertArgs(a domain.Asset) []any {
	return []any{
		a.ID,
		a.Currency.ID, a.Currency.Symbol, a.Currency.Name, int16(a.Currency.Decimals), a.Currency.PriceFeedID,
		a.Collateral.ID, a.Collateral.Symbol, a.Collateral.Name, int16(a.Collateral.Decimals), a.Collateral.PriceFeedID,
		a.Expiration, int64(a.MaxLTV), int64(a.LiquidationThreshold), int64(a.LTVPrecision),
		a.MinDebtOrZero().String(), a.SettlePrice.String(),
		a.Hours.OpenMinuteUTC, a.Hours.CloseMinuteUTC, a.Hours.WeekendClosed,
	}
}

func scanAssetRow(row pgx.Row) (domain.Asset, error) {
	var a domain.Asset
	var curDecimals, colDecimals int16
	var maxLTV, liqThreshold, precision int64
	var minDebt, settlePrice string

	err := row.Scan(
		&a.ID,
		&a.Currency.ID, &a.Currency.Symbol, &a.Currency.Name, &curDecimals, &a.Currency.PriceFeedID,
		&a.Collateral.ID, &a.Collateral.Symbol, &a.Collateral.Name, &colDecimals, &a.Collateral.PriceFeedID,
		&a.Expiration, &maxLTV, &liqThreshold, &precision,
		&minDebt, &settlePrice,
		&a.Hours.OpenMinuteUTC, &a.Hours.CloseMinuteUTC, &a.Hours.WeekendClosed,
	)
	if err != nil {
		return domain.Asset{}, err
	}

	a.Currency.Decimals = uint8(curDecimals)
	a.Collateral.Decimals = uint8(colDecimals)
	a.MaxLTV = uint64(maxLTV)
	a.LiquidationThreshold = uint64(liqThreshold)
	a.LTVPrecision = uint64(precision)

	a.MinDebt, _ = new(big.Int).SetString(minDebt, 10)
	a.SettlePrice, err = decimal.NewFromString(settlePrice)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("parse settle price: %w", err)
	}
	return a, nil
}

// Upsert inserts or refreshes one asset. Only the settle price can change
// after creation, so that is all the conflict branch touches.
func (s *AssetStore) Upsert(ctx context.Context, asset domain.Asset) error {
	if _, err := s.pool.Exec(ctx, assetUpsertQuery, assetUpsertArgs(asset)...); err != nil {
		return fmt.Errorf("postgres: upsert asset %s: %w", asset.ID, err)
	}
	return nil
}

// UpsertBatch upserts assets in one pipelined batch.
func (s *AssetStore) UpsertBatch(ctx context.Context, assets []domain.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range assets {
		batch.Queue(assetUpsertQuery, assetUpsertArgs(a)...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, a := range assets {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert asset %s: %w", a.ID, err)
		}
	}
	return nil
}

// GetByID retrieves a single asset.
func (s *AssetStore) GetByID(ctx context.Context, id string) (domain.Asset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+assetSelectCols+` FROM assets WHERE id = $1`, id)

	a, err := scanAssetRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Asset{}, domain.ErrNotFound
		}
		return domain.Asset{}, fmt.Errorf("postgres: get asset %s: %w", id, err)
	}
	return a, nil
}

// List returns all known assets ordered by expiration.
func (s *AssetStore) List(ctx context.Context) ([]domain.Asset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assetSelectCols+` FROM assets ORDER BY expiration ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAssetRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// ListSettledBefore returns settled assets whose expiration is older than the
// cutoff. These are archival candidates.
func (s *AssetStore) ListSettledBefore(ctx context.Context, cutoff time.Time) ([]domain.Asset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assetSelectCols+` FROM assets
		 WHERE settle_price > 0 AND expiration < $1
		 ORDER BY expiration ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAssetRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settled asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// Compile-time interface check.
var _ domain.AssetStore = (*AssetStore)(nil)
