package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AssetStore persists the indexed asset snapshots.
type AssetStore interface {
	Upsert(ctx context.Context, asset Asset) error
	UpsertBatch(ctx context.Context, assets []Asset) error
	GetByID(ctx context.Context, id string) (Asset, error)
	List(ctx context.Context) ([]Asset, error)
	// ListSettledBefore returns settled assets whose expiration is older
	// than the cutoff, for archival.
	ListSettledBefore(ctx context.Context, cutoff time.Time) ([]Asset, error)
}

// PositionStore persists the indexed position snapshots.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	UpsertBatch(ctx context.Context, positions []Position) error
	Get(ctx context.Context, owner, assetID string) (Position, error)
	ListByOwner(ctx context.Context, owner string) ([]Position, error)
	// DeleteTerminal removes positions that are fully unwound.
	DeleteTerminal(ctx context.Context, owner string) (int64, error)
}

// TxHistoryStore persists the pending/confirmed transaction history keyed
// by address and status.
type TxHistoryStore interface {
	Insert(ctx context.Context, rec TxRecord) error
	UpdateStatus(ctx context.Context, txHash string, status TxStatus, block, gasUsed uint64) error
	GetByHash(ctx context.Context, txHash string) (TxRecord, error)
	ListByAddress(ctx context.Context, address string, status TxStatus, opts ListOpts) ([]TxRecord, error)
	// ListConfirmedBefore returns confirmed records older than the cutoff,
	// for archival.
	ListConfirmedBefore(ctx context.Context, cutoff time.Time, limit int) ([]TxRecord, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}
