package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the read-only view shared between the pollers, the risk
// engine, and the API surface. Consumers must treat it as immutable; the
// snapshot store replaces the whole value on every refresh.
type Snapshot struct {
	Assets    []Asset
	Positions []Position
	// Prices maps price-feed id to the latest off-chain price.
	Prices map[string]decimal.Decimal
	// IndexedBlock is the newest block reflected by the indexer at the
	// time of the refresh.
	IndexedBlock uint64
	UpdatedAt    time.Time
}

// AssetByID looks up an asset in the snapshot.
func (s Snapshot) AssetByID(id string) (Asset, bool) {
	for _, a := range s.Assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}

// PositionFor looks up the owner's position in the given asset.
func (s Snapshot) PositionFor(owner, assetID string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Owner == owner && p.AssetID == assetID {
			return p, true
		}
	}
	return Position{}, false
}

// PriceOf returns the snapshot price for a currency, falling back to $1 for
// currencies without a feed (stable collateral).
func (s Snapshot) PriceOf(c Currency) (decimal.Decimal, bool) {
	if c.PriceFeedID == "" {
		return decimal.NewFromInt(1), true
	}
	p, ok := s.Prices[c.PriceFeedID]
	return p, ok
}
