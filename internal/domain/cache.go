package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest oracle prices, keyed by
// price-feed id.
type PriceCache interface {
	SetPrice(ctx context.Context, feedID string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, feedID string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, feedIDs []string) (map[string]decimal.Decimal, error)
}

// PendingStore is the durable queue of in-flight actions per address. It
// exists only so the UI survives page reloads and indexer lag; entries are
// read-modify-written as whole lists per address.
type PendingStore interface {
	Add(ctx context.Context, address string, action PendingAction) error
	List(ctx context.Context, address string) ([]PendingAction, error)
	// Replace atomically overwrites the address's queue with the given
	// entries; an empty slice clears it.
	Replace(ctx context.Context, address string, actions []PendingAction) error
}

// LockManager provides distributed locking. The orchestrator holds a lock
// per wallet while an action is in flight so concurrent submissions never
// race on the nonce.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting for the API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
