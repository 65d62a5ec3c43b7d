package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/clearhedge/futuresd/internal/domain"
)

// PendingStore implements domain.PendingStore. Each address's in-flight
// actions live as one JSON-encoded list under a single key, so the queue is
// always read and rewritten as a whole.
type PendingStore struct {
	rdb *redis.Client
}

// NewPendingStore creates a PendingStore backed by the given Client.
func NewPendingStore(c *Client) *PendingStore {
	return &PendingStore{rdb: c.Underlying()}
}

func pendingKey(address string) string {
	return "pending-futures-positions-currencies-for-" + strings.ToLower(address)
}

// Add appends an action to the address's pending queue.
func (ps *PendingStore) Add(ctx context.Context, address string, action domain.PendingAction) error {
	actions, err := ps.List(ctx, address)
	if err != nil {
		return err
	}
	return ps.Replace(ctx, address, append(actions, action))
}

// List returns the address's pending queue. A missing key is an empty queue,
// not an error.
func (ps *PendingStore) List(ctx context.Context, address string) ([]domain.PendingAction, error) {
	raw, err := ps.rdb.Get(ctx, pendingKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: list pending %s: %w", address, err)
	}

	var actions []domain.PendingAction
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, fmt.Errorf("redis: decode pending %s: %w", address, err)
	}
	return actions, nil
}

// Replace overwrites the address's queue with the given entries. An empty
// slice deletes the key so abandoned addresses leave nothing behind.
func (ps *PendingStore) Replace(ctx context.Context, address string, actions []domain.PendingAction) error {
	key := pendingKey(address)

	if len(actions) == 0 {
		if err := ps.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis: clear pending %s: %w", address, err)
		}
		return nil
	}

	raw, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("redis: encode pending %s: %w", address, err)
	}
	// TTL is twice the force-expiry horizon; the reconciler prunes entries
	// well before Redis would.
	if err := ps.rdb.Set(ctx, key, raw, 2*domain.PendingTimeout).Err(); err != nil {
		return fmt.Errorf("redis: replace pending %s: %w", address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PendingStore = (*PendingStore)(nil)
