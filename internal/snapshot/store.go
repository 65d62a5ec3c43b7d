// Package snapshot holds the in-memory market view shared by the pollers,
// the orchestrator, and the API surface.
package snapshot

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearhedge/futuresd/internal/domain"
)

// Store keeps the latest snapshot behind a RWMutex and fans updates out to
// subscribers. Writers replace whole sections; readers get a value copy and
// must not mutate the slices inside it.
type Store struct {
	mu   sync.RWMutex
	snap domain.Snapshot
	subs map[chan domain.Snapshot]struct{}
	now  func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		snap: domain.Snapshot{Prices: map[string]decimal.Decimal{}},
		subs: make(map[chan domain.Snapshot]struct{}),
		now:  time.Now,
	}
}

// Current returns the latest snapshot.
func (s *Store) Current() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// UpdateAssets replaces the asset section.
func (s *Store) UpdateAssets(assets []domain.Asset) {
	s.mu.Lock()
	s.snap.Assets = assets
	s.snap.UpdatedAt = s.now()
	snap := s.snap
	s.mu.Unlock()

	s.broadcast(snap)
}

// UpdatePositions replaces the position section and the indexer height the
// positions were read at.
func (s *Store) UpdatePositions(positions []domain.Position, indexedBlock uint64) {
	s.mu.Lock()
	s.snap.Positions = positions
	s.snap.IndexedBlock = indexedBlock
	s.snap.UpdatedAt = s.now()
	snap := s.snap
	s.mu.Unlock()

	s.broadcast(snap)
}

// UpdatePrices merges fresh prices into the price section. Feeds absent from
// the update keep their previous value.
func (s *Store) UpdatePrices(prices map[string]decimal.Decimal) {
	s.mu.Lock()
	merged := make(map[string]decimal.Decimal, len(s.snap.Prices)+len(prices))
	for id, p := range s.snap.Prices {
		merged[id] = p
	}
	for id, p := range prices {
		merged[id] = p
	}
	s.snap.Prices = merged
	s.snap.UpdatedAt = s.now()
	snap := s.snap
	s.mu.Unlock()

	s.broadcast(snap)
}

// Subscribe registers for snapshot updates. The returned cancel func must be
// called to release the subscription.
func (s *Store) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
	return ch, cancel
}

// broadcast pushes the snapshot to every subscriber without blocking. A slow
// subscriber keeps only the newest value.
func (s *Store) broadcast(snap domain.Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
