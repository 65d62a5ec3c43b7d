package snapshot

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clearhedge/futuresd/internal/domain"
)

func TestStore_Empty(t *testing.T) {
	s := New()
	snap := s.Current()
	require.Empty(t, snap.Assets)
	require.Empty(t, snap.Positions)
	require.NotNil(t, snap.Prices)
	require.True(t, snap.UpdatedAt.IsZero())
}

func TestStore_SectionsReplaceIndependently(t *testing.T) {
	s := New()

	s.UpdateAssets([]domain.Asset{{ID: "0xa"}})
	s.UpdatePositions([]domain.Position{{AssetID: "0xa", Owner: "0xowner"}}, 42)

	snap := s.Current()
	require.Len(t, snap.Assets, 1)
	require.Len(t, snap.Positions, 1)
	require.Equal(t, uint64(42), snap.IndexedBlock)
	require.False(t, snap.UpdatedAt.IsZero())

	// Replacing assets leaves positions and the indexed block alone.
	s.UpdateAssets([]domain.Asset{{ID: "0xa"}, {ID: "0xb"}})
	snap = s.Current()
	require.Len(t, snap.Assets, 2)
	require.Len(t, snap.Positions, 1)
	require.Equal(t, uint64(42), snap.IndexedBlock)
}

func TestStore_PricesMerge(t *testing.T) {
	s := New()

	s.UpdatePrices(map[string]decimal.Decimal{
		"feed-a": decimal.NewFromInt(150),
		"feed-b": decimal.NewFromInt(2),
	})
	s.UpdatePrices(map[string]decimal.Decimal{
		"feed-a": decimal.NewFromInt(155),
	})

	snap := s.Current()
	require.True(t, snap.Prices["feed-a"].Equal(decimal.NewFromInt(155)))
	// Feeds absent from an update keep their previous value.
	require.True(t, snap.Prices["feed-b"].Equal(decimal.NewFromInt(2)))
}

func TestStore_SubscribeReceivesUpdates(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.UpdateAssets([]domain.Asset{{ID: "0xa"}})

	select {
	case snap := <-ch:
		require.Len(t, snap.Assets, 1)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestStore_SlowSubscriberKeepsNewest(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	// Two updates without a read in between; the buffered slot must hold
	// the newest snapshot, not the first.
	s.UpdatePositions(nil, 1)
	s.UpdatePositions(nil, 2)

	select {
	case snap := <-ch:
		require.Equal(t, uint64(2), snap.IndexedBlock)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestStore_CancelStopsDelivery(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	cancel()

	s.UpdateAssets([]domain.Asset{{ID: "0xa"}})

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("cancelled subscription still receiving")
		}
	default:
	}
}
