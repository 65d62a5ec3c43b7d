package pending

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearhedge/futuresd/internal/domain"
)

type memStore struct {
	queues   map[string][]domain.PendingAction
	replaced int
}

func newMemStore() *memStore {
	return &memStore{queues: map[string][]domain.PendingAction{}}
}

func (m *memStore) Add(ctx context.Context, address string, action domain.PendingAction) error {
	m.queues[address] = append(m.queues[address], action)
	return nil
}

func (m *memStore) List(ctx context.Context, address string) ([]domain.PendingAction, error) {
	return append([]domain.PendingAction(nil), m.queues[address]...), nil
}

func (m *memStore) Replace(ctx context.Context, address string, actions []domain.PendingAction) error {
	m.replaced++
	m.queues[address] = append([]domain.PendingAction(nil), actions...)
	return nil
}

type memHistory struct {
	recs map[string]domain.TxRecord
	err  error
}

func newMemHistory() *memHistory {
	return &memHistory{recs: map[string]domain.TxRecord{}}
}

func (m *memHistory) Insert(ctx context.Context, rec domain.TxRecord) error {
	m.recs[rec.TxHash] = rec
	return nil
}

func (m *memHistory) UpdateStatus(ctx context.Context, txHash string, status domain.TxStatus, block, gasUsed uint64) error {
	rec := m.recs[txHash]
	rec.Status = status
	rec.Block = block
	m.recs[txHash] = rec
	return nil
}

func (m *memHistory) GetByHash(ctx context.Context, txHash string) (domain.TxRecord, error) {
	if m.err != nil {
		return domain.TxRecord{}, m.err
	}
	rec, ok := m.recs[txHash]
	if !ok {
		return domain.TxRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memHistory) ListByAddress(ctx context.Context, address string, status domain.TxStatus, opts domain.ListOpts) ([]domain.TxRecord, error) {
	return nil, nil
}

func (m *memHistory) ListConfirmedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TxRecord, error) {
	return nil, nil
}

func (m *memHistory) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	return 0, nil
}

func newTestReconciler(t *testing.T, store *memStore, history *memHistory) *Reconciler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewReconciler(store, history, logger)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

const addr = "0xowner"

func entry(hash string, block uint64, age time.Duration) domain.PendingAction {
	return domain.PendingAction{
		Type:        domain.ActionBorrow,
		CurrencyID:  "0xasset",
		TxHash:      hash,
		Block:       block,
		SubmittedAt: time.Now().Add(-age),
	}
}

func TestReconcile_EmptyQueue(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(t, store, newMemHistory())

	kept, err := r.Reconcile(context.Background(), addr, 100)
	require.NoError(t, err)
	require.Empty(t, kept)
	require.Zero(t, store.replaced, "nothing to prune, nothing to write")
}

func TestReconcile_RetiresIndexedEntries(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Add(context.Background(), addr, entry("0xa", 90, time.Minute)))
	require.NoError(t, store.Add(context.Background(), addr, entry("0xb", 110, time.Minute)))
	r := newTestReconciler(t, store, newMemHistory())

	kept, err := r.Reconcile(context.Background(), addr, 100)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.Equal(t, "0xb", kept[0].TxHash, "indexer has not reached block 110 yet")
	require.Equal(t, 1, store.replaced)
}

func TestReconcile_RetiresFailedTx(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Add(context.Background(), addr, entry("0xfail", 0, time.Minute)))
	history := newMemHistory()
	require.NoError(t, history.Insert(context.Background(), domain.TxRecord{
		TxHash: "0xfail",
		Status: domain.TxStatusFailed,
	}))
	r := newTestReconciler(t, store, history)

	kept, err := r.Reconcile(context.Background(), addr, 100)
	require.NoError(t, err)
	require.Empty(t, kept)
}

func TestReconcile_ConfirmedWaitsForIndexer(t *testing.T) {
	// A confirmed tx keeps its pending entry until the indexer reaches the
	// inclusion block; pending state bridges the indexing lag.
	store := newMemStore()
	require.NoError(t, store.Add(context.Background(), addr, entry("0xc", 0, time.Minute)))
	history := newMemHistory()
	require.NoError(t, history.Insert(context.Background(), domain.TxRecord{
		TxHash: "0xc",
		Status: domain.TxStatusConfirmed,
		Block:  150,
	}))
	r := newTestReconciler(t, store, history)

	kept, err := r.Reconcile(context.Background(), addr, 140)
	require.NoError(t, err)
	require.Len(t, kept, 1)

	kept, err = r.Reconcile(context.Background(), addr, 150)
	require.NoError(t, err)
	require.Empty(t, kept)
}

func TestReconcile_RetiresTimedOutEntries(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Add(context.Background(), addr, entry("0xold", 0, domain.PendingTimeout+time.Minute)))
	require.NoError(t, store.Add(context.Background(), addr, entry("0xnew", 0, time.Minute)))
	r := newTestReconciler(t, store, newMemHistory())

	kept, err := r.Reconcile(context.Background(), addr, 0)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.Equal(t, "0xnew", kept[0].TxHash)
}

func TestReconcile_HistoryLookupFailureKeepsEntry(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Add(context.Background(), addr, entry("0xa", 0, time.Minute)))
	history := newMemHistory()
	history.err = fmt.Errorf("connection refused")
	r := newTestReconciler(t, store, history)

	kept, err := r.Reconcile(context.Background(), addr, 100)
	require.NoError(t, err)
	require.Len(t, kept, 1, "unknown is not retired")
}
