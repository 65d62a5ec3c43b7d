package position

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clearhedge/futuresd/internal/domain"
)

var (
	testDebt = domain.Currency{ID: "0xasset", Symbol: "sTSLA", Decimals: 18, PriceFeedID: "0xfeed1"}
	testColl = domain.Currency{ID: "0xusdc", Symbol: "USDC", Decimals: 6}
)

func units(t *testing.T, s string, decimals int32) *big.Int {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d.Shift(decimals).BigInt()
}

func testAsset() domain.Asset {
	return domain.Asset{
		ID:                   "0xasset",
		Currency:             testDebt,
		Collateral:           testColl,
		Expiration:           time.Now().Add(24 * time.Hour),
		MaxLTV:               700_000,
		LiquidationThreshold: 800_000,
		LTVPrecision:         1_000_000,
		MinDebt:              big.NewInt(1e17), // 0.1 debt units
	}
}

func testSnapshot(assets ...domain.Asset) domain.Snapshot {
	return domain.Snapshot{
		Assets:       assets,
		Prices:       map[string]decimal.Decimal{"0xfeed1": decimal.NewFromInt(150)},
		IndexedBlock: 100,
		UpdatedAt:    time.Now(),
	}
}

// --- fakes ---

type fakeSnapshots struct {
	mu   sync.Mutex
	snap domain.Snapshot
}

func (f *fakeSnapshots) Current() domain.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// fakeVault implements domain.VaultEncoder and domain.VaultReader. Encoded
// legs are readable tags so tests can assert on ordering.
type fakeVault struct {
	mu         sync.Mutex
	balances   map[string]*big.Int
	fee        *big.Int
	multicalls [][][]byte
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		balances: map[string]*big.Int{},
		fee:      big.NewInt(1),
	}
}

func leg(op string, amount *big.Int) []byte {
	if amount == nil {
		return []byte(op)
	}
	return []byte(fmt.Sprintf("%s:%s", op, amount))
}

func (f *fakeVault) Deposit(assetID, to string, amount *big.Int) ([]byte, error) {
	return leg("deposit", amount), nil
}
func (f *fakeVault) Mint(assetID, to string, amount *big.Int) ([]byte, error) {
	return leg("mint", amount), nil
}
func (f *fakeVault) Burn(assetID, to string, amount *big.Int) ([]byte, error) {
	return leg("burn", amount), nil
}
func (f *fakeVault) Withdraw(assetID, to string, amount *big.Int) ([]byte, error) {
	return leg("withdraw", amount), nil
}
func (f *fakeVault) Settle(assetID string) ([]byte, error) {
	return leg("settle", nil), nil
}
func (f *fakeVault) Close(assetID, to string, minCollateralOut *big.Int) ([]byte, error) {
	return leg("close", minCollateralOut), nil
}
func (f *fakeVault) Redeem(assetID, to string, amount, minCollateralOut *big.Int) ([]byte, error) {
	return leg("redeem", amount), nil
}
func (f *fakeVault) UpdateOracle(update [][]byte) ([]byte, error) {
	return leg("oracle", nil), nil
}

func (f *fakeVault) Multicall(calls [][]byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multicalls = append(f.multicalls, calls)
	return leg("multicall", nil), nil
}

func (f *fakeVault) Address() string { return "0xvault" }

func (f *fakeVault) UpdateFee(ctx context.Context, update [][]byte) (*big.Int, error) {
	return f.fee, nil
}

func (f *fakeVault) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeVault) setBalance(token string, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[token] = amount
}

func (f *fakeVault) lastMulticall() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.multicalls) == 0 {
		return nil
	}
	return f.multicalls[len(f.multicalls)-1]
}

type fakeOracle struct {
	mu     sync.Mutex
	update [][]byte
	err    error
	calls  int
}

func (f *fakeOracle) PriceUpdateData(ctx context.Context, feedIDs []string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.update, nil
}

func (f *fakeOracle) LatestPrices(ctx context.Context, feedIDs []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}

type fakeSender struct {
	mu      sync.Mutex
	sim     domain.SimulationResult
	simErr  error
	sendErr error
	sent    []domain.Call
	receipt domain.TxReceipt
	waitErr error
	// gate, when set, holds WaitMined until closed so tests can observe the
	// pre-confirmation state.
	gate chan struct{}
}

func (f *fakeSender) Simulate(ctx context.Context, call domain.Call) (domain.SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sim, f.simErr
}

func (f *fakeSender) Send(ctx context.Context, call domain.Call) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, call)
	return fmt.Sprintf("0xtx%d", len(f.sent)), nil
}

func (f *fakeSender) WaitMined(ctx context.Context, txHash string) (domain.TxReceipt, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return domain.TxReceipt{}, f.waitErr
	}
	r := f.receipt
	r.TxHash = txHash
	return r, nil
}

func (f *fakeSender) From() string { return "0xoperator" }

func (f *fakeSender) sentCalls() []domain.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Call(nil), f.sent...)
}

type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquired []string
	released int
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
	}, nil
}

type fakePendingStore struct {
	mu     sync.Mutex
	queues map[string][]domain.PendingAction
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{queues: map[string][]domain.PendingAction{}}
}

func (f *fakePendingStore) Add(ctx context.Context, address string, action domain.PendingAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[address] = append(f.queues[address], action)
	return nil
}

func (f *fakePendingStore) List(ctx context.Context, address string) ([]domain.PendingAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PendingAction(nil), f.queues[address]...), nil
}

func (f *fakePendingStore) Replace(ctx context.Context, address string, actions []domain.PendingAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[address] = append([]domain.PendingAction(nil), actions...)
	return nil
}

type fakeHistory struct {
	mu   sync.Mutex
	recs []domain.TxRecord
}

func (f *fakeHistory) Insert(ctx context.Context, rec domain.TxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeHistory) UpdateStatus(ctx context.Context, txHash string, status domain.TxStatus, block, gasUsed uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recs {
		if f.recs[i].TxHash == txHash {
			f.recs[i].Status = status
			f.recs[i].Block = block
			f.recs[i].GasUsed = gasUsed
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeHistory) GetByHash(ctx context.Context, txHash string) (domain.TxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.TxHash == txHash {
			return r, nil
		}
	}
	return domain.TxRecord{}, domain.ErrNotFound
}

func (f *fakeHistory) ListByAddress(ctx context.Context, address string, status domain.TxStatus, opts domain.ListOpts) ([]domain.TxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TxRecord
	for _, r := range f.recs {
		if r.Address == address && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHistory) ListConfirmedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TxRecord, error) {
	return nil, nil
}

func (f *fakeHistory) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	return 0, nil
}

func (f *fakeHistory) records() []domain.TxRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TxRecord(nil), f.recs...)
}

// --- harness ---

type orchFixture struct {
	orch      *Orchestrator
	snapshots *fakeSnapshots
	vault     *fakeVault
	oracle    *fakeOracle
	sender    *fakeSender
	locks     *fakeLocks
	pending   *fakePendingStore
	history   *fakeHistory
}

func newOrchFixture(t *testing.T, snap domain.Snapshot) *orchFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	f := &orchFixture{
		snapshots: &fakeSnapshots{snap: snap},
		vault:     newFakeVault(),
		oracle:    &fakeOracle{update: [][]byte{[]byte("signed-update")}},
		sender:    &fakeSender{receipt: domain.TxReceipt{Block: 123, GasUsed: 50_000, Success: true}},
		locks:     &fakeLocks{},
		pending:   newFakePendingStore(),
		history:   &fakeHistory{},
	}

	builder := NewTxBuilder(f.vault, f.vault, f.oracle, logger)
	f.orch = NewOrchestrator(f.snapshots, builder, f.sender, f.vault, f.locks, f.pending, f.history, logger)
	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// --- adjust validation ---

func TestAdjust_UnknownAsset(t *testing.T) {
	f := newOrchFixture(t, testSnapshot())

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:   "0xmissing",
		DebtDelta: big.NewInt(1),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdjust_ZeroDeltas(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{AssetID: "0xasset"})
	require.ErrorIs(t, err, domain.ErrZeroAmount)
	require.Empty(t, f.sender.sentCalls())
}

func TestAdjust_BelowMinDebt(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "1000", 6))

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "1000", 6),
		DebtDelta:       units(t, "0.05", 18), // below the 0.1 floor
	})
	require.ErrorIs(t, err, domain.ErrBelowMinDebt)
}

func TestAdjust_ExceedsMaxLTV(t *testing.T) {
	// 1000 USDC at $1 against sTSLA at $150 with 70% maxLTV caps debt at
	// ~4.667 units; borrowing 5 must be rejected.
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "1000", 6))

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "1000", 6),
		DebtDelta:       units(t, "5", 18),
	})
	require.ErrorIs(t, err, domain.ErrExceedsMaxLTV)
}

func TestAdjust_PriceUnavailable(t *testing.T) {
	snap := testSnapshot(testAsset())
	snap.Prices = map[string]decimal.Decimal{}
	f := newOrchFixture(t, snap)

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "1000", 6),
		DebtDelta:       units(t, "1", 18),
	})
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestAdjust_MarketClosed(t *testing.T) {
	asset := testAsset()
	asset.Hours = domain.TradingHours{OpenMinuteUTC: 13*60 + 30, CloseMinuteUTC: 20 * 60, WeekendClosed: true}
	asset.Expiration = time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)

	f := newOrchFixture(t, testSnapshot(asset))
	f.vault.setBalance(testColl.ID, units(t, "1000", 6))
	// Saturday.
	f.orch.now = func() time.Time {
		return time.Date(2026, time.August, 29, 15, 0, 0, 0, time.UTC)
	}

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "1000", 6),
		DebtDelta:       units(t, "1", 18),
	})
	require.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestAdjust_RepayIgnoresMarketHours(t *testing.T) {
	asset := testAsset()
	asset.Hours = domain.TradingHours{OpenMinuteUTC: 13*60 + 30, CloseMinuteUTC: 20 * 60, WeekendClosed: true}
	asset.Expiration = time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)

	snap := testSnapshot(asset)
	snap.Positions = []domain.Position{{
		AssetID:          asset.ID,
		Owner:            "0xowner",
		CollateralAmount: units(t, "1000", 6),
		DebtAmount:       units(t, "2", 18),
	}}

	f := newOrchFixture(t, snap)
	f.vault.setBalance(asset.ID, units(t, "2", 18))
	f.orch.now = func() time.Time {
		return time.Date(2026, time.August, 29, 15, 0, 0, 0, time.UTC)
	}

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:   "0xasset",
		DebtDelta: units(t, "-1", 18),
	})
	require.NoError(t, err)
	f.orch.Wait()
}

func TestAdjust_ExpiredAssetBlocksGrowth(t *testing.T) {
	asset := testAsset()
	asset.Expiration = time.Now().Add(-time.Hour)

	f := newOrchFixture(t, testSnapshot(asset))
	f.vault.setBalance(testColl.ID, units(t, "1000", 6))

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "100", 6),
	})
	require.ErrorIs(t, err, domain.ErrAssetExpired)
}

func TestAdjust_ExpiredAssetAllowsUnwind(t *testing.T) {
	asset := testAsset()
	asset.Expiration = time.Now().Add(-time.Hour)

	snap := testSnapshot(asset)
	snap.Positions = []domain.Position{{
		AssetID:          asset.ID,
		Owner:            "0xowner",
		CollateralAmount: units(t, "1000", 6),
		DebtAmount:       units(t, "2", 18),
	}}

	f := newOrchFixture(t, snap)
	f.vault.setBalance(asset.ID, units(t, "2", 18))

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:   "0xasset",
		DebtDelta: units(t, "-2", 18),
	})
	require.NoError(t, err)
	f.orch.Wait()
}

func TestAdjust_SettledAssetRejected(t *testing.T) {
	asset := testAsset()
	asset.SettlePrice = decimal.NewFromInt(150)

	f := newOrchFixture(t, testSnapshot(asset))

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:   "0xasset",
		DebtDelta: units(t, "-1", 18),
	})
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestAdjust_InsufficientDepositBalance(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "500", 6))

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "1000", 6),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestAdjust_WithdrawExceedsCollateral(t *testing.T) {
	snap := testSnapshot(testAsset())
	snap.Positions = []domain.Position{{
		AssetID:          "0xasset",
		Owner:            "0xowner",
		CollateralAmount: units(t, "100", 6),
		DebtAmount:       new(big.Int),
	}}
	f := newOrchFixture(t, snap)

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "-200", 6),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientCollateral)
}

// --- submission ---

func TestAdjust_BorrowSubmitsAndConfirms(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "2000", 6))
	gate := make(chan struct{})
	f.sender.gate = gate

	rec, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "1000", 6),
		DebtDelta:       units(t, "2", 18),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusPending, rec.Status)
	require.Equal(t, domain.ActionBorrow, rec.Action)
	require.NotEmpty(t, rec.TxHash)

	sent := f.sender.sentCalls()
	require.Len(t, sent, 1)
	require.Equal(t, "0xvault", sent[0].To)
	require.Equal(t, big.NewInt(1), sent[0].Value, "oracle fee must ride as call value")

	// Wallet lock taken and released.
	require.Equal(t, []string{"0xowner"}, f.locks.acquired)

	// Pending queue got the entry.
	pending, err := f.pending.List(context.Background(), "0xowner")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.ActionBorrow, pending[0].Type)
	require.Equal(t, "0xasset", pending[0].CurrencyID)
	require.Equal(t, rec.TxHash, pending[0].TxHash)
	require.Zero(t, pending[0].Block, "inclusion block unknown at submission")

	// Background confirm updates history and stamps the pending block.
	close(gate)
	f.orch.Wait()

	recs := f.history.records()
	require.Len(t, recs, 1)
	require.Equal(t, domain.TxStatusConfirmed, recs[0].Status)
	require.Equal(t, uint64(123), recs[0].Block)

	pending, err = f.pending.List(context.Background(), "0xowner")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, uint64(123), pending[0].Block)
}

func TestAdjust_FailedReceiptMarksHistory(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "100", 6))
	f.sender.receipt = domain.TxReceipt{Block: 200, Success: false}

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "100", 6),
	})
	require.NoError(t, err)
	f.orch.Wait()

	recs := f.history.records()
	require.Len(t, recs, 1)
	require.Equal(t, domain.TxStatusFailed, recs[0].Status)
}

func TestSubmit_BlockingSimulationStops(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "100", 6))
	f.sender.sim = domain.SimulationResult{Status: domain.SimMarketClosed}

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "100", 6),
	})
	require.ErrorIs(t, err, domain.ErrMarketClosed)
	require.Empty(t, f.sender.sentCalls())
}

func TestSubmit_SimulationErrorProceeds(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "100", 6))
	f.sender.simErr = fmt.Errorf("rpc timeout")

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "100", 6),
	})
	require.NoError(t, err)
	require.Len(t, f.sender.sentCalls(), 1)
	f.orch.Wait()
}

func TestSubmit_UnclassifiedRevertProceeds(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "100", 6))
	f.sender.sim = domain.SimulationResult{Status: domain.SimOther, Detail: "0xdeadbeef"}

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "100", 6),
	})
	require.NoError(t, err)
	require.Len(t, f.sender.sentCalls(), 1)
	f.orch.Wait()
}

func TestSubmit_LockHeld(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))
	f.vault.setBalance(testColl.ID, units(t, "100", 6))
	f.locks.held = true

	_, err := f.orch.Adjust(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "100", 6),
	})
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.Empty(t, f.sender.sentCalls())
}

// --- repay all ---

func TestRepayAll(t *testing.T) {
	snap := testSnapshot(testAsset())
	snap.Positions = []domain.Position{{
		AssetID:          "0xasset",
		Owner:            "0xowner",
		CollateralAmount: units(t, "1000", 6),
		DebtAmount:       units(t, "2", 18),
	}}
	f := newOrchFixture(t, snap)
	f.vault.setBalance("0xasset", units(t, "2", 18))

	rec, err := f.orch.RepayAll(context.Background(), "0xowner", "0xasset")
	require.NoError(t, err)
	require.Equal(t, domain.ActionRepayAll, rec.Action)
	f.orch.Wait()

	// Full close: the entire debt is burned and the entire collateral
	// withdrawn in one bundle, burn first.
	calls := f.vault.lastMulticall()
	require.Len(t, calls, 3)
	require.Equal(t, "oracle", string(calls[0]))
	require.Equal(t, "burn:2000000000000000000", string(calls[1]))
	require.Equal(t, "withdraw:1000000000", string(calls[2]))
}

func TestRepayAll_IgnoresPricesAndHours(t *testing.T) {
	// A full unwind ends at zero exposure, so it must not be gated on
	// price availability or the trading window.
	asset := testAsset()
	asset.Hours = domain.TradingHours{OpenMinuteUTC: 13*60 + 30, CloseMinuteUTC: 20 * 60, WeekendClosed: true}
	asset.Expiration = time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)

	snap := testSnapshot(asset)
	snap.Prices = map[string]decimal.Decimal{}
	snap.Positions = []domain.Position{{
		AssetID:          asset.ID,
		Owner:            "0xowner",
		CollateralAmount: units(t, "1000", 6),
		DebtAmount:       units(t, "2", 18),
	}}

	f := newOrchFixture(t, snap)
	f.vault.setBalance(asset.ID, units(t, "2", 18))
	// Saturday, market closed.
	f.orch.now = func() time.Time {
		return time.Date(2026, time.August, 29, 15, 0, 0, 0, time.UTC)
	}

	_, err := f.orch.RepayAll(context.Background(), "0xowner", "0xasset")
	require.NoError(t, err)
	f.orch.Wait()
}

func TestRepayAll_NoDebt(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))

	_, err := f.orch.RepayAll(context.Background(), "0xowner", "0xasset")
	require.ErrorIs(t, err, domain.ErrZeroAmount)
}

// --- settle / close / redeem lifecycle ---

func TestSettle_Lifecycle(t *testing.T) {
	active := testAsset()

	expired := testAsset()
	expired.ID = "0xexpired"
	expired.Currency.ID = "0xexpired"
	expired.Expiration = time.Now().Add(-time.Hour)

	settled := testAsset()
	settled.ID = "0xsettled"
	settled.SettlePrice = decimal.NewFromInt(150)

	f := newOrchFixture(t, testSnapshot(active, expired, settled))

	_, err := f.orch.Settle(context.Background(), "0xoperator", "0xasset")
	require.ErrorIs(t, err, domain.ErrAssetNotExpired)

	_, err = f.orch.Settle(context.Background(), "0xoperator", "0xsettled")
	require.ErrorIs(t, err, domain.ErrAlreadySettled)

	rec, err := f.orch.Settle(context.Background(), "0xoperator", "0xexpired")
	require.NoError(t, err)
	require.Equal(t, domain.ActionSettle, rec.Action)
	f.orch.Wait()
}

func TestClose_RequiresSettlement(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))

	_, err := f.orch.Close(context.Background(), "0xowner", "0xasset", nil)
	require.ErrorIs(t, err, domain.ErrNotSettled)
}

func TestClose_RequiresPosition(t *testing.T) {
	asset := testAsset()
	asset.SettlePrice = decimal.NewFromInt(150)
	f := newOrchFixture(t, testSnapshot(asset))

	_, err := f.orch.Close(context.Background(), "0xowner", "0xasset", nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClose_Submits(t *testing.T) {
	asset := testAsset()
	asset.SettlePrice = decimal.NewFromInt(150)

	snap := testSnapshot(asset)
	snap.Positions = []domain.Position{{
		AssetID:          "0xasset",
		Owner:            "0xowner",
		CollateralAmount: units(t, "1000", 6),
		DebtAmount:       units(t, "2", 18),
	}}
	f := newOrchFixture(t, snap)

	rec, err := f.orch.Close(context.Background(), "0xowner", "0xasset", units(t, "600", 6))
	require.NoError(t, err)
	require.Equal(t, domain.ActionClose, rec.Action)
	f.orch.Wait()

	// Settlement froze the rate, so the close goes out bare.
	sent := f.sender.sentCalls()
	require.Len(t, sent, 1)
	require.Equal(t, "close:600000000", string(sent[0].Data))
	require.Nil(t, sent[0].Value)
}

func TestRedeem_Validation(t *testing.T) {
	asset := testAsset()
	asset.SettlePrice = decimal.NewFromInt(150)
	snap := testSnapshot(asset, testAssetWithID("0xactive"))
	snap.Positions = []domain.Position{{
		AssetID:          "0xasset",
		Owner:            "0xdebtor",
		CollateralAmount: units(t, "1000", 6),
		DebtAmount:       units(t, "2", 18),
	}}
	f := newOrchFixture(t, snap)

	_, err := f.orch.Redeem(context.Background(), "0xholder", "0xasset", nil, nil)
	require.ErrorIs(t, err, domain.ErrZeroAmount)

	_, err = f.orch.Redeem(context.Background(), "0xholder", "0xactive", big.NewInt(1), nil)
	require.ErrorIs(t, err, domain.ErrNotSettled)

	// An owner with open debt must close, not redeem, even when the wallet
	// holds enough tokens.
	f.vault.setBalance("0xasset", units(t, "5", 18))
	_, err = f.orch.Redeem(context.Background(), "0xdebtor", "0xasset", units(t, "1", 18), nil)
	require.ErrorIs(t, err, domain.ErrDebtOutstanding)

	// Holder owns 1 token, tries to redeem 2.
	f.vault.setBalance("0xasset", units(t, "1", 18))
	_, err = f.orch.Redeem(context.Background(), "0xholder", "0xasset", units(t, "2", 18), nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	rec, err := f.orch.Redeem(context.Background(), "0xholder", "0xasset", units(t, "1", 18), nil)
	require.NoError(t, err)
	require.Equal(t, domain.ActionRedeem, rec.Action)
	f.orch.Wait()
}

func testAssetWithID(id string) domain.Asset {
	a := testAsset()
	a.ID = id
	a.Currency.ID = id
	return a
}

// --- preview ---

func TestPreview_SkipsBalanceCheck(t *testing.T) {
	// Wallet holds nothing; previews must still render.
	f := newOrchFixture(t, testSnapshot(testAsset()))

	conf, projected, err := f.orch.Preview(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "1000", 6),
		DebtDelta:       units(t, "2", 18),
	})
	require.NoError(t, err)
	require.Equal(t, "Adjust sTSLA position", conf.Title)
	require.Len(t, conf.Lines, 2)
	require.Equal(t, "Deposit 1000 USDC", conf.Lines[0])
	require.Equal(t, "Borrow 2 sTSLA", conf.Lines[1])

	// 2 * $150 / $1000 = 30% LTV on the projected position.
	require.True(t, projected.LTV.Equal(decimal.NewFromInt(30)), "got %s", projected.LTV)
	require.NotNil(t, projected.MaxLoanable)

	// Nothing submitted.
	require.Empty(t, f.sender.sentCalls())
	require.Empty(t, f.history.records())
}

func TestPreview_StillValidatesRisk(t *testing.T) {
	f := newOrchFixture(t, testSnapshot(testAsset()))

	_, _, err := f.orch.Preview(context.Background(), "0xowner", domain.AdjustRequest{
		AssetID:         "0xasset",
		CollateralDelta: units(t, "1000", 6),
		DebtDelta:       units(t, "5", 18),
	})
	require.ErrorIs(t, err, domain.ErrExceedsMaxLTV)
}

func TestPrimaryAction(t *testing.T) {
	cases := []struct {
		name string
		req  domain.AdjustRequest
		want domain.ActionType
	}{
		{"borrow wins", domain.AdjustRequest{CollateralDelta: big.NewInt(1), DebtDelta: big.NewInt(1)}, domain.ActionBorrow},
		{"withdraw over repay", domain.AdjustRequest{CollateralDelta: big.NewInt(-1), DebtDelta: big.NewInt(-1)}, domain.ActionRemoveCollateral},
		{"repay", domain.AdjustRequest{DebtDelta: big.NewInt(-1)}, domain.ActionRepay},
		{"deposit", domain.AdjustRequest{CollateralDelta: big.NewInt(1)}, domain.ActionAddCollateral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, primaryAction(tc.req))
		})
	}
}
