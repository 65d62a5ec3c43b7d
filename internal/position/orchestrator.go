// Package position orchestrates the lifecycle of collateralized futures
// positions: validation, transaction assembly, pre-flight simulation, and
// submission through the operator wallet.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/market"
	"github.com/clearhedge/futuresd/internal/risk"
)

const (
	// walletLockTTL bounds how long a wallet's action lock can outlive a
	// crashed submission.
	walletLockTTL = 2 * time.Minute
	// confirmTimeout bounds the background receipt wait per transaction.
	confirmTimeout = 10 * time.Minute
)

// SnapshotSource provides the current market snapshot.
type SnapshotSource interface {
	Current() domain.Snapshot
}

// Orchestrator validates position changes and drives them on-chain. All
// operations submit asynchronously: the returned record is in status pending
// and a background wait updates it once the transaction lands.
type Orchestrator struct {
	snapshots SnapshotSource
	builder   *TxBuilder
	sender    domain.TxSender
	reader    domain.VaultReader
	locks     domain.LockManager
	pending   domain.PendingStore
	history   domain.TxHistoryStore
	logger    *slog.Logger

	now func() time.Time
	wg  sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator with all required dependencies.
func NewOrchestrator(
	snapshots SnapshotSource,
	builder *TxBuilder,
	sender domain.TxSender,
	reader domain.VaultReader,
	locks domain.LockManager,
	pending domain.PendingStore,
	history domain.TxHistoryStore,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		snapshots: snapshots,
		builder:   builder,
		sender:    sender,
		reader:    reader,
		locks:     locks,
		pending:   pending,
		history:   history,
		logger:    logger.With(slog.String("component", "orchestrator")),
		now:       time.Now,
	}
}

// Wait blocks until all background receipt waits have finished. Called on
// shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Adjust validates and submits a collateral/debt adjustment for the owner.
func (o *Orchestrator) Adjust(ctx context.Context, owner string, req domain.AdjustRequest) (domain.TxRecord, error) {
	return o.adjust(ctx, owner, req, primaryAction(req))
}

// RepayAll burns the owner's entire outstanding debt and withdraws all
// remaining collateral in one bundle, leaving the vault empty. Unlike a
// partial repay it can never trip the debt floor because the remaining debt
// is exactly zero.
func (o *Orchestrator) RepayAll(ctx context.Context, owner, assetID string) (domain.TxRecord, error) {
	snap := o.snapshots.Current()
	pos, ok := snap.PositionFor(owner, assetID)
	if !ok || pos.Debt().Sign() == 0 {
		return domain.TxRecord{}, fmt.Errorf("position: repay all %s: %w", assetID, domain.ErrZeroAmount)
	}

	req := domain.AdjustRequest{
		AssetID:         assetID,
		CollateralDelta: new(big.Int).Neg(pos.Collateral()),
		DebtDelta:       new(big.Int).Neg(pos.Debt()),
	}
	return o.adjust(ctx, owner, req, domain.ActionRepayAll)
}

// Settle records the settlement price for an expired asset. Anyone may call
// it; the vault accepts the first successful settlement and rejects the rest.
func (o *Orchestrator) Settle(ctx context.Context, owner, assetID string) (domain.TxRecord, error) {
	snap := o.snapshots.Current()
	asset, ok := snap.AssetByID(assetID)
	if !ok {
		return domain.TxRecord{}, fmt.Errorf("position: settle %s: %w", assetID, domain.ErrNotFound)
	}

	switch asset.State(o.now()) {
	case domain.AssetActive:
		return domain.TxRecord{}, fmt.Errorf("position: settle %s: %w", assetID, domain.ErrAssetNotExpired)
	case domain.AssetSettled:
		return domain.TxRecord{}, fmt.Errorf("position: settle %s: %w", assetID, domain.ErrAlreadySettled)
	}

	call, err := o.builder.BuildSettle(ctx, asset)
	if err != nil {
		return domain.TxRecord{}, err
	}
	return o.submit(ctx, owner, asset, domain.ActionSettle, call)
}

// Close unwinds the owner's position in a settled asset: debt is burned at
// the settle price and all remaining collateral is returned.
func (o *Orchestrator) Close(ctx context.Context, owner, assetID string, minCollateralOut *big.Int) (domain.TxRecord, error) {
	snap := o.snapshots.Current()
	asset, ok := snap.AssetByID(assetID)
	if !ok {
		return domain.TxRecord{}, fmt.Errorf("position: close %s: %w", assetID, domain.ErrNotFound)
	}
	if asset.State(o.now()) != domain.AssetSettled {
		return domain.TxRecord{}, fmt.Errorf("position: close %s: %w", assetID, domain.ErrNotSettled)
	}
	if _, ok := snap.PositionFor(owner, assetID); !ok {
		return domain.TxRecord{}, fmt.Errorf("position: close %s: no position: %w", assetID, domain.ErrNotFound)
	}

	call, err := o.builder.BuildClose(asset, owner, minCollateralOut)
	if err != nil {
		return domain.TxRecord{}, err
	}
	return o.submit(ctx, owner, asset, domain.ActionClose, call)
}

// Redeem exchanges the owner's debt tokens for collateral at the settle
// price. Open only to token holders of settled assets.
func (o *Orchestrator) Redeem(ctx context.Context, owner, assetID string, amount, minCollateralOut *big.Int) (domain.TxRecord, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.TxRecord{}, fmt.Errorf("position: redeem %s: %w", assetID, domain.ErrZeroAmount)
	}

	snap := o.snapshots.Current()
	asset, ok := snap.AssetByID(assetID)
	if !ok {
		return domain.TxRecord{}, fmt.Errorf("position: redeem %s: %w", assetID, domain.ErrNotFound)
	}
	if asset.State(o.now()) != domain.AssetSettled {
		return domain.TxRecord{}, fmt.Errorf("position: redeem %s: %w", assetID, domain.ErrNotSettled)
	}

	// Redemption is for pure token holders. An owner with open debt must
	// close the position instead, which nets debt against collateral.
	if pos, ok := snap.PositionFor(owner, assetID); ok && pos.Debt().Sign() > 0 {
		return domain.TxRecord{}, fmt.Errorf("position: redeem %s: %w", assetID, domain.ErrDebtOutstanding)
	}

	balance, err := o.reader.TokenBalance(ctx, asset.ID, owner)
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("position: redeem %s: read balance: %w", assetID, err)
	}
	if balance.Cmp(amount) < 0 {
		return domain.TxRecord{}, fmt.Errorf("position: redeem %s: %w", assetID, domain.ErrInsufficientBalance)
	}

	call, err := o.builder.BuildRedeem(asset, owner, amount, minCollateralOut)
	if err != nil {
		return domain.TxRecord{}, err
	}
	return o.submit(ctx, owner, asset, domain.ActionRedeem, call)
}

// Preview validates an adjustment without submitting it and returns the
// confirmation summary plus the projected risk figures.
func (o *Orchestrator) Preview(ctx context.Context, owner string, req domain.AdjustRequest) (domain.Confirmation, domain.PositionRisk, error) {
	asset, newColl, newDebt, err := o.validateAdjust(ctx, owner, req, false)
	if err != nil {
		return domain.Confirmation{}, domain.PositionRisk{}, err
	}

	snap := o.snapshots.Current()
	debtPrice, _ := snap.PriceOf(asset.Currency)
	collPrice, _ := snap.PriceOf(asset.Collateral)

	projected := risk.PositionRisk(asset, domain.Position{
		AssetID:          asset.ID,
		Owner:            owner,
		CollateralAmount: newColl,
		DebtAmount:       newDebt,
	}, debtPrice, collPrice)

	return Summarize(asset, req), projected, nil
}

// adjust runs the shared validation pipeline and submits.
func (o *Orchestrator) adjust(ctx context.Context, owner string, req domain.AdjustRequest, action domain.ActionType) (domain.TxRecord, error) {
	asset, _, _, err := o.validateAdjust(ctx, owner, req, true)
	if err != nil {
		return domain.TxRecord{}, err
	}

	call, err := o.builder.BuildAdjust(ctx, asset, owner, req)
	if err != nil {
		return domain.TxRecord{}, err
	}
	return o.submit(ctx, owner, asset, action, call)
}

// validateAdjust checks a planned adjustment against lifecycle state, the
// debt floor, the LTV cap, wallet balances, and trading hours. It returns
// the asset plus the resulting collateral and debt amounts.
//
// checkBalances is false for previews, which should render even when the
// wallet cannot fund the plan yet.
func (o *Orchestrator) validateAdjust(ctx context.Context, owner string, req domain.AdjustRequest, checkBalances bool) (domain.Asset, *big.Int, *big.Int, error) {
	fail := func(err error) (domain.Asset, *big.Int, *big.Int, error) {
		return domain.Asset{}, nil, nil, err
	}

	snap := o.snapshots.Current()
	asset, ok := snap.AssetByID(req.AssetID)
	if !ok {
		return fail(fmt.Errorf("position: adjust %s: %w", req.AssetID, domain.ErrNotFound))
	}

	collDelta := zeroIfNil(req.CollateralDelta)
	debtDelta := zeroIfNil(req.DebtDelta)
	if collDelta.Sign() == 0 && debtDelta.Sign() == 0 {
		return fail(fmt.Errorf("position: adjust %s: %w", asset.ID, domain.ErrZeroAmount))
	}

	now := o.now()
	switch asset.State(now) {
	case domain.AssetSettled:
		// Settled vaults only close or redeem.
		return fail(fmt.Errorf("position: adjust %s: %w", asset.ID, domain.ErrAlreadySettled))
	case domain.AssetExpired:
		// Unwinding stays open between expiry and settlement; growth does not.
		if collDelta.Sign() > 0 || debtDelta.Sign() > 0 {
			return fail(fmt.Errorf("position: adjust %s: %w", asset.ID, domain.ErrAssetExpired))
		}
	}

	pos, _ := snap.PositionFor(owner, req.AssetID)
	newColl := new(big.Int).Add(pos.Collateral(), collDelta)
	newDebt := new(big.Int).Add(pos.Debt(), debtDelta)

	if newColl.Sign() < 0 {
		return fail(fmt.Errorf("position: adjust %s: withdraw exceeds collateral: %w", asset.ID, domain.ErrInsufficientCollateral))
	}
	if newDebt.Sign() < 0 {
		return fail(fmt.Errorf("position: adjust %s: repay exceeds debt: %w", asset.ID, domain.ErrInsufficientBalance))
	}
	if newDebt.Sign() > 0 && newDebt.Cmp(asset.MinDebtOrZero()) < 0 {
		return fail(fmt.Errorf("position: adjust %s: %w", asset.ID, domain.ErrBelowMinDebt))
	}

	// Withdrawals only raise risk while debt remains; a full unwind ends at
	// zero exposure and must go through regardless of prices or hours.
	riskIncreasing := debtDelta.Sign() > 0 || (collDelta.Sign() < 0 && newDebt.Sign() > 0)
	if riskIncreasing {
		debtPrice, okDebt := snap.PriceOf(asset.Currency)
		collPrice, okColl := snap.PriceOf(asset.Collateral)
		if !okDebt || !okColl {
			return fail(fmt.Errorf("position: adjust %s: %w", asset.ID, domain.ErrPriceUnavailable))
		}

		maxLoanable := risk.MaxLoanableAmount(
			asset.Currency, debtPrice,
			asset.Collateral, collPrice, newColl,
			asset.MaxLTV, asset.LTVPrecision,
		)
		if newDebt.Cmp(maxLoanable) > 0 {
			return fail(fmt.Errorf("position: adjust %s: %w", asset.ID, domain.ErrExceedsMaxLTV))
		}

		if !market.IsOpen(asset.Hours, now) {
			return fail(fmt.Errorf("position: adjust %s: %w", asset.ID, domain.ErrMarketClosed))
		}
	}

	if checkBalances {
		if collDelta.Sign() > 0 {
			balance, err := o.reader.TokenBalance(ctx, asset.Collateral.ID, owner)
			if err != nil {
				return fail(fmt.Errorf("position: adjust %s: read collateral balance: %w", asset.ID, err))
			}
			if balance.Cmp(collDelta) < 0 {
				return fail(fmt.Errorf("position: adjust %s: deposit: %w", asset.ID, domain.ErrInsufficientBalance))
			}
		}
		if debtDelta.Sign() < 0 {
			balance, err := o.reader.TokenBalance(ctx, asset.ID, owner)
			if err != nil {
				return fail(fmt.Errorf("position: adjust %s: read debt balance: %w", asset.ID, err))
			}
			if balance.Cmp(new(big.Int).Neg(debtDelta)) < 0 {
				return fail(fmt.Errorf("position: adjust %s: repay: %w", asset.ID, domain.ErrInsufficientBalance))
			}
		}
	}

	return asset, newColl, newDebt, nil
}

// submit takes the wallet lock, runs the pre-flight simulation, broadcasts,
// and records the pending transaction.
func (o *Orchestrator) submit(ctx context.Context, owner string, asset domain.Asset, action domain.ActionType, call domain.Call) (domain.TxRecord, error) {
	unlock, err := o.locks.Acquire(ctx, owner, walletLockTTL)
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("position: %s %s: %w", action, asset.ID, err)
	}
	defer unlock()

	sim, err := o.sender.Simulate(ctx, call)
	if err != nil {
		// The simulation is advisory; a broken RPC must not block an action
		// the contract itself would accept.
		o.logger.WarnContext(ctx, "simulation unavailable, proceeding",
			slog.String("asset", asset.ID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	} else if sim.Blocking() {
		return domain.TxRecord{}, fmt.Errorf("position: %s %s: %w", action, asset.ID, simulationError(sim))
	} else if sim.Status == domain.SimOther {
		o.logger.WarnContext(ctx, "simulation reverted unclassified, proceeding",
			slog.String("asset", asset.ID),
			slog.String("action", string(action)),
			slog.String("detail", sim.Detail),
		)
	}

	txHash, err := o.sender.Send(ctx, call)
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("position: %s %s: %w", action, asset.ID, err)
	}

	rec := domain.TxRecord{
		ID:      uuid.New().String(),
		Address: owner,
		AssetID: asset.ID,
		Action:  action,
		TxHash:  txHash,
		Status:  domain.TxStatusPending,
	}
	if err := o.history.Insert(ctx, rec); err != nil {
		o.logger.ErrorContext(ctx, "record tx history",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}

	pendingEntry := domain.PendingAction{
		Type:        action,
		CurrencyID:  asset.ID,
		TxHash:      txHash,
		SubmittedAt: o.now(),
	}
	if err := o.pending.Add(ctx, owner, pendingEntry); err != nil {
		o.logger.ErrorContext(ctx, "record pending action",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}

	o.logger.InfoContext(ctx, "action submitted",
		slog.String("owner", owner),
		slog.String("asset", asset.ID),
		slog.String("action", string(action)),
		slog.String("tx_hash", txHash),
	)

	o.wg.Add(1)
	go o.confirm(owner, rec)

	return rec, nil
}

// confirm waits for the receipt in the background, then updates the history
// row and stamps the inclusion block on the pending entry so the reconciler
// can retire it.
func (o *Orchestrator) confirm(owner string, rec domain.TxRecord) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()

	receipt, err := o.sender.WaitMined(ctx, rec.TxHash)
	if err != nil {
		o.logger.Warn("receipt wait failed",
			slog.String("tx_hash", rec.TxHash),
			slog.String("error", err.Error()),
		)
		return
	}

	status := domain.TxStatusConfirmed
	if !receipt.Success {
		status = domain.TxStatusFailed
	}
	if err := o.history.UpdateStatus(ctx, rec.TxHash, status, receipt.Block, receipt.GasUsed); err != nil {
		o.logger.Error("update tx history",
			slog.String("tx_hash", rec.TxHash),
			slog.String("error", err.Error()),
		)
	}

	actions, err := o.pending.List(ctx, owner)
	if err != nil {
		o.logger.Error("read pending queue",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		return
	}
	for i := range actions {
		if actions[i].TxHash == rec.TxHash {
			actions[i].Block = receipt.Block
		}
	}
	if err := o.pending.Replace(ctx, owner, actions); err != nil {
		o.logger.Error("update pending queue",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	}

	o.logger.Info("action mined",
		slog.String("tx_hash", rec.TxHash),
		slog.String("status", string(status)),
		slog.Uint64("block", receipt.Block),
	)
}

// simulationError maps a blocking simulation result to its domain error.
func simulationError(sim domain.SimulationResult) error {
	switch sim.Status {
	case domain.SimMarketClosed:
		return domain.ErrMarketClosed
	case domain.SimAlreadySettled:
		return domain.ErrAlreadySettled
	case domain.SimNotSettled:
		return domain.ErrNotSettled
	case domain.SimInsufficientCollateral:
		return domain.ErrInsufficientCollateral
	case domain.SimVaultNotFound:
		return domain.ErrVaultNotFound
	default:
		return fmt.Errorf("simulation reverted: %s", sim.Detail)
	}
}

// primaryAction names an adjustment by its riskiest leg.
func primaryAction(req domain.AdjustRequest) domain.ActionType {
	debtDelta := zeroIfNil(req.DebtDelta)
	collDelta := zeroIfNil(req.CollateralDelta)

	switch {
	case debtDelta.Sign() > 0:
		return domain.ActionBorrow
	case collDelta.Sign() < 0:
		return domain.ActionRemoveCollateral
	case debtDelta.Sign() < 0:
		return domain.ActionRepay
	default:
		return domain.ActionAddCollateral
	}
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
