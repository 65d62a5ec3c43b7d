package domain

import (
	"math/big"
	"time"
)

// ActionType identifies a vault lifecycle operation.
type ActionType string

const (
	ActionBorrow           ActionType = "borrow"
	ActionRepay            ActionType = "repay"
	ActionRepayAll         ActionType = "repay_all"
	ActionAddCollateral    ActionType = "add_collateral"
	ActionRemoveCollateral ActionType = "remove_collateral"
	ActionSettle           ActionType = "settle"
	ActionClose            ActionType = "close"
	ActionRedeem           ActionType = "redeem"
)

// AdjustRequest is a planned change to a position expressed as signed
// deltas: positive CollateralDelta deposits, negative withdraws; positive
// DebtDelta borrows, negative repays. Nil deltas mean no change on that leg.
type AdjustRequest struct {
	AssetID         string
	CollateralDelta *big.Int
	DebtDelta       *big.Int
}

// PendingAction is an in-flight (action, debt-currency) pair kept
// client-side until the indexer reflects a block at or after the action's
// inclusion block. It is never a source of truth for settlement math.
type PendingAction struct {
	Type ActionType
	// CurrencyID is the debt-currency (asset) identifier the action touches.
	CurrencyID  string
	TxHash      string
	Block       uint64
	SubmittedAt time.Time
}

// PendingTimeout force-expires pending entries regardless of indexing
// state, bounding UI staleness during indexer outages.
const PendingTimeout = 30 * time.Minute

// Expired reports whether the entry has outlived the global timeout.
func (p PendingAction) Expired(now time.Time) bool {
	return now.Sub(p.SubmittedAt) >= PendingTimeout
}

// Confirmation is the human-readable summary shown to a user before a
// planned transaction is submitted.
type Confirmation struct {
	Title string
	Lines []string
}
