package domain

import "time"

// TxStatus tracks a submitted transaction through its lifecycle.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// TxRecord is one row of the per-address transaction history.
type TxRecord struct {
	ID      string
	Address string
	AssetID string
	Action  ActionType
	TxHash  string
	Status  TxStatus
	// Block is the inclusion block, zero while pending.
	Block     uint64
	GasUsed   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}
