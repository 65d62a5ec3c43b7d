package domain

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Call is a fully-encoded transaction ready for simulation or submission.
type Call struct {
	// To is the target contract address (lowercase hex).
	To string
	// Data is the ABI-encoded calldata.
	Data []byte
	// Value is the native currency attached to the call (oracle fee).
	Value *big.Int
	// Gas is the fixed gas ceiling for the call.
	Gas uint64
}

// TxReceipt is the distilled result of a mined transaction.
type TxReceipt struct {
	TxHash  string
	Block   uint64
	GasUsed uint64
	Success bool
}

// VaultEncoder produces calldata for the vault-manager contract. The
// returned bytes are individual legs suitable for Multicall bundling.
type VaultEncoder interface {
	Deposit(assetID, to string, amount *big.Int) ([]byte, error)
	Mint(assetID, to string, amount *big.Int) ([]byte, error)
	Burn(assetID, to string, amount *big.Int) ([]byte, error)
	Withdraw(assetID, to string, amount *big.Int) ([]byte, error)
	Settle(assetID string) ([]byte, error)
	Close(assetID, to string, minCollateralOut *big.Int) ([]byte, error)
	Redeem(assetID, to string, amount, minCollateralOut *big.Int) ([]byte, error)
	UpdateOracle(update [][]byte) ([]byte, error)
	Multicall(calls [][]byte) ([]byte, error)
	// Address is the vault-manager contract address.
	Address() string
}

// VaultReader exposes the read-only contract views the engine needs.
type VaultReader interface {
	// UpdateFee quotes the native-currency fee the oracle contract charges
	// for applying the given update payload.
	UpdateFee(ctx context.Context, update [][]byte) (*big.Int, error)
	// TokenBalance reads an ERC-20 balance.
	TokenBalance(ctx context.Context, token, owner string) (*big.Int, error)
}

// TxSender simulates and submits transactions on behalf of the operator
// wallet.
type TxSender interface {
	// Simulate executes the call without committing it and decodes any
	// revert into a typed result. Transport-level failures return an error;
	// reverts do not.
	Simulate(ctx context.Context, call Call) (SimulationResult, error)
	// Send signs and broadcasts the call, returning the transaction hash.
	Send(ctx context.Context, call Call) (string, error)
	// WaitMined blocks until the transaction is mined or ctx is done.
	WaitMined(ctx context.Context, txHash string) (TxReceipt, error)
	// From is the operator wallet address (lowercase hex).
	From() string
}

// OracleClient fetches signed price updates and off-chain prices from the
// price service.
type OracleClient interface {
	// PriceUpdateData returns the signed payloads for the given feed ids,
	// to be bundled on-chain immediately before any price-dependent action.
	PriceUpdateData(ctx context.Context, feedIDs []string) ([][]byte, error)
	// LatestPrices returns current off-chain prices per feed id.
	LatestPrices(ctx context.Context, feedIDs []string) (map[string]decimal.Decimal, error)
}

// IndexerClient reads asset and position snapshots from the indexing layer.
type IndexerClient interface {
	Assets(ctx context.Context) ([]Asset, error)
	Positions(ctx context.Context, owner string) ([]Position, error)
	// LatestBlock is the newest block the indexer has reflected. The
	// pending-state reconciler depends on this number advancing.
	LatestBlock(ctx context.Context) (uint64, error)
}
