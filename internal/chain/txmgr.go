package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/clearhedge/futuresd/internal/domain"
)

// receiptPollInterval is how often WaitMined polls for a receipt.
const receiptPollInterval = 2 * time.Second

// TxManager signs and submits transactions from the operator wallet and
// simulates calls with typed revert decoding. It implements domain.TxSender.
type TxManager struct {
	client *Client
	key    *ecdsa.PrivateKey
	from   common.Address
	logger *slog.Logger
}

// NewTxManager creates a TxManager from a hex-encoded private key.
func NewTxManager(client *Client, privateKeyHex string, logger *slog.Logger) (*TxManager, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	return &TxManager{
		client: client,
		key:    key,
		from:   ethcrypto.PubkeyToAddress(key.PublicKey),
		logger: logger.With(slog.String("component", "txmgr")),
	}, nil
}

// From returns the operator wallet address in lowercase hex.
func (m *TxManager) From() string {
	return strings.ToLower(m.from.Hex())
}

// Simulate executes the call via eth_call from the operator address and
// decodes any revert into a typed result. Only transport-level failures
// surface as errors.
func (m *TxManager) Simulate(ctx context.Context, call domain.Call) (domain.SimulationResult, error) {
	to := common.HexToAddress(call.To)
	msg := ethereum.CallMsg{
		From:  m.from,
		To:    &to,
		Data:  call.Data,
		Value: call.Value,
		Gas:   call.Gas,
	}

	_, err := m.client.Eth().CallContract(ctx, msg, nil)
	if err == nil {
		return domain.SimulationResult{Status: domain.SimOk}, nil
	}

	if data, ok := revertData(err); ok {
		result := classifyRevert(data)
		m.logger.DebugContext(ctx, "simulation reverted",
			slog.String("to", call.To),
			slog.String("status", result.Status.String()),
			slog.String("detail", result.Detail),
		)
		return result, nil
	}

	return domain.SimulationResult{}, fmt.Errorf("chain: simulate: %w", err)
}

// Send signs the call as a dynamic-fee transaction and broadcasts it. The
// fixed gas ceiling from the call is used as-is; estimation is skipped
// because oracle-dependent calls estimate unreliably when price data is
// momentarily stale.
func (m *TxManager) Send(ctx context.Context, call domain.Call) (string, error) {
	eth := m.client.Eth()

	nonce, err := eth.PendingNonceAt(ctx, m.from)
	if err != nil {
		return "", fmt.Errorf("chain: pending nonce: %w", err)
	}

	tip, err := eth.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas tip: %w", err)
	}

	head, err := eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("chain: head: %w", err)
	}
	// feeCap = 2*baseFee + tip leaves headroom for two full base-fee bumps.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tip,
	)

	to := common.HexToAddress(call.To)
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   m.client.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       call.Gas,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(m.client.ChainID()), m.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign tx: %w", err)
	}

	if err := eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send tx: %w", err)
	}

	hash := signed.Hash().Hex()
	m.logger.InfoContext(ctx, "transaction submitted",
		slog.String("tx_hash", hash),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", call.Gas),
		slog.String("value", value.String()),
	)
	return hash, nil
}

// WaitMined polls for the transaction receipt until it lands or ctx is
// done. Submission itself is never timed out here; bounding wait time is
// the caller's choice via ctx.
func (m *TxManager) WaitMined(ctx context.Context, txHash string) (domain.TxReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := m.client.Eth().TransactionReceipt(ctx, hash)
		if err == nil {
			return domain.TxReceipt{
				TxHash:  txHash,
				Block:   receipt.BlockNumber.Uint64(),
				GasUsed: receipt.GasUsed,
				Success: receipt.Status == types.ReceiptStatusSuccessful,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return domain.TxReceipt{}, fmt.Errorf("chain: receipt %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return domain.TxReceipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Compile-time interface check.
var _ domain.TxSender = (*TxManager)(nil)
