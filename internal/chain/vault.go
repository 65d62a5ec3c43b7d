package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/clearhedge/futuresd/internal/domain"
)

// vaultManagerABI is the fragment of the vault-manager contract the engine
// talks to. State-changing entry points are bundled through multicall with
// the oracle update attached, never called bare.
const vaultManagerABI = `[
	{"type":"function","name":"deposit","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"burn","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"settle","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"settlePrice","type":"uint256"}]},
	{"type":"function","name":"close","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"to","type":"address"},{"name":"minCollateralOut","type":"uint256"}],"outputs":[{"name":"collateralOut","type":"uint256"}]},
	{"type":"function","name":"redeem","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"minCollateralOut","type":"uint256"}],"outputs":[{"name":"collateralOut","type":"uint256"}]},
	{"type":"function","name":"updateOracle","stateMutability":"payable",
	 "inputs":[{"name":"priceUpdate","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"multicall","stateMutability":"payable",
	 "inputs":[{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}]},
	{"type":"function","name":"getUpdateFee","stateMutability":"view",
	 "inputs":[{"name":"priceUpdate","type":"bytes[]"}],"outputs":[{"name":"fee","type":"uint256"}]}
]`

// Vault encodes calldata for, and reads views from, the vault-manager
// contract.
type Vault struct {
	client  *Client
	address common.Address
	abi     abi.ABI
}

// NewVault parses the embedded ABI and binds it to the deployed address.
func NewVault(client *Client, address string) (*Vault, error) {
	parsed, err := abi.JSON(strings.NewReader(vaultManagerABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse vault abi: %w", err)
	}
	return &Vault{
		client:  client,
		address: common.HexToAddress(address),
		abi:     parsed,
	}, nil
}

// Address returns the vault-manager contract address.
func (v *Vault) Address() string {
	return strings.ToLower(v.address.Hex())
}

func (v *Vault) pack(method string, args ...any) ([]byte, error) {
	data, err := v.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	return data, nil
}

// Deposit encodes a collateral deposit leg.
func (v *Vault) Deposit(assetID, to string, amount *big.Int) ([]byte, error) {
	return v.pack("deposit", common.HexToAddress(assetID), common.HexToAddress(to), amount)
}

// Mint encodes a synthetic borrow leg.
func (v *Vault) Mint(assetID, to string, amount *big.Int) ([]byte, error) {
	return v.pack("mint", common.HexToAddress(assetID), common.HexToAddress(to), amount)
}

// Burn encodes a debt repayment leg.
func (v *Vault) Burn(assetID, to string, amount *big.Int) ([]byte, error) {
	return v.pack("burn", common.HexToAddress(assetID), common.HexToAddress(to), amount)
}

// Withdraw encodes a collateral withdrawal leg.
func (v *Vault) Withdraw(assetID, to string, amount *big.Int) ([]byte, error) {
	return v.pack("withdraw", common.HexToAddress(assetID), common.HexToAddress(to), amount)
}

// Settle encodes the settlement call for an expired asset.
func (v *Vault) Settle(assetID string) ([]byte, error) {
	return v.pack("settle", common.HexToAddress(assetID))
}

// Close encodes a full position close after settlement.
func (v *Vault) Close(assetID, to string, minCollateralOut *big.Int) ([]byte, error) {
	if minCollateralOut == nil {
		minCollateralOut = new(big.Int)
	}
	return v.pack("close", common.HexToAddress(assetID), common.HexToAddress(to), minCollateralOut)
}

// Redeem encodes a token-holder redemption at the settle price.
func (v *Vault) Redeem(assetID, to string, amount, minCollateralOut *big.Int) ([]byte, error) {
	if minCollateralOut == nil {
		minCollateralOut = new(big.Int)
	}
	return v.pack("redeem", common.HexToAddress(assetID), common.HexToAddress(to), amount, minCollateralOut)
}

// UpdateOracle encodes the oracle price-update leg.
func (v *Vault) UpdateOracle(update [][]byte) ([]byte, error) {
	return v.pack("updateOracle", update)
}

// Multicall bundles pre-encoded legs into one atomic call.
func (v *Vault) Multicall(calls [][]byte) ([]byte, error) {
	return v.pack("multicall", calls)
}

// UpdateFee quotes the native fee the oracle charges for applying the given
// update payload, via eth_call.
func (v *Vault) UpdateFee(ctx context.Context, update [][]byte) (*big.Int, error) {
	data, err := v.pack("getUpdateFee", update)
	if err != nil {
		return nil, err
	}

	out, err := v.client.Eth().CallContract(ctx, ethereum.CallMsg{To: &v.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: getUpdateFee: %w", err)
	}

	results, err := v.abi.Unpack("getUpdateFee", out)
	if err != nil || len(results) != 1 {
		return nil, fmt.Errorf("chain: unpack getUpdateFee: %w", err)
	}
	fee, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: getUpdateFee: unexpected result type")
	}
	return fee, nil
}

// TokenBalance implements the balance half of domain.VaultReader by
// delegating to the client.
func (v *Vault) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	return v.client.TokenBalance(ctx, token, owner)
}

// Compile-time interface checks.
var (
	_ domain.VaultEncoder = (*Vault)(nil)
	_ domain.VaultReader  = (*Vault)(nil)
)
