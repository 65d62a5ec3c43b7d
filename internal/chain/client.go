// Package chain adapts the vault-manager contract and the JSON-RPC node for
// the rest of the engine: calldata encoding, read-only views, typed
// simulation of reverts, and transaction submission.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20ABI is the minimal fragment needed for balance reads.
const erc20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

// ClientConfig holds connection parameters for the JSON-RPC node.
type ClientConfig struct {
	RPCURL  string
	ChainID int64
}

// Client wraps an ethclient connection and verifies the chain id on dial.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	erc20   abi.ABI
}

// New dials the JSON-RPC endpoint and checks that the node serves the
// expected chain.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: node serves chain %d, expected %d", chainID, cfg.ChainID)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: parse erc20 abi: %w", err)
	}

	return &Client{eth: eth, chainID: chainID, erc20: parsed}, nil
}

// ChainID returns the connected chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close tears down the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Eth exposes the raw ethclient for sub-components within this package.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// TokenBalance reads an ERC-20 balance via eth_call.
func (c *Client) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}

	to := common.HexToAddress(token)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf %s: %w", token, err)
	}

	results, err := c.erc20.Unpack("balanceOf", out)
	if err != nil || len(results) != 1 {
		return nil, fmt.Errorf("chain: unpack balanceOf %s: %w", token, err)
	}
	bal, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: balanceOf %s: unexpected result type", token)
	}
	return bal, nil
}
