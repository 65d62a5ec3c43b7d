package chain

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/clearhedge/futuresd/internal/domain"
)

// Custom-error selectors emitted by the vault manager and its oracle
// consumer. Each is the first four bytes of keccak256 of the error
// signature. Decoding happens here and nowhere else; the rest of the
// system only sees domain.SimulationStatus.
var (
	selMarketClosed           = errSelector("MarketClosed()")
	selAlreadySettled         = errSelector("AlreadySettled()")
	selNotSettled             = errSelector("NotSettled()")
	selInsufficientCollateral = errSelector("InsufficientCollateral()")
	selVaultNotFound          = errSelector("VaultDoesNotExist()")
	// selStalePrice is raised by the oracle adapter when the feed cannot be
	// refreshed; outside trading hours this is how closure manifests.
	selStalePrice = errSelector("StalePrice()")

	// Solidity built-ins.
	selErrorString = errSelector("Error(string)")
	selPanic       = errSelector("Panic(uint256)")
)

func errSelector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// classifyRevert maps raw revert data to a typed simulation result.
func classifyRevert(data []byte) domain.SimulationResult {
	if len(data) < 4 {
		return domain.SimulationResult{Status: domain.SimOther, Detail: "execution reverted"}
	}

	var sel [4]byte
	copy(sel[:], data[:4])

	switch sel {
	case selMarketClosed, selStalePrice:
		return domain.SimulationResult{Status: domain.SimMarketClosed}
	case selAlreadySettled:
		return domain.SimulationResult{Status: domain.SimAlreadySettled}
	case selNotSettled:
		return domain.SimulationResult{Status: domain.SimNotSettled}
	case selInsufficientCollateral:
		return domain.SimulationResult{Status: domain.SimInsufficientCollateral}
	case selVaultNotFound:
		return domain.SimulationResult{Status: domain.SimVaultNotFound}
	case selErrorString:
		return domain.SimulationResult{Status: domain.SimOther, Detail: decodeErrorString(data[4:])}
	case selPanic:
		return domain.SimulationResult{Status: domain.SimOther, Detail: "panic"}
	default:
		return domain.SimulationResult{
			Status: domain.SimOther,
			Detail: "0x" + hex.EncodeToString(data[:4]),
		}
	}
}

// decodeErrorString unpacks the ABI-encoded string argument of Error(string).
func decodeErrorString(payload []byte) string {
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		return ""
	}
	args := abi.Arguments{{Type: stringTy}}
	vals, err := args.Unpack(payload)
	if err != nil || len(vals) != 1 {
		return ""
	}
	s, _ := vals[0].(string)
	return s
}

// revertData extracts the raw revert payload from an RPC error, if present.
// geth-style nodes attach it via the rpc.DataError interface as a hex string.
func revertData(err error) ([]byte, bool) {
	var de interface{ ErrorData() interface{} }
	if !errors.As(err, &de) {
		return nil, false
	}

	raw, ok := de.ErrorData().(string)
	if !ok {
		return nil, false
	}
	raw = strings.TrimPrefix(raw, "0x")
	data, decErr := hex.DecodeString(raw)
	if decErr != nil {
		return nil, false
	}
	return data, true
}
