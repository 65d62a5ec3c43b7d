package chain

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/require"

	"github.com/clearhedge/futuresd/internal/domain"
)

func TestClassifyRevert_KnownSelectors(t *testing.T) {
	cases := []struct {
		signature string
		want      domain.SimulationStatus
	}{
		{"MarketClosed()", domain.SimMarketClosed},
		{"StalePrice()", domain.SimMarketClosed},
		{"AlreadySettled()", domain.SimAlreadySettled},
		{"NotSettled()", domain.SimNotSettled},
		{"InsufficientCollateral()", domain.SimInsufficientCollateral},
		{"VaultDoesNotExist()", domain.SimVaultNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.signature, func(t *testing.T) {
			sel := errSelector(tc.signature)
			res := classifyRevert(sel[:])
			require.Equal(t, tc.want, res.Status)
			require.Empty(t, res.Detail)
			require.True(t, res.Blocking())
		})
	}
}

func TestClassifyRevert_ErrorString(t *testing.T) {
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	payload, err := abi.Arguments{{Type: stringTy}}.Pack("ds-math-sub-underflow")
	require.NoError(t, err)

	sel := errSelector("Error(string)")
	res := classifyRevert(append(sel[:], payload...))
	require.Equal(t, domain.SimOther, res.Status)
	require.Equal(t, "ds-math-sub-underflow", res.Detail)
	require.False(t, res.Blocking())
}

func TestClassifyRevert_UnknownSelector(t *testing.T) {
	res := classifyRevert([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(t, domain.SimOther, res.Status)
	require.Equal(t, "0xdeadbeef", res.Detail)
	require.False(t, res.Blocking())
}

func TestClassifyRevert_TruncatedData(t *testing.T) {
	res := classifyRevert(nil)
	require.Equal(t, domain.SimOther, res.Status)

	res = classifyRevert([]byte{0x01, 0x02})
	require.Equal(t, domain.SimOther, res.Status)
}

// rpcDataError mimics geth's rpc.DataError: the revert payload rides along
// as a hex string.
type rpcDataError struct {
	msg  string
	data interface{}
}

func (e *rpcDataError) Error() string          { return e.msg }
func (e *rpcDataError) ErrorData() interface{} { return e.data }

func TestRevertData_Extracts(t *testing.T) {
	sel := errSelector("MarketClosed()")
	err := &rpcDataError{
		msg:  "execution reverted",
		data: "0x" + hex.EncodeToString(sel[:]),
	}

	data, ok := revertData(err)
	require.True(t, ok)
	require.Equal(t, sel[:], data)

	res := classifyRevert(data)
	require.Equal(t, domain.SimMarketClosed, res.Status)
}

func TestRevertData_WrappedError(t *testing.T) {
	inner := &rpcDataError{msg: "execution reverted", data: "0x01020304"}
	data, ok := revertData(fmt.Errorf("call failed: %w", inner))
	require.True(t, ok)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data)
}

func TestRevertData_NoPayload(t *testing.T) {
	_, ok := revertData(fmt.Errorf("connection refused"))
	require.False(t, ok)

	_, ok = revertData(&rpcDataError{msg: "reverted", data: 42})
	require.False(t, ok, "non-string payloads are ignored")

	_, ok = revertData(&rpcDataError{msg: "reverted", data: "0xzz"})
	require.False(t, ok, "undecodable hex is ignored")
}
