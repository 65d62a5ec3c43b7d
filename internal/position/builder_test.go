package position

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clearhedge/futuresd/internal/domain"
)

func newTestBuilder(t *testing.T) (*TxBuilder, *fakeVault, *fakeOracle) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	vault := newFakeVault()
	oracle := &fakeOracle{update: [][]byte{[]byte("signed-update")}}
	return NewTxBuilder(vault, vault, oracle, logger), vault, oracle
}

func TestBuildAdjust_GrowthLegOrder(t *testing.T) {
	b, vault, _ := newTestBuilder(t)
	asset := testAsset()

	call, err := b.BuildAdjust(context.Background(), asset, "0xowner", domain.AdjustRequest{
		AssetID:         asset.ID,
		CollateralDelta: big.NewInt(1000),
		DebtDelta:       big.NewInt(2),
	})
	require.NoError(t, err)
	require.Equal(t, "0xvault", call.To)
	require.Equal(t, uint64(gasBundle), call.Gas)
	require.Equal(t, big.NewInt(1), call.Value)

	// Oracle update first, then deposit before mint so the intermediate
	// state never trips the contract's LTV check.
	legs := vault.lastMulticall()
	require.Len(t, legs, 3)
	require.Equal(t, "oracle", string(legs[0]))
	require.Equal(t, "deposit:1000", string(legs[1]))
	require.Equal(t, "mint:2", string(legs[2]))
}

func TestBuildAdjust_UnwindLegOrder(t *testing.T) {
	b, vault, _ := newTestBuilder(t)
	asset := testAsset()

	_, err := b.BuildAdjust(context.Background(), asset, "0xowner", domain.AdjustRequest{
		AssetID:         asset.ID,
		CollateralDelta: big.NewInt(-500),
		DebtDelta:       big.NewInt(-1),
	})
	require.NoError(t, err)

	// Burn before withdraw, amounts flipped to positive magnitudes.
	legs := vault.lastMulticall()
	require.Len(t, legs, 3)
	require.Equal(t, "oracle", string(legs[0]))
	require.Equal(t, "burn:1", string(legs[1]))
	require.Equal(t, "withdraw:500", string(legs[2]))
}

func TestBuildAdjust_NoLegs(t *testing.T) {
	b, _, _ := newTestBuilder(t)

	_, err := b.BuildAdjust(context.Background(), testAsset(), "0xowner", domain.AdjustRequest{
		AssetID: "0xasset",
	})
	require.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestBuildAdjust_OracleFetchFails(t *testing.T) {
	b, _, oracle := newTestBuilder(t)
	oracle.err = fmt.Errorf("hermes unreachable")

	_, err := b.BuildAdjust(context.Background(), testAsset(), "0xowner", domain.AdjustRequest{
		AssetID:   "0xasset",
		DebtDelta: big.NewInt(1),
	})
	require.ErrorContains(t, err, "fetch oracle update")
}

func TestBuildAdjust_EmptyOracleUpdate(t *testing.T) {
	b, _, oracle := newTestBuilder(t)
	oracle.update = nil

	_, err := b.BuildAdjust(context.Background(), testAsset(), "0xowner", domain.AdjustRequest{
		AssetID:   "0xasset",
		DebtDelta: big.NewInt(1),
	})
	require.ErrorIs(t, err, domain.ErrEmptyOracleUpdate)
}

func TestBuildSettle_BundlesOracleUpdate(t *testing.T) {
	b, vault, oracle := newTestBuilder(t)

	call, err := b.BuildSettle(context.Background(), testAsset())
	require.NoError(t, err)
	require.Equal(t, uint64(gasBundle), call.Gas)
	require.Equal(t, 1, oracle.calls)

	legs := vault.lastMulticall()
	require.Len(t, legs, 2)
	require.Equal(t, "oracle", string(legs[0]))
	require.Equal(t, "settle", string(legs[1]))
}

func TestBuildSettle_FeedlessAssetGoesBare(t *testing.T) {
	b, vault, oracle := newTestBuilder(t)
	asset := testAsset()
	asset.Currency.PriceFeedID = ""

	call, err := b.BuildSettle(context.Background(), asset)
	require.NoError(t, err)
	require.Zero(t, oracle.calls, "no feeds means no oracle fetch")
	require.Empty(t, vault.multicalls, "a lone leg needs no multicall")
	require.Equal(t, "settle", string(call.Data))
	require.Equal(t, uint64(gasSingleLeg), call.Gas)
}

func TestBuildClose_NoOracleUpdate(t *testing.T) {
	b, _, oracle := newTestBuilder(t)

	call, err := b.BuildClose(testAsset(), "0xowner", big.NewInt(600))
	require.NoError(t, err)
	require.Zero(t, oracle.calls)
	require.Equal(t, "close:600", string(call.Data))
	require.Equal(t, uint64(gasSingleLeg), call.Gas)
	require.Nil(t, call.Value)
}

func TestBuildRedeem_NoOracleUpdate(t *testing.T) {
	b, _, oracle := newTestBuilder(t)

	call, err := b.BuildRedeem(testAsset(), "0xholder", big.NewInt(5), big.NewInt(700))
	require.NoError(t, err)
	require.Zero(t, oracle.calls)
	require.Equal(t, "redeem:5", string(call.Data))
}

func TestFeedIDs_Dedup(t *testing.T) {
	asset := testAsset()
	asset.Collateral.PriceFeedID = asset.Currency.PriceFeedID
	require.Equal(t, []string{"0xfeed1"}, feedIDs(asset))

	asset.Collateral.PriceFeedID = "0xfeed2"
	require.Equal(t, []string{"0xfeed1", "0xfeed2"}, feedIDs(asset))

	asset.Currency.PriceFeedID = ""
	asset.Collateral.PriceFeedID = ""
	require.Empty(t, feedIDs(asset))
}

func TestSummarize(t *testing.T) {
	asset := testAsset()

	conf := Summarize(asset, domain.AdjustRequest{
		AssetID:         asset.ID,
		CollateralDelta: big.NewInt(-500_000_000), // -500 USDC
		DebtDelta:       big.NewInt(-1e18),        // -1 sTSLA
	})
	require.Equal(t, "Adjust sTSLA position", conf.Title)
	require.Equal(t, []string{"Repay 1 sTSLA", "Withdraw 500 USDC"}, conf.Lines)
}
