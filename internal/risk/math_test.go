package risk

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clearhedge/futuresd/internal/domain"
)

const precision = 1_000_000

var (
	// Synthetic debt token with 18 decimals, USDC-like collateral with 6.
	sTSLA = domain.Currency{ID: "0xdebt", Symbol: "sTSLA", Decimals: 18, PriceFeedID: "0xfeed1"}
	usdc  = domain.Currency{ID: "0xcoll", Symbol: "USDC", Decimals: 6}
)

func toUnits(t *testing.T, s string, decimals int32) *big.Int {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d.Shift(decimals).BigInt()
}

func TestLtv_ZeroCollateralIsZero(t *testing.T) {
	debtAmount := toUnits(t, "5", 18)

	ltv := Ltv(sTSLA, decimal.NewFromInt(150), debtAmount, usdc, decimal.NewFromInt(1), big.NewInt(0))
	require.True(t, ltv.IsZero(), "zero collateral must report 0, got %s", ltv)

	ltv = Ltv(sTSLA, decimal.NewFromInt(150), debtAmount, usdc, decimal.NewFromInt(1), nil)
	require.True(t, ltv.IsZero())
}

func TestLtv_ZeroDebtIsZero(t *testing.T) {
	ltv := Ltv(sTSLA, decimal.NewFromInt(150), big.NewInt(0), usdc, decimal.NewFromInt(1), toUnits(t, "1000", 6))
	require.True(t, ltv.IsZero())
}

func TestLtv_Basic(t *testing.T) {
	// 2 debt units at $150 against 1000 collateral units at $1 = 30%.
	ltv := Ltv(
		sTSLA, decimal.NewFromInt(150), toUnits(t, "2", 18),
		usdc, decimal.NewFromInt(1), toUnits(t, "1000", 6),
	)
	require.True(t, ltv.Equal(decimal.NewFromInt(30)), "expected 30, got %s", ltv)
}

func TestMaxLoanableAmount_ExampleScenario(t *testing.T) {
	// Worked example: maxLTV 70%, collateral $1, debt $150, 1000 collateral
	// units -> max loanable = 1000 * 0.7 / 150 = 4.666... debt units.
	collAmount := toUnits(t, "1000", 6)

	max := MaxLoanableAmount(
		sTSLA, decimal.NewFromInt(150),
		usdc, decimal.NewFromInt(1), collAmount,
		700_000, precision,
	)

	want := toUnits(t, "4.666666666666666666", 18)
	require.Zero(t, max.Cmp(want), "want %s, got %s", want, max)

	// Borrowing exactly the max must report 70% LTV.
	ltv := Ltv(sTSLA, decimal.NewFromInt(150), max, usdc, decimal.NewFromInt(1), collAmount)
	diff := ltv.Sub(decimal.NewFromInt(70)).Abs()
	require.True(t, diff.LessThanOrEqual(decimal.New(1, -7)), "ltv %s not ~70", ltv)

	// And the liquidation price at the 80% threshold is ~$171.43.
	liq := LiquidationPrice(sTSLA, max, usdc, decimal.NewFromInt(1), collAmount, 800_000, precision)
	wantLiq := decimal.RequireFromString("171.43")
	require.True(t, liq.Sub(wantLiq).Abs().LessThan(decimal.RequireFromString("0.01")),
		"liquidation price %s not ~171.43", liq)
}

func TestMaxLoanableAmount_LtvRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		maxLTV    uint64
		collPrice string
		debtPrice string
		collAmt   string
	}{
		{"even", 500_000, "1", "100", "1000"},
		{"tsla", 700_000, "1", "150", "1000"},
		{"odd prices", 635_001, "0.9973", "151.37", "1234.567891"},
		{"tiny collateral", 700_000, "1.01", "64000", "0.000003"},
		{"volatile collateral", 450_000, "3021.55", "1.0001", "2.5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collPrice := decimal.RequireFromString(tc.collPrice)
			debtPrice := decimal.RequireFromString(tc.debtPrice)
			collAmount := toUnits(t, tc.collAmt, 6)

			max := MaxLoanableAmount(sTSLA, debtPrice, usdc, collPrice, collAmount, tc.maxLTV, precision)
			limit := decimal.New(int64(tc.maxLTV), 0).Div(decimal.New(precision, 0)).Mul(decimal.NewFromInt(100))

			// At the computed max the position is at or under the limit...
			ltv := Ltv(sTSLA, debtPrice, max, usdc, collPrice, collAmount)
			require.True(t, ltv.LessThanOrEqual(limit), "ltv %s exceeds limit %s", ltv, limit)

			// ...and one more native unit pushes it over, so the result is
			// within one rounding unit of the limit.
			if max.Sign() > 0 {
				over := new(big.Int).Add(max, big.NewInt(1))
				ltvOver := Ltv(sTSLA, debtPrice, over, usdc, collPrice, collAmount)
				require.True(t, ltvOver.GreaterThanOrEqual(ltv), "ltv not monotonic in debt")
			}
		})
	}
}

func TestMinCollateralAmount_LtvRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		maxLTV    uint64
		collPrice string
		debtPrice string
		debtAmt   string
	}{
		{"even", 500_000, "1", "100", "5"},
		{"tsla", 700_000, "1", "150", "4.666666666666666666"},
		{"odd prices", 635_001, "0.9973", "151.37", "2.123456789012345678"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collPrice := decimal.RequireFromString(tc.collPrice)
			debtPrice := decimal.RequireFromString(tc.debtPrice)
			debtAmount := toUnits(t, tc.debtAmt, 18)

			min := MinCollateralAmount(sTSLA, debtPrice, debtAmount, usdc, collPrice, tc.maxLTV, precision)
			require.Positive(t, min.Sign())

			limit := decimal.New(int64(tc.maxLTV), 0).Div(decimal.New(precision, 0)).Mul(decimal.NewFromInt(100))

			// Holding exactly the minimum keeps the debt at or under maxLTV.
			ltv := Ltv(sTSLA, debtPrice, debtAmount, usdc, collPrice, min)
			require.True(t, ltv.LessThanOrEqual(limit), "ltv %s exceeds limit %s", ltv, limit)

			// One native unit less breaches it.
			less := new(big.Int).Sub(min, big.NewInt(1))
			if less.Sign() > 0 {
				ltvLess := Ltv(sTSLA, debtPrice, debtAmount, usdc, collPrice, less)
				require.True(t, ltvLess.GreaterThan(limit),
					"ltv %s at min-1 should exceed limit %s", ltvLess, limit)
			}
		})
	}
}

func TestMaxLoanableAmount_ZeroPriceSaturates(t *testing.T) {
	collAmount := toUnits(t, "1000", 6)

	require.Zero(t, MaxLoanableAmount(sTSLA, decimal.Zero, usdc, decimal.NewFromInt(1), collAmount, 700_000, precision).Sign(),
		"zero debt price must mean nothing is borrowable")
	require.Zero(t, MaxLoanableAmount(sTSLA, decimal.NewFromInt(150), usdc, decimal.Zero, collAmount, 700_000, precision).Sign(),
		"zero collateral price must mean nothing is borrowable")
}

func TestMaxLoanableAmount_Monotonic(t *testing.T) {
	debtPrice := decimal.NewFromInt(150)
	collPrice := decimal.NewFromInt(1)

	prev := new(big.Int)
	for _, amt := range []string{"10", "100", "1000", "10000"} {
		max := MaxLoanableAmount(sTSLA, debtPrice, usdc, collPrice, toUnits(t, amt, 6), 700_000, precision)
		require.Positive(t, max.Cmp(prev), "max loanable must grow with collateral")
		prev = max
	}

	// Also monotonic in collateral price.
	prev = new(big.Int)
	for _, p := range []string{"0.5", "1", "2", "4"} {
		max := MaxLoanableAmount(sTSLA, debtPrice, usdc, decimal.RequireFromString(p), toUnits(t, "1000", 6), 700_000, precision)
		require.Positive(t, max.Cmp(prev), "max loanable must grow with collateral price")
		prev = max
	}
}

func TestLiquidationPrice_NoDebtNoRisk(t *testing.T) {
	liq := LiquidationPrice(sTSLA, big.NewInt(0), usdc, decimal.NewFromInt(1), toUnits(t, "1000", 6), 800_000, precision)
	require.True(t, liq.IsZero())

	liq = LiquidationPrice(sTSLA, nil, usdc, decimal.NewFromInt(1), toUnits(t, "1000", 6), 800_000, precision)
	require.True(t, liq.IsZero())
}

func TestLiquidationPrice_MonotonicInDebt(t *testing.T) {
	collAmount := toUnits(t, "1000", 6)
	collPrice := decimal.NewFromInt(1)

	prev := decimal.Decimal{}
	first := true
	for _, amt := range []string{"1", "2", "4", "8"} {
		liq := LiquidationPrice(sTSLA, toUnits(t, amt, 18), usdc, collPrice, collAmount, 800_000, precision)
		require.True(t, liq.IsPositive())
		if !first {
			require.True(t, liq.LessThan(prev), "more debt must lower the liquidation price")
		}
		prev, first = liq, false
	}
}

func TestPositionRisk_ConsistentBundle(t *testing.T) {
	asset := domain.Asset{
		ID:                   "0xdebt",
		Currency:             sTSLA,
		Collateral:           usdc,
		MaxLTV:               700_000,
		LiquidationThreshold: 800_000,
		LTVPrecision:         precision,
	}
	pos := domain.Position{
		AssetID:          asset.ID,
		Owner:            "0xuser",
		CollateralAmount: toUnits(t, "1000", 6),
		DebtAmount:       toUnits(t, "2", 18),
	}

	r := PositionRisk(asset, pos, decimal.NewFromInt(150), decimal.NewFromInt(1))

	require.True(t, r.LTV.Equal(decimal.NewFromInt(30)), "ltv %s", r.LTV)
	require.True(t, r.LiquidationPrice.Equal(decimal.NewFromInt(400)), "liq %s", r.LiquidationPrice)
	require.Positive(t, r.MaxLoanable.Sign())
	require.Positive(t, r.MinCollateral.Sign())

	// The derived bounds agree with each other: current debt is below the
	// max loanable, current collateral above the required minimum.
	require.Negative(t, pos.DebtAmount.Cmp(r.MaxLoanable))
	require.Positive(t, pos.CollateralAmount.Cmp(r.MinCollateral))
}
