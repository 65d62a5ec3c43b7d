// Package risk implements the loan-to-value math for collateralized futures
// positions. Every function is pure: prices and amounts in, a derived figure
// out, with degenerate inputs mapped to zero rather than errors so callers
// never branch on exceptions.
//
// Amounts are native token units (*big.Int); prices are decimals in the
// quote currency. Intermediate math runs on exact rationals and the final
// unit conversion is floored (for borrowable amounts) or ceiled (for
// required collateral), so results are always on the safe side of the
// contract's own checks.
package risk

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/clearhedge/futuresd/internal/domain"
)

// ltvDisplayPlaces is the rounding applied to percentage and price outputs.
// Amount outputs are exact in native units and unaffected.
const ltvDisplayPlaces = 8

// Ltv returns the loan-to-value of a position as a percentage (70 means
// 70%). A position with zero collateral value reports 0, never NaN: zero
// collateral means "no position", and every caller renders it that way.
func Ltv(
	debt domain.Currency, debtPrice decimal.Decimal, debtAmount *big.Int,
	coll domain.Currency, collPrice decimal.Decimal, collAmount *big.Int,
) decimal.Decimal {
	debtValue := value(debt, debtPrice, debtAmount)
	collValue := value(coll, collPrice, collAmount)
	if collValue.Sign() <= 0 || debtValue.Sign() <= 0 {
		return decimal.Zero
	}

	r := new(big.Rat).Quo(debtValue, collValue)
	r.Mul(r, big.NewRat(100, 1))
	return ratToDecimal(r)
}

// LiquidationPrice returns the debt-asset price at which the position's LTV
// reaches the liquidation threshold, holding the collateral price fixed:
//
//	p = collateralValue * threshold / (precision * debtAmount)
//
// It returns 0 ("no liquidation risk") when the position has no debt.
func LiquidationPrice(
	debt domain.Currency, debtAmount *big.Int,
	coll domain.Currency, collPrice decimal.Decimal, collAmount *big.Int,
	liquidationThreshold, ltvPrecision uint64,
) decimal.Decimal {
	if debtAmount == nil || debtAmount.Sign() == 0 {
		return decimal.Zero
	}
	collValue := value(coll, collPrice, collAmount)
	if collValue.Sign() <= 0 || liquidationThreshold == 0 || ltvPrecision == 0 {
		return decimal.Zero
	}

	r := new(big.Rat).Mul(collValue, ratio(liquidationThreshold, ltvPrecision))
	r.Quo(r, units(debt, debtAmount))
	return ratToDecimal(r)
}

// MaxLoanableAmount returns the largest debt amount (native debt units)
// borrowable against the given collateral without exceeding maxLTV. The
// result is floored to a whole native unit, so applying Ltv to it never
// reports more than maxLTV.
//
// A zero price on either side saturates to 0: an unavailable oracle means
// nothing is borrowable, not that borrowing is free.
func MaxLoanableAmount(
	debt domain.Currency, debtPrice decimal.Decimal,
	coll domain.Currency, collPrice decimal.Decimal, collAmount *big.Int,
	maxLTV, ltvPrecision uint64,
) *big.Int {
	if debtPrice.Sign() <= 0 || collPrice.Sign() <= 0 || maxLTV == 0 || ltvPrecision == 0 {
		return new(big.Int)
	}
	collValue := value(coll, collPrice, collAmount)
	if collValue.Sign() <= 0 {
		return new(big.Int)
	}

	// maxDebtValue = collValue * maxLTV / precision, then into debt units.
	r := new(big.Rat).Mul(collValue, ratio(maxLTV, ltvPrecision))
	r.Quo(r, debtPrice.Rat())
	r.Mul(r, pow10(debt.Decimals))
	return ratFloor(r)
}

// MinCollateralAmount returns the smallest collateral amount (native
// collateral units) under which the given debt stays at or below maxLTV.
// The bound is deliberately maxLTV, not the liquidation threshold: it caps
// collateral withdrawal with the same conservative buffer the borrow path
// uses. The result is ceiled to a whole native unit, so applying Ltv to it
// never reports more than maxLTV.
func MinCollateralAmount(
	debt domain.Currency, debtPrice decimal.Decimal, debtAmount *big.Int,
	coll domain.Currency, collPrice decimal.Decimal,
	maxLTV, ltvPrecision uint64,
) *big.Int {
	if debtAmount == nil || debtAmount.Sign() == 0 {
		return new(big.Int)
	}
	if debtPrice.Sign() <= 0 || collPrice.Sign() <= 0 || maxLTV == 0 || ltvPrecision == 0 {
		return new(big.Int)
	}

	debtValue := value(debt, debtPrice, debtAmount)

	// minCollValue = debtValue * precision / maxLTV, then into collateral units.
	r := new(big.Rat).Mul(debtValue, ratio(ltvPrecision, maxLTV))
	r.Quo(r, collPrice.Rat())
	r.Mul(r, pow10(coll.Decimals))
	return ratCeil(r)
}

// PositionRisk bundles all four derived figures for a position under one
// price snapshot.
func PositionRisk(
	asset domain.Asset, pos domain.Position,
	debtPrice, collPrice decimal.Decimal,
) domain.PositionRisk {
	return domain.PositionRisk{
		LTV: Ltv(
			asset.Currency, debtPrice, pos.Debt(),
			asset.Collateral, collPrice, pos.Collateral(),
		),
		LiquidationPrice: LiquidationPrice(
			asset.Currency, pos.Debt(),
			asset.Collateral, collPrice, pos.Collateral(),
			asset.LiquidationThreshold, asset.LTVPrecision,
		),
		MaxLoanable: MaxLoanableAmount(
			asset.Currency, debtPrice,
			asset.Collateral, collPrice, pos.Collateral(),
			asset.MaxLTV, asset.LTVPrecision,
		),
		MinCollateral: MinCollateralAmount(
			asset.Currency, debtPrice, pos.Debt(),
			asset.Collateral, collPrice,
			asset.MaxLTV, asset.LTVPrecision,
		),
	}
}

// ---------------------------------------------------------------------------
// Exact-rational helpers
// ---------------------------------------------------------------------------

// units converts a native amount into whole currency units as a rational.
func units(c domain.Currency, amount *big.Int) *big.Rat {
	if amount == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(new(big.Int).Set(amount), pow10Int(c.Decimals))
}

// value is units * price, exact.
func value(c domain.Currency, price decimal.Decimal, amount *big.Int) *big.Rat {
	if amount == nil || amount.Sign() == 0 || price.Sign() <= 0 {
		return new(big.Rat)
	}
	return new(big.Rat).Mul(units(c, amount), price.Rat())
}

func ratio(num, den uint64) *big.Rat {
	return new(big.Rat).SetFrac(
		new(big.Int).SetUint64(num),
		new(big.Int).SetUint64(den),
	)
}

func pow10Int(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func pow10(n uint8) *big.Rat {
	return new(big.Rat).SetInt(pow10Int(n))
}

func ratFloor(r *big.Rat) *big.Int {
	out := new(big.Int).Quo(r.Num(), r.Denom())
	if r.Sign() < 0 && !r.IsInt() {
		out.Sub(out, big.NewInt(1))
	}
	return out
}

func ratCeil(r *big.Rat) *big.Int {
	out := new(big.Int).Quo(r.Num(), r.Denom())
	if r.Sign() > 0 && !r.IsInt() {
		out.Add(out, big.NewInt(1))
	}
	return out
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	num := decimal.NewFromBigInt(r.Num(), 0)
	den := decimal.NewFromBigInt(r.Denom(), 0)
	return num.DivRound(den, ltvDisplayPlaces)
}
