package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Position is a user's collateralized debt position in one asset's vault.
// It is created implicitly by the first borrow and becomes terminal when
// both amounts reach zero or the vault is consumed by close/redeem.
type Position struct {
	AssetID string
	// Owner is the lowercase hex address of the position holder.
	Owner string
	// CollateralAmount and DebtAmount are native token units, never negative.
	CollateralAmount *big.Int
	DebtAmount       *big.Int
	// AveragePrice is the cost basis of the synthetic exposure. Display
	// only; it never feeds risk math.
	AveragePrice decimal.Decimal
	// IndexedBlock is the block at which the indexer last reflected this
	// position.
	IndexedBlock uint64
}

// Collateral returns the collateral amount, substituting zero for nil.
func (p Position) Collateral() *big.Int {
	if p.CollateralAmount == nil {
		return new(big.Int)
	}
	return p.CollateralAmount
}

// Debt returns the debt amount, substituting zero for nil.
func (p Position) Debt() *big.Int {
	if p.DebtAmount == nil {
		return new(big.Int)
	}
	return p.DebtAmount
}

// Terminal reports whether the position is fully unwound.
func (p Position) Terminal() bool {
	return p.Debt().Sign() == 0 && p.Collateral().Sign() == 0
}

// PositionRisk carries the derived risk figures for a position. These are
// always recomputed from current prices and never cached across price
// updates.
type PositionRisk struct {
	// LTV is the loan-to-value as a percentage (70 means 70%). Zero when
	// the position holds no collateral.
	LTV decimal.Decimal
	// LiquidationPrice is the debt-asset price at which the position hits
	// the liquidation threshold. Zero means no liquidation risk.
	LiquidationPrice decimal.Decimal
	// MaxLoanable is the total debt amount (native units) the position's
	// collateral supports at maxLTV, independent of current debt.
	MaxLoanable *big.Int
	// MinCollateral is the smallest collateral amount (native units) that
	// keeps the current debt at or under maxLTV.
	MinCollateral *big.Int
}
