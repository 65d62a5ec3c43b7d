// Package domain defines the core data model for the synthetic futures
// engine: currencies, assets, positions, pending actions, transaction
// records, and the store/cache/adapter interfaces implemented elsewhere.
package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Currency describes an ERC-20 token that participates in a vault either as
// the synthetic debt side or as backing collateral.
type Currency struct {
	// ID is the lowercase hex token contract address.
	ID       string
	Symbol   string
	Name     string
	Decimals uint8
	// PriceFeedID is the 32-byte oracle price-feed identifier (hex) for the
	// currency's underlying. Empty for stable collateral pegged to $1.
	PriceFeedID string
}

// AmountToDecimal converts a native token amount into a decimal in whole
// currency units (e.g. wei -> ether).
func (c Currency) AmountToDecimal(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(c.Decimals))
}

// DecimalToAmount converts whole currency units back to a native token
// amount, truncating any fraction smaller than one native unit.
func (c Currency) DecimalToAmount(d decimal.Decimal) *big.Int {
	shifted := d.Shift(int32(c.Decimals))
	return shifted.BigInt()
}
