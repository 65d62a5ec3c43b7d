package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// AssetState is the lifecycle state of a futures asset, derived from its
// expiration timestamp and settle price rather than stored.
type AssetState string

const (
	// AssetActive means the asset has not expired; minting is allowed.
	AssetActive AssetState = "active"
	// AssetExpired means the expiration has passed but no settle price has
	// been recorded yet. Minting is stopped and the asset is settleable.
	AssetExpired AssetState = "expired"
	// AssetSettled means a settle price has been recorded; redemption and
	// position close are allowed, nothing else.
	AssetSettled AssetState = "settled"
)

// TradingHours is the UTC trading window for assets whose underlying market
// has defined hours (equities, FX). The zero value means the market is open
// around the clock. A window may wrap midnight (Open > Close).
type TradingHours struct {
	OpenMinuteUTC  int
	CloseMinuteUTC int
	WeekendClosed  bool
}

// AlwaysOpen reports whether no trading window is configured.
func (h TradingHours) AlwaysOpen() bool {
	return h.OpenMinuteUTC == 0 && h.CloseMinuteUTC == 0 && !h.WeekendClosed
}

// Asset is a synthetic futures asset: a debt token minted against collateral
// held in the vault manager. All fields except SettlePrice are immutable
// once the asset is created on-chain.
type Asset struct {
	// ID is the lowercase hex address of the synthetic debt token.
	ID string
	// Currency is the price-feed-linked underlying of the synthetic.
	Currency Currency
	// Collateral is the backing collateral currency.
	Collateral Currency
	// Expiration is the instant after which minting stops.
	Expiration time.Time
	// MaxLTV, LiquidationThreshold are scaled by LTVPrecision.
	// Invariant: 0 < MaxLTV < LiquidationThreshold <= LTVPrecision.
	MaxLTV               uint64
	LiquidationThreshold uint64
	LTVPrecision         uint64
	// MinDebt is the debt floor in native debt-token units; nil or zero
	// means no minimum.
	MinDebt *big.Int
	// SettlePrice is zero until settlement. Once set it is immutable and
	// defines the redemption exchange rate in collateral per debt unit.
	SettlePrice decimal.Decimal
	// Hours is the underlying market's trading window, if any.
	Hours TradingHours
}

// State derives the lifecycle state at the given instant.
func (a Asset) State(now time.Time) AssetState {
	if a.SettlePrice.IsPositive() {
		return AssetSettled
	}
	if !now.Before(a.Expiration) {
		return AssetExpired
	}
	return AssetActive
}

// MinDebtOrZero returns the debt floor, substituting zero for nil.
func (a Asset) MinDebtOrZero() *big.Int {
	if a.MinDebt == nil {
		return new(big.Int)
	}
	return a.MinDebt
}

// Validate checks the risk-parameter invariant. Assets that fail validation
// must never reach the risk engine.
func (a Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset: empty id")
	}
	if a.LTVPrecision == 0 {
		return fmt.Errorf("asset %s: ltv precision must be positive", a.ID)
	}
	if a.MaxLTV == 0 || a.MaxLTV >= a.LiquidationThreshold {
		return fmt.Errorf("asset %s: require 0 < maxLTV (%d) < liquidationThreshold (%d)",
			a.ID, a.MaxLTV, a.LiquidationThreshold)
	}
	if a.LiquidationThreshold > a.LTVPrecision {
		return fmt.Errorf("asset %s: liquidationThreshold (%d) exceeds precision (%d)",
			a.ID, a.LiquidationThreshold, a.LTVPrecision)
	}
	if a.MinDebt != nil && a.MinDebt.Sign() < 0 {
		return fmt.Errorf("asset %s: negative minDebt", a.ID)
	}
	return nil
}
