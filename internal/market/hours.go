// Package market implements the advisory trading-hours check for assets
// whose underlying has defined market hours. The local clock check is a
// fast pre-filter only; the authoritative answer comes from simulating the
// oracle update on-chain.
package market

import (
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
)

// IsOpen reports whether the underlying market is open at the given instant
// according to the asset's configured UTC trading window. Windows may wrap
// midnight (open > close means the session spans 00:00 UTC).
func IsOpen(h domain.TradingHours, at time.Time) bool {
	if h.AlwaysOpen() {
		return true
	}

	utc := at.UTC()
	if h.WeekendClosed {
		switch utc.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}

	if h.OpenMinuteUTC == h.CloseMinuteUTC {
		// Degenerate window with weekend handling only.
		return true
	}

	minute := utc.Hour()*60 + utc.Minute()
	if h.OpenMinuteUTC < h.CloseMinuteUTC {
		return minute >= h.OpenMinuteUTC && minute < h.CloseMinuteUTC
	}
	// Wrapping session.
	return minute >= h.OpenMinuteUTC || minute < h.CloseMinuteUTC
}

// NextOpen returns the next instant at or after `at` when the market opens.
// For always-open markets it returns `at` unchanged.
func NextOpen(h domain.TradingHours, at time.Time) time.Time {
	if IsOpen(h, at) {
		return at
	}

	utc := at.UTC().Truncate(time.Minute)
	// Scan forward minute by minute up to a week; trading windows repeat
	// daily so the first open minute is always within that horizon.
	for i := 0; i < 7*24*60; i++ {
		utc = utc.Add(time.Minute)
		if IsOpen(h, utc) {
			return utc
		}
	}
	return utc
}
