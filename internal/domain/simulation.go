package domain

// SimulationStatus is the decoded outcome of simulating a vault call. Revert
// selectors are decoded once at the chain-adapter boundary so no other
// component pattern-matches on raw error strings.
type SimulationStatus int

const (
	SimOk SimulationStatus = iota
	// SimMarketClosed means the oracle refused a price update because the
	// underlying market is outside trading hours.
	SimMarketClosed
	SimAlreadySettled
	SimNotSettled
	SimInsufficientCollateral
	SimVaultNotFound
	// SimOther covers reverts the adapter could not classify. Callers
	// treat it as "assume open, proceed" for the market-hours check.
	SimOther
)

// String returns the snake_case name of the status.
func (s SimulationStatus) String() string {
	switch s {
	case SimOk:
		return "ok"
	case SimMarketClosed:
		return "market_closed"
	case SimAlreadySettled:
		return "already_settled"
	case SimNotSettled:
		return "not_settled"
	case SimInsufficientCollateral:
		return "insufficient_collateral"
	case SimVaultNotFound:
		return "vault_not_found"
	default:
		return "other"
	}
}

// SimulationResult is the typed outcome of a pre-submission simulation.
type SimulationResult struct {
	Status SimulationStatus
	// Detail carries the raw revert reason for SimOther, empty otherwise.
	Detail string
}

// Blocking reports whether the result must stop submission outright.
func (r SimulationResult) Blocking() bool {
	switch r.Status {
	case SimMarketClosed, SimAlreadySettled, SimNotSettled, SimInsufficientCollateral, SimVaultNotFound:
		return true
	default:
		return false
	}
}
