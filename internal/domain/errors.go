package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrMarketClosed           = errors.New("market closed")
	ErrAssetExpired           = errors.New("asset expired")
	ErrAssetNotExpired        = errors.New("asset not expired")
	ErrAlreadySettled         = errors.New("already settled")
	ErrNotSettled             = errors.New("not settled")
	ErrBelowMinDebt           = errors.New("remaining debt below minimum")
	ErrExceedsMaxLTV          = errors.New("position would exceed max LTV")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrDebtOutstanding        = errors.New("debt outstanding")
	ErrZeroAmount             = errors.New("zero amount")
	ErrPriceUnavailable       = errors.New("price unavailable")
	ErrEmptyOracleUpdate      = errors.New("empty oracle update payload")
	ErrVaultNotFound          = errors.New("vault does not exist")
	ErrLockHeld               = errors.New("lock already held")
)
