package core

import "errors"

var (
	// ErrInsufficientFunds rejects transfers and burns above the balance.
	ErrInsufficientFunds = errors.New("core ledger: insufficient funds")
	// ErrInvalidAmount rejects zero or negative value movements.
	ErrInvalidAmount = errors.New("core ledger: amount must be positive")
	// ErrNoPrice means the oracle holds no price for the asset.
	ErrNoPrice = errors.New("core ledger: no price for asset")
	// ErrBelowMCR rejects operations leaving a position under the minimum
	// collateral ratio.
	ErrBelowMCR = errors.New("core ledger: collateral ratio below minimum")
	// ErrBelowMinNetDebt rejects positions smaller than the configured floor.
	ErrBelowMinNetDebt = errors.New("core ledger: net debt below minimum")
	// ErrNoSurplus means the owner has no claimable collateral surplus.
	ErrNoSurplus = errors.New("core ledger: no claimable surplus")
)
