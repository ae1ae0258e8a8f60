package stability

import "errors"

var (
	// ErrNilState signals an engine used before its state was wired.
	ErrNilState = errors.New("stability engine: state not configured")
	// ErrUnauthorized rejects offset calls from anyone but the positions
	// authority.
	ErrUnauthorized = errors.New("stability engine: caller is not the positions authority")
	// ErrInvalidAmount rejects zero or negative amounts on provide.
	ErrInvalidAmount = errors.New("stability engine: amount must be positive")
	// ErrNoDeposit rejects withdraw variants without an existing deposit.
	ErrNoDeposit = errors.New("stability engine: no existing deposit")
	// ErrNoPosition rejects gain-to-position calls without an open position.
	ErrNoPosition = errors.New("stability engine: caller has no open position for asset")
	// ErrNoCollateralGain rejects gain-to-position calls with nothing to move.
	ErrNoCollateralGain = errors.New("stability engine: no collateral gain to withdraw")
	// ErrUnderCollateralized blocks non-zero withdrawals while liquidatable
	// positions exist anywhere.
	ErrUnderCollateralized = errors.New("stability engine: under-collateralized positions outstanding")
	// ErrZeroProduct guards the invariant that the compounding product never
	// floors to zero outside an epoch rollover.
	ErrZeroProduct = errors.New("stability engine: product update would reach zero")
	// ErrOffsetExceedsDeposits rejects an offset larger than the pooled total.
	ErrOffsetExceedsDeposits = errors.New("stability engine: offset exceeds pooled deposits")
)
