package positions

import "errors"

var (
	// ErrNilState signals an engine used before its state was wired.
	ErrNilState = errors.New("positions engine: state not configured")
	// ErrUnauthorized rejects mutator calls from anyone but the operations
	// authority.
	ErrUnauthorized = errors.New("positions engine: caller is not the operations authority")
	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("positions engine: amount must be positive")
	// ErrPositionActive rejects opening over an already active slot.
	ErrPositionActive = errors.New("positions engine: position already active")
	// ErrPositionNotActive rejects mutations of closed or nonexistent slots.
	ErrPositionNotActive = errors.New("positions engine: position not active")
	// ErrDebtBelowReserve guards the invariant debt >= incentive reserve.
	ErrDebtBelowReserve = errors.New("positions engine: debt below liquidation reserve")
	// ErrLastPosition guards the invariant that the ratio index never empties.
	ErrLastPosition = errors.New("positions engine: cannot remove the last remaining position")
	// ErrNothingToLiquidate means no batch candidate was below the minimum
	// collateral ratio.
	ErrNothingToLiquidate = errors.New("positions engine: nothing to liquidate")
	// ErrNoValidHint means the caller supplied a first hint that is not a
	// redeemable start and the fallback scan found none either. A hintless
	// call in the same situation gets ErrNothingRedeemed instead, so hint
	// helpers can tell a stale hint from an unredeemable book.
	ErrNoValidHint = errors.New("positions engine: no valid redemption hint")
	// ErrInsufficientBalance means the redeemer holds less stable tokens
	// than requested.
	ErrInsufficientBalance = errors.New("positions engine: insufficient stable token balance")
	// ErrFeeExceedsMax means the redemption fee rate breached the caller's
	// ceiling.
	ErrFeeExceedsMax = errors.New("positions engine: fee exceeds caller maximum")
	// ErrMaxFeeOutOfRange rejects a fee ceiling outside [floor, 100%].
	ErrMaxFeeOutOfRange = errors.New("positions engine: max fee percentage out of range")
	// ErrFeeExceedsDrawn guards the invariant fee < collateral drawn; it
	// should never trigger under correct integration.
	ErrFeeExceedsDrawn = errors.New("positions engine: fee would consume the drawn collateral")
	// ErrNothingRedeemed means the walk redeemed no debt at all: no position
	// was redeemable without a hint, or every attempted step cancelled.
	ErrNothingRedeemed = errors.New("positions engine: nothing redeemed")
	// ErrBelowBootstrapPeriod blocks redemption during the bootstrap window.
	ErrBelowBootstrapPeriod = errors.New("positions engine: redemption locked during bootstrap period")
	// ErrTCRBelowMCR blocks redemption while the system ratio is unsafe.
	ErrTCRBelowMCR = errors.New("positions engine: total collateral ratio below minimum")
)
