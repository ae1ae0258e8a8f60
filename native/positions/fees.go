package positions

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

var (
	// minuteDecayFactor halves the base rate roughly every 12 hours.
	minuteDecayFactor = big.NewInt(999037758833783000)
	// beta divides the redemption size when bumping the base rate.
	beta = big.NewInt(2)

	maxFeePercent = new(big.Int).Set(fixedpoint.One)
)

const secondsPerMinute = 60

// decayedBaseRate applies the exponential minute decay to the stored base
// rate without persisting anything.
func (e *Engine) decayedBaseRate(st *AssetState) *big.Int {
	minutes := e.minutesSinceFeeOp(st)
	if minutes == 0 {
		return new(big.Int).Set(st.BaseRate)
	}
	factor := fixedpoint.DecPow(minuteDecayFactor, minutes)
	return fixedpoint.DecMul(st.BaseRate, factor)
}

func (e *Engine) minutesSinceFeeOp(st *AssetState) uint64 {
	now := e.clock().Unix()
	if st.LastFeeOperation == 0 || now <= st.LastFeeOperation {
		return 0
	}
	return uint64(now-st.LastFeeOperation) / secondsPerMinute
}

// updateLastFeeOpTime advances the decay anchor only once a full minute has
// passed, so rapid operations cannot suppress the decay.
func (e *Engine) updateLastFeeOpTime(st *AssetState) {
	now := e.clock().Unix()
	if now-st.LastFeeOperation >= secondsPerMinute {
		st.LastFeeOperation = now
	}
}

// DecayBaseRate persists the decayed base rate, for the operations caller
// that charges a borrowing fee and must anchor the decay first.
func (e *Engine) DecayBaseRate(caller crypto.Address, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.requireOperations(caller); err != nil {
		return nil, err
	}
	st, err := e.ensureAssetState(asset)
	if err != nil {
		return nil, err
	}
	st.BaseRate = e.decayedBaseRate(st)
	e.updateLastFeeOpTime(st)
	if err := e.state.PutAssetState(asset, st); err != nil {
		return nil, err
	}
	return new(big.Int).Set(st.BaseRate), nil
}

// updateBaseRateFromRedemption decays the base rate and bumps it in
// proportion to the redeemed share of total supply, capped at 100%.
func (e *Engine) updateBaseRateFromRedemption(st *AssetState, collDrawn, price, totalSupply *big.Int) {
	decayed := e.decayedBaseRate(st)

	if totalSupply != nil && totalSupply.Sign() > 0 {
		redeemedFraction := new(big.Int).Mul(collDrawn, price)
		redeemedFraction.Quo(redeemedFraction, totalSupply)
		bump := new(big.Int).Quo(redeemedFraction, beta)
		decayed.Add(decayed, bump)
	}
	if decayed.Cmp(fixedpoint.One) > 0 {
		decayed = new(big.Int).Set(fixedpoint.One)
	}
	st.BaseRate = decayed
	e.updateLastFeeOpTime(st)
}

// RedemptionRate reports the current redemption fee rate: floor plus the
// decayed base rate, capped at 100%.
func (e *Engine) RedemptionRate(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	st, err := e.ensureAssetState(asset)
	if err != nil {
		return nil, err
	}
	return e.redemptionRate(st, asset, e.decayedBaseRate(st))
}

func (e *Engine) redemptionRate(st *AssetState, asset string, baseRate *big.Int) (*big.Int, error) {
	floor, err := e.params.RedemptionFeeFloor(asset)
	if err != nil {
		return nil, err
	}
	rate := new(big.Int).Add(floor, baseRate)
	return fixedpoint.Min(rate, maxFeePercent), nil
}

// BorrowingRate reports the current borrowing fee rate: floor plus decayed
// base rate, capped at the configured maximum.
func (e *Engine) BorrowingRate(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	st, err := e.ensureAssetState(asset)
	if err != nil {
		return nil, err
	}
	floor, err := e.params.BorrowingFeeFloor(asset)
	if err != nil {
		return nil, err
	}
	ceiling, err := e.params.MaxBorrowingFee(asset)
	if err != nil {
		return nil, err
	}
	rate := new(big.Int).Add(floor, e.decayedBaseRate(st))
	return fixedpoint.Min(rate, ceiling), nil
}

// BorrowingFee computes the fee charged on newly drawn debt.
func (e *Engine) BorrowingFee(asset string, debtDrawn *big.Int) (*big.Int, error) {
	rate, err := e.BorrowingRate(asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.DecMul(rate, debtDrawn), nil
}

// BaseRate reports the stored, undecayed base rate.
func (e *Engine) BaseRate(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	st, err := e.ensureAssetState(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(st.BaseRate), nil
}
