package fixedpoint

import "math/big"

// Error-feedback proportional splits. Floor division loses up to
// totalUnits-1 units of 1e18 precision per call; feeding the remainder into
// the next call keeps the cumulative drift below one unit of scale. The
// redistribution accumulators and the pool's gain sums use the floor form,
// the pool's loss-per-unit uses the ceiling form so compounded deposits
// never exceed the stable tokens actually held.

// SplitFloor distributes numerator across totalUnits, rounding down. prevErr
// is the remainder carried from the previous call; the returned newErr must
// be persisted for the next one.
func SplitFloor(numerator, totalUnits, prevErr *big.Int) (perUnit, newErr *big.Int) {
	if totalUnits == nil || totalUnits.Sign() == 0 {
		return big.NewInt(0), zeroOr(prevErr)
	}
	scaled := new(big.Int).Mul(numerator, One)
	if prevErr != nil {
		scaled.Add(scaled, prevErr)
	}
	perUnit = new(big.Int).Quo(scaled, totalUnits)
	newErr = new(big.Int).Mul(perUnit, totalUnits)
	newErr.Sub(scaled, newErr)
	return perUnit, newErr
}

// SplitCeil distributes numerator across totalUnits, rounding up, with the
// error fed back in the opposite direction.
func SplitCeil(numerator, totalUnits, prevErr *big.Int) (perUnit, newErr *big.Int) {
	if totalUnits == nil || totalUnits.Sign() == 0 {
		return big.NewInt(0), zeroOr(prevErr)
	}
	scaled := new(big.Int).Mul(numerator, One)
	if prevErr != nil {
		scaled.Sub(scaled, prevErr)
	}
	perUnit = new(big.Int).Quo(scaled, totalUnits)
	perUnit.Add(perUnit, big.NewInt(1))
	newErr = new(big.Int).Mul(perUnit, totalUnits)
	newErr.Sub(newErr, scaled)
	return perUnit, newErr
}

func zeroOr(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
