package positions

import (
	"math/big"

	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

// accrueInterest advances the asset interest index by the simple factor
// 1 + rate*dt and mints the newly accrued debt on the aggregate to the fee
// account. Per-position debt catches up lazily through applyInterest.
// Returns the minted amount.
func (e *Engine) accrueInterest(st *AssetState, asset string) (*big.Int, error) {
	minted := big.NewInt(0)
	if e.params == nil {
		return minted, nil
	}
	enabled, err := e.params.InterestEnabled(asset)
	if err != nil {
		return nil, err
	}
	now := e.clock().Unix()
	if !enabled {
		st.InterestAccruedAt = now
		return minted, nil
	}
	elapsed := now - st.InterestAccruedAt
	if elapsed <= 0 || st.InterestAccruedAt == 0 {
		st.InterestAccruedAt = now
		return minted, nil
	}

	rate, err := e.params.InterestRatePerSecond(asset)
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() == 0 {
		st.InterestAccruedAt = now
		return minted, nil
	}

	factor := new(big.Int).Mul(rate, big.NewInt(elapsed))
	factor.Add(factor, fixedpoint.One)

	newIndex := new(big.Int).Mul(st.InterestIndex, factor)
	newIndex.Quo(newIndex, fixedpoint.One)
	st.InterestIndex = newIndex
	st.InterestAccruedAt = now

	activeDebt, err := e.active.Debt(asset)
	if err != nil {
		return nil, err
	}
	if activeDebt != nil && activeDebt.Sign() > 0 {
		delta := new(big.Int).Sub(factor, fixedpoint.One)
		delta.Mul(activeDebt, delta)
		delta.Quo(delta, fixedpoint.One)
		if delta.Sign() > 0 {
			if err := e.active.IncreaseDebt(asset, delta); err != nil {
				return nil, err
			}
			if err := e.token.Mint(e.accounts.Fee, delta); err != nil {
				return nil, err
			}
			if e.staking != nil {
				if err := e.staking.ReceiveStableFee(delta); err != nil {
					return nil, err
				}
			}
			minted = delta
			e.emitEvent(ledgerEvent{evt: newInterestAccruedEvent(asset, st.InterestIndex, delta)})
		}
	}
	return minted, nil
}

// applyInterest scales a position's debt by the index growth since its
// snapshot. Idempotent once the snapshot matches the current index.
func (e *Engine) applyInterest(st *AssetState, position *Position) {
	if position == nil || position.Debt == nil {
		return
	}
	snapshot := position.InterestSnapshot
	if snapshot == nil || snapshot.Sign() == 0 {
		position.InterestSnapshot = new(big.Int).Set(st.InterestIndex)
		return
	}
	if snapshot.Cmp(st.InterestIndex) == 0 {
		return
	}
	grown := new(big.Int).Mul(position.Debt, st.InterestIndex)
	grown.Quo(grown, snapshot)
	position.Debt = grown
	position.InterestSnapshot = new(big.Int).Set(st.InterestIndex)
}

// AccrueInterest advances the interest index outside of any position
// operation, for keepers that want regular accrual ticks.
func (e *Engine) AccrueInterest(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	st, err := e.ensureAssetState(asset)
	if err != nil {
		return nil, err
	}
	minted, err := e.accrueInterest(st, asset)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutAssetState(asset, st); err != nil {
		return nil, err
	}
	return minted, nil
}
