package stability

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
	nativecommon "github.com/stablis/stablis-contracts/native/common"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

// Offset cancels liquidated debt against the pooled deposits and books the
// seized collateral as a pro-rata gain. Only the position ledger may call
// it. An empty pool or zero debt is a silent no-op so a liquidation batch
// can always run its redistribution half.
func (e *Engine) Offset(caller crypto.Address, asset string, debtToOffset, collToAdd *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !caller.Equal(e.positionsAuthority) {
		return ErrUnauthorized
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	if debtToOffset == nil || debtToOffset.Sign() == 0 {
		return nil
	}

	st, err := e.ensurePoolState()
	if err != nil {
		return err
	}
	if st.TotalDeposits.Sign() == 0 {
		return nil
	}
	// A loss above one unit would drive the product negative; callers cap
	// the offset at the pooled total before handing off the remainder.
	if debtToOffset.Cmp(st.TotalDeposits) > 0 {
		return ErrOffsetExceedsDeposits
	}

	if err := e.triggerRewardIssuance(st); err != nil {
		return err
	}

	lossPerUnit, gainPerUnit := e.computeOffsetPerUnit(st, asset, debtToOffset, collToAdd)

	if err := e.updateSumAndProduct(st, asset, lossPerUnit, gainPerUnit); err != nil {
		return err
	}

	st.TotalDeposits = new(big.Int).Sub(st.TotalDeposits, debtToOffset)
	e.trackAsset(st, asset)
	balance := st.CollBalances[asset]
	if balance == nil {
		balance = big.NewInt(0)
	}
	if collToAdd != nil {
		st.CollBalances[asset] = new(big.Int).Add(balance, collToAdd)
	}

	if err := e.state.PutPoolState(st); err != nil {
		return err
	}

	// The offset debt leaves circulation; the collateral transfer into the
	// pool's vault is driven by the caller after this returns.
	if e.token != nil {
		if err := e.token.Burn(e.account, debtToOffset); err != nil {
			return err
		}
	}

	e.emitEvent(poolEvent{evt: newOffsetEvent(asset, debtToOffset, collToAdd, st.P)})
	return nil
}

// computeOffsetPerUnit derives the per-unit loss and collateral gain with
// error feedback. When the offset consumes the entire pool the loss is
// forced to exactly one unit so every deposit compounds to exactly zero.
func (e *Engine) computeOffsetPerUnit(st *PoolState, asset string, debtToOffset, collToAdd *big.Int) (lossPerUnit, gainPerUnit *big.Int) {
	collErr := st.LastCollError[asset]
	if collErr == nil {
		collErr = big.NewInt(0)
	}
	gainPerUnit, newCollErr := fixedpoint.SplitFloor(collToAdd, st.TotalDeposits, collErr)
	st.LastCollError[asset] = newCollErr

	if debtToOffset.Cmp(st.TotalDeposits) == 0 {
		lossPerUnit = new(big.Int).Set(fixedpoint.One)
		st.LastLossError = big.NewInt(0)
		return lossPerUnit, gainPerUnit
	}

	lossPerUnit, newLossErr := fixedpoint.SplitCeil(debtToOffset, st.TotalDeposits, st.LastLossError)
	st.LastLossError = newLossErr
	return lossPerUnit, gainPerUnit
}

// updateSumAndProduct folds the per-unit gain into S using the pre-update
// product, then applies the loss factor to P with the epoch/scale rules.
func (e *Engine) updateSumAndProduct(st *PoolState, asset string, lossPerUnit, gainPerUnit *big.Int) error {
	currentS, err := e.state.SumS(st.CurrentEpoch, st.CurrentScale, asset)
	if err != nil {
		return err
	}
	marginalGain := new(big.Int).Mul(gainPerUnit, st.P)
	newS := new(big.Int).Add(currentS, marginalGain)
	if err := e.state.PutSumS(st.CurrentEpoch, st.CurrentScale, asset, newS); err != nil {
		return err
	}

	newFactor := new(big.Int).Sub(fixedpoint.One, lossPerUnit)
	switch {
	case newFactor.Sign() == 0:
		// Pool fully emptied: every live deposit is now permanently zero,
		// detected via the epoch comparison.
		st.CurrentEpoch++
		st.CurrentScale = 0
		st.P = new(big.Int).Set(fixedpoint.One)
		e.emitEvent(poolEvent{evt: newEpochUpdatedEvent(st.CurrentEpoch)})
		e.emitEvent(poolEvent{evt: newScaleUpdatedEvent(st.CurrentScale)})
	default:
		scaled := new(big.Int).Mul(st.P, newFactor)
		scaled.Quo(scaled, fixedpoint.One)
		if scaled.Cmp(fixedpoint.ScaleBoundary) < 0 {
			rescaled := new(big.Int).Mul(st.P, newFactor)
			rescaled.Mul(rescaled, fixedpoint.ScaleBoundary)
			rescaled.Quo(rescaled, fixedpoint.One)
			st.P = rescaled
			st.CurrentScale++
			e.emitEvent(poolEvent{evt: newScaleUpdatedEvent(st.CurrentScale)})
		} else {
			st.P = scaled
		}
		if st.P.Sign() == 0 {
			return ErrZeroProduct
		}
	}
	return nil
}

// triggerRewardIssuance pulls newly emitted reward tokens and folds them
// into G for the current epoch and scale.
func (e *Engine) triggerRewardIssuance(st *PoolState) error {
	if e.issuance == nil {
		return nil
	}
	issued, err := e.issuance.Issue()
	if err != nil {
		return err
	}
	if issued == nil || issued.Sign() == 0 || st.TotalDeposits.Sign() == 0 {
		return nil
	}

	perUnit, newErr := fixedpoint.SplitFloor(issued, st.TotalDeposits, st.LastRewardError)
	st.LastRewardError = newErr

	currentG, err := e.state.SumG(st.CurrentEpoch, st.CurrentScale)
	if err != nil {
		return err
	}
	marginal := new(big.Int).Mul(perUnit, st.P)
	newG := new(big.Int).Add(currentG, marginal)
	return e.state.PutSumG(st.CurrentEpoch, st.CurrentScale, newG)
}

func (e *Engine) trackAsset(st *PoolState, asset string) {
	for _, known := range st.Assets {
		if known == asset {
			return
		}
	}
	st.Assets = append(st.Assets, asset)
}
