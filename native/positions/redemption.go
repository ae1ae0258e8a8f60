package positions

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
	nativecommon "github.com/stablis/stablis-contracts/native/common"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

// RedemptionResult summarizes one redemption walk.
type RedemptionResult struct {
	Attempted *big.Int
	Redeemed  *big.Int
	CollDrawn *big.Int
	Fee       *big.Int
}

// RedemptionHints steer the walk. FirstHint names the expected starting
// position; the partial hints position the final, partially redeemed
// position back into the ratio index. PartialTargetRatio is the nominal
// ratio the caller computed for that position; a mismatch at execution time
// cancels the partial step instead of inserting at a stale spot.
type RedemptionHints struct {
	FirstHint          crypto.Address
	PartialPrevHint    crypto.Address
	PartialNextHint    crypto.Address
	PartialTargetRatio *big.Int
}

// Redeem exchanges stable tokens for collateral at face value, walking
// positions from the riskiest upward. Positions below the minimum
// collateral ratio are skipped entirely; fully redeemed positions close
// with their leftover collateral parked as claimable surplus.
// maxIterations bounds the walk; zero or negative means unbounded.
// When no position qualifies as a start, a call that supplied a first hint
// fails with ErrNoValidHint and a hintless call with ErrNothingRedeemed.
func (e *Engine) Redeem(caller crypto.Address, asset string, amount, maxFee *big.Int, hints RedemptionHints, maxIterations int) (*RedemptionResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.reentry.Enter(); err != nil {
		return nil, err
	}
	defer e.reentry.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	if err := e.checkBootstrap(asset); err != nil {
		return nil, err
	}
	floor, err := e.params.RedemptionFeeFloor(asset)
	if err != nil {
		return nil, err
	}
	if maxFee == nil || maxFee.Cmp(floor) < 0 || maxFee.Cmp(maxFeePercent) > 0 {
		return nil, ErrMaxFeeOutOfRange
	}

	st, err := e.ensureAssetState(asset)
	if err != nil {
		return nil, err
	}
	if _, err := e.accrueInterest(st, asset); err != nil {
		return nil, err
	}

	price, err := e.oracle.FetchPrice(asset)
	if err != nil {
		return nil, err
	}
	mcr, err := e.params.MCR(asset)
	if err != nil {
		return nil, err
	}
	tcr, err := e.TCR(asset, price)
	if err != nil {
		return nil, err
	}
	if tcr.Cmp(mcr) < 0 {
		return nil, ErrTCRBelowMCR
	}

	balance, err := e.token.BalanceOf(caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	reserve, err := e.params.LiquidationReserve(asset)
	if err != nil {
		return nil, err
	}
	minNetDebt, err := e.params.MinNetDebt(asset)
	if err != nil {
		return nil, err
	}

	current, ok, err := e.redemptionStart(st, asset, hints.FirstHint, price, mcr)
	if err != nil {
		return nil, err
	}
	if !ok {
		if !hints.FirstHint.IsZero() {
			return nil, ErrNoValidHint
		}
		return nil, ErrNothingRedeemed
	}

	remaining := new(big.Int).Set(amount)
	redeemed := big.NewInt(0)
	collDrawn := big.NewInt(0)

	for iter := 0; remaining.Sign() > 0; iter++ {
		if maxIterations > 0 && iter >= maxIterations {
			break
		}
		next, hasNext := e.index.Prev(asset, current)

		done, err := e.redeemAgainst(st, asset, current, remaining, price, reserve, minNetDebt, hints, redeemed, collDrawn)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		if !hasNext {
			break
		}
		current = next
	}

	if redeemed.Sign() == 0 {
		return nil, ErrNothingRedeemed
	}

	totalSupply, err := e.token.TotalSupply()
	if err != nil {
		return nil, err
	}
	e.updateBaseRateFromRedemption(st, collDrawn, price, totalSupply)

	rate, err := e.redemptionRate(st, asset, st.BaseRate)
	if err != nil {
		return nil, err
	}
	fee := fixedpoint.DecMul(rate, collDrawn)
	if fee.Cmp(collDrawn) >= 0 {
		return nil, ErrFeeExceedsDrawn
	}
	if rate.Cmp(maxFee) > 0 {
		return nil, ErrFeeExceedsMax
	}

	if fee.Sign() > 0 {
		if err := e.active.SendCollateral(asset, e.accounts.Fee, fee); err != nil {
			return nil, err
		}
		if e.staking != nil {
			if err := e.staking.ReceiveCollateralFee(asset, fee); err != nil {
				return nil, err
			}
		}
	}

	if err := e.token.Burn(caller, redeemed); err != nil {
		return nil, err
	}
	if err := e.active.DecreaseDebt(asset, redeemed); err != nil {
		return nil, err
	}
	payout := new(big.Int).Sub(collDrawn, fee)
	if payout.Sign() > 0 {
		if err := e.active.SendCollateral(asset, caller, payout); err != nil {
			return nil, err
		}
	}

	if err := e.state.PutAssetState(asset, st); err != nil {
		return nil, err
	}

	e.emitEvent(ledgerEvent{evt: newRedemptionEvent(asset, caller, amount, redeemed, collDrawn, fee)})
	return &RedemptionResult{
		Attempted: new(big.Int).Set(amount),
		Redeemed:  redeemed,
		CollDrawn: collDrawn,
		Fee:       fee,
	}, nil
}

// redemptionStart validates the caller's first hint, falling back to a scan
// from the riskiest position upward. The valid start is the riskiest
// position at or above the minimum collateral ratio.
func (e *Engine) redemptionStart(st *AssetState, asset string, hint crypto.Address, price, mcr *big.Int) (crypto.Address, bool, error) {
	if !hint.IsZero() && e.index.Contains(asset, hint) {
		ratio, err := e.CurrentRatio(asset, hint, price)
		if err != nil {
			return crypto.Address{}, false, err
		}
		if ratio.Cmp(mcr) >= 0 {
			worse, hasWorse := e.index.Next(asset, hint)
			if !hasWorse {
				return hint, true, nil
			}
			worseRatio, err := e.CurrentRatio(asset, worse, price)
			if err != nil {
				return crypto.Address{}, false, err
			}
			if worseRatio.Cmp(mcr) < 0 {
				return hint, true, nil
			}
		}
	}

	current, ok := e.index.Last(asset)
	for ok {
		ratio, err := e.CurrentRatio(asset, current, price)
		if err != nil {
			return crypto.Address{}, false, err
		}
		if ratio.Cmp(mcr) >= 0 {
			return current, true, nil
		}
		current, ok = e.index.Prev(asset, current)
	}
	return crypto.Address{}, false, nil
}

// redeemAgainst cancels up to remaining debt against one position.
// Returns done=true when the walk must stop: a partial redemption either
// completed or was cancelled on a stale hint.
func (e *Engine) redeemAgainst(st *AssetState, asset string, owner crypto.Address, remaining, price, reserve, minNetDebt *big.Int, hints RedemptionHints, redeemed, collDrawn *big.Int) (bool, error) {
	position, err := e.activePosition(asset, owner)
	if err != nil {
		return false, err
	}
	if err := e.applyPendingRewards(st, asset, position); err != nil {
		return false, err
	}
	// The reward fold already moved value from the default ledger, so the
	// refreshed snapshots must land even when this step cancels or skips.
	if err := e.state.PutPosition(position); err != nil {
		return false, err
	}

	netDebt := new(big.Int).Sub(position.Debt, reserve)
	if netDebt.Sign() <= 0 {
		return false, nil
	}
	lot := fixedpoint.Min(remaining, netDebt)
	collLot := new(big.Int).Mul(lot, fixedpoint.One)
	collLot.Quo(collLot, price)

	newDebt := new(big.Int).Sub(position.Debt, lot)
	newColl := new(big.Int).Sub(position.Collateral, collLot)

	if newDebt.Cmp(reserve) == 0 {
		// Full redemption: the reserve is burned back out of circulation and
		// the leftover collateral parks as claimable surplus.
		e.removeStake(st, position)
		if err := e.closePosition(st, asset, position, StatusClosedByRedemption); err != nil {
			return false, err
		}
		if err := e.token.Burn(e.accounts.Reserve, reserve); err != nil {
			return false, err
		}
		if err := e.active.DecreaseDebt(asset, reserve); err != nil {
			return false, err
		}
		if newColl.Sign() > 0 {
			if err := e.surplus.Accrue(asset, owner, newColl); err != nil {
				return false, err
			}
			if err := e.active.SendCollateral(asset, e.accounts.Surplus, newColl); err != nil {
				return false, err
			}
		}
	} else {
		newNominal := fixedpoint.NominalRatio(newColl, newDebt)
		if hints.PartialTargetRatio != nil && newNominal.Cmp(hints.PartialTargetRatio) != 0 {
			return true, nil
		}
		if new(big.Int).Sub(newDebt, reserve).Cmp(minNetDebt) < 0 {
			return true, nil
		}
		position.Debt = newDebt
		position.Collateral = newColl
		e.updateStakeAndTotalStakes(st, position)
		e.index.Reinsert(asset, owner, newNominal, hints.PartialPrevHint, hints.PartialNextHint)
		if err := e.state.PutPosition(position); err != nil {
			return false, err
		}
	}

	remaining.Sub(remaining, lot)
	redeemed.Add(redeemed, lot)
	collDrawn.Add(collDrawn, collLot)
	return false, nil
}

func (e *Engine) checkBootstrap(asset string) error {
	period, err := e.params.BootstrapPeriod(asset)
	if err != nil {
		return err
	}
	if period <= 0 || e.launchTime.IsZero() {
		return nil
	}
	if e.clock().Before(e.launchTime.Add(period)) {
		return ErrBelowBootstrapPeriod
	}
	return nil
}
