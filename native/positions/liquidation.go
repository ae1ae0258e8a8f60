package positions

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
	nativecommon "github.com/stablis/stablis-contracts/native/common"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

// liquidationTotals aggregates one liquidation sequence before any value
// moves, so transfers and pool calls happen exactly once per batch.
type liquidationTotals struct {
	debtInSequence     *big.Int
	collInSequence     *big.Int
	debtToOffset       *big.Int
	collToPool         *big.Int
	debtToRedistribute *big.Int
	collToRedistribute *big.Int
	collGasComp        *big.Int
	reserveTotal       *big.Int
	liquidated         int
}

func newLiquidationTotals() *liquidationTotals {
	return &liquidationTotals{
		debtInSequence:     big.NewInt(0),
		collInSequence:     big.NewInt(0),
		debtToOffset:       big.NewInt(0),
		collToPool:         big.NewInt(0),
		debtToRedistribute: big.NewInt(0),
		collToRedistribute: big.NewInt(0),
		collGasComp:        big.NewInt(0),
		reserveTotal:       big.NewInt(0),
	}
}

// Liquidate closes a single under-collateralized position. Anyone may call
// it; the caller collects the liquidation reserve and the collateral gas
// compensation.
func (e *Engine) Liquidate(caller crypto.Address, asset string, owner crypto.Address) error {
	return e.BatchLiquidate(caller, asset, []crypto.Address{owner})
}

// BatchLiquidate runs a liquidation sequence over the candidate owners.
// Candidates that are not active or not below the minimum collateral ratio
// at the current price are skipped. The whole batch settles atomically:
// one pool offset, one redistribution, one snapshot, one compensation
// payout.
func (e *Engine) BatchLiquidate(caller crypto.Address, asset string, owners []crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.reentry.Enter(); err != nil {
		return err
	}
	defer e.reentry.Exit()

	st, err := e.ensureAssetState(asset)
	if err != nil {
		return err
	}
	if _, err := e.accrueInterest(st, asset); err != nil {
		return err
	}

	price, err := e.oracle.FetchPrice(asset)
	if err != nil {
		return err
	}
	mcr, err := e.params.MCR(asset)
	if err != nil {
		return err
	}
	divisor, err := e.params.CollateralGasDivisor(asset)
	if err != nil {
		return err
	}
	reserve, err := e.params.LiquidationReserve(asset)
	if err != nil {
		return err
	}
	poolDeposits := big.NewInt(0)
	if e.pool != nil {
		poolDeposits, err = e.pool.TotalDeposits()
		if err != nil {
			return err
		}
	}
	remainingPool := new(big.Int).Set(poolDeposits)

	totals := newLiquidationTotals()
	for _, owner := range owners {
		position, err := e.state.Position(asset, owner)
		if err != nil {
			return err
		}
		if position == nil || position.Status != StatusActive {
			continue
		}
		working := position.Clone()
		e.applyInterest(st, working)
		pendingColl, pendingDebt := e.pendingRewards(st, working)
		entireDebt := new(big.Int).Add(working.Debt, pendingDebt)
		entireColl := new(big.Int).Add(working.Collateral, pendingColl)

		if fixedpoint.Ratio(entireColl, entireDebt, price).Cmp(mcr) >= 0 {
			continue
		}

		// Pending value becomes concrete at liquidation time and must be
		// moved into the active ledger before it is split up again.
		if err := e.movePendingToActive(asset, pendingDebt, pendingColl); err != nil {
			return err
		}

		collGasComp := big.NewInt(0)
		if divisor > 0 {
			collGasComp = new(big.Int).Quo(entireColl, new(big.Int).SetUint64(divisor))
		}
		collToLiquidate := new(big.Int).Sub(entireColl, collGasComp)

		debtToOffset := fixedpoint.Min(entireDebt, remainingPool)
		collToPool := big.NewInt(0)
		if debtToOffset.Sign() > 0 {
			collToPool = new(big.Int).Mul(collToLiquidate, debtToOffset)
			collToPool.Quo(collToPool, entireDebt)
		}
		remainingPool.Sub(remainingPool, debtToOffset)

		totals.debtInSequence.Add(totals.debtInSequence, entireDebt)
		totals.collInSequence.Add(totals.collInSequence, entireColl)
		totals.debtToOffset.Add(totals.debtToOffset, debtToOffset)
		totals.collToPool.Add(totals.collToPool, collToPool)
		totals.debtToRedistribute.Add(totals.debtToRedistribute, new(big.Int).Sub(entireDebt, debtToOffset))
		totals.collToRedistribute.Add(totals.collToRedistribute, new(big.Int).Sub(collToLiquidate, collToPool))
		totals.collGasComp.Add(totals.collGasComp, collGasComp)
		totals.reserveTotal.Add(totals.reserveTotal, reserve)
		totals.liquidated++

		stored, err := e.state.Position(asset, owner)
		if err != nil {
			return err
		}
		e.removeStake(st, stored)
		if err := e.closePosition(st, asset, stored, StatusClosedByLiquidation); err != nil {
			return err
		}
		e.emitEvent(ledgerEvent{evt: newLiquidatedEvent(asset, owner, entireDebt, entireColl)})
	}

	if totals.liquidated == 0 {
		return ErrNothingToLiquidate
	}

	if err := e.settleLiquidation(st, asset, caller, totals); err != nil {
		return err
	}
	if err := e.state.PutAssetState(asset, st); err != nil {
		return err
	}
	e.emitEvent(ledgerEvent{evt: newLiquidationTotalsEvent(asset, totals)})
	return nil
}

// settleLiquidation moves the batched value: offset through the stability
// pool, redistribution to remaining positions, stake/collateral snapshots,
// then caller compensation.
func (e *Engine) settleLiquidation(st *AssetState, asset string, caller crypto.Address, totals *liquidationTotals) error {
	if totals.debtToOffset.Sign() > 0 && e.pool != nil {
		if err := e.pool.Offset(e.identity, asset, totals.debtToOffset, totals.collToPool); err != nil {
			return err
		}
		if err := e.active.DecreaseDebt(asset, totals.debtToOffset); err != nil {
			return err
		}
		if totals.collToPool.Sign() > 0 {
			if err := e.active.SendCollateral(asset, e.accounts.Stability, totals.collToPool); err != nil {
				return err
			}
		}
	}

	if err := e.redistribute(st, asset, totals.debtToRedistribute, totals.collToRedistribute); err != nil {
		return err
	}

	if err := e.snapshotSystem(st, asset, totals.collGasComp); err != nil {
		return err
	}

	// Caller compensation pays out last so the snapshots above reflect the
	// post-liquidation system.
	if totals.reserveTotal.Sign() > 0 {
		if err := e.token.Transfer(e.accounts.Reserve, caller, totals.reserveTotal); err != nil {
			return err
		}
	}
	if totals.collGasComp.Sign() > 0 {
		if err := e.active.SendCollateral(asset, caller, totals.collGasComp); err != nil {
			return err
		}
	}
	return nil
}

// redistribute spreads unabsorbed debt and collateral over the remaining
// stakes through the running accumulators, with floor-division error carried
// forward between liquidations.
func (e *Engine) redistribute(st *AssetState, asset string, debt, coll *big.Int) error {
	if debt.Sign() == 0 && coll.Sign() == 0 {
		return nil
	}
	if st.TotalStakes.Sign() == 0 {
		return nil
	}

	collPerUnit, collErr := fixedpoint.SplitFloor(coll, st.TotalStakes, st.CollError)
	debtPerUnit, debtErr := fixedpoint.SplitFloor(debt, st.TotalStakes, st.DebtError)
	st.CollError = collErr
	st.DebtError = debtErr
	st.LColl = new(big.Int).Add(st.LColl, collPerUnit)
	st.LDebt = new(big.Int).Add(st.LDebt, debtPerUnit)

	if debt.Sign() > 0 {
		if err := e.active.DecreaseDebt(asset, debt); err != nil {
			return err
		}
		if err := e.defaults.IncreaseDebt(asset, debt); err != nil {
			return err
		}
	}
	if coll.Sign() > 0 {
		if err := e.active.SendCollateral(asset, e.accounts.Default, coll); err != nil {
			return err
		}
		if err := e.defaults.ReceiveCollateral(asset, coll); err != nil {
			return err
		}
	}
	return nil
}

// snapshotSystem freezes total stakes and total collateral net of the
// pending gas compensation, anchoring stake computation for positions
// touched after this liquidation.
func (e *Engine) snapshotSystem(st *AssetState, asset string, collGasComp *big.Int) error {
	activeColl, err := e.active.Collateral(asset)
	if err != nil {
		return err
	}
	defaultColl, err := e.defaults.Collateral(asset)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(activeColl, defaultColl)
	total.Sub(total, collGasComp)

	st.TotalStakesSnapshot = new(big.Int).Set(st.TotalStakes)
	st.TotalCollateralSnapshot = total
	return nil
}
