package positions

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

// GetPosition returns a defensive copy of the stored record, or nil.
func (e *Engine) GetPosition(asset string, owner crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	position, err := e.state.Position(asset, owner)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// IsActive reports whether the (asset, owner) slot holds an active position.
func (e *Engine) IsActive(asset string, owner crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	position, err := e.state.Position(asset, owner)
	if err != nil {
		return false, err
	}
	return position != nil && position.Status == StatusActive, nil
}

// EntireDebtAndColl reports a position's debt and collateral with pending
// redistribution rewards and accrued interest folded in, without mutating
// stored state.
func (e *Engine) EntireDebtAndColl(asset string, owner crypto.Address) (debt, coll, pendingDebt, pendingColl *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, nil, nil, ErrNilState
	}
	st, err := e.ensureAssetState(asset)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	position, err := e.state.Position(asset, owner)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if position == nil || position.Status != StatusActive {
		return big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), nil
	}
	working := position.Clone()
	e.applyInterest(st, working)
	pendingColl, pendingDebt = e.pendingRewards(st, working)
	debt = new(big.Int).Add(working.Debt, pendingDebt)
	coll = new(big.Int).Add(working.Collateral, pendingColl)
	return debt, coll, pendingDebt, pendingColl, nil
}

// CurrentRatio reports the price-denominated collateral ratio including
// pending rewards.
func (e *Engine) CurrentRatio(asset string, owner crypto.Address, price *big.Int) (*big.Int, error) {
	debt, coll, _, _, err := e.EntireDebtAndColl(asset, owner)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Ratio(coll, debt, price), nil
}

// CurrentNominalRatio reports the price-free ratio including pending rewards,
// as used for index ordering.
func (e *Engine) CurrentNominalRatio(asset string, owner crypto.Address) (*big.Int, error) {
	debt, coll, _, _, err := e.EntireDebtAndColl(asset, owner)
	if err != nil {
		return nil, err
	}
	return fixedpoint.NominalRatio(coll, debt), nil
}

// SystemDebtAndColl aggregates active and default ledgers for an asset.
func (e *Engine) SystemDebtAndColl(asset string) (debt, coll *big.Int, err error) {
	activeColl, err := e.active.Collateral(asset)
	if err != nil {
		return nil, nil, err
	}
	activeDebt, err := e.active.Debt(asset)
	if err != nil {
		return nil, nil, err
	}
	defaultColl, err := e.defaults.Collateral(asset)
	if err != nil {
		return nil, nil, err
	}
	defaultDebt, err := e.defaults.Debt(asset)
	if err != nil {
		return nil, nil, err
	}
	coll = new(big.Int).Add(activeColl, defaultColl)
	debt = new(big.Int).Add(activeDebt, defaultDebt)
	return debt, coll, nil
}

// TCR reports the system-wide collateral ratio at the given price.
func (e *Engine) TCR(asset string, price *big.Int) (*big.Int, error) {
	debt, coll, err := e.SystemDebtAndColl(asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Ratio(coll, debt, price), nil
}

// HasUnderCollateralized reports whether any tracked asset's riskiest
// position sits below its minimum collateral ratio. The stability pool
// consults this before allowing withdrawals.
func (e *Engine) HasUnderCollateralized() (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	assets, err := e.params.Assets()
	if err != nil {
		return false, err
	}
	for _, asset := range assets {
		worst, ok := e.index.Last(asset)
		if !ok {
			continue
		}
		price, err := e.oracle.FetchPrice(asset)
		if err != nil {
			return false, err
		}
		mcr, err := e.params.MCR(asset)
		if err != nil {
			return false, err
		}
		ratio, err := e.CurrentRatio(asset, worst, price)
		if err != nil {
			return false, err
		}
		if ratio.Cmp(mcr) < 0 {
			return true, nil
		}
	}
	return false, nil
}

// PositionCount reports the ownership array length for an asset.
func (e *Engine) PositionCount(asset string) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	return e.state.OwnerCount(asset)
}

// OwnerAt returns the owner stored at the given ownership array index.
func (e *Engine) OwnerAt(asset string, index uint64) (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, ErrNilState
	}
	return e.state.OwnerAt(asset, index)
}
