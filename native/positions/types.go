package positions

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
)

// Status tracks the lifecycle of a position slot. Terminal states are final
// for the slot; reopening overwrites it with a fresh active record.
type Status uint8

const (
	StatusNonexistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosedByOwner:
		return "closedByOwner"
	case StatusClosedByLiquidation:
		return "closedByLiquidation"
	case StatusClosedByRedemption:
		return "closedByRedemption"
	default:
		return "nonexistent"
	}
}

// Closed reports whether the status is one of the terminal closed states.
func (s Status) Closed() bool {
	return s == StatusClosedByOwner || s == StatusClosedByLiquidation || s == StatusClosedByRedemption
}

// RewardSnapshot pins a position to the redistribution accumulators at its
// last touch. Pending reward = stake × (current accumulator − snapshot).
type RewardSnapshot struct {
	Coll *big.Int
	Debt *big.Int
}

// Position is a collateralized debt record for one (asset, owner) pair.
// Debt includes the liquidation-incentive reserve while active; every field
// is zero once the slot closes.
type Position struct {
	Asset      string
	Owner      crypto.Address
	Debt       *big.Int
	Collateral *big.Int
	// Stake is the position's share of total stakes, frozen in the stake
	// units of the last liquidation epoch.
	Stake  *big.Int
	Status Status
	// ArrayIndex locates the owner in the enumerable ownership array and is
	// meaningful only while the position is active.
	ArrayIndex uint64
	// RewardSnapshot holds the redistribution accumulators at last touch.
	RewardSnapshot RewardSnapshot
	// InterestSnapshot is the asset interest index at last touch.
	InterestSnapshot *big.Int
}

// Clone returns a deep copy so callers cannot mutate stored pointers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Asset:      p.Asset,
		Owner:      p.Owner,
		Status:     p.Status,
		ArrayIndex: p.ArrayIndex,
	}
	clone.Debt = cloneBig(p.Debt)
	clone.Collateral = cloneBig(p.Collateral)
	clone.Stake = cloneBig(p.Stake)
	clone.InterestSnapshot = cloneBig(p.InterestSnapshot)
	clone.RewardSnapshot.Coll = cloneBig(p.RewardSnapshot.Coll)
	clone.RewardSnapshot.Debt = cloneBig(p.RewardSnapshot.Debt)
	return clone
}

// AssetState aggregates the per-asset ledger bookkeeping: stake totals and
// snapshots, redistribution accumulators with their error feedback, the
// decaying fee-rate state and the compounding interest index.
type AssetState struct {
	TotalStakes *big.Int
	// Snapshots taken immediately after each liquidation sequence; they
	// convert newly added collateral into comparable stake units.
	TotalStakesSnapshot     *big.Int
	TotalCollateralSnapshot *big.Int
	// Running sums of redistributed collateral/debt per unit stake, and the
	// floor-division error carried between redistributions. Monotonically
	// non-decreasing.
	LColl     *big.Int
	LDebt     *big.Int
	CollError *big.Int
	DebtError *big.Int
	// Decaying fee-rate state shared by redemption and borrowing fees.
	BaseRate         *big.Int
	LastFeeOperation int64
	// Compounding interest index and its last accrual time.
	InterestIndex     *big.Int
	InterestAccruedAt int64
}

// Clone returns a deep copy of the asset state.
func (s *AssetState) Clone() *AssetState {
	if s == nil {
		return nil
	}
	clone := &AssetState{
		LastFeeOperation:  s.LastFeeOperation,
		InterestAccruedAt: s.InterestAccruedAt,
	}
	clone.TotalStakes = cloneBig(s.TotalStakes)
	clone.TotalStakesSnapshot = cloneBig(s.TotalStakesSnapshot)
	clone.TotalCollateralSnapshot = cloneBig(s.TotalCollateralSnapshot)
	clone.LColl = cloneBig(s.LColl)
	clone.LDebt = cloneBig(s.LDebt)
	clone.CollError = cloneBig(s.CollError)
	clone.DebtError = cloneBig(s.DebtError)
	clone.BaseRate = cloneBig(s.BaseRate)
	clone.InterestIndex = cloneBig(s.InterestIndex)
	return clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
