package stability

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
)

// Snapshot pins a deposit to the pool bookkeeping values current at its last
// mutation. Compounded value and pending gains are derived lazily from the
// distance between these and the live values.
type Snapshot struct {
	// P is the compounding product at snapshot time.
	P *big.Int
	// G is the reward-token sum for the snapshot epoch/scale.
	G *big.Int
	// S holds the per-asset collateral gain sums for the snapshot
	// epoch/scale. Missing assets read as zero.
	S map[string]*big.Int
	// Scale and Epoch locate the snapshot in the pool lifecycle.
	Scale uint64
	Epoch uint64
}

// Deposit is a single depositor's pooled stable-token stake.
type Deposit struct {
	Owner        crypto.Address
	InitialValue *big.Int
	Snapshot     Snapshot
}

// Clone returns a deep copy so callers cannot mutate stored pointers.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := &Deposit{Owner: d.Owner, Snapshot: Snapshot{Scale: d.Snapshot.Scale, Epoch: d.Snapshot.Epoch}}
	if d.InitialValue != nil {
		clone.InitialValue = new(big.Int).Set(d.InitialValue)
	}
	if d.Snapshot.P != nil {
		clone.Snapshot.P = new(big.Int).Set(d.Snapshot.P)
	}
	if d.Snapshot.G != nil {
		clone.Snapshot.G = new(big.Int).Set(d.Snapshot.G)
	}
	if d.Snapshot.S != nil {
		clone.Snapshot.S = make(map[string]*big.Int, len(d.Snapshot.S))
		for asset, sum := range d.Snapshot.S {
			clone.Snapshot.S[asset] = new(big.Int).Set(sum)
		}
	}
	return clone
}

// PoolState is the global loss/gain bookkeeping. P starts at the unit scale
// and only ever shrinks within an epoch; epoch and scale counters absorb the
// fixed-point floor limits of an ever-decreasing product.
type PoolState struct {
	TotalDeposits *big.Int
	P             *big.Int
	CurrentScale  uint64
	CurrentEpoch  uint64
	// Error feedback carried between offsets (loss, per-asset collateral
	// gain) and reward issuances.
	LastLossError   *big.Int
	LastCollError   map[string]*big.Int
	LastRewardError *big.Int
	// CollBalances tracks collateral held by the pool per asset.
	CollBalances map[string]*big.Int
	// Assets lists every asset the pool has ever absorbed collateral for,
	// in first-seen order.
	Assets []string
}

// Clone returns a deep copy of the pool state.
func (s *PoolState) Clone() *PoolState {
	if s == nil {
		return nil
	}
	clone := &PoolState{CurrentScale: s.CurrentScale, CurrentEpoch: s.CurrentEpoch}
	clone.TotalDeposits = cloneBig(s.TotalDeposits)
	clone.P = cloneBig(s.P)
	clone.LastLossError = cloneBig(s.LastLossError)
	clone.LastRewardError = cloneBig(s.LastRewardError)
	if s.LastCollError != nil {
		clone.LastCollError = make(map[string]*big.Int, len(s.LastCollError))
		for asset, v := range s.LastCollError {
			clone.LastCollError[asset] = new(big.Int).Set(v)
		}
	}
	if s.CollBalances != nil {
		clone.CollBalances = make(map[string]*big.Int, len(s.CollBalances))
		for asset, v := range s.CollBalances {
			clone.CollBalances[asset] = new(big.Int).Set(v)
		}
	}
	clone.Assets = append([]string(nil), s.Assets...)
	return clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
