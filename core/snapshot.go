package core

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
	"github.com/stablis/stablis-contracts/native/positions"
)

// keyedAmount is one map entry flattened for RLP. The key is an account key
// or an asset name depending on the field it came from.
type keyedAmount struct {
	Key    string
	Amount *big.Int
}

type bankAmount struct {
	Asset  string
	Key    string
	Amount *big.Int
}

// ledgerSnapshot is the auxiliary record persisted next to the engine state:
// every collaborator balance the store does not already hold, plus the
// launch time that anchors the bootstrap window across restarts.
type ledgerSnapshot struct {
	Launch            uint64
	TokenBalances     []keyedAmount
	TokenSupply       *big.Int
	BankBalances      []bankAmount
	ActiveDebt        []keyedAmount
	DefaultDebt       []keyedAmount
	StabilityDebt     []keyedAmount
	SurplusEntries    []keyedAmount
	StakingStable     *big.Int
	StakingCollateral []keyedAmount
	RewardBalances    []keyedAmount
	RewardIssued      *big.Int
}

func flattenKeyed(m map[string]*big.Int) []keyedAmount {
	out := make([]keyedAmount, 0, len(m))
	for key, amount := range m {
		if amount == nil {
			amount = big.NewInt(0)
		}
		out = append(out, keyedAmount{Key: key, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func expandKeyed(pairs []keyedAmount) map[string]*big.Int {
	out := make(map[string]*big.Int, len(pairs))
	for _, pair := range pairs {
		amount := pair.Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		out[pair.Key] = amount
	}
	return out
}

func flattenBank(balances map[string]map[string]*big.Int) []bankAmount {
	out := make([]bankAmount, 0, len(balances))
	for asset, byOwner := range balances {
		for key, amount := range byOwner {
			if amount == nil {
				amount = big.NewInt(0)
			}
			out = append(out, bankAmount{Asset: asset, Key: key, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func expandBank(pairs []bankAmount) map[string]map[string]*big.Int {
	out := make(map[string]map[string]*big.Int)
	for _, pair := range pairs {
		byOwner, ok := out[pair.Asset]
		if !ok {
			byOwner = make(map[string]*big.Int)
			out[pair.Asset] = byOwner
		}
		amount := pair.Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		byOwner[pair.Key] = amount
	}
	return out
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// persistCollaborators writes the in-memory collaborator state into the
// store so it rides the same commit as the engine records.
func (l *Ledger) persistCollaborators() error {
	snap := ledgerSnapshot{
		Launch:            uint64(l.launch.Unix()),
		TokenBalances:     flattenKeyed(l.Token.balances),
		TokenSupply:       l.Token.supply,
		BankBalances:      flattenBank(l.Bank.balances),
		ActiveDebt:        flattenKeyed(l.active.debt),
		DefaultDebt:       flattenKeyed(l.defaults.debt),
		StabilityDebt:     flattenKeyed(l.poolVault.debt),
		SurplusEntries:    flattenKeyed(l.Surplus.entries),
		StakingStable:     l.Staking.stable,
		StakingCollateral: flattenKeyed(l.Staking.collateral),
		RewardBalances:    flattenKeyed(l.Rewards.balances),
		RewardIssued:      l.Rewards.issued,
	}
	raw, err := rlp.EncodeToBytes(snap)
	if err != nil {
		return err
	}
	return l.store.PutCoreState(raw)
}

// restoreCollaborators reloads the collaborators from the last persisted
// record. A store without one resets them to empty, which is both the fresh
// start and the pre-first-commit rollback target.
func (l *Ledger) restoreCollaborators() error {
	raw, err := l.store.CoreState()
	if err != nil {
		return err
	}
	if raw == nil {
		l.Token.balances = make(map[string]*big.Int)
		l.Token.supply = big.NewInt(0)
		l.Bank.balances = make(map[string]map[string]*big.Int)
		l.active.debt = make(map[string]*big.Int)
		l.defaults.debt = make(map[string]*big.Int)
		l.poolVault.debt = make(map[string]*big.Int)
		l.Surplus.entries = make(map[string]*big.Int)
		l.Staking.stable = big.NewInt(0)
		l.Staking.collateral = make(map[string]*big.Int)
		l.Rewards.balances = make(map[string]*big.Int)
		l.Rewards.issued = big.NewInt(0)
		return nil
	}
	var snap ledgerSnapshot
	if err := rlp.DecodeBytes(raw, &snap); err != nil {
		return err
	}
	l.launch = time.Unix(int64(snap.Launch), 0)
	l.Positions.SetLaunchTime(l.launch)
	l.Token.balances = expandKeyed(snap.TokenBalances)
	l.Token.supply = amountOrZero(snap.TokenSupply)
	l.Bank.balances = expandBank(snap.BankBalances)
	l.active.debt = expandKeyed(snap.ActiveDebt)
	l.defaults.debt = expandKeyed(snap.DefaultDebt)
	l.poolVault.debt = expandKeyed(snap.StabilityDebt)
	l.Surplus.entries = expandKeyed(snap.SurplusEntries)
	l.Staking.stable = amountOrZero(snap.StakingStable)
	l.Staking.collateral = expandKeyed(snap.StakingCollateral)
	l.Rewards.balances = expandKeyed(snap.RewardBalances)
	l.Rewards.issued = amountOrZero(snap.RewardIssued)
	return nil
}

// rebuildIndex re-derives the ratio index from the stored positions.
func (l *Ledger) rebuildIndex() error {
	l.index.Reset()
	assets, err := l.params.Assets()
	if err != nil {
		return err
	}
	for _, asset := range assets {
		count, err := l.store.OwnerCount(asset)
		if err != nil {
			return err
		}
		for i := uint64(0); i < count; i++ {
			owner, err := l.store.OwnerAt(asset, i)
			if err != nil {
				return err
			}
			position, err := l.store.Position(asset, owner)
			if err != nil {
				return err
			}
			if position == nil || position.Status != positions.StatusActive {
				continue
			}
			ratio := fixedpoint.NominalRatio(position.Collateral, position.Debt)
			l.index.Insert(asset, owner, ratio, crypto.Address{}, crypto.Address{})
		}
	}
	return nil
}

// commit lands one operation: collaborator state joins the overlay's
// buffered engine writes and the whole set flushes to the base store.
func (l *Ledger) commit() error {
	if err := l.persistCollaborators(); err != nil {
		l.overlay.Discard()
		return err
	}
	return l.overlay.Commit()
}

// discard unwinds one operation: buffered writes drop, the collaborators
// reload from the last committed record and the index re-derives, so a
// failed operation leaves no trace.
func (l *Ledger) discard() error {
	l.overlay.Discard()
	if err := l.restoreCollaborators(); err != nil {
		return err
	}
	return l.rebuildIndex()
}
