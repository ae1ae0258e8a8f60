package core

import (
	"time"

	"github.com/stablis/stablis-contracts/config"
	"github.com/stablis/stablis-contracts/core/events"
	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/positions"
	"github.com/stablis/stablis-contracts/native/stability"
	"github.com/stablis/stablis-contracts/storage"
)

// Ledger bundles the fully wired protocol: both engines, the reference
// collaborators and the operations surface.
type Ledger struct {
	Operations *Operations
	Positions  *positions.Engine
	Pool       *stability.Engine
	Token      *TokenLedger
	Bank       *CollateralBank
	Oracle     *StaticOracle
	Surplus    *SurplusPool
	Staking    *FeeStaking
	Rewards    *RewardLedger
	Events     *events.Recorder
	Accounts   positions.Accounts

	store     *storage.LedgerStore
	overlay   *storage.Overlay
	params    *config.Params
	index     *SortedRatioIndex
	active    *Vault
	defaults  *Vault
	poolVault *Vault
	launch    time.Time
}

// moduleAccount derives a deterministic module address from its name.
func moduleAccount(name string) crypto.Address {
	buf := make([]byte, 20)
	copy(buf, name)
	return crypto.NewAddress(crypto.ModulePrefix, buf)
}

// NewLedger wires the engines over the given database with the configured
// risk parameters and pause switches. Engine writes buffer in an overlay so
// each operation commits or discards as a unit; a database with prior state
// restores the collaborators and ratio index from it. The clock drives fee
// decay, interest and the bootstrap window; pass nil for wall-clock time.
func NewLedger(cfg *config.Config, db storage.Database, clock func() time.Time) (*Ledger, error) {
	if clock == nil {
		clock = time.Now
	}
	params, err := config.BuildParams(cfg)
	if err != nil {
		return nil, err
	}
	rewardRate, err := cfg.RewardRate()
	if err != nil {
		return nil, err
	}

	overlay := storage.NewOverlay(db)
	store := storage.NewLedgerStore(overlay)

	l := &Ledger{
		Token:   NewTokenLedger(),
		Bank:    NewCollateralBank(),
		Oracle:  NewStaticOracle(),
		Staking: NewFeeStaking(),
		Rewards: NewRewardLedger(),
		Events:  &events.Recorder{},
		store:   store,
		overlay: overlay,
		params:  params,
		index:   NewSortedRatioIndex(),
		launch:  clock(),
		Accounts: positions.Accounts{
			Active:    moduleAccount("ledger/active"),
			Default:   moduleAccount("ledger/default"),
			Stability: moduleAccount("ledger/stability"),
			Surplus:   moduleAccount("ledger/surplus"),
			Fee:       moduleAccount("ledger/fee"),
			Reserve:   moduleAccount("ledger/reserve"),
		},
	}

	assets, err := params.Assets()
	if err != nil {
		return nil, err
	}
	for _, asset := range assets {
		price, err := params.OraclePrice(asset)
		if err != nil {
			return nil, err
		}
		if price.Sign() > 0 {
			if err := l.Oracle.SetPrice(asset, price); err != nil {
				return nil, err
			}
		}
	}

	l.active = NewVault(l.Bank, l.Accounts.Active)
	l.defaults = NewVault(l.Bank, l.Accounts.Default)
	l.poolVault = NewVault(l.Bank, l.Accounts.Stability)
	l.Surplus = NewSurplusPool(l.Bank, l.Accounts.Surplus)

	identity := moduleAccount("ledger/positions")
	opsID := moduleAccount("ledger/operations")

	posEngine := positions.NewEngine(identity, l.Accounts)
	posEngine.SetState(store)
	posEngine.SetCollaborators(l.index, l.Oracle, l.active, l.defaults, l.Surplus, l.Token, l.Staking)
	posEngine.SetParameterStore(params)
	posEngine.SetOperationsAuthority(opsID)
	posEngine.SetPauses(cfg.Pauses)
	posEngine.SetClock(clock)
	posEngine.SetLaunchTime(l.launch)
	posEngine.SetEmitter(l.Events)

	poolEngine := stability.NewEngine(l.Accounts.Stability)
	poolEngine.SetState(store)
	poolEngine.SetCollaborators(l.Token, l.poolVault, l.Rewards)
	poolEngine.SetIssuance(NewDripIssuance(rewardRate, clock))
	poolEngine.SetPositionProbe(posEngine, posEngine)
	poolEngine.SetActiveAccount(l.Accounts.Active)
	poolEngine.SetPositionsAuthority(posEngine.Identity())
	poolEngine.SetPauses(cfg.Pauses)
	poolEngine.SetEmitter(l.Events)

	posEngine.SetLossAbsorber(poolEngine)

	l.Positions = posEngine
	l.Pool = poolEngine
	l.Operations = NewOperations(opsID, posEngine, poolEngine, l.Oracle, params, l.Token, l.Bank, l.active, l.Surplus, l.Staking, l.Accounts)

	// A database with prior state carries the collaborators and index
	// forward; a fresh one leaves them empty.
	if err := l.restoreCollaborators(); err != nil {
		return nil, err
	}
	if err := l.rebuildIndex(); err != nil {
		return nil, err
	}
	l.Operations.setJournal(l)
	return l, nil
}
