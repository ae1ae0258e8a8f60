package positions

import (
	"math/big"
	"time"

	"github.com/stablis/stablis-contracts/core/events"
	"github.com/stablis/stablis-contracts/crypto"
	nativecommon "github.com/stablis/stablis-contracts/native/common"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

const moduleName = "positions"

// engineState is the persistence layer consumed by the position ledger.
// Position lookups return nil for unseen slots. The owner array primitives
// back the enumerable ownership array with swap-and-pop removal.
type engineState interface {
	Position(asset string, owner crypto.Address) (*Position, error)
	PutPosition(position *Position) error
	AssetState(asset string) (*AssetState, error)
	PutAssetState(asset string, state *AssetState) error
	OwnerCount(asset string) (uint64, error)
	OwnerAt(asset string, index uint64) (crypto.Address, error)
	AppendOwner(asset string, owner crypto.Address) (uint64, error)
	SetOwnerAt(asset string, index uint64, owner crypto.Address) error
	RemoveLastOwner(asset string) error
}

// OrderedIndex is the external ratio-ordered collection. Ordering is by
// descending nominal ratio: First is the safest position, Last the riskiest.
type OrderedIndex interface {
	First(asset string) (crypto.Address, bool)
	Last(asset string) (crypto.Address, bool)
	Next(asset string, owner crypto.Address) (crypto.Address, bool)
	Prev(asset string, owner crypto.Address) (crypto.Address, bool)
	Insert(asset string, owner crypto.Address, nominalRatio *big.Int, prevHint, nextHint crypto.Address)
	Reinsert(asset string, owner crypto.Address, nominalRatio *big.Int, prevHint, nextHint crypto.Address)
	Remove(asset string, owner crypto.Address)
	Contains(asset string, owner crypto.Address) bool
	Size(asset string) int
}

// PriceOracle reports the current collateral price at 1e18 scale. Staleness
// and deviation handling live outside the ledger.
type PriceOracle interface {
	FetchPrice(asset string) (*big.Int, error)
}

// AssetLedger is the collateral/debt accounting shared by the active and
// default pools.
type AssetLedger interface {
	Collateral(asset string) (*big.Int, error)
	Debt(asset string) (*big.Int, error)
	IncreaseDebt(asset string, amount *big.Int) error
	DecreaseDebt(asset string, amount *big.Int) error
	SendCollateral(asset string, to crypto.Address, amount *big.Int) error
	ReceiveCollateral(asset string, amount *big.Int) error
}

// SurplusLedger records collateral left over after a full redemption,
// claimable later by the former owner.
type SurplusLedger interface {
	Accrue(asset string, owner crypto.Address, amount *big.Int) error
}

// StableTokenLedger mints, burns and moves the stable token.
type StableTokenLedger interface {
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
	Transfer(from, to crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
	TotalSupply() (*big.Int, error)
}

// FeeRecipient is the staking collaborator receiving protocol fees and
// newly accrued interest.
type FeeRecipient interface {
	ReceiveStableFee(amount *big.Int) error
	ReceiveCollateralFee(asset string, amount *big.Int) error
}

// ParameterStore exposes the governance-controlled risk parameters. Values
// are read on every operation and mutated only by governance.
type ParameterStore interface {
	Assets() ([]string, error)
	MCR(asset string) (*big.Int, error)
	MinNetDebt(asset string) (*big.Int, error)
	LiquidationReserve(asset string) (*big.Int, error)
	CollateralGasDivisor(asset string) (uint64, error)
	RedemptionFeeFloor(asset string) (*big.Int, error)
	BorrowingFeeFloor(asset string) (*big.Int, error)
	MaxBorrowingFee(asset string) (*big.Int, error)
	BootstrapPeriod(asset string) (time.Duration, error)
	InterestRatePerSecond(asset string) (*big.Int, error)
	InterestEnabled(asset string) (bool, error)
}

// LossAbsorber is the stability pool seen from the position ledger.
type LossAbsorber interface {
	TotalDeposits() (*big.Int, error)
	Offset(caller crypto.Address, asset string, debtToOffset, collToAdd *big.Int) error
}

// Accounts groups the module account addresses the ledger moves value
// between.
type Accounts struct {
	Active    crypto.Address
	Default   crypto.Address
	Stability crypto.Address
	Surplus   crypto.Address
	Fee       crypto.Address
	Reserve   crypto.Address
}

// Engine owns per-(asset, owner) position records, aggregate stake
// accounting, the redistribution accumulators, the interest index and the
// decaying fee-rate state, and implements liquidation and redemption.
type Engine struct {
	state    engineState
	index    OrderedIndex
	oracle   PriceOracle
	active   AssetLedger
	defaults AssetLedger
	surplus  SurplusLedger
	token    StableTokenLedger
	staking  FeeRecipient
	params   ParameterStore
	pool     LossAbsorber

	// identity is the ledger's own authority address, presented to the
	// stability pool when requesting offsets.
	identity crypto.Address
	// operationsAuthority is the only caller allowed to invoke the
	// position-mutating setters.
	operationsAuthority crypto.Address
	accounts            Accounts

	pauses  nativecommon.PauseView
	reentry nativecommon.ReentryGuard
	emitter events.Emitter

	clock      func() time.Time
	launchTime time.Time
}

// NewEngine constructs a position ledger with its own authority identity
// and the module accounts it settles against.
func NewEngine(identity crypto.Address, accounts Accounts) *Engine {
	return &Engine{
		identity: identity,
		accounts: accounts,
		emitter:  events.NoopEmitter{},
		clock:    time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCollaborators wires the external ledgers and the ratio index.
func (e *Engine) SetCollaborators(index OrderedIndex, oracle PriceOracle, active, defaults AssetLedger, surplus SurplusLedger, token StableTokenLedger, staking FeeRecipient) {
	if e == nil {
		return
	}
	e.index = index
	e.oracle = oracle
	e.active = active
	e.defaults = defaults
	e.surplus = surplus
	e.token = token
	e.staking = staking
}

// SetParameterStore wires the governance parameter source.
func (e *Engine) SetParameterStore(params ParameterStore) {
	if e == nil {
		return
	}
	e.params = params
}

// SetLossAbsorber wires the stability pool.
func (e *Engine) SetLossAbsorber(pool LossAbsorber) {
	if e == nil {
		return
	}
	e.pool = pool
}

// SetOperationsAuthority restricts the mutating setters to the position
// operations collaborator.
func (e *Engine) SetOperationsAuthority(authority crypto.Address) {
	if e == nil {
		return
	}
	e.operationsAuthority = authority
}

// SetPauses wires the governance pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetClock overrides the time source, mainly for tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetLaunchTime records the deployment time anchoring the bootstrap window.
func (e *Engine) SetLaunchTime(t time.Time) {
	if e == nil {
		return
	}
	e.launchTime = t
}

// Identity returns the ledger's authority address.
func (e *Engine) Identity() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.identity
}

func (e *Engine) requireOperations(caller crypto.Address) error {
	if !caller.Equal(e.operationsAuthority) {
		return ErrUnauthorized
	}
	return nil
}

// OpenPosition records a fresh active position. Validation of ratios, fees
// and net debt against user intent belongs to the operations collaborator;
// the ledger enforces only its own invariants.
func (e *Engine) OpenPosition(caller crypto.Address, asset string, owner crypto.Address, coll, debt *big.Int, prevHint, nextHint crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.requireOperations(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if coll == nil || coll.Sign() <= 0 || debt == nil || debt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	existing, err := e.state.Position(asset, owner)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == StatusActive {
		return ErrPositionActive
	}

	st, err := e.ensureAssetState(asset)
	if err != nil {
		return err
	}
	if _, err := e.accrueInterest(st, asset); err != nil {
		return err
	}

	reserve, err := e.params.LiquidationReserve(asset)
	if err != nil {
		return err
	}
	if debt.Cmp(reserve) < 0 {
		return ErrDebtBelowReserve
	}

	position := &Position{
		Asset:            asset,
		Owner:            owner,
		Debt:             new(big.Int).Set(debt),
		Collateral:       new(big.Int).Set(coll),
		Stake:            big.NewInt(0),
		Status:           StatusActive,
		InterestSnapshot: new(big.Int).Set(st.InterestIndex),
		RewardSnapshot: RewardSnapshot{
			Coll: new(big.Int).Set(st.LColl),
			Debt: new(big.Int).Set(st.LDebt),
		},
	}
	e.updateStakeAndTotalStakes(st, position)

	arrayIndex, err := e.state.AppendOwner(asset, owner)
	if err != nil {
		return err
	}
	position.ArrayIndex = arrayIndex

	e.index.Insert(asset, owner, fixedpoint.NominalRatio(coll, debt), prevHint, nextHint)

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutAssetState(asset, st); err != nil {
		return err
	}

	e.emitEvent(ledgerEvent{evt: newPositionEvent(EventTypeOpened, position)})
	return nil
}

// AdjustPosition applies signed collateral and debt deltas to an active
// position. Pending rewards and interest are folded in first.
func (e *Engine) AdjustPosition(caller crypto.Address, asset string, owner crypto.Address, collChange, debtChange *big.Int, prevHint, nextHint crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.requireOperations(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	st, err := e.ensureAssetState(asset)
	if err != nil {
		return err
	}
	if _, err := e.accrueInterest(st, asset); err != nil {
		return err
	}

	position, err := e.activePosition(asset, owner)
	if err != nil {
		return err
	}
	if err := e.applyPendingRewards(st, asset, position); err != nil {
		return err
	}

	if collChange != nil {
		position.Collateral = new(big.Int).Add(position.Collateral, collChange)
	}
	if debtChange != nil {
		position.Debt = new(big.Int).Add(position.Debt, debtChange)
	}
	if position.Collateral.Sign() < 0 || position.Debt.Sign() < 0 {
		return ErrInvalidAmount
	}

	reserve, err := e.params.LiquidationReserve(asset)
	if err != nil {
		return err
	}
	if position.Debt.Cmp(reserve) < 0 {
		return ErrDebtBelowReserve
	}

	e.updateStakeAndTotalStakes(st, position)
	e.index.Reinsert(asset, owner, fixedpoint.NominalRatio(position.Collateral, position.Debt), prevHint, nextHint)

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutAssetState(asset, st); err != nil {
		return err
	}

	e.emitEvent(ledgerEvent{evt: newPositionEvent(EventTypeAdjusted, position)})
	return nil
}

// ClosePosition retires an active slot into the given terminal status,
// zeroing every field and releasing index and array membership. The
// operations caller settles tokens and collateral itself.
func (e *Engine) ClosePosition(caller crypto.Address, asset string, owner crypto.Address, status Status) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.requireOperations(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !status.Closed() {
		return ErrPositionNotActive
	}

	st, err := e.ensureAssetState(asset)
	if err != nil {
		return err
	}
	position, err := e.activePosition(asset, owner)
	if err != nil {
		return err
	}

	e.removeStake(st, position)
	if err := e.closePosition(st, asset, position, status); err != nil {
		return err
	}
	if err := e.state.PutAssetState(asset, st); err != nil {
		return err
	}

	e.emitEvent(ledgerEvent{evt: newPositionEvent(EventTypeClosed, position)})
	return nil
}

// ApplyPendingRewards folds an active position's pending redistribution
// rewards and accrued interest into its raw record.
func (e *Engine) ApplyPendingRewards(caller crypto.Address, asset string, owner crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.requireOperations(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	st, err := e.ensureAssetState(asset)
	if err != nil {
		return err
	}
	if _, err := e.accrueInterest(st, asset); err != nil {
		return err
	}
	position, err := e.activePosition(asset, owner)
	if err != nil {
		return err
	}
	if err := e.applyPendingRewards(st, asset, position); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	return e.state.PutAssetState(asset, st)
}

// TopUpFromPool adds stability-pool gain collateral to an open position.
// Called by the stability pool through the operations route.
func (e *Engine) TopUpFromPool(asset string, owner crypto.Address, amount *big.Int, prevHint, nextHint crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	st, err := e.ensureAssetState(asset)
	if err != nil {
		return err
	}
	position, err := e.activePosition(asset, owner)
	if err != nil {
		return err
	}
	if err := e.applyPendingRewards(st, asset, position); err != nil {
		return err
	}

	position.Collateral = new(big.Int).Add(position.Collateral, amount)
	e.updateStakeAndTotalStakes(st, position)
	e.index.Reinsert(asset, owner, fixedpoint.NominalRatio(position.Collateral, position.Debt), prevHint, nextHint)

	if err := e.active.ReceiveCollateral(asset, amount); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	return e.state.PutAssetState(asset, st)
}

// pendingRewards reports the redistribution rewards accumulated since the
// position's snapshot, without mutating anything.
func (e *Engine) pendingRewards(st *AssetState, position *Position) (pendingColl, pendingDebt *big.Int) {
	pendingColl = big.NewInt(0)
	pendingDebt = big.NewInt(0)
	if position == nil || position.Status != StatusActive || position.Stake == nil || position.Stake.Sign() == 0 {
		return pendingColl, pendingDebt
	}

	collDelta := new(big.Int).Sub(st.LColl, position.RewardSnapshot.Coll)
	if collDelta.Sign() > 0 {
		pendingColl.Mul(position.Stake, collDelta)
		pendingColl.Quo(pendingColl, fixedpoint.One)
	}
	debtDelta := new(big.Int).Sub(st.LDebt, position.RewardSnapshot.Debt)
	if debtDelta.Sign() > 0 {
		pendingDebt.Mul(position.Stake, debtDelta)
		pendingDebt.Quo(pendingDebt, fixedpoint.One)
	}
	return pendingColl, pendingDebt
}

// applyPendingRewards folds interest and redistribution rewards into the
// raw record and moves the rewarded value from the default ledger to the
// active ledger.
func (e *Engine) applyPendingRewards(st *AssetState, asset string, position *Position) error {
	e.applyInterest(st, position)

	pendingColl, pendingDebt := e.pendingRewards(st, position)
	if pendingColl.Sign() > 0 || pendingDebt.Sign() > 0 {
		if err := e.movePendingToActive(asset, pendingDebt, pendingColl); err != nil {
			return err
		}
		position.Collateral = new(big.Int).Add(position.Collateral, pendingColl)
		position.Debt = new(big.Int).Add(position.Debt, pendingDebt)
	}
	position.RewardSnapshot.Coll = new(big.Int).Set(st.LColl)
	position.RewardSnapshot.Debt = new(big.Int).Set(st.LDebt)
	return nil
}

// movePendingToActive shifts redistributed value from the default ledger
// back into active circulation as it attaches to a concrete position.
func (e *Engine) movePendingToActive(asset string, debt, coll *big.Int) error {
	if debt.Sign() > 0 {
		if err := e.defaults.DecreaseDebt(asset, debt); err != nil {
			return err
		}
		if err := e.active.IncreaseDebt(asset, debt); err != nil {
			return err
		}
	}
	if coll.Sign() > 0 {
		if err := e.defaults.SendCollateral(asset, e.accounts.Active, coll); err != nil {
			return err
		}
		if err := e.active.ReceiveCollateral(asset, coll); err != nil {
			return err
		}
	}
	return nil
}

// updateStakeAndTotalStakes recomputes the position's stake from the system
// snapshot so collateral added after liquidations earns a comparable share.
func (e *Engine) updateStakeAndTotalStakes(st *AssetState, position *Position) {
	newStake := e.computeStake(st, position.Collateral)
	oldStake := position.Stake
	if oldStake == nil {
		oldStake = big.NewInt(0)
	}
	position.Stake = newStake
	st.TotalStakes = new(big.Int).Sub(st.TotalStakes, oldStake)
	st.TotalStakes.Add(st.TotalStakes, newStake)
}

func (e *Engine) computeStake(st *AssetState, coll *big.Int) *big.Int {
	if st.TotalCollateralSnapshot.Sign() == 0 {
		return new(big.Int).Set(coll)
	}
	stake := new(big.Int).Mul(coll, st.TotalStakesSnapshot)
	return stake.Quo(stake, st.TotalCollateralSnapshot)
}

func (e *Engine) removeStake(st *AssetState, position *Position) {
	if position.Stake != nil && position.Stake.Sign() > 0 {
		st.TotalStakes = new(big.Int).Sub(st.TotalStakes, position.Stake)
	}
	position.Stake = big.NewInt(0)
}

// closePosition zeroes the slot, removes it from the ratio index and runs
// swap-and-pop removal on the ownership array. The record survives with its
// terminal status so reopening can detect the overwrite.
func (e *Engine) closePosition(st *AssetState, asset string, position *Position, status Status) error {
	if e.index.Size(asset) <= 1 {
		return ErrLastPosition
	}

	count, err := e.state.OwnerCount(asset)
	if err != nil {
		return err
	}
	lastIdx := count - 1
	if position.ArrayIndex != lastIdx {
		moved, err := e.state.OwnerAt(asset, lastIdx)
		if err != nil {
			return err
		}
		if err := e.state.SetOwnerAt(asset, position.ArrayIndex, moved); err != nil {
			return err
		}
		movedPosition, err := e.state.Position(asset, moved)
		if err != nil {
			return err
		}
		if movedPosition != nil {
			movedPosition.ArrayIndex = position.ArrayIndex
			if err := e.state.PutPosition(movedPosition); err != nil {
				return err
			}
		}
	}
	if err := e.state.RemoveLastOwner(asset); err != nil {
		return err
	}

	e.index.Remove(asset, position.Owner)

	position.Status = status
	position.Debt = big.NewInt(0)
	position.Collateral = big.NewInt(0)
	position.Stake = big.NewInt(0)
	position.ArrayIndex = 0
	position.RewardSnapshot = RewardSnapshot{Coll: big.NewInt(0), Debt: big.NewInt(0)}
	position.InterestSnapshot = big.NewInt(0)
	return e.state.PutPosition(position)
}

func (e *Engine) activePosition(asset string, owner crypto.Address) (*Position, error) {
	position, err := e.state.Position(asset, owner)
	if err != nil {
		return nil, err
	}
	if position == nil || position.Status != StatusActive {
		return nil, ErrPositionNotActive
	}
	return position, nil
}

func (e *Engine) ensureAssetState(asset string) (*AssetState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	st, err := e.state.AssetState(asset)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &AssetState{}
	}
	zero := func(v **big.Int) {
		if *v == nil {
			*v = big.NewInt(0)
		}
	}
	zero(&st.TotalStakes)
	zero(&st.TotalStakesSnapshot)
	zero(&st.TotalCollateralSnapshot)
	zero(&st.LColl)
	zero(&st.LDebt)
	zero(&st.CollError)
	zero(&st.DebtError)
	zero(&st.BaseRate)
	if st.InterestIndex == nil || st.InterestIndex.Sign() == 0 {
		st.InterestIndex = new(big.Int).Set(fixedpoint.One)
	}
	return st, nil
}

func (e *Engine) emitEvent(evt ledgerEvent) {
	if e == nil || e.emitter == nil || evt.evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
