package stability

import (
	"math/big"

	"github.com/stablis/stablis-contracts/core/events"
	"github.com/stablis/stablis-contracts/crypto"
	nativecommon "github.com/stablis/stablis-contracts/native/common"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

const moduleName = "stability"

// engineState is the persistence layer consumed by the pool engine. Sum
// lookups on unseen (epoch, scale) keys must return zero, never an error.
type engineState interface {
	Deposit(owner crypto.Address) (*Deposit, error)
	PutDeposit(deposit *Deposit) error
	DeleteDeposit(owner crypto.Address) error
	PoolState() (*PoolState, error)
	PutPoolState(state *PoolState) error
	SumS(epoch, scale uint64, asset string) (*big.Int, error)
	PutSumS(epoch, scale uint64, asset string, sum *big.Int) error
	SumG(epoch, scale uint64) (*big.Int, error)
	PutSumG(epoch, scale uint64, sum *big.Int) error
}

// StableTokenLedger moves stable tokens between accounts and burns offset
// debt out of the pool account.
type StableTokenLedger interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
}

// CollateralVault pays out the collateral the pool has absorbed.
type CollateralVault interface {
	Send(asset string, to crypto.Address, amount *big.Int) error
}

// RewardLedger pays accumulated reward-token gains to depositors.
type RewardLedger interface {
	Send(to crypto.Address, amount *big.Int) error
}

// RewardIssuance yields the reward tokens newly emitted to the pool since
// the previous trigger. The emission schedule itself lives outside the
// ledger engine.
type RewardIssuance interface {
	Issue() (*big.Int, error)
}

// PositionProbe exposes the position-ledger checks the pool guards on.
type PositionProbe interface {
	HasUnderCollateralized() (bool, error)
	IsActive(asset string, owner crypto.Address) (bool, error)
}

// PositionTopUp routes a realized collateral gain into the depositor's open
// position via the operations collaborator.
type PositionTopUp interface {
	TopUpFromPool(asset string, owner crypto.Address, amount *big.Int, upperHint, lowerHint crypto.Address) error
}

// Engine owns the pooled stable-token deposits that absorb liquidated debt
// and implements the compounding loss/gain distribution.
type Engine struct {
	state              engineState
	token              StableTokenLedger
	vault              CollateralVault
	rewards            RewardLedger
	issuance           RewardIssuance
	probe              PositionProbe
	topUp              PositionTopUp
	account            crypto.Address
	activeAccount      crypto.Address
	positionsAuthority crypto.Address
	pauses             nativecommon.PauseView
	reentry            nativecommon.ReentryGuard
	emitter            events.Emitter
}

// NewEngine constructs a pool engine bound to its stable-token account.
func NewEngine(account crypto.Address) *Engine {
	return &Engine{account: account, emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCollaborators wires the token, vault and reward ledgers.
func (e *Engine) SetCollaborators(token StableTokenLedger, vault CollateralVault, rewards RewardLedger) {
	if e == nil {
		return
	}
	e.token = token
	e.vault = vault
	e.rewards = rewards
}

// SetIssuance wires the optional reward-emission source.
func (e *Engine) SetIssuance(issuance RewardIssuance) {
	if e == nil {
		return
	}
	e.issuance = issuance
}

// SetPositionProbe wires the position-ledger checks used by the withdraw
// guard and the gain-to-position flow.
func (e *Engine) SetPositionProbe(probe PositionProbe, topUp PositionTopUp) {
	if e == nil {
		return
	}
	e.probe = probe
	e.topUp = topUp
}

// SetActiveAccount wires the position ledger's active collateral account.
// Gains routed into a position are sent there instead of the depositor.
func (e *Engine) SetActiveAccount(account crypto.Address) {
	if e == nil {
		return
	}
	e.activeAccount = account
}

// SetPositionsAuthority restricts Offset to the position ledger identity.
func (e *Engine) SetPositionsAuthority(authority crypto.Address) {
	if e == nil {
		return
	}
	e.positionsAuthority = authority
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

// Account returns the pool's stable-token account address.
func (e *Engine) Account() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.account
}

func (e *Engine) emitEvent(evt poolEvent) {
	if e == nil || e.emitter == nil || evt.evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Provide tops up the caller's deposit. Pending gains are realized and paid
// first, then the deposit is overwritten with compounded value plus the new
// amount under fresh snapshots.
func (e *Engine) Provide(depositor crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.reentry.Enter(); err != nil {
		return err
	}
	defer e.reentry.Exit()

	st, err := e.ensurePoolState()
	if err != nil {
		return err
	}
	if err := e.triggerRewardIssuance(st); err != nil {
		return err
	}

	deposit, err := e.state.Deposit(depositor)
	if err != nil {
		return err
	}

	payout, err := e.settleGains(st, deposit)
	if err != nil {
		return err
	}

	compounded, err := e.compoundedValue(st, deposit)
	if err != nil {
		return err
	}

	newValue := new(big.Int).Add(compounded, amount)
	st.TotalDeposits = new(big.Int).Add(st.TotalDeposits, amount)

	if err := e.writeDeposit(st, depositor, newValue); err != nil {
		return err
	}
	if err := e.state.PutPoolState(st); err != nil {
		return err
	}

	// Bookkeeping is final; move value last.
	if err := e.token.Transfer(depositor, e.account, amount); err != nil {
		return err
	}
	if err := e.payOut(depositor, payout); err != nil {
		return err
	}

	e.emitEvent(poolEvent{evt: newDepositUpdatedEvent(depositor, newValue)})
	return nil
}

// Withdraw pays out pending gains and returns up to amount of the
// compounded deposit. A zero amount is the harvest path: gains are realized
// without touching the principal and without the under-collateralization
// guard, matching the asymmetry of the original flow.
func (e *Engine) Withdraw(depositor crypto.Address, amount *big.Int) (*big.Int, error) {
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

	if amount != nil && amount.Sign() != 0 {
		if e.probe != nil {
			under, err := e.probe.HasUnderCollateralized()
			if err != nil {
				return nil, err
			}
			if under {
				return nil, ErrUnderCollateralized
			}
		}
	}

	st, err := e.ensurePoolState()
	if err != nil {
		return nil, err
	}

	deposit, err := e.state.Deposit(depositor)
	if err != nil {
		return nil, err
	}
	if deposit == nil || deposit.InitialValue == nil || deposit.InitialValue.Sign() == 0 {
		return nil, ErrNoDeposit
	}

	if err := e.triggerRewardIssuance(st); err != nil {
		return nil, err
	}

	payout, err := e.settleGains(st, deposit)
	if err != nil {
		return nil, err
	}

	compounded, err := e.compoundedValue(st, deposit)
	if err != nil {
		return nil, err
	}

	toWithdraw := big.NewInt(0)
	if amount != nil && amount.Sign() > 0 {
		toWithdraw = fixedpoint.Min(amount, compounded)
	}

	newValue := new(big.Int).Sub(compounded, toWithdraw)
	st.TotalDeposits = new(big.Int).Sub(st.TotalDeposits, toWithdraw)

	if err := e.writeDeposit(st, depositor, newValue); err != nil {
		return nil, err
	}
	if err := e.state.PutPoolState(st); err != nil {
		return nil, err
	}

	if toWithdraw.Sign() > 0 {
		if err := e.token.Transfer(e.account, depositor, toWithdraw); err != nil {
			return nil, err
		}
	}
	if err := e.payOut(depositor, payout); err != nil {
		return nil, err
	}

	e.emitEvent(poolEvent{evt: newDepositUpdatedEvent(depositor, newValue)})
	return toWithdraw, nil
}

// WithdrawGainToPosition routes the caller's collateral gain for one asset
// into their open position. Gains for other assets and the reward gain are
// paid out normally; the principal is left compounding.
func (e *Engine) WithdrawGainToPosition(depositor crypto.Address, asset string, upperHint, lowerHint crypto.Address) error {
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

	deposit, err := e.state.Deposit(depositor)
	if err != nil {
		return err
	}
	if deposit == nil || deposit.InitialValue == nil || deposit.InitialValue.Sign() == 0 {
		return ErrNoDeposit
	}
	if e.probe != nil {
		active, err := e.probe.IsActive(asset, depositor)
		if err != nil {
			return err
		}
		if !active {
			return ErrNoPosition
		}
	}

	st, err := e.ensurePoolState()
	if err != nil {
		return err
	}
	if err := e.triggerRewardIssuance(st); err != nil {
		return err
	}

	payout, err := e.settleGains(st, deposit)
	if err != nil {
		return err
	}
	routed := payout.collateral[asset]
	if routed == nil || routed.Sign() == 0 {
		return ErrNoCollateralGain
	}
	delete(payout.collateral, asset)

	compounded, err := e.compoundedValue(st, deposit)
	if err != nil {
		return err
	}

	if err := e.writeDeposit(st, depositor, compounded); err != nil {
		return err
	}
	if err := e.state.PutPoolState(st); err != nil {
		return err
	}

	if err := e.payOut(depositor, payout); err != nil {
		return err
	}
	if e.vault != nil && !e.activeAccount.IsZero() {
		if err := e.vault.Send(asset, e.activeAccount, routed); err != nil {
			return err
		}
	}
	if e.topUp != nil {
		if err := e.topUp.TopUpFromPool(asset, depositor, routed, upperHint, lowerHint); err != nil {
			return err
		}
	}

	e.emitEvent(poolEvent{evt: newGainToPositionEvent(depositor, asset, routed)})
	return nil
}

// TotalDeposits reports the stable tokens currently absorbing losses.
func (e *Engine) TotalDeposits() (*big.Int, error) {
	st, err := e.ensurePoolState()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(st.TotalDeposits), nil
}

// CompoundedDeposit reports the current value of a deposit after all offsets
// since its snapshot.
func (e *Engine) CompoundedDeposit(owner crypto.Address) (*big.Int, error) {
	st, err := e.ensurePoolState()
	if err != nil {
		return nil, err
	}
	deposit, err := e.state.Deposit(owner)
	if err != nil {
		return nil, err
	}
	return e.compoundedValue(st, deposit)
}

// CollateralGain reports the pending collateral gain for one asset.
func (e *Engine) CollateralGain(owner crypto.Address, asset string) (*big.Int, error) {
	st, err := e.ensurePoolState()
	if err != nil {
		return nil, err
	}
	deposit, err := e.state.Deposit(owner)
	if err != nil {
		return nil, err
	}
	return e.collateralGain(st, deposit, asset)
}

// RewardGain reports the pending reward-token gain.
func (e *Engine) RewardGain(owner crypto.Address) (*big.Int, error) {
	st, err := e.ensurePoolState()
	if err != nil {
		return nil, err
	}
	deposit, err := e.state.Deposit(owner)
	if err != nil {
		return nil, err
	}
	return e.rewardGain(st, deposit)
}

type gainPayout struct {
	reward     *big.Int
	collateral map[string]*big.Int
}

func (e *Engine) settleGains(st *PoolState, deposit *Deposit) (*gainPayout, error) {
	payout := &gainPayout{reward: big.NewInt(0), collateral: make(map[string]*big.Int)}
	if deposit == nil || deposit.InitialValue == nil || deposit.InitialValue.Sign() == 0 {
		return payout, nil
	}
	reward, err := e.rewardGain(st, deposit)
	if err != nil {
		return nil, err
	}
	payout.reward = reward
	for _, asset := range st.Assets {
		gain, err := e.collateralGain(st, deposit, asset)
		if err != nil {
			return nil, err
		}
		if gain.Sign() > 0 {
			payout.collateral[asset] = gain
			balance := st.CollBalances[asset]
			if balance == nil {
				balance = big.NewInt(0)
			}
			st.CollBalances[asset] = new(big.Int).Sub(balance, gain)
		}
	}
	return payout, nil
}

func (e *Engine) payOut(depositor crypto.Address, payout *gainPayout) error {
	if payout == nil {
		return nil
	}
	for asset, gain := range payout.collateral {
		if gain.Sign() <= 0 {
			continue
		}
		if err := e.vault.Send(asset, depositor, gain); err != nil {
			return err
		}
	}
	if payout.reward != nil && payout.reward.Sign() > 0 && e.rewards != nil {
		if err := e.rewards.Send(depositor, payout.reward); err != nil {
			return err
		}
	}
	if payout.reward.Sign() > 0 || len(payout.collateral) > 0 {
		e.emitEvent(poolEvent{evt: newGainsPaidEvent(depositor, payout.reward, payout.collateral)})
	}
	return nil
}

// writeDeposit overwrites the deposit record with fresh snapshots, or clears
// it entirely when the value has compounded away.
func (e *Engine) writeDeposit(st *PoolState, owner crypto.Address, newValue *big.Int) error {
	if newValue == nil || newValue.Sign() == 0 {
		return e.state.DeleteDeposit(owner)
	}

	snapshot := Snapshot{
		P:     new(big.Int).Set(st.P),
		Scale: st.CurrentScale,
		Epoch: st.CurrentEpoch,
		S:     make(map[string]*big.Int, len(st.Assets)),
	}
	currentG, err := e.state.SumG(st.CurrentEpoch, st.CurrentScale)
	if err != nil {
		return err
	}
	snapshot.G = currentG
	for _, asset := range st.Assets {
		currentS, err := e.state.SumS(st.CurrentEpoch, st.CurrentScale, asset)
		if err != nil {
			return err
		}
		snapshot.S[asset] = currentS
	}

	return e.state.PutDeposit(&Deposit{
		Owner:        owner,
		InitialValue: new(big.Int).Set(newValue),
		Snapshot:     snapshot,
	})
}

// compoundedValue applies the epoch/scale rules to a deposit snapshot. An
// older epoch means the pool was fully emptied since: the deposit is gone.
// Two or more scale changes leave less than a billionth of the original and
// round to zero, as does the secondary dust floor.
func (e *Engine) compoundedValue(st *PoolState, deposit *Deposit) (*big.Int, error) {
	if deposit == nil || deposit.InitialValue == nil || deposit.InitialValue.Sign() == 0 {
		return big.NewInt(0), nil
	}
	snap := deposit.Snapshot
	if snap.Epoch < st.CurrentEpoch {
		return big.NewInt(0), nil
	}

	scaleDiff := st.CurrentScale - snap.Scale
	compounded := new(big.Int)
	switch scaleDiff {
	case 0:
		compounded.Mul(deposit.InitialValue, st.P)
		compounded.Quo(compounded, snap.P)
	case 1:
		compounded.Mul(deposit.InitialValue, st.P)
		compounded.Quo(compounded, snap.P)
		compounded.Quo(compounded, fixedpoint.ScaleBoundary)
	default:
		return big.NewInt(0), nil
	}

	dustFloor := new(big.Int).Quo(deposit.InitialValue, fixedpoint.ScaleBoundary)
	if compounded.Cmp(dustFloor) < 0 {
		return big.NewInt(0), nil
	}
	return compounded, nil
}

// collateralGain sums S across at most one scale boundary relative to the
// deposit snapshot.
func (e *Engine) collateralGain(st *PoolState, deposit *Deposit, asset string) (*big.Int, error) {
	if deposit == nil || deposit.InitialValue == nil || deposit.InitialValue.Sign() == 0 {
		return big.NewInt(0), nil
	}
	snap := deposit.Snapshot

	first, err := e.state.SumS(snap.Epoch, snap.Scale, asset)
	if err != nil {
		return nil, err
	}
	snapS := snap.S[asset]
	if snapS == nil {
		snapS = big.NewInt(0)
	}
	first = new(big.Int).Sub(first, snapS)

	second, err := e.state.SumS(snap.Epoch, snap.Scale+1, asset)
	if err != nil {
		return nil, err
	}
	second = new(big.Int).Quo(second, fixedpoint.ScaleBoundary)

	gain := new(big.Int).Add(first, second)
	gain.Mul(deposit.InitialValue, gain)
	gain.Quo(gain, snap.P)
	gain.Quo(gain, fixedpoint.One)
	return gain, nil
}

func (e *Engine) rewardGain(st *PoolState, deposit *Deposit) (*big.Int, error) {
	if deposit == nil || deposit.InitialValue == nil || deposit.InitialValue.Sign() == 0 {
		return big.NewInt(0), nil
	}
	snap := deposit.Snapshot

	first, err := e.state.SumG(snap.Epoch, snap.Scale)
	if err != nil {
		return nil, err
	}
	snapG := snap.G
	if snapG == nil {
		snapG = big.NewInt(0)
	}
	first = new(big.Int).Sub(first, snapG)

	second, err := e.state.SumG(snap.Epoch, snap.Scale+1)
	if err != nil {
		return nil, err
	}
	second = new(big.Int).Quo(second, fixedpoint.ScaleBoundary)

	gain := new(big.Int).Add(first, second)
	gain.Mul(deposit.InitialValue, gain)
	gain.Quo(gain, snap.P)
	gain.Quo(gain, fixedpoint.One)
	return gain, nil
}

func (e *Engine) ensurePoolState() (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	st, err := e.state.PoolState()
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &PoolState{}
	}
	if st.TotalDeposits == nil {
		st.TotalDeposits = big.NewInt(0)
	}
	if st.P == nil || st.P.Sign() == 0 {
		st.P = new(big.Int).Set(fixedpoint.One)
	}
	if st.LastLossError == nil {
		st.LastLossError = big.NewInt(0)
	}
	if st.LastRewardError == nil {
		st.LastRewardError = big.NewInt(0)
	}
	if st.LastCollError == nil {
		st.LastCollError = make(map[string]*big.Int)
	}
	if st.CollBalances == nil {
		st.CollBalances = make(map[string]*big.Int)
	}
	return st, nil
}
