package core

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
	"github.com/stablis/stablis-contracts/native/positions"
	"github.com/stablis/stablis-contracts/native/stability"
	"github.com/stablis/stablis-contracts/observability"
)

// Operations is the user-facing surface over the position and stability
// engines. It validates intent against the risk parameters, settles token
// and collateral value, and leaves the ledger bookkeeping to the engines.
type Operations struct {
	identity  crypto.Address
	positions *positions.Engine
	pool      *stability.Engine
	oracle    positions.PriceOracle
	params    positions.ParameterStore
	token     positions.StableTokenLedger
	bank      *CollateralBank
	active    *Vault
	surplus   *SurplusPool
	staking   positions.FeeRecipient
	accounts  positions.Accounts
	journal   opJournal
	metrics   *observability.LedgerMetrics
}

// opJournal lands or unwinds the buffered writes of one operation.
type opJournal interface {
	commit() error
	discard() error
}

// NewOperations wires the façade. The identity must match the position
// engine's operations authority.
func NewOperations(
	identity crypto.Address,
	posEngine *positions.Engine,
	poolEngine *stability.Engine,
	oracle positions.PriceOracle,
	params positions.ParameterStore,
	token positions.StableTokenLedger,
	bank *CollateralBank,
	active *Vault,
	surplus *SurplusPool,
	staking positions.FeeRecipient,
	accounts positions.Accounts,
) *Operations {
	return &Operations{
		identity:  identity,
		positions: posEngine,
		pool:      poolEngine,
		oracle:    oracle,
		params:    params,
		token:     token,
		bank:      bank,
		active:    active,
		surplus:   surplus,
		staking:   staking,
		accounts:  accounts,
	}
}

// SetMetrics enables operation counters and ledger gauges.
func (o *Operations) SetMetrics(metrics *observability.LedgerMetrics) {
	o.metrics = metrics
}

func (o *Operations) setJournal(journal opJournal) {
	o.journal = journal
}

// seal finishes a mutating operation: success commits the buffered writes,
// failure discards them and rolls the in-memory state back to the last
// committed record, so a failed operation leaves no trace.
func (o *Operations) seal(err error) error {
	if o.journal == nil {
		return err
	}
	if err != nil {
		if derr := o.journal.discard(); derr != nil {
			return derr
		}
		return err
	}
	return o.journal.commit()
}

func (o *Operations) record(operation string, err error) {
	if o.metrics != nil {
		o.metrics.RecordOperation(operation, err)
	}
}

// FundCollateral credits externally deposited collateral to an owner's bank
// balance. It is the system's inbound bridge in a single-node deployment.
func (o *Operations) FundCollateral(asset string, owner crypto.Address, amount *big.Int) (err error) {
	defer func() { err = o.seal(err) }()
	return o.bank.Credit(asset, owner, amount)
}

// OpenPosition draws requested stable tokens against fresh collateral. The
// recorded debt is the request plus the borrowing fee plus the liquidation
// reserve; the owner receives only the request.
func (o *Operations) OpenPosition(asset string, owner crypto.Address, coll, debt *big.Int, prevHint, nextHint crypto.Address) (err error) {
	defer func() { o.record("open_position", err) }()
	defer func() { err = o.seal(err) }()

	if coll == nil || coll.Sign() <= 0 || debt == nil || debt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, err = o.positions.DecayBaseRate(o.identity, asset); err != nil {
		return err
	}
	fee, err := o.positions.BorrowingFee(asset, debt)
	if err != nil {
		return err
	}

	netDebt := new(big.Int).Add(debt, fee)
	minNetDebt, err := o.params.MinNetDebt(asset)
	if err != nil {
		return err
	}
	if netDebt.Cmp(minNetDebt) < 0 {
		return ErrBelowMinNetDebt
	}

	reserve, err := o.params.LiquidationReserve(asset)
	if err != nil {
		return err
	}
	composite := new(big.Int).Add(netDebt, reserve)

	if err = o.checkRatio(asset, coll, composite); err != nil {
		return err
	}

	if err = o.positions.OpenPosition(o.identity, asset, owner, coll, composite, prevHint, nextHint); err != nil {
		return err
	}

	if err = o.active.IncreaseDebt(asset, composite); err != nil {
		return err
	}
	if err = o.bank.Transfer(asset, owner, o.accounts.Active, coll); err != nil {
		return err
	}
	if err = o.token.Mint(owner, debt); err != nil {
		return err
	}
	if err = o.token.Mint(o.accounts.Reserve, reserve); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err = o.token.Mint(o.accounts.Fee, fee); err != nil {
			return err
		}
		if err = o.staking.ReceiveStableFee(fee); err != nil {
			return err
		}
	}
	return nil
}

// AdjustPosition applies signed collateral and debt deltas. Borrowing more
// charges the borrowing fee on the drawn amount; repayment burns from the
// owner's balance.
func (o *Operations) AdjustPosition(asset string, owner crypto.Address, collChange, debtChange *big.Int, prevHint, nextHint crypto.Address) (err error) {
	defer func() { o.record("adjust_position", err) }()
	defer func() { err = o.seal(err) }()

	if collChange == nil {
		collChange = big.NewInt(0)
	}
	if debtChange == nil {
		debtChange = big.NewInt(0)
	}
	if collChange.Sign() == 0 && debtChange.Sign() == 0 {
		return ErrInvalidAmount
	}

	fee := big.NewInt(0)
	if debtChange.Sign() > 0 {
		if _, err = o.positions.DecayBaseRate(o.identity, asset); err != nil {
			return err
		}
		if fee, err = o.positions.BorrowingFee(asset, debtChange); err != nil {
			return err
		}
	}
	recordedDebtChange := new(big.Int).Add(debtChange, fee)

	debt, coll, _, _, err := o.positions.EntireDebtAndColl(asset, owner)
	if err != nil {
		return err
	}
	newDebt := new(big.Int).Add(debt, recordedDebtChange)
	newColl := new(big.Int).Add(coll, collChange)

	reserve, err := o.params.LiquidationReserve(asset)
	if err != nil {
		return err
	}
	minNetDebt, err := o.params.MinNetDebt(asset)
	if err != nil {
		return err
	}
	netDebt := new(big.Int).Sub(newDebt, reserve)
	if netDebt.Cmp(minNetDebt) < 0 {
		return ErrBelowMinNetDebt
	}
	if err = o.checkRatio(asset, newColl, newDebt); err != nil {
		return err
	}

	if err = o.positions.AdjustPosition(o.identity, asset, owner, collChange, recordedDebtChange, prevHint, nextHint); err != nil {
		return err
	}

	switch {
	case recordedDebtChange.Sign() > 0:
		if err = o.active.IncreaseDebt(asset, recordedDebtChange); err != nil {
			return err
		}
	case recordedDebtChange.Sign() < 0:
		if err = o.active.DecreaseDebt(asset, new(big.Int).Neg(recordedDebtChange)); err != nil {
			return err
		}
	}

	switch {
	case collChange.Sign() > 0:
		if err = o.bank.Transfer(asset, owner, o.accounts.Active, collChange); err != nil {
			return err
		}
	case collChange.Sign() < 0:
		if err = o.active.SendCollateral(asset, owner, new(big.Int).Neg(collChange)); err != nil {
			return err
		}
	}

	if debtChange.Sign() > 0 {
		if err = o.token.Mint(owner, debtChange); err != nil {
			return err
		}
		if fee.Sign() > 0 {
			if err = o.token.Mint(o.accounts.Fee, fee); err != nil {
				return err
			}
			if err = o.staking.ReceiveStableFee(fee); err != nil {
				return err
			}
		}
	} else if debtChange.Sign() < 0 {
		if err = o.token.Burn(owner, new(big.Int).Neg(debtChange)); err != nil {
			return err
		}
	}
	return nil
}

// ClosePosition repays the full net debt, burns the reserve and returns the
// collateral to the owner.
func (o *Operations) ClosePosition(asset string, owner crypto.Address) (err error) {
	defer func() { o.record("close_position", err) }()
	defer func() { err = o.seal(err) }()

	if err = o.positions.ApplyPendingRewards(o.identity, asset, owner); err != nil {
		return err
	}
	debt, coll, _, _, err := o.positions.EntireDebtAndColl(asset, owner)
	if err != nil {
		return err
	}
	reserve, err := o.params.LiquidationReserve(asset)
	if err != nil {
		return err
	}
	netDebt := new(big.Int).Sub(debt, reserve)

	balance, err := o.token.BalanceOf(owner)
	if err != nil {
		return err
	}
	if balance.Cmp(netDebt) < 0 {
		return ErrInsufficientFunds
	}

	if err = o.positions.ClosePosition(o.identity, asset, owner, positions.StatusClosedByOwner); err != nil {
		return err
	}

	if err = o.token.Burn(owner, netDebt); err != nil {
		return err
	}
	if err = o.token.Burn(o.accounts.Reserve, reserve); err != nil {
		return err
	}
	if err = o.active.DecreaseDebt(asset, debt); err != nil {
		return err
	}
	return o.active.SendCollateral(asset, owner, coll)
}

// Liquidate closes one under-collateralized position.
func (o *Operations) Liquidate(caller crypto.Address, asset string, owner crypto.Address) (err error) {
	defer func() { o.record("liquidate", err) }()
	defer func() { err = o.seal(err) }()
	if err = o.positions.Liquidate(caller, asset, owner); err != nil {
		return err
	}
	o.observeSystem(asset)
	return nil
}

// BatchLiquidate tries every listed position in one pass.
func (o *Operations) BatchLiquidate(caller crypto.Address, asset string, owners []crypto.Address) (err error) {
	defer func() { o.record("batch_liquidate", err) }()
	defer func() { err = o.seal(err) }()
	if err = o.positions.BatchLiquidate(caller, asset, owners); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordLiquidations(asset, len(owners))
	}
	o.observeSystem(asset)
	return nil
}

// Redeem swaps stable tokens for collateral against the riskiest positions.
func (o *Operations) Redeem(caller crypto.Address, asset string, amount, maxFee *big.Int, hints positions.RedemptionHints, maxIterations int) (result *positions.RedemptionResult, err error) {
	defer func() { o.record("redeem", err) }()
	defer func() { err = o.seal(err) }()
	result, err = o.positions.Redeem(caller, asset, amount, maxFee, hints, maxIterations)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordRedemption(asset)
	}
	o.observeSystem(asset)
	return result, nil
}

// ProvideToPool moves stable tokens into the loss-absorbing pool.
func (o *Operations) ProvideToPool(depositor crypto.Address, amount *big.Int) (err error) {
	defer func() { o.record("provide_to_pool", err) }()
	defer func() { err = o.seal(err) }()
	if err = o.pool.Provide(depositor, amount); err != nil {
		return err
	}
	o.observePool()
	return nil
}

// WithdrawFromPool returns up to amount of the compounded deposit. A nil
// amount harvests gains only.
func (o *Operations) WithdrawFromPool(depositor crypto.Address, amount *big.Int) (withdrawn *big.Int, err error) {
	defer func() { o.record("withdraw_from_pool", err) }()
	defer func() { err = o.seal(err) }()
	withdrawn, err = o.pool.Withdraw(depositor, amount)
	if err != nil {
		return nil, err
	}
	o.observePool()
	return withdrawn, nil
}

// WithdrawGainToPosition folds a pool collateral gain into the depositor's
// open position.
func (o *Operations) WithdrawGainToPosition(depositor crypto.Address, asset string, prevHint, nextHint crypto.Address) (err error) {
	defer func() { o.record("withdraw_gain_to_position", err) }()
	defer func() { err = o.seal(err) }()
	return o.pool.WithdrawGainToPosition(depositor, asset, prevHint, nextHint)
}

// ClaimSurplus pays out collateral left behind by a full redemption.
func (o *Operations) ClaimSurplus(asset string, owner crypto.Address) (amount *big.Int, err error) {
	defer func() { o.record("claim_surplus", err) }()
	defer func() { err = o.seal(err) }()
	return o.surplus.Claim(asset, owner)
}

func (o *Operations) checkRatio(asset string, coll, debt *big.Int) error {
	price, err := o.oracle.FetchPrice(asset)
	if err != nil {
		return err
	}
	mcr, err := o.params.MCR(asset)
	if err != nil {
		return err
	}
	if fixedpoint.Ratio(coll, debt, price).Cmp(mcr) < 0 {
		return ErrBelowMCR
	}
	return nil
}

func (o *Operations) observeSystem(asset string) {
	if o.metrics == nil {
		return
	}
	if debt, coll, err := o.positions.SystemDebtAndColl(asset); err == nil {
		o.metrics.SetSystemTotals(asset, debt, coll)
	}
	if rate, err := o.positions.BaseRate(asset); err == nil {
		o.metrics.SetBaseRate(asset, rate)
	}
}

func (o *Operations) observePool() {
	if o.metrics == nil {
		return
	}
	if total, err := o.pool.TotalDeposits(); err == nil {
		o.metrics.SetPoolDeposits(total)
	}
}
