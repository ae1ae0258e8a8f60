package stability

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

const testAsset = "wsteth"

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[0] = b
	return crypto.NewAddress(crypto.AccountPrefix, buf)
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.One)
}

type memState struct {
	deposits map[string]*Deposit
	pool     *PoolState
	sumS     map[string]*big.Int
	sumG     map[string]*big.Int
}

func newMemState() *memState {
	return &memState{
		deposits: make(map[string]*Deposit),
		sumS:     make(map[string]*big.Int),
		sumG:     make(map[string]*big.Int),
	}
}

func sumKey(epoch, scale uint64, asset string) string {
	return fmt.Sprintf("%d/%d/%s", epoch, scale, asset)
}

func (m *memState) Deposit(owner crypto.Address) (*Deposit, error) {
	return m.deposits[owner.Key()].Clone(), nil
}

func (m *memState) PutDeposit(deposit *Deposit) error {
	m.deposits[deposit.Owner.Key()] = deposit.Clone()
	return nil
}

func (m *memState) DeleteDeposit(owner crypto.Address) error {
	delete(m.deposits, owner.Key())
	return nil
}

func (m *memState) PoolState() (*PoolState, error) {
	return m.pool.Clone(), nil
}

func (m *memState) PutPoolState(state *PoolState) error {
	m.pool = state.Clone()
	return nil
}

func (m *memState) SumS(epoch, scale uint64, asset string) (*big.Int, error) {
	if v := m.sumS[sumKey(epoch, scale, asset)]; v != nil {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) PutSumS(epoch, scale uint64, asset string, sum *big.Int) error {
	m.sumS[sumKey(epoch, scale, asset)] = new(big.Int).Set(sum)
	return nil
}

func (m *memState) SumG(epoch, scale uint64) (*big.Int, error) {
	if v := m.sumG[sumKey(epoch, scale, "")]; v != nil {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) PutSumG(epoch, scale uint64, sum *big.Int) error {
	m.sumG[sumKey(epoch, scale, "")] = new(big.Int).Set(sum)
	return nil
}

type tokenMove struct {
	from   crypto.Address
	to     crypto.Address
	amount *big.Int
}

type fakeToken struct {
	transfers []tokenMove
	burned    *big.Int
}

func newFakeToken() *fakeToken { return &fakeToken{burned: big.NewInt(0)} }

func (t *fakeToken) Transfer(from, to crypto.Address, amount *big.Int) error {
	t.transfers = append(t.transfers, tokenMove{from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (t *fakeToken) Burn(_ crypto.Address, amount *big.Int) error {
	t.burned.Add(t.burned, amount)
	return nil
}

func (t *fakeToken) sentTo(to crypto.Address) *big.Int {
	total := big.NewInt(0)
	for _, mv := range t.transfers {
		if mv.to.Equal(to) {
			total.Add(total, mv.amount)
		}
	}
	return total
}

type fakeVault struct {
	sent map[string]*big.Int
}

func newFakeVault() *fakeVault { return &fakeVault{sent: make(map[string]*big.Int)} }

func (v *fakeVault) Send(asset string, to crypto.Address, amount *big.Int) error {
	key := asset + "/" + to.Key()
	if v.sent[key] == nil {
		v.sent[key] = big.NewInt(0)
	}
	v.sent[key].Add(v.sent[key], amount)
	return nil
}

func (v *fakeVault) sentTo(asset string, to crypto.Address) *big.Int {
	if v.sent[asset+"/"+to.Key()] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v.sent[asset+"/"+to.Key()])
}

type fakeRewards struct {
	sent map[string]*big.Int
}

func newFakeRewards() *fakeRewards { return &fakeRewards{sent: make(map[string]*big.Int)} }

func (r *fakeRewards) Send(to crypto.Address, amount *big.Int) error {
	if r.sent[to.Key()] == nil {
		r.sent[to.Key()] = big.NewInt(0)
	}
	r.sent[to.Key()].Add(r.sent[to.Key()], amount)
	return nil
}

type fakeIssuance struct {
	pending *big.Int
}

func (i *fakeIssuance) Issue() (*big.Int, error) {
	if i.pending == nil {
		return big.NewInt(0), nil
	}
	out := i.pending
	i.pending = nil
	return out, nil
}

type fakeProbe struct {
	under  bool
	active bool
}

func (p *fakeProbe) HasUnderCollateralized() (bool, error) { return p.under, nil }

func (p *fakeProbe) IsActive(string, crypto.Address) (bool, error) { return p.active, nil }

type topUpCall struct {
	asset  string
	owner  crypto.Address
	amount *big.Int
}

type fakeTopUp struct {
	calls []topUpCall
}

func (t *fakeTopUp) TopUpFromPool(asset string, owner crypto.Address, amount *big.Int, _, _ crypto.Address) error {
	t.calls = append(t.calls, topUpCall{asset: asset, owner: owner, amount: new(big.Int).Set(amount)})
	return nil
}

type poolHarness struct {
	engine    *Engine
	state     *memState
	token     *fakeToken
	vault     *fakeVault
	rewards   *fakeRewards
	issuance  *fakeIssuance
	probe     *fakeProbe
	topUp     *fakeTopUp
	account   crypto.Address
	active    crypto.Address
	authority crypto.Address
}

func newPoolHarness(t *testing.T) *poolHarness {
	t.Helper()
	h := &poolHarness{
		state:     newMemState(),
		token:     newFakeToken(),
		vault:     newFakeVault(),
		rewards:   newFakeRewards(),
		issuance:  &fakeIssuance{},
		probe:     &fakeProbe{},
		topUp:     &fakeTopUp{},
		account:   testAddr(0xAA),
		active:    testAddr(0xAC),
		authority: testAddr(0xAB),
	}
	engine := NewEngine(h.account)
	engine.SetState(h.state)
	engine.SetCollaborators(h.token, h.vault, h.rewards)
	engine.SetIssuance(h.issuance)
	engine.SetPositionProbe(h.probe, h.topUp)
	engine.SetActiveAccount(h.active)
	engine.SetPositionsAuthority(h.authority)
	h.engine = engine
	return h
}

func (h *poolHarness) provide(t *testing.T, depositor crypto.Address, amount *big.Int) {
	t.Helper()
	if err := h.engine.Provide(depositor, amount); err != nil {
		t.Fatalf("provide: %v", err)
	}
}

func (h *poolHarness) offset(t *testing.T, debt, coll *big.Int) {
	t.Helper()
	if err := h.engine.Offset(h.authority, testAsset, debt, coll); err != nil {
		t.Fatalf("offset: %v", err)
	}
}

// closeEnough tolerates the error-feedback wei lost to integer division.
func closeEnough(got, want *big.Int, tolerance int64) bool {
	diff := new(big.Int).Sub(got, want)
	return diff.CmpAbs(big.NewInt(tolerance)) <= 0
}

func TestProvideAndWithdrawRoundTrip(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddr(1)

	h.provide(t, alice, e18(100))
	total, err := h.engine.TotalDeposits()
	if err != nil {
		t.Fatalf("total deposits: %v", err)
	}
	if total.Cmp(e18(100)) != 0 {
		t.Fatalf("total = %s, want %s", total, e18(100))
	}
	if got := h.token.sentTo(h.account); got.Cmp(e18(100)) != 0 {
		t.Fatalf("pool account funding = %s, want %s", got, e18(100))
	}

	withdrawn, err := h.engine.Withdraw(alice, e18(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(e18(100)) != 0 {
		t.Fatalf("withdrawn = %s, want %s", withdrawn, e18(100))
	}
	if h.state.deposits[alice.Key()] != nil {
		t.Fatalf("empty deposit record not deleted")
	}
	total, _ = h.engine.TotalDeposits()
	if total.Sign() != 0 {
		t.Fatalf("total after withdraw = %s, want 0", total)
	}
}

func TestOffsetRejectsDebtAboveDeposits(t *testing.T) {
	h := newPoolHarness(t)
	h.provide(t, testAddr(1), e18(100))

	err := h.engine.Offset(h.authority, testAsset, e18(101), e18(1))
	if err != ErrOffsetExceedsDeposits {
		t.Fatalf("err = %v, want ErrOffsetExceedsDeposits", err)
	}
	total, _ := h.engine.TotalDeposits()
	if total.Cmp(e18(100)) != 0 {
		t.Fatalf("total after rejected offset = %s, want %s", total, e18(100))
	}
}

func TestOffsetCompoundsDepositsProRata(t *testing.T) {
	h := newPoolHarness(t)
	alice, bob := testAddr(1), testAddr(2)
	h.provide(t, alice, e18(60))
	h.provide(t, bob, e18(40))

	h.offset(t, e18(50), e18(1))

	if h.token.burned.Cmp(e18(50)) != 0 {
		t.Fatalf("burned = %s, want %s", h.token.burned, e18(50))
	}
	total, _ := h.engine.TotalDeposits()
	if total.Cmp(e18(50)) != 0 {
		t.Fatalf("total after offset = %s, want %s", total, e18(50))
	}

	aliceValue, err := h.engine.CompoundedDeposit(alice)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	if !closeEnough(aliceValue, e18(30), 100) {
		t.Fatalf("alice compounded = %s, want about %s", aliceValue, e18(30))
	}
	bobValue, _ := h.engine.CompoundedDeposit(bob)
	if !closeEnough(bobValue, e18(20), 100) {
		t.Fatalf("bob compounded = %s, want about %s", bobValue, e18(20))
	}

	aliceGain, err := h.engine.CollateralGain(alice, testAsset)
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	wantAlice := new(big.Int).Mul(e18(1), big.NewInt(60))
	wantAlice.Quo(wantAlice, big.NewInt(100))
	if !closeEnough(aliceGain, wantAlice, 100) {
		t.Fatalf("alice gain = %s, want about %s", aliceGain, wantAlice)
	}
	bobGain, _ := h.engine.CollateralGain(bob, testAsset)
	sum := new(big.Int).Add(aliceGain, bobGain)
	if sum.Cmp(e18(1)) > 0 {
		t.Fatalf("gains %s exceed seized collateral %s", sum, e18(1))
	}
}

func TestFullOffsetAdvancesEpochAndZeroesDeposits(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddr(1)
	h.provide(t, alice, e18(100))

	h.offset(t, e18(100), e18(2))

	st, _ := h.state.PoolState()
	if st.CurrentEpoch != 1 {
		t.Fatalf("epoch = %d, want 1", st.CurrentEpoch)
	}
	if st.CurrentScale != 0 {
		t.Fatalf("scale = %d, want 0", st.CurrentScale)
	}
	if st.P.Cmp(fixedpoint.One) != 0 {
		t.Fatalf("P = %s, want %s", st.P, fixedpoint.One)
	}

	value, err := h.engine.CompoundedDeposit(alice)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("compounded = %s, want 0", value)
	}
	// The collateral gain survives the epoch roll.
	gain, _ := h.engine.CollateralGain(alice, testAsset)
	if !closeEnough(gain, e18(2), 100) {
		t.Fatalf("gain = %s, want about %s", gain, e18(2))
	}

	// Harvesting pays the gain and clears the dead record.
	withdrawn, err := h.engine.Withdraw(alice, nil)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if withdrawn.Sign() != 0 {
		t.Fatalf("withdrawn = %s, want 0", withdrawn)
	}
	if got := h.vault.sentTo(testAsset, alice); !closeEnough(got, e18(2), 100) {
		t.Fatalf("paid gain = %s, want about %s", got, e18(2))
	}
	if h.state.deposits[alice.Key()] != nil {
		t.Fatalf("zeroed deposit record not deleted")
	}
}

func TestNearFullOffsetCrossesScaleBoundary(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddr(1)
	h.provide(t, alice, e18(1000))

	// Leaves 5e11 wei of 1e21: the product factor lands under the scale
	// boundary and P is rescaled instead of flooring to zero.
	debt := new(big.Int).Sub(e18(1000), big.NewInt(500_000_000_000))
	h.offset(t, debt, e18(10))

	st, _ := h.state.PoolState()
	if st.CurrentScale != 1 {
		t.Fatalf("scale = %d, want 1", st.CurrentScale)
	}
	if st.CurrentEpoch != 0 {
		t.Fatalf("epoch = %d, want 0", st.CurrentEpoch)
	}
	if st.P.Sign() <= 0 {
		t.Fatalf("P = %s, want positive", st.P)
	}
	if st.P.Cmp(fixedpoint.ScaleBoundary) < 0 {
		t.Fatalf("P = %s below the scale boundary after rescale", st.P)
	}

	// A crumb this small rounds to zero under the dust floor.
	value, _ := h.engine.CompoundedDeposit(alice)
	if value.Sign() != 0 {
		t.Fatalf("compounded = %s, want 0", value)
	}
}

func TestLateDepositSkipsEarlierGains(t *testing.T) {
	h := newPoolHarness(t)
	alice, bob := testAddr(1), testAddr(2)
	h.provide(t, alice, e18(100))
	h.offset(t, e18(50), e18(1))

	h.provide(t, bob, e18(100))
	bobGain, err := h.engine.CollateralGain(bob, testAsset)
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	if bobGain.Sign() != 0 {
		t.Fatalf("late depositor gained %s from an earlier offset", bobGain)
	}

	h.offset(t, e18(30), e18(1))
	bobGain, _ = h.engine.CollateralGain(bob, testAsset)
	aliceGain, _ := h.engine.CollateralGain(alice, testAsset)
	if bobGain.Sign() <= 0 {
		t.Fatalf("bob has no gain from the second offset")
	}
	// Alice holds ~50 against bob's 100 going into the second offset, so her
	// second-round share is about half of bob's on top of her first full coll.
	if aliceGain.Cmp(bobGain) <= 0 {
		t.Fatalf("alice gain %s not above bob gain %s", aliceGain, bobGain)
	}
}

func TestWithdrawBlockedWhileUnderCollateralizedExists(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddr(1)
	h.provide(t, alice, e18(100))
	h.offset(t, e18(50), e18(1))
	h.probe.under = true

	if _, err := h.engine.Withdraw(alice, e18(10)); err != ErrUnderCollateralized {
		t.Fatalf("err = %v, want ErrUnderCollateralized", err)
	}
	// The zero-amount harvest path skips the guard.
	if _, err := h.engine.Withdraw(alice, nil); err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if got := h.vault.sentTo(testAsset, alice); got.Sign() <= 0 {
		t.Fatalf("harvest paid no collateral gain")
	}
}

func TestWithdrawGainToPosition(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddr(1)
	h.provide(t, alice, e18(100))
	h.offset(t, e18(50), e18(1))

	h.probe.active = false
	err := h.engine.WithdrawGainToPosition(alice, testAsset, crypto.Address{}, crypto.Address{})
	if err != ErrNoPosition {
		t.Fatalf("err = %v, want ErrNoPosition", err)
	}

	h.probe.active = true
	if err := h.engine.WithdrawGainToPosition(alice, testAsset, crypto.Address{}, crypto.Address{}); err != nil {
		t.Fatalf("withdraw gain to position: %v", err)
	}
	if len(h.topUp.calls) != 1 {
		t.Fatalf("top up calls = %d, want 1", len(h.topUp.calls))
	}
	call := h.topUp.calls[0]
	if call.asset != testAsset || !call.owner.Equal(alice) {
		t.Fatalf("top up routed to %s/%s", call.asset, call.owner.String())
	}
	if !closeEnough(call.amount, e18(1), 100) {
		t.Fatalf("routed amount = %s, want about %s", call.amount, e18(1))
	}
	// The routed asset must not also be paid out through the vault.
	if got := h.vault.sentTo(testAsset, alice); got.Sign() != 0 {
		t.Fatalf("gain double paid through the vault: %s", got)
	}
	if got := h.vault.sentTo(testAsset, h.active); !closeEnough(got, e18(1), 100) {
		t.Fatalf("collateral moved to active account = %s, want about %s", got, e18(1))
	}

	err = h.engine.WithdrawGainToPosition(alice, testAsset, crypto.Address{}, crypto.Address{})
	if err != ErrNoCollateralGain {
		t.Fatalf("repeat err = %v, want ErrNoCollateralGain", err)
	}
}

func TestRewardIssuanceFoldsIntoGains(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddr(1)
	h.provide(t, alice, e18(100))

	h.issuance.pending = e18(10)
	h.offset(t, e18(50), e18(1))

	gain, err := h.engine.RewardGain(alice)
	if err != nil {
		t.Fatalf("reward gain: %v", err)
	}
	if !closeEnough(gain, e18(10), 100) {
		t.Fatalf("reward gain = %s, want about %s", gain, e18(10))
	}

	if _, err := h.engine.Withdraw(alice, nil); err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if got := h.rewards.sent[alice.Key()]; got == nil || !closeEnough(got, e18(10), 100) {
		t.Fatalf("paid reward = %v, want about %s", got, e18(10))
	}
}

func TestOffsetAuthorityAndNoOps(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddr(1)
	h.provide(t, alice, e18(100))

	err := h.engine.Offset(testAddr(0x77), testAsset, e18(10), e18(1))
	if err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	// Zero debt and an empty pool are both silent no-ops.
	if err := h.engine.Offset(h.authority, testAsset, big.NewInt(0), e18(1)); err != nil {
		t.Fatalf("zero debt offset: %v", err)
	}
	st, _ := h.state.PoolState()
	if st.TotalDeposits.Cmp(e18(100)) != 0 {
		t.Fatalf("total changed on zero-debt offset")
	}
}

func TestProvideRejectsBadAmountAndMissingDeposit(t *testing.T) {
	h := newPoolHarness(t)

	if err := h.engine.Provide(testAddr(1), big.NewInt(0)); err != ErrInvalidAmount {
		t.Fatalf("zero provide err = %v, want ErrInvalidAmount", err)
	}
	if err := h.engine.Provide(testAddr(1), nil); err != ErrInvalidAmount {
		t.Fatalf("nil provide err = %v, want ErrInvalidAmount", err)
	}
	if _, err := h.engine.Withdraw(testAddr(1), e18(1)); err != ErrNoDeposit {
		t.Fatalf("withdraw err = %v, want ErrNoDeposit", err)
	}
}

func TestProvideRealizesGainsBeforeTopUp(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddr(1)
	h.provide(t, alice, e18(100))
	h.offset(t, e18(40), e18(1))

	// Topping up realizes the pending gain and restores the principal under
	// fresh snapshots.
	h.provide(t, alice, e18(40))
	if got := h.vault.sentTo(testAsset, alice); !closeEnough(got, e18(1), 100) {
		t.Fatalf("realized gain = %s, want about %s", got, e18(1))
	}
	value, _ := h.engine.CompoundedDeposit(alice)
	if !closeEnough(value, e18(100), 200) {
		t.Fatalf("compounded after top up = %s, want about %s", value, e18(100))
	}
	gain, _ := h.engine.CollateralGain(alice, testAsset)
	if gain.Sign() != 0 {
		t.Fatalf("gain not reset after top up: %s", gain)
	}
}
