package positions

import (
	"math/big"
	"sort"
	"testing"
	"time"

	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/fixedpoint"
)

const testAsset = "wsteth"

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[0] = b
	return crypto.NewAddress(crypto.AccountPrefix, buf)
}

func moduleAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[0] = b
	return crypto.NewAddress(crypto.ModulePrefix, buf)
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.One)
}

type memState struct {
	positions map[string]*Position
	assets    map[string]*AssetState
	owners    map[string][]crypto.Address
}

func newMemState() *memState {
	return &memState{
		positions: make(map[string]*Position),
		assets:    make(map[string]*AssetState),
		owners:    make(map[string][]crypto.Address),
	}
}

func posKey(asset string, owner crypto.Address) string {
	return asset + "/" + owner.Key()
}

func (m *memState) Position(asset string, owner crypto.Address) (*Position, error) {
	return m.positions[posKey(asset, owner)].Clone(), nil
}

func (m *memState) PutPosition(position *Position) error {
	m.positions[posKey(position.Asset, position.Owner)] = position.Clone()
	return nil
}

func (m *memState) AssetState(asset string) (*AssetState, error) {
	return m.assets[asset].Clone(), nil
}

func (m *memState) PutAssetState(asset string, state *AssetState) error {
	m.assets[asset] = state.Clone()
	return nil
}

func (m *memState) OwnerCount(asset string) (uint64, error) {
	return uint64(len(m.owners[asset])), nil
}

func (m *memState) OwnerAt(asset string, index uint64) (crypto.Address, error) {
	return m.owners[asset][index], nil
}

func (m *memState) AppendOwner(asset string, owner crypto.Address) (uint64, error) {
	m.owners[asset] = append(m.owners[asset], owner)
	return uint64(len(m.owners[asset]) - 1), nil
}

func (m *memState) SetOwnerAt(asset string, index uint64, owner crypto.Address) error {
	m.owners[asset][index] = owner
	return nil
}

func (m *memState) RemoveLastOwner(asset string) error {
	m.owners[asset] = m.owners[asset][:len(m.owners[asset])-1]
	return nil
}

type fakeIndex struct {
	ratios map[string]map[string]*big.Int
	order  map[string][]crypto.Address
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		ratios: make(map[string]map[string]*big.Int),
		order:  make(map[string][]crypto.Address),
	}
}

func (i *fakeIndex) resort(asset string) {
	ratios := i.ratios[asset]
	sort.SliceStable(i.order[asset], func(a, b int) bool {
		return ratios[i.order[asset][a].Key()].Cmp(ratios[i.order[asset][b].Key()]) > 0
	})
}

func (i *fakeIndex) position(asset string, owner crypto.Address) int {
	for idx, o := range i.order[asset] {
		if o.Equal(owner) {
			return idx
		}
	}
	return -1
}

func (i *fakeIndex) First(asset string) (crypto.Address, bool) {
	if len(i.order[asset]) == 0 {
		return crypto.Address{}, false
	}
	return i.order[asset][0], true
}

func (i *fakeIndex) Last(asset string) (crypto.Address, bool) {
	n := len(i.order[asset])
	if n == 0 {
		return crypto.Address{}, false
	}
	return i.order[asset][n-1], true
}

func (i *fakeIndex) Next(asset string, owner crypto.Address) (crypto.Address, bool) {
	idx := i.position(asset, owner)
	if idx < 0 || idx+1 >= len(i.order[asset]) {
		return crypto.Address{}, false
	}
	return i.order[asset][idx+1], true
}

func (i *fakeIndex) Prev(asset string, owner crypto.Address) (crypto.Address, bool) {
	idx := i.position(asset, owner)
	if idx <= 0 {
		return crypto.Address{}, false
	}
	return i.order[asset][idx-1], true
}

func (i *fakeIndex) Insert(asset string, owner crypto.Address, ratio *big.Int, _, _ crypto.Address) {
	if i.ratios[asset] == nil {
		i.ratios[asset] = make(map[string]*big.Int)
	}
	i.ratios[asset][owner.Key()] = new(big.Int).Set(ratio)
	i.order[asset] = append(i.order[asset], owner)
	i.resort(asset)
}

func (i *fakeIndex) Reinsert(asset string, owner crypto.Address, ratio *big.Int, _, _ crypto.Address) {
	i.ratios[asset][owner.Key()] = new(big.Int).Set(ratio)
	i.resort(asset)
}

func (i *fakeIndex) Remove(asset string, owner crypto.Address) {
	idx := i.position(asset, owner)
	if idx < 0 {
		return
	}
	i.order[asset] = append(i.order[asset][:idx], i.order[asset][idx+1:]...)
	delete(i.ratios[asset], owner.Key())
}

func (i *fakeIndex) Contains(asset string, owner crypto.Address) bool {
	return i.position(asset, owner) >= 0
}

func (i *fakeIndex) Size(asset string) int { return len(i.order[asset]) }

type fakeOracle struct {
	price *big.Int
}

func (o *fakeOracle) FetchPrice(string) (*big.Int, error) {
	return new(big.Int).Set(o.price), nil
}

type collTransfer struct {
	asset  string
	to     crypto.Address
	amount *big.Int
}

type fakeLedger struct {
	coll map[string]*big.Int
	debt map[string]*big.Int
	sent []collTransfer
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{coll: make(map[string]*big.Int), debt: make(map[string]*big.Int)}
}

func (l *fakeLedger) value(m map[string]*big.Int, asset string) *big.Int {
	if m[asset] == nil {
		m[asset] = big.NewInt(0)
	}
	return m[asset]
}

func (l *fakeLedger) Collateral(asset string) (*big.Int, error) {
	return new(big.Int).Set(l.value(l.coll, asset)), nil
}

func (l *fakeLedger) Debt(asset string) (*big.Int, error) {
	return new(big.Int).Set(l.value(l.debt, asset)), nil
}

func (l *fakeLedger) IncreaseDebt(asset string, amount *big.Int) error {
	l.value(l.debt, asset).Add(l.value(l.debt, asset), amount)
	return nil
}

func (l *fakeLedger) DecreaseDebt(asset string, amount *big.Int) error {
	l.value(l.debt, asset).Sub(l.value(l.debt, asset), amount)
	return nil
}

func (l *fakeLedger) SendCollateral(asset string, to crypto.Address, amount *big.Int) error {
	l.value(l.coll, asset).Sub(l.value(l.coll, asset), amount)
	l.sent = append(l.sent, collTransfer{asset: asset, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (l *fakeLedger) ReceiveCollateral(asset string, amount *big.Int) error {
	l.value(l.coll, asset).Add(l.value(l.coll, asset), amount)
	return nil
}

func (l *fakeLedger) sentTo(to crypto.Address) *big.Int {
	total := big.NewInt(0)
	for _, tr := range l.sent {
		if tr.to.Equal(to) {
			total.Add(total, tr.amount)
		}
	}
	return total
}

type fakeToken struct {
	balances map[string]*big.Int
	supply   *big.Int
}

func newFakeToken() *fakeToken {
	return &fakeToken{balances: make(map[string]*big.Int), supply: big.NewInt(0)}
}

func (t *fakeToken) balance(addr crypto.Address) *big.Int {
	if t.balances[addr.Key()] == nil {
		t.balances[addr.Key()] = big.NewInt(0)
	}
	return t.balances[addr.Key()]
}

func (t *fakeToken) Mint(to crypto.Address, amount *big.Int) error {
	t.balance(to).Add(t.balance(to), amount)
	t.supply.Add(t.supply, amount)
	return nil
}

func (t *fakeToken) Burn(from crypto.Address, amount *big.Int) error {
	t.balance(from).Sub(t.balance(from), amount)
	t.supply.Sub(t.supply, amount)
	return nil
}

func (t *fakeToken) Transfer(from, to crypto.Address, amount *big.Int) error {
	t.balance(from).Sub(t.balance(from), amount)
	t.balance(to).Add(t.balance(to), amount)
	return nil
}

func (t *fakeToken) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(t.balance(addr)), nil
}

func (t *fakeToken) TotalSupply() (*big.Int, error) {
	return new(big.Int).Set(t.supply), nil
}

type fakeStaking struct {
	stableFees *big.Int
	collFees   map[string]*big.Int
}

func newFakeStaking() *fakeStaking {
	return &fakeStaking{stableFees: big.NewInt(0), collFees: make(map[string]*big.Int)}
}

func (s *fakeStaking) ReceiveStableFee(amount *big.Int) error {
	s.stableFees.Add(s.stableFees, amount)
	return nil
}

func (s *fakeStaking) ReceiveCollateralFee(asset string, amount *big.Int) error {
	if s.collFees[asset] == nil {
		s.collFees[asset] = big.NewInt(0)
	}
	s.collFees[asset].Add(s.collFees[asset], amount)
	return nil
}

type fakeSurplus struct {
	accrued map[string]*big.Int
}

func newFakeSurplus() *fakeSurplus {
	return &fakeSurplus{accrued: make(map[string]*big.Int)}
}

func (s *fakeSurplus) Accrue(asset string, owner crypto.Address, amount *big.Int) error {
	key := posKey(asset, owner)
	if s.accrued[key] == nil {
		s.accrued[key] = big.NewInt(0)
	}
	s.accrued[key].Add(s.accrued[key], amount)
	return nil
}

type fakeParams struct {
	mcr           *big.Int
	minNetDebt    *big.Int
	reserve       *big.Int
	gasDivisor    uint64
	redemptionFlr *big.Int
	borrowFlr     *big.Int
	maxBorrowFee  *big.Int
	bootstrap     time.Duration
	interestRate  *big.Int
	interestOn    bool
	trackedAssets []string
}

func defaultParams() *fakeParams {
	return &fakeParams{
		mcr:           big.NewInt(1_250_000_000_000_000_000),
		minNetDebt:    e18(100),
		reserve:       e18(10),
		gasDivisor:    200,
		redemptionFlr: big.NewInt(5_000_000_000_000_000),
		borrowFlr:     big.NewInt(5_000_000_000_000_000),
		maxBorrowFee:  big.NewInt(50_000_000_000_000_000),
		interestRate:  big.NewInt(0),
		trackedAssets: []string{testAsset},
	}
}

func (p *fakeParams) Assets() ([]string, error)              { return p.trackedAssets, nil }
func (p *fakeParams) MCR(string) (*big.Int, error)           { return new(big.Int).Set(p.mcr), nil }
func (p *fakeParams) MinNetDebt(string) (*big.Int, error)    { return new(big.Int).Set(p.minNetDebt), nil }
func (p *fakeParams) LiquidationReserve(string) (*big.Int, error) {
	return new(big.Int).Set(p.reserve), nil
}
func (p *fakeParams) CollateralGasDivisor(string) (uint64, error) { return p.gasDivisor, nil }
func (p *fakeParams) RedemptionFeeFloor(string) (*big.Int, error) {
	return new(big.Int).Set(p.redemptionFlr), nil
}
func (p *fakeParams) BorrowingFeeFloor(string) (*big.Int, error) {
	return new(big.Int).Set(p.borrowFlr), nil
}
func (p *fakeParams) MaxBorrowingFee(string) (*big.Int, error) {
	return new(big.Int).Set(p.maxBorrowFee), nil
}
func (p *fakeParams) BootstrapPeriod(string) (time.Duration, error) { return p.bootstrap, nil }
func (p *fakeParams) InterestRatePerSecond(string) (*big.Int, error) {
	return new(big.Int).Set(p.interestRate), nil
}
func (p *fakeParams) InterestEnabled(string) (bool, error) { return p.interestOn, nil }

type fakePool struct {
	deposits *big.Int
	offsets  []collTransfer
}

func newFakePool(deposits *big.Int) *fakePool {
	return &fakePool{deposits: new(big.Int).Set(deposits)}
}

func (p *fakePool) TotalDeposits() (*big.Int, error) {
	return new(big.Int).Set(p.deposits), nil
}

func (p *fakePool) Offset(_ crypto.Address, asset string, debt, coll *big.Int) error {
	p.deposits.Sub(p.deposits, debt)
	p.offsets = append(p.offsets, collTransfer{asset: asset, amount: new(big.Int).Set(debt)})
	return nil
}

type harness struct {
	engine   *Engine
	state    *memState
	index    *fakeIndex
	oracle   *fakeOracle
	active   *fakeLedger
	defaults *fakeLedger
	surplus  *fakeSurplus
	token    *fakeToken
	staking  *fakeStaking
	params   *fakeParams
	pool     *fakePool
	accounts Accounts
	ops      crypto.Address
	now      *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:    newMemState(),
		index:    newFakeIndex(),
		oracle:   &fakeOracle{price: e18(2000)},
		active:   newFakeLedger(),
		defaults: newFakeLedger(),
		surplus:  newFakeSurplus(),
		token:    newFakeToken(),
		staking:  newFakeStaking(),
		params:   defaultParams(),
		pool:     newFakePool(big.NewInt(0)),
		ops:      testAddr(0xEE),
	}
	h.accounts = Accounts{
		Active:    moduleAddr(0xA1),
		Default:   moduleAddr(0xA2),
		Stability: moduleAddr(0xA3),
		Surplus:   moduleAddr(0xA4),
		Fee:       moduleAddr(0xA5),
		Reserve:   moduleAddr(0xA6),
	}
	start := time.Unix(1_700_000_000, 0)
	h.now = &start

	engine := NewEngine(moduleAddr(0xAF), h.accounts)
	engine.SetState(h.state)
	engine.SetCollaborators(h.index, h.oracle, h.active, h.defaults, h.surplus, h.token, h.staking)
	engine.SetParameterStore(h.params)
	engine.SetLossAbsorber(h.pool)
	engine.SetOperationsAuthority(h.ops)
	engine.SetClock(func() time.Time { return *h.now })
	h.engine = engine
	return h
}

func (h *harness) advance(d time.Duration) {
	*h.now = h.now.Add(d)
}

// open creates a position and mirrors its value into the active ledger the
// way the operations collaborator would.
func (h *harness) open(t *testing.T, owner crypto.Address, coll, debt *big.Int) {
	t.Helper()
	if err := h.engine.OpenPosition(h.ops, testAsset, owner, coll, debt, crypto.Address{}, crypto.Address{}); err != nil {
		t.Fatalf("open position: %v", err)
	}
	if err := h.active.ReceiveCollateral(testAsset, coll); err != nil {
		t.Fatalf("fund active collateral: %v", err)
	}
	if err := h.active.IncreaseDebt(testAsset, debt); err != nil {
		t.Fatalf("fund active debt: %v", err)
	}
	netDebt := new(big.Int).Sub(debt, h.params.reserve)
	if err := h.token.Mint(owner, netDebt); err != nil {
		t.Fatalf("mint to owner: %v", err)
	}
	if err := h.token.Mint(h.accounts.Reserve, h.params.reserve); err != nil {
		t.Fatalf("mint reserve: %v", err)
	}
}

func (h *harness) position(t *testing.T, owner crypto.Address) *Position {
	t.Helper()
	position, err := h.state.Position(testAsset, owner)
	if err != nil {
		t.Fatalf("load position: %v", err)
	}
	if position == nil {
		t.Fatalf("position for %s not found", owner.String())
	}
	return position
}

func TestOpenPositionRecordsStakeAndIndex(t *testing.T) {
	h := newHarness(t)
	owner := testAddr(1)

	h.open(t, owner, e18(1), e18(810))

	position := h.position(t, owner)
	if position.Status != StatusActive {
		t.Fatalf("status = %v, want active", position.Status)
	}
	if position.Stake.Cmp(e18(1)) != 0 {
		t.Fatalf("stake = %s, want %s", position.Stake, e18(1))
	}
	if !h.index.Contains(testAsset, owner) {
		t.Fatalf("owner missing from ratio index")
	}
	st, _ := h.state.AssetState(testAsset)
	if st.TotalStakes.Cmp(e18(1)) != 0 {
		t.Fatalf("total stakes = %s, want %s", st.TotalStakes, e18(1))
	}
	count, _ := h.state.OwnerCount(testAsset)
	if count != 1 {
		t.Fatalf("owner count = %d, want 1", count)
	}
}

func TestOpenPositionRejectsDuplicateAndUnauthorized(t *testing.T) {
	h := newHarness(t)
	owner := testAddr(1)
	h.open(t, owner, e18(1), e18(810))

	err := h.engine.OpenPosition(h.ops, testAsset, owner, e18(1), e18(810), crypto.Address{}, crypto.Address{})
	if err != ErrPositionActive {
		t.Fatalf("duplicate open: err = %v, want ErrPositionActive", err)
	}
	err = h.engine.OpenPosition(testAddr(9), testAsset, testAddr(2), e18(1), e18(810), crypto.Address{}, crypto.Address{})
	if err != ErrUnauthorized {
		t.Fatalf("unauthorized open: err = %v, want ErrUnauthorized", err)
	}
}

func TestOpenPositionRejectsDebtBelowReserve(t *testing.T) {
	h := newHarness(t)
	err := h.engine.OpenPosition(h.ops, testAsset, testAddr(1), e18(1), e18(5), crypto.Address{}, crypto.Address{})
	if err != ErrDebtBelowReserve {
		t.Fatalf("err = %v, want ErrDebtBelowReserve", err)
	}
}

func TestAdjustPositionAppliesDeltas(t *testing.T) {
	h := newHarness(t)
	owner := testAddr(1)
	h.open(t, owner, e18(2), e18(810))

	err := h.engine.AdjustPosition(h.ops, testAsset, owner, e18(1), new(big.Int).Neg(e18(100)), crypto.Address{}, crypto.Address{})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	position := h.position(t, owner)
	if position.Collateral.Cmp(e18(3)) != 0 {
		t.Fatalf("coll = %s, want %s", position.Collateral, e18(3))
	}
	if position.Debt.Cmp(e18(710)) != 0 {
		t.Fatalf("debt = %s, want %s", position.Debt, e18(710))
	}
	if position.Stake.Cmp(e18(3)) != 0 {
		t.Fatalf("stake = %s, want %s", position.Stake, e18(3))
	}
}

func TestAdjustPositionRejectsDebtBelowReserve(t *testing.T) {
	h := newHarness(t)
	owner := testAddr(1)
	h.open(t, owner, e18(2), e18(810))

	err := h.engine.AdjustPosition(h.ops, testAsset, owner, nil, new(big.Int).Neg(e18(805)), crypto.Address{}, crypto.Address{})
	if err != ErrDebtBelowReserve {
		t.Fatalf("err = %v, want ErrDebtBelowReserve", err)
	}
}

func TestClosePositionGuardsLastSlot(t *testing.T) {
	h := newHarness(t)
	owner := testAddr(1)
	h.open(t, owner, e18(1), e18(810))

	err := h.engine.ClosePosition(h.ops, testAsset, owner, StatusClosedByOwner)
	if err != ErrLastPosition {
		t.Fatalf("err = %v, want ErrLastPosition", err)
	}
}

func TestClosePositionSwapAndPop(t *testing.T) {
	h := newHarness(t)
	a, b, c := testAddr(1), testAddr(2), testAddr(3)
	h.open(t, a, e18(1), e18(810))
	h.open(t, b, e18(2), e18(810))
	h.open(t, c, e18(3), e18(810))

	if err := h.engine.ClosePosition(h.ops, testAsset, a, StatusClosedByOwner); err != nil {
		t.Fatalf("close: %v", err)
	}

	closed := h.position(t, a)
	if closed.Status != StatusClosedByOwner {
		t.Fatalf("status = %v, want closedByOwner", closed.Status)
	}
	if closed.Debt.Sign() != 0 || closed.Collateral.Sign() != 0 || closed.Stake.Sign() != 0 {
		t.Fatalf("closed slot not zeroed: %+v", closed)
	}
	if h.index.Contains(testAsset, a) {
		t.Fatalf("closed owner still in ratio index")
	}
	count, _ := h.state.OwnerCount(testAsset)
	if count != 2 {
		t.Fatalf("owner count = %d, want 2", count)
	}
	// c moved into a's slot.
	moved, _ := h.state.OwnerAt(testAsset, 0)
	if !moved.Equal(c) {
		t.Fatalf("slot 0 holds %s, want %s", moved.String(), c.String())
	}
	if h.position(t, c).ArrayIndex != 0 {
		t.Fatalf("moved position array index = %d, want 0", h.position(t, c).ArrayIndex)
	}
}

func TestHasUnderCollateralizedTracksWorstPosition(t *testing.T) {
	h := newHarness(t)
	h.open(t, testAddr(1), e18(10), e18(810))
	h.open(t, testAddr(2), e18(1), e18(810))

	under, err := h.engine.HasUnderCollateralized()
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if under {
		t.Fatalf("no position should be under the minimum ratio at price 2000")
	}

	h.oracle.price = e18(900)
	under, err = h.engine.HasUnderCollateralized()
	if err != nil {
		t.Fatalf("query after price drop: %v", err)
	}
	if !under {
		t.Fatalf("worst position should be under the minimum ratio at price 900")
	}
}

func TestEntireDebtAndCollFoldsPendingRewards(t *testing.T) {
	h := newHarness(t)
	survivor, victim := testAddr(1), testAddr(2)
	h.open(t, survivor, e18(10), e18(900))
	h.open(t, victim, e18(1), e18(810))

	h.oracle.price = e18(900)
	if err := h.engine.Liquidate(testAddr(7), testAsset, victim); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	debt, coll, pendingDebt, pendingColl, err := h.engine.EntireDebtAndColl(testAsset, survivor)
	if err != nil {
		t.Fatalf("entire debt and coll: %v", err)
	}
	if pendingDebt.Cmp(e18(810)) != 0 {
		t.Fatalf("pending debt = %s, want %s", pendingDebt, e18(810))
	}
	if debt.Cmp(e18(1710)) != 0 {
		t.Fatalf("entire debt = %s, want %s", debt, e18(1710))
	}
	// Victim collateral minus 0.5% gas compensation redistributes in full.
	wantPendingColl := new(big.Int).Sub(e18(1), big.NewInt(5_000_000_000_000_000))
	if pendingColl.Cmp(wantPendingColl) != 0 {
		t.Fatalf("pending coll = %s, want %s", pendingColl, wantPendingColl)
	}
	if coll.Cmp(new(big.Int).Add(e18(10), wantPendingColl)) != 0 {
		t.Fatalf("entire coll = %s", coll)
	}
}
