package storage

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/positions"
	"github.com/stablis/stablis-contracts/native/stability"
)

// LedgerStore persists the position ledger and stability pool state into a
// key-value Database using RLP records. It satisfies both engines' state
// interfaces. Maps are flattened to sorted pair lists on the way in because
// RLP cannot encode them.
type LedgerStore struct {
	db Database
}

func NewLedgerStore(db Database) *LedgerStore {
	return &LedgerStore{db: db}
}

func positionKey(asset string, owner crypto.Address) []byte {
	return []byte("positions/pos/" + asset + "/" + owner.Key())
}

func assetStateKey(asset string) []byte {
	return []byte("positions/asset/" + asset)
}

func ownerCountKey(asset string) []byte {
	return []byte("positions/ownercnt/" + asset)
}

func ownerAtKey(asset string, index uint64) []byte {
	return []byte(fmt.Sprintf("positions/owner/%s/%d", asset, index))
}

func depositKey(owner crypto.Address) []byte {
	return []byte("stability/deposit/" + owner.Key())
}

var poolStateKey = []byte("stability/pool")

func sumSKey(epoch, scale uint64, asset string) []byte {
	return []byte(fmt.Sprintf("stability/sums/%d/%d/%s", epoch, scale, asset))
}

func sumGKey(epoch, scale uint64) []byte {
	return []byte(fmt.Sprintf("stability/sumg/%d/%d", epoch, scale))
}

var coreStateKey = []byte("core/state")

// CoreState returns the auxiliary ledger record persisted alongside the
// engine state, or nil when none has been written yet.
func (s *LedgerStore) CoreState() ([]byte, error) {
	ok, err := s.db.Has(coreStateKey)
	if err != nil || !ok {
		return nil, err
	}
	return s.db.Get(coreStateKey)
}

// PutCoreState writes the auxiliary ledger record.
func (s *LedgerStore) PutCoreState(raw []byte) error {
	return s.db.Put(coreStateKey, raw)
}

type storedAddress struct {
	Prefix string
	Raw    []byte
}

func toStoredAddress(addr crypto.Address) storedAddress {
	return storedAddress{Prefix: string(addr.Prefix()), Raw: addr.Bytes()}
}

func (s storedAddress) address() (crypto.Address, error) {
	if len(s.Raw) != 20 {
		return crypto.Address{}, fmt.Errorf("storage: corrupt address record, %d byte payload", len(s.Raw))
	}
	return crypto.NewAddress(crypto.AddressPrefix(s.Prefix), s.Raw), nil
}

type assetAmount struct {
	Asset  string
	Amount *big.Int
}

func flattenAmounts(m map[string]*big.Int) []assetAmount {
	out := make([]assetAmount, 0, len(m))
	for asset, amount := range m {
		if amount == nil {
			amount = big.NewInt(0)
		}
		out = append(out, assetAmount{Asset: asset, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func expandAmounts(pairs []assetAmount) map[string]*big.Int {
	out := make(map[string]*big.Int, len(pairs))
	for _, pair := range pairs {
		amount := pair.Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		out[pair.Asset] = amount
	}
	return out
}

func (s *LedgerStore) load(key []byte, out interface{}) (bool, error) {
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return false, err
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LedgerStore) store(key []byte, record interface{}) error {
	raw, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}

type storedPosition struct {
	Asset            string
	Owner            storedAddress
	Debt             *big.Int
	Collateral       *big.Int
	Stake            *big.Int
	Status           uint8
	ArrayIndex       uint64
	RewardColl       *big.Int
	RewardDebt       *big.Int
	InterestSnapshot *big.Int
}

func (s *LedgerStore) Position(asset string, owner crypto.Address) (*positions.Position, error) {
	var record storedPosition
	ok, err := s.load(positionKey(asset, owner), &record)
	if err != nil || !ok {
		return nil, err
	}
	decoded, err := record.Owner.address()
	if err != nil {
		return nil, err
	}
	return &positions.Position{
		Asset:            record.Asset,
		Owner:            decoded,
		Debt:             record.Debt,
		Collateral:       record.Collateral,
		Stake:            record.Stake,
		Status:           positions.Status(record.Status),
		ArrayIndex:       record.ArrayIndex,
		RewardSnapshot:   positions.RewardSnapshot{Coll: record.RewardColl, Debt: record.RewardDebt},
		InterestSnapshot: record.InterestSnapshot,
	}, nil
}

func (s *LedgerStore) PutPosition(position *positions.Position) error {
	record := storedPosition{
		Asset:            position.Asset,
		Owner:            toStoredAddress(position.Owner),
		Debt:             position.Debt,
		Collateral:       position.Collateral,
		Stake:            position.Stake,
		Status:           uint8(position.Status),
		ArrayIndex:       position.ArrayIndex,
		RewardColl:       position.RewardSnapshot.Coll,
		RewardDebt:       position.RewardSnapshot.Debt,
		InterestSnapshot: position.InterestSnapshot,
	}
	return s.store(positionKey(position.Asset, position.Owner), record)
}

type storedAssetState struct {
	TotalStakes             *big.Int
	TotalStakesSnapshot     *big.Int
	TotalCollateralSnapshot *big.Int
	LColl                   *big.Int
	LDebt                   *big.Int
	CollError               *big.Int
	DebtError               *big.Int
	BaseRate                *big.Int
	LastFeeOperation        uint64
	InterestIndex           *big.Int
	InterestAccruedAt       uint64
}

func (s *LedgerStore) AssetState(asset string) (*positions.AssetState, error) {
	var record storedAssetState
	ok, err := s.load(assetStateKey(asset), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &positions.AssetState{
		TotalStakes:             record.TotalStakes,
		TotalStakesSnapshot:     record.TotalStakesSnapshot,
		TotalCollateralSnapshot: record.TotalCollateralSnapshot,
		LColl:                   record.LColl,
		LDebt:                   record.LDebt,
		CollError:               record.CollError,
		DebtError:               record.DebtError,
		BaseRate:                record.BaseRate,
		LastFeeOperation:        int64(record.LastFeeOperation),
		InterestIndex:           record.InterestIndex,
		InterestAccruedAt:       int64(record.InterestAccruedAt),
	}, nil
}

func (s *LedgerStore) PutAssetState(asset string, state *positions.AssetState) error {
	record := storedAssetState{
		TotalStakes:             state.TotalStakes,
		TotalStakesSnapshot:     state.TotalStakesSnapshot,
		TotalCollateralSnapshot: state.TotalCollateralSnapshot,
		LColl:                   state.LColl,
		LDebt:                   state.LDebt,
		CollError:               state.CollError,
		DebtError:               state.DebtError,
		BaseRate:                state.BaseRate,
		LastFeeOperation:        uint64(state.LastFeeOperation),
		InterestIndex:           state.InterestIndex,
		InterestAccruedAt:       uint64(state.InterestAccruedAt),
	}
	return s.store(assetStateKey(asset), record)
}

func (s *LedgerStore) OwnerCount(asset string) (uint64, error) {
	var count uint64
	ok, err := s.load(ownerCountKey(asset), &count)
	if err != nil || !ok {
		return 0, err
	}
	return count, nil
}

func (s *LedgerStore) OwnerAt(asset string, index uint64) (crypto.Address, error) {
	var record storedAddress
	ok, err := s.load(ownerAtKey(asset, index), &record)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, fmt.Errorf("storage: no owner at index %d for asset %q", index, asset)
	}
	return record.address()
}

func (s *LedgerStore) AppendOwner(asset string, owner crypto.Address) (uint64, error) {
	count, err := s.OwnerCount(asset)
	if err != nil {
		return 0, err
	}
	if err := s.SetOwnerAt(asset, count, owner); err != nil {
		return 0, err
	}
	if err := s.store(ownerCountKey(asset), count+1); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *LedgerStore) SetOwnerAt(asset string, index uint64, owner crypto.Address) error {
	return s.store(ownerAtKey(asset, index), toStoredAddress(owner))
}

func (s *LedgerStore) RemoveLastOwner(asset string) error {
	count, err := s.OwnerCount(asset)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("storage: owner array for %q already empty", asset)
	}
	if err := s.db.Delete(ownerAtKey(asset, count-1)); err != nil {
		return err
	}
	return s.store(ownerCountKey(asset), count-1)
}

type storedDeposit struct {
	Owner         storedAddress
	InitialValue  *big.Int
	SnapshotP     *big.Int
	SnapshotG     *big.Int
	SnapshotS     []assetAmount
	SnapshotScale uint64
	SnapshotEpoch uint64
}

func (s *LedgerStore) Deposit(owner crypto.Address) (*stability.Deposit, error) {
	var record storedDeposit
	ok, err := s.load(depositKey(owner), &record)
	if err != nil || !ok {
		return nil, err
	}
	decoded, err := record.Owner.address()
	if err != nil {
		return nil, err
	}
	return &stability.Deposit{
		Owner:        decoded,
		InitialValue: record.InitialValue,
		Snapshot: stability.Snapshot{
			P:     record.SnapshotP,
			G:     record.SnapshotG,
			S:     expandAmounts(record.SnapshotS),
			Scale: record.SnapshotScale,
			Epoch: record.SnapshotEpoch,
		},
	}, nil
}

func (s *LedgerStore) PutDeposit(deposit *stability.Deposit) error {
	record := storedDeposit{
		Owner:         toStoredAddress(deposit.Owner),
		InitialValue:  deposit.InitialValue,
		SnapshotP:     deposit.Snapshot.P,
		SnapshotG:     deposit.Snapshot.G,
		SnapshotS:     flattenAmounts(deposit.Snapshot.S),
		SnapshotScale: deposit.Snapshot.Scale,
		SnapshotEpoch: deposit.Snapshot.Epoch,
	}
	return s.store(depositKey(deposit.Owner), record)
}

func (s *LedgerStore) DeleteDeposit(owner crypto.Address) error {
	return s.db.Delete(depositKey(owner))
}

type storedPoolState struct {
	TotalDeposits   *big.Int
	P               *big.Int
	CurrentScale    uint64
	CurrentEpoch    uint64
	LastLossError   *big.Int
	LastRewardError *big.Int
	LastCollError   []assetAmount
	CollBalances    []assetAmount
	Assets          []string
}

func (s *LedgerStore) PoolState() (*stability.PoolState, error) {
	var record storedPoolState
	ok, err := s.load(poolStateKey, &record)
	if err != nil || !ok {
		return nil, err
	}
	return &stability.PoolState{
		TotalDeposits:   record.TotalDeposits,
		P:               record.P,
		CurrentScale:    record.CurrentScale,
		CurrentEpoch:    record.CurrentEpoch,
		LastLossError:   record.LastLossError,
		LastRewardError: record.LastRewardError,
		LastCollError:   expandAmounts(record.LastCollError),
		CollBalances:    expandAmounts(record.CollBalances),
		Assets:          record.Assets,
	}, nil
}

func (s *LedgerStore) PutPoolState(state *stability.PoolState) error {
	record := storedPoolState{
		TotalDeposits:   state.TotalDeposits,
		P:               state.P,
		CurrentScale:    state.CurrentScale,
		CurrentEpoch:    state.CurrentEpoch,
		LastLossError:   state.LastLossError,
		LastRewardError: state.LastRewardError,
		LastCollError:   flattenAmounts(state.LastCollError),
		CollBalances:    flattenAmounts(state.CollBalances),
		Assets:          state.Assets,
	}
	return s.store(poolStateKey, record)
}

func (s *LedgerStore) SumS(epoch, scale uint64, asset string) (*big.Int, error) {
	var sum big.Int
	ok, err := s.load(sumSKey(epoch, scale, asset), &sum)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return &sum, nil
}

func (s *LedgerStore) PutSumS(epoch, scale uint64, asset string, sum *big.Int) error {
	return s.store(sumSKey(epoch, scale, asset), sum)
}

func (s *LedgerStore) SumG(epoch, scale uint64) (*big.Int, error) {
	var sum big.Int
	ok, err := s.load(sumGKey(epoch, scale), &sum)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return &sum, nil
}

func (s *LedgerStore) PutSumG(epoch, scale uint64, sum *big.Int) error {
	return s.store(sumGKey(epoch, scale), sum)
}
