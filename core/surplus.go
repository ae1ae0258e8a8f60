package core

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
)

// SurplusPool records collateral left behind by full redemptions until the
// former owner claims it. The collateral itself sits in the surplus module
// account; claims are paid from there.
type SurplusPool struct {
	bank    *CollateralBank
	account crypto.Address
	entries map[string]*big.Int
}

func NewSurplusPool(bank *CollateralBank, account crypto.Address) *SurplusPool {
	return &SurplusPool{bank: bank, account: account, entries: make(map[string]*big.Int)}
}

func surplusKey(asset string, owner crypto.Address) string {
	return asset + "/" + owner.Key()
}

func (s *SurplusPool) Accrue(asset string, owner crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	key := surplusKey(asset, owner)
	entry, ok := s.entries[key]
	if !ok {
		entry = big.NewInt(0)
		s.entries[key] = entry
	}
	entry.Add(entry, amount)
	return nil
}

// Claimable reports the pending surplus for an owner.
func (s *SurplusPool) Claimable(asset string, owner crypto.Address) *big.Int {
	entry, ok := s.entries[surplusKey(asset, owner)]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(entry)
}

// Claim pays the full pending surplus to the owner and clears the entry.
func (s *SurplusPool) Claim(asset string, owner crypto.Address) (*big.Int, error) {
	key := surplusKey(asset, owner)
	entry, ok := s.entries[key]
	if !ok || entry.Sign() == 0 {
		return nil, ErrNoSurplus
	}
	amount := new(big.Int).Set(entry)
	delete(s.entries, key)
	if err := s.bank.Transfer(asset, s.account, owner, amount); err != nil {
		return nil, err
	}
	return amount, nil
}
