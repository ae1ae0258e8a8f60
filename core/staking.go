package core

import "math/big"

// FeeStaking accumulates the protocol's fee revenue on behalf of the staking
// module. Distribution to individual stakers happens off the ledger path.
type FeeStaking struct {
	stable     *big.Int
	collateral map[string]*big.Int
}

func NewFeeStaking() *FeeStaking {
	return &FeeStaking{stable: big.NewInt(0), collateral: make(map[string]*big.Int)}
}

func (s *FeeStaking) ReceiveStableFee(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	s.stable.Add(s.stable, amount)
	return nil
}

func (s *FeeStaking) ReceiveCollateralFee(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b, ok := s.collateral[asset]
	if !ok {
		b = big.NewInt(0)
		s.collateral[asset] = b
	}
	b.Add(b, amount)
	return nil
}

// StableFees reports the accumulated stable-token fee revenue.
func (s *FeeStaking) StableFees() *big.Int {
	return new(big.Int).Set(s.stable)
}

// CollateralFees reports the accumulated fee revenue for one asset.
func (s *FeeStaking) CollateralFees(asset string) *big.Int {
	b, ok := s.collateral[asset]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b)
}
