package core

import (
	"math/big"
	"sync"
)

// StaticOracle serves operator-set prices at 1e18 scale. It seeds from the
// configured per-asset prices and accepts updates over the admin surface.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]*big.Int)}
}

// SetPrice installs or replaces the price for an asset.
func (o *StaticOracle) SetPrice(asset string, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = new(big.Int).Set(price)
	return nil
}

func (o *StaticOracle) FetchPrice(asset string) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok || price.Sign() <= 0 {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(price), nil
}
