package core

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
)

// TokenLedger is the reference stable-token implementation backing the
// engines in a single-node deployment. Operations run single-writer; the
// engines serialize access.
type TokenLedger struct {
	balances map[string]*big.Int
	supply   *big.Int
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{balances: make(map[string]*big.Int), supply: big.NewInt(0)}
}

func (t *TokenLedger) balance(addr crypto.Address) *big.Int {
	b, ok := t.balances[addr.Key()]
	if !ok {
		b = big.NewInt(0)
		t.balances[addr.Key()] = b
	}
	return b
}

func (t *TokenLedger) Mint(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.balance(to).Add(t.balance(to), amount)
	t.supply.Add(t.supply, amount)
	return nil
}

func (t *TokenLedger) Burn(from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance := t.balance(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	balance.Sub(balance, amount)
	t.supply.Sub(t.supply, amount)
	return nil
}

func (t *TokenLedger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance := t.balance(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	balance.Sub(balance, amount)
	t.balance(to).Add(t.balance(to), amount)
	return nil
}

func (t *TokenLedger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(t.balance(addr)), nil
}

func (t *TokenLedger) TotalSupply() (*big.Int, error) {
	return new(big.Int).Set(t.supply), nil
}
