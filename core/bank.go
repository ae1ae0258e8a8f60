package core

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
)

// CollateralBank holds per-account collateral balances for every asset.
// Module vaults and user wallets share it so liquidation, redemption and
// gain payouts are plain internal transfers.
type CollateralBank struct {
	balances map[string]map[string]*big.Int
}

func NewCollateralBank() *CollateralBank {
	return &CollateralBank{balances: make(map[string]map[string]*big.Int)}
}

func (b *CollateralBank) balance(asset string, addr crypto.Address) *big.Int {
	byOwner, ok := b.balances[asset]
	if !ok {
		byOwner = make(map[string]*big.Int)
		b.balances[asset] = byOwner
	}
	v, ok := byOwner[addr.Key()]
	if !ok {
		v = big.NewInt(0)
		byOwner[addr.Key()] = v
	}
	return v
}

// Credit adds externally deposited collateral to an account.
func (b *CollateralBank) Credit(asset string, addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.balance(asset, addr).Add(b.balance(asset, addr), amount)
	return nil
}

func (b *CollateralBank) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance := b.balance(asset, from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	balance.Sub(balance, amount)
	b.balance(asset, to).Add(b.balance(asset, to), amount)
	return nil
}

func (b *CollateralBank) BalanceOf(asset string, addr crypto.Address) *big.Int {
	return new(big.Int).Set(b.balance(asset, addr))
}

// Vault is a module account's view of the bank plus its debt bookkeeping.
// The active and default pools are both Vaults over different accounts.
type Vault struct {
	bank    *CollateralBank
	account crypto.Address
	debt    map[string]*big.Int
}

func NewVault(bank *CollateralBank, account crypto.Address) *Vault {
	return &Vault{bank: bank, account: account, debt: make(map[string]*big.Int)}
}

// Account returns the module address the vault settles against.
func (v *Vault) Account() crypto.Address { return v.account }

func (v *Vault) debtOf(asset string) *big.Int {
	d, ok := v.debt[asset]
	if !ok {
		d = big.NewInt(0)
		v.debt[asset] = d
	}
	return d
}

func (v *Vault) Collateral(asset string) (*big.Int, error) {
	return v.bank.BalanceOf(asset, v.account), nil
}

func (v *Vault) Debt(asset string) (*big.Int, error) {
	return new(big.Int).Set(v.debtOf(asset)), nil
}

func (v *Vault) IncreaseDebt(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	v.debtOf(asset).Add(v.debtOf(asset), amount)
	return nil
}

func (v *Vault) DecreaseDebt(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	debt := v.debtOf(asset)
	if debt.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	debt.Sub(debt, amount)
	return nil
}

func (v *Vault) SendCollateral(asset string, to crypto.Address, amount *big.Int) error {
	return v.bank.Transfer(asset, v.account, to, amount)
}

// Send satisfies the stability pool's vault interface.
func (v *Vault) Send(asset string, to crypto.Address, amount *big.Int) error {
	return v.SendCollateral(asset, to, amount)
}

// ReceiveCollateral acknowledges an inbound transfer. The shared bank moves
// balances on the sending side, so there is nothing left to record here;
// backends with segregated stores credit themselves in this hook.
func (v *Vault) ReceiveCollateral(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
