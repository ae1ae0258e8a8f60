package core

import (
	"math/big"
	"time"

	"github.com/stablis/stablis-contracts/crypto"
)

// RewardLedger tracks reward-token balances paid to pool depositors.
type RewardLedger struct {
	balances map[string]*big.Int
	issued   *big.Int
}

func NewRewardLedger() *RewardLedger {
	return &RewardLedger{balances: make(map[string]*big.Int), issued: big.NewInt(0)}
}

func (r *RewardLedger) Send(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b, ok := r.balances[to.Key()]
	if !ok {
		b = big.NewInt(0)
		r.balances[to.Key()] = b
	}
	b.Add(b, amount)
	r.issued.Add(r.issued, amount)
	return nil
}

func (r *RewardLedger) BalanceOf(addr crypto.Address) *big.Int {
	b, ok := r.balances[addr.Key()]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b)
}

// DripIssuance emits reward tokens to the stability pool at a flat
// per-second rate. Issue reports the emission since the previous call.
type DripIssuance struct {
	ratePerSecond *big.Int
	clock         func() time.Time
	last          time.Time
}

func NewDripIssuance(ratePerSecond *big.Int, clock func() time.Time) *DripIssuance {
	if clock == nil {
		clock = time.Now
	}
	rate := big.NewInt(0)
	if ratePerSecond != nil && ratePerSecond.Sign() > 0 {
		rate = new(big.Int).Set(ratePerSecond)
	}
	return &DripIssuance{ratePerSecond: rate, clock: clock, last: clock()}
}

func (d *DripIssuance) Issue() (*big.Int, error) {
	now := d.clock()
	elapsed := int64(now.Sub(d.last) / time.Second)
	if elapsed <= 0 || d.ratePerSecond.Sign() == 0 {
		return big.NewInt(0), nil
	}
	d.last = now
	return new(big.Int).Mul(d.ratePerSecond, big.NewInt(elapsed)), nil
}
