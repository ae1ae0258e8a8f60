package fixedpoint

import "math/big"

// Ledger arithmetic runs on 1e18 fixed-point integers. The constants below
// are boundary-sensitive: the stability pool's scale-increment comparison and
// the error-feedback splits depend on their exact values.
var (
	// One is the 1e18 unit scale shared by every fractional quantity.
	One = big.NewInt(1_000_000_000_000_000_000)
	// half rounds DecMul half-up.
	half = big.NewInt(500_000_000_000_000_000)
	// NominalPrecision scales price-free collateral ratios to 1e20 so a
	// partially redeemed position can be re-slotted without a price read.
	NominalPrecision = mustBigInt("100000000000000000000")
	// ScaleBoundary is the threshold under which the pool product is
	// rescaled upward rather than allowed to floor toward zero.
	ScaleBoundary = big.NewInt(1_000_000_000)
	// MaxRatio is the sentinel ratio reported for debt-free positions.
	MaxRatio = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// decPowMinuteCap bounds the exponent so a long-dormant fee state cannot make
// decay computation unbounded; beyond ~1000 years the factor is zero anyway.
const decPowMinuteCap = 525_600_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// DecMul multiplies two 1e18 fixed-point values, rounding half-up.
func DecMul(x, y *big.Int) *big.Int {
	if x == nil || y == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(x, y)
	product.Add(product, half)
	return product.Quo(product, One)
}

// DecPow raises a 1e18 fixed-point base to an integer minute exponent via
// exponentiation by squaring.
func DecPow(base *big.Int, minutes uint64) *big.Int {
	if minutes > decPowMinuteCap {
		minutes = decPowMinuteCap
	}
	if minutes == 0 {
		return new(big.Int).Set(One)
	}
	x := new(big.Int)
	if base != nil {
		x.Set(base)
	}
	y := new(big.Int).Set(One)
	n := minutes
	for n > 1 {
		if n%2 == 0 {
			x = DecMul(x, x)
			n /= 2
		} else {
			y = DecMul(x, y)
			x = DecMul(x, x)
			n = (n - 1) / 2
		}
	}
	return DecMul(x, y)
}

// NominalRatio computes coll/debt at 1e20 precision, price-free.
func NominalRatio(coll, debt *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(MaxRatio)
	}
	ratio := new(big.Int).Mul(coll, NominalPrecision)
	return ratio.Quo(ratio, debt)
}

// Ratio computes the price-denominated collateral ratio coll*price/debt at
// 1e18 precision.
func Ratio(coll, debt, price *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(MaxRatio)
	}
	ratio := new(big.Int).Mul(coll, price)
	return ratio.Quo(ratio, debt)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b as a fresh value.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) > 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
