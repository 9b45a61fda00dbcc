package prices

import (
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// RevshareFee deducts the 0.5% house share from a payout.
func RevshareFee(x uint64) uint64 {
	return mulDiv(x, 199, 200)
}

// Margin is the exposure a bet of amount at leverage adds to the pool:
// ceil(|leverage|*amount/divisor).
func Margin(amount uint64, leverage int64, divisor uint64) uint64 {
	lev := leverage
	if lev < 0 {
		lev = -lev
	}
	n := new(big.Int).Mul(new(big.Int).SetUint64(amount), big.NewInt(lev))
	d := new(big.Int).SetUint64(divisor)
	n.Add(n, new(big.Int).Sub(d, big.NewInt(1)))
	n.Quo(n, d)
	if !n.IsUint64() {
		return math.MaxUint64
	}
	return n.Uint64()
}

// AddAmount returns a+b and false when the sum does not fit a uint64.
func AddAmount(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// satAdd is a+b clamped at the uint64 maximum.
func satAdd(a, b uint64) uint64 {
	if sum, ok := AddAmount(a, b); ok {
		return sum
	}
	return math.MaxUint64
}

// Fits reports whether margin can be taken from headroom.
func Fits(margin uint64, headroom int64) bool {
	return margin <= math.MaxInt64 && int64(margin) <= headroom
}

// ExtraMargin is the margin added when p's principal grows to principal.
func ExtraMargin(p Position, principal, divisor uint64) uint64 {
	before := Margin(p.Principal, p.Leverage, divisor)
	after := Margin(principal, p.Leverage, divisor)
	if after < before {
		return 0
	}
	return after - before
}

// Headroom is floor(fund*fraction) - exposure. Negative means the pool is
// already over-committed.
func Headroom(fund, exposure uint64, fraction decimal.Decimal) int64 {
	avail := decimal.NewFromBigInt(new(big.Int).SetUint64(fund), 0).Mul(fraction).Floor()
	h := avail.Sub(decimal.NewFromBigInt(new(big.Int).SetUint64(exposure), 0))
	switch {
	case h.GreaterThan(decimal.NewFromInt(math.MaxInt64)):
		return math.MaxInt64
	case h.LessThan(decimal.NewFromInt(math.MinInt64)):
		return math.MinInt64
	}
	return h.IntPart()
}

// Profits is leverage*principal*(mark-costBasis)/costBasis, truncated toward zero.
func Profits(principal uint64, leverage int64, costBasis, mark int64) int64 {
	if costBasis <= 0 {
		return 0
	}
	n := new(big.Int).SetUint64(principal)
	n.Mul(n, big.NewInt(leverage))
	n.Mul(n, big.NewInt(mark-costBasis))
	n.Quo(n, big.NewInt(costBasis))
	if !n.IsInt64() {
		if n.Sign() < 0 {
			return -1 << 62
		}
		return 1 << 62
	}
	return n.Int64()
}

// IsRekt reports whether the loss has consumed the principal.
func IsRekt(principal uint64, profits int64) bool {
	return profits <= -int64(principal)
}

// Payout is what the owner receives on cashout: (principal + profits) less
// the house share. Zero when the equity is gone.
func Payout(principal uint64, profits int64) uint64 {
	equity := int64(principal) + profits
	if equity <= 0 {
		return 0
	}
	return RevshareFee(uint64(equity))
}

// RektReward pays the liquidator 0.2% of the principal, or nothing when
// that is below the tx fee.
func RektReward(principal, txFee uint64) uint64 {
	r := principal / 500
	if r < txFee {
		return 0
	}
	return r
}

func mulDiv(x, mul, div uint64) uint64 {
	n := new(big.Int).SetUint64(x)
	n.Mul(n, new(big.Int).SetUint64(mul))
	return n.Quo(n, new(big.Int).SetUint64(div)).Uint64()
}
