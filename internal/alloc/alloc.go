package alloc

import (
	"errors"
	"fmt"
	"math/big"
)

// DefaultSeed is used when the operator does not supply one. Allocation is
// reproducible on purpose: the same (total, count, seed) always yields the
// same split, so a dry run previews exactly what a live run will do.
const DefaultSeed uint64 = 0x5eed

// ErrTotalTooSmall reports a total that cannot give every account a positive
// minor-unit amount.
var ErrTotalTooSmall = errors.New("total below one minor unit per account")

// Plan is an exact split of Total across a fleet, in minor units of the
// capital token. sum(Amounts) == Total holds bit-exactly.
type Plan struct {
	Amounts []*big.Int
	Total   *big.Int
	Seed    uint64
}

// lcg is a 64-bit linear congruential generator (Knuth MMIX constants).
type lcg struct {
	state uint64
}

func (l *lcg) next() uint64 {
	l.state = l.state*6364136223846793005 + 1442695040888963407
	return l.state
}

// jitterMicro draws a multiplier in [0.5, 2.0] expressed in millionths.
func (l *lcg) jitterMicro() int64 {
	const span = 1_500_001
	return 500_000 + int64((l.next()>>33)%span)
}

// New computes the per-account amounts for total minor units across count
// accounts. Each account draws a jitter factor in [0.5, 2.0] of the even
// share, the jittered amounts are rescaled to the requested total with
// integer flooring, clamped back into [even/2, 2*even], and the leftover
// residual goes to the single largest allocation so the sum is exact.
// A seed of 0 selects DefaultSeed.
func New(total *big.Int, count int, seed uint64) (Plan, error) {
	if count <= 0 {
		return Plan{}, fmt.Errorf("account count must be positive, got %d", count)
	}
	if total == nil || total.Sign() <= 0 {
		return Plan{}, fmt.Errorf("total must be positive")
	}
	even := new(big.Int).Div(total, big.NewInt(int64(count)))
	if even.Sign() == 0 {
		return Plan{}, fmt.Errorf("split %s across %d accounts: %w", total, count, ErrTotalTooSmall)
	}
	if seed == 0 {
		seed = DefaultSeed
	}

	rng := lcg{state: seed}
	jitters := make([]int64, count)
	var sumJ int64
	for i := range jitters {
		j := rng.jitterMicro()
		jitters[i] = j
		sumJ += j
	}

	minPer := new(big.Int).Add(even, big.NewInt(1))
	minPer.Rsh(minPer, 1)
	maxPer := new(big.Int).Lsh(even, 1)

	amounts := make([]*big.Int, count)
	sum := new(big.Int)
	bigSumJ := big.NewInt(sumJ)
	for i := range amounts {
		a := new(big.Int).Mul(total, big.NewInt(jitters[i]))
		a.Div(a, bigSumJ)
		if a.Cmp(minPer) < 0 {
			a.Set(minPer)
		}
		if a.Cmp(maxPer) > 0 {
			a.Set(maxPer)
		}
		amounts[i] = a
		sum.Add(sum, a)
	}

	if residual := new(big.Int).Sub(total, sum); residual.Sign() != 0 {
		largest := 0
		for i, a := range amounts {
			if a.Cmp(amounts[largest]) > 0 {
				largest = i
			}
		}
		amounts[largest].Add(amounts[largest], residual)
		if amounts[largest].Sign() <= 0 {
			return Plan{}, fmt.Errorf("residual correction emptied allocation %d: %w", largest, ErrTotalTooSmall)
		}
	}

	return Plan{Amounts: amounts, Total: new(big.Int).Set(total), Seed: seed}, nil
}

// Sum re-adds the plan amounts. Callers use it for preflight checks; the
// constructor already guarantees it equals Total.
func (p Plan) Sum() *big.Int {
	sum := new(big.Int)
	for _, a := range p.Amounts {
		sum.Add(sum, a)
	}
	return sum
}
