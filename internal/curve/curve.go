// Package curve prices auction rewards as a function of elapsed time.
//
// An Engine maps elapsed auction time to a fraction of a reward pool and turns
// fractions into amounts. The auction machine only depends on the Engine
// interface, so alternative shapes can be plugged in without touching the
// reconciliation logic.
package curve

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/roach88/drawkeeper/internal/fixed"
)

// Engine computes reward fractions and amounts.
//
// Implementations must be pure: the same inputs always yield the same outputs.
// Fraction must return a value in [0, One] and reach One once elapsed is at
// least duration. Amounts must deplete the pool sequentially, so the sum of the
// returned amounts plus the returned remainder always equals pool.
type Engine interface {
	// Fraction returns the share of the pool earned after elapsed of an auction
	// lasting duration. target is the fraction of the duration at which the
	// reward is expected to equal last, the fraction paid by the previous
	// auction of the same kind.
	Fraction(elapsed, duration time.Duration, target, last fixed.Fraction) fixed.Fraction

	// Amount returns the part of pool that fraction f represents.
	Amount(f fixed.Fraction, pool *uint256.Int) *uint256.Int

	// Amounts applies each fraction in order to what remains of pool and
	// returns the individual amounts plus the final remainder.
	Amounts(fs []fixed.Fraction, pool *uint256.Int) ([]*uint256.Int, *uint256.Int)
}

// Parabolic is the default Engine. The fraction follows two parabolic arcs
// joined at the target time: below it the reward rises towards last, above it
// the reward rises from last towards One, which is reached at duration.
//
//	x <= t: f = r - r*(t-x)^2/t^2
//	x >  t: f = r + (1-r)*(x-t)^2/(1-t)^2
//
// where x = elapsed/duration, t = target and r = last. Every product and
// quotient is rounded down in the order written.
type Parabolic struct{}

var _ Engine = Parabolic{}

// Fraction implements Engine.
func (Parabolic) Fraction(elapsed, duration time.Duration, target, last fixed.Fraction) fixed.Fraction {
	if duration <= 0 || elapsed >= duration {
		return fixed.One
	}
	if elapsed < 0 {
		elapsed = 0
	}

	one := fixed.One.Int()
	r := last.Min(fixed.One).Int()
	t := target.Min(fixed.One).Int()
	x := fixed.Div(uint256.NewInt(uint64(elapsed)), uint256.NewInt(uint64(duration)))

	var f *uint256.Int
	if x.Gt(t) {
		delta := new(uint256.Int).Sub(x, t)
		span := new(uint256.Int).Sub(one, t)
		rise := fixed.Mul(new(uint256.Int).Sub(one, r), delta)
		rise = fixed.Mul(rise, delta)
		rise = fixed.Div(rise, span)
		rise = fixed.Div(rise, span)
		f = new(uint256.Int).Add(r, rise)
	} else {
		if t.IsZero() {
			return fixed.Fraction(r.Uint64())
		}
		delta := new(uint256.Int).Sub(t, x)
		drop := fixed.Mul(r, delta)
		drop = fixed.Mul(drop, delta)
		drop = fixed.Div(drop, t)
		drop = fixed.Div(drop, t)
		if drop.Gt(r) {
			return 0
		}
		f = new(uint256.Int).Sub(r, drop)
	}

	if f.Gt(one) {
		return fixed.One
	}
	return fixed.Fraction(f.Uint64())
}

// Amount implements Engine.
func (Parabolic) Amount(f fixed.Fraction, pool *uint256.Int) *uint256.Int {
	return fixed.Of(f.Min(fixed.One), pool)
}

// Amounts implements Engine.
func (p Parabolic) Amounts(fs []fixed.Fraction, pool *uint256.Int) ([]*uint256.Int, *uint256.Int) {
	remaining := pool.Clone()
	amounts := make([]*uint256.Int, len(fs))
	for i, f := range fs {
		amounts[i] = p.Amount(f, remaining)
		remaining.Sub(remaining, amounts[i])
	}
	return amounts, remaining
}
