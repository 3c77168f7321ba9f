// Package fixed implements 18-decimal fixed-point arithmetic for reward
// fractions and reserve amounts.
//
// A Fraction is a non-negative ratio scaled by 1e18, so One is 1.0. Amounts are
// plain 256-bit integers in the smallest reserve unit. Every operation rounds
// toward zero, which keeps computed rewards from ever exceeding what the exact
// rational result would pay.
package fixed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits carried by a Fraction.
const Decimals = 18

// Scale is the integer value of 1.0.
const Scale uint64 = 1_000_000_000_000_000_000

// Fraction is a ratio scaled by 1e18.
type Fraction uint64

// One is the fraction 1.0.
const One Fraction = Fraction(Scale)

var scale = uint256.NewInt(Scale)

// ErrInvalidFraction is returned when a fraction literal cannot be parsed.
var ErrInvalidFraction = errors.New("invalid fraction")

// Int returns the scaled value as a 256-bit integer.
func (f Fraction) Int() *uint256.Int {
	return uint256.NewInt(uint64(f))
}

// Min returns the smaller of f and g.
func (f Fraction) Min(g Fraction) Fraction {
	if g < f {
		return g
	}
	return f
}

// String formats f as a decimal with trailing zeros trimmed ("0.1", "1").
func (f Fraction) String() string {
	whole := uint64(f) / Scale
	frac := uint64(f) % Scale
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	digits := strings.TrimRight(fmt.Sprintf("%018d", frac), "0")
	return fmt.Sprintf("%d.%s", whole, digits)
}

// ParseFraction parses a decimal literal such as "0.1", "1" or ".25".
// At most 18 fractional digits are accepted.
func ParseFraction(s string) (Fraction, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidFraction)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidFraction, s, Decimals)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFraction, s)
		}
	}
	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidFraction, s)
	}
	return Fraction(v), nil
}

// MustParseFraction is ParseFraction that panics on error. Intended for
// constants and tests.
func MustParseFraction(s string) Fraction {
	f, err := ParseFraction(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Ratio returns num/den as a Fraction, rounded down.
func Ratio(num, den uint64) (Fraction, error) {
	if den == 0 {
		return 0, fmt.Errorf("%w: zero denominator", ErrInvalidFraction)
	}
	q := Div(uint256.NewInt(num), uint256.NewInt(den))
	if !q.IsUint64() {
		return 0, fmt.Errorf("%w: %d/%d out of range", ErrInvalidFraction, num, den)
	}
	return Fraction(q.Uint64()), nil
}

// Mul returns floor(a*b / 1e18). The intermediate product is carried at 512
// bits; Mul panics only if the final result does not fit in 256 bits.
func Mul(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, scale)
	if overflow {
		panic(fmt.Sprintf("fixed: %s * %s overflows", a.Dec(), b.Dec()))
	}
	return z
}

// Div returns floor(a*1e18 / b). Division by zero panics.
func Div(a, b *uint256.Int) *uint256.Int {
	if b.IsZero() {
		panic("fixed: division by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, scale, b)
	if overflow {
		panic(fmt.Sprintf("fixed: %s / %s overflows", a.Dec(), b.Dec()))
	}
	return z
}

// Of returns floor(f * amount), the share of amount that f represents.
func Of(f Fraction, amount *uint256.Int) *uint256.Int {
	return Mul(f.Int(), amount)
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}
