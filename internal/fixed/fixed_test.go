package fixed

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFraction(t *testing.T) {
	tests := []struct {
		in      string
		want    Fraction
		wantErr bool
	}{
		{in: "1", want: One},
		{in: "0.1", want: 100_000_000_000_000_000},
		{in: ".25", want: 250_000_000_000_000_000},
		{in: "0.000000000000000001", want: 1},
		{in: "1.5", want: 1_500_000_000_000_000_000},
		{in: "0.0000000000000000001", wantErr: true},
		{in: "-0.1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "100", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFraction(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidFraction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFractionString(t *testing.T) {
	assert.Equal(t, "1", One.String())
	assert.Equal(t, "0", Fraction(0).String())
	assert.Equal(t, "0.1", MustParseFraction("0.1").String())
	assert.Equal(t, "0.000000000000000028", Fraction(28).String())
	assert.Equal(t, "0.166666666666666666", Fraction(166666666666666666).String())
}

func TestRatio(t *testing.T) {
	f, err := Ratio(3600, 21600)
	require.NoError(t, err)
	assert.Equal(t, Fraction(166666666666666666), f)

	f, err = Ratio(5, 5)
	require.NoError(t, err)
	assert.Equal(t, One, f)

	_, err = Ratio(1, 0)
	assert.ErrorIs(t, err, ErrInvalidFraction)
}

func TestMulDivRoundDown(t *testing.T) {
	a := uint256.NewInt(200_000_000_000_000_000)
	pool := uint256.MustFromDecimal("999999999999999972")

	assert.Equal(t, "199999999999999994", Mul(a, pool).Dec())
	assert.Equal(t, "199999999999999994", Of(Fraction(a.Uint64()), pool).Dec())
	assert.Equal(t, "333333333333333333", Div(uint256.NewInt(1), uint256.NewInt(3)).Dec())
}

func TestMulHandlesWideIntermediate(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got := Mul(One.Int(), max)
	assert.True(t, got.Eq(max))
}

func TestDivByZeroPanics(t *testing.T) {
	assert.Panics(t, func() { Div(uint256.NewInt(1), new(uint256.Int)) })
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, Scale, v.Uint64())

	_, err = ParseAmount("1e18")
	assert.Error(t, err)
}
