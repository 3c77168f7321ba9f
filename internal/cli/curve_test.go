package cli

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/drawkeeper/internal/curve"
)

func TestSampleCurve(t *testing.T) {
	points, err := sampleCurve(curve.Parabolic{}, &CurveOptions{
		Duration: 6 * time.Hour,
		Target:   time.Hour,
		Last:     "0.1",
		Pool:     "1000000000000000000",
		Steps:    6,
	})
	require.NoError(t, err)
	require.Len(t, points, 7)

	assert.Equal(t, CurvePoint{Elapsed: "0s", Fraction: "0.000000000000000028", Amount: "28"}, points[0])
	assert.Equal(t, CurvePoint{Elapsed: "1h0m0s", Fraction: "0.1", Amount: "100000000000000000"}, points[1])
	assert.Equal(t, CurvePoint{Elapsed: "2h0m0s", Fraction: "0.135999999999999998", Amount: "135999999999999998"}, points[2])
	assert.Equal(t, CurvePoint{Elapsed: "6h0m0s", Fraction: "1", Amount: "1000000000000000000"}, points[6])

	for i := 1; i < len(points); i++ {
		prev, _ := new(big.Int).SetString(points[i-1].Amount, 10)
		cur, _ := new(big.Int).SetString(points[i].Amount, 10)
		assert.True(t, cur.Cmp(prev) >= 0, "amount decreased at %s", points[i].Elapsed)
	}
}

func TestSampleCurveRejects(t *testing.T) {
	base := CurveOptions{Duration: 6 * time.Hour, Target: time.Hour, Last: "0.1", Pool: "1", Steps: 4}
	tests := []struct {
		name   string
		modify func(*CurveOptions)
	}{
		{"zero steps", func(o *CurveOptions) { o.Steps = 0 }},
		{"bad pool", func(o *CurveOptions) { o.Pool = "lots" }},
		{"bad last", func(o *CurveOptions) { o.Last = "x" }},
		{"last above one", func(o *CurveOptions) { o.Last = "1.5" }},
		{"target exceeds duration", func(o *CurveOptions) { o.Target = 7 * time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.modify(&opts)
			_, err := sampleCurve(curve.Parabolic{}, &opts)
			assert.Error(t, err)
		})
	}
}

func TestCurveCommandText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCurveCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--steps", "6"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "100,000,000,000,000,000")
	assert.Contains(t, out, "1,000,000,000,000,000,000")
}

func TestCurveCommandJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCurveCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--steps", "3", "--pool", "1000"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string       `json:"status"`
		Data   []CurvePoint `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 4)
	assert.Equal(t, "1000", resp.Data[3].Amount)
}

func TestCurveCommandInvalidExitCode(t *testing.T) {
	cmd := NewCurveCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--steps", "0"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
