package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "single_draw.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "single_draw", s.Name)
	assert.Equal(t, "6h", s.Auction.Duration)
	assert.Equal(t, "dao", s.Auction.RemainderRecipient)
	assert.Equal(t, "1h", s.Pool.FirstClose)
	require.NotEmpty(t, s.Steps)
	assert.Equal(t, OpRequest, s.Steps[0].Op())
	assert.Equal(t, OpTrigger, s.Steps[1].Op())
	assert.Equal(t, "NOT_YET_DUE", s.Steps[1].ExpectError)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baseScenario+`
steps:
  - next_tick: true
assertion:
  - {type: awards, count: 0}
`), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing name",
			src:  "description: x\nstart: \"2026-01-01T00:00:00Z\"\npool: {draw_period: 24h}\nsteps: [{next_tick: true}]\n",
			want: "name is required",
		},
		{
			name: "bad start",
			src:  "name: x\ndescription: x\nstart: yesterday\npool: {draw_period: 24h}\nsteps: [{next_tick: true}]\n",
			want: "start",
		},
		{
			name: "no steps",
			src:  baseScenario,
			want: "steps list is required",
		},
		{
			name: "two actions in one step",
			src:  baseScenario + "steps:\n  - {next_tick: true, request: r1}\n",
			want: "exactly one action",
		},
		{
			name: "expect_error on advance",
			src:  baseScenario + "steps:\n  - {advance: 1h, expect_error: NOT_YET_DUE}\n",
			want: "expect_error is not allowed",
		},
		{
			name: "trigger without request",
			src:  baseScenario + "steps:\n  - trigger: {recipient: alice}\n",
			want: "trigger needs recipient and request",
		},
		{
			name: "bad advance",
			src:  baseScenario + "steps:\n  - advance: soon\n",
			want: "advance",
		},
		{
			name: "bad fund amount",
			src:  baseScenario + "steps:\n  - fund: \"-5\"\n",
			want: "invalid amount",
		},
		{
			name: "unknown assertion",
			src:  baseScenario + "steps:\n  - next_tick: true\nassertions:\n  - {type: vibes}\n",
			want: "unknown assertion type",
		},
		{
			name: "balance without subject",
			src:  baseScenario + "steps:\n  - next_tick: true\nassertions:\n  - {type: balance, equals: \"1\"}\n",
			want: "of and equals are required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStepOp(t *testing.T) {
	assert.Equal(t, OpSettle, Step{Settle: true}.Op())
	assert.Equal(t, OpFailTransfers, Step{FailTransfers: 2}.Op())
	assert.Equal(t, OpComplete, Step{Complete: &CompleteStep{Recipient: "a"}}.Op())
	assert.Equal(t, "", Step{}.Op())
	assert.Equal(t, "", Step{Settle: true, NextTick: true}.Op())
}
