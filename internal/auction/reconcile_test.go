package auction

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/drawkeeper/internal/curve"
	"github.com/roach88/drawkeeper/internal/fixed"
)

var (
	closeTime = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	addrA     = common.HexToAddress("0x000000000000000000000000000000000000000a")
	addrB     = common.HexToAddress("0x000000000000000000000000000000000000000b")
	addrC     = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

func baseInput() ReconcileInput {
	return ReconcileInput{
		DrawID: 4,
		Attempts: []Attempt{
			{Recipient: addrA, OpenedAt: closeTime, ClosedAt: closeTime, DrawID: 4, RequestHandle: 1},
		},
		Completer:      addrB,
		Now:            closeTime.Add(time.Hour),
		Available:      uint256.NewInt(fixed.Scale),
		Duration:       6 * time.Hour,
		TargetFraction: 166666666666666666,
		Anchors: RewardAnchors{
			Trigger:    fixed.MustParseFraction("0.1"),
			Completion: fixed.MustParseFraction("0.2"),
		},
		Curve: curve.Parabolic{},
	}
}

func TestReconcile_RecordedFixture(t *testing.T) {
	s, err := Reconcile(baseInput())
	require.NoError(t, err)

	require.Len(t, s.Rewards, 2)
	assert.Equal(t, TransferTrigger, s.Rewards[0].Kind)
	assert.Equal(t, addrA, s.Rewards[0].Recipient)
	assert.Equal(t, "28", s.Rewards[0].Amount.Dec())
	assert.Equal(t, time.Duration(0), s.Rewards[0].Elapsed)

	assert.Equal(t, TransferCompletion, s.Rewards[1].Kind)
	assert.Equal(t, addrB, s.Rewards[1].Recipient)
	assert.Equal(t, "199999999999999994", s.Rewards[1].Amount.Dec())
	assert.Equal(t, time.Hour, s.Rewards[1].Elapsed)

	assert.Equal(t, "799999999999999978", s.Leftover.Dec())
	assert.Nil(t, s.Remainder)
	assert.Equal(t, RewardAnchors{Trigger: 28, Completion: fixed.MustParseFraction("0.2")}, s.Anchors())
	assert.Equal(t, "199999999999999994", s.CompletionAmount().Dec())
}

func TestReconcile_SumNeverExceedsAvailable(t *testing.T) {
	in := baseInput()
	in.Attempts = []Attempt{
		{Recipient: addrA, OpenedAt: closeTime, ClosedAt: closeTime.Add(6 * time.Hour), DrawID: 4},
		{Recipient: addrB, OpenedAt: closeTime.Add(6 * time.Hour), ClosedAt: closeTime.Add(12 * time.Hour), DrawID: 4},
	}
	in.Now = closeTime.Add(18 * time.Hour)

	s, err := Reconcile(in)
	require.NoError(t, err)
	assert.Equal(t, in.Available.Dec(), s.Rewards[0].Amount.Dec())
	assert.True(t, s.Rewards[1].Amount.IsZero())
	assert.True(t, s.Rewards[2].Amount.IsZero())
	assert.True(t, s.Leftover.IsZero())
}

func TestReconcile_RoutesRemainder(t *testing.T) {
	in := baseInput()
	in.RemainderRecipient = addrC

	s, err := Reconcile(in)
	require.NoError(t, err)
	require.NotNil(t, s.Remainder)
	assert.Equal(t, TransferRemainder, s.Remainder.Kind)
	assert.Equal(t, addrC, s.Remainder.Recipient)
	assert.Equal(t, s.Leftover.Dec(), s.Remainder.Amount.Dec())

	transfers := s.Transfers()
	require.Len(t, transfers, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{transfers[0].Position, transfers[1].Position, transfers[2].Position})
}

func TestReconcile_NoRemainderWhenNothingLeft(t *testing.T) {
	in := baseInput()
	in.RemainderRecipient = addrC
	in.Available = new(uint256.Int)

	s, err := Reconcile(in)
	require.NoError(t, err)
	assert.Nil(t, s.Remainder)
	assert.True(t, s.Leftover.IsZero())
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	in := baseInput()
	_, err := Reconcile(in)
	require.NoError(t, err)
	assert.Equal(t, fixed.Scale, in.Available.Uint64())
}

func TestReconcile_Event(t *testing.T) {
	s, err := Reconcile(baseInput())
	require.NoError(t, err)

	ev := s.Event(addrC)
	assert.Equal(t, addrC, ev.Sender)
	assert.Equal(t, uint64(4), ev.DrawID)
	assert.Equal(t, []common.Address{addrA, addrB}, ev.Recipients)
	assert.Equal(t, "28", ev.Amounts[0].Dec())
	assert.Equal(t, s.Leftover.Dec(), ev.Leftover.Dec())
	assert.Equal(t, closeTime.Add(time.Hour), ev.At)
}

func TestReconcile_NoAttempts(t *testing.T) {
	in := baseInput()
	in.Attempts = nil
	_, err := Reconcile(in)
	assert.True(t, IsCode(err, ErrCodeInvariantViolated))
}

// greedyCurve pays the whole pool to every participant.
type greedyCurve struct{ curve.Parabolic }

func (greedyCurve) Amounts(fs []fixed.Fraction, pool *uint256.Int) ([]*uint256.Int, *uint256.Int) {
	out := make([]*uint256.Int, len(fs))
	for i := range fs {
		out[i] = pool.Clone()
	}
	return out, new(uint256.Int)
}

func TestReconcile_RejectsOverpayingCurve(t *testing.T) {
	in := baseInput()
	in.Curve = greedyCurve{}
	_, err := Reconcile(in)
	assert.True(t, IsCode(err, ErrCodeInvariantViolated))
}
