package auction_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/fixed"
	"github.com/roach88/drawkeeper/internal/rng"
	"github.com/roach88/drawkeeper/internal/testutil"
	"github.com/roach88/drawkeeper/internal/workpool"
)

var (
	epoch  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	period = 24 * time.Hour

	alice = testutil.Address("alice")
	bob   = testutil.Address("bob")
	carol = testutil.Address("carol")
)

type fixture struct {
	ctx   context.Context
	clock *testutil.FakeClock
	pool  *workpool.Pool
	rng   *rng.Service
	m     *auction.Machine
}

func testConfig() auction.Config {
	return auction.Config{
		Duration:                  6 * time.Hour,
		TargetTime:                time.Hour,
		MaxRewards:                uint256.NewInt(10 * fixed.Scale),
		MaxRetries:                2,
		InitialTriggerFraction:    fixed.MustParseFraction("0.1"),
		InitialCompletionFraction: fixed.MustParseFraction("0.2"),
	}
}

// newFixture builds a machine over a pool whose first draw closes one period
// after epoch and whose reserve holds 1e18.
func newFixture(t *testing.T, mutate ...func(*auction.Config)) *fixture {
	t.Helper()
	return buildFixture(t, nil, mutate...)
}

func buildFixture(t *testing.T, poolOpts []workpool.Option, mutate ...func(*auction.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	clock := testutil.NewFakeClock(epoch)
	pool := workpool.New(clock, epoch.Add(period), period, poolOpts...)
	pool.Fund(uint256.NewInt(fixed.Scale))
	svc := rng.New(clock)

	m, err := auction.New(context.Background(), cfg, pool, svc,
		auction.WithClock(clock),
		auction.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	return &fixture{ctx: context.Background(), clock: clock, pool: pool, rng: svc, m: m}
}

func (f *fixture) request(t *testing.T) uint64 {
	t.Helper()
	h, err := f.rng.Request(f.ctx)
	require.NoError(t, err)
	return h
}

// trigger requests randomness and triggers in the same tick.
func (f *fixture) trigger(t *testing.T, recipient common.Address) uint64 {
	t.Helper()
	h := f.request(t)
	_, err := f.m.AttemptTrigger(f.ctx, recipient, h)
	require.NoError(t, err)
	return h
}

func (f *fixture) closeDraw() {
	f.clock.Advance(period)
}

func assertCode(t *testing.T, err error, code auction.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, auction.CodeOf(err), "error: %v", err)
}

func TestSingleTriggerAndCompletion(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()

	reward, err := f.m.TriggerReward(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "28", reward.Dec())

	h := f.request(t)
	drawID, err := f.m.AttemptTrigger(f.ctx, alice, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), drawID)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.rng.Fulfill(h))

	reward, err = f.m.CompletionReward(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "199999999999999994", reward.Dec())

	drawID, err = f.m.CompleteDraw(f.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), drawID)

	assert.Equal(t, "28", f.pool.Balance(alice).Dec())
	assert.Equal(t, "199999999999999994", f.pool.Balance(bob).Dec())
	reserve, _ := f.pool.ReserveBalance(f.ctx)
	assert.Equal(t, "799999999999999978", reserve.Dec())

	anchors := f.m.Anchors()
	assert.Equal(t, fixed.Fraction(28), anchors.Trigger)
	assert.Equal(t, fixed.MustParseFraction("0.2"), anchors.Completion)
	assert.Empty(t, f.m.Pending())

	awards := f.pool.Awards()
	require.Len(t, awards, 1)
	value, _ := f.rng.Value(f.ctx, h)
	assert.True(t, value.Eq(awards[0].RandomValue))
}

func TestAttemptTrigger_Rejections(t *testing.T) {
	t.Run("empty recipient", func(t *testing.T) {
		f := newFixture(t)
		f.closeDraw()
		_, err := f.m.AttemptTrigger(f.ctx, common.Address{}, f.request(t))
		assertCode(t, err, auction.ErrCodeEmptyRecipient)
	})

	t.Run("draw not closed", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(period - time.Second)
		_, err := f.m.AttemptTrigger(f.ctx, alice, f.request(t))
		assertCode(t, err, auction.ErrCodeNotYetDue)
	})

	t.Run("request from an earlier tick", func(t *testing.T) {
		f := newFixture(t)
		f.closeDraw()
		h := f.request(t)
		f.clock.NextTick()
		_, err := f.m.AttemptTrigger(f.ctx, alice, h)
		assertCode(t, err, auction.ErrCodeRequestNotFresh)
	})

	t.Run("live attempt", func(t *testing.T) {
		f := newFixture(t)
		f.closeDraw()
		f.trigger(t, alice)
		f.clock.Advance(time.Minute)
		_, err := f.m.AttemptTrigger(f.ctx, bob, f.request(t))
		assertCode(t, err, auction.ErrCodeAlreadyTriggered)
	})

	t.Run("window passed", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(period + 6*time.Hour + time.Second)
		_, err := f.m.AttemptTrigger(f.ctx, alice, f.request(t))
		assertCode(t, err, auction.ErrCodeWindowExpired)
	})

	t.Run("window boundary is inclusive", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(period + 6*time.Hour)
		_, err := f.m.AttemptTrigger(f.ctx, alice, f.request(t))
		require.NoError(t, err)
	})

	t.Run("unknown request", func(t *testing.T) {
		f := newFixture(t)
		f.closeDraw()
		_, err := f.m.AttemptTrigger(f.ctx, alice, 99)
		require.ErrorIs(t, err, rng.ErrUnknownRequest)
		assert.Equal(t, auction.ErrorCode(""), auction.CodeOf(err))
	})
}

func TestRetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()
	h1 := f.trigger(t, alice)

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.rng.Fail(h1))
	h2 := f.trigger(t, bob)

	require.Equal(t, 2, f.m.AttemptCount())
	first, err := f.m.AttemptAt(0)
	require.NoError(t, err)
	second, err := f.m.AttemptAt(1)
	require.NoError(t, err)
	assert.Equal(t, first.ClosedAt, second.OpenedAt)
	assert.Equal(t, 30*time.Minute, second.Elapsed())
	assert.Equal(t, h2, f.m.LastAttempt().RequestHandle)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.rng.Fulfill(h2))
	_, err = f.m.CompleteDraw(f.ctx, carol)
	require.NoError(t, err)

	assert.Equal(t, "28", f.pool.Balance(alice).Dec())
	assert.Equal(t, "75000000000000013", f.pool.Balance(bob).Dec())
	assert.Equal(t, "184999999999999991", f.pool.Balance(carol).Dec())
	assert.Equal(t, fixed.Fraction(75000000000000016), f.m.Anchors().Trigger)
}

func TestRetry_StaleRequest(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()
	older := f.request(t)
	newer := f.request(t)

	_, err := f.m.AttemptTrigger(f.ctx, alice, newer)
	require.NoError(t, err)
	require.NoError(t, f.rng.Fail(newer))

	_, err = f.m.AttemptTrigger(f.ctx, bob, older)
	assertCode(t, err, auction.ErrCodeStaleRequest)
}

func TestRetry_LimitReached(t *testing.T) {
	f := newFixture(t, func(c *auction.Config) { c.MaxRetries = 1 })
	f.closeDraw()

	h1 := f.trigger(t, alice)
	require.NoError(t, f.rng.Fail(h1))
	f.clock.Advance(time.Minute)
	h2 := f.trigger(t, alice)
	require.NoError(t, f.rng.Fail(h2))
	f.clock.Advance(time.Minute)

	_, err := f.m.AttemptTrigger(f.ctx, alice, f.request(t))
	assertCode(t, err, auction.ErrCodeRetryLimitReached)
	assert.Equal(t, 2, f.m.AttemptCount())

	state, err := f.m.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, auction.StateExpired, state)
}

func TestRetry_ZeroRetriesAllowsOneAttempt(t *testing.T) {
	f := newFixture(t, func(c *auction.Config) { c.MaxRetries = 0 })
	f.closeDraw()
	h := f.trigger(t, alice)
	require.NoError(t, f.rng.Fail(h))

	_, err := f.m.AttemptTrigger(f.ctx, alice, f.request(t))
	assertCode(t, err, auction.ErrCodeRetryLimitReached)
}

func TestRetry_AfterCompletionWindowPassed(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()
	h1 := f.trigger(t, alice)
	require.NoError(t, f.rng.Fulfill(h1))

	f.clock.Advance(7 * time.Hour)
	reserve, err := f.pool.ReserveBalance(f.ctx)
	require.NoError(t, err)
	_, err = f.m.CompleteDraw(f.ctx, bob)
	assertCode(t, err, auction.ErrCodeWindowExpired)
	assert.True(t, f.pool.Balance(bob).IsZero())
	assert.True(t, f.pool.Balance(alice).IsZero())
	after, err := f.pool.ReserveBalance(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, reserve.Dec(), after.Dec())
	assert.Empty(t, f.pool.Awards())
	assert.Empty(t, f.m.Pending())

	state, err := f.m.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, auction.StateRetryEligible, state)

	h2 := f.trigger(t, bob)
	second := f.m.LastAttempt()
	first, _ := f.m.AttemptAt(0)
	assert.Equal(t, first.ClosedAt.Add(6*time.Hour), second.OpenedAt)
	assert.Equal(t, time.Hour, second.Elapsed())

	f.clock.Advance(time.Hour)
	require.NoError(t, f.rng.Fulfill(h2))
	_, err = f.m.CompleteDraw(f.ctx, carol)
	require.NoError(t, err)

	assert.Equal(t, "28", f.pool.Balance(alice).Dec())
	assert.Equal(t, "99999999999999997", f.pool.Balance(bob).Dec())
	assert.Equal(t, "179999999999999995", f.pool.Balance(carol).Dec())
}

func TestRetry_FailedRequestPastWindowWaitsForDrawTimeout(t *testing.T) {
	f := buildFixture(t, []workpool.Option{workpool.WithDrawTimeout(period)})
	f.closeDraw()
	h := f.trigger(t, alice)
	require.NoError(t, f.rng.Fail(h))

	f.clock.Advance(7 * time.Hour)
	_, err := f.m.AttemptTrigger(f.ctx, bob, f.request(t))
	assertCode(t, err, auction.ErrCodeWindowExpired)
	ok, err := f.m.CanTrigger(f.ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	state, err := f.m.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, auction.StateExpired, state)

	// Draw 1 times out when draw 2 closes; draw 2 is then auctioned afresh.
	f.clock.Advance(17 * time.Hour)
	state, err = f.m.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, auction.StateIdle, state)

	h2 := f.trigger(t, bob)
	assert.Equal(t, uint64(2), f.m.LastAttempt().DrawID)
	assert.Equal(t, 1, f.m.AttemptCount())
	assert.Equal(t, time.Duration(0), f.m.LastAttempt().Elapsed())

	f.clock.Advance(time.Hour)
	require.NoError(t, f.rng.Fulfill(h2))
	drawID, err := f.m.CompleteDraw(f.ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), drawID)

	assert.Equal(t, []uint64{1}, f.pool.Skipped())
	assert.True(t, f.pool.Balance(alice).IsZero())
	assert.Equal(t, "28", f.pool.Balance(bob).Dec())
	assert.Equal(t, "199999999999999994", f.pool.Balance(carol).Dec())
}

func TestRetry_FailedRequestPastWindowKeepsDrawDueWithoutTimeout(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()
	h := f.trigger(t, alice)
	require.NoError(t, f.rng.Fail(h))

	f.clock.Advance(3 * period)
	_, err := f.m.AttemptTrigger(f.ctx, bob, f.request(t))
	assertCode(t, err, auction.ErrCodeWindowExpired)
	due, err := f.pool.DueDrawID(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), due)
}

func TestCompleteDraw_Rejections(t *testing.T) {
	t.Run("empty recipient", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.m.CompleteDraw(f.ctx, common.Address{})
		assertCode(t, err, auction.ErrCodeEmptyRecipient)
	})

	t.Run("nothing triggered", func(t *testing.T) {
		f := newFixture(t)
		f.closeDraw()
		_, err := f.m.CompleteDraw(f.ctx, bob)
		assertCode(t, err, auction.ErrCodeNotTriggered)
	})

	t.Run("randomness pending", func(t *testing.T) {
		f := newFixture(t)
		f.closeDraw()
		f.trigger(t, alice)
		_, err := f.m.CompleteDraw(f.ctx, bob)
		assertCode(t, err, auction.ErrCodeRandomnessNotReady)
		assert.True(t, auction.IsRetryable(err))
	})

	t.Run("randomness failed", func(t *testing.T) {
		f := newFixture(t)
		f.closeDraw()
		h := f.trigger(t, alice)
		require.NoError(t, f.rng.Fail(h))
		_, err := f.m.CompleteDraw(f.ctx, bob)
		assertCode(t, err, auction.ErrCodeRandomnessNotReady)
	})

	t.Run("already finalized", func(t *testing.T) {
		f := newFixture(t)
		f.closeDraw()
		h := f.trigger(t, alice)
		require.NoError(t, f.rng.Fulfill(h))
		_, err := f.m.CompleteDraw(f.ctx, bob)
		require.NoError(t, err)

		_, err = f.m.CompleteDraw(f.ctx, bob)
		assertCode(t, err, auction.ErrCodeDrawAlreadyFinalized)
	})
}

func TestNextDrawStartsNewCycle(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()
	h := f.trigger(t, alice)
	require.NoError(t, f.rng.Fulfill(h))
	_, err := f.m.CompleteDraw(f.ctx, bob)
	require.NoError(t, err)

	state, err := f.m.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, auction.StateCompleted, state)

	ok, err := f.m.CanTrigger(f.ctx)
	require.NoError(t, err)
	assert.False(t, ok, "draw 2 has not closed")

	f.closeDraw()
	state, err = f.m.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, auction.StateIdle, state)

	drawID, err := f.m.AttemptTrigger(f.ctx, carol, f.request(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), drawID)
	assert.Equal(t, 1, f.m.AttemptCount())
	assert.Equal(t, carol, f.m.LastAttempt().Recipient)
}

func TestRemainderRouting(t *testing.T) {
	f := newFixture(t, func(c *auction.Config) { c.RemainderRecipient = carol })
	f.closeDraw()
	h := f.trigger(t, alice)
	f.clock.Advance(time.Hour)
	require.NoError(t, f.rng.Fulfill(h))

	_, err := f.m.CompleteDraw(f.ctx, bob)
	require.NoError(t, err)

	assert.Equal(t, "799999999999999978", f.pool.Contribution(carol).Dec())
	reserve, _ := f.pool.ReserveBalance(f.ctx)
	assert.True(t, reserve.IsZero())
}

func TestAvailablePool(t *testing.T) {
	t.Run("capped by max rewards", func(t *testing.T) {
		f := newFixture(t, func(c *auction.Config) { c.MaxRewards = uint256.NewInt(1000) })
		f.closeDraw()
		h := f.trigger(t, alice)
		f.clock.Advance(time.Hour)
		require.NoError(t, f.rng.Fulfill(h))

		_, err := f.m.CompleteDraw(f.ctx, bob)
		require.NoError(t, err)
		assert.True(t, f.pool.Balance(alice).IsZero())
		assert.Equal(t, "200", f.pool.Balance(bob).Dec())
	})

	t.Run("includes pending inflow", func(t *testing.T) {
		f := newFixture(t)
		f.pool.AddInflow(uint256.NewInt(fixed.Scale))
		f.closeDraw()
		h := f.trigger(t, alice)
		f.clock.Advance(time.Hour)
		require.NoError(t, f.rng.Fulfill(h))

		reward, err := f.m.CompletionReward(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, "399999999999999988", reward.Dec())
	})

	t.Run("empty reserve pays nothing", func(t *testing.T) {
		clock := testutil.NewFakeClock(epoch)
		pool := workpool.New(clock, epoch.Add(period), period)
		svc := rng.New(clock)
		m, err := auction.New(context.Background(), testConfig(), pool, svc, auction.WithClock(clock))
		require.NoError(t, err)

		clock.Advance(period)
		h, _ := svc.Request(context.Background())
		_, err = m.AttemptTrigger(context.Background(), alice, h)
		require.NoError(t, err)
		require.NoError(t, svc.Fulfill(h))

		events := make(chan auction.DrawCompletedEvent, 1)
		sub := m.SubscribeCompletions(events)
		defer sub.Unsubscribe()

		_, err = m.CompleteDraw(context.Background(), bob)
		require.NoError(t, err)

		ev := <-events
		require.Len(t, ev.Amounts, 2)
		assert.True(t, ev.Amounts[0].IsZero())
		assert.True(t, ev.Amounts[1].IsZero())
		assert.True(t, ev.Leftover.IsZero())
	})
}

func TestPayoutFailureLeavesPendingTransfers(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()
	h := f.trigger(t, alice)
	f.clock.Advance(time.Hour)
	require.NoError(t, f.rng.Fulfill(h))

	f.pool.FailNextTransfers(1)
	drawID, err := f.m.CompleteDraw(f.ctx, bob)
	assertCode(t, err, auction.ErrCodePayoutFailed)
	assert.Equal(t, uint64(1), drawID, "draw is finalized despite the failed payout")

	pending := f.m.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, auction.TransferTrigger, pending[0].Kind)
	assert.Equal(t, auction.TransferCompletion, pending[1].Kind)

	require.NoError(t, f.m.SettlePending(f.ctx))
	assert.Empty(t, f.m.Pending())
	assert.Equal(t, "28", f.pool.Balance(alice).Dec())
	assert.Equal(t, "199999999999999994", f.pool.Balance(bob).Dec())
}

func TestPredicates(t *testing.T) {
	f := newFixture(t)

	ok, err := f.m.CanTrigger(f.ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	f.closeDraw()
	ok, err = f.m.CanTrigger(f.ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	h := f.trigger(t, alice)
	ok, _ = f.m.CanTrigger(f.ctx)
	assert.False(t, ok)
	ok, _ = f.m.CanComplete(f.ctx)
	assert.False(t, ok)

	reward, err := f.m.TriggerReward(f.ctx)
	require.NoError(t, err)
	assert.True(t, reward.IsZero())

	require.NoError(t, f.rng.Fulfill(h))
	ok, _ = f.m.CanComplete(f.ctx)
	assert.True(t, ok)

	f.clock.Advance(6*time.Hour + time.Second)
	ok, _ = f.m.CanComplete(f.ctx)
	assert.False(t, ok)
	reward, err = f.m.CompletionReward(f.ctx)
	require.NoError(t, err)
	assert.True(t, reward.IsZero())
}

func TestTriggerReward_AccountsForEarlierAttempts(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()
	h := f.trigger(t, alice)
	require.NoError(t, f.rng.Fail(h))
	f.clock.Advance(30 * time.Minute)

	reward, err := f.m.TriggerReward(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "75000000000000013", reward.Dec())
}

func TestPreviewLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.closeDraw()

	_, err := f.m.Preview(f.ctx, bob)
	assertCode(t, err, auction.ErrCodeNotTriggered)

	h := f.trigger(t, alice)
	f.clock.Advance(time.Hour)
	require.NoError(t, f.rng.Fulfill(h))

	want, err := f.m.CompletionReward(f.ctx)
	require.NoError(t, err)

	s, err := f.m.Preview(f.ctx, bob)
	require.NoError(t, err)
	require.Len(t, s.Rewards, 2)
	assert.Equal(t, alice, s.Rewards[0].Recipient)
	assert.Equal(t, bob, s.Rewards[1].Recipient)
	assert.Equal(t, want.Dec(), s.CompletionAmount().Dec())

	due, err := f.pool.DueDrawID(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), due)
	assert.Equal(t, 1, f.m.AttemptCount())
	assert.True(t, f.pool.Balance(bob).IsZero())

	ok, err := f.m.CanComplete(f.ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	state, err := f.m.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, auction.StateIdle, state)

	f.closeDraw()
	h := f.trigger(t, alice)
	state, _ = f.m.Status(f.ctx)
	assert.Equal(t, auction.StateTriggered, state)

	require.NoError(t, f.rng.Fail(h))
	state, _ = f.m.Status(f.ctx)
	assert.Equal(t, auction.StateRetryEligible, state)

	f.clock.Advance(7 * time.Hour)
	state, _ = f.m.Status(f.ctx)
	assert.Equal(t, auction.StateExpired, state)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	triggers := make(chan auction.TriggerEvent, 4)
	completions := make(chan auction.DrawCompletedEvent, 1)
	defer f.m.SubscribeTriggers(triggers).Unsubscribe()
	defer f.m.SubscribeCompletions(completions).Unsubscribe()

	f.closeDraw()
	f.clock.Advance(10 * time.Minute)
	h := f.request(t)
	ctx := auction.WithSender(f.ctx, carol)
	_, err := f.m.AttemptTrigger(ctx, alice, h)
	require.NoError(t, err)

	tev := <-triggers
	assert.Equal(t, carol, tev.Sender)
	assert.Equal(t, alice, tev.Recipient)
	assert.Equal(t, uint64(1), tev.DrawID)
	assert.Equal(t, h, tev.RequestHandle)
	assert.Equal(t, 10*time.Minute, tev.Elapsed)
	assert.Equal(t, 0, tev.Position)

	require.NoError(t, f.rng.Fulfill(h))
	_, err = f.m.CompleteDraw(ctx, bob)
	require.NoError(t, err)

	cev := <-completions
	assert.Equal(t, uint64(1), cev.DrawID)
	assert.Equal(t, []common.Address{alice, bob}, cev.Recipients)
	require.Len(t, cev.Amounts, 2)
	assert.Equal(t, f.pool.Balance(alice).Dec(), cev.Amounts[0].Dec())
	assert.Equal(t, f.pool.Balance(bob).Dec(), cev.Amounts[1].Dec())

	reserve, _ := f.pool.ReserveBalance(f.ctx)
	assert.Equal(t, reserve.Dec(), cev.Leftover.Dec())
	assert.Empty(t, triggers, "rejected calls emit nothing")
}

func TestNew_ValidatesConfig(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	pool := workpool.New(clock, epoch, 4*time.Hour)
	svc := rng.New(clock)

	tests := []struct {
		name   string
		mutate func(*auction.Config)
		code   auction.ErrorCode
	}{
		{name: "duration exceeds budget", mutate: func(c *auction.Config) {}, code: auction.ErrCodeDurationExceedsBudget},
		{name: "target exceeds duration", mutate: func(c *auction.Config) { c.TargetTime = 7 * time.Hour }, code: auction.ErrCodeTargetExceedsDuration},
		{name: "zero duration", mutate: func(c *auction.Config) { c.Duration = 0 }, code: auction.ErrCodeInvalidConfig},
		{name: "trigger anchor above one", mutate: func(c *auction.Config) { c.InitialTriggerFraction = fixed.One + 1 }, code: auction.ErrCodeAnchorFractionTooLarge},
		{name: "completion anchor above one", mutate: func(c *auction.Config) { c.InitialCompletionFraction = fixed.One + 1 }, code: auction.ErrCodeAnchorFractionTooLarge},
		{name: "negative retries", mutate: func(c *auction.Config) { c.MaxRetries = -1 }, code: auction.ErrCodeInvalidConfig},
		{name: "missing max rewards", mutate: func(c *auction.Config) { c.MaxRewards = nil }, code: auction.ErrCodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := auction.New(context.Background(), cfg, pool, svc, auction.WithClock(clock))
			assertCode(t, err, tt.code)
			assert.True(t, auction.IsConfigError(err))
		})
	}
}

func TestNewConfig(t *testing.T) {
	cfg, err := auction.NewConfig(6*time.Hour, time.Hour, uint256.NewInt(1), 3, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, fixed.Fraction(166666666666666666), cfg.TargetFraction)
	assert.Equal(t, auction.DefaultTriggerFraction, cfg.InitialTriggerFraction)
	assert.Equal(t, auction.DefaultCompletionFraction, cfg.InitialCompletionFraction)

	_, err = auction.NewConfig(time.Hour, 2*time.Hour, uint256.NewInt(1), 3, common.Address{})
	assertCode(t, err, auction.ErrCodeTargetExceedsDuration)
}
