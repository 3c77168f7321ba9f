package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/fixed"
	"github.com/roach88/drawkeeper/internal/rng"
	"github.com/roach88/drawkeeper/internal/store"
	"github.com/roach88/drawkeeper/internal/testutil"
	"github.com/roach88/drawkeeper/internal/workpool"
)

// Defaults for auction parameters a scenario leaves empty.
const (
	defaultDuration   = "6h"
	defaultTargetTime = "1h"
	defaultMaxRewards = "1000000000000000000000"
)

// Harness owns the collaborators of one scenario run.
type Harness struct {
	clock   *testutil.FakeClock
	pool    *workpool.Pool
	rng     *rng.Service
	store   *store.Store
	machine *auction.Machine
	logger  *slog.Logger

	handles map[string]uint64
	labels  map[uint64]string
	names   map[common.Address]string

	triggers    chan auction.TriggerEvent
	completions chan auction.DrawCompletedEvent
	subs        []event.Subscription

	result *Result
}

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
}

// WithLogger routes machine logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		o.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store, work pool and
// randomness service. An error is returned only when the scenario cannot be
// executed; failed expectations and assertions are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()
	h, err := newHarness(ctx, scenario, o.logger)
	if err != nil {
		return nil, err
	}
	defer h.close()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op(), err)
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.assert(ctx, a); err != nil {
			h.result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return h.result, nil
}

func newHarness(ctx context.Context, s *Scenario, logger *slog.Logger) (*Harness, error) {
	start, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	h := &Harness{
		clock:       testutil.NewFakeClock(start),
		logger:      logger,
		handles:     make(map[string]uint64),
		labels:      make(map[uint64]string),
		names:       make(map[common.Address]string),
		triggers:    make(chan auction.TriggerEvent, 1),
		completions: make(chan auction.DrawCompletedEvent, 1),
		result:      NewResult(),
	}

	cfg, err := h.auctionConfig(s.Auction)
	if err != nil {
		return nil, err
	}
	if h.pool, err = h.workPool(start, s.Pool); err != nil {
		return nil, err
	}
	h.rng = rng.New(h.clock, rng.WithSeed([]byte(s.Name)))

	if h.store, err = store.Open(":memory:"); err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	h.machine, err = auction.New(ctx, cfg, h.pool, h.rng,
		auction.WithClock(h.clock),
		auction.WithStore(h.store),
		auction.WithLogger(logger),
	)
	if err != nil {
		h.store.Close()
		return nil, fmt.Errorf("create machine: %w", err)
	}

	h.subs = append(h.subs,
		h.machine.SubscribeTriggers(h.triggers),
		h.machine.SubscribeCompletions(h.completions),
	)
	return h, nil
}

func (h *Harness) close() {
	for _, sub := range h.subs {
		sub.Unsubscribe()
	}
	h.store.Close()
}

func (h *Harness) auctionConfig(a AuctionSetup) (auction.Config, error) {
	duration, err := time.ParseDuration(orDefault(a.Duration, defaultDuration))
	if err != nil {
		return auction.Config{}, fmt.Errorf("auction.duration: %w", err)
	}
	target, err := time.ParseDuration(orDefault(a.TargetTime, defaultTargetTime))
	if err != nil {
		return auction.Config{}, fmt.Errorf("auction.target_time: %w", err)
	}
	maxRewards, err := fixed.ParseAmount(orDefault(a.MaxRewards, defaultMaxRewards))
	if err != nil {
		return auction.Config{}, fmt.Errorf("auction.max_rewards: %w", err)
	}

	cfg := auction.Config{
		Duration:                  duration,
		TargetTime:                target,
		MaxRewards:                maxRewards,
		MaxRetries:                a.MaxRetries,
		InitialTriggerFraction:    auction.DefaultTriggerFraction,
		InitialCompletionFraction: auction.DefaultCompletionFraction,
	}
	if a.RemainderRecipient != "" {
		cfg.RemainderRecipient = h.address(a.RemainderRecipient)
	}
	if a.InitialTriggerFraction != "" {
		if cfg.InitialTriggerFraction, err = fixed.ParseFraction(a.InitialTriggerFraction); err != nil {
			return auction.Config{}, fmt.Errorf("auction.initial_trigger_fraction: %w", err)
		}
	}
	if a.InitialCompletionFraction != "" {
		if cfg.InitialCompletionFraction, err = fixed.ParseFraction(a.InitialCompletionFraction); err != nil {
			return auction.Config{}, fmt.Errorf("auction.initial_completion_fraction: %w", err)
		}
	}
	return cfg, nil
}

func (h *Harness) workPool(start time.Time, p PoolSetup) (*workpool.Pool, error) {
	offset, err := time.ParseDuration(orDefault(p.FirstClose, "0s"))
	if err != nil {
		return nil, fmt.Errorf("pool.first_close: %w", err)
	}
	period, err := time.ParseDuration(p.DrawPeriod)
	if err != nil {
		return nil, fmt.Errorf("pool.draw_period: %w", err)
	}
	timeout, err := time.ParseDuration(orDefault(p.DrawTimeout, "0s"))
	if err != nil {
		return nil, fmt.Errorf("pool.draw_timeout: %w", err)
	}
	pool := workpool.New(h.clock, start.Add(offset), period, workpool.WithDrawTimeout(timeout))

	reserve, err := fixed.ParseAmount(orDefault(p.Reserve, "0"))
	if err != nil {
		return nil, fmt.Errorf("pool.reserve: %w", err)
	}
	inflow, err := fixed.ParseAmount(orDefault(p.Inflow, "0"))
	if err != nil {
		return nil, fmt.Errorf("pool.inflow: %w", err)
	}
	pool.Fund(reserve)
	pool.AddInflow(inflow)
	return pool, nil
}

// address resolves a participant label and remembers it for traces.
func (h *Harness) address(label string) common.Address {
	addr := testutil.Address(label)
	h.names[addr] = label
	return addr
}

func (h *Harness) name(addr common.Address) string {
	if label, ok := h.names[addr]; ok {
		return label
	}
	return addr.Hex()
}

func (h *Harness) handle(label string) (uint64, error) {
	handle, ok := h.handles[label]
	if !ok {
		return 0, fmt.Errorf("unknown request %q", label)
	}
	return handle, nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step) error {
	switch op := step.Op(); op {
	case OpAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
	case OpNextTick:
		h.clock.NextTick()
	case OpRequest:
		if _, ok := h.handles[step.Request]; ok {
			return fmt.Errorf("request %q already made", step.Request)
		}
		handle, err := h.rng.Request(ctx)
		if err != nil {
			return err
		}
		h.handles[step.Request] = handle
		h.labels[handle] = step.Request
	case OpFulfill:
		handle, err := h.handle(step.Fulfill)
		if err != nil {
			return err
		}
		return h.rng.Fulfill(handle)
	case OpFail:
		handle, err := h.handle(step.Fail)
		if err != nil {
			return err
		}
		return h.rng.Fail(handle)
	case OpFund:
		amount, err := fixed.ParseAmount(step.Fund)
		if err != nil {
			return err
		}
		h.pool.Fund(amount)
	case OpInflow:
		amount, err := fixed.ParseAmount(step.Inflow)
		if err != nil {
			return err
		}
		h.pool.AddInflow(amount)
	case OpFailTransfers:
		h.pool.FailNextTransfers(step.FailTransfers)
	case OpTrigger:
		return h.trigger(ctx, i, step)
	case OpComplete:
		return h.complete(ctx, i, step)
	case OpSettle:
		return h.settle(ctx, i, step)
	default:
		return fmt.Errorf("no action")
	}
	return nil
}

func (h *Harness) trigger(ctx context.Context, i int, step Step) error {
	handle, err := h.handle(step.Trigger.Request)
	if err != nil {
		return err
	}
	recipient := h.address(step.Trigger.Recipient)

	_, callErr := h.machine.AttemptTrigger(auction.WithSender(ctx, recipient), recipient, handle)
	ev := TraceEvent{Op: OpTrigger, At: h.clock.Now()}
	if callErr == nil {
		select {
		case te := <-h.triggers:
			ev.DrawID = te.DrawID
			ev.Recipient = h.name(te.Recipient)
			ev.Request = h.labels[te.RequestHandle]
			ev.Position = te.Position
			ev.Elapsed = te.Elapsed
		default:
			return fmt.Errorf("trigger succeeded without an event")
		}
	}
	return h.record(i, step, ev, callErr)
}

func (h *Harness) complete(ctx context.Context, i int, step Step) error {
	recipient := h.address(step.Complete.Recipient)

	drawID, callErr := h.machine.CompleteDraw(auction.WithSender(ctx, recipient), recipient)
	ev := TraceEvent{Op: OpComplete, At: h.clock.Now()}
	if drawID != 0 {
		select {
		case ce := <-h.completions:
			ev.DrawID = ce.DrawID
			ev.Rewards = make([]Reward, len(ce.Recipients))
			for j := range ce.Recipients {
				ev.Rewards[j] = Reward{Recipient: h.name(ce.Recipients[j]), Amount: ce.Amounts[j].Dec()}
			}
			ev.Leftover = ce.Leftover.Dec()
		default:
			return fmt.Errorf("draw %d completed without an event", drawID)
		}
	}
	return h.record(i, step, ev, callErr)
}

func (h *Harness) settle(ctx context.Context, i int, step Step) error {
	callErr := h.machine.SettlePending(ctx)
	ev := TraceEvent{Op: OpSettle, At: h.clock.Now(), Pending: len(h.machine.Pending())}
	return h.record(i, step, ev, callErr)
}

// record adds ev to the trace and checks callErr against the step's
// expectation. Failures that are not machine rejections abort the run.
func (h *Harness) record(i int, step Step, ev TraceEvent, callErr error) error {
	if callErr != nil {
		code := auction.CodeOf(callErr)
		if code == "" {
			return callErr
		}
		ev.Error = string(code)
	}
	h.result.addTrace(ev)

	if ev.Error != step.ExpectError {
		expected := step.ExpectError
		if expected == "" {
			expected = "success"
		}
		actual := ev.Error
		if actual == "" {
			actual = "success"
		}
		h.result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %s", i, ev.Op, expected, actual))
	}
	h.logger.Debug("step executed", "step", i, "op", ev.Op, "error", ev.Error)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
