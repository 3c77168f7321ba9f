// Package auction runs the draw auction: third parties trigger a draw by
// requesting randomness, then complete it by finalizing the draw with the
// random value, and every participant is paid from the work pool reserve
// according to how quickly they acted.
//
// A Machine is the single writer of auction state. Every operation takes the
// machine lock for its whole duration, including collaborator calls, so each
// call either applies completely or not at all.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"

	"github.com/roach88/drawkeeper/internal/curve"
)

// Machine is the draw auction state machine.
type Machine struct {
	mu sync.Mutex

	cfg      Config
	pool     WorkPool
	rng      Randomness
	curve    curve.Engine
	clock    Clock
	store    Store
	observer Observer
	logger   *slog.Logger

	ledger  Ledger
	anchors RewardAnchors
	pending []Transfer

	triggerFeed    event.Feed
	completionFeed event.Feed
}

// Option configures a Machine.
type Option func(*Machine)

// WithCurve replaces the default parabolic reward curve.
func WithCurve(c curve.Engine) Option {
	return func(m *Machine) {
		m.curve = c
	}
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(m *Machine) {
		m.clock = c
	}
}

// WithStore persists state to s and restores from it on construction.
func WithStore(s Store) Option {
	return func(m *Machine) {
		m.store = s
	}
}

// WithObserver reports operation outcomes to o.
func WithObserver(o Observer) Option {
	return func(m *Machine) {
		m.observer = o
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

// New validates cfg against the work pool, restores persisted state when a
// store is configured, and returns a ready Machine.
func New(ctx context.Context, cfg Config, pool WorkPool, rng Randomness, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	budget, err := pool.WindowBudget(ctx)
	if err != nil {
		return nil, fmt.Errorf("read window budget: %w", err)
	}
	if err := cfg.checkBudget(budget); err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:      cfg,
		pool:     pool,
		rng:      rng,
		curve:    curve.Parabolic{},
		clock:    SystemClock{},
		observer: nopObserver{},
		logger:   slog.Default(),
		anchors: RewardAnchors{
			Trigger:    cfg.InitialTriggerFraction,
			Completion: cfg.InitialCompletionFraction,
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store != nil {
		if err := m.restore(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Machine) restore(ctx context.Context) error {
	snap, err := m.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	for _, a := range snap.Attempts {
		if err := m.ledger.Record(a); err != nil {
			return fmt.Errorf("restore ledger: %w", err)
		}
	}
	if snap.HasAnchors {
		m.anchors = snap.Anchors
	}
	m.pending = snap.Pending

	m.logger.Info("auction state restored",
		"attempts", m.ledger.Count(),
		"trigger_fraction", m.anchors.Trigger.String(),
		"completion_fraction", m.anchors.Completion.String(),
		"pending_transfers", len(m.pending),
	)
	return nil
}

// Config returns the validated configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// AttemptTrigger records a trigger of the due draw backed by the randomness
// request handle, and returns the draw id. The request must have been made in
// the current tick. A draw that already has a live attempt can only be
// re-triggered once that attempt's request failed or its window passed, at
// most MaxRetries times, and only with a newer request.
func (m *Machine) AttemptTrigger(ctx context.Context, recipient common.Address, handle uint64) (uint64, error) {
	m.mu.Lock()
	ev, err := m.attemptTrigger(ctx, recipient, handle)
	m.mu.Unlock()

	m.observer.TriggerObserved(CodeOf(err))
	if err != nil {
		m.logger.Debug("trigger rejected", "recipient", recipient.Hex(), "handle", handle, "error", err)
		return 0, err
	}
	m.triggerFeed.Send(ev)
	return ev.DrawID, nil
}

func (m *Machine) attemptTrigger(ctx context.Context, recipient common.Address, handle uint64) (TriggerEvent, error) {
	if recipient == (common.Address{}) {
		return TriggerEvent{}, newError(ErrCodeEmptyRecipient, 0, "trigger recipient is the zero address")
	}
	now := m.clock.Now()
	plan, err := m.evaluateTrigger(ctx, now, &handle)
	if err != nil {
		return TriggerEvent{}, err
	}

	attempt := Attempt{
		Recipient:     recipient,
		OpenedAt:      plan.anchor,
		ClosedAt:      now,
		DrawID:        plan.drawID,
		RequestHandle: handle,
	}
	position := m.ledger.Count()
	if plan.newCycle {
		position = 0
	}
	ev := TriggerEvent{
		Sender:        SenderFrom(ctx),
		Recipient:     recipient,
		DrawID:        plan.drawID,
		RequestHandle: handle,
		Elapsed:       attempt.Elapsed(),
		Position:      position,
		At:            now,
	}

	if m.store != nil {
		if err := m.store.RecordAttempt(ctx, attempt, plan.newCycle, ev); err != nil {
			return TriggerEvent{}, fmt.Errorf("persist attempt for draw %d: %w", plan.drawID, err)
		}
	}
	if plan.newCycle {
		m.ledger.Clear()
	}
	if err := m.ledger.Record(attempt); err != nil {
		return TriggerEvent{}, err
	}

	m.logger.Info("draw triggered",
		"draw_id", plan.drawID,
		"recipient", recipient.Hex(),
		"handle", handle,
		"position", position,
		"elapsed", ev.Elapsed,
	)
	return ev, nil
}

// triggerPlan is where a trigger evaluated at some instant would land.
type triggerPlan struct {
	drawID   uint64
	anchor   time.Time
	newCycle bool
}

// evaluateTrigger applies every trigger rule except the recipient check.
// The freshness and staleness rules are skipped when handle is nil.
func (m *Machine) evaluateTrigger(ctx context.Context, now time.Time, handle *uint64) (triggerPlan, error) {
	drawID, err := m.pool.DueDrawID(ctx)
	if err != nil {
		return triggerPlan{}, fmt.Errorf("read due draw: %w", err)
	}
	closesAt, err := m.pool.DrawClosesAt(ctx, drawID)
	if err != nil {
		return triggerPlan{}, fmt.Errorf("read close time of draw %d: %w", drawID, err)
	}
	if now.Before(closesAt) {
		return triggerPlan{}, newError(ErrCodeNotYetDue, drawID, "draw closes at %s", closesAt.UTC().Format(time.RFC3339))
	}

	if handle != nil {
		tick, err := m.rng.RequestedAtTick(ctx, *handle)
		if err != nil {
			return triggerPlan{}, fmt.Errorf("read request tick of %d: %w", *handle, err)
		}
		if current := m.clock.Tick(); tick != current {
			return triggerPlan{}, newError(ErrCodeRequestNotFresh, drawID, "request %d made at tick %d, current tick is %d", *handle, tick, current)
		}
	}

	plan := triggerPlan{drawID: drawID, anchor: closesAt, newCycle: true}
	if ledgerDraw, ok := m.ledger.DrawID(); ok && ledgerDraw == drawID {
		plan.newCycle = false
		last := m.ledger.Last()
		eligible, anchor, err := m.retryAnchor(ctx, last, now)
		if err != nil {
			return triggerPlan{}, err
		}
		if !eligible {
			return triggerPlan{}, newError(ErrCodeAlreadyTriggered, drawID, "request %d is still live", last.RequestHandle)
		}
		if m.ledger.Count() > m.cfg.MaxRetries {
			return triggerPlan{}, newError(ErrCodeRetryLimitReached, drawID, "%d attempts recorded, at most %d retries allowed", m.ledger.Count(), m.cfg.MaxRetries)
		}
		if handle != nil && *handle <= last.RequestHandle {
			return triggerPlan{}, newError(ErrCodeStaleRequest, drawID, "request %d is not newer than %d", *handle, last.RequestHandle)
		}
		plan.anchor = anchor
	}

	if elapsed := Elapsed(plan.anchor, now); elapsed > m.cfg.Duration {
		return triggerPlan{}, newError(ErrCodeWindowExpired, drawID, "%s elapsed, window is %s", elapsed, m.cfg.Duration)
	}
	return plan, nil
}

// retryAnchor reports whether the draw may be re-triggered after last and
// where the retry's window opens. A failed request opens the window at the
// failed attempt; an attempt whose completion window passed without the draw
// being completed opens it at the instant that window closed.
func (m *Machine) retryAnchor(ctx context.Context, last Attempt, now time.Time) (bool, time.Time, error) {
	failed, err := m.rng.IsFailed(ctx, last.RequestHandle)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("read failure state of %d: %w", last.RequestHandle, err)
	}
	if failed {
		return true, last.ClosedAt, nil
	}
	if expiry := last.ClosedAt.Add(m.cfg.Duration); now.After(expiry) {
		return true, expiry, nil
	}
	return false, time.Time{}, nil
}

// CanTrigger reports whether AttemptTrigger would succeed now given a fresh,
// newer randomness request.
func (m *Machine) CanTrigger(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.evaluateTrigger(ctx, m.clock.Now(), nil)
	return predicate(err)
}

// CompleteDraw finalizes the due draw with the random value of its latest
// attempt and pays every participant. It returns the finalized draw id.
//
// Once the draw is finalized the call can still fail with PAYOUT_FAILED or
// PERSIST_FAILED; the returned draw id is then non-zero, the unpaid transfers
// stay pending and SettlePending resumes them.
func (m *Machine) CompleteDraw(ctx context.Context, recipient common.Address) (uint64, error) {
	m.mu.Lock()
	s, err := m.completeDraw(ctx, recipient)
	m.mu.Unlock()

	m.observer.CompletionObserved(CodeOf(err), s)
	if s != nil {
		m.completionFeed.Send(s.Event(SenderFrom(ctx)))
	}
	if err != nil {
		if s != nil {
			m.logger.Error("draw completed with unsettled transfers", "draw_id", s.DrawID, "error", err)
			return s.DrawID, err
		}
		m.logger.Debug("completion rejected", "recipient", recipient.Hex(), "error", err)
		return 0, err
	}
	return s.DrawID, nil
}

// completeDraw returns a non-nil settlement exactly when the draw was
// finalized.
func (m *Machine) completeDraw(ctx context.Context, recipient common.Address) (*Settlement, error) {
	if recipient == (common.Address{}) {
		return nil, newError(ErrCodeEmptyRecipient, 0, "completion recipient is the zero address")
	}
	now := m.clock.Now()
	drawID, last, err := m.evaluateCompletion(ctx, now)
	if err != nil {
		return nil, err
	}

	// Transfers left over from an earlier draw are paid before the reserve
	// is measured again.
	if err := m.settlePending(ctx); err != nil {
		return nil, err
	}

	available, err := m.availableRewards(ctx)
	if err != nil {
		return nil, err
	}
	s, err := Reconcile(m.reconcileInput(drawID, recipient, now, available))
	if err != nil {
		return nil, err
	}

	value, err := m.rng.Value(ctx, last.RequestHandle)
	if err != nil {
		return nil, fmt.Errorf("read random value of %d: %w", last.RequestHandle, err)
	}
	finalized, err := m.pool.FinalizeDraw(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("finalize draw %d: %w", drawID, err)
	}
	if finalized != drawID {
		m.logger.Warn("work pool finalized a different draw", "expected", drawID, "finalized", finalized)
	}

	m.anchors = s.Anchors()
	m.pending = append(m.pending, s.Transfers()...)
	m.logger.Info("draw completed",
		"draw_id", drawID,
		"recipient", recipient.Hex(),
		"attempts", len(s.Rewards)-1,
		"available", s.Available.Dec(),
		"leftover", s.Leftover.Dec(),
		"trigger_fraction", s.TriggerFraction.String(),
		"completion_fraction", s.CompletionFraction.String(),
	)

	if m.store != nil {
		if err := m.store.CommitSettlement(ctx, s, m.anchors, s.Event(SenderFrom(ctx))); err != nil {
			return &s, &Error{Code: ErrCodePersistFailed, Kind: KindSettlement, Message: "store settlement", DrawID: drawID, Err: err}
		}
	}
	if err := m.settlePending(ctx); err != nil {
		return &s, err
	}
	return &s, nil
}

// evaluateCompletion applies every completion rule except the recipient
// check and returns the due draw and its latest attempt.
func (m *Machine) evaluateCompletion(ctx context.Context, now time.Time) (uint64, Attempt, error) {
	ledgerDraw, ok := m.ledger.DrawID()
	if !ok {
		return 0, Attempt{}, newError(ErrCodeNotTriggered, 0, "no attempt recorded")
	}
	drawID, err := m.pool.DueDrawID(ctx)
	if err != nil {
		return 0, Attempt{}, fmt.Errorf("read due draw: %w", err)
	}
	if ledgerDraw != drawID {
		return 0, Attempt{}, newError(ErrCodeDrawAlreadyFinalized, ledgerDraw, "draw %d is due", drawID)
	}

	last := m.ledger.Last()
	done, err := m.rng.IsComplete(ctx, last.RequestHandle)
	if err != nil {
		return 0, Attempt{}, fmt.Errorf("read completion state of %d: %w", last.RequestHandle, err)
	}
	if !done {
		return 0, Attempt{}, newError(ErrCodeRandomnessNotReady, drawID, "request %d has no value", last.RequestHandle)
	}
	if elapsed := Elapsed(last.ClosedAt, now); elapsed > m.cfg.Duration {
		return 0, Attempt{}, newError(ErrCodeWindowExpired, drawID, "%s elapsed since trigger, window is %s", elapsed, m.cfg.Duration)
	}
	return drawID, last, nil
}

// CanComplete reports whether CompleteDraw would pass its checks now.
func (m *Machine) CanComplete(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, _, err := m.evaluateCompletion(ctx, m.clock.Now())
	return predicate(err)
}

// SettlePending retries transfers left unpaid by an earlier completion.
func (m *Machine) SettlePending(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settlePending(ctx)
}

func (m *Machine) settlePending(ctx context.Context) error {
	for len(m.pending) > 0 {
		t := m.pending[0]
		if err := m.pay(ctx, t); err != nil {
			m.observer.TransferObserved(t, err)
			m.logger.Error("transfer failed",
				"draw_id", t.DrawID,
				"position", t.Position,
				"kind", string(t.Kind),
				"recipient", t.Recipient.Hex(),
				"amount", t.Amount.Dec(),
				"error", err,
			)
			return &Error{
				Code:    ErrCodePayoutFailed,
				Kind:    KindSettlement,
				Message: fmt.Sprintf("%s transfer %d to %s", t.Kind, t.Position, t.Recipient.Hex()),
				DrawID:  t.DrawID,
				Err:     err,
			}
		}
		t.Paid = true
		m.pending = m.pending[1:]
		m.observer.TransferObserved(t, nil)

		if m.store != nil {
			if err := m.store.MarkTransferPaid(ctx, t.DrawID, t.Position); err != nil {
				return &Error{Code: ErrCodePersistFailed, Kind: KindSettlement, Message: "mark transfer paid", DrawID: t.DrawID, Err: err}
			}
		}
	}
	m.pending = nil
	return nil
}

func (m *Machine) pay(ctx context.Context, t Transfer) error {
	if t.Amount == nil || t.Amount.IsZero() {
		return nil
	}
	if t.Kind == TransferRemainder {
		return m.pool.ContributeOnBehalf(ctx, t.Recipient, t.Amount)
	}
	return m.pool.AllocateFromReserve(ctx, t.Recipient, t.Amount)
}

// availableRewards is min(reserve + pending inflow - unpaid transfers,
// MaxRewards).
func (m *Machine) availableRewards(ctx context.Context) (*uint256.Int, error) {
	reserve, err := m.pool.ReserveBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read reserve: %w", err)
	}
	inflow, err := m.pool.PendingReserveInflow(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending inflow: %w", err)
	}
	total, overflow := new(uint256.Int).AddOverflow(reserve, inflow)
	if overflow {
		total.SetAllOne()
	}
	for _, t := range m.pending {
		if t.Amount == nil {
			continue
		}
		if t.Amount.Gt(total) {
			total.Clear()
			break
		}
		total.Sub(total, t.Amount)
	}
	if total.Gt(m.cfg.MaxRewards) {
		return m.cfg.MaxRewards.Clone(), nil
	}
	return total, nil
}

func (m *Machine) reconcileInput(drawID uint64, completer common.Address, now time.Time, available *uint256.Int) ReconcileInput {
	return ReconcileInput{
		DrawID:             drawID,
		Attempts:           m.ledger.Attempts(),
		Completer:          completer,
		Now:                now,
		Available:          available,
		Duration:           m.cfg.Duration,
		TargetFraction:     m.cfg.TargetFraction,
		Anchors:            m.anchors,
		RemainderRecipient: m.cfg.RemainderRecipient,
		Curve:              m.curve,
	}
}

// predicate turns a rule evaluation into a yes/no answer. Rule rejections
// answer no; collaborator failures are returned.
func predicate(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return false, nil
	}
	return false, err
}
