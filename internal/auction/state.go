package auction

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/event"
)

// State is the lifecycle position of the draw currently due.
type State string

const (
	// StateIdle: no attempt recorded for the due draw.
	StateIdle State = "idle"
	// StateTriggered: the latest attempt is live.
	StateTriggered State = "triggered"
	// StateRetryEligible: the latest attempt is dead and a retry is allowed.
	StateRetryEligible State = "retry_eligible"
	// StateExpired: the latest attempt is dead and no retry is allowed.
	StateExpired State = "expired"
	// StateCompleted: the previous draw was completed and the next one has
	// not closed yet.
	StateCompleted State = "completed"
)

// Status reports the state of the due draw.
func (m *Machine) Status(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	drawID, err := m.pool.DueDrawID(ctx)
	if err != nil {
		return "", fmt.Errorf("read due draw: %w", err)
	}
	ledgerDraw, ok := m.ledger.DrawID()
	if !ok || ledgerDraw != drawID {
		closesAt, err := m.pool.DrawClosesAt(ctx, drawID)
		if err != nil {
			return "", fmt.Errorf("read close time of draw %d: %w", drawID, err)
		}
		if ok && now.Before(closesAt) {
			return StateCompleted, nil
		}
		return StateIdle, nil
	}

	eligible, _, err := m.retryAnchor(ctx, m.ledger.Last(), now)
	if err != nil {
		return "", err
	}
	if !eligible {
		return StateTriggered, nil
	}
	_, err = m.evaluateTrigger(ctx, now, nil)
	can, err := predicate(err)
	if err != nil {
		return "", err
	}
	if can {
		return StateRetryEligible, nil
	}
	return StateExpired, nil
}

// AttemptCount returns the number of attempts recorded for the current draw.
func (m *Machine) AttemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Count()
}

// AttemptAt returns the attempt at index i.
func (m *Machine) AttemptAt(i int) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.At(i)
}

// LastAttempt returns the latest attempt, or the zero Attempt.
func (m *Machine) LastAttempt() Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Last()
}

// Anchors returns the current reward anchors.
func (m *Machine) Anchors() RewardAnchors {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anchors
}

// Pending returns the transfers still owed.
func (m *Machine) Pending() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.pending))
	copy(out, m.pending)
	return out
}

// SubscribeTriggers delivers every TriggerEvent to ch. Delivery blocks the
// triggering call until ch accepts, so ch should be buffered and drained.
func (m *Machine) SubscribeTriggers(ch chan<- TriggerEvent) event.Subscription {
	return m.triggerFeed.Subscribe(ch)
}

// SubscribeCompletions delivers every DrawCompletedEvent to ch, with the
// same blocking semantics as SubscribeTriggers.
func (m *Machine) SubscribeCompletions(ch chan<- DrawCompletedEvent) event.Subscription {
	return m.completionFeed.Subscribe(ch)
}
