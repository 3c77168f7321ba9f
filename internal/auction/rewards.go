package auction

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/drawkeeper/internal/fixed"
)

// TriggerReward returns what a trigger made now would earn if the draw were
// completed afterwards, or zero when no trigger is possible.
func (m *Machine) TriggerReward(ctx context.Context) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	plan, err := m.evaluateTrigger(ctx, now, nil)
	if ok, err := predicate(err); !ok {
		return new(uint256.Int), err
	}
	available, err := m.availableRewards(ctx)
	if err != nil {
		return nil, err
	}

	var prior []Attempt
	if !plan.newCycle {
		prior = m.ledger.Attempts()
	}
	fractions := make([]fixed.Fraction, 0, len(prior)+1)
	for _, a := range prior {
		fractions = append(fractions, m.curve.Fraction(a.Elapsed(), m.cfg.Duration, m.cfg.TargetFraction, m.anchors.Trigger))
	}
	fractions = append(fractions, m.curve.Fraction(Elapsed(plan.anchor, now), m.cfg.Duration, m.cfg.TargetFraction, m.anchors.Trigger))

	amounts, _ := m.curve.Amounts(fractions, available)
	return amounts[len(amounts)-1], nil
}

// CompletionReward returns what completing the draw now would earn, or zero
// when completion is not possible.
func (m *Machine) CompletionReward(ctx context.Context) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	drawID, last, err := m.evaluateCompletion(ctx, now)
	if ok, err := predicate(err); !ok {
		return new(uint256.Int), err
	}
	available, err := m.availableRewards(ctx)
	if err != nil {
		return nil, err
	}
	// The completer's address does not affect pricing.
	s, err := Reconcile(m.reconcileInput(drawID, last.Recipient, now, available))
	if err != nil {
		return nil, err
	}
	return s.CompletionAmount().Clone(), nil
}

// Preview reconciles the due draw as if completed now by completer, without
// finalizing anything.
func (m *Machine) Preview(ctx context.Context, completer common.Address) (Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	drawID, _, err := m.evaluateCompletion(ctx, now)
	if err != nil {
		return Settlement{}, err
	}
	available, err := m.availableRewards(ctx)
	if err != nil {
		return Settlement{}, err
	}
	return Reconcile(m.reconcileInput(drawID, completer, now, available))
}
