package auction

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/drawkeeper/internal/curve"
	"github.com/roach88/drawkeeper/internal/fixed"
)

// RewardAnchors are the fractions paid by the most recent completed draw. The
// next draw's curves are centred on them.
type RewardAnchors struct {
	Trigger    fixed.Fraction
	Completion fixed.Fraction
}

// TransferKind says why a transfer is made.
type TransferKind string

const (
	TransferTrigger    TransferKind = "trigger"
	TransferCompletion TransferKind = "completion"
	TransferRemainder  TransferKind = "remainder"
)

// Transfer is one payment owed by a settlement.
type Transfer struct {
	DrawID    uint64
	Position  int
	Kind      TransferKind
	Recipient common.Address
	Amount    *uint256.Int
	Fraction  fixed.Fraction
	Elapsed   time.Duration
	Paid      bool
}

// Settlement is the immutable outcome of reconciling a completed draw.
type Settlement struct {
	DrawID    uint64
	Available *uint256.Int

	// Rewards holds one transfer per attempt in ledger order, then the
	// completion transfer.
	Rewards []Transfer

	// Remainder routes Leftover to the remainder recipient; nil when no
	// recipient is configured or nothing is left.
	Remainder *Transfer

	// Leftover is Available minus every reward.
	Leftover *uint256.Int

	TriggerFraction    fixed.Fraction
	CompletionFraction fixed.Fraction
	CompletedAt        time.Time
}

// Transfers returns every transfer in payment order.
func (s *Settlement) Transfers() []Transfer {
	out := make([]Transfer, 0, len(s.Rewards)+1)
	out = append(out, s.Rewards...)
	if s.Remainder != nil {
		out = append(out, *s.Remainder)
	}
	return out
}

// Anchors returns the anchors the settlement leaves behind.
func (s *Settlement) Anchors() RewardAnchors {
	return RewardAnchors{Trigger: s.TriggerFraction, Completion: s.CompletionFraction}
}

// CompletionAmount returns the amount paid to the completer.
func (s *Settlement) CompletionAmount() *uint256.Int {
	if len(s.Rewards) == 0 {
		return new(uint256.Int)
	}
	return s.Rewards[len(s.Rewards)-1].Amount
}

// Event builds the draw-completed event for s.
func (s *Settlement) Event(sender common.Address) DrawCompletedEvent {
	ev := DrawCompletedEvent{
		Sender:     sender,
		DrawID:     s.DrawID,
		Recipients: make([]common.Address, len(s.Rewards)),
		Amounts:    make([]*uint256.Int, len(s.Rewards)),
		Leftover:   s.Leftover.Clone(),
		At:         s.CompletedAt,
	}
	for i, r := range s.Rewards {
		ev.Recipients[i] = r.Recipient
		ev.Amounts[i] = r.Amount.Clone()
	}
	return ev
}

// ReconcileInput is everything Reconcile needs. It is a value so that
// reconciliation can be previewed without touching machine state.
type ReconcileInput struct {
	DrawID             uint64
	Attempts           []Attempt
	Completer          common.Address
	Now                time.Time
	Available          *uint256.Int
	Duration           time.Duration
	TargetFraction     fixed.Fraction
	Anchors            RewardAnchors
	RemainderRecipient common.Address
	Curve              curve.Engine
}

// Reconcile splits the available pool between every attempt and the
// completer. Each attempt is priced on its own window using the trigger
// anchor, the completion on the time since the last attempt using the
// completion anchor. Amounts deplete the pool in order, so the total paid
// never exceeds Available.
func Reconcile(in ReconcileInput) (Settlement, error) {
	if len(in.Attempts) == 0 {
		return Settlement{}, newError(ErrCodeInvariantViolated, in.DrawID, "reconcile called with no attempts")
	}
	available := new(uint256.Int)
	if in.Available != nil {
		available.Set(in.Available)
	}

	n := len(in.Attempts)
	fractions := make([]fixed.Fraction, n+1)
	elapsed := make([]time.Duration, n+1)
	for i, a := range in.Attempts {
		elapsed[i] = a.Elapsed()
		fractions[i] = in.Curve.Fraction(elapsed[i], in.Duration, in.TargetFraction, in.Anchors.Trigger)
	}
	last := in.Attempts[n-1]
	elapsed[n] = Elapsed(last.ClosedAt, in.Now)
	fractions[n] = in.Curve.Fraction(elapsed[n], in.Duration, in.TargetFraction, in.Anchors.Completion)

	amounts, remaining := in.Curve.Amounts(fractions, available)
	if len(amounts) != n+1 {
		return Settlement{}, newError(ErrCodeInvariantViolated, in.DrawID, "curve returned %d amounts for %d fractions", len(amounts), n+1)
	}

	paid := new(uint256.Int)
	rewards := make([]Transfer, n+1)
	for i := range fractions {
		if _, overflow := paid.AddOverflow(paid, amounts[i]); overflow {
			return Settlement{}, newError(ErrCodeInvariantViolated, in.DrawID, "reward total overflows")
		}
		kind, recipient := TransferTrigger, in.Completer
		if i < n {
			recipient = in.Attempts[i].Recipient
		} else {
			kind = TransferCompletion
		}
		rewards[i] = Transfer{
			DrawID:    in.DrawID,
			Position:  i,
			Kind:      kind,
			Recipient: recipient,
			Amount:    amounts[i],
			Fraction:  fractions[i],
			Elapsed:   elapsed[i],
		}
	}
	if paid.Gt(available) {
		return Settlement{}, newError(ErrCodeInvariantViolated, in.DrawID, "rewards %s exceed available pool %s", paid.Dec(), available.Dec())
	}
	leftover := new(uint256.Int).Sub(available, paid)
	if !leftover.Eq(remaining) {
		return Settlement{}, newError(ErrCodeInvariantViolated, in.DrawID, "curve remainder %s does not match leftover %s", remaining.Dec(), leftover.Dec())
	}

	s := Settlement{
		DrawID:             in.DrawID,
		Available:          available,
		Rewards:            rewards,
		Leftover:           leftover,
		TriggerFraction:    fractions[n-1],
		CompletionFraction: fractions[n],
		CompletedAt:        in.Now,
	}
	if in.RemainderRecipient != (common.Address{}) && !leftover.IsZero() {
		s.Remainder = &Transfer{
			DrawID:    in.DrawID,
			Position:  n + 1,
			Kind:      TransferRemainder,
			Recipient: in.RemainderRecipient,
			Amount:    leftover.Clone(),
		}
	}
	return s, nil
}
