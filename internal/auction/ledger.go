package auction

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Attempt is one successful trigger of a draw.
type Attempt struct {
	// Recipient is paid the trigger reward for this attempt.
	Recipient common.Address

	// OpenedAt is when this attempt's auction window opened: the draw close
	// time for a first attempt, the previous attempt's ClosedAt for a retry.
	OpenedAt time.Time

	// ClosedAt is when the attempt was registered.
	ClosedAt time.Time

	// DrawID is the draw this attempt belongs to.
	DrawID uint64

	// RequestHandle identifies the randomness request made for it.
	RequestHandle uint64
}

// Elapsed is the auction time this attempt took to arrive.
func (a Attempt) Elapsed() time.Duration {
	return Elapsed(a.OpenedAt, a.ClosedAt)
}

// Ledger is the ordered list of attempts for the current draw.
// It is not safe for concurrent use; Machine guards it.
type Ledger struct {
	attempts []Attempt
}

// Record appends a. It fails if the ledger already holds attempts for a
// different draw.
func (l *Ledger) Record(a Attempt) error {
	if len(l.attempts) > 0 && l.attempts[0].DrawID != a.DrawID {
		return fmt.Errorf("ledger holds draw %d, cannot record attempt for draw %d", l.attempts[0].DrawID, a.DrawID)
	}
	l.attempts = append(l.attempts, a)
	return nil
}

// Clear drops every attempt.
func (l *Ledger) Clear() {
	l.attempts = nil
}

// Count returns the number of attempts.
func (l *Ledger) Count() int {
	return len(l.attempts)
}

// At returns the attempt at index i.
func (l *Ledger) At(i int) (Attempt, error) {
	if i < 0 || i >= len(l.attempts) {
		return Attempt{}, fmt.Errorf("attempt index %d out of range [0,%d)", i, len(l.attempts))
	}
	return l.attempts[i], nil
}

// Last returns the latest attempt, or the zero Attempt when empty.
func (l *Ledger) Last() Attempt {
	if len(l.attempts) == 0 {
		return Attempt{}
	}
	return l.attempts[len(l.attempts)-1]
}

// DrawID returns the draw the attempts belong to, and false when empty.
func (l *Ledger) DrawID() (uint64, bool) {
	if len(l.attempts) == 0 {
		return 0, false
	}
	return l.attempts[0].DrawID, true
}

// Attempts returns a copy of the recorded attempts.
func (l *Ledger) Attempts() []Attempt {
	out := make([]Attempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}
