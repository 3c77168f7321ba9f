package harness

import (
	"time"
)

// TraceEvent records one machine call made by a scenario.
type TraceEvent struct {
	Seq int
	Op  string
	At  time.Time

	// Error is the rejection code, empty on success.
	Error string

	DrawID    uint64
	Recipient string
	Request   string
	Position  int
	Elapsed   time.Duration
	Rewards   []Reward
	Leftover  string

	// Pending is the number of unpaid transfers after a settle step.
	Pending int
}

// Reward is one entry of a draw-completed event.
type Reward struct {
	Recipient string
	Amount    string
}

// canonical converts the event into the map form canon.Marshal accepts.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq": e.Seq,
		"op":  e.Op,
		"at":  e.At.UTC().Format(time.RFC3339),
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	switch e.Op {
	case OpTrigger:
		if e.Error == "" {
			m["draw_id"] = e.DrawID
			m["recipient"] = e.Recipient
			m["request"] = e.Request
			m["position"] = e.Position
			m["elapsed"] = e.Elapsed.String()
		}
	case OpComplete:
		if e.DrawID != 0 {
			rewards := make([]any, len(e.Rewards))
			for i, r := range e.Rewards {
				rewards[i] = map[string]any{"recipient": r.Recipient, "amount": r.Amount}
			}
			m["draw_id"] = e.DrawID
			m["rewards"] = rewards
			m["leftover"] = e.Leftover
		}
	case OpSettle:
		m["pending"] = e.Pending
	}
	return m
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expectation and assertion held.
	Pass bool

	// Trace contains every machine call in order.
	Trace []TraceEvent

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace appends ev, numbering it.
func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
