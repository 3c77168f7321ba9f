package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/roach88/drawkeeper/internal/fixed"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			status := "ok"
			if ev.Error != "" {
				status = ev.Error
			}
			fmt.Fprintf(&buf, "  [%d] %s draw=%d %s\n", ev.Seq, ev.Op, ev.DrawID, status)
		}
	}
	return buf.String()
}

func (h *Harness) assert(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertBalance:
		return h.assertAmount(a, h.pool.Balance(h.address(a.Of)))
	case AssertContribution:
		return h.assertAmount(a, h.pool.Contribution(h.address(a.Of)))
	case AssertReserve:
		reserve, err := h.pool.ReserveBalance(ctx)
		if err != nil {
			return err
		}
		return h.assertAmount(a, reserve)
	case AssertAttempts:
		return h.assertCount(a, h.machine.AttemptCount())
	case AssertPending:
		return h.assertCount(a, len(h.machine.Pending()))
	case AssertAwards:
		return h.assertCount(a, len(h.pool.Awards()))
	case AssertSkipped:
		return h.assertCount(a, len(h.pool.Skipped()))
	case AssertSettlements:
		// A negative limit reads every row.
		records, err := h.store.Settlements(ctx, -1)
		if err != nil {
			return err
		}
		return h.assertCount(a, len(records))
	case AssertAnchors:
		return h.assertAnchors(a)
	case AssertState:
		state, err := h.machine.Status(ctx)
		if err != nil {
			return err
		}
		if string(state) != a.Equals {
			return h.fail(a, a.Equals, string(state))
		}
		return nil
	case AssertTraceCount:
		count := 0
		for _, ev := range h.result.Trace {
			if ev.Op == a.Op && (a.Error == "" || ev.Error == a.Error) {
				count++
			}
		}
		return h.assertCount(a, count)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertAmount(a Assertion, actual *uint256.Int) error {
	expected, err := fixed.ParseAmount(a.Equals)
	if err != nil {
		return err
	}
	if !actual.Eq(expected) {
		subject := a.Type
		if a.Of != "" {
			subject += " of " + a.Of
		}
		return h.fail(a, subject+" = "+expected.Dec(), actual.Dec())
	}
	return nil
}

func (h *Harness) assertCount(a Assertion, actual int) error {
	if actual != a.Count {
		return h.fail(a, fmt.Sprintf("%d", a.Count), fmt.Sprintf("%d", actual))
	}
	return nil
}

func (h *Harness) assertAnchors(a Assertion) error {
	trigger, err := fixed.ParseFraction(a.Trigger)
	if err != nil {
		return err
	}
	completion, err := fixed.ParseFraction(a.Completion)
	if err != nil {
		return err
	}
	got := h.machine.Anchors()
	if got.Trigger != trigger || got.Completion != completion {
		return h.fail(a,
			fmt.Sprintf("trigger=%s completion=%s", trigger, completion),
			fmt.Sprintf("trigger=%s completion=%s", got.Trigger, got.Completion),
		)
	}
	return nil
}

func (h *Harness) fail(a Assertion, expected, actual string) error {
	return &AssertionError{
		Type:     a.Type,
		Expected: expected,
		Actual:   actual,
		Trace:    h.result.Trace,
	}
}
