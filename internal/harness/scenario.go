package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/drawkeeper/internal/fixed"
)

// Scenario is a scripted run of the auction.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Start is the fake clock's initial instant (RFC 3339).
	Start string `yaml:"start"`

	Auction AuctionSetup `yaml:"auction"`
	Pool    PoolSetup    `yaml:"pool"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// AuctionSetup holds the auction parameters. Empty fields take the defaults
// of the daemon configuration.
type AuctionSetup struct {
	Duration                  string `yaml:"duration"`
	TargetTime                string `yaml:"target_time"`
	MaxRewards                string `yaml:"max_rewards"`
	MaxRetries                int    `yaml:"max_retries"`
	RemainderRecipient        string `yaml:"remainder_recipient,omitempty"`
	InitialTriggerFraction    string `yaml:"initial_trigger_fraction,omitempty"`
	InitialCompletionFraction string `yaml:"initial_completion_fraction,omitempty"`
}

// PoolSetup configures the in-memory work pool. FirstClose is the offset
// from Start at which draw 1 closes. An empty DrawTimeout never skips a draw.
type PoolSetup struct {
	FirstClose  string `yaml:"first_close"`
	DrawPeriod  string `yaml:"draw_period"`
	DrawTimeout string `yaml:"draw_timeout,omitempty"`
	Reserve     string `yaml:"reserve"`
	Inflow      string `yaml:"inflow,omitempty"`
}

// Step is one scripted action. Exactly one action field must be set.
type Step struct {
	Advance       string        `yaml:"advance,omitempty"`
	NextTick      bool          `yaml:"next_tick,omitempty"`
	Request       string        `yaml:"request,omitempty"`
	Fulfill       string        `yaml:"fulfill,omitempty"`
	Fail          string        `yaml:"fail,omitempty"`
	Trigger       *TriggerStep  `yaml:"trigger,omitempty"`
	Complete      *CompleteStep `yaml:"complete,omitempty"`
	Settle        bool          `yaml:"settle,omitempty"`
	Fund          string        `yaml:"fund,omitempty"`
	Inflow        string        `yaml:"inflow,omitempty"`
	FailTransfers int           `yaml:"fail_transfers,omitempty"`

	// ExpectError is the error code the action must fail with. Only
	// trigger, complete and settle steps can fail.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// TriggerStep triggers the due draw with a previously requested handle.
type TriggerStep struct {
	Recipient string `yaml:"recipient"`
	Request   string `yaml:"request"`
}

// CompleteStep completes the due draw.
type CompleteStep struct {
	Recipient string `yaml:"recipient"`
}

// Step action names, as they appear in traces and errors.
const (
	OpAdvance       = "advance"
	OpNextTick      = "next_tick"
	OpRequest       = "request"
	OpFulfill       = "fulfill"
	OpFail          = "fail"
	OpTrigger       = "trigger"
	OpComplete      = "complete"
	OpSettle        = "settle"
	OpFund          = "fund"
	OpInflow        = "inflow"
	OpFailTransfers = "fail_transfers"
)

// Op returns the name of the step's action, or "" when none or several are
// set.
func (s Step) Op() string {
	var ops []string
	if s.Advance != "" {
		ops = append(ops, OpAdvance)
	}
	if s.NextTick {
		ops = append(ops, OpNextTick)
	}
	if s.Request != "" {
		ops = append(ops, OpRequest)
	}
	if s.Fulfill != "" {
		ops = append(ops, OpFulfill)
	}
	if s.Fail != "" {
		ops = append(ops, OpFail)
	}
	if s.Trigger != nil {
		ops = append(ops, OpTrigger)
	}
	if s.Complete != nil {
		ops = append(ops, OpComplete)
	}
	if s.Settle {
		ops = append(ops, OpSettle)
	}
	if s.Fund != "" {
		ops = append(ops, OpFund)
	}
	if s.Inflow != "" {
		ops = append(ops, OpInflow)
	}
	if s.FailTransfers > 0 {
		ops = append(ops, OpFailTransfers)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// Assertion checks the state left by a scenario.
type Assertion struct {
	// Type selects the check:
	//   - "balance": reward balance of Of equals Equals
	//   - "contribution": prize contribution made on behalf of Of equals Equals
	//   - "reserve": pool reserve equals Equals
	//   - "attempts": recorded attempts for the current draw equal Count
	//   - "pending": unpaid transfers equal Count
	//   - "awards": finalized draws equal Count
	//   - "skipped": draws that timed out unawarded equal Count
	//   - "settlements": settlements in the store equal Count
	//   - "anchors": reward anchors equal Trigger and Completion
	//   - "state": machine state equals Equals
	//   - "trace_count": trace events for Op (with Error, if set) equal Count
	Type string `yaml:"type"`

	Of         string `yaml:"of,omitempty"`
	Equals     string `yaml:"equals,omitempty"`
	Count      int    `yaml:"count,omitempty"`
	Trigger    string `yaml:"trigger,omitempty"`
	Completion string `yaml:"completion,omitempty"`
	Op         string `yaml:"op,omitempty"`
	Error      string `yaml:"error,omitempty"`
}

// Assertion type constants.
const (
	AssertBalance      = "balance"
	AssertContribution = "contribution"
	AssertReserve      = "reserve"
	AssertAttempts     = "attempts"
	AssertPending      = "pending"
	AssertAwards       = "awards"
	AssertSkipped      = "skipped"
	AssertSettlements  = "settlements"
	AssertAnchors      = "anchors"
	AssertState        = "state"
	AssertTraceCount   = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if s.Pool.DrawPeriod == "" {
		return fmt.Errorf("pool.draw_period is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		op := step.Op()
		if op == "" {
			return fmt.Errorf("steps[%d]: exactly one action is required", i)
		}
		if step.ExpectError != "" && op != OpTrigger && op != OpComplete && op != OpSettle {
			return fmt.Errorf("steps[%d]: expect_error is not allowed on %s", i, op)
		}
		if step.Trigger != nil && (step.Trigger.Recipient == "" || step.Trigger.Request == "") {
			return fmt.Errorf("steps[%d]: trigger needs recipient and request", i)
		}
		if step.Complete != nil && step.Complete.Recipient == "" {
			return fmt.Errorf("steps[%d]: complete needs recipient", i)
		}
		if step.Advance != "" {
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("steps[%d]: advance: %w", i, err)
			}
		}
		for _, amount := range []string{step.Fund, step.Inflow} {
			if amount == "" {
				continue
			}
			if _, err := fixed.ParseAmount(amount); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertBalance, AssertContribution:
		if a.Of == "" || a.Equals == "" {
			return fmt.Errorf("assertions[%d]: of and equals are required for %s", index, a.Type)
		}
	case AssertReserve, AssertState:
		if a.Equals == "" {
			return fmt.Errorf("assertions[%d]: equals is required for %s", index, a.Type)
		}
	case AssertAttempts, AssertPending, AssertAwards, AssertSkipped, AssertSettlements:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertAnchors:
		if a.Trigger == "" || a.Completion == "" {
			return fmt.Errorf("assertions[%d]: trigger and completion are required for anchors", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
