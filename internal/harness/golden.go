package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/drawkeeper/internal/canon"
)

// TraceSnapshot is the golden form of a run: the scenario name and every
// traced machine call.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

func (s *TraceSnapshot) canonical() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		trace[i] = ev.canonical()
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
}

// Marshal encodes the snapshot as canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return canon.Marshal(s.canonical())
}

// ID is the content hash of the snapshot. Two runs with the same ID made
// exactly the same calls with the same outcomes.
func (s *TraceSnapshot) ID() (string, error) {
	return canon.ID(canon.DomainTrace, s.canonical())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. A failed expectation or
// assertion, or a trace that does not match the golden file, fails t.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	traceJSON, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
