package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rollout/internal/ir"
)

// TraceSnapshot is the golden form of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Runs         []RunSummary `json:"runs"`
	Trace        []TraceEvent `json:"trace"`
	Calls        []string     `json:"calls"`
}

// toCanonicalMap converts the snapshot to the value types accepted by
// ir.MarshalCanonical.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	runs := make([]any, len(s.Runs))
	for i, r := range s.Runs {
		m := map[string]any{"flow_id": r.FlowID, "status": r.Status}
		if r.RunID != "" {
			m["run_id"] = r.RunID
		}
		if r.Error != "" {
			m["error"] = r.Error
		}
		runs[i] = m
	}

	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"run_id":      ev.RunID,
			"flow_id":     ev.FlowID,
			"action_id":   ev.ActionID,
			"action_type": ev.ActionType,
			"target_id":   ev.TargetID,
			"status":      ev.Status,
		}
		if ev.SourceID != "" {
			m["source_id"] = ev.SourceID
		}
		if len(ev.StreamIDs) > 0 {
			m["stream_ids"] = ev.StreamIDs
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		trace[i] = m
	}

	calls := make([]any, len(s.Calls))
	for i, c := range s.Calls {
		calls[i] = c
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"runs":          runs,
		"trace":         trace,
		"calls":         calls,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Runs:         result.Runs,
		Trace:        result.Trace,
		Calls:        result.Calls,
	}
	data, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
