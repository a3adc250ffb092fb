package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Ship(t *testing.T) {
	result, err := RunWithGolden(t, loadTestScenario(t, "ship.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestTraceSnapshot_CanonicalMapOmitsEmpty(t *testing.T) {
	s := TraceSnapshot{
		ScenarioName: "x",
		Runs:         []RunSummary{{FlowID: "nope", Status: ExpectRejected}},
		Trace:        []TraceEvent{{RunID: "run-1", FlowID: "f", ActionID: "a", ActionType: "a", TargetID: "t", Status: "succeeded"}},
		Calls:        []string{},
	}
	m := s.toCanonicalMap()

	run := m["runs"].([]any)[0].(map[string]any)
	assert.NotContains(t, run, "run_id")
	assert.NotContains(t, run, "error")

	ev := m["trace"].([]any)[0].(map[string]any)
	assert.NotContains(t, ev, "source_id")
	assert.NotContains(t, ev, "stream_ids")
	assert.Equal(t, []any{}, m["calls"])
}
