package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTrace = []TraceEvent{
	{RunID: "run-1", FlowID: "ship", ActionID: "move", ActionType: "stream.move", TargetID: "live", SourceID: "dev", Status: "succeeded"},
	{RunID: "run-1", FlowID: "ship", ActionID: "version.release", ActionType: "version.release", TargetID: "live", Status: "succeeded"},
	{RunID: "run-2", FlowID: "bump", ActionID: "version.patch", ActionType: "version.patch", TargetID: "dev", Status: "succeeded"},
	{RunID: "run-2", FlowID: "bump", ActionID: "version.patch", ActionType: "version.patch", TargetID: "live", Status: "succeeded"},
}

func TestAssertTraceContains(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Action: "stream.move"}))
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Action: "move"}), "matches action id")
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Action: "version.patch", Target: "live"}))

	err := assertTraceContains(sampleTrace, Assertion{Action: "version.release", Target: "dev"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action version.release on target dev")
	assert.Contains(t, err.Error(), "[1] run-1 stream.move dev -> live (succeeded)")
}

func TestAssertTraceOrder(t *testing.T) {
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Actions: []string{"stream.move", "version.patch"}}))

	err := assertTraceOrder(sampleTrace, Assertion{Actions: []string{"version.patch", "stream.move"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(sampleTrace, Assertion{Actions: []string{"stream.detach"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: stream.detach")
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Action: "version.patch", Count: 2}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Action: "version.patch", Target: "dev", Count: 1}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Action: "stream.detach", Count: 0}))

	err := assertTraceCount(sampleTrace, Assertion{Action: "version.patch", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 times")
}

func TestAssertCallMade(t *testing.T) {
	r := NewResult()
	r.Calls = []string{"move a -> b force=false"}

	assert.NoError(t, assertCallMade(r, Assertion{Call: "move a -> b force=false"}))
	assert.Error(t, assertCallMade(r, Assertion{Call: "move a -> b force=true"}))
}

func TestEvaluateAssertions_PrefixesIndex(t *testing.T) {
	r := NewResult()
	r.Trace = sampleTrace

	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceCount, Action: "stream.move", Count: 1},
		{Type: AssertTraceContains, Action: "stream.detach"},
	}, &AssertionContext{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertions[1]:")
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
