package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rollout/internal/cli"
)

// AssertionError is returned when an assertion fails. It carries the
// trace for debugging context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		target := ev.TargetID
		if ev.SourceID != "" {
			target = ev.SourceID + " -> " + ev.TargetID
		}
		fmt.Fprintf(&buf, "  [%d] %s %s %s (%s)\n", i+1, ev.RunID, ev.ActionType, target, ev.Status)
	}
	return buf.String()
}

// AssertionContext gives assertions access to the scenario's runtime.
type AssertionContext struct {
	Ctx     context.Context
	Runtime *cli.Runtime
}

// EvaluateAssertions runs every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertCallMade:
			err = assertCallMade(result, a)
		case AssertVersion:
			err = assertVersion(actx, result.Trace, a)
		case AssertReleaseStatus:
			err = assertReleaseStatus(actx, result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// matchesAction reports whether ev ran action (by type or id), on target
// when target is set.
func matchesAction(ev TraceEvent, action, target string) bool {
	if ev.ActionType != action && ev.ActionID != action {
		return false
	}
	return target == "" || ev.TargetID == target
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchesAction(ev, a.Action, a.Target) {
			return nil
		}
	}
	expected := "action " + a.Action
	if a.Target != "" {
		expected += " on target " + a.Target
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks the first occurrences of the listed actions.
// Other actions may run in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		for _, action := range a.Actions {
			if positions[action] == 0 && matchesAction(ev, action, "") {
				positions[action] = i + 1
			}
		}
	}

	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchesAction(ev, a.Action, a.Target) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("action %s %d times", a.Action, a.Count),
			Actual:   fmt.Sprintf("%d times", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertCallMade(result *Result, a Assertion) error {
	if slices.Contains(result.Calls, a.Call) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallMade,
		Expected: a.Call,
		Actual:   fmt.Sprintf("calls %q", result.Calls),
		Trace:    result.Trace,
	}
}

func assertVersion(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	rt := actx.Runtime
	t, err := rt.Project.Target(a.Target)
	if err != nil {
		return err
	}

	subject := a.Target
	var got string
	if a.Stream != "" {
		s, err := t.Stream(a.Stream)
		if err != nil {
			return err
		}
		subject += "/" + a.Stream
		got, _, err = rt.Versions.GetCurrentStream(actx.Ctx, s, "")
		if err != nil {
			return err
		}
	} else {
		got, _, err = rt.Versions.GetCurrent(actx.Ctx, t, "")
		if err != nil {
			return err
		}
	}

	if got != a.Expect {
		return &AssertionError{
			Type:     AssertVersion,
			Expected: fmt.Sprintf("%s at %q", subject, a.Expect),
			Actual:   fmt.Sprintf("%q", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertReleaseStatus(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	rt := actx.Runtime
	t, err := rt.Project.Target(a.Target)
	if err != nil {
		return err
	}
	doc, err := rt.Release.Load(actx.Ctx, t.Ref())
	if err != nil {
		return err
	}
	if doc.Status != a.Expect {
		return &AssertionError{
			Type:     AssertReleaseStatus,
			Expected: fmt.Sprintf("%s release %q", a.Target, a.Expect),
			Actual:   fmt.Sprintf("%q", doc.Status),
			Trace:    trace,
		}
	}
	return nil
}
