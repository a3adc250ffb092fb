package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rollout/internal/store"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Project is the project directory, relative to the scenario file.
	Project string `yaml:"project"`

	// Actor is recorded on every run. Defaults to DefaultActor.
	Actor string `yaml:"actor,omitempty"`

	// Setup seeds stream states before the first run.
	Setup []StreamSeed `yaml:"setup,omitempty"`

	// Runs are executed in order.
	Runs []RunStep `yaml:"runs"`

	// Assertions are evaluated after the last run.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultActor is the actor of scenarios that do not set one.
const DefaultActor = "harness"

// StreamSeed is the initial state of one stream.
type StreamSeed struct {
	Target  string       `yaml:"target"`
	Stream  string       `yaml:"stream"`
	Version string       `yaml:"version,omitempty"`
	Changes []ChangeSeed `yaml:"changes,omitempty"`
}

// ChangeSeed is one change in a seeded stream history, newest first.
type ChangeSeed struct {
	ID          string `yaml:"id"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Author      string `yaml:"author,omitempty"`
}

// RunStep runs one flow.
type RunStep struct {
	Flow string `yaml:"flow"`

	// Targets narrows the run, in the "t1,t2:s1+s2" form.
	Targets string `yaml:"targets,omitempty"`

	// Expect is the expected run status: succeeded (default), failed, or
	// rejected when the engine refuses the run before any action.
	Expect string `yaml:"expect,omitempty"`
}

// ExpectRejected is the outcome of a run the engine refused to start.
const ExpectRejected = "rejected"

// Assertion validates the state left by a scenario.
type Assertion struct {
	Type string `yaml:"type"`

	// Action is an action type or id (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Target narrows trace assertions and selects the target of version
	// and release_status.
	Target string `yaml:"target,omitempty"`

	// Stream selects a stream version instead of the target's.
	Stream string `yaml:"stream,omitempty"`

	// Actions is the expected order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Call is the expected integration call (call_made).
	Call string `yaml:"call,omitempty"`

	// Expect is the expected value (version, release_status). An empty
	// version means the entity has none.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertCallMade      = "call_made"
	AssertVersion       = "version"
	AssertReleaseStatus = "release_status"
)

// LoadScenario reads and parses a scenario YAML file. The project path
// is resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Project != "" && !filepath.IsAbs(scenario.Project) {
		scenario.Project = filepath.Join(filepath.Dir(path), scenario.Project)
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
	if s.Project == "" {
		return fmt.Errorf("project is required")
	}
	if info, err := os.Stat(s.Project); err != nil || !info.IsDir() {
		return fmt.Errorf("project directory not found: %s", s.Project)
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, seed := range s.Setup {
		if seed.Target == "" || seed.Stream == "" {
			return fmt.Errorf("setup[%d]: target and stream are required", i)
		}
		for j, c := range seed.Changes {
			if c.ID == "" {
				return fmt.Errorf("setup[%d].changes[%d]: id is required", i, j)
			}
		}
	}

	for i, run := range s.Runs {
		if run.Flow == "" {
			return fmt.Errorf("runs[%d]: flow is required", i)
		}
		switch run.Expect {
		case "", store.RunStatusSucceeded, store.RunStatusFailed, ExpectRejected:
		default:
			return fmt.Errorf("runs[%d]: unknown expect %q", i, run.Expect)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertCallMade:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for call_made", index)
		}
	case AssertVersion:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for version", index)
		}
	case AssertReleaseStatus:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for release_status", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
