package harness

// TraceEvent is one executed action call.
type TraceEvent struct {
	RunID      string   `json:"run_id"`
	FlowID     string   `json:"flow_id"`
	ActionID   string   `json:"action_id"`
	ActionType string   `json:"action_type"`
	TargetID   string   `json:"target_id"`
	SourceID   string   `json:"source_id,omitempty"`
	StreamIDs  []string `json:"stream_ids,omitempty"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
}

// RunSummary is the outcome of one run step.
type RunSummary struct {
	RunID  string `json:"run_id,omitempty"`
	FlowID string `json:"flow_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every run matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds every action call of every run, in order.
	Trace []TraceEvent `json:"trace"`

	Runs []RunSummary `json:"runs"`

	// Calls are the non-read integration calls, in order.
	Calls []string `json:"calls"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Runs:   []RunSummary{},
		Calls:  []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
