package ir

import "strings"

// Ref addresses an entity inside a project. Empty fields are unset.
type Ref struct {
	ProjectID string `json:"project_id"`
	TargetID  string `json:"target_id,omitempty"`
	StreamID  string `json:"stream_id,omitempty"`
	FlowID    string `json:"flow_id,omitempty"`
	ActionID  string `json:"action_id,omitempty"`
}

// WithTarget returns a copy of r scoped to a target.
func (r Ref) WithTarget(targetID string) Ref {
	r.TargetID = targetID
	return r
}

// WithStream returns a copy of r scoped to a stream.
func (r Ref) WithStream(streamID string) Ref {
	r.StreamID = streamID
	return r
}

// WithAction returns a copy of r scoped to a flow action.
func (r Ref) WithAction(flowID, actionID string) Ref {
	r.FlowID = flowID
	r.ActionID = actionID
	return r
}

// Key renders the ref as a colon separated key, skipping unset parts.
//
// Example: Ref{ProjectID: "shop", TargetID: "dev", StreamID: "api"}.Key() == "shop:dev:api"
func (r Ref) Key() string {
	parts := []string{r.ProjectID}
	for _, p := range []string{r.TargetID, r.StreamID, r.FlowID, r.ActionID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ":")
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	return r.Key()
}
