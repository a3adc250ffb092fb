package artifact

import (
	"context"
	"fmt"
	"maps"
	"sort"

	"github.com/roach88/rollout/internal/ir"
)

// Built-in producer types.
const (
	TypeStatic         = "static"
	TypeChangesSummary = "changes.summary"
)

// Static records the artifact's declared params as an artifact entry.
// The "description" and "link" params fill the matching entry fields.
type Static struct{}

// Run implements Producer.
func (Static) Run(_ context.Context, job Job, state *ir.StreamState, _ map[string]any, _ ir.Scopes) error {
	a := job.Artifact
	entry := ir.HistoryEntry{
		ID:       a.ID,
		Type:     a.Type,
		Metadata: maps.Clone(a.Params),
	}
	if s, ok := a.Params["description"].(string); ok {
		entry.Description = s
	}
	if s, ok := a.Params["link"].(string); ok {
		entry.Link = s
	}
	state.PushArtifactUniq(entry)
	job.Context.Set(a.ID, entry)
	return nil
}

// Summary is what ChangesSummary publishes in the shared context.
type Summary struct {
	Changes int
	Authors []string
	// Inputs lists dependency artifacts whose output was present.
	Inputs []string
}

// ChangesSummary summarizes the stream's change history.
type ChangesSummary struct{}

// Run implements Producer.
func (ChangesSummary) Run(_ context.Context, job Job, state *ir.StreamState, _ map[string]any, _ ir.Scopes) error {
	a := job.Artifact

	seen := make(map[string]bool)
	var authors []string
	for _, c := range state.History.Change {
		if c.Author != "" && !seen[c.Author] {
			seen[c.Author] = true
			authors = append(authors, c.Author)
		}
	}
	sort.Strings(authors)

	var inputs []string
	for _, dep := range a.DependsOn {
		if _, ok := job.Context.Get(dep); ok {
			inputs = append(inputs, dep)
		}
	}

	sum := Summary{Changes: len(state.History.Change), Authors: authors, Inputs: inputs}
	authorList := make([]any, len(authors))
	for i, au := range authors {
		authorList[i] = au
	}
	state.PushArtifactUniq(ir.HistoryEntry{
		ID:          a.ID,
		Type:        a.Type,
		Description: fmt.Sprintf("%d changes by %d authors", sum.Changes, len(authors)),
		Metadata: map[string]any{
			"changes": sum.Changes,
			"authors": authorList,
		},
	})
	job.Context.Set(a.ID, sum)
	return nil
}
