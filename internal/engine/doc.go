// Package engine dispatches flows: ordered lists of actions applied to the
// targets and streams of a project.
//
// RunFlow executes one flow synchronously. Each action is expanded into
// calls and handed to the handler registered for its type. Calls run in
// declaration order; the first failure stops the run. Every call is recorded
// in the action log.
//
// # Target Resolution
//
//   - The request selection is intersected with the flow targets, in flow
//     order (PossibleTargetIDs); a selection naming other targets fails
//     with INVALID_TARGET before anything runs
//   - An action's own non-empty target list wins over that set
//     (FirstNonEmpty), even when the selection does not name its targets
//   - A "source:target" entry names the source of a cross-target action;
//     without one the action's "source" param does
//
// Submit and Run provide the asynchronous form: requests are queued FIFO
// and processed one at a time by the single goroutine running Run, so two
// flows never interleave their actions.
//
// Every mutating built-in action marks the entities it touched dirty as its
// last step. The next read through the synchronizer refetches them.
package engine
