// Package ir defines the rollout domain model and the observed-state records
// derived from it.
//
// The model side (Project, Target, Stream, Flow, Action, Artifact) is built
// once by the compiler and is immutable afterwards, except for the dirty
// flags on targets and streams. The state side (StreamState, TargetState,
// ProjectState) is produced by the synchronizer and versioned with a
// monotonically increasing Ver.
//
// ir imports nothing internal. All other internal packages import ir.
//
// Key design constraints:
//   - All JSON tags use snake_case
//   - Ver never decreases for a given state key
//   - Dirty flags are only cleared by the synchronizer
package ir
