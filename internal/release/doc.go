// Package release models the release document of a target: an ordered list
// of leveled sections, each carrying a mergeable changelog.
//
// # Document Model
//
//   - Sections are unique by (ID, Type)
//   - Sections are ordered by level, stable within a level
//   - Changelog entries merge by id; existing entries win, so folding the
//     same stream state twice is a no-op
//   - A Schema restricts which entry types a section type accepts; system
//     updates may bypass the restriction
//
// # Lifecycle
//
// The Extension is registered on the synchronizer bus:
//   - target.reread.started loads the stored document into the target state
//   - target.reread.finished folds every stream's change and artifact
//     history into one section per stream, then saves
//
// # Persistence
//
// Documents are stored as JSON in the var store under one key per target.
// Every save takes a fresh Ver from VarInc. A save carrying a Ver older
// than the stored one fails with ErrStaleWrite and the fold is retried on
// the stored document.
package release
