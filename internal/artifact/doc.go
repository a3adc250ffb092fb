// Package artifact resolves derived facts about a stream ("artifacts") in
// dependency order.
//
// Each artifact names a producer type and the artifacts it depends on.
//
// # Resolution
//
//   - Every requested artifact and each of its transitive dependencies is
//     produced exactly once per Run call
//   - Dependencies are produced before their dependents
//   - Producers write into the stream state and may exchange values
//     through a Context shared by the whole call tree
//   - A failing producer stops the call and its error is returned;
//     artifacts already produced keep their entries
//
// Dependency cycles are rejected when the project is compiled. Run still
// tracks in-flight artifacts and fails on a cycle in a hand-built project.
package artifact
