// Package versioning derives, bumps, overrides and rolls back the version of
// a target or stream.
//
// Versions live in the var store under two keys per entity: the current
// version and a bounded history. The history is append-only except for
// rollback, which pops the entry matching the current version. A strategy
// (semver, none) decides how versions are seeded, bumped and formatted.
//
// Reads are cached for a short TTL and coalesced per key. Read-modify-write
// operations on the same key are serialized.
package versioning
