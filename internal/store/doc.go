// Package store provides SQLite-backed durable storage for rollout.
//
// It holds two kinds of records:
//   - Vars: namespaced key/value pairs used by the versioning engine and the
//     release document (current versions, version history, documents, counters)
//   - Flow runs and action records: the log of every dispatched flow
//
// # Keys
//
// Var keys are built with TargetKey and StreamKey so that target and stream
// scoped values never collide:
//
//	TargetKey("version", "shop", "dev")         == "version:shop:dev"
//	StreamKey("version", "shop", "dev", "api")  == "version:shop:dev:api"
//
// # Deterministic results
//
// Action record queries order by seq ASC, id ASC COLLATE BINARY.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
