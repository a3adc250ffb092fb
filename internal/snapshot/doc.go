// Package snapshot persists produced stream and target states in BadgerDB
// so a restarted process starts from the last known state instead of
// polling every integration.
//
// # Keys
//
//   - stream/<project>:<target>:<stream>  JSON of ir.StreamState
//   - target/<project>:<target>           JSON of ir.TargetState
//
// Each value is wrapped in an envelope carrying the state's Ver. A save
// whose Ver is older than the stored one is skipped, so a slow writer never
// replaces newer state. Only the latest version of a key is kept.
//
// Extension values of a target
// state are not persisted; extensions rebuild them on the next reread.
//
// The synchronizer consults a snapshot once per key and process, on the
// first read of that key. Later reads go through its in-memory cache.
package snapshot
