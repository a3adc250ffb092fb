// Package syncer reconciles in-memory stream and target state against the
// external systems that own the truth.
//
// Reads go through a per-key lock and a cache. A clean entry with no
// requested scopes is served from the cache; a dirty entry, a scoped read
// or a cache miss asks the stream's integration for fresh state, runs the
// stream's artifact producers and fills in the version.
//
// # Dirty Flags
//
//   - Only the Synchronizer clears dirty flags
//   - A reread claims the flag (TakeDirty) before it asks the integration,
//     so a MarkDirty landing during the read survives it and the next read
//     recomputes again
//   - A dirty target forces a "resync" scope on all of its streams
//
// Collaborator failures never fail a read: the last known state is
// returned with IsSyncing false and a claimed flag is restored so the next
// read retries. A stream failure inside a target reread also restores the
// target's flag. Lookup errors (no integration for a stream type) are
// returned.
package syncer
