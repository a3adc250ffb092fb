// Package keylock provides a map of mutexes keyed by string.
//
// Callers of different keys never block each other. Callers of the same key
// are served one at a time; Lock honours context cancellation while
// waiting.
//
// Entries are reference counted and removed when the last holder or waiter
// leaves, so the map does not grow with the key space.
//
// The synchronizer locks "stream:<ref>" and "target:<ref>" keys around a
// reread; the versioning engine locks the storage key of a version around
// a read-modify-write.
package keylock
