package ir

// Version constants for persisted state and the engine.
const (
	// StateVersion is the persisted state schema version. Snapshots with a
	// different version are ignored.
	StateVersion = "1"

	// EngineVersion is the rollout engine version.
	EngineVersion = "0.1.0"
)
