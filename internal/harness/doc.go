// Package harness runs rollout scenarios as executable contract tests.
//
// A scenario names a project directory, seeds stream states, runs flows
// through the real engine and then checks the resulting trace, the calls
// made to integrations, versions and release documents.
//
// # Scenario Format
//
//	name: ship_to_live
//	description: "Shipping moves dev onto live and releases it"
//	project: ../project
//	setup:
//	  - target: dev
//	    stream: app
//	    changes:
//	      - id: c0ffee1234
//	        type: git.commit
//	        description: "Add checkout"
//	        author: kim
//	runs:
//	  - flow: ship
//	    expect: succeeded
//	assertions:
//	  - type: trace_contains
//	    action: stream.move
//	    target: live
//	  - type: call_made
//	    call: "move pipeline:dev:app -> pipeline:live:app force=false"
//	  - type: version
//	    target: live
//	    expect: "0.1.0"
//
// # Assertion Types
//
//   - trace_contains: an action ran, optionally on a given target
//   - trace_order: actions ran in the listed order
//   - trace_count: an action ran exactly N times
//   - call_made: an integration received the given call
//   - version: a target (or stream) has the expected current version
//   - release_status: a target's release document has the expected status
//
// # Determinism
//
// Every scenario gets its own database in a temporary directory, in-memory
// snapshots, sequential run ids (run-1, run-2, ...) and a fake integration
// for each stream type of the project. Traces leave out timestamps and
// sequence numbers so they can be compared against golden files.
package harness
