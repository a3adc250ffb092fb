// Package instrument decorates collaborators with logging and Prometheus
// metrics.
//
// Decorators are applied at registration time:
//   - WrapStreamService is an integration.Middleware around every
//     StreamService in the registry
//   - WrapStorage wraps the store.Vars shared by versioning, release
//     documents and bookmarks
//   - Metrics.ObserveFlowRun is called by the engine once per finished run
//
// # Metrics
//
//   - rollout_integration_calls_total{stream_type, op, status}
//   - rollout_integration_call_duration_seconds{stream_type, op}
//   - rollout_storage_ops_total{op, status}
//   - rollout_storage_op_duration_seconds{op}
//   - rollout_engine_flow_runs_total{flow, status}
//
// status is "success" or "error". Failed calls are logged at warn level;
// integration calls also log at debug level with their duration.
package instrument
