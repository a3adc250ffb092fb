// Package integration defines the contract between rollout and the external
// systems that own stream state (source control, CI, deploy targets), and a
// registry that selects an integration by stream type.
package integration
