// Package daemon coordinates the long-running callpipe process.
//
// It wires configuration, queue storage, the workflow manager, the live
// ingestion syncer, and the status API into a single lifecycle with
// flock-based locking to prevent multiple instances against the same data
// directory. The daemon exposes queue maintenance helpers and breaker
// controls for the API.
//
// Keep orchestration logic here: lane behavior lives in the lane packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
