// Package workflow drives calls through the processing lanes.
//
// The Manager runs one goroutine per configured lane (vault, factory, judge).
// Each cycle claims up to the lane's batch size through queue.Store.ClaimNext
// and fans the claimed calls out to the lane handler with a bounded
// errgroup, then waits for the whole batch before claiming again. An empty
// batch sleeps the lane's poll interval.
//
// Claimed work runs on a context detached from the manager's cancellation,
// so Stop stops new claims but lets in-flight calls finish and record their
// outcome. Handler errors are classified by the retry package: transient
// failures consume an attempt and return the call to its source status,
// permanent failures and exhausted calls are dead-lettered to failed, and
// open circuits release the call without penalty.
//
// The Reaper runs alongside the lanes and resets claims left behind by
// crashed workers. Status aggregates queue counts, lane counters, handler
// health, and breaker state for the CLI and the status API.
package workflow
