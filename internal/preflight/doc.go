// Package preflight provides readiness checks for the external services,
// binaries, and filesystem paths callpipe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before starting the lanes. A failed check is
//     logged and the daemon refuses to start, since every lane would only
//     burn attempts against a dependency that is not there.
//   - The CLI "callpipe status" command prints the same results plus the
//     runtime checks (database, call-log credentials, Redis).
//
// Each check is gated by the lane or feature that needs it. Disabled lanes
// are skipped.
package preflight
