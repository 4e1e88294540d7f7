// Package breaker guards calls to external dependencies with named circuit
// breakers.
//
// A Registry is created once by the daemon and handed to every component
// that talks to a dependency, so all callers of "inference" share the same
// Breaker. Closed breakers count consecutive failures and open at the
// configured threshold. Open breakers reject calls with an *OpenError until
// the recovery timeout passes, after which calls run in the half-open state
// until enough consecutive successes close the circuit again.
package breaker
