// Package retry decides what happens to a call after a failed attempt and
// provides the explicit retry policy used at external call sites.
//
// DeadLetter maps a failure kind and the current attempt count to the next
// status: back to the lane's source status, straight to failed, or released
// untouched while a dependency circuit is open. Classify inspects stored
// last_error text offline so operators can decide which failed calls are
// worth recovering.
package retry
