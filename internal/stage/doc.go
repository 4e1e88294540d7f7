// Package stage declares the lane handler contract shared by vault, factory,
// and judge, plus the health record each handler reports to preflight and
// the status API.
package stage
