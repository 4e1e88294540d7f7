package queue

import "errors"

// ErrClaimLost reports that a guarded transition matched no row because the
// caller no longer holds the claim.
var ErrClaimLost = errors.New("claim lost")

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")
