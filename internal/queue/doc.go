// Package queue persists calls in a relational table that doubles as the
// pipeline's durable work queue.
//
// The Store owns connections for the sqlite, pgx, and mysql dialects, schema
// initialization, the optimistic claim protocol, lane candidate selection,
// guarded state transitions, the bulk zombie reset, and admin recovery. Two
// claim styles exist: a status compare-and-swap for lanes that have a
// dedicated in-progress status, and a claim_token sentinel for lanes whose
// status must stay untouched while work runs. A lost race is never an error.
//
// Every completion or failure write is conditional on the caller still
// holding its claim; when the reaper or an operator has reset the call in
// the meantime the write affects no rows and ErrClaimLost is returned.
//
// Schema changes bump schemaVersion in schema.go; operators clear the
// database (or migrate externally) to adopt the new schema.
package queue
