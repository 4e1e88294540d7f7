// Command callpipe is the operator CLI for the call pipeline.
//
// Queue inspection and maintenance commands open the queue database
// directly, so they work whether or not the daemon is running. Commands
// that report live state (status, logs, breakers) talk to the daemon's
// HTTP API and need a bearer token when the API is protected.
package main
