// Package services defines the collaborator contracts and shared utilities
// consumed by the lane handlers.
//
// Key responsibilities:
//   - Interfaces for the external collaborators (speech inference, quality
//     analysis, blob storage, call metadata) plus the value types they
//     exchange. Concrete adapters live in subpackages.
//   - Context helpers that stamp call IDs, lanes, stages, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so lane code can tell
//     permanent failures from transient ones.
//
// Adapters normalize provider quirks (response shape versions, status codes)
// before returning; lane code only ever sees the types declared here.
package services
