// Package logging assembles structured slog loggers and formatting helpers used
// across callpipe services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so lane code can automatically
// tag log lines with call IDs, lanes, stages, and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail, and
// an in-memory stream hub the daemon API serves recent log events from.
package logging
