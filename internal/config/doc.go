// Package config loads, normalizes, and validates callpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CALLPIPE_DATABASE_DSN and OPENAI_API_KEY. The Config type centralizes every
// knob the daemon and CLI need: database dialect, per-lane batch sizes,
// breaker thresholds, and credentials for the inference, LLM, and call-log
// collaborators.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
