// Package llm provides an OpenAI-compatible chat client and the quality
// analyzer the judge lane scores transcripts with.
//
// # Analysis
//
// Analyzer.Analyze sends the transcript, the speaker breakdown, and the active
// rule set with a compliance-officer system prompt and requests a JSON
// verdict. The verdict is normalized (score clamped to 0-100, sentiment and
// risk lower-cased with defaults) but the flagged/safe disposition is left to
// the caller.
//
// # Configuration
//
// Requires api_key and model; base_url, referer, title and timeout are
// optional. A missing key is a configuration error so the daemon refuses to
// start rather than failing every call.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive JSON response.
// Client.HealthCheck: verify API key and model availability.
// NewAnalyzer: wrap a client as a services.QualityAnalyzer.
//
// # Retry Behaviour
//
// Requests go through a retry.Policy. HTTP 408/429/5xx, network timeouts and
// empty completions are retried; everything else returns at once. Context
// cancellation aborts retries immediately.
package llm
