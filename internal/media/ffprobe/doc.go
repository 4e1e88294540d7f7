// Package ffprobe wraps ffprobe JSON output for call recordings.
//
// Inspect runs the binary and decodes streams and container format. The
// helpers on Result pick the first audio stream and report the recording
// length, falling back to the stream duration when the container omits it.
package ffprobe
