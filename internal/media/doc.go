// Package media plans chunked processing of long recordings and stitches the
// per-chunk results back together.
//
// Recordings longer than MaxDuration are split into overlapping windows so
// inference never sees more than a few minutes of audio at once. Transcript
// chunks are joined with the duplicated words at each boundary removed;
// diarization chunks are shifted back onto the recording timeline with
// segments from the overlap regions deduplicated. Subpackages ffprobe and
// ffmpeg wrap the external binaries used to inspect and cut the audio.
package media
