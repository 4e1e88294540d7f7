package retry

import (
	"regexp"
	"strings"

	"callpipe/internal/queue"
)

type pattern struct {
	source string
	re     *regexp.Regexp
}

func compile(sources ...string) []pattern {
	out := make([]pattern, 0, len(sources))
	for _, src := range sources {
		out = append(out, pattern{source: src, re: regexp.MustCompile("(?i)" + src)})
	}
	return out
}

// Checked before recoverablePatterns; a match here wins.
var nonRecoverablePatterns = compile(
	`No audio URL`,
	`No audio_url`,
	`Empty audio`,
	`Content-Length: 0`,
	`HTTP 404`,
	`HTTP 403`,
	`HTTP 401`,
	`HTTP 410`,
	`Corrupted`,
	`Invalid audio`,
	`not found`,
	`Access denied`,
)

var recoverablePatterns = compile(
	`CUDA out of memory`,
	`OutOfMemoryError`,
	`out of memory`,
	`Pyannote.*error`,
	`diarization.*failed`,
	`Connection.*timed out`,
	`Read timed out`,
	`connection reset`,
	`ConnectionResetError`,
	`Network is unreachable`,
	`Temporary failure`,
	`ServiceUnavailable`,
	`service unavailable`,
	`Zombie reset`,
	`timeout`,
	`transient`,
	`retry`,
	`batch_size.*too large`,
	`batch size.*too large`,
)

// Classification is the offline verdict for a stored error message.
type Classification struct {
	Recoverable bool
	Reason      string
}

// Classify inspects a last_error value. Non-recoverable patterns take
// precedence; blank or unmatched messages are not recoverable.
func Classify(lastError string) Classification {
	if strings.TrimSpace(lastError) == "" {
		return Classification{Reason: "No error message"}
	}
	for _, p := range nonRecoverablePatterns {
		if p.re.MatchString(lastError) {
			return Classification{Reason: "matches non-recoverable pattern: " + p.source}
		}
	}
	for _, p := range recoverablePatterns {
		if p.re.MatchString(lastError) {
			return Classification{Recoverable: true, Reason: "matches recoverable pattern: " + p.source}
		}
	}
	return Classification{Reason: "No matching pattern"}
}

// RecoverOptions tunes Assess.
type RecoverOptions struct {
	MaxAttempts int
	// Force ignores the attempt ceiling.
	Force bool
	// StorageOnly limits recovery to calls whose audio is already stored.
	StorageOnly bool
}

// Assessment describes whether and where a failed call can be recovered.
type Assessment struct {
	Call           *queue.Call
	Classification Classification
	Recoverable    bool
	Target         queue.Status
	Reason         string
}

// Assess decides whether a failed call should be handed back to the
// pipeline and which status it would resume from.
func Assess(call *queue.Call, opts RecoverOptions) Assessment {
	a := Assessment{Call: call, Classification: Classify(call.LastError)}
	a.Recoverable = a.Classification.Recoverable
	a.Reason = a.Classification.Reason

	hasStorage := strings.TrimSpace(call.BlobPath) != ""
	hasTranscript := strings.TrimSpace(call.TranscriptText) != ""
	hasURL := strings.TrimSpace(call.AudioURL) != ""

	// Chunked transcription handles what used to run out of GPU memory.
	if hasStorage && strings.Contains(call.LastError, "CUDA out of memory") {
		a.Recoverable = true
		a.Reason = "stored audio can be re-run with chunking"
	}

	ceiling := opts.MaxAttempts
	if ceiling <= 0 {
		ceiling = DefaultMaxAttempts
	}
	if !opts.Force && call.AttemptCount >= ceiling && !IsZombieReset(call.LastError) {
		a.Recoverable = false
		a.Reason = "attempt ceiling reached"
	}

	switch {
	case hasTranscript:
		a.Target = queue.StatusTranscribed
	case hasStorage:
		a.Target = queue.StatusDownloaded
	case hasURL:
		a.Target = queue.StatusPending
	default:
		a.Recoverable = false
		a.Reason = "no audio"
	}
	if opts.StorageOnly && !hasStorage && a.Recoverable {
		a.Recoverable = false
		a.Reason = "audio not stored"
	}
	return a
}
