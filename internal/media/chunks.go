package media

import "fmt"

// MaxDuration is the recording length in seconds above which audio is chunked.
const MaxDuration = 600.0

// ChunkSpec sizes the windows a recording is split into. Both values are seconds.
type ChunkSpec struct {
	Segment float64
	Overlap float64
}

var (
	// TranscriptionChunks keeps transcription windows short enough for GPU memory.
	TranscriptionChunks = ChunkSpec{Segment: 300, Overlap: 5}
	// DiarizationChunks uses a wider overlap so speaker turns survive the cut.
	DiarizationChunks = ChunkSpec{Segment: 180, Overlap: 15}
)

// Step is how far each window advances past the previous one.
func (s ChunkSpec) Step() float64 {
	return s.Segment - s.Overlap
}

// Validate rejects specs that would never advance.
func (s ChunkSpec) Validate() error {
	if s.Segment <= 0 {
		return fmt.Errorf("chunk segment must be positive, got %v", s.Segment)
	}
	if s.Overlap < 0 || s.Overlap >= s.Segment {
		return fmt.Errorf("chunk overlap %v must be in [0, %v)", s.Overlap, s.Segment)
	}
	return nil
}

// Chunk is one window of a recording in seconds from its start.
type Chunk struct {
	Index int
	Start float64
	End   float64
}

// Duration returns the chunk length in seconds.
func (c Chunk) Duration() float64 {
	return c.End - c.Start
}

// NeedsChunking reports whether a recording of duration seconds is split.
func NeedsChunking(duration float64) bool {
	return duration > MaxDuration
}

// PlanChunks lays out windows over [0, duration). Each window is spec.Segment
// long, clipped at duration, and starts spec.Step() after the previous one.
// A non-positive duration or invalid spec yields a single window covering
// the whole recording.
func PlanChunks(duration float64, spec ChunkSpec) []Chunk {
	if duration <= 0 || spec.Validate() != nil {
		return []Chunk{{Index: 0, Start: 0, End: max(duration, 0)}}
	}
	var chunks []Chunk
	step := spec.Step()
	for start := 0.0; start < duration; start += step {
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   min(start+spec.Segment, duration),
		})
	}
	return chunks
}
