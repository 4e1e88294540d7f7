package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunksTranscription(t *testing.T) {
	chunks := PlanChunks(900, TranscriptionChunks)
	require.Len(t, chunks, 4)
	assert.Equal(t, Chunk{Index: 0, Start: 0, End: 300}, chunks[0])
	assert.Equal(t, Chunk{Index: 1, Start: 295, End: 595}, chunks[1])
	assert.Equal(t, Chunk{Index: 2, Start: 590, End: 890}, chunks[2])
	assert.Equal(t, Chunk{Index: 3, Start: 885, End: 900}, chunks[3])
}

func TestPlanChunksCoversRecording(t *testing.T) {
	for _, duration := range []float64{1, 180, 601, 1234.5, 3600} {
		chunks := PlanChunks(duration, DiarizationChunks)
		require.NotEmpty(t, chunks)
		assert.Equal(t, 0.0, chunks[0].Start)
		assert.Equal(t, duration, chunks[len(chunks)-1].End)
		for i := 1; i < len(chunks); i++ {
			assert.Equal(t, DiarizationChunks.Overlap, chunks[i-1].End-chunks[i].Start, "overlap between %d and %d", i-1, i)
		}
	}
}

func TestPlanChunksDegenerate(t *testing.T) {
	assert.Equal(t, []Chunk{{Index: 0, Start: 0, End: 0}}, PlanChunks(0, TranscriptionChunks))
	assert.Equal(t, []Chunk{{Index: 0, Start: 0, End: 50}}, PlanChunks(50, ChunkSpec{Segment: 10, Overlap: 10}))
}

func TestNeedsChunking(t *testing.T) {
	assert.False(t, NeedsChunking(600))
	assert.True(t, NeedsChunking(600.1))
}
