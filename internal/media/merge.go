package media

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"callpipe/internal/services"
)

// maxOverlapWords bounds the boundary search between transcript chunks.
const maxOverlapWords = 15

// MergeTranscripts joins chunk transcripts in order. Blank chunks are
// skipped. At each boundary the longest run of words ending the previous
// kept chunk that also starts the next one (compared case-insensitively,
// at most 15 words) is dropped from the next chunk.
func MergeTranscripts(transcripts []string) string {
	if len(transcripts) == 0 {
		return ""
	}
	if len(transcripts) == 1 {
		return strings.TrimSpace(transcripts[0])
	}
	fold := cases.Fold()
	var parts []string
	for _, transcript := range transcripts {
		text := strings.TrimSpace(transcript)
		if text == "" {
			continue
		}
		if len(parts) > 0 {
			text = removeOverlap(fold, parts[len(parts)-1], text)
			if text == "" {
				continue
			}
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

func removeOverlap(fold cases.Caser, prev, current string) string {
	prevWords := strings.Fields(prev)
	if len(prevWords) > maxOverlapWords {
		prevWords = prevWords[len(prevWords)-maxOverlapWords:]
	}
	currentWords := strings.Fields(current)
	if len(prevWords) == 0 || len(currentWords) == 0 {
		return current
	}

	limit := min(len(prevWords), len(currentWords), maxOverlapWords)
	best := 0
	for n := 1; n <= limit; n++ {
		if wordsEqualFold(fold, prevWords[len(prevWords)-n:], currentWords[:n]) {
			best = n
		}
	}
	if best == 0 {
		return current
	}
	return strings.Join(currentWords[best:], " ")
}

func wordsEqualFold(fold cases.Caser, a, b []string) bool {
	for i := range a {
		if fold.String(a[i]) != fold.String(b[i]) {
			return false
		}
	}
	return true
}

// MergeSegments maps per-chunk diarization back onto the recording
// timeline. results[i] holds segments relative to chunks[i].Start.
//
// Segments that start inside the overlap with the next chunk are dropped
// since the next chunk sees them in full. Segments that start before the
// end of the previous chunk are truncated to begin there. The merged list is
// sorted by start time. A single chunk is returned unchanged.
func MergeSegments(chunks []Chunk, results [][]services.Segment) []services.Segment {
	if len(chunks) == 0 || len(results) == 0 {
		return nil
	}
	if len(chunks) == 1 {
		return slices.Clone(results[0])
	}

	var merged []services.Segment
	for i, chunk := range chunks {
		if i >= len(results) {
			break
		}
		for _, seg := range results[i] {
			shifted := services.Segment{
				Speaker: seg.Speaker,
				Start:   seg.Start + chunk.Start,
				End:     seg.End + chunk.Start,
				Text:    seg.Text,
			}
			if i+1 < len(chunks) && shifted.Start >= chunks[i+1].Start {
				continue
			}
			if i > 0 && shifted.Start < chunks[i-1].End {
				shifted.Start = chunks[i-1].End
			}
			if shifted.End <= shifted.Start {
				continue
			}
			merged = append(merged, shifted)
		}
	}
	slices.SortStableFunc(merged, func(a, b services.Segment) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	return merged
}
