// Package alignment attributes transcript text to diarized speaker turns.
//
// The speech service returns a flat transcript and speaker segments without
// word timestamps, so words are handed out in proportion to each segment's
// share of the total speaking time.
package alignment

import (
	"math"
	"strings"

	"callpipe/internal/services"
)

const punctuation = `.,!?;:'"()-`

// Words splits text on whitespace and drops tokens made only of punctuation.
func Words(text string) []string {
	fields := strings.Fields(text)
	words := fields[:0]
	for _, field := range fields {
		if strings.Trim(field, punctuation) == "" {
			continue
		}
		words = append(words, field)
	}
	return words
}

// Align distributes the words of text across segs in order. Each segment
// receives round-half-even(duration * words/second) words, capped at what is
// left, and any remainder goes to the last segment. Adjacent segments from
// the same speaker are merged. When text has no words, segs is empty, or the
// total speaking time is not positive, segs is returned unchanged.
func Align(text string, segs []services.Segment) []services.Segment {
	if len(segs) == 0 {
		return segs
	}
	words := Words(text)
	if len(words) == 0 {
		return segs
	}
	total := 0.0
	for _, seg := range segs {
		total += seg.Duration()
	}
	if total <= 0 {
		return segs
	}

	wps := float64(len(words)) / total
	aligned := make([]services.Segment, 0, len(segs))
	next := 0
	for _, seg := range segs {
		count := int(math.RoundToEven(seg.Duration() * wps))
		count = min(count, len(words)-next)
		speaker := strings.TrimSpace(seg.Speaker)
		if speaker == "" {
			speaker = services.DefaultSpeaker
		}
		aligned = append(aligned, services.Segment{
			Speaker: speaker,
			Start:   round3(seg.Start),
			End:     round3(seg.End),
			Text:    strings.Join(words[next:next+count], " "),
		})
		next += count
	}
	if next < len(words) {
		last := &aligned[len(aligned)-1]
		last.Text = joinText(last.Text, strings.Join(words[next:], " "))
	}
	return mergeSameSpeaker(aligned)
}

func mergeSameSpeaker(segs []services.Segment) []services.Segment {
	merged := make([]services.Segment, 0, len(segs))
	for _, seg := range segs {
		if n := len(merged); n > 0 && merged[n-1].Speaker == seg.Speaker {
			merged[n-1].End = seg.End
			merged[n-1].Text = joinText(merged[n-1].Text, seg.Text)
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// SpeakerStats is one speaker's share of a call.
type SpeakerStats struct {
	Duration   float64 `json:"duration"`
	Words      int     `json:"word_count"`
	Percentage float64 `json:"percentage"`
}

// SpeakerSummary totals speaking time and words per speaker. Percentage is
// the share of total speaking time rounded to one decimal, or 0 when no time
// was spoken.
func SpeakerSummary(segs []services.Segment) map[string]SpeakerStats {
	summary := make(map[string]SpeakerStats)
	total := 0.0
	for _, seg := range segs {
		speaker := seg.Speaker
		if speaker == "" {
			speaker = services.DefaultSpeaker
		}
		stats := summary[speaker]
		stats.Duration += seg.Duration()
		stats.Words += len(strings.Fields(seg.Text))
		summary[speaker] = stats
		total += seg.Duration()
	}
	for speaker, stats := range summary {
		if total > 0 {
			stats.Percentage = math.Round(stats.Duration/total*1000) / 10
		}
		summary[speaker] = stats
	}
	return summary
}
