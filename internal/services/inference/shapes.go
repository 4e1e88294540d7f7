package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"callpipe/internal/services"
)

type transcriptEnvelope struct {
	Text       *string `json:"text"`
	Transcript *string `json:"transcript"`
	Hypotheses []struct {
		Text string `json:"text"`
	} `json:"hypotheses"`
}

func parseTranscript(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", errors.New("empty response")
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	case '[':
		var parts []string
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return "", err
		}
		if len(parts) == 0 {
			return "", nil
		}
		return strings.TrimSpace(parts[0]), nil
	}

	var env transcriptEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return "", err
	}
	switch {
	case env.Text != nil:
		return strings.TrimSpace(*env.Text), nil
	case env.Transcript != nil:
		return strings.TrimSpace(*env.Transcript), nil
	case len(env.Hypotheses) > 0:
		return strings.TrimSpace(env.Hypotheses[0].Text), nil
	}
	return "", errors.New("no transcript field in response")
}

type rawSegment struct {
	Speaker string  `json:"speaker"`
	Label   string  `json:"label"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

type segmentEnvelope struct {
	Segments           []rawSegment `json:"segments"`
	SpeakerDiarization *struct {
		Tracks []rawSegment `json:"tracks"`
	} `json:"speaker_diarization"`
}

func parseSegments(body []byte) ([]services.Segment, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response")
	}
	var raw []rawSegment
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
	} else {
		var env segmentEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		switch {
		case env.Segments != nil:
			raw = env.Segments
		case env.SpeakerDiarization != nil:
			raw = env.SpeakerDiarization.Tracks
		default:
			return nil, errors.New("no segments in response")
		}
	}

	segments := make([]services.Segment, 0, len(raw))
	for _, r := range raw {
		speaker := strings.TrimSpace(r.Speaker)
		if speaker == "" {
			speaker = strings.TrimSpace(r.Label)
		}
		if speaker == "" {
			speaker = services.DefaultSpeaker
		}
		segments = append(segments, services.Segment{Speaker: speaker, Start: r.Start, End: r.End})
	}
	return segments, nil
}
