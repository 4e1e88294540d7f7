// Package factory implements the transcription lane.
//
// The lane claims downloaded calls by moving them to processing, converts
// the stored recording to mono 16 kHz WAV, and sends it to the speech
// service for transcription and diarization. Recordings longer than
// media.MaxDuration are split into overlapping chunks; chunk outputs are
// merged and the transcript is aligned onto the speaker turns before the
// call moves to transcribed.
//
// Every inference request passes through the shared "inference" circuit
// breaker. An open circuit releases the call back to downloaded without
// consuming an attempt.
package factory
