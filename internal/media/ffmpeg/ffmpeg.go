// Package ffmpeg converts call recordings into the mono 16 kHz WAV input the
// speech service expects, whole or one chunk at a time.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SampleRate is the output sample rate in Hz.
const SampleRate = 16000

// Runner invokes a configured ffmpeg binary.
type Runner struct {
	Binary string
}

// New returns a runner for binary, defaulting to "ffmpeg" on PATH.
func New(binary string) Runner {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return Runner{Binary: binary}
}

// ToMonoWAV converts the whole of source to a mono 16 kHz PCM WAV at dest.
func (r Runner) ToMonoWAV(ctx context.Context, source, dest string) error {
	if err := checkPaths(source, dest); err != nil {
		return fmt.Errorf("ffmpeg convert: %w", err)
	}
	args := append(baseArgs(), "-i", source)
	args = append(args, outputArgs(dest)...)
	if err := r.run(ctx, args); err != nil {
		return fmt.Errorf("ffmpeg convert: %w", err)
	}
	return nil
}

// Extract writes durationSec seconds of source starting at startSec to dest
// as mono 16 kHz PCM WAV.
func (r Runner) Extract(ctx context.Context, source string, startSec, durationSec float64, dest string) error {
	if err := checkPaths(source, dest); err != nil {
		return fmt.Errorf("ffmpeg extract: %w", err)
	}
	if startSec < 0 {
		return fmt.Errorf("ffmpeg extract: invalid start %v", startSec)
	}
	if durationSec <= 0 {
		return fmt.Errorf("ffmpeg extract: invalid duration %v", durationSec)
	}
	args := append(baseArgs(),
		"-ss", formatSeconds(startSec),
		"-t", formatSeconds(durationSec),
		"-i", source,
	)
	args = append(args, outputArgs(dest)...)
	if err := r.run(ctx, args); err != nil {
		return fmt.Errorf("ffmpeg extract: %w", err)
	}
	return nil
}

func (r Runner) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.Binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func baseArgs() []string {
	return []string{"-y", "-hide_banner", "-loglevel", "error"}
}

func outputArgs(dest string) []string {
	return []string{
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", "pcm_s16le",
		dest,
	}
}

func checkPaths(source, dest string) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("empty source path")
	}
	if strings.TrimSpace(dest) == "" {
		return errors.New("empty destination path")
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
