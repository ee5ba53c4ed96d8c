// Copyright 2025 James Ross
// Package transcoder implements ports.Transcoder as a bounded ffmpeg
// subprocess wrapper, the same shape the broader media-pipeline corpus
// uses (an exec.CommandContext invocation with a hard timeout and captured
// stderr), generalized here to the single Run primitive the handlers in
// internal/pipeline issue ffmpeg/ffprobe/yt-dlp argv lists through.
package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/ports"
)

// FFmpeg runs ffmpeg/ffprobe/yt-dlp binaries as subprocesses, bounding
// each invocation with a timeout and duration ceiling.
type FFmpeg struct {
	binPath        string
	downloadPath   string
	defaultTimeout time.Duration
}

func New(cfg config.Transcoder) *FFmpeg {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	dl := cfg.DownloadPath
	if dl == "" {
		dl = "yt-dlp"
	}
	return &FFmpeg{binPath: bin, downloadPath: dl, defaultTimeout: timeout}
}

// Run executes the binary named by args[0] with the remaining args,
// enforcing opts.Timeout (falling back to the adapter's default) via
// context cancellation. The logical names "ffmpeg" and "yt-dlp" resolve
// to the configured binary paths; anything else (an absolute path, or a
// name resolved via PATH) is executed as given.
func (f *FFmpeg) Run(ctx context.Context, args []string, opts ports.RunOptions) (ports.RunResult, error) {
	if len(args) == 0 {
		return ports.RunResult{}, fmt.Errorf("transcoder: empty argv")
	}
	switch args[0] {
	case "ffmpeg":
		args = append([]string{f.binPath}, args[1:]...)
	case "yt-dlp":
		args = append([]string{f.downloadPath}, args[1:]...)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := ports.RunResult{
		DurationSeconds: elapsed.Seconds(),
		StderrSummary:   lastLines(stderr.String(), 20),
	}

	if runCtx.Err() != nil {
		result.Signal = "KILLED"
		return result, fmt.Errorf("transcoder: timed out after %s: %w", timeout, runCtx.Err())
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			if exitErr.ProcessState != nil && !exitErr.ProcessState.Exited() {
				result.Signal = exitErr.ProcessState.String()
			}
		}
		return result, fmt.Errorf("transcoder: %s failed: %w: %s", args[0], err, result.StderrSummary)
	}

	if t, ok := lastProgressTime(stderr.String()); ok {
		result.DurationSeconds = t
		if opts.MaxDurationSeconds > 0 && t > opts.MaxDurationSeconds {
			return result, fmt.Errorf("transcoder: output duration %.1fs exceeds limit %.1fs", t, opts.MaxDurationSeconds)
		}
	}

	result.OK = true
	return result, nil
}

// lastProgressTime parses the final "time=HH:MM:SS.cc" progress marker
// ffmpeg writes to stderr, the cheapest source of the output's duration
// without a second ffprobe invocation.
func lastProgressTime(stderr string) (float64, bool) {
	idx := strings.LastIndex(stderr, "time=")
	if idx < 0 {
		return 0, false
	}
	field := stderr[idx+len("time="):]
	if end := strings.IndexAny(field, " \n\r\t"); end >= 0 {
		field = field[:end]
	}
	var h, m int
	var s float64
	if _, err := fmt.Sscanf(field, "%d:%d:%f", &h, &m, &s); err != nil {
		return 0, false
	}
	return float64(h*3600+m*60) + s, true
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
