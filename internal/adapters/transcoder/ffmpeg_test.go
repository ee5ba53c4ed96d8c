package transcoder

import (
	"context"
	"testing"
	"time"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/ports"
)

func TestRunSuccess(t *testing.T) {
	f := New(config.Transcoder{FFmpegPath: "/bin/echo"})
	res, err := f.Run(context.Background(), []string{"/bin/echo", "hello"}, ports.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("expected OK result, got %+v", res)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	f := New(config.Transcoder{})
	res, err := f.Run(context.Background(), []string{"/bin/sh", "-c", "echo boom 1>&2; exit 3"}, ports.RunOptions{})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if res.OK {
		t.Fatal("expected OK=false")
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if res.StderrSummary != "boom\n" {
		t.Fatalf("expected stderr summary %q, got %q", "boom\n", res.StderrSummary)
	}
}

func TestRunTimeout(t *testing.T) {
	f := New(config.Transcoder{})
	res, err := f.Run(context.Background(), []string{"/bin/sh", "-c", "sleep 5"}, ports.RunOptions{Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if res.Signal != "KILLED" {
		t.Fatalf("expected KILLED signal, got %q", res.Signal)
	}
}

func TestRunEmptyArgs(t *testing.T) {
	f := New(config.Transcoder{})
	if _, err := f.Run(context.Background(), nil, ports.RunOptions{}); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestRunResolvesLogicalBinaryNames(t *testing.T) {
	f := New(config.Transcoder{FFmpegPath: "/bin/echo", DownloadPath: "/bin/echo"})
	res, err := f.Run(context.Background(), []string{"ffmpeg", "-ss", "0"}, ports.RunOptions{})
	if err != nil || !res.OK {
		t.Fatalf("expected ffmpeg name to resolve to configured path, got %v %+v", err, res)
	}
	res, err = f.Run(context.Background(), []string{"yt-dlp", "-o", "out"}, ports.RunOptions{})
	if err != nil || !res.OK {
		t.Fatalf("expected yt-dlp name to resolve to configured path, got %v %+v", err, res)
	}
}

func TestRunRejectsOutputOverDurationLimit(t *testing.T) {
	f := New(config.Transcoder{})
	_, err := f.Run(context.Background(),
		[]string{"/bin/sh", "-c", "echo 'frame= 100 time=00:00:05.00 bitrate=ok' 1>&2"},
		ports.RunOptions{MaxDurationSeconds: 2})
	if err == nil {
		t.Fatal("expected error when reported output duration exceeds the limit")
	}
}

func TestLastProgressTime(t *testing.T) {
	got, ok := lastProgressTime("frame=1 time=00:01:02.50 speed=1x\n")
	if !ok || got != 62.5 {
		t.Fatalf("expected 62.5, got %v ok=%v", got, ok)
	}
	if _, ok := lastProgressTime("no progress markers here"); ok {
		t.Fatal("expected no parse without a time= marker")
	}
}

func TestLastLines(t *testing.T) {
	s := "a\nb\nc\nd\n"
	if got := lastLines(s, 2); got != "c\nd" {
		t.Fatalf("expected last 2 lines, got %q", got)
	}
	if got := lastLines(s, 10); got != s {
		t.Fatalf("expected unchanged string when under limit, got %q", got)
	}
}
