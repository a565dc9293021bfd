package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"notesworker/models"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	// write is the content written to the command's output path (last arg).
	write  []byte
	err    error
	onCall func(args []string)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(args)
	}
	if f.err != nil {
		return commandResult{Stderr: "boom", ExitCode: 1}, f.err
	}
	if len(args) > 1 && f.write != nil {
		if err := os.WriteFile(args[len(args)-1], f.write, 0o644); err != nil {
			return commandResult{}, err
		}
	}
	return commandResult{}, nil
}

func newTestFFmpeg(runner commandRunner) *FFmpegService {
	svc := NewFFmpegService("ffmpeg", time.Minute, testLogger)
	svc.runner = runner
	svc.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	return svc
}

func testSegments(dir string) []models.SegmentDescriptor {
	return []models.SegmentDescriptor{
		{ManifestIndex: 0, SegmentIndex: 0, LocalPath: filepath.Join(dir, "segment_0_0.ts")},
		{ManifestIndex: 0, SegmentIndex: 1, LocalPath: filepath.Join(dir, "segment_0_1.ts")},
		{ManifestIndex: 1, SegmentIndex: 0, LocalPath: filepath.Join(dir, "it's.ts")},
	}
}

func TestFFmpegService_MergeWritesOrderedFileList(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{write: []byte("media")}
	svc := newTestFFmpeg(runner)
	dir := t.TempDir()

	merged, err := svc.Merge(context.Background(), testSegments(dir), dir)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged != filepath.Join(dir, mergedArtifactName) {
		t.Fatalf("unexpected merged path %s", merged)
	}

	list, err := os.ReadFile(filepath.Join(dir, fileListName))
	if err != nil {
		t.Fatalf("file list missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(list)), "\n")
	want := []string{
		"file '" + filepath.Join(dir, "segment_0_0.ts") + "'",
		"file '" + filepath.Join(dir, "segment_0_1.ts") + "'",
		"file '" + filepath.Join(dir, `it'\''s.ts`) + "'",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %q", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}

	// -version probe, then the concat call.
	if len(runner.calls) != 2 {
		t.Fatalf("expected 2 ffmpeg invocations, got %d", len(runner.calls))
	}
	concat := strings.Join(runner.calls[1], " ")
	for _, fragment := range []string{"-f concat", "-safe 0", "-c copy"} {
		if !strings.Contains(concat, fragment) {
			t.Fatalf("expected %q in %q", fragment, concat)
		}
	}
}

func TestFFmpegService_MergeToolMissing(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	svc := newTestFFmpeg(runner)
	svc.lookPath = func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }
	dir := t.TempDir()

	_, err := svc.Merge(context.Background(), testSegments(dir), dir)
	if !errors.Is(err, models.ErrExternalToolMissing) {
		t.Fatalf("expected ErrExternalToolMissing, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no ffmpeg invocations, got %d", len(runner.calls))
	}
}

func TestFFmpegService_MergeEmptyArtifact(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{write: []byte{}}
	svc := newTestFFmpeg(runner)
	dir := t.TempDir()

	_, err := svc.Merge(context.Background(), testSegments(dir), dir)
	if !errors.Is(err, models.ErrEmptyMergedArtifact) {
		t.Fatalf("expected ErrEmptyMergedArtifact, got %v", err)
	}
}

func TestFFmpegService_MergeMissingArtifact(t *testing.T) {
	t.Parallel()

	svc := newTestFFmpeg(&fakeRunner{})
	dir := t.TempDir()

	_, err := svc.Merge(context.Background(), testSegments(dir), dir)
	if !errors.Is(err, models.ErrEmptyMergedArtifact) {
		t.Fatalf("expected ErrEmptyMergedArtifact, got %v", err)
	}
}

func TestFFmpegService_MergeCommandFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	runner := &fakeRunner{}
	runner.onCall = func(args []string) {
		calls++
		if calls == 2 {
			runner.err = errors.New("exit status 1")
		}
	}
	svc := newTestFFmpeg(runner)
	dir := t.TempDir()

	_, err := svc.Merge(context.Background(), testSegments(dir), dir)
	if err == nil || errors.Is(err, models.ErrExternalToolMissing) {
		t.Fatalf("expected generic merge failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestFFmpegService_ExtractAudio(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{write: []byte("mp3")}
	svc := newTestFFmpeg(runner)
	dir := t.TempDir()
	merged := filepath.Join(dir, mergedArtifactName)

	audio, err := svc.ExtractAudio(context.Background(), merged)
	if err != nil {
		t.Fatalf("ExtractAudio failed: %v", err)
	}
	if audio != filepath.Join(dir, audioArtifactName) {
		t.Fatalf("unexpected audio path %s", audio)
	}
	args := strings.Join(runner.calls[0], " ")
	if !strings.Contains(args, "-i "+merged) || !strings.Contains(args, "-map a") {
		t.Fatalf("unexpected args %q", args)
	}
}
