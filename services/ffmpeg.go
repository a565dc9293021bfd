package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"notesworker/models"

	"github.com/rs/zerolog"
)

const (
	fileListName       = "filelist.txt"
	mergedArtifactName = "merged.ts"
	audioArtifactName  = "audio.mp3"
)

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution so tests can fake ffmpeg.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpegService concatenates segments and extracts the audio track with the
// ffmpeg binary.
type FFmpegService struct {
	binary   string
	timeout  time.Duration
	runner   commandRunner
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	logger   zerolog.Logger
}

func NewFFmpegService(binary string, timeout time.Duration, logger zerolog.Logger) *FFmpegService {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegService{
		binary:   binary,
		timeout:  timeout,
		runner:   execRunner{},
		lookPath: exec.LookPath,
		stat:     os.Stat,
		logger:   logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// CheckAvailable verifies ffmpeg is on PATH and runs.
func (s *FFmpegService) CheckAvailable(ctx context.Context) error {
	if _, err := s.lookPath(s.binary); err != nil {
		return fmt.Errorf("%w: %v", models.ErrExternalToolMissing, err)
	}
	if _, err := s.run(ctx, "-version"); err != nil {
		return fmt.Errorf("%w: %v", models.ErrExternalToolMissing, err)
	}
	return nil
}

// Merge writes the ordered file list and concatenates the segments without
// re-encoding. The merged artifact must exist and be non-empty.
func (s *FFmpegService) Merge(ctx context.Context, segments []models.SegmentDescriptor, dir string) (string, error) {
	if len(segments) == 0 {
		return "", models.ErrNoSegmentsDownloaded
	}
	if err := s.CheckAvailable(ctx); err != nil {
		return "", err
	}

	listPath := filepath.Join(dir, fileListName)
	if err := os.WriteFile(listPath, []byte(buildFileList(segments)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file list: %w", err)
	}

	mergedPath := filepath.Join(dir, mergedArtifactName)
	s.logger.Info().Int("segments", len(segments)).Str("output", mergedPath).Msg("merging segments")
	if _, err := s.run(ctx,
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		mergedPath,
	); err != nil {
		return "", fmt.Errorf("ffmpeg merge: %w", err)
	}

	info, err := s.stat(mergedPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrEmptyMergedArtifact, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", models.ErrEmptyMergedArtifact, mergedPath)
	}
	s.logger.Info().Int64("bytes", info.Size()).Msg("merged artifact ready")
	return mergedPath, nil
}

// ExtractAudio transcodes the audio track of mediaPath into an mp3 next to it.
func (s *FFmpegService) ExtractAudio(ctx context.Context, mediaPath string) (string, error) {
	audioPath := filepath.Join(filepath.Dir(mediaPath), audioArtifactName)
	if _, err := s.run(ctx,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", mediaPath,
		"-vn",
		"-map", "a",
		"-q:a", "0",
		audioPath,
	); err != nil {
		return "", fmt.Errorf("ffmpeg extract audio: %w", err)
	}

	info, err := s.stat(audioPath)
	if err != nil {
		return "", fmt.Errorf("audio artifact missing: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("audio artifact is empty: %s", audioPath)
	}
	return audioPath, nil
}

func (s *FFmpegService) run(ctx context.Context, args ...string) (commandResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.runner.Run(ctx, s.binary, args...)
	if err != nil {
		stderr := strings.TrimSpace(result.Stderr)
		if ctx.Err() != nil {
			return result, fmt.Errorf("%w (exit=%d): %s", ctx.Err(), result.ExitCode, stderr)
		}
		return result, fmt.Errorf("%w (exit=%d): %s", err, result.ExitCode, stderr)
	}
	return result, nil
}

// buildFileList renders the concat demuxer input, one segment per line in
// assembly order.
func buildFileList(segments []models.SegmentDescriptor) string {
	var b strings.Builder
	for _, seg := range segments {
		escaped := strings.ReplaceAll(seg.LocalPath, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}
