package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"notesworker/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const releaseTimeout = 10 * time.Second

type ManifestResolver interface {
	Resolve(ctx context.Context, mediaID string) ([]string, error)
}

type SegmentFetcher interface {
	FetchAll(ctx context.Context, manifestURLs []string, dir string) ([]models.SegmentDescriptor, error)
}

type ArtifactAssembler interface {
	Merge(ctx context.Context, segments []models.SegmentDescriptor, dir string) (string, error)
	ExtractAudio(ctx context.Context, mediaPath string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type NoteSynthesizer interface {
	SynthesizeNotes(ctx context.Context, transcript string) (string, error)
}

// SingleFlightStore is an atomic key-value store with expiry. It holds both
// the per-media lock and the published results.
type SingleFlightStore interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseIfOwned(ctx context.Context, key, token string) error
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// Archiver copies job outputs to durable storage. Optional.
type Archiver interface {
	UploadFile(ctx context.Context, mediaID, localPath, contentType string) (string, error)
	UploadText(ctx context.Context, mediaID, name, body, contentType string) (string, error)
}

type Dependencies struct {
	Resolver    ManifestResolver
	Fetcher     SegmentFetcher
	Assembler   ArtifactAssembler
	Transcriber Transcriber
	Notes       NoteSynthesizer
	Store       SingleFlightStore
	Archive     Archiver
}

type Options struct {
	WorkDir              string
	KeyPrefix            string
	LockTTL              time.Duration
	ResultTTL            time.Duration
	WaitPollInterval     time.Duration
	WaitMaxAttempts      int
	TranscribeAttempts   int
	TranscribeRetryDelay time.Duration
	ArchiveAudio         bool
}

// Coordinator runs the pipeline for a media id at most once at a time across
// every process sharing the store.
type Coordinator struct {
	deps     Dependencies
	opts     Options
	logger   zerolog.Logger
	newToken func() string
}

func NewCoordinator(deps Dependencies, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.WaitPollInterval <= 0 {
		opts.WaitPollInterval = time.Second
	}
	if opts.WaitMaxAttempts < 1 {
		opts.WaitMaxAttempts = 1
	}
	if opts.TranscribeAttempts < 1 {
		opts.TranscribeAttempts = 1
	}
	return &Coordinator{
		deps:     deps,
		opts:     opts,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		newToken: uuid.NewString,
	}
}

func (c *Coordinator) LockKey(mediaID string) string {
	return c.opts.KeyPrefix + "notes:lock:" + mediaID
}

func (c *Coordinator) ResultKey(mediaID string) string {
	return c.opts.KeyPrefix + "notes:result:" + mediaID
}

// RunJob returns the transcript and notes for mediaID. The caller that wins
// the lock executes the pipeline; everyone else waits for its published
// result.
func (c *Coordinator) RunJob(ctx context.Context, mediaID string) (models.JobResult, error) {
	logger := c.logger.With().Str("media_id", mediaID).Logger()

	if result, found := c.cachedResult(ctx, mediaID, logger); found {
		logger.Info().Msg("returning cached result")
		return result, nil
	}

	token := c.newToken()
	lockKey := c.LockKey(mediaID)
	acquired, err := c.deps.Store.Acquire(ctx, lockKey, token, c.opts.LockTTL)
	if err != nil {
		return models.JobResult{}, &models.PipelineError{Stage: models.StageLock, Err: err}
	}
	if !acquired {
		logger.Info().Msg("job already running elsewhere, waiting for its result")
		return c.waitForPeer(ctx, mediaID, logger)
	}

	logger = logger.With().Str("job_token", token).Logger()
	job := &models.MediaJob{MediaID: mediaID, Token: token, Status: models.JobPending}
	var ws *Workspace

	defer func() {
		if err := ws.Remove(); err != nil {
			logger.Error().Err(err).Str("workspace", job.Workspace).Msg("failed to remove workspace")
		}
		// The job context may already be cancelled; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := c.deps.Store.ReleaseIfOwned(releaseCtx, lockKey, token); err != nil {
			logger.Error().Err(err).Msg("failed to release lock")
		}
	}()

	ws, err = NewWorkspace(c.opts.WorkDir, token)
	if err != nil {
		job.Status = models.JobFailed
		return models.JobResult{}, &models.PipelineError{Stage: models.StageWorkspace, Err: err}
	}
	job.Workspace = ws.Path()

	started := time.Now()
	logger.Info().Str("workspace", job.Workspace).Msg("job started")

	result, err := c.execute(ctx, job, ws, logger)
	if err != nil {
		job.Status = models.JobFailed
		logger.Error().Err(err).Str("stage", models.StageOf(err)).Dur("elapsed", time.Since(started)).Msg("job failed")
		return models.JobResult{}, err
	}
	job.Status = models.JobCompleted

	c.publish(ctx, mediaID, result, logger)
	logger.Info().Int("segments", len(job.Segments)).Dur("elapsed", time.Since(started)).Msg("job completed")
	return result, nil
}

func (c *Coordinator) execute(ctx context.Context, job *models.MediaJob, ws *Workspace, logger zerolog.Logger) (models.JobResult, error) {
	fail := func(stage string, err error) (models.JobResult, error) {
		return models.JobResult{}, &models.PipelineError{Stage: stage, Err: err}
	}

	job.Status = models.JobResolving
	manifests, err := c.deps.Resolver.Resolve(ctx, job.MediaID)
	if err != nil {
		return fail(models.StageResolve, err)
	}
	job.ManifestURLs = manifests
	logger.Info().Int("manifests", len(manifests)).Msg("resolved manifests")

	job.Status = models.JobFetching
	segments, err := c.deps.Fetcher.FetchAll(ctx, manifests, ws.Path())
	if err != nil {
		return fail(models.StageFetch, err)
	}
	job.Segments = segments
	logger.Info().Int("segments", len(segments)).Msg("segments downloaded")

	job.Status = models.JobAssembling
	mergedPath, err := c.deps.Assembler.Merge(ctx, segments, ws.Path())
	if err != nil {
		return fail(models.StageMerge, err)
	}
	audioPath, err := c.deps.Assembler.ExtractAudio(ctx, mergedPath)
	if err != nil {
		return fail(models.StageExtract, err)
	}
	if c.opts.ArchiveAudio {
		c.archiveFile(ctx, job.MediaID, audioPath, "audio/mpeg", logger)
	}

	job.Status = models.JobTranscribing
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return fail(models.StageTranscribe, fmt.Errorf("failed to read audio artifact: %w", err))
	}
	transcript, err := WithRetry(ctx, logger, c.opts.TranscribeAttempts, c.opts.TranscribeRetryDelay,
		func(ctx context.Context) (string, error) {
			return c.deps.Transcriber.Transcribe(ctx, audio)
		})
	if err != nil {
		return fail(models.StageTranscribe, err)
	}
	logger.Info().Int("chars", len(transcript)).Msg("transcript generated")

	job.Status = models.JobSynthesizing
	notes, err := c.deps.Notes.SynthesizeNotes(ctx, transcript)
	if err != nil {
		return fail(models.StageNotes, err)
	}
	logger.Info().Int("chars", len(notes)).Msg("notes generated")

	c.archiveText(ctx, job.MediaID, "transcript.txt", transcript, "text/plain; charset=utf-8", logger)
	c.archiveText(ctx, job.MediaID, "notes.md", notes, "text/markdown; charset=utf-8", logger)

	return models.JobResult{Transcript: transcript, Notes: notes}, nil
}

// waitForPeer polls the result cache. It never touches the lock or the
// filesystem.
func (c *Coordinator) waitForPeer(ctx context.Context, mediaID string, logger zerolog.Logger) (models.JobResult, error) {
	ticker := time.NewTicker(c.opts.WaitPollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.opts.WaitMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return models.JobResult{}, &models.PipelineError{Stage: models.StageWait, Err: ctx.Err()}
		case <-ticker.C:
		}

		if result, found := c.cachedResult(ctx, mediaID, logger); found {
			logger.Info().Int("attempt", attempt).Msg("peer result available")
			return result, nil
		}
	}

	return models.JobResult{}, &models.PipelineError{Stage: models.StageWait, Err: models.ErrTimeoutWaitingForPeer}
}

func (c *Coordinator) cachedResult(ctx context.Context, mediaID string, logger zerolog.Logger) (models.JobResult, bool) {
	raw, found, err := c.deps.Store.Get(ctx, c.ResultKey(mediaID))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read result cache")
		return models.JobResult{}, false
	}
	if !found {
		return models.JobResult{}, false
	}

	var result models.JobResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logger.Warn().Err(err).Msg("ignoring malformed cached result")
		return models.JobResult{}, false
	}
	return result, true
}

// publish caches the result so waiters, including late ones arriving after
// the lock is gone, can pick it up. Failure here does not fail the job.
func (c *Coordinator) publish(ctx context.Context, mediaID string, result models.JobResult, logger zerolog.Logger) {
	payload, err := json.Marshal(result)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode result")
		return
	}
	if err := c.deps.Store.SetWithTTL(ctx, c.ResultKey(mediaID), string(payload), c.opts.ResultTTL); err != nil {
		logger.Error().Err(err).Msg("failed to publish result")
	}
}

func (c *Coordinator) archiveFile(ctx context.Context, mediaID, localPath, contentType string, logger zerolog.Logger) {
	if c.deps.Archive == nil {
		return
	}
	key, err := c.deps.Archive.UploadFile(ctx, mediaID, localPath, contentType)
	if err != nil {
		logger.Warn().Err(err).Str("path", localPath).Msg("archive upload failed")
		return
	}
	logger.Debug().Str("key", key).Msg("archived artifact")
}

func (c *Coordinator) archiveText(ctx context.Context, mediaID, name, body, contentType string, logger zerolog.Logger) {
	if c.deps.Archive == nil {
		return
	}
	key, err := c.deps.Archive.UploadText(ctx, mediaID, name, body, contentType)
	if err != nil {
		logger.Warn().Err(err).Str("name", name).Msg("archive upload failed")
		return
	}
	logger.Debug().Str("key", key).Msg("archived document")
}
