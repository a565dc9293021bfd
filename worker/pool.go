package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"notesworker/config"
	"notesworker/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type MediaProcessor interface {
	ProcessMedia(ctx context.Context, mediaID, requesterID string) (models.JobResult, error)
}

type Pool struct {
	config      *config.Config
	redisClient *redis.Client
	processor   MediaProcessor
	logger      zerolog.Logger
	popTimeout  time.Duration
	retryDelay  func(retry int) time.Duration
}

func NewPool(cfg *config.Config, redisClient *redis.Client, processor MediaProcessor, logger zerolog.Logger) *Pool {
	return &Pool{
		config:      cfg,
		redisClient: redisClient,
		processor:   processor,
		logger:      logger.With().Str("component", "worker").Logger(),
		popTimeout:  30 * time.Second,
		retryDelay:  backoff,
	}
}

// backoff doubles per retry and caps at 30s.
func backoff(retry int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(retry))) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// Enqueue pushes a new request onto the pending queue.
func (p *Pool) Enqueue(ctx context.Context, mediaID, requesterID string) error {
	job := models.ProcessRequest{
		MediaID:     mediaID,
		RequesterID: requesterID,
		MaxRetries:  p.config.JobMaxRetries,
		CreatedAt:   time.Now(),
		Timeout:     p.config.JobTimeout,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := p.redisClient.LPush(ctx, p.config.PendingQueue, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	p.setStatus(ctx, mediaID, map[string]interface{}{"status": "queued"})
	return nil
}

func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	logger := p.logger.With().Int("worker_id", workerID).Logger()
	logger.Info().Msg("starting")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return
		default:
			// Atomic pop from pending and push to processing
			result, err := p.redisClient.BRPopLPush(
				ctx,
				p.config.PendingQueue,
				p.config.ProcessingQueue,
				p.popTimeout,
			).Result()

			if errors.Is(err, redis.Nil) {
				// Timeout, no jobs available
				continue
			}

			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				logger.Error().Err(err).Msg("redis error")
				time.Sleep(5 * time.Second)
				continue
			}

			var job models.ProcessRequest
			if err := json.Unmarshal([]byte(result), &job); err != nil {
				logger.Error().Err(err).Msg("failed to parse job")
				// Remove malformed job from processing queue
				p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, result)
				continue
			}

			p.processJob(ctx, workerID, &job, result)
		}
	}
}

func (p *Pool) processJob(ctx context.Context, workerID int, job *models.ProcessRequest, jobJSON string) {
	logger := p.logger.With().Int("worker_id", workerID).Str("media_id", job.MediaID).
		Str("requester_id", job.RequesterID).Int("retry", job.RetryCount).Logger()
	logger.Info().Msg("processing request")

	p.setStatus(ctx, job.MediaID, map[string]interface{}{"status": string(models.RecordProcessing)})

	timeout := time.Duration(job.Timeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(p.config.JobTimeout) * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()
	if _, err := p.processor.ProcessMedia(timeoutCtx, job.MediaID, job.RequesterID); err != nil {
		p.handleJobFailure(ctx, workerID, job, jobJSON, err)
		return
	}

	duration := time.Since(startTime)
	p.setStatus(ctx, job.MediaID, map[string]interface{}{
		"status":      string(models.RecordCompleted),
		"worker_id":   workerID,
		"duration_ms": duration.Milliseconds(),
	})

	// Remove from processing queue
	p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

	logger.Info().Dur("elapsed", duration).Msg("request completed")
}

func (p *Pool) handleJobFailure(ctx context.Context, workerID int, job *models.ProcessRequest, jobJSON string, jobErr error) {
	logger := p.logger.With().Int("worker_id", workerID).Str("media_id", job.MediaID).Logger()
	logger.Error().Err(jobErr).Str("stage", models.StageOf(jobErr)).Msg("request failed")

	// Remove from processing queue
	p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

	// Data errors fail the same way on every attempt.
	if !models.IsInputError(jobErr) && job.RetryCount < job.MaxRetries {
		job.RetryCount++
		newJobJSON, _ := json.Marshal(job)

		delay := p.retryDelay(job.RetryCount)
		time.AfterFunc(delay, func() {
			p.redisClient.LPush(context.Background(), p.config.PendingQueue, newJobJSON)
			logger.Info().Int("retry", job.RetryCount).Int("max_retries", job.MaxRetries).
				Dur("delay", delay).Msg("scheduled retry")
		})
		return
	}

	p.redisClient.LPush(ctx, p.config.FailedQueue, jobJSON)
	p.setStatus(ctx, job.MediaID, map[string]interface{}{
		"status":  string(models.RecordError),
		"error":   models.UserMessage(jobErr),
		"stage":   models.StageOf(jobErr),
		"details": jobErr.Error(),
	})
	logger.Warn().Int("retries", job.RetryCount).Msg("request moved to failed queue")
}

func (p *Pool) setStatus(ctx context.Context, mediaID string, fields map[string]interface{}) {
	fields["updated_at"] = time.Now().Format(time.RFC3339)
	if err := p.redisClient.HSet(ctx, p.statusKey(mediaID), fields).Err(); err != nil {
		p.logger.Warn().Err(err).Str("media_id", mediaID).Msg("failed to update status hash")
	}
}

func (p *Pool) statusKey(mediaID string) string {
	return p.config.RedisPrefix + "notes:status:" + mediaID
}

func (p *Pool) RecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	p.logger.Info().Msg("starting stale job recovery loop")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("recovery loop shutting down")
			return
		case <-ticker.C:
			p.recoverStaleJobs(ctx)
		}
	}
}

func (p *Pool) recoverStaleJobs(ctx context.Context) {
	jobs, err := p.redisClient.LRange(ctx, p.config.ProcessingQueue, 0, -1).Result()
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to read processing queue")
		return
	}

	recovered := 0
	for _, jobJSON := range jobs {
		var job models.ProcessRequest
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			continue
		}

		if time.Since(job.CreatedAt) <= p.config.StaleAfter {
			continue
		}

		p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			// Restart the staleness clock for the requeued attempt.
			job.CreatedAt = time.Now()
			newJobJSON, _ := json.Marshal(job)
			p.redisClient.LPush(ctx, p.config.PendingQueue, newJobJSON)
			recovered++
		} else {
			p.redisClient.LPush(ctx, p.config.FailedQueue, jobJSON)
			p.setStatus(ctx, job.MediaID, map[string]interface{}{
				"status": string(models.RecordError),
				"error":  fmt.Sprintf("Job timeout - exceeded %s", p.config.StaleAfter),
			})
		}
	}

	if recovered > 0 {
		p.logger.Info().Int("recovered", recovered).Msg("recovered stale jobs")
	}
}
