package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notesworker/models"

	"github.com/rs/zerolog"
)

type RecordStore interface {
	GetRecord(ctx context.Context, mediaID string) (*models.TranscriptNotesRecord, error)
	MarkProcessing(ctx context.Context, mediaID, sourceLink string) error
	SaveCompleted(ctx context.Context, mediaID, sourceLink, requesterID string, result models.JobResult) error
	AddContributor(ctx context.Context, mediaID, requesterID string) error
	UpdateRecordError(ctx context.Context, mediaID string, errorMsg string) error
}

type UserStore interface {
	GetRequester(ctx context.Context, id string) (*models.Requester, error)
	IncrementNotesGenerated(ctx context.Context, requesterID string) error
}

type JobRunner interface {
	RunJob(ctx context.Context, mediaID string) (models.JobResult, error)
}

// Processor is the entry point used by the queue worker and the CLI. It
// serves stored notes when they exist and otherwise runs the pipeline and
// persists what it produced.
type Processor struct {
	records    RecordStore
	users      UserStore
	runner     JobRunner
	maxTrials  int
	sourceLink func(mediaID string) string
	logger     zerolog.Logger
}

func NewProcessor(records RecordStore, users UserStore, runner JobRunner, maxTrials int, sourceLink func(string) string, logger zerolog.Logger) *Processor {
	if sourceLink == nil {
		sourceLink = func(string) string { return "" }
	}
	return &Processor{
		records:    records,
		users:      users,
		runner:     runner,
		maxTrials:  maxTrials,
		sourceLink: sourceLink,
		logger:     logger.With().Str("component", "processor").Logger(),
	}
}

func (p *Processor) ProcessMedia(ctx context.Context, mediaID, requesterID string) (models.JobResult, error) {
	mediaID = strings.TrimSpace(mediaID)
	requesterID = strings.TrimSpace(requesterID)
	if mediaID == "" || requesterID == "" {
		return models.JobResult{}, errors.New("media id and requester id are required")
	}
	logger := p.logger.With().Str("media_id", mediaID).Str("requester_id", requesterID).Logger()

	requester, err := p.users.GetRequester(ctx, requesterID)
	if err != nil {
		return models.JobResult{}, err
	}
	if !requester.CanGenerate(p.maxTrials) {
		return models.JobResult{}, models.ErrTrialLimitReached
	}

	existing, err := p.records.GetRecord(ctx, mediaID)
	switch {
	case err == nil && existing.Status == models.RecordCompleted:
		logger.Info().Msg("notes already exist, returning stored record")
		if !existing.HasContributor(requesterID) {
			if err := p.records.AddContributor(ctx, mediaID, requesterID); err != nil {
				return models.JobResult{}, err
			}
			p.countNote(ctx, requesterID, logger)
		}
		return models.JobResult{Transcript: existing.Transcript, Notes: existing.Notes}, nil
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return models.JobResult{}, err
	}

	link := p.sourceLink(mediaID)
	if err := p.records.MarkProcessing(ctx, mediaID, link); err != nil {
		logger.Warn().Err(err).Msg("failed to mark record processing")
	}

	result, err := p.runner.RunJob(ctx, mediaID)
	if err != nil {
		if uerr := p.records.UpdateRecordError(context.WithoutCancel(ctx), mediaID, err.Error()); uerr != nil {
			logger.Warn().Err(uerr).Msg("failed to record job error")
		}
		return models.JobResult{}, err
	}

	if err := p.records.SaveCompleted(ctx, mediaID, link, requesterID, result); err != nil {
		return models.JobResult{}, fmt.Errorf("failed to persist notes: %w", err)
	}
	p.countNote(ctx, requesterID, logger)

	return result, nil
}

func (p *Processor) countNote(ctx context.Context, requesterID string, logger zerolog.Logger) {
	if err := p.users.IncrementNotesGenerated(ctx, requesterID); err != nil {
		logger.Warn().Err(err).Msg("failed to update notes counter")
	}
}
