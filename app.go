package main

import (
	"context"
	"fmt"

	"notesworker/config"
	"notesworker/pipeline"
	"notesworker/services"
	"notesworker/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the wired service graph shared by the CLI commands.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	redisClient *redis.Client
	db          *services.DatabaseService
	ffmpeg      *services.FFmpegService
	coordinator *pipeline.Coordinator
	processor   *pipeline.Processor
	pool        *worker.Pool
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	db, err := services.NewDatabaseService(cfg.DatabaseURL)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		redisClient.Close()
		db.Close()
		return nil, err
	}
	logger.Info().Msg("connected to database")

	ffmpeg := services.NewFFmpegService(cfg.FFmpegPath, cfg.ToolTimeout, logger)
	deps := pipeline.Dependencies{
		Resolver:    services.NewCatalogService(cfg.CatalogURL, cfg.CatalogParam),
		Fetcher:     services.NewSegmentFetcher(cfg.FetchConcurrency, cfg.SegmentTimeout, logger),
		Assembler:   ffmpeg,
		Transcriber: services.NewDeepgramService(cfg.DeepgramAPIKey, cfg.DeepgramURL, cfg.DeepgramModel, cfg.TranscribeTimeout),
		Notes:       services.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.NotesTimeout),
		Store:       services.NewRedisSingleFlightStore(redisClient),
	}
	if cfg.ArchiveEnabled() {
		deps.Archive = services.NewS3Service(cfg)
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("archiving job outputs to S3")
	}

	coordinator := pipeline.NewCoordinator(deps, pipeline.Options{
		WorkDir:              cfg.WorkDir,
		KeyPrefix:            cfg.RedisPrefix,
		LockTTL:              cfg.LockTTL,
		ResultTTL:            cfg.ResultTTL,
		WaitPollInterval:     cfg.WaitPollInterval,
		WaitMaxAttempts:      cfg.WaitMaxAttempts,
		TranscribeAttempts:   cfg.TranscribeAttempts,
		TranscribeRetryDelay: cfg.TranscribeRetryDelay,
		ArchiveAudio:         cfg.ArchiveAudio,
	}, logger)
	processor := pipeline.NewProcessor(db, db, coordinator, cfg.MaxTrials, cfg.SourceLink, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		redisClient: redisClient,
		db:          db,
		ffmpeg:      ffmpeg,
		coordinator: coordinator,
		processor:   processor,
		pool:        worker.NewPool(cfg, redisClient, processor, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close database")
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close Redis")
	}
}
