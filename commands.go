package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"notesworker/config"
	"notesworker/logging"
	"notesworker/models"
	"notesworker/services"
	"notesworker/worker"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "notesworker",
		Short:         "Turn recorded class sessions into transcripts and notes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "worker",
			Short: "Consume processing requests from the Redis queue",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWorker(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "process <media-id> <requester-id>",
			Short: "Process one media id in the foreground and print the result as JSON",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runProcess(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "enqueue <media-id> <requester-id>",
			Short: "Queue a processing request for the worker pool",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runEnqueue(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Check ffmpeg, Redis and database availability",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDoctor(cmd.Context())
			},
		},
	)
	return root
}

func loadRuntime() (*config.Config, zerolog.Logger) {
	cfg := config.Load()
	return cfg, logging.New(cfg.AppEnv)
}

func runWorker(parent context.Context) error {
	cfg, logger := loadRuntime()
	logger.Info().Msg("starting notes worker")

	a, err := newApp(parent, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ffmpeg.CheckAvailable(parent); err != nil {
		logger.Warn().Err(err).Msg("ffmpeg check failed; jobs will fail at the merge stage")
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			a.pool.StartWorker(ctx, workerID)
		}(i)
	}

	// Start stale job recovery goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.pool.RecoveryLoop(ctx)
	}()

	logger.Info().Int("workers", cfg.WorkerCount).Str("queue", cfg.PendingQueue).
		Msg("service is ready to process requests")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-parent.Done():
	}

	logger.Info().Msg("shutdown signal received, stopping workers")
	cancel()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all workers stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timeout, forcing exit")
	}
	return nil
}

func runProcess(parent context.Context, mediaID, requesterID string) error {
	cfg, logger := loadRuntime()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.JobTimeout)*time.Second)
	defer cancel()

	result, err := a.processor.ProcessMedia(ctx, mediaID, requesterID)
	if err != nil {
		return fmt.Errorf("%s: %w", models.UserMessage(err), err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runEnqueue(ctx context.Context, mediaID, requesterID string) error {
	cfg, logger := loadRuntime()

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	pool := worker.NewPool(cfg, client, nil, logger)
	if err := pool.Enqueue(ctx, mediaID, requesterID); err != nil {
		return err
	}
	logger.Info().Str("media_id", mediaID).Str("queue", cfg.PendingQueue).Msg("request queued")
	return nil
}

func runDoctor(ctx context.Context) error {
	cfg, logger := loadRuntime()
	failed := false
	report := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("FAIL  %-8s %v\n", name, err)
			return
		}
		fmt.Printf("OK    %s\n", name)
	}

	report("ffmpeg", services.NewFFmpegService(cfg.FFmpegPath, cfg.ToolTimeout, logger).CheckAvailable(ctx))

	client, err := connectRedis(ctx, cfg)
	if err == nil {
		client.Close()
	}
	report("redis", err)

	db, err := services.NewDatabaseService(cfg.DatabaseURL)
	if err == nil {
		db.Close()
	}
	report("database", err)

	report("config", cfg.Validate())

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}
