// main package for the story-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-service/internal/app"
	"github.com/book-expert/story-service/internal/config"
	"github.com/book-expert/story-service/internal/objectstore"
	"github.com/book-expert/story-service/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "story-service-bootstrap.log"
	serviceLogFile   = "story-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.EnsureDirectories()
	if err != nil {
		bootstrapLog.Error("Failed to create directories: %v", err)

		return fmt.Errorf("failed to create directories: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	creds, err := app.LoadCredentials(cfg)
	if err != nil {
		finalLog.Error("Failed to read .env file: %v", err)

		return fmt.Errorf("failed to load credentials: %w", err)
	}

	creds.WarnMissing(cfg, finalLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, creds, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, creds app.Credentials, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	images, err := objectstore.New(jetstreamContext, cfg.NATS.ImageObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open image bucket: %w", err)
	}

	audio, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open audio bucket: %w", err)
	}

	artifacts, err := objectstore.NewArtifactStore(audio, cfg.NATS.AudioKey)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	runner := app.NewPipeline(app.NewStages(cfg, creds, log), artifacts, log)

	storyWorker, err := worker.NewNatsWorker(natsConnection, worker.Options{
		Subject:          cfg.NATS.StoryRequestedSubject,
		CompletedSubject: cfg.NATS.StoryCompletedSubject,
	}, images, runner, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("Story-Service successfully initialized. Listening for jobs on subject: %s",
		cfg.NATS.StoryRequestedSubject)

	err = storyWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.System("Story-Service shut down.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
