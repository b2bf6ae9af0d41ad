package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/sensor-ingest/internal/ingest"
	"github.com/roman-kulish/sensor-ingest/internal/sensor"
	"github.com/roman-kulish/sensor-ingest/internal/storage"
	"github.com/roman-kulish/sensor-ingest/internal/watch"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
	defaultJitter      = 0.2
)

// Run wires the watcher, pipeline and storage together and blocks until the
// context is cancelled or a component fails.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store := storage.NewSqliteStore(config.Storage.DBPath)
	defer store.Close()

	pipeline, err := createPipeline(config, store, logger)
	if err != nil {
		return err
	}

	watcherOptions := []func(*watch.Watcher){watch.WithLogger(logger)}
	if config.Ingest.SettleDelay > 0 {
		watcherOptions = append(watcherOptions, watch.WithSettleDelay(config.Ingest.SettleDelay.Std()))
	}
	watcher, err := watch.NewWatcher(config.Ingest.DropDir, watcherOptions...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	logger.Info("starting ingestion",
		slog.String("dropDir", config.Ingest.DropDir),
		slog.String("dbPath", config.Storage.DBPath))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		return pipeline.Run(ctx, watcher.Files())
	})

	err = g.Wait()

	stats := pipeline.Stats()
	logger.Info("ingestion stopped",
		slog.Int("archived", stats.Archived),
		slog.Int("quarantined", stats.Quarantined))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func createPipeline(config *Config, store storage.Store, logger *slog.Logger) (*ingest.Pipeline, error) {
	rules := sensor.Rules{
		Ranges:      config.Validation.Ranges,
		TimeLayouts: config.Validation.TimeLayouts,
	}
	processor := ingest.NewProcessor(sensor.NewValidator(rules), ingest.WithProcessorLogger(logger))

	quarantine, err := ingest.NewQuarantine(
		dirOrDefault(config.Ingest.InvalidDir, config.Ingest.DropDir, "invalid"),
		dirOrDefault(config.Ingest.CorruptDir, config.Ingest.DropDir, "corrupt"))
	if err != nil {
		return nil, fmt.Errorf("failed to create quarantine: %w", err)
	}

	archive, err := ingest.NewArchive(dirOrDefault(config.Ingest.ArchiveDir, config.Ingest.DropDir, "archive"))
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	retrier := createRetrier(&config.Retry)

	options := []func(*ingest.Pipeline){ingest.WithLogger(logger)}
	if config.Ingest.Workers > 0 {
		options = append(options, ingest.WithWorkers(config.Ingest.Workers))
	}
	if config.Retry.AttemptTimeout > 0 {
		options = append(options, ingest.WithAttemptTimeout(config.Retry.AttemptTimeout.Std()))
	}

	return ingest.NewPipeline(processor, store, retrier, quarantine, archive, options...), nil
}

func createRetrier(config *RetryConfig) ingest.Retrier {
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := config.BaseDelay.Std()
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxDelay := config.MaxDelay.Std()
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	jitter := config.Jitter
	if jitter <= 0 {
		jitter = defaultJitter
	}

	return ingest.NewRetrier(maxAttempts, baseDelay, maxDelay, ingest.WithJitter(jitter))
}

// dirOrDefault returns dir when set, otherwise a subdirectory of the drop
// directory. Subdirectories of the drop directory are never scanned, so
// routed files cannot be rediscovered.
func dirOrDefault(dir, dropDir, name string) string {
	if dir != "" {
		return dir
	}
	return filepath.Join(dropDir, name)
}
