package app

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/sensor-ingest/internal/storage"
)

const targetGridWidth = 1024

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	return renderReadings(ctx, store, config, logger)
}

func renderReadings(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) error {
	var opts []storage.ReaderOption
	var filters []any
	switch {
	case config.MinTimestamp != nil && config.MaxTimestamp != nil:
		opts = append(opts, storage.WithTimeRange(config.MinTimestamp.UTC(), config.MaxTimestamp.UTC()))

		filters = append(filters,
			slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)),
			slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))

	case config.MinTimestamp != nil:
		opts = append(opts, storage.WithStartTime(config.MinTimestamp.UTC()))
		filters = append(filters, slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)))

	case config.MaxTimestamp != nil:
		opts = append(opts, storage.WithEndTime(config.MaxTimestamp.UTC()))
		filters = append(filters, slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))
	}

	filters = append(filters, slog.String("sensor", string(config.Sensor)))
	logger.Info("reader configuration", filters...)

	reader, err := store.ReadReadings(ctx, config.Sensor, opts...)
	if err != nil {
		return err
	}
	defer reader.Close()

	grid := NewHeatGrid(config.Sensor)
	for reader.Next() {
		grid.Update(reader.Current())
	}
	if err = reader.Error(); err != nil {
		return err
	}
	if grid.Count() == 0 {
		return fmt.Errorf("no readings found for sensor %s", config.Sensor)
	}
	grid.Finalize(targetGridWidth)

	bounds := grid.BoundsTracker.Current()
	logger.Info("finished reading data points",
		slog.Group("stats",
			slog.String("readings", humanize.Comma(int64(grid.Count()))),
			slog.Int("devices", len(grid.Devices)),
			slog.String("minTimestamp", grid.TimestampStart.Local().Format(time.DateTime)),
			slog.String("maxTimestamp", grid.TimestampEnd.Local().Format(time.DateTime)),
			slog.String("minValue", fmt.Sprintf("%0.4f", bounds.Min)),
			slog.String("maxValue", fmt.Sprintf("%0.4f", bounds.Max)),
		))

	renderer, err := NewGridRenderer(RenderConfig{
		Location:   config.TimeZone,
		ColorTheme: config.Theme,
		FontFile:   config.FontFile,
		NoLabels:   config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating grid renderer: %w", err)
	}

	logger.Info("rendering heat grid",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("columns", grid.Columns),
			slog.String("step", grid.Step.String()),
		))

	img, err := renderer.Render(grid)
	if err != nil {
		return fmt.Errorf("rendering heat grid: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}
