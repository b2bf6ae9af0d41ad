package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
)

// ReadingPoint is a single stored measurement of one sensor type, as seen by
// analytics consumers. Value is nil when the device did not report the
// sensor in that reading.
type ReadingPoint struct {
	Device    string
	Timestamp time.Time
	Value     *float64
}

// ReaderOption configures a ReadingReader with filtering criteria.
type ReaderOption func(*ReadingReader)

// WithStartTime sets the start time filter for the reading reader.
// Readings with timestamps before this time will be excluded.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *ReadingReader) {
		r.startTime = &t
	}
}

// WithEndTime sets the end time filter for the reading reader.
// Readings with timestamps after this time will be excluded.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *ReadingReader) {
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *ReadingReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

// ReadReadings creates a ReadingReader that iterates over all stored
// readings of one sensor type, ordered by device and timestamp. The
// returned reader must be closed after use to release database resources.
// Each reader instance should only be used from a single goroutine.
func (s *SqliteStore) ReadReadings(ctx context.Context, sensorType sensor.Type, opts ...ReaderOption) (*ReadingReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	r := &ReadingReader{sensorType: sensorType}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.init(ctx, db); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return r, nil
}

// ReadingReader iterates over stored readings of a single sensor type.
type ReadingReader struct {
	sensorType sensor.Type

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	rows    *sql.Rows
	current ReadingPoint
	err     error
}

func (r *ReadingReader) init(ctx context.Context, db *sql.DB) (err error) {
	if r.startTime == nil {
		r.startTime = &time.Time{}
	}
	if r.endTime == nil {
		future := time.Now().UTC().Add(24 * time.Hour)
		r.endTime = &future
	}
	if r.startTime.After(*r.endTime) {
		return fmt.Errorf("start time %s is after end time %s", r.startTime, r.endTime)
	}

	stmt, err := db.PrepareContext(ctx, selectReadingsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if r.rows, err = stmt.QueryContext(ctx, r.startTime.UTC(), r.endTime.UTC()); err != nil {
		return fmt.Errorf("querying readings: %w", err)
	}
	return nil
}

// Next advances the iterator and returns true if there is another reading.
func (r *ReadingReader) Next() bool {
	if r.err != nil || r.rows == nil {
		return false
	}
	if !r.rows.Next() {
		return false
	}

	var data readingData
	if err := r.rows.Scan(&data.Timestamp, &data.Device, &data.Temp, &data.Humidity, &data.CO, &data.LPG, &data.Smoke); err != nil {
		r.err = fmt.Errorf("scanning reading: %w", err)
		return false
	}

	var value sql.NullFloat64
	switch r.sensorType {
	case sensor.Temperature:
		value = data.Temp
	case sensor.Humidity:
		value = data.Humidity
	case sensor.CO:
		value = data.CO
	case sensor.LPG:
		value = data.LPG
	case sensor.Smoke:
		value = data.Smoke
	}

	r.current = ReadingPoint{
		Device:    data.Device,
		Timestamp: data.Timestamp,
	}
	if value.Valid {
		r.current.Value = &value.Float64
	}
	return true
}

// Current returns the current reading in the iteration.
func (r *ReadingReader) Current() ReadingPoint {
	return r.current
}

// Error returns any error that occurred during iteration.
func (r *ReadingReader) Error() error {
	if r.err != nil {
		return r.err
	}
	if r.rows != nil {
		return r.rows.Err()
	}
	return nil
}

// Close releases the database resources held by the reader.
func (r *ReadingReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		return err
	}
	return nil
}
