package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil && cErr != sql.ErrTxDone {
		*err = cErr
	}
}

func toReadingData(fileID int64, fileName string, ingestedAt time.Time, r *sensor.Record) *readingData {
	return &readingData{
		FileName:  fileName,
		Timestamp: r.Timestamp.UTC(),
		Device:    r.DeviceID,

		Temp: sql.NullFloat64{
			Float64: toSQLNullType[float64](r.Temp),
			Valid:   r.Temp != nil,
		},
		Humidity: sql.NullFloat64{
			Float64: toSQLNullType[float64](r.Humidity),
			Valid:   r.Humidity != nil,
		},
		CO: sql.NullFloat64{
			Float64: toSQLNullType[float64](r.CO),
			Valid:   r.CO != nil,
		},
		LPG: sql.NullFloat64{
			Float64: toSQLNullType[float64](r.LPG),
			Valid:   r.LPG != nil,
		},
		Smoke: sql.NullFloat64{
			Float64: toSQLNullType[float64](r.Smoke),
			Valid:   r.Smoke != nil,
		},
		Motion: sql.NullBool{
			Bool:  r.Motion != nil && *r.Motion,
			Valid: r.Motion != nil,
		},
		Light: sql.NullBool{
			Bool:  r.Light != nil && *r.Light,
			Valid: r.Light != nil,
		},

		IngestedAt: ingestedAt.UTC(),
		FileID:     fileID,
	}
}

func toSQLNullType[T float64 | int64, Y float64 | int | int64](f *Y) T {
	if f == nil {
		return 0
	}
	return T(*f)
}
