package storage

import (
	"database/sql"
	"time"
)

// FileRecord represents an ingested file's metadata row. FileName is unique:
// re-processing a file under the same name never creates a second record.
type FileRecord struct {
	ID         int64
	FileName   string
	UploadedAt time.Time
}

type readingData struct {
	ID         int64
	FileName   string
	Timestamp  time.Time
	Device     string
	Temp       sql.NullFloat64
	Humidity   sql.NullFloat64
	CO         sql.NullFloat64
	LPG        sql.NullFloat64
	Smoke      sql.NullFloat64
	Motion     sql.NullBool
	Light      sql.NullBool
	IngestedAt time.Time
	FileID     int64
}
