package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
)

// insertBatchSize bounds the number of readings per multi-row INSERT so the
// statement stays under the engine's bind variable limit (12 columns each).
const insertBatchSize = 80

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a new database connection and initializes the schema
// using the Sqlite database
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CommitFile(ctx context.Context, fileName string, uploadedAt time.Time, records []*sensor.Record) (fileID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	result, err := tx.ExecContext(ctx, insertFileSQL, fileName, uploadedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("inserting file record: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting affected rows: %w", err)
	}
	if inserted == 0 {
		// The unique file_name already exists: the rows from an earlier run
		// are durable and must not be duplicated or replaced.
		return 0, fmt.Errorf("file %q: %w", fileName, ErrAlreadyProcessed)
	}

	if fileID, err = result.LastInsertId(); err != nil {
		return 0, fmt.Errorf("getting file ID: %w", err)
	}

	ingestedAt := time.Now().UTC()
	for chunk := range slices.Chunk(records, insertBatchSize) {
		if err = insertReadings(ctx, tx, fileID, fileName, ingestedAt, chunk); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return fileID, nil
}

func insertReadings(ctx context.Context, tx *sql.Tx, fileID int64, fileName string, ingestedAt time.Time, records []*sensor.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Build batch insert query
	valuesPlaceholder := "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	values := make([]interface{}, 0, len(records)*12)

	var sb strings.Builder

	sb.WriteString(insertReadingSQL)

	for i, record := range records {
		data := toReadingData(fileID, fileName, ingestedAt, record)
		values = append(values,
			data.FileName,
			data.Timestamp,
			data.Device,
			data.Temp,
			data.Humidity,
			data.CO,
			data.LPG,
			data.Smoke,
			data.Motion,
			data.Light,
			data.IngestedAt,
			data.FileID,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting readings: %w", err)
	}
	return nil
}

func (s *SqliteStore) StoreAggregates(ctx context.Context, fileID int64, aggregates []sensor.Aggregate) (err error) {
	if len(aggregates) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertAggregateSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	processedAt := time.Now().UTC()
	for _, a := range aggregates {
		_, err = stmt.ExecContext(
			ctx,
			fileID,
			a.DeviceID,
			string(a.Sensor),
			a.Min,
			a.Max,
			a.Mean,
			a.StdDev,
			processedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting aggregate: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) File(ctx context.Context, fileName string) (file *FileRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectFileSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var rec FileRecord
	if err = stmt.QueryRowContext(ctx, fileName).Scan(&rec.ID, &rec.FileName, &rec.UploadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			return
		}
		err = fmt.Errorf("scanning file record: %w", err)
		return
	}

	return &rec, nil
}

func (s *SqliteStore) Files(ctx context.Context) (files []*FileRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectFilesSQL)
	if err != nil {
		err = fmt.Errorf("querying file records: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var rec FileRecord
		if err = rows.Scan(&rec.ID, &rec.FileName, &rec.UploadedAt); err != nil {
			err = fmt.Errorf("scanning file record: %w", err)
			return
		}
		files = append(files, &rec)
	}
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}
