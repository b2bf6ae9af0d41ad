package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roman-kulish/sensor-ingest/internal/sensor"
)

// Store provides an interface for managing sensor ingestion data storage
// operations. It handles file metadata, raw readings and per-file aggregate
// metrics. All operations that write to the database should be considered
// atomic: a failed commit never leaves a partial row set visible.
type Store interface {
	// CommitFile persists a file's metadata and all of its accepted
	// readings as a single transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - fileName: Unique name of the ingested file
	//   - uploadedAt: Time the file was discovered
	//   - records: Validated readings, in file order
	//
	// Returns:
	//   - fileID: Identifier of the created file record
	//   - error: ErrAlreadyProcessed if fileName was committed before,
	//     otherwise a transient or permanent storage error
	CommitFile(ctx context.Context, fileName string, uploadedAt time.Time, records []*sensor.Record) (fileID int64, err error)

	// StoreAggregates writes one aggregated_metrics row per entry in a
	// single transaction: either all of a file's aggregates exist or none
	// do. It must only be called after CommitFile succeeded for fileID.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - fileID: Identifier returned by CommitFile
	//   - aggregates: Per device and sensor type statistics
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	StoreAggregates(ctx context.Context, fileID int64, aggregates []sensor.Aggregate) error

	// File retrieves a file record by its unique name.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - fileName: Unique name of the ingested file
	//
	// Returns:
	//   - file: Pointer to file metadata, nil if not found
	//   - error: If retrieval fails or context is cancelled
	File(ctx context.Context, fileName string) (file *FileRecord, err error)

	// Files returns all file records ordered by upload time.
	Files(ctx context.Context) (files []*FileRecord, err error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}
