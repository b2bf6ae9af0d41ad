package storage

import (
	"context"
	"errors"

	"github.com/mattn/go-sqlite3"
)

// ErrAlreadyProcessed is returned by CommitFile when a file with the same
// name has been committed before. The caller must not treat this as a
// storage failure: the file's rows are already durable.
var ErrAlreadyProcessed = errors.New("file already processed")

// IsTransient reports whether a storage error is expected to resolve on
// retry: lock contention, busy database or a per-attempt timeout. Constraint
// violations and malformed statements are permanent and must surface
// immediately.
func IsTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return errors.Is(err, context.DeadlineExceeded)
}
