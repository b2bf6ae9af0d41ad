package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Manifest accompanies every quarantined file and records why it ended up
// there. It is written next to the quarantined payload as <name>.manifest.json.
type Manifest struct {
	ID            string        `json:"id"`
	FileName      string        `json:"file_name"`
	QuarantinedAt time.Time     `json:"quarantined_at"`
	Cause         string        `json:"cause"`
	Error         string        `json:"error,omitempty"`
	Rejections    []RejectedRow `json:"rejections,omitempty"`
}

// Quarantine manages the two terminal holding areas: one for files with
// row-level validation failures and one for structurally corrupt files.
// Both receive the original payload plus a manifest of rejection reasons.
type Quarantine struct {
	invalidDir string
	corruptDir string
}

// NewQuarantine creates the quarantine areas, creating the directories if
// they do not exist.
func NewQuarantine(invalidDir, corruptDir string) (*Quarantine, error) {
	for _, dir := range []string{invalidDir, corruptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating quarantine directory: %w", err)
		}
	}
	return &Quarantine{invalidDir: invalidDir, corruptDir: corruptDir}, nil
}

// Corrupt moves a structurally unreadable file into the corrupt area and
// writes a manifest recording the structural error.
func (q *Quarantine) Corrupt(path string, cause error) error {
	name := filepath.Base(path)
	if err := moveFile(path, filepath.Join(q.corruptDir, name)); err != nil {
		return fmt.Errorf("moving corrupt file: %w", err)
	}
	return q.writeManifest(q.corruptDir, Manifest{
		FileName: name,
		Cause:    "corrupt",
		Error:    cause.Error(),
	})
}

// File moves a whole file into the invalid area, together with a manifest
// listing its rejections and, when storeErr is non-nil, the storage failure
// that made the file terminal.
func (q *Quarantine) File(path string, result *FileResult, storeErr error) error {
	name := filepath.Base(path)
	if err := moveFile(path, filepath.Join(q.invalidDir, name)); err != nil {
		return fmt.Errorf("moving invalid file: %w", err)
	}

	m := Manifest{
		FileName:   name,
		Cause:      "invalid rows",
		Rejections: result.Rejected,
	}
	if storeErr != nil {
		m.Cause = "storage failure"
		m.Error = storeErr.Error()
	}
	return q.writeManifest(q.invalidDir, m)
}

// Rows writes the rejected rows of a partially valid file into the invalid
// area as invalid_<name> (header plus original raw rows) with a manifest.
// The source file is left in place: partial validity is not file failure.
func (q *Quarantine) Rows(result *FileResult) (err error) {
	if len(result.Rejected) == 0 {
		return nil
	}

	name := "invalid_" + result.FileName
	f, err := os.Create(filepath.Join(q.invalidDir, name))
	if err != nil {
		return fmt.Errorf("creating rejected rows file: %w", err)
	}
	defer closeWithError(f, &err)

	w := csv.NewWriter(f)
	if err = w.Write(result.Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, row := range result.Rejected {
		if len(row.Raw) == 0 {
			continue // unparseable rows carry no fields
		}
		if err = w.Write(row.Raw); err != nil {
			return fmt.Errorf("writing rejected row: %w", err)
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return fmt.Errorf("flushing rejected rows: %w", err)
	}

	return q.writeManifest(q.invalidDir, Manifest{
		FileName:   name,
		Cause:      "invalid rows",
		Rejections: result.Rejected,
	})
}

func (q *Quarantine) writeManifest(dir string, m Manifest) error {
	m.ID = uuid.NewString()
	m.QuarantinedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err = os.WriteFile(filepath.Join(dir, m.FileName+".manifest.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Archive is the terminal area for successfully processed files.
type Archive struct {
	dir string
}

// NewArchive creates the archive area, creating the directory if it does
// not exist.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Store moves a processed file out of the drop directory into the archive.
func (a *Archive) Store(path string) error {
	if err := moveFile(path, filepath.Join(a.dir, filepath.Base(path))); err != nil {
		return fmt.Errorf("archiving file: %w", err)
	}
	return nil
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// moveFile renames src to dst, falling back to copy and remove when the
// destination is on a different filesystem.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
