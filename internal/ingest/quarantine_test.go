package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestQuarantine(t *testing.T) (*Quarantine, string, string) {
	t.Helper()

	dir := t.TempDir()
	invalidDir := filepath.Join(dir, "invalid")
	corruptDir := filepath.Join(dir, "corrupt")
	q, err := NewQuarantine(invalidDir, corruptDir)
	if err != nil {
		t.Fatalf("Failed to create quarantine: %v", err)
	}
	return q, invalidDir, corruptDir
}

func readManifest(t *testing.T, path string) Manifest {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to parse manifest: %v", err)
	}
	return m
}

func TestQuarantine_Corrupt(t *testing.T) {
	q, _, corruptDir := newTestQuarantine(t)

	src := writeFile(t, "broken.csv", "not,a,valid\xff\xfe\n")
	if err := q.Corrupt(src, errors.New("header is not valid UTF-8")); err != nil {
		t.Fatalf("Failed to quarantine corrupt file: %v", err)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Expected source file to be moved out of the drop directory")
	}
	if _, err := os.Stat(filepath.Join(corruptDir, "broken.csv")); err != nil {
		t.Errorf("Expected quarantined file in corrupt area: %v", err)
	}

	m := readManifest(t, filepath.Join(corruptDir, "broken.csv.manifest.json"))
	if m.Cause != "corrupt" {
		t.Errorf("Expected cause corrupt, got %s", m.Cause)
	}
	if m.Error == "" {
		t.Error("Expected manifest to record the structural error")
	}
	if m.ID == "" || m.QuarantinedAt.IsZero() {
		t.Error("Expected manifest id and timestamp to be set")
	}
}

func TestQuarantine_File(t *testing.T) {
	q, invalidDir, _ := newTestQuarantine(t)

	src := writeFile(t, "rejects.csv", "ts,device,temp\nbad,dev-1,1\n")
	result := &FileResult{
		FileName: "rejects.csv",
		Header:   []string{"ts", "device", "temp"},
		Rejected: []RejectedRow{
			{Index: 1, Raw: []string{"bad", "dev-1", "1"}, Field: "ts", Reason: "INVALID_TIMESTAMP"},
		},
	}
	if err := q.File(src, result, nil); err != nil {
		t.Fatalf("Failed to quarantine file: %v", err)
	}

	if _, err := os.Stat(filepath.Join(invalidDir, "rejects.csv")); err != nil {
		t.Errorf("Expected quarantined file in invalid area: %v", err)
	}

	m := readManifest(t, filepath.Join(invalidDir, "rejects.csv.manifest.json"))
	if m.Cause != "invalid rows" {
		t.Errorf("Expected cause invalid rows, got %s", m.Cause)
	}
	if len(m.Rejections) != 1 || m.Rejections[0].Reason != "INVALID_TIMESTAMP" {
		t.Errorf("Expected rejections in manifest, got %+v", m.Rejections)
	}
}

func TestQuarantine_FileWithStorageFailure(t *testing.T) {
	q, invalidDir, _ := newTestQuarantine(t)

	src := writeFile(t, "stuck.csv", "ts,device,temp\n2024-07-12T03:00:00Z,dev-1,1\n")
	result := &FileResult{FileName: "stuck.csv", Header: []string{"ts", "device", "temp"}}

	if err := q.File(src, result, errors.New("database is locked")); err != nil {
		t.Fatalf("Failed to quarantine file: %v", err)
	}

	m := readManifest(t, filepath.Join(invalidDir, "stuck.csv.manifest.json"))
	if m.Cause != "storage failure" {
		t.Errorf("Expected cause storage failure, got %s", m.Cause)
	}
	if m.Error != "database is locked" {
		t.Errorf("Expected storage error in manifest, got %s", m.Error)
	}
}

func TestQuarantine_RowsLeavesSourceInPlace(t *testing.T) {
	q, invalidDir, _ := newTestQuarantine(t)

	src := writeFile(t, "partial.csv", "ts,device,temp\n2024-07-12T03:00:00Z,dev-1,1\nbad,dev-2,2\n")
	result := &FileResult{
		FileName: "partial.csv",
		Header:   []string{"ts", "device", "temp"},
		Rejected: []RejectedRow{
			{Index: 2, Raw: []string{"bad", "dev-2", "2"}, Field: "ts", Reason: "INVALID_TIMESTAMP"},
			{Index: 3, Field: "row", Reason: "INVALID_TYPE"}, // unparseable, no raw fields
		},
	}
	if err := q.Rows(result); err != nil {
		t.Fatalf("Failed to quarantine rows: %v", err)
	}

	if _, err := os.Stat(src); err != nil {
		t.Errorf("Expected source file to stay in place: %v", err)
	}

	f, err := os.Open(filepath.Join(invalidDir, "invalid_partial.csv"))
	if err != nil {
		t.Fatalf("Expected rejected rows file: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read rejected rows file: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected header plus 1 raw row, got %d rows", len(rows))
	}
	if rows[1][0] != "bad" || rows[1][1] != "dev-2" {
		t.Errorf("Expected raw rejected row, got %v", rows[1])
	}

	m := readManifest(t, filepath.Join(invalidDir, "invalid_partial.csv.manifest.json"))
	if len(m.Rejections) != 2 {
		t.Errorf("Expected 2 rejections in manifest, got %d", len(m.Rejections))
	}
}

func TestQuarantine_RowsNoRejections(t *testing.T) {
	q, invalidDir, _ := newTestQuarantine(t)

	if err := q.Rows(&FileResult{FileName: "clean.csv"}); err != nil {
		t.Fatalf("Expected no-op for clean result, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(invalidDir, "invalid_clean.csv")); !os.IsNotExist(err) {
		t.Error("Expected no rejected rows file for a clean result")
	}
}

func TestArchive_Store(t *testing.T) {
	archiveDir := filepath.Join(t.TempDir(), "archive")
	archive, err := NewArchive(archiveDir)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}

	src := writeFile(t, "done.csv", "ts,device\n2024-07-12T03:00:00Z,dev-1\n")
	if err := archive.Store(src); err != nil {
		t.Fatalf("Failed to archive file: %v", err)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Expected source file to be moved out of the drop directory")
	}
	if _, err := os.Stat(filepath.Join(archiveDir, "done.csv")); err != nil {
		t.Errorf("Expected file in archive: %v", err)
	}
}
