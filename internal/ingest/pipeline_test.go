package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
	"github.com/roman-kulish/sensor-ingest/internal/storage"
)

// fakeStore implements storage.Store with scripted failures.
type fakeStore struct {
	mu sync.Mutex

	commitErrs    []error // consumed one per CommitFile call, then success
	aggregateErr  error
	commitCalls   int
	aggCalls      int
	committedRows int
	aggregates    []sensor.Aggregate
}

func (s *fakeStore) CommitFile(_ context.Context, fileName string, _ time.Time, records []*sensor.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commitCalls++
	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		if err != nil {
			return 0, fmt.Errorf("file %q: %w", fileName, err)
		}
	}
	s.committedRows += len(records)
	return 1, nil
}

func (s *fakeStore) StoreAggregates(_ context.Context, _ int64, aggregates []sensor.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggCalls++
	if s.aggregateErr != nil {
		return s.aggregateErr
	}
	s.aggregates = append(s.aggregates, aggregates...)
	return nil
}

func (s *fakeStore) File(context.Context, string) (*storage.FileRecord, error) { return nil, nil }
func (s *fakeStore) Files(context.Context) ([]*storage.FileRecord, error)     { return nil, nil }
func (s *fakeStore) Close() error                                             { return nil }

type pipelineEnv struct {
	pipeline   *Pipeline
	store      *fakeStore
	dropDir    string
	archiveDir string
	invalidDir string
	corruptDir string
}

func newPipelineEnv(t *testing.T, store *fakeStore, maxAttempts int) *pipelineEnv {
	t.Helper()

	dir := t.TempDir()
	env := pipelineEnv{
		store:      store,
		dropDir:    filepath.Join(dir, "drop"),
		archiveDir: filepath.Join(dir, "archive"),
		invalidDir: filepath.Join(dir, "invalid"),
		corruptDir: filepath.Join(dir, "corrupt"),
	}
	if err := os.MkdirAll(env.dropDir, 0o755); err != nil {
		t.Fatalf("Failed to create drop directory: %v", err)
	}

	quarantine, err := NewQuarantine(env.invalidDir, env.corruptDir)
	if err != nil {
		t.Fatalf("Failed to create quarantine: %v", err)
	}
	archive, err := NewArchive(env.archiveDir)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}

	retrier := NewRetrier(maxAttempts, time.Millisecond, 5*time.Millisecond)
	env.pipeline = NewPipeline(
		NewProcessor(sensor.NewValidator(sensor.Rules{})),
		store, retrier, quarantine, archive,
		WithWorkers(2))
	return &env
}

func (env *pipelineEnv) drop(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(env.dropDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write drop file: %v", err)
	}
	return path
}

func (env *pipelineEnv) run(t *testing.T, paths ...string) {
	t.Helper()

	files := make(chan string, len(paths))
	for _, path := range paths {
		files <- path
	}
	close(files)

	if err := env.pipeline.Run(context.Background(), files); err != nil {
		t.Fatalf("Pipeline run failed: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

const validFile = `ts,device,temp,humidity
2024-07-12T03:00:00Z,dev-1,22.5,51.0
2024-07-12T03:00:05Z,dev-1,23.0,50.5
2024-07-12T03:00:10Z,dev-2,21.0,49.0
`

func TestPipeline_ValidFileIsStoredAndArchived(t *testing.T) {
	store := &fakeStore{}
	env := newPipelineEnv(t, store, 3)

	path := env.drop(t, "readings.csv", validFile)
	env.run(t, path)

	if store.commitCalls != 1 {
		t.Errorf("Expected 1 commit, got %d", store.commitCalls)
	}
	if store.committedRows != 3 {
		t.Errorf("Expected 3 committed rows, got %d", store.committedRows)
	}
	if len(store.aggregates) == 0 {
		t.Error("Expected aggregates to be stored")
	}
	if !exists(filepath.Join(env.archiveDir, "readings.csv")) {
		t.Error("Expected file in archive")
	}
	if exists(path) {
		t.Error("Expected file to leave the drop directory")
	}

	stats := env.pipeline.Stats()
	if stats.Archived != 1 || stats.Quarantined != 0 {
		t.Errorf("Expected 1 archived and 0 quarantined, got %+v", stats)
	}
}

func TestPipeline_ZeroValidRowsNeverReachesStorage(t *testing.T) {
	store := &fakeStore{}
	env := newPipelineEnv(t, store, 3)

	path := env.drop(t, "allbad.csv", "ts,device,temp\nbad,dev-1,1\nworse,dev-2,2\n")
	env.run(t, path)

	if store.commitCalls != 0 {
		t.Errorf("Expected no commits for a file with zero valid rows, got %d", store.commitCalls)
	}
	if !exists(filepath.Join(env.invalidDir, "allbad.csv")) {
		t.Error("Expected file in invalid quarantine area")
	}

	stats := env.pipeline.Stats()
	if stats.Quarantined != 1 {
		t.Errorf("Expected 1 quarantined, got %+v", stats)
	}
}

func TestPipeline_CorruptFileIsQuarantined(t *testing.T) {
	store := &fakeStore{}
	env := newPipelineEnv(t, store, 3)

	path := env.drop(t, "corrupt.csv", "device,temp\ndev-1,22.5\n") // no ts column
	env.run(t, path)

	if store.commitCalls != 0 {
		t.Errorf("Expected no commits for a corrupt file, got %d", store.commitCalls)
	}
	if !exists(filepath.Join(env.corruptDir, "corrupt.csv")) {
		t.Error("Expected file in corrupt quarantine area")
	}
	if !exists(filepath.Join(env.corruptDir, "corrupt.csv.manifest.json")) {
		t.Error("Expected manifest next to quarantined file")
	}
}

func TestPipeline_PartialFileRowsQuarantinedFileArchived(t *testing.T) {
	store := &fakeStore{}
	env := newPipelineEnv(t, store, 3)

	content := validFile + "broken-timestamp,dev-3,20.0,40.0\n"
	path := env.drop(t, "partial.csv", content)
	env.run(t, path)

	if store.committedRows != 3 {
		t.Errorf("Expected 3 committed rows, got %d", store.committedRows)
	}
	if !exists(filepath.Join(env.archiveDir, "partial.csv")) {
		t.Error("Expected partially valid file in archive")
	}
	if !exists(filepath.Join(env.invalidDir, "invalid_partial.csv")) {
		t.Error("Expected rejected rows file in invalid area")
	}
}

func TestPipeline_TransientFailureIsRetried(t *testing.T) {
	store := &fakeStore{
		commitErrs: []error{context.DeadlineExceeded, context.DeadlineExceeded, nil},
	}
	env := newPipelineEnv(t, store, 5)

	path := env.drop(t, "flaky.csv", validFile)
	env.run(t, path)

	if store.commitCalls != 3 {
		t.Errorf("Expected 3 commit attempts, got %d", store.commitCalls)
	}
	if !exists(filepath.Join(env.archiveDir, "flaky.csv")) {
		t.Error("Expected file in archive after retry recovery")
	}
}

func TestPipeline_TransientExhaustionQuarantines(t *testing.T) {
	store := &fakeStore{
		commitErrs: []error{
			context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded,
		},
	}
	env := newPipelineEnv(t, store, 3)

	path := env.drop(t, "stuck.csv", validFile)
	env.run(t, path)

	if store.commitCalls != 3 {
		t.Errorf("Expected exactly 3 commit attempts, got %d", store.commitCalls)
	}
	if !exists(filepath.Join(env.invalidDir, "stuck.csv")) {
		t.Error("Expected exhausted file in invalid quarantine area")
	}
	if store.aggCalls != 0 {
		t.Errorf("Expected no aggregate writes after storage failure, got %d", store.aggCalls)
	}

	stats := env.pipeline.Stats()
	if stats.Archived != 0 || stats.Quarantined != 1 {
		t.Errorf("Expected 0 archived and 1 quarantined, got %+v", stats)
	}
}

func TestPipeline_PermanentFailureIsNotRetried(t *testing.T) {
	store := &fakeStore{
		commitErrs: []error{errors.New("constraint violation")},
	}
	env := newPipelineEnv(t, store, 5)

	path := env.drop(t, "doomed.csv", validFile)
	env.run(t, path)

	if store.commitCalls != 1 {
		t.Errorf("Expected 1 commit attempt for a permanent failure, got %d", store.commitCalls)
	}
	if !exists(filepath.Join(env.invalidDir, "doomed.csv")) {
		t.Error("Expected file in invalid quarantine area")
	}
}

func TestPipeline_DuplicateFileIsArchived(t *testing.T) {
	store := &fakeStore{
		commitErrs: []error{storage.ErrAlreadyProcessed},
	}
	env := newPipelineEnv(t, store, 3)

	path := env.drop(t, "again.csv", validFile)
	env.run(t, path)

	if store.commitCalls != 1 {
		t.Errorf("Expected 1 commit attempt, got %d", store.commitCalls)
	}
	if store.aggCalls != 0 {
		t.Errorf("Expected no aggregate writes for a duplicate, got %d", store.aggCalls)
	}
	if !exists(filepath.Join(env.archiveDir, "again.csv")) {
		t.Error("Expected duplicate file in archive")
	}

	stats := env.pipeline.Stats()
	if stats.Archived != 1 || stats.Quarantined != 0 {
		t.Errorf("Expected duplicate to count as archived, got %+v", stats)
	}
}

func TestPipeline_AggregateFailureKeepsFileArchived(t *testing.T) {
	store := &fakeStore{aggregateErr: errors.New("disk full")}
	env := newPipelineEnv(t, store, 3)

	path := env.drop(t, "aggfail.csv", validFile)
	env.run(t, path)

	if store.commitCalls != 1 {
		t.Errorf("Expected 1 commit, got %d", store.commitCalls)
	}
	if !exists(filepath.Join(env.archiveDir, "aggfail.csv")) {
		t.Error("Expected file in archive despite aggregate failure")
	}

	stats := env.pipeline.Stats()
	if stats.Archived != 1 {
		t.Errorf("Expected aggregate failure to stay archived, got %+v", stats)
	}
}

func TestPipeline_ShutdownLeavesFileInDropDirectory(t *testing.T) {
	store := &fakeStore{commitErrs: []error{context.Canceled}}
	env := newPipelineEnv(t, store, 3)

	path := env.drop(t, "healthy.csv", validFile)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.pipeline.processFile(ctx, path)

	if !exists(path) {
		t.Error("Expected interrupted file to stay in the drop directory")
	}
	if exists(filepath.Join(env.invalidDir, "healthy.csv")) {
		t.Error("Expected interrupted file not to be quarantined")
	}
	if exists(filepath.Join(env.archiveDir, "healthy.csv")) {
		t.Error("Expected interrupted file not to be archived")
	}

	stats := env.pipeline.Stats()
	if stats.Archived != 0 || stats.Quarantined != 0 {
		t.Errorf("Expected no terminal state for an interrupted file, got %+v", stats)
	}
}

func TestPipeline_CancelledStoreErrorIsNotTerminal(t *testing.T) {
	store := &fakeStore{commitErrs: []error{context.Canceled}}
	env := newPipelineEnv(t, store, 3)

	path := env.drop(t, "healthy.csv", validFile)

	// The store notices the cancellation before the pipeline does.
	env.pipeline.processFile(context.Background(), path)

	if !exists(path) {
		t.Error("Expected interrupted file to stay in the drop directory")
	}
	if store.aggCalls != 0 {
		t.Errorf("Expected no aggregate writes after an interrupted commit, got %d", store.aggCalls)
	}

	stats := env.pipeline.Stats()
	if stats.Archived != 0 || stats.Quarantined != 0 {
		t.Errorf("Expected no terminal state for an interrupted file, got %+v", stats)
	}
}

func TestPipeline_MultipleFiles(t *testing.T) {
	store := &fakeStore{}
	env := newPipelineEnv(t, store, 3)

	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, env.drop(t, fmt.Sprintf("file-%d.csv", i), validFile))
	}
	paths = append(paths, env.drop(t, "allbad.csv", "ts,device,temp\nbad,dev-1,1\n"))
	env.run(t, paths...)

	stats := env.pipeline.Stats()
	if stats.Archived != 5 {
		t.Errorf("Expected 5 archived files, got %d", stats.Archived)
	}
	if stats.Quarantined != 1 {
		t.Errorf("Expected 1 quarantined file, got %d", stats.Quarantined)
	}
	if store.committedRows != 15 {
		t.Errorf("Expected 15 committed rows, got %d", store.committedRows)
	}
}
