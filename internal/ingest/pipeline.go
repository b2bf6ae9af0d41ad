package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
	"github.com/roman-kulish/sensor-ingest/internal/storage"
)

// FileState tracks a file through the pipeline. Every discovered file ends
// in exactly one of the terminal states StateArchived or StateQuarantined.
type FileState string

const (
	StateDiscovered      FileState = "DISCOVERED"
	StateValidating      FileState = "VALIDATING"
	StateStoring         FileState = "STORING"
	StateStored          FileState = "STORED"
	StateStoreFailed     FileState = "STORE_FAILED"
	StateAggregating     FileState = "AGGREGATING"
	StateAggregated      FileState = "AGGREGATED"
	StateAggregateFailed FileState = "AGGREGATE_FAILED"
	StateArchived        FileState = "ARCHIVED"
	StateQuarantined     FileState = "QUARANTINED"
)

const (
	defaultWorkers        = 4
	defaultAttemptTimeout = 30 * time.Second
)

// Stats is a snapshot of the pipeline's terminal outcome counters.
type Stats struct {
	Archived    int
	Quarantined int
}

// WithWorkers sets the number of workers draining the discovered file queue.
func WithWorkers(workers int) func(*Pipeline) {
	return func(p *Pipeline) {
		if workers > 0 {
			p.workers = workers
		}
	}
}

// WithAttemptTimeout bounds each storage attempt so the retry attempt count
// stays meaningful.
func WithAttemptTimeout(timeout time.Duration) func(*Pipeline) {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.attemptTimeout = timeout
		}
	}
}

// WithLogger sets the logger for pipeline events
func WithLogger(logger *slog.Logger) func(*Pipeline) {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// Pipeline coordinates the ingestion of discovered files: validate, store
// with retry, aggregate, then archive or quarantine. Each file is processed
// end to end by a single worker, so no two workers ever contend on the same
// file name; files are processed in parallel across workers.
type Pipeline struct {
	processor  *Processor
	store      storage.Store
	retrier    Retrier
	quarantine *Quarantine
	archive    *Archive

	workers        int
	attemptTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	inFlight map[string]FileState
	stats    Stats
}

// NewPipeline creates a new Pipeline with a discard logger.
func NewPipeline(processor *Processor, store storage.Store, retrier Retrier, quarantine *Quarantine, archive *Archive, options ...func(*Pipeline)) *Pipeline {
	p := Pipeline{
		processor:      processor,
		store:          store,
		retrier:        retrier,
		quarantine:     quarantine,
		archive:        archive,
		workers:        defaultWorkers,
		attemptTimeout: defaultAttemptTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		inFlight:       make(map[string]FileState),
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Run drains the files channel with a bounded pool of workers until the
// channel is closed or the context is cancelled. It never returns a
// per-file error: the pipeline is the sole authority for quarantine and
// archive decisions, and every discovered file ends in a terminal state.
func (p *Pipeline) Run(ctx context.Context, files <-chan string) error {
	g, ctx := errgroup.WithContext(ctx)

	for range p.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()

				case path, ok := <-files:
					if !ok {
						return nil
					}
					p.processFile(ctx, path)
				}
			}
		})
	}

	return g.Wait()
}

// Stats returns a snapshot of the terminal outcome counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// processFile drives a single file through the state machine. All failures
// end in a terminal state here; nothing propagates to the worker loop.
func (p *Pipeline) processFile(ctx context.Context, path string) {
	name := filepath.Base(path)
	if !p.begin(name) {
		p.logger.Debug("skipping file already in flight", slog.String("file", name))
		return
	}
	defer p.end(name)

	logger := p.logger.With(slog.String("file", name))
	logger.Info("file discovered", slog.String("path", path))

	p.setState(name, StateValidating)
	result, err := p.processor.Process(path)
	if err != nil {
		logger.Error("file is structurally unreadable", slog.String("error", err.Error()))
		p.quarantineCorrupt(name, path, err, logger)
		return
	}

	logger.Info("validation summary",
		slog.Int("accepted", len(result.Accepted)),
		slog.Int("rejected", len(result.Rejected)))

	// A file with zero accepted rows never reaches the storage writer.
	if len(result.Accepted) == 0 {
		p.quarantineFile(name, path, result, nil, logger)
		return
	}

	if len(result.Rejected) > 0 {
		if err := p.quarantine.Rows(result); err != nil {
			logger.Error("failed to quarantine rejected rows", slog.String("error", err.Error()))
		}
	}

	p.setState(name, StateStoring)
	fileID, err := p.commitWithRetry(ctx, result, logger)
	switch {
	case errors.Is(err, storage.ErrAlreadyProcessed):
		// Duplicate delivery: the rows are already durable under this file
		// name, so the file is archived without touching storage again.
		logger.Info("file already processed, skipping storage")
		p.archiveFile(name, path, result, logger)
		return

	case err != nil:
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Shutdown interrupted the commit. The transaction rolled back,
			// so the file stays in the drop directory and the startup scan
			// re-delivers it on the next run. Quarantine is reserved for
			// files that failed, not files we stopped working on.
			logger.Info("storage interrupted by shutdown, leaving file in place")
			return
		}

		p.setState(name, StateStoreFailed)
		logger.Error("storage failed", slog.String("error", err.Error()))
		p.quarantineFile(name, path, result, err, logger)
		return
	}

	p.setState(name, StateStored)
	logger.Info("storage result",
		slog.Int64("fileID", fileID),
		slog.Int("rows", len(result.Accepted)))

	p.setState(name, StateAggregating)
	if err := p.storeAggregates(ctx, fileID, result, logger); err != nil {
		// Raw data durability takes priority over aggregate completeness:
		// a failed aggregate never reverts a stored file. Aggregates remain
		// recomputable from the raw rows.
		p.setState(name, StateAggregateFailed)
		logger.Warn("aggregation failed", slog.Int64("fileID", fileID), slog.String("error", err.Error()))
	} else {
		p.setState(name, StateAggregated)
	}

	p.archiveFile(name, path, result, logger)
}

func (p *Pipeline) commitWithRetry(ctx context.Context, result *FileResult, logger *slog.Logger) (int64, error) {
	uploadedAt := time.Now().UTC()

	var fileID int64
	notify := func(attempt int, lastErr error) {
		logger.Info("storage attempt", slog.Int("attempt", attempt))
	}
	err := p.retrierWithNotify(notify).Do(ctx, storage.IsTransient, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()

		var err error
		fileID, err = p.store.CommitFile(ctx, result.FileName, uploadedAt, result.Accepted)
		return err
	})
	return fileID, err
}

func (p *Pipeline) storeAggregates(ctx context.Context, fileID int64, result *FileResult, logger *slog.Logger) error {
	aggregates := sensor.ComputeAggregates(result.Accepted)
	if len(aggregates) == 0 {
		logger.Info("aggregate result", slog.Int64("fileID", fileID), slog.Int("aggregates", 0))
		return nil
	}

	err := p.retrier.Do(ctx, storage.IsTransient, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()

		return p.store.StoreAggregates(ctx, fileID, aggregates)
	})
	if err != nil {
		return err
	}

	logger.Info("aggregate result", slog.Int64("fileID", fileID), slog.Int("aggregates", len(aggregates)))
	return nil
}

// retrierWithNotify returns a copy of the pipeline's retrier with the given
// per-attempt callback. The copy keeps retry state strictly per operation.
func (p *Pipeline) retrierWithNotify(notify func(attempt int, lastErr error)) Retrier {
	r := p.retrier
	r.notify = notify
	return r
}

func (p *Pipeline) quarantineCorrupt(name, path string, cause error, logger *slog.Logger) {
	if err := p.quarantine.Corrupt(path, cause); err != nil {
		logger.Error("failed to quarantine corrupt file", slog.String("error", err.Error()))
	}
	p.terminal(name, StateQuarantined)
	logger.Warn("file quarantined", slog.String("area", "corrupt"))
}

func (p *Pipeline) quarantineFile(name, path string, result *FileResult, storeErr error, logger *slog.Logger) {
	if err := p.quarantine.File(path, result, storeErr); err != nil {
		logger.Error("failed to quarantine file", slog.String("error", err.Error()))
	}
	p.terminal(name, StateQuarantined)
	logger.Warn("file quarantined",
		slog.String("area", "invalid"),
		slog.Int("rejected", len(result.Rejected)))
}

func (p *Pipeline) archiveFile(name, path string, result *FileResult, logger *slog.Logger) {
	if err := p.archive.Store(path); err != nil {
		logger.Error("failed to archive file", slog.String("error", err.Error()))
	}
	p.terminal(name, StateArchived)
	logger.Info("file archived",
		slog.Int("accepted", len(result.Accepted)),
		slog.Int("rejected", len(result.Rejected)))
}

// begin registers a file as in flight. It returns false when another worker
// is already processing a file with the same name, which absorbs duplicate
// watch notifications delivered concurrently.
func (p *Pipeline) begin(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inFlight[name]; ok {
		return false
	}
	p.inFlight[name] = StateDiscovered
	return true
}

func (p *Pipeline) end(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, name)
}

func (p *Pipeline) setState(name string, state FileState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight[name] = state
}

func (p *Pipeline) terminal(name string, state FileState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inFlight[name] = state
	switch state {
	case StateArchived:
		p.stats.Archived++
	case StateQuarantined:
		p.stats.Quarantined++
	}
}
