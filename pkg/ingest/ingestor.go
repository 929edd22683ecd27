package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventlake/eventlake/pkg/model"
)

// Config carries the per-run knobs of the orchestrator.
type Config struct {
	BatchSize       int
	FinalizeTimeout time.Duration
	// ArchiveDir, when set, receives files whose run fully succeeded.
	// Partial and failed files stay put so a re-run can rely on idempotence.
	ArchiveDir string
}

// Ingestor sequences one run per file: lock, open run, extract, validate,
// load, finalize. Workers share no in-memory state; correctness across
// processes is anchored in the store's event_id uniqueness constraint.
type Ingestor struct {
	events EventWriter
	runs   RunStore
	locker FileLocker
	cfg    Config
	log    *zap.Logger
}

func NewIngestor(events EventWriter, runs RunStore, locker FileLocker, cfg Config, log *zap.Logger) *Ingestor {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 5 * time.Second
	}
	return &Ingestor{
		events: events,
		runs:   runs,
		locker: locker,
		cfg:    cfg,
		log:    log,
	}
}

// fileRun is the mutable state of one run, shared with the deferred
// finalizer so that a panic still reports the counts accumulated so far.
type fileRun struct {
	reader  *BatchReader
	loader  *Loader
	invalid int
}

func (fr *fileRun) counts() (rows, loaded, deduped int) {
	if fr.reader != nil {
		rows = fr.reader.Rows()
	}
	if fr.loader != nil {
		loaded, deduped = fr.loader.Counts()
	}
	return rows, loaded, deduped
}

// IngestFile processes one batch file end-to-end and returns the terminal
// audit record. The returned error reports infrastructure failures; a run
// that completed with invalid rows returns status partial and a nil error.
func (i *Ingestor) IngestFile(ctx context.Context, path string) (run model.IngestionRun, err error) {
	fileName := filepath.Base(path)

	release, lockErr := i.locker.Acquire(ctx, fileName)
	if lockErr != nil {
		return model.IngestionRun{}, fmt.Errorf("lock %s: %w", fileName, lockErr)
	}
	defer release()

	tracker, openErr := OpenRun(ctx, i.runs, fileName, i.cfg.FinalizeTimeout, i.log)
	if openErr != nil {
		return model.IngestionRun{}, fmt.Errorf("open ingestion run for %s: %w", fileName, openErr)
	}

	fr := &fileRun{}

	// Safety net: runs on every exit path, including panics. A no-op when
	// the run was already finalized below.
	defer func() {
		rows, loaded, deduped := fr.counts()
		tracker.Finalize(model.RunFailed, rows, loaded, deduped, "run aborted before completion")
		run = tracker.Run()
	}()

	status, errMsg, procErr := i.process(ctx, fr, path)
	rows, loaded, deduped := fr.counts()
	tracker.Finalize(status, rows, loaded, deduped, errMsg)
	run = tracker.Run()
	err = procErr

	if run.Status == model.RunSucceeded && i.cfg.ArchiveDir != "" {
		i.archive(path, fileName)
	}
	return run, err
}

func (i *Ingestor) process(ctx context.Context, fr *fileRun, path string) (model.RunStatus, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.RunFailed, fmt.Sprintf("open batch source: %v", err), fmt.Errorf("open batch source: %w", err)
	}
	defer f.Close()

	fr.reader = NewBatchReader(f)
	fr.loader = NewLoader(i.events, i.cfg.BatchSize, i.log)

	var sourceErr, persistErr error
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			persistErr = ctxErr
			break
		}

		cand, nextErr := fr.reader.Next()
		if nextErr == io.EOF {
			break
		}
		if nextErr != nil {
			sourceErr = nextErr
			break
		}

		if cand.Err != nil {
			fr.invalid++
			i.log.Warn("skipping malformed row",
				zap.String("file_name", filepath.Base(path)),
				zap.Error(cand.Err))
			continue
		}

		event, valErr := cand.Record.Validate(cand.Line)
		if valErr != nil {
			fr.invalid++
			i.log.Warn("skipping invalid row",
				zap.String("file_name", filepath.Base(path)),
				zap.Error(valErr))
			continue
		}

		if addErr := fr.loader.Add(ctx, event); addErr != nil {
			persistErr = addErr
			break
		}
	}

	if sourceErr == nil && persistErr == nil {
		if flushErr := fr.loader.Flush(ctx); flushErr != nil {
			persistErr = flushErr
		}
	}

	rows, loaded, deduped := fr.counts()

	switch {
	case sourceErr != nil:
		return degradedStatus(loaded, deduped), sourceErr.Error(), sourceErr
	case persistErr != nil:
		return degradedStatus(loaded, deduped), persistErr.Error(), persistErr
	case fr.invalid > 0:
		return model.RunPartial, fmt.Sprintf("%d of %d rows failed validation", fr.invalid, rows), nil
	default:
		return model.RunSucceeded, "", nil
	}
}

// degradedStatus distinguishes a run that had committed progress before the
// failure from one that had none.
func degradedStatus(loaded, deduped int) model.RunStatus {
	if loaded+deduped > 0 {
		return model.RunPartial
	}
	return model.RunFailed
}

func (i *Ingestor) archive(path, fileName string) {
	if err := os.MkdirAll(i.cfg.ArchiveDir, 0o755); err != nil {
		i.log.Warn("failed to create archive dir", zap.Error(err))
		return
	}
	dest := filepath.Join(i.cfg.ArchiveDir, fileName)
	if err := os.Rename(path, dest); err != nil {
		i.log.Warn("failed to archive batch file",
			zap.String("file_name", fileName),
			zap.Error(err))
		return
	}
	i.log.Info("batch file archived",
		zap.String("file_name", fileName),
		zap.String("dest", dest))
}

// Result pairs one input path with its terminal run record.
type Result struct {
	Path string
	Run  model.IngestionRun
	Err  error
}

// IngestAll fans the given files out over a bounded worker pool, one file per
// worker end-to-end. Results are returned in completion order.
func (i *Ingestor) IngestAll(ctx context.Context, paths []string, workers int) []Result {
	if workers < 1 {
		workers = 1
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	pathCh := make(chan string)
	results := make([]Result, 0, len(paths))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range pathCh {
				run, err := i.IngestFile(ctx, path)
				mu.Lock()
				results = append(results, Result{Path: path, Run: run, Err: err})
				mu.Unlock()
			}
		}()
	}

	for _, path := range paths {
		pathCh <- path
	}
	close(pathCh)
	wg.Wait()

	return results
}
