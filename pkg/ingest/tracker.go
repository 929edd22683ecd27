package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventlake/eventlake/pkg/metrics"
	"github.com/eventlake/eventlake/pkg/model"
)

// RunStore is the audit-ledger contract the tracker depends on.
type RunStore interface {
	Create(ctx context.Context, run *model.IngestionRun) error
	Finish(ctx context.Context, runID uuid.UUID, status model.RunStatus, rowsInFile, rowsLoaded, rowsDeduped int, errMsg string) error
}

// Tracker owns the lifecycle of one ingestion_runs record: created in the
// running state before extraction starts, finalized to exactly one terminal
// state afterwards.
type Tracker struct {
	store           RunStore
	log             *zap.Logger
	finalizeTimeout time.Duration

	run       model.IngestionRun
	finalized bool
}

// OpenRun creates the audit record and returns a tracker bound to it. If the
// record cannot be created there is nothing to audit against and the run must
// not proceed.
func OpenRun(ctx context.Context, store RunStore, fileName string, finalizeTimeout time.Duration, log *zap.Logger) (*Tracker, error) {
	run := model.IngestionRun{
		RunID:     uuid.New(),
		FileName:  fileName,
		StartedAt: time.Now().UTC(),
		Status:    model.RunRunning,
	}
	if err := store.Create(ctx, &run); err != nil {
		return nil, err
	}

	log.Info("ingestion run opened",
		zap.String("run_id", run.RunID.String()),
		zap.String("file_name", fileName))

	return &Tracker{
		store:           store,
		log:             log,
		finalizeTimeout: finalizeTimeout,
		run:             run,
	}, nil
}

// Run returns a snapshot of the audit record.
func (t *Tracker) Run() model.IngestionRun {
	return t.run
}

// Finalize writes the terminal state with the accumulated counts. It uses a
// fresh bounded-time context so the write is attempted even when the worker's
// own context is already cancelled. It runs at most once per tracker; if the
// write fails the record is left in the running state for out-of-band
// reconciliation and is never retried by this process.
func (t *Tracker) Finalize(status model.RunStatus, rowsInFile, rowsLoaded, rowsDeduped int, errMsg string) {
	if t.finalized {
		return
	}
	t.finalized = true

	ctx, cancel := context.WithTimeout(context.Background(), t.finalizeTimeout)
	defer cancel()

	if err := t.store.Finish(ctx, t.run.RunID, status, rowsInFile, rowsLoaded, rowsDeduped, errMsg); err != nil {
		t.log.Error("failed to finalize ingestion run, record left in running state",
			zap.String("run_id", t.run.RunID.String()),
			zap.String("file_name", t.run.FileName),
			zap.Error(err))
		return
	}

	now := time.Now().UTC()
	t.run.Status = status
	t.run.FinishedAt = &now
	t.run.RowsInFile = rowsInFile
	t.run.RowsLoaded = rowsLoaded
	t.run.RowsDeduped = rowsDeduped
	t.run.ErrorMessage = errMsg

	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	metrics.RunDuration.WithLabelValues(string(status)).Observe(now.Sub(t.run.StartedAt).Seconds())
	metrics.RowsTotal.WithLabelValues("loaded").Add(float64(rowsLoaded))
	metrics.RowsTotal.WithLabelValues("deduped").Add(float64(rowsDeduped))
	invalid := rowsInFile - rowsLoaded - rowsDeduped
	if invalid > 0 {
		metrics.RowsTotal.WithLabelValues("invalid").Add(float64(invalid))
	}

	t.log.Info("ingestion run finalized",
		zap.String("run_id", t.run.RunID.String()),
		zap.String("file_name", t.run.FileName),
		zap.String("status", string(status)),
		zap.Int("rows_in_file", rowsInFile),
		zap.Int("rows_loaded", rowsLoaded),
		zap.Int("rows_deduped", rowsDeduped))
}

// Finalized reports whether the terminal write succeeded.
func (t *Tracker) Finalized() bool {
	return t.finalized && t.run.Status.Terminal()
}
