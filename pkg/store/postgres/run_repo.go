package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventlake/eventlake/pkg/model"
)

// ErrRunNotRunning is returned when a terminal-state write matches no row in
// the running state: the run either does not exist or was already finalized.
var ErrRunNotRunning = errors.New("ingestion run is not in the running state")

type RunRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewRunRepository(db *gorm.DB, log *zap.Logger) *RunRepository {
	return &RunRepository{db: db, log: log}
}

// Create inserts the audit record in the running state.
func (r *RunRepository) Create(ctx context.Context, run *model.IngestionRun) error {
	run.Status = model.RunRunning
	return r.db.WithContext(ctx).Exec(
		"INSERT INTO ingestion_runs (run_id, file_name, started_at, status) VALUES (?, ?, ?, ?)",
		run.RunID, run.FileName, run.StartedAt, run.Status,
	).Error
}

// Finish transitions a run from running to the given terminal status, setting
// finished_at, the counters and the error message in the same statement. The
// status guard in the WHERE clause makes the transition happen at most once.
func (r *RunRepository) Finish(ctx context.Context, runID uuid.UUID, status model.RunStatus, rowsInFile, rowsLoaded, rowsDeduped int, errMsg string) error {
	if !status.Terminal() {
		return errors.New("finish requires a terminal status")
	}

	var message interface{}
	if errMsg != "" {
		message = errMsg
	}

	res := r.db.WithContext(ctx).Exec(
		`UPDATE ingestion_runs
		 SET status = ?, finished_at = ?, rows_in_file = ?, rows_loaded = ?, rows_deduped = ?, error_message = ?
		 WHERE run_id = ? AND status = ?`,
		status, time.Now().UTC(), rowsInFile, rowsLoaded, rowsDeduped, message,
		runID, model.RunRunning,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotRunning
	}
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, runID uuid.UUID) (*model.IngestionRun, error) {
	var run model.IngestionRun
	res := r.db.WithContext(ctx).Raw(
		"SELECT * FROM ingestion_runs WHERE run_id = ?", runID,
	).Scan(&run)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &run, nil
}

// List returns runs ordered by started_at descending, optionally filtered by
// status.
func (r *RunRepository) List(ctx context.Context, status *model.RunStatus, limit, offset int) ([]model.IngestionRun, error) {
	if limit <= 0 {
		limit = 50
	}

	var runs []model.IngestionRun
	var err error
	if status != nil {
		err = r.db.WithContext(ctx).Raw(
			"SELECT * FROM ingestion_runs WHERE status = ? ORDER BY started_at DESC LIMIT ? OFFSET ?",
			*status, limit, offset,
		).Scan(&runs).Error
	} else {
		err = r.db.WithContext(ctx).Raw(
			"SELECT * FROM ingestion_runs ORDER BY started_at DESC LIMIT ? OFFSET ?",
			limit, offset,
		).Scan(&runs).Error
	}
	return runs, err
}

// ListStale returns runs stuck in the running state for longer than the given
// threshold. These are crashed or unreachable workers whose finalization never
// landed; they are reported for out-of-band reconciliation, never auto-resolved.
func (r *RunRepository) ListStale(ctx context.Context, olderThan time.Duration) ([]model.IngestionRun, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var runs []model.IngestionRun
	err := r.db.WithContext(ctx).Raw(
		"SELECT * FROM ingestion_runs WHERE status = ? AND started_at < ? ORDER BY started_at ASC",
		model.RunRunning, cutoff,
	).Scan(&runs).Error
	return runs, err
}
