package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventlake/eventlake/pkg/model"
)

var runColumns = []string{
	"run_id", "file_name", "started_at", "finished_at",
	"rows_in_file", "rows_loaded", "rows_deduped", "status", "error_message",
}

func TestRunRepositoryCreateForcesRunning(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO ingestion_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	run := &model.IngestionRun{
		RunID:     uuid.New(),
		FileName:  "events_1.jsonl",
		StartedAt: time.Now().UTC(),
		Status:    model.RunSucceeded, // must be overridden
	}
	require.NoError(t, repo.Create(context.Background(), run))
	assert.Equal(t, model.RunRunning, run.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepositoryFinish(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE ingestion_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Finish(context.Background(), uuid.New(), model.RunSucceeded, 10, 9, 1, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepositoryFinishGuardRejectsSecondTransition(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	// No row in the running state matches: already finalized elsewhere.
	mock.ExpectExec("UPDATE ingestion_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Finish(context.Background(), uuid.New(), model.RunFailed, 0, 0, 0, "worker crashed")
	assert.ErrorIs(t, err, ErrRunNotRunning)
}

func TestRunRepositoryFinishRejectsNonTerminalStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	err := repo.Finish(context.Background(), uuid.New(), model.RunRunning, 0, 0, 0, "")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "a non-terminal status must never reach the database")
}

func TestRunRepositoryGetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	runID := uuid.New()
	started := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)

	mock.ExpectQuery("SELECT \\* FROM ingestion_runs WHERE run_id").
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow(runID, "events_1.jsonl", started, finished, 15, 10, 3, "partial", "2 of 15 rows failed validation"))

	run, err := repo.GetByID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, "events_1.jsonl", run.FileName)
	assert.Equal(t, model.RunPartial, run.Status)
	assert.Equal(t, 15, run.RowsInFile)
	assert.Equal(t, 10, run.RowsLoaded)
	assert.Equal(t, 3, run.RowsDeduped)
	require.NotNil(t, run.FinishedAt)
}

func TestRunRepositoryGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT \\* FROM ingestion_runs WHERE run_id").
		WillReturnRows(sqlmock.NewRows(runColumns))

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRunRepositoryList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	started := time.Now().UTC()
	mock.ExpectQuery("SELECT \\* FROM ingestion_runs ORDER BY started_at DESC").
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow(uuid.New(), "events_2.jsonl", started, nil, 0, 0, 0, "running", "").
			AddRow(uuid.New(), "events_1.jsonl", started.Add(-time.Minute), started, 8, 8, 0, "succeeded", ""))

	runs, err := repo.List(context.Background(), nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)
}

func TestRunRepositoryListFilteredByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT \\* FROM ingestion_runs WHERE status").
		WillReturnRows(sqlmock.NewRows(runColumns))

	status := model.RunFailed
	runs, err := repo.List(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepositoryListStale(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	started := time.Now().UTC().Add(-2 * time.Hour)
	mock.ExpectQuery("SELECT \\* FROM ingestion_runs WHERE status").
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow(uuid.New(), "events_stuck.jsonl", started, nil, 0, 0, 0, "running", ""))

	runs, err := repo.ListStale(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "events_stuck.jsonl", runs[0].FileName)
}
