package model

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunPartial, RunFailed:
		return true
	}
	return false
}

// ExitCode maps a terminal status to the process exit code: 0 only for a
// fully successful run.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunSucceeded:
		return 0
	case RunPartial:
		return 2
	default:
		return 1
	}
}

// IngestionRun is the audit record for one attempt to ingest one file.
// It is created in the running state before any row is read, mutated only by
// the run that created it, and reaches a terminal state at most once.
type IngestionRun struct {
	RunID        uuid.UUID `gorm:"type:uuid;primary_key"`
	FileName     string    `gorm:"type:varchar(512);not null;index"`
	StartedAt    time.Time `gorm:"not null;index"`
	FinishedAt   *time.Time
	RowsInFile   int       `gorm:"not null;default:0"`
	RowsLoaded   int       `gorm:"not null;default:0"`
	RowsDeduped  int       `gorm:"not null;default:0"`
	Status       RunStatus `gorm:"type:varchar(20);not null;default:'running';index"`
	ErrorMessage string
}

func (IngestionRun) TableName() string {
	return "ingestion_runs"
}
