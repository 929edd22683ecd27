package apiserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventlake/eventlake/pkg/metrics"
	"github.com/eventlake/eventlake/pkg/model"
)

type runResponse struct {
	RunID        string  `json:"run_id"`
	FileName     string  `json:"file_name"`
	StartedAt    string  `json:"started_at"`
	FinishedAt   *string `json:"finished_at"`
	RowsInFile   int     `json:"rows_in_file"`
	RowsLoaded   int     `json:"rows_loaded"`
	RowsDeduped  int     `json:"rows_deduped"`
	Status       string  `json:"status"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

func toRunResponse(run *model.IngestionRun) runResponse {
	return runResponse{
		RunID:        run.RunID.String(),
		FileName:     run.FileName,
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:   formatTime(run.FinishedAt),
		RowsInFile:   run.RowsInFile,
		RowsLoaded:   run.RowsLoaded,
		RowsDeduped:  run.RowsDeduped,
		Status:       string(run.Status),
		ErrorMessage: run.ErrorMessage,
	}
}

func (s *Server) listRuns(c *gin.Context) {
	var status *model.RunStatus
	if raw := c.Query("status"); raw != "" {
		parsed := model.RunStatus(raw)
		switch parsed {
		case model.RunRunning, model.RunSucceeded, model.RunPartial, model.RunFailed:
			status = &parsed
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
	}

	limit := parseLimit(c.Query("limit"), 50)
	offset := parseOffset(c.Query("offset"))

	runs, err := s.runs.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	items := make([]runResponse, 0, len(runs))
	for idx := range runs {
		items = append(items, toRunResponse(&runs[idx]))
	}
	c.JSON(http.StatusOK, gin.H{"runs": items})
}

func (s *Server) getRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := s.runs.GetByID(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		s.logger.Error("failed to get run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, toRunResponse(run))
}

// listStaleRuns reports runs stuck in the running state past the configured
// threshold: crashed workers whose finalization never landed. Resolution is a
// human decision; this endpoint only surfaces them.
func (s *Server) listStaleRuns(c *gin.Context) {
	olderThan := s.cfg.Ingest.StaleAfter
	if raw := c.Query("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid older_than duration"})
			return
		}
		olderThan = parsed
	}

	runs, err := s.runs.ListStale(c.Request.Context(), olderThan)
	if err != nil {
		s.logger.Error("failed to list stale runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list stale runs"})
		return
	}

	metrics.StaleRuns.Set(float64(len(runs)))

	items := make([]runResponse, 0, len(runs))
	for idx := range runs {
		items = append(items, toRunResponse(&runs[idx]))
	}
	c.JSON(http.StatusOK, gin.H{"runs": items, "older_than": olderThan.String()})
}

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseOffset(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func formatTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(time.RFC3339Nano)
	return &formatted
}
