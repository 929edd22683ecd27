package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eventlake/eventlake/pkg/config"
	"github.com/eventlake/eventlake/pkg/model"
)

// RunDirectory is the read-only view over the audit ledger the server exposes.
type RunDirectory interface {
	GetByID(ctx context.Context, runID uuid.UUID) (*model.IngestionRun, error)
	List(ctx context.Context, status *model.RunStatus, limit, offset int) ([]model.IngestionRun, error)
	ListStale(ctx context.Context, olderThan time.Duration) ([]model.IngestionRun, error)
}

// Server is a read-only HTTP surface over ingestion_runs. The terminal run
// row is the pipeline's sole externally observable result; this server only
// reports it, it never mutates it.
type Server struct {
	router *gin.Engine
	runs   RunDirectory
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(runs RunDirectory, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		runs:   runs,
		cfg:    cfg,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/runs", s.listRuns)
		api.GET("/runs/stale", s.listStaleRuns)
		api.GET("/runs/:id", s.getRun)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: s.cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
