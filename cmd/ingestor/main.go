package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventlake/eventlake/pkg/config"
	"github.com/eventlake/eventlake/pkg/ingest"
	"github.com/eventlake/eventlake/pkg/logger"
	"github.com/eventlake/eventlake/pkg/model"
	"github.com/eventlake/eventlake/pkg/store/postgres"
	redisclient "github.com/eventlake/eventlake/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	var locker ingest.FileLocker = ingest.NewMemoryFileLocker()
	if cfg.Redis.Enabled {
		rc, err := redisclient.NewClient(&cfg.Redis)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rc.Close()
		locker = ingest.NewRedisFileLocker(rc.Client(), cfg.Ingest.LockTTL)
	}

	events := postgres.NewEventRepository(db.DB(), log)
	runs := postgres.NewRunRepository(db.DB(), log)

	ingestor := ingest.NewIngestor(events, runs, locker, ingest.Config{
		BatchSize:       cfg.Ingest.BatchSize,
		FinalizeTimeout: cfg.Ingest.FinalizeTimeout,
		ArchiveDir:      cfg.Ingest.ArchiveDir,
	}, log)

	paths := os.Args[1:]
	if len(paths) == 0 {
		paths, err = filepath.Glob(filepath.Join(cfg.Ingest.IncomingDir, cfg.Ingest.Pattern))
		if err != nil {
			log.Fatal("failed to scan incoming dir", zap.Error(err))
		}
		sort.Strings(paths)
	}

	if len(paths) == 0 {
		log.Info("no batch files to ingest", zap.String("incoming_dir", cfg.Ingest.IncomingDir))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting ingestion",
		zap.Int("files", len(paths)),
		zap.Int("workers", cfg.Ingest.Workers))

	results := ingestor.IngestAll(ctx, paths, cfg.Ingest.Workers)

	var hasFailed, hasPartial bool
	for _, res := range results {
		if res.Err != nil {
			log.Error("ingestion failed",
				zap.String("path", res.Path),
				zap.Error(res.Err))
		}
		switch {
		case res.Run.RunID == uuid.Nil:
			// No audit record was opened (lock conflict or unreachable store).
			hasFailed = true
		case res.Run.Status == model.RunFailed, !res.Run.Status.Terminal():
			hasFailed = true
		case res.Run.Status == model.RunPartial:
			hasPartial = true
		}
		log.Info("run complete",
			zap.String("file_name", res.Run.FileName),
			zap.String("status", string(res.Run.Status)),
			zap.Int("rows_in_file", res.Run.RowsInFile),
			zap.Int("rows_loaded", res.Run.RowsLoaded),
			zap.Int("rows_deduped", res.Run.RowsDeduped))
	}

	exitCode := 0
	switch {
	case hasFailed:
		exitCode = model.RunFailed.ExitCode()
	case hasPartial:
		exitCode = model.RunPartial.ExitCode()
	}

	log.Sync()
	os.Exit(exitCode)
}
