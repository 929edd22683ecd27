package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/eventlake/eventlake/pkg/apiserver"
	"github.com/eventlake/eventlake/pkg/config"
	"github.com/eventlake/eventlake/pkg/logger"
	"github.com/eventlake/eventlake/pkg/store/postgres"
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

	runs := postgres.NewRunRepository(db.DB(), log)
	server := apiserver.NewServer(runs, cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("api server starting", zap.Int("port", cfg.Server.HTTPPort))
	if err := server.Run(ctx); err != nil {
		log.Fatal("api server stopped with error", zap.Error(err))
	}
	log.Info("api server shut down")
}
