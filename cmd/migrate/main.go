package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eventlake/eventlake/pkg/config"
	"github.com/eventlake/eventlake/pkg/logger"
	"github.com/eventlake/eventlake/pkg/store/postgres"
)

// Provisions the raw_events and ingestion_runs tables. Idempotent; meant to
// run once at deploy time, never on the ingestion path.
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

	if err := db.AutoMigrate(); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	log.Info("schema provisioned",
		zap.String("database", cfg.Database.Database))
}
