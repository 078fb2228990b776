package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/config"
	"github.com/pageza/nibble/backend/internal/database"
	"github.com/pageza/nibble/backend/internal/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(config.IsProduction(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	db, err := database.New(cfg, zl)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}

	if err := database.Migrate(db, zl); err != nil {
		zl.Fatal("migration failed", zap.Error(err))
	}
	zl.Info("all migrations applied successfully")
}
