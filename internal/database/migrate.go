package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/nibble/backend/internal/model"
)

// Migrate creates the reference dish schema. On Postgres it also enables
// pgvector and builds a cosine HNSW index over the embeddings.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("migrate")
	postgres := db.Dialector.Name() == "postgres"

	if postgres {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
	} else {
		logger.Info("using GORM auto-migration without vector index", zap.String("dialect", db.Dialector.Name()))
	}

	if err := db.AutoMigrate(&model.ReferenceDish{}); err != nil {
		return fmt.Errorf("failed to migrate reference dishes: %w", err)
	}

	if postgres {
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS reference_dishes_embedding_idx
			ON reference_dishes USING hnsw (embedding vector_cosine_ops)`).Error; err != nil {
			return fmt.Errorf("failed to create embedding index: %w", err)
		}
	}

	logger.Info("schema up to date")
	return nil
}
