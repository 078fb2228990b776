package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/nibble/backend/config"
	"github.com/pageza/nibble/backend/internal/api"
	"github.com/pageza/nibble/backend/internal/archive"
	"github.com/pageza/nibble/backend/internal/database"
	"github.com/pageza/nibble/backend/internal/dish"
	"github.com/pageza/nibble/backend/internal/embedding"
	"github.com/pageza/nibble/backend/internal/generative"
	"github.com/pageza/nibble/backend/internal/logger"
	"github.com/pageza/nibble/backend/internal/middleware"
	"github.com/pageza/nibble/backend/internal/rerank"
	"github.com/pageza/nibble/backend/internal/resilience"
	"github.com/pageza/nibble/backend/internal/retrieval"
	"github.com/pageza/nibble/backend/internal/router"
	"github.com/pageza/nibble/backend/internal/server"
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

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx := context.Background()
	checks := map[string]api.Checker{}

	// Redis backs the rate limiter and the shared text cache; both degrade without it.
	var rdb *redis.Client
	if client, err := database.NewRedisClient(cfg, zl); err != nil {
		zl.Warn("running without Redis", zap.Error(err))
	} else {
		rdb = client
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	index, db, err := newIndex(cfg, zl)
	if err != nil {
		return err
	}
	if db != nil {
		checks["database"] = func(ctx context.Context) error { return database.HealthCheck(ctx, db) }
	}

	generator, err := newGenerator(cfg, zl)
	if err != nil {
		return err
	}

	load := embedding.ClipLoader(embedding.ClipConfig{
		BaseURL: cfg.ClipURL,
		Model:   cfg.ClipModel,
		APIKey:  cfg.ClipAPIKey,
	}, resilience.New(resilience.DefaultConfig("clip"), zl), zl)
	load = embedding.WithTextCache(load, embedding.TextCacheConfig{
		Model: cfg.ClipModel,
		Size:  cfg.TextCacheSize,
		TTL:   cfg.TextCacheTTL,
	}, rdb, zl)
	provider := embedding.NewProvider(embedding.Config{Model: cfg.ClipModel}, load, zl)

	// Load the encoder in the background so the first request does not pay for it.
	go func() {
		if err := provider.Warmup(ctx); err != nil {
			zl.Warn("encoder warmup failed; loading on first request", zap.Error(err))
		}
	}()

	var opts []dish.Option
	if cfg.ArchiveBucket != "" {
		s3cfg, err := config.NewS3Config(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to configure photo archive: %w", err)
		}
		opts = append(opts, dish.WithArchiver(archive.NewS3Archiver(s3cfg.Client, s3cfg.BucketName, s3cfg.Prefix, zl)))
	}

	dishes := dish.NewService(
		provider,
		retrieval.NewRetriever(index, retrieval.Config{Timeout: cfg.RetrievalTimeout}, zl),
		generator,
		dish.Config{
			DefaultTopK:      cfg.DefaultTopK,
			MaxTopK:          cfg.MaxTopK,
			ContextLimit:     cfg.ContextLimit,
			Weights:          rerank.Weights{Alpha: cfg.Alpha, Beta: cfg.Beta},
			EmbedTimeout:     cfg.EmbedTimeout,
			RetrievalTimeout: cfg.RetrievalTimeout,
			GenerateTimeout:  cfg.GenerateTimeout,
		},
		zl,
		opts...,
	)

	deps := router.Dependencies{
		Dishes:      dishes,
		Tokens:      middleware.NewJWTValidator(cfg.JWTSecret),
		Checks:      checks,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      zl,
	}
	if rdb != nil {
		deps.Limiter = middleware.NewDishInferenceRateLimiter(rdb, cfg.RateLimitPerHour, zl)
	}

	srv := server.New(cfg, router.SetupRouter(deps), zl)

	// Channel to listen for errors coming from the server
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	// Channel to listen for an interrupt or terminate signal from the OS
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		zl.Info("received signal", zap.String("signal", sig.String()))
	}

	zl.Info("shutting down server")
	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	zl.Info("server stopped")
	return nil
}

// newIndex returns the configured vector index and, for pgvector, its database.
func newIndex(cfg *config.Config, zl *zap.Logger) (retrieval.Index, *gorm.DB, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPgvector:
		db, err := database.New(cfg, zl)
		if err != nil {
			return nil, nil, err
		}
		return retrieval.NewPgvectorIndex(db, zl), db, nil
	default:
		index, err := retrieval.NewPineconeIndex(retrieval.PineconeConfig{
			APIKey:    cfg.PineconeAPIKey,
			IndexName: cfg.PineconeIndex,
			Host:      cfg.PineconeHost,
			Namespace: cfg.PineconeNamespace,
			Timeout:   cfg.RetrievalTimeout,
		}, resilience.New(resilience.DefaultConfig("pinecone"), zl), zl)
		if err != nil {
			return nil, nil, err
		}
		return index, nil, nil
	}
}

func newGenerator(cfg *config.Config, zl *zap.Logger) (generative.Generator, error) {
	switch cfg.GeneratorProvider {
	case config.GeneratorDeepSeek:
		return generative.NewDeepSeekClient(generative.DeepSeekConfig{
			APIKey:  cfg.DeepSeekAPIKey,
			Timeout: cfg.GenerateTimeout,
		}, resilience.New(resilience.DefaultConfig("deepseek"), zl), zl)
	default:
		return generative.NewGeminiClient(generative.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.GenerateTimeout,
		}, resilience.New(resilience.DefaultConfig("gemini"), zl), zl)
	}
}
