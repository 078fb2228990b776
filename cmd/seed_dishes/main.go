// Command seed_dishes loads reference dishes into the pgvector index.
//
// The input is a JSON array or JSON lines of records with the reference
// metadata and, optionally, a precomputed embedding. Records without an
// embedding are embedded from <images>/<file_name> through the CLIP server.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/config"
	"github.com/pageza/nibble/backend/internal/database"
	"github.com/pageza/nibble/backend/internal/embedding"
	"github.com/pageza/nibble/backend/internal/logger"
	"github.com/pageza/nibble/backend/internal/model"
	"github.com/pageza/nibble/backend/internal/resilience"
	"github.com/pageza/nibble/backend/internal/retrieval"
	"github.com/pageza/nibble/backend/internal/vector"
)

const batchSize = 100

// record is one reference dish in the dataset file.
type record struct {
	ID            string          `json:"id"`
	FileName      string          `json:"file_name"`
	Split         string          `json:"split"`
	TotalCalories *float64        `json:"total_calories"`
	TotalMass     *float64        `json:"total_mass"`
	TotalFat      *float64        `json:"total_fat"`
	TotalCarb     *float64        `json:"total_carb"`
	TotalProtein  *float64        `json:"total_protein"`
	Ingredients   json.RawMessage `json:"ingredients"`
	Embedding     []float32       `json:"embedding"`
}

// imageEmbedder embeds reference photos.
type imageEmbedder interface {
	EmbedImage(ctx context.Context, data []byte, opts embedding.ImageOptions) (vector.Embedding, error)
}

func main() {
	file := flag.String("file", "", "dataset file (JSON array or JSON lines)")
	images := flag.String("images", "", "directory of reference photos for records without an embedding")
	flag.Parse()
	if *file == "" {
		log.Fatal("-file is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	zl, err := logger.New(config.IsProduction(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	f, err := os.Open(*file)
	if err != nil {
		zl.Fatal("failed to open dataset", zap.Error(err))
	}
	defer f.Close()

	records, err := readRecords(f)
	if err != nil {
		zl.Fatal("failed to read dataset", zap.Error(err))
	}

	db, err := database.New(cfg, zl)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db, zl); err != nil {
		zl.Fatal("migration failed", zap.Error(err))
	}

	var embedder imageEmbedder
	if *images != "" {
		embedder = embedding.NewProvider(embedding.Config{Model: cfg.ClipModel}, embedding.ClipLoader(embedding.ClipConfig{
			BaseURL: cfg.ClipURL,
			Model:   cfg.ClipModel,
			APIKey:  cfg.ClipAPIKey,
		}, resilience.New(resilience.DefaultConfig("clip"), zl), zl), zl)
	}

	ctx := context.Background()
	index := retrieval.NewPgvectorIndex(db, zl)
	batch := make([]model.ReferenceDish, 0, batchSize)
	stored, skipped := 0, 0
	for _, rec := range records {
		d, err := toDish(ctx, rec, embedder, *images)
		if err != nil {
			skipped++
			zl.Warn("skipping record", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		batch = append(batch, d)
		if len(batch) == batchSize {
			if err := index.Upsert(ctx, batch); err != nil {
				zl.Fatal("failed to store batch", zap.Error(err))
			}
			stored += len(batch)
			batch = batch[:0]
		}
	}
	if err := index.Upsert(ctx, batch); err != nil {
		zl.Fatal("failed to store batch", zap.Error(err))
	}
	stored += len(batch)

	zl.Info("seeding complete", zap.Int("stored", stored), zap.Int("skipped", skipped))
}

// readRecords accepts a JSON array or one JSON object per line.
func readRecords(r io.Reader) ([]record, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []record{}, nil
		}
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var records []record
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode dataset: %w", err)
		}
		return records, nil
	}

	records := []record{}
	for {
		var rec record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}

// toDish validates rec and fills in a normalised embedding.
func toDish(ctx context.Context, rec record, embedder imageEmbedder, imagesDir string) (model.ReferenceDish, error) {
	if rec.ID == "" {
		return model.ReferenceDish{}, fmt.Errorf("record has no id")
	}

	emb := vector.Embedding(rec.Embedding)
	if len(emb) == 0 {
		if embedder == nil || rec.FileName == "" {
			return model.ReferenceDish{}, fmt.Errorf("record has no embedding and no photo to embed")
		}
		data, err := os.ReadFile(filepath.Join(imagesDir, rec.FileName))
		if err != nil {
			return model.ReferenceDish{}, fmt.Errorf("failed to read photo: %w", err)
		}
		emb, err = embedder.EmbedImage(ctx, data, embedding.ImageOptions{})
		if err != nil {
			return model.ReferenceDish{}, fmt.Errorf("failed to embed photo: %w", err)
		}
	}
	if len(emb) != model.EmbeddingDimension {
		return model.ReferenceDish{}, fmt.Errorf("embedding has %d dimensions, expected %d", len(emb), model.EmbeddingDimension)
	}

	return model.ReferenceDish{
		ID:       rec.ID,
		FileName: rec.FileName,
		Split:    rec.Split,
		Macros: model.Macros{
			TotalCalories: rec.TotalCalories,
			TotalMass:     rec.TotalMass,
			TotalFat:      rec.TotalFat,
			TotalCarb:     rec.TotalCarb,
			TotalProtein:  rec.TotalProtein,
		},
		Ingredients: model.JSONText(rec.Ingredients),
		Embedding:   pgvector.NewVector(vector.Normalize(emb)),
	}, nil
}
