package retrieval

import (
	"context"
	"testing"

	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pageza/nibble/backend/internal/model"
)

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.ReferenceDish{}))
	return db
}

func floatPtr(f float64) *float64 { return &f }

func TestPgvectorIndex_InProcessRanking(t *testing.T) {
	db := setupSQLite(t)
	index := NewPgvectorIndex(db, nil)

	dishes := []model.ReferenceDish{
		{ID: "dish_a", FileName: "a.png", Split: "train", Embedding: pgvector.NewVector([]float32{0, 1})},
		{ID: "dish_b", FileName: "b.png", Split: "test", Embedding: pgvector.NewVector([]float32{1, 0}),
			Macros:      model.Macros{TotalCalories: floatPtr(320), TotalFat: floatPtr(12.5)},
			Ingredients: model.JSONText(`[{"name":"Noodles"},{"name":"Broth"}]`)},
		{ID: "dish_c", FileName: "c.png", Split: "train", Embedding: pgvector.NewVector([]float32{0.6, 0.8})},
		{ID: "dish_d", FileName: "d.png", Split: "train", Embedding: pgvector.NewVector([]float32{0.6, 0.8})},
	}
	require.NoError(t, index.Upsert(context.Background(), dishes))

	matches, err := index.Query(context.Background(), QueryRequest{Vector: []float32{1, 0}, TopK: 3, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "dish_b", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "dish_c", matches[1].ID, "equal scores keep id order")
	assert.Equal(t, "dish_d", matches[2].ID)

	neighbor := NeighborFromMatch(matches[0])
	assert.Equal(t, "b.png", neighbor.FileName)
	assert.Equal(t, "test", neighbor.Split)
	require.NotNil(t, neighbor.TotalCalories)
	assert.Equal(t, 320.0, *neighbor.TotalCalories)
	assert.Nil(t, neighbor.TotalProtein)
	assert.Equal(t, []string{"noodles", "broth"}, neighbor.Ingredients)
}

func TestPgvectorIndex_UpsertReplaces(t *testing.T) {
	db := setupSQLite(t)
	index := NewPgvectorIndex(db, nil)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, []model.ReferenceDish{
		{ID: "dish_a", FileName: "old.png", Embedding: pgvector.NewVector([]float32{1, 0})},
	}))
	require.NoError(t, index.Upsert(ctx, []model.ReferenceDish{
		{ID: "dish_a", FileName: "new.png", Embedding: pgvector.NewVector([]float32{0, 1})},
	}))

	matches, err := index.Query(ctx, QueryRequest{Vector: []float32{0, 1}, TopK: 5, IncludeMetadata: true, IncludeValues: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new.png", matches[0].Metadata[MetaFileName])
	assert.Equal(t, []float32{0, 1}, matches[0].Values)
}

func TestPgvectorIndex_TopKZero(t *testing.T) {
	index := NewPgvectorIndex(setupSQLite(t), nil)

	matches, err := index.Query(context.Background(), QueryRequest{Vector: []float32{1}, TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, matches)
}
