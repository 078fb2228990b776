package retrieval

import (
	"context"
	"fmt"
	"sort"

	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pageza/nibble/backend/internal/model"
	"github.com/pageza/nibble/backend/internal/vector"
)

// PgvectorIndex searches the reference_dishes table. On Postgres it ranks with
// the pgvector cosine distance operator; other dialects are ranked in process.
type PgvectorIndex struct {
	db     *gorm.DB
	logger *zap.Logger
}

type scoredDish struct {
	model.ReferenceDish
	Score float64
}

// NewPgvectorIndex creates an index over db.
func NewPgvectorIndex(db *gorm.DB, logger *zap.Logger) *PgvectorIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgvectorIndex{db: db, logger: logger.Named("pgvector")}
}

// Query returns the TopK closest dishes. Scores are cosine similarities.
func (p *PgvectorIndex) Query(ctx context.Context, req QueryRequest) ([]Match, error) {
	if req.TopK <= 0 {
		return []Match{}, nil
	}

	var (
		rows []scoredDish
		err  error
	)
	if p.db.Dialector.Name() == "postgres" {
		rows, err = p.queryPostgres(ctx, req)
	} else {
		rows, err = p.queryInProcess(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, dishMatch(row, req))
	}
	return matches, nil
}

func (p *PgvectorIndex) queryPostgres(ctx context.Context, req QueryRequest) ([]scoredDish, error) {
	vec := pgvector.NewVector(req.Vector)
	var rows []scoredDish
	err := p.db.WithContext(ctx).
		Table(model.ReferenceDish{}.TableName()).
		Select("*, 1 - (embedding <=> ?) AS score", vec).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{vec}},
		}).
		Limit(req.TopK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query reference dishes: %w", err)
	}
	return rows, nil
}

// queryInProcess ranks every stored dish by dot product. Stored embeddings are
// normalised, so this matches the cosine ranking on Postgres.
func (p *PgvectorIndex) queryInProcess(ctx context.Context, req QueryRequest) ([]scoredDish, error) {
	var dishes []model.ReferenceDish
	if err := p.db.WithContext(ctx).Order("id").Find(&dishes).Error; err != nil {
		return nil, fmt.Errorf("failed to load reference dishes: %w", err)
	}

	rows := make([]scoredDish, len(dishes))
	for i, d := range dishes {
		rows[i] = scoredDish{ReferenceDish: d, Score: vector.Dot(req.Vector, d.Embedding.Slice())}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Score > rows[j].Score
	})
	if len(rows) > req.TopK {
		rows = rows[:req.TopK]
	}
	return rows, nil
}

// Upsert inserts dishes or replaces the stored rows with the same IDs.
func (p *PgvectorIndex) Upsert(ctx context.Context, dishes []model.ReferenceDish) error {
	if len(dishes) == 0 {
		return nil
	}
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(dishes, 100).Error
	if err != nil {
		return fmt.Errorf("failed to upsert reference dishes: %w", err)
	}
	p.logger.Info("reference dishes stored", zap.Int("count", len(dishes)))
	return nil
}

func dishMatch(row scoredDish, req QueryRequest) Match {
	m := Match{ID: row.ID, Score: row.Score}
	if req.IncludeValues {
		m.Values = row.Embedding.Slice()
	}
	if !req.IncludeMetadata {
		return m
	}

	meta := map[string]any{
		MetaFileName: row.FileName,
		MetaSplit:    row.Split,
	}
	macros := map[string]*float64{
		MetaTotalCalories: row.Macros.TotalCalories,
		MetaTotalMass:     row.Macros.TotalMass,
		MetaTotalFat:      row.Macros.TotalFat,
		MetaTotalCarb:     row.Macros.TotalCarb,
		MetaTotalProtein:  row.Macros.TotalProtein,
	}
	for key, v := range macros {
		if v != nil {
			meta[key] = *v
		}
	}
	if len(row.Ingredients) > 0 {
		meta[MetaIngredients] = string(row.Ingredients)
	}
	m.Metadata = meta
	return m
}
