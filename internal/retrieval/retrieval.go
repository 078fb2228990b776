// Package retrieval finds the reference dishes closest to a query embedding.
package retrieval

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/errortypes"
	"github.com/pageza/nibble/backend/internal/vector"
)

// Metadata keys written by the reference dataset loader.
const (
	MetaFileName      = "file_name"
	MetaSplit         = "split"
	MetaTotalCalories = "total_calories"
	MetaTotalMass     = "total_mass"
	MetaTotalFat      = "total_fat"
	MetaTotalCarb     = "total_carb"
	MetaTotalProtein  = "total_protein"
	MetaIngredients   = "ingredients"
)

// Neighbor is a reference dish returned for a query, in retrieval order.
type Neighbor struct {
	ID            string   `json:"id"`
	Score         float64  `json:"score"`
	FileName      string   `json:"file_name,omitempty"`
	Split         string   `json:"split,omitempty"`
	TotalCalories *float64 `json:"total_calories,omitempty"`
	TotalMass     *float64 `json:"total_mass,omitempty"`
	TotalFat      *float64 `json:"total_fat,omitempty"`
	TotalCarb     *float64 `json:"total_carb,omitempty"`
	TotalProtein  *float64 `json:"total_protein,omitempty"`
	Ingredients   []string `json:"ingredients"`
}

// Match is a raw hit from an Index.
type Match struct {
	ID       string
	Score    float64
	Values   []float32
	Metadata map[string]any
}

// QueryRequest is a nearest-neighbor query.
type QueryRequest struct {
	Vector          []float32
	TopK            int
	IncludeMetadata bool
	IncludeValues   bool
}

// Index is a similarity search over reference dish embeddings. Matches are
// returned best first.
type Index interface {
	Query(ctx context.Context, req QueryRequest) ([]Match, error)
}

// Config configures a Retriever.
type Config struct {
	// Timeout bounds a single index query. Zero means no extra bound.
	Timeout time.Duration
}

// Retriever maps index matches to Neighbors.
type Retriever struct {
	index   Index
	timeout time.Duration
	logger  *zap.Logger
}

// NewRetriever creates a Retriever over index.
func NewRetriever(index Index, cfg Config, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		index:   index,
		timeout: cfg.Timeout,
		logger:  logger.Named("retrieval"),
	}
}

// QueryNeighbors returns up to topK neighbors of query, best first. A
// non-positive topK returns no neighbors without querying the index.
func (r *Retriever) QueryNeighbors(ctx context.Context, query vector.Embedding, topK int) ([]Neighbor, error) {
	if topK <= 0 {
		return []Neighbor{}, nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	matches, err := r.index.Query(ctx, QueryRequest{
		Vector:          query,
		TopK:            topK,
		IncludeMetadata: true,
		IncludeValues:   false,
	})
	if err != nil {
		return nil, &errortypes.RetrievalError{Err: err}
	}

	neighbors := make([]Neighbor, 0, len(matches))
	for _, m := range matches {
		neighbors = append(neighbors, NeighborFromMatch(m))
	}

	r.logger.Debug("index queried",
		zap.Int("top_k", topK),
		zap.Int("matches", len(neighbors)),
		zap.Duration("took", time.Since(start)))
	return neighbors, nil
}

// NeighborFromMatch reads the dish fields out of a match's metadata. Missing or
// malformed fields are left empty.
func NeighborFromMatch(m Match) Neighbor {
	meta := m.Metadata
	return Neighbor{
		ID:            m.ID,
		Score:         m.Score,
		FileName:      metaString(meta, MetaFileName),
		Split:         metaString(meta, MetaSplit),
		TotalCalories: metaFloat(meta, MetaTotalCalories),
		TotalMass:     metaFloat(meta, MetaTotalMass),
		TotalFat:      metaFloat(meta, MetaTotalFat),
		TotalCarb:     metaFloat(meta, MetaTotalCarb),
		TotalProtein:  metaFloat(meta, MetaTotalProtein),
		Ingredients:   IngredientNames(meta[MetaIngredients]),
	}
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func metaFloat(meta map[string]any, key string) *float64 {
	var f float64
	switch v := meta[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
