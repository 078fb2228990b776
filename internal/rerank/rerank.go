// Package rerank reorders retrieved dishes by how well both their photo and
// their ingredients match the query photo.
package rerank

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/retrieval"
	"github.com/pageza/nibble/backend/internal/vector"
)

// Default fusion weights.
const (
	DefaultAlpha = 0.7
	DefaultBeta  = 0.3
)

// TextEmbedder embeds a batch of texts in the same space as the query image.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([]vector.Embedding, error)
}

// Weights of the image and text similarities in the fused score.
type Weights struct {
	Alpha float64
	Beta  float64
}

// DefaultWeights returns the weights used when the caller sets none.
func DefaultWeights() Weights {
	return Weights{Alpha: DefaultAlpha, Beta: DefaultBeta}
}

// Ranked is a neighbor with the scores it was ranked by.
type Ranked struct {
	retrieval.Neighbor
	ImageSimilarity float64 `json:"image_similarity"`
	TextSimilarity  float64 `json:"text_similarity"`
	FusedScore      float64 `json:"fused_score"`
}

// Reranker fuses image and ingredient-text similarity.
type Reranker struct {
	embedder TextEmbedder
	logger   *zap.Logger
}

// NewReranker creates a Reranker.
func NewReranker(embedder TextEmbedder, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{embedder: embedder, logger: logger.Named("rerank")}
}

// Rerank scores every neighbor and returns them by descending fused score.
// Neighbors with equal scores keep their retrieval order.
func (r *Reranker) Rerank(ctx context.Context, query vector.Embedding, neighbors []retrieval.Neighbor, w Weights) ([]Ranked, error) {
	if len(neighbors) == 0 {
		return []Ranked{}, nil
	}

	texts := make([]string, len(neighbors))
	for i, n := range neighbors {
		texts[i] = retrieval.IngredientsText(n.Ingredients)
	}

	textVecs, err := r.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed ingredient texts: %w", err)
	}
	if len(textVecs) != len(neighbors) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d neighbors", len(textVecs), len(neighbors))
	}

	ranked := make([]Ranked, len(neighbors))
	for i, n := range neighbors {
		textSim := vector.Dot(query, textVecs[i])
		ranked[i] = Ranked{
			Neighbor:        n,
			ImageSimilarity: n.Score,
			TextSimilarity:  textSim,
			FusedScore:      vector.Fuse(n.Score, textSim, w.Alpha, w.Beta),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FusedScore > ranked[j].FusedScore
	})

	r.logger.Debug("neighbors re-ranked",
		zap.Int("count", len(ranked)),
		zap.Float64("alpha", w.Alpha),
		zap.Float64("beta", w.Beta),
		zap.String("top", ranked[0].ID))
	return ranked, nil
}
