// Package dish identifies a dish from a photo by combining nearest-neighbor
// retrieval with a generative nutrition estimate.
package dish

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/embedding"
	"github.com/pageza/nibble/backend/internal/errortypes"
	"github.com/pageza/nibble/backend/internal/generative"
	"github.com/pageza/nibble/backend/internal/rerank"
	"github.com/pageza/nibble/backend/internal/retrieval"
	"github.com/pageza/nibble/backend/internal/vector"
)

// Mode selects the inference pipeline.
type Mode int

const (
	// ModeNeighborsOnly summarises neighbors in retrieval order.
	ModeNeighborsOnly Mode = iota
	// ModeHybrid re-ranks neighbors by image and ingredient similarity first.
	ModeHybrid
)

func (m Mode) String() string {
	switch m {
	case ModeNeighborsOnly:
		return "neighbors_only"
	case ModeHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const (
	DefaultTopK          = 10
	DefaultMaxTopK       = 50
	DefaultContextLimit  = 8
	DefaultExcerptLength = 256
)

// Embedder embeds query photos and ingredient texts.
type Embedder interface {
	EmbedImage(ctx context.Context, data []byte, opts embedding.ImageOptions) (vector.Embedding, error)
	EmbedTexts(ctx context.Context, texts []string) ([]vector.Embedding, error)
}

// NeighborRetriever finds reference dishes near an embedding.
type NeighborRetriever interface {
	QueryNeighbors(ctx context.Context, query vector.Embedding, topK int) ([]retrieval.Neighbor, error)
}

// Archiver keeps a copy of query photos.
type Archiver interface {
	Archive(ctx context.Context, requestID string, data []byte) (string, error)
}

// Config holds pipeline limits, defaults and stage timeouts.
type Config struct {
	DefaultTopK      int
	MaxTopK          int
	ContextLimit     int
	ExcerptLength    int
	Weights          rerank.Weights
	EmbedTimeout     time.Duration
	RetrievalTimeout time.Duration
	GenerateTimeout  time.Duration
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:      DefaultTopK,
		MaxTopK:          DefaultMaxTopK,
		ContextLimit:     DefaultContextLimit,
		ExcerptLength:    DefaultExcerptLength,
		Weights:          rerank.DefaultWeights(),
		EmbedTimeout:     30 * time.Second,
		RetrievalTimeout: 10 * time.Second,
		GenerateTimeout:  60 * time.Second,
	}
}

// Request is one inference.
type Request struct {
	Mode     Mode
	ImageB64 string
	// TopK of zero uses the configured default.
	TopK int
	// Alpha and Beta override the configured fusion weights in hybrid mode.
	Alpha *float64
	Beta  *float64
}

// HybridOptions are the tunables of a hybrid inference.
type HybridOptions struct {
	TopK  int
	Alpha *float64
	Beta  *float64
}

// Result is the outcome of an inference. A nil Summary with no neighbors means
// nothing similar was found.
type Result struct {
	RequestID string               `json:"request_id"`
	Mode      Mode                 `json:"-"`
	Neighbors []retrieval.Neighbor `json:"neighbors"`
	Ranked    []rerank.Ranked      `json:"ranked,omitempty"`
	Summary   *string              `json:"summary"`
}

// Service runs the dish inference pipeline.
type Service struct {
	embedder  Embedder
	retriever NeighborRetriever
	reranker  *rerank.Reranker
	generator generative.Generator
	archiver  Archiver
	cfg       Config
	logger    *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithArchiver stores every valid query photo through a.
func WithArchiver(a Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// NewService creates a Service. Zero config fields take their defaults.
func NewService(embedder Embedder, retriever NeighborRetriever, generator generative.Generator, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = defaults.DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = defaults.MaxTopK
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = defaults.ContextLimit
	}
	if cfg.ExcerptLength <= 0 {
		cfg.ExcerptLength = defaults.ExcerptLength
	}
	if cfg.Weights == (rerank.Weights{}) {
		cfg.Weights = defaults.Weights
	}

	s := &Service{
		embedder:  embedder,
		retriever: retriever,
		reranker:  rerank.NewReranker(embedder, logger),
		generator: generator,
		cfg:       cfg,
		logger:    logger.Named("dish"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IdentifyFromNeighbors summarises the nearest reference dishes of a photo.
func (s *Service) IdentifyFromNeighbors(ctx context.Context, imageB64 string, topK int) (*Result, error) {
	return s.Infer(ctx, Request{Mode: ModeNeighborsOnly, ImageB64: imageB64, TopK: topK})
}

// IdentifyHybrid re-ranks the nearest reference dishes before summarising them.
func (s *Service) IdentifyHybrid(ctx context.Context, imageB64 string, opts HybridOptions) (*Result, error) {
	return s.Infer(ctx, Request{Mode: ModeHybrid, ImageB64: imageB64, TopK: opts.TopK, Alpha: opts.Alpha, Beta: opts.Beta})
}

// Infer runs the pipeline for req.
func (s *Service) Infer(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.Mode != ModeNeighborsOnly && req.Mode != ModeHybrid {
		return nil, &errortypes.InvalidInputError{Field: "mode", Message: fmt.Sprintf("unsupported mode %s", req.Mode)}
	}
	img, err := decodeImage(req.ImageB64)
	if err != nil {
		return nil, err
	}
	weights, err := s.resolveWeights(req)
	if err != nil {
		return nil, err
	}
	topK := s.resolveTopK(req.TopK)

	result := &Result{RequestID: uuid.NewString(), Mode: req.Mode}
	logger := s.logger.With(zap.String("request_id", result.RequestID), zap.Stringer("mode", req.Mode))

	if s.archiver != nil {
		if key, err := s.archiver.Archive(ctx, result.RequestID, img.data); err != nil {
			logger.Warn("failed to archive query photo", zap.Error(err))
		} else {
			logger.Debug("query photo archived", zap.String("key", key))
		}
	}

	query, err := s.embed(ctx, img.data, req.Mode == ModeHybrid)
	if err != nil {
		return nil, err
	}

	neighbors, err := s.retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		result.Neighbors = []retrieval.Neighbor{}
		logger.Info("no similar dishes found", zap.Int("top_k", topK))
		return result, nil
	}
	result.Neighbors = neighbors

	var prompt string
	if req.Mode == ModeHybrid {
		ranked, err := s.reranker.Rerank(ctx, query, neighbors, weights)
		if err != nil {
			return nil, fmt.Errorf("failed to re-rank neighbors: %w", err)
		}
		result.Ranked = ranked
		prompt, err = HybridPrompt(excerpt(img.encoded, s.cfg.ExcerptLength), limitRanked(ranked, s.cfg.ContextLimit))
		if err != nil {
			return nil, err
		}
	} else {
		prompt, err = NeighborsPrompt(limitNeighbors(neighbors, s.cfg.ContextLimit))
		if err != nil {
			return nil, err
		}
	}

	summary, err := s.summarize(ctx, prompt)
	if err != nil {
		return nil, err
	}
	result.Summary = summary

	logger.Info("dish identified",
		zap.Int("neighbors", len(neighbors)),
		zap.Bool("summarized", summary != nil),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

func (s *Service) embed(ctx context.Context, data []byte, augment bool) (vector.Embedding, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()

	query, err := s.embedder.EmbedImage(ctx, data, embedding.ImageOptions{TestTimeAugment: augment})
	if err != nil {
		return nil, fmt.Errorf("failed to embed image: %w", err)
	}
	return query, nil
}

func (s *Service) retrieve(ctx context.Context, query vector.Embedding, topK int) ([]retrieval.Neighbor, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()

	neighbors, err := s.retriever.QueryNeighbors(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve neighbors: %w", err)
	}
	return neighbors, nil
}

// summarize returns nil when the generator answers with no text.
func (s *Service) summarize(ctx context.Context, prompt string) (*string, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, &errortypes.SummarizationError{Err: err}
	}
	if text == "" {
		return nil, nil
	}
	return &text, nil
}

func (s *Service) resolveTopK(topK int) int {
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}
	return topK
}

func (s *Service) resolveWeights(req Request) (rerank.Weights, error) {
	w := s.cfg.Weights
	if req.Mode != ModeHybrid {
		return w, nil
	}
	if req.Alpha != nil {
		w.Alpha = *req.Alpha
	}
	if req.Beta != nil {
		w.Beta = *req.Beta
	}
	weights := []struct {
		name  string
		value float64
	}{{"alpha", w.Alpha}, {"beta", w.Beta}}
	for _, f := range weights {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return w, &errortypes.InvalidInputError{Field: f.name, Message: "must be a finite, non-negative number"}
		}
	}
	if w.Alpha == 0 && w.Beta == 0 {
		return w, &errortypes.InvalidInputError{Field: "alpha", Message: "alpha and beta cannot both be zero"}
	}
	return w, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func limitNeighbors(n []retrieval.Neighbor, limit int) []retrieval.Neighbor {
	if len(n) > limit {
		return n[:limit]
	}
	return n
}

func limitRanked(r []rerank.Ranked, limit int) []rerank.Ranked {
	if len(r) > limit {
		return r[:limit]
	}
	return r
}
