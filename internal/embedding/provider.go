// Package embedding turns photos and ingredient text into L2-normalised vectors
// in a shared CLIP embedding space.
package embedding

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/errortypes"
	"github.com/pageza/nibble/backend/internal/vector"
)

const (
	// DefaultModel is the CLIP checkpoint the reference index was built with.
	DefaultModel = "Xenova/clip-vit-large-patch14-336"
	// DefaultMaxImageSide bounds the longer side of an image before it is sent to the encoder.
	DefaultMaxImageSide = 672
	// DefaultLoadTimeout bounds a single model load attempt.
	DefaultLoadTimeout = 2 * time.Minute
)

// Encoder is a loaded vision/text model.
type Encoder interface {
	// Dimension is the length of every vector the encoder returns.
	Dimension() int
	// EncodeImages returns one raw vector per image, in order.
	EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error)
	// EncodeTexts returns one raw vector per text, in order.
	EncodeTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader initialises an Encoder. It is called at most once per successful load.
type Loader func(ctx context.Context) (Encoder, error)

// ImageOptions controls how a photo is embedded.
type ImageOptions struct {
	// TestTimeAugment averages the embeddings of the photo and its horizontal mirror.
	TestTimeAugment bool
}

// Config configures a Provider.
type Config struct {
	Model        string
	MaxImageSide int
	LoadTimeout  time.Duration
}

// Provider embeds images and texts with a lazily loaded Encoder shared by all callers.
type Provider struct {
	load        Loader
	model       string
	maxSide     int
	loadTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	encoder Encoder
	pending *loadCall
}

// loadCall is a model load in flight. done is closed once encoder or err is set.
type loadCall struct {
	done    chan struct{}
	encoder Encoder
	err     error
}

// NewProvider creates a Provider. The model is not loaded until first use.
func NewProvider(cfg Config, load Loader, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxImageSide == 0 {
		cfg.MaxImageSide = DefaultMaxImageSide
	}
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	return &Provider{
		load:        load,
		model:       cfg.Model,
		maxSide:     cfg.MaxImageSide,
		loadTimeout: cfg.LoadTimeout,
		logger:      logger.Named("embedding"),
	}
}

// Model returns the name of the model this provider serves.
func (p *Provider) Model() string {
	return p.model
}

// Warmup loads the model ahead of the first request.
func (p *Provider) Warmup(ctx context.Context) error {
	_, err := p.encoderFor(ctx)
	return err
}

// EmbedImage decodes a photo and returns its normalised embedding.
func (p *Provider) EmbedImage(ctx context.Context, data []byte, opts ImageOptions) (vector.Embedding, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &errortypes.InvalidImageError{Err: err}
	}
	if p.maxSide > 0 {
		b := img.Bounds()
		if b.Dx() > p.maxSide || b.Dy() > p.maxSide {
			img = imaging.Fit(img, p.maxSide, p.maxSide, imaging.Lanczos)
		}
	}

	views := []image.Image{img}
	if opts.TestTimeAugment {
		views = append(views, imaging.FlipH(img))
	}

	enc, err := p.encoderFor(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := enc.EncodeImages(ctx, views)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	vecs, err := p.normalizeAll(enc, raw, len(views))
	if err != nil {
		return nil, err
	}

	if len(vecs) == 1 {
		return vecs[0], nil
	}
	parts := make([][]float32, len(vecs))
	for i, v := range vecs {
		parts[i] = v
	}
	return vector.Normalize(vector.Mean(parts...)), nil
}

// EmbedTexts returns one normalised embedding per text, in input order.
func (p *Provider) EmbedTexts(ctx context.Context, texts []string) ([]vector.Embedding, error) {
	if len(texts) == 0 {
		return []vector.Embedding{}, nil
	}

	enc, err := p.encoderFor(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := enc.EncodeTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode texts: %w", err)
	}
	return p.normalizeAll(enc, raw, len(texts))
}

func (p *Provider) normalizeAll(enc Encoder, raw [][]float32, want int) ([]vector.Embedding, error) {
	if len(raw) != want {
		return nil, fmt.Errorf("encoder returned %d vectors for %d inputs", len(raw), want)
	}
	dim := enc.Dimension()
	out := make([]vector.Embedding, len(raw))
	for i, v := range raw {
		if dim > 0 && len(v) != dim {
			return nil, fmt.Errorf("encoder returned vector of length %d, expected %d", len(v), dim)
		}
		out[i] = vector.Normalize(v)
	}
	return out, nil
}

// encoderFor returns the loaded encoder, starting the shared load if none is in
// flight. Giving up on ctx does not cancel the load for other callers.
func (p *Provider) encoderFor(ctx context.Context) (Encoder, error) {
	p.mu.Lock()
	if p.encoder != nil {
		enc := p.encoder
		p.mu.Unlock()
		return enc, nil
	}
	call := p.pending
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		p.pending = call
		go p.runLoad(call)
	}
	p.mu.Unlock()

	select {
	case <-call.done:
		if call.err != nil {
			return nil, call.err
		}
		return call.encoder, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed waiting for model %s: %w", p.model, ctx.Err())
	}
}

func (p *Provider) runLoad(call *loadCall) {
	ctx, cancel := context.WithTimeout(context.Background(), p.loadTimeout)
	defer cancel()

	start := time.Now()
	p.logger.Info("loading model", zap.String("model", p.model))
	enc, err := p.load(ctx)
	if err == nil && enc == nil {
		err = fmt.Errorf("loader returned no encoder")
	}

	p.mu.Lock()
	p.pending = nil
	if err != nil {
		call.err = &errortypes.ModelLoadError{Model: p.model, Err: err}
	} else {
		p.encoder = enc
		call.encoder = enc
	}
	p.mu.Unlock()
	close(call.done)

	if err != nil {
		p.logger.Error("model load failed", zap.String("model", p.model), zap.Error(err))
		return
	}
	p.logger.Info("model loaded",
		zap.String("model", p.model),
		zap.Int("dimension", enc.Dimension()),
		zap.Duration("took", time.Since(start)))
}
