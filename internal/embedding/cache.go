package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultTextCacheSize is the number of text vectors kept in process.
	DefaultTextCacheSize = 4096
	// DefaultTextCacheTTL is how long a text vector lives in Redis.
	DefaultTextCacheTTL = 7 * 24 * time.Hour
)

// TextCacheConfig configures a TextCache.
type TextCacheConfig struct {
	Model string
	Size  int
	TTL   time.Duration
}

// TextCache is an Encoder that remembers text vectors. Lookups go to an
// in-process LRU first and Redis second; image encoding passes straight through.
type TextCache struct {
	next   Encoder
	model  string
	local  *lru.Cache[string, []float32]
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewTextCache wraps next. rdb may be nil, in which case only the LRU is used.
func NewTextCache(next Encoder, cfg TextCacheConfig, rdb *redis.Client, logger *zap.Logger) (*TextCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultTextCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTextCacheTTL
	}
	local, err := lru.New[string, []float32](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create text cache: %w", err)
	}
	return &TextCache{
		next:   next,
		model:  cfg.Model,
		local:  local,
		redis:  rdb,
		ttl:    cfg.TTL,
		logger: logger.Named("embedding.cache"),
	}, nil
}

// WithTextCache decorates a Loader so the loaded encoder is wrapped in a TextCache.
func WithTextCache(load Loader, cfg TextCacheConfig, rdb *redis.Client, logger *zap.Logger) Loader {
	return func(ctx context.Context) (Encoder, error) {
		enc, err := load(ctx)
		if err != nil {
			return nil, err
		}
		cache, err := NewTextCache(enc, cfg, rdb, logger)
		if err != nil {
			return nil, err
		}
		return cache, nil
	}
}

func (c *TextCache) Dimension() int {
	return c.next.Dimension()
}

func (c *TextCache) EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	return c.next.EncodeImages(ctx, images)
}

func (c *TextCache) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missing []int
	for i, text := range texts {
		keys[i] = c.key(text)
		if v, ok := c.local.Get(keys[i]); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 && c.redis != nil {
		missing = c.fillFromRedis(ctx, keys, missing, out)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vecs, err := c.next.EncodeTexts(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(pending) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), len(pending))
	}

	var pipe redis.Pipeliner
	if c.redis != nil {
		pipe = c.redis.Pipeline()
	}
	for j, i := range missing {
		out[i] = vecs[j]
		c.local.Add(keys[i], vecs[j])
		if pipe != nil {
			pipe.Set(ctx, keys[i], encodeFloats(vecs[j]), c.ttl)
		}
	}
	if pipe != nil {
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Warn("failed to store text embeddings", zap.Error(err))
		}
	}
	return out, nil
}

// fillFromRedis resolves what it can from Redis and returns the indexes still missing.
func (c *TextCache) fillFromRedis(ctx context.Context, keys []string, missing []int, out [][]float32) []int {
	lookup := make([]string, len(missing))
	for j, i := range missing {
		lookup[j] = keys[i]
	}
	vals, err := c.redis.MGet(ctx, lookup...).Result()
	if err != nil {
		c.logger.Warn("text embedding lookup failed", zap.Error(err))
		return missing
	}

	var still []int
	for j, i := range missing {
		raw, ok := vals[j].(string)
		if !ok {
			still = append(still, i)
			continue
		}
		v, err := decodeFloats([]byte(raw))
		if err != nil {
			c.logger.Warn("discarding corrupt cached embedding", zap.String("key", keys[i]), zap.Error(err))
			still = append(still, i)
			continue
		}
		out[i] = v
		c.local.Add(keys[i], v)
	}
	return still
}

func (c *TextCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:text:%s:%s", c.model, hex.EncodeToString(sum[:]))
}

func encodeFloats(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
