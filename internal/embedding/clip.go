package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/resilience"
)

// ClipConfig points at a CLIP inference server.
type ClipConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type modelInfo struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

type imageEmbeddingRequest struct {
	Model  string   `json:"model"`
	Images []string `json:"images"`
}

type textEmbeddingRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// clipEncoder is an Encoder backed by a remote CLIP inference server.
type clipEncoder struct {
	baseURL   string
	model     string
	apiKey    string
	dimension int
	client    *http.Client
	policy    *resilience.Policy
}

// ClipLoader returns a Loader that asks the inference server to load cfg.Model
// and then encodes through it.
func ClipLoader(cfg ClipConfig, policy *resilience.Policy, logger *zap.Logger) Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return func(ctx context.Context) (Encoder, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("CLIP server URL is not configured")
		}
		enc := &clipEncoder{
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			model:   cfg.Model,
			apiKey:  cfg.APIKey,
			client:  &http.Client{Timeout: cfg.Timeout},
			policy:  policy,
		}

		var info modelInfo
		if err := enc.do(ctx, http.MethodGet, "/v1/models/"+cfg.Model, nil, &info); err != nil {
			return nil, err
		}
		if info.Dimension <= 0 {
			return nil, fmt.Errorf("CLIP server reported invalid dimension %d for %s", info.Dimension, cfg.Model)
		}
		enc.dimension = info.Dimension

		logger.Named("clip").Debug("model ready on inference server",
			zap.String("model", cfg.Model),
			zap.Int("dimension", info.Dimension))
		return enc, nil
	}
}

func (e *clipEncoder) Dimension() int {
	return e.dimension
}

func (e *clipEncoder) EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}

	var resp embeddingResponse
	req := imageEmbeddingRequest{Model: e.model, Images: encoded}
	if err := e.do(ctx, http.MethodPost, "/v1/embeddings/image", req, &resp); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func (e *clipEncoder) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embeddingResponse
	req := textEmbeddingRequest{Model: e.model, Texts: texts}
	if err := e.do(ctx, http.MethodPost, "/v1/embeddings/text", req, &resp); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func (e *clipEncoder) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return e.policy.Do(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &resilience.StatusError{Service: "CLIP", StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}
