package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/resilience"
)

const (
	DefaultPineconeIndex        = "nibble-index-768"
	DefaultPineconeControlPlane = "https://api.pinecone.io"
	pineconeAPIVersion          = "2024-07"
)

// PineconeConfig configures a PineconeIndex.
type PineconeConfig struct {
	APIKey    string
	IndexName string
	// Host is the data-plane host of the index. When empty it is looked up by name.
	Host            string
	ControlPlaneURL string
	Namespace       string
	Timeout         time.Duration
}

type pineconeQueryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeValues   bool      `json:"includeValues"`
	Namespace       string    `json:"namespace,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Values   []float32      `json:"values"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
	Namespace string `json:"namespace"`
}

type pineconeIndexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
}

// PineconeIndex queries a Pinecone serverless index over its REST API.
type PineconeIndex struct {
	cfg    PineconeConfig
	client *http.Client
	policy *resilience.Policy
	logger *zap.Logger

	mu   sync.Mutex
	host string
}

// NewPineconeIndex creates a PineconeIndex.
func NewPineconeIndex(cfg PineconeConfig, policy *resilience.Policy, logger *zap.Logger) (*PineconeIndex, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PINECONE_API_KEY must be set")
	}
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultPineconeIndex
	}
	if cfg.ControlPlaneURL == "" {
		cfg.ControlPlaneURL = DefaultPineconeControlPlane
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PineconeIndex{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		logger: logger.Named("pinecone"),
		host:   normalizeHost(cfg.Host),
	}, nil
}

// Query runs a nearest-neighbor query against the index.
func (p *PineconeIndex) Query(ctx context.Context, req QueryRequest) ([]Match, error) {
	host, err := p.resolveHost(ctx)
	if err != nil {
		return nil, err
	}

	body := pineconeQueryRequest{
		Vector:          req.Vector,
		TopK:            req.TopK,
		IncludeMetadata: req.IncludeMetadata,
		IncludeValues:   req.IncludeValues,
		Namespace:       p.cfg.Namespace,
	}
	var resp pineconeQueryResponse
	if err := p.do(ctx, http.MethodPost, host+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", p.cfg.IndexName, err)
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, Match{ID: m.ID, Score: m.Score, Values: m.Values, Metadata: m.Metadata})
	}
	return matches, nil
}

// resolveHost returns the data-plane host, asking the control plane once if needed.
func (p *PineconeIndex) resolveHost(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.host != "" {
		return p.host, nil
	}

	var desc pineconeIndexDescription
	url := strings.TrimRight(p.cfg.ControlPlaneURL, "/") + "/indexes/" + p.cfg.IndexName
	if err := p.do(ctx, http.MethodGet, url, nil, &desc); err != nil {
		return "", fmt.Errorf("failed to describe index %s: %w", p.cfg.IndexName, err)
	}
	if desc.Host == "" {
		return "", fmt.Errorf("index %s has no host", p.cfg.IndexName)
	}

	p.host = normalizeHost(desc.Host)
	p.logger.Info("resolved index host",
		zap.String("index", p.cfg.IndexName),
		zap.String("host", p.host),
		zap.Int("dimension", desc.Dimension))
	return p.host, nil
}

func (p *PineconeIndex) do(ctx context.Context, method, url string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return p.policy.Do(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Api-Key", p.cfg.APIKey)
		req.Header.Set("X-Pinecone-API-Version", pineconeAPIVersion)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &resilience.StatusError{Service: "Pinecone", StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}

func normalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return ""
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host
}
