package generative

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/resilience"
)

const (
	DefaultDeepSeekURL   = "https://api.deepseek.com/v1/chat/completions"
	DefaultDeepSeekModel = "deepseek-chat"
)

const nutritionistPrompt = "You are a nutrition expert who identifies dishes from reference data. Respond only with a single JSON object."

// DeepSeekConfig configures a DeepSeekClient.
type DeepSeekConfig struct {
	APIKey  string
	APIURL  string
	Model   string
	Timeout time.Duration
}

// Message represents a message in the chat
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents a request to the DeepSeek API
type Request struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// DeepSeekClient calls an OpenAI-compatible chat completions endpoint.
type DeepSeekClient struct {
	cfg    DeepSeekConfig
	client *http.Client
	policy *resilience.Policy
	logger *zap.Logger
}

// NewDeepSeekClient creates a DeepSeekClient.
func NewDeepSeekClient(cfg DeepSeekConfig, policy *resilience.Policy, logger *zap.Logger) (*DeepSeekClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("DEEPSEEK_API_KEY must be set")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultDeepSeekURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepSeekModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepSeekClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		logger: logger.Named("deepseek"),
	}, nil
}

// Generate returns the content of the first choice.
func (d *DeepSeekClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := Request{
		Model: d.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: nutritionistPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{
			"type": "json_object",
		},
		Temperature: 0.2,
	}
	headers := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", d.cfg.APIKey)}

	var result chatResponse
	if err := postJSON(ctx, d.client, d.policy, "DeepSeek", d.cfg.APIURL, headers, reqBody, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no response from API")
	}

	d.logger.Debug("completion received", zap.Int("chars", len(result.Choices[0].Message.Content)))
	return result.Choices[0].Message.Content, nil
}
