// Package generative talks to the text generation services that turn neighbor
// context into a dish estimate.
package generative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pageza/nibble/backend/internal/resilience"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// postJSON sends body to url under policy and decodes a 200 answer into out.
func postJSON(ctx context.Context, client *http.Client, policy *resilience.Policy, service, url string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &resilience.StatusError{Service: service, StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}
