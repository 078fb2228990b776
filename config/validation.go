package config

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

// ValidateConfig checks if the configuration meets the requirements for the current environment
func ValidateConfig(cfg *Config) error {
	env := GetEnvironment()
	var errs ValidationErrors
	require := func(value, field string) {
		if value == "" {
			errs = append(errs, ValidationError{Field: field, Message: "is required"})
		}
	}

	require(cfg.JWTSecret, "JWT_SECRET")
	require(cfg.ClipURL, "CLIP_SERVER_URL")

	switch cfg.VectorBackend {
	case VectorBackendPinecone:
		require(cfg.PineconeAPIKey, "PINECONE_API_KEY")
	case VectorBackendPgvector:
		if env == Production || env == CI {
			require(cfg.DBPassword, "DB_PASSWORD")
		}
	default:
		errs = append(errs, ValidationError{Field: "VECTOR_BACKEND", Message: fmt.Sprintf("unsupported backend %q", cfg.VectorBackend)})
	}

	switch cfg.GeneratorProvider {
	case GeneratorGemini:
		require(cfg.GeminiAPIKey, "GEMINI_API_KEY")
	case GeneratorDeepSeek:
		require(cfg.DeepSeekAPIKey, "DEEPSEEK_API_KEY")
	default:
		errs = append(errs, ValidationError{Field: "GENERATOR_PROVIDER", Message: fmt.Sprintf("unsupported provider %q", cfg.GeneratorProvider)})
	}

	if cfg.DefaultTopK <= 0 {
		errs = append(errs, ValidationError{Field: "DEFAULT_TOP_K", Message: "must be positive"})
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		errs = append(errs, ValidationError{Field: "MAX_TOP_K", Message: "must not be below DEFAULT_TOP_K"})
	}
	if cfg.ContextLimit <= 0 {
		errs = append(errs, ValidationError{Field: "CONTEXT_LIMIT", Message: "must be positive"})
	}
	if invalidWeight(cfg.Alpha) {
		errs = append(errs, ValidationError{Field: "RERANK_ALPHA", Message: "must be a finite, non-negative number"})
	}
	if invalidWeight(cfg.Beta) {
		errs = append(errs, ValidationError{Field: "RERANK_BETA", Message: "must be a finite, non-negative number"})
	}
	if cfg.Alpha == 0 && cfg.Beta == 0 {
		errs = append(errs, ValidationError{Field: "RERANK_ALPHA", Message: "RERANK_ALPHA and RERANK_BETA cannot both be zero"})
	}
	if cfg.RateLimitPerHour <= 0 {
		errs = append(errs, ValidationError{Field: "RATE_LIMIT_PER_HOUR", Message: "must be positive"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func invalidWeight(w float64) bool {
	return math.IsNaN(w) || math.IsInf(w, 0) || w < 0
}
