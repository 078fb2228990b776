package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector index backends.
const (
	VectorBackendPinecone = "pinecone"
	VectorBackendPgvector = "pgvector"
)

// Generative providers.
const (
	GeneratorGemini   = "gemini"
	GeneratorDeepSeek = "deepseek"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	ServerPort  string
	ServerHost  string
	LogLevel    string
	CORSOrigins []string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisURL      string

	// JWT configuration
	JWTSecret string

	// RateLimitPerHour caps dish inferences per user
	RateLimitPerHour int

	// Vector index
	VectorBackend     string
	PineconeAPIKey    string
	PineconeIndex     string
	PineconeHost      string
	PineconeNamespace string

	// Generative text
	GeneratorProvider string
	GeminiAPIKey      string
	GeminiModel       string
	DeepSeekAPIKey    string

	// CLIP encoder server
	ClipURL    string
	ClipModel  string
	ClipAPIKey string

	// Text embedding cache
	TextCacheSize int
	TextCacheTTL  time.Duration

	// Photo archive, disabled when ArchiveBucket is empty
	ArchiveBucket string
	ArchivePrefix string
	AWSRegion     string

	// Inference pipeline
	DefaultTopK      int
	MaxTopK          int
	Alpha            float64
	Beta             float64
	ContextLimit     int
	EmbedTimeout     time.Duration
	RetrievalTimeout time.Duration
	GenerateTimeout  time.Duration
}

// LoadConfig creates a new Config instance with values from environment variables or secrets
func LoadConfig() (*Config, error) {
	env := GetEnvironment()

	var src source
	switch env {
	case CI:
		// CI uses environment variables only
		src = os.Getenv
	case Development, Test:
		// .env is optional; variables already set win
		_ = godotenv.Load()
		src = secretOrEnv
	case Production:
		src = secretOrEnv
	default:
		return nil, fmt.Errorf("unknown environment: %s", env)
	}

	cfg, err := load(src)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s configuration: %w", env, err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// source resolves a setting by its environment variable name.
type source func(name string) string

func load(get source) (*Config, error) {
	p := parser{get: get}
	cfg := &Config{
		ServerPort:  p.str("SERVER_PORT", "8080"),
		ServerHost:  p.str("SERVER_HOST", "0.0.0.0"),
		LogLevel:    p.str("LOG_LEVEL", "info"),
		CORSOrigins: p.list("CORS_ORIGINS"),

		DBHost:     p.str("DB_HOST", "localhost"),
		DBPort:     p.str("DB_PORT", "5432"),
		DBUser:     p.str("DB_USER", "postgres"),
		DBPassword: p.str("DB_PASSWORD", ""),
		DBName:     p.str("DB_NAME", "nibble"),
		DBSSLMode:  p.str("DB_SSL_MODE", "disable"),

		RedisHost:     p.str("REDIS_HOST", "localhost"),
		RedisPort:     p.str("REDIS_PORT", "6379"),
		RedisPassword: p.str("REDIS_PASSWORD", ""),
		RedisDB:       p.integer("REDIS_DB", 0),
		RedisURL:      p.str("REDIS_URL", ""),

		JWTSecret:        p.str("JWT_SECRET", ""),
		RateLimitPerHour: p.integer("RATE_LIMIT_PER_HOUR", 30),

		VectorBackend:     strings.ToLower(p.str("VECTOR_BACKEND", VectorBackendPinecone)),
		PineconeAPIKey:    p.str("PINECONE_API_KEY", ""),
		PineconeIndex:     p.str("PINECONE_INDEX", "nibble-index-768"),
		PineconeHost:      p.str("PINECONE_HOST", ""),
		PineconeNamespace: p.str("PINECONE_NAMESPACE", ""),

		GeneratorProvider: strings.ToLower(p.str("GENERATOR_PROVIDER", GeneratorGemini)),
		GeminiAPIKey:      p.str("GEMINI_API_KEY", ""),
		GeminiModel:       p.str("GEMINI_MODEL", "gemini-2.5-flash"),
		DeepSeekAPIKey:    p.str("DEEPSEEK_API_KEY", ""),

		ClipURL:    p.str("CLIP_SERVER_URL", ""),
		ClipModel:  p.str("CLIP_MODEL", "Xenova/clip-vit-large-patch14-336"),
		ClipAPIKey: p.str("CLIP_API_KEY", ""),

		TextCacheSize: p.integer("TEXT_CACHE_SIZE", 4096),
		TextCacheTTL:  p.duration("TEXT_CACHE_TTL", 7*24*time.Hour),

		ArchiveBucket: p.str("ARCHIVE_BUCKET", ""),
		ArchivePrefix: p.str("ARCHIVE_PREFIX", "queries"),
		AWSRegion:     p.str("AWS_REGION", "us-east-1"),

		DefaultTopK:      p.integer("DEFAULT_TOP_K", 10),
		MaxTopK:          p.integer("MAX_TOP_K", 50),
		Alpha:            p.float("RERANK_ALPHA", 0.7),
		Beta:             p.float("RERANK_BETA", 0.3),
		ContextLimit:     p.integer("CONTEXT_LIMIT", 8),
		EmbedTimeout:     p.duration("EMBED_TIMEOUT", 30*time.Second),
		RetrievalTimeout: p.duration("RETRIEVAL_TIMEOUT", 10*time.Second),
		GenerateTimeout:  p.duration("GENERATE_TIMEOUT", 60*time.Second),
	}
	if len(p.errs) > 0 {
		return nil, p.errs
	}
	return cfg, nil
}

// parser collects malformed values instead of stopping at the first one.
type parser struct {
	get  source
	errs ValidationErrors
}

func (p *parser) str(name, def string) string {
	if v := strings.TrimSpace(p.get(name)); v != "" {
		return v
	}
	return def
}

func (p *parser) list(name string) []string {
	var out []string
	for _, item := range strings.Split(p.get(name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (p *parser) integer(name string, def int) int {
	raw := p.str(name, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, ValidationError{Field: name, Message: "must be an integer"})
		return def
	}
	return v
}

func (p *parser) float(name string, def float64) float64 {
	raw := p.str(name, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, ValidationError{Field: name, Message: "must be a number"})
		return def
	}
	return v
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	raw := p.str(name, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, ValidationError{Field: name, Message: "must be a duration such as 30s"})
		return def
	}
	return v
}

// secretOrEnv prefers the Docker secret named after the lowercased variable.
func secretOrEnv(name string) string {
	if v := readSecret(strings.ToLower(name)); v != "" {
		return v
	}
	return os.Getenv(name)
}

// readSecret reads a Docker secret from the secrets directory
func readSecret(name string) string {
	secretsDir := os.Getenv("SECRETS_DIR")
	if secretsDir == "" {
		secretsDir = "/run/secrets"
	}
	if data, err := os.ReadFile(filepath.Join(secretsDir, name)); err == nil {
		return strings.TrimSpace(string(data))
	}
	return ""
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
