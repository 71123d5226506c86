package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env     string
	OTel    OTelConfig
	Runtime RuntimeConfig
	Search  SearchConfig
	Vector  VectorConfig
	Cache   CacheConfig
	Archive ArchiveConfig
	Engine  EngineConfig
	RichUI  bool
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// RuntimeConfig controls the local model runtime and the single-slot loader.
type RuntimeConfig struct {
	BaseURL             string
	LoadRetries         int
	LoadBackoffBase     time.Duration
	SwapSettle          time.Duration
	LoadAttemptTimeout  time.Duration
	GenerateTimeout     time.Duration
	MaxGenerationTokens int
	MaxContextTokens    int

	// SingleModel forces every agent onto one model, eliminating swaps.
	SingleModel       string
	SingleModelVRAMMB int
}

type SearchConfig struct {
	SearxURL         string
	WebK             int
	MaxContentLength int
}

type VectorConfig struct {
	URL        string
	APIKey     string
	Collection string
	K          int
}

type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

// ArchiveConfig enables the optional run archive. Empty DSN disables it.
type ArchiveConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

type EngineConfig struct {
	MaxSourcesPerQuestion int
	ConsensusThreshold    float64
	MaxDeliberationRounds int
	AgentTimeBudget       time.Duration
	MaxParseRetries       int
	RetrievalConcurrency  int
}

// Load loads configuration from environment variables.
// In development it also loads from .env; a missing file is not an error.
func Load() (Config, error) {
	if getEnv("ZEN_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env: getEnv("ZEN_ENV", "development"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "zen"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Runtime: RuntimeConfig{
			BaseURL:             getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			LoadRetries:         getEnvInt("MODEL_LOAD_RETRIES", 3),
			LoadBackoffBase:     getEnvSeconds("MODEL_LOAD_BACKOFF_BASE_SECONDS", 2),
			SwapSettle:          getEnvSeconds("MODEL_SWAP_SETTLE_SECONDS", 2),
			LoadAttemptTimeout:  getEnvSeconds("MODEL_LOAD_ATTEMPT_TIMEOUT_SECONDS", 30),
			GenerateTimeout:     getEnvSeconds("GENERATE_TIMEOUT_SECONDS", 1800),
			MaxGenerationTokens: getEnvInt("MAX_GENERATION_TOKENS", 4096),
			MaxContextTokens:    getEnvInt("MAX_CONTEXT_TOKENS", 16384),
			SingleModel:         getEnv("ZEN_SINGLE_MODEL", ""),
			SingleModelVRAMMB:   getEnvInt("ZEN_SINGLE_MODEL_VRAM", 5000),
		},
		Search: SearchConfig{
			SearxURL:         getEnv("SEARXNG_URL", ""),
			WebK:             getEnvInt("WEB_K", 5),
			MaxContentLength: getEnvInt("WEB_MAX_CONTENT_LENGTH", 5000),
		},
		Vector: VectorConfig{
			URL:        getEnv("TYPESENSE_URL", ""),
			APIKey:     getEnv("TYPESENSE_API_KEY", ""),
			Collection: getEnv("TYPESENSE_COLLECTION", "zen_knowledge"),
			K:          getEnvInt("VECTOR_K", 5),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			TTL:      time.Duration(getEnvInt("CACHE_TTL_DAYS", 7)) * 24 * time.Hour,
		},
		Archive: ArchiveConfig{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 4),
			MinConns: getEnvInt32("DB_MIN_CONNS", 1),
		},
		Engine: EngineConfig{
			MaxSourcesPerQuestion: getEnvInt("MAX_SOURCES_PER_QUESTION", 10),
			ConsensusThreshold:    getEnvFloat("CONSENSUS_THRESHOLD", 0.85),
			MaxDeliberationRounds: getEnvInt("MAX_DELIBERATION_ROUNDS", 7),
			AgentTimeBudget:       getEnvSeconds("AGENT_TIME_BUDGET_SECONDS", 1800),
			MaxParseRetries:       getEnvInt("MAX_PARSE_RETRIES", 2),
			RetrievalConcurrency:  getEnvInt("RETRIEVAL_CONCURRENCY", 4),
		},
		RichUI: getEnvBool("RICH_UI", true),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Runtime.BaseURL == "" {
		return fmt.Errorf("OLLAMA_BASE_URL is required")
	}
	if c.Runtime.LoadRetries < 1 {
		return fmt.Errorf("MODEL_LOAD_RETRIES must be at least 1, got %d", c.Runtime.LoadRetries)
	}
	if c.Engine.ConsensusThreshold < 0 || c.Engine.ConsensusThreshold > 1 {
		return fmt.Errorf("CONSENSUS_THRESHOLD must be between 0 and 1, got %g", c.Engine.ConsensusThreshold)
	}
	if c.Engine.MaxDeliberationRounds < 1 {
		return fmt.Errorf("MAX_DELIBERATION_ROUNDS must be at least 1, got %d", c.Engine.MaxDeliberationRounds)
	}
	if c.Engine.MaxSourcesPerQuestion < 1 {
		return fmt.Errorf("MAX_SOURCES_PER_QUESTION must be at least 1, got %d", c.Engine.MaxSourcesPerQuestion)
	}
	if c.Engine.RetrievalConcurrency < 1 {
		return fmt.Errorf("RETRIEVAL_CONCURRENCY must be at least 1, got %d", c.Engine.RetrievalConcurrency)
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c SearchConfig) Enabled() bool {
	return c.SearxURL != ""
}

func (c VectorConfig) Enabled() bool {
	return c.URL != ""
}

func (c CacheConfig) Enabled() bool {
	return c.RedisURL != ""
}

func (c ArchiveConfig) Enabled() bool {
	return c.DSN != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
