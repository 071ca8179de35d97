package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings holds all process-wide configuration. It is loaded once at startup
// and immutable thereafter.
type Settings struct {
	// Store connection.
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresSSLMode  string

	// Ingestion bounds.
	ChunkMinTokens     int
	ChunkMaxTokens     int
	ChunkOverlapTokens int

	// Retrieval defaults.
	DefaultRetrievalN  int
	DefaultRerankK     int
	DefaultTokenBudget int
	DefaultSpeaker     string

	// Model identifiers and auth.
	ChatModel           string
	EmbeddingModel      string
	EmbeddingDimensions int
	OpenAIAPIKey        string
	AnthropicAPIKey     string

	// Optional query-embedding cache.
	RedisAddr string

	// Tracing.
	LangsmithAPIKey  string
	LangsmithProject string
	LangsmithTracing bool

	// HTTP binding.
	APIHost    string
	APIPort    int
	APIBaseURL string
}

// Load reads settings from the environment, first merging an optional .env
// file from the working directory. Environment variables already set take
// precedence over .env entries.
func Load() (*Settings, error) {
	// Missing .env is fine; the environment alone may be complete.
	_ = godotenv.Load()

	s := &Settings{
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvInt("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "transcriptqa"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		ChunkMinTokens:     getEnvInt("CHUNK_MIN_TOKENS", 400),
		ChunkMaxTokens:     getEnvInt("CHUNK_MAX_TOKENS", 800),
		ChunkOverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 50),

		DefaultRetrievalN:  getEnvInt("DEFAULT_RETRIEVAL_N", 50),
		DefaultRerankK:     getEnvInt("DEFAULT_RERANK_K", 8),
		DefaultTokenBudget: getEnvInt("DEFAULT_TOKEN_BUDGET", 8000),
		DefaultSpeaker:     getEnv("DEFAULT_SPEAKER", "Unknown"),

		ChatModel:           getEnv("CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		LangsmithAPIKey:  getEnv("LANGSMITH_API_KEY", ""),
		LangsmithProject: getEnv("LANGSMITH_PROJECT", "transcriptqa"),
		LangsmithTracing: getEnvBool("LANGSMITH_TRACING", false),

		APIHost:    getEnv("API_HOST", "0.0.0.0"),
		APIPort:    getEnvInt("API_PORT", 8000),
		APIBaseURL: getEnv("API_BASE_URL", ""),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks invariants that would otherwise surface as confusing
// failures deep inside the store or the embedder.
func (s *Settings) Validate() error {
	v := NewValidator()

	v.RequireNonEmpty("postgres_user", s.PostgresUser)
	v.RequireNonEmpty("postgres_host", s.PostgresHost)
	v.RequireNonEmpty("postgres_db", s.PostgresDB)
	v.ValidatePort("postgres_port", s.PostgresPort)
	v.ValidateOneOf("postgres_sslmode", s.PostgresSSLMode, "disable", "require", "verify-ca", "verify-full")

	v.RequirePositive("chunk_min_tokens", s.ChunkMinTokens)
	v.RequirePositive("chunk_max_tokens", s.ChunkMaxTokens)
	if s.ChunkMaxTokens < s.ChunkMinTokens {
		v.Add("chunk_max_tokens", fmt.Sprintf("must be >= chunk_min_tokens (%d), got %d", s.ChunkMinTokens, s.ChunkMaxTokens))
	}
	if s.ChunkOverlapTokens < 0 || s.ChunkOverlapTokens >= s.ChunkMaxTokens {
		v.Add("chunk_overlap_tokens", fmt.Sprintf("must be in [0, chunk_max_tokens), got %d", s.ChunkOverlapTokens))
	}

	v.RequirePositive("default_retrieval_n", s.DefaultRetrievalN)
	v.RequirePositive("default_rerank_k", s.DefaultRerankK)
	v.ValidateRange("default_token_budget", s.DefaultTokenBudget, 100, 1<<20)

	v.RequireNonEmpty("chat_model", s.ChatModel)
	v.RequireNonEmpty("embedding_model", s.EmbeddingModel)
	v.RequirePositive("embedding_dimensions", s.EmbeddingDimensions)

	v.ValidatePort("api_port", s.APIPort)

	return v.Error()
}

// DSN renders the lib/pq connection string.
func (s *Settings) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.PostgresHost, s.PostgresPort, s.PostgresUser, s.PostgresPassword, s.PostgresDB, s.PostgresSSLMode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
