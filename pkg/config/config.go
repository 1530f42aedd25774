// Package config reads the process configuration from the environment with
// the ENGRAM_ prefix. Configuration is loaded once at startup and immutable
// for the process lifetime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "ENGRAM_"

// Config is the full process configuration.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string

	// Storage selects the record store backend: "redis" or "memory".
	Storage       string
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	VectorDimensions int
	VectorIndexName  string

	EmbeddingProvider string // "ollama" or "openai"
	EmbeddingBaseURL  string
	EmbeddingModel    string

	OpenAIAPIKey  string
	CurationModel string

	APISecretKey  string
	EnableAPIAuth bool

	RateLimitPerMinute int
	RateLimitPerHour   int
	BlockDuration      time.Duration
	MaxCommentLength   int
	MaxBodyBytes       int

	AdminUsername string
	AdminPassword string

	CleanupDailySpec   string
	CleanupWeeklySpec  string
	CleanupMonthlySpec string
}

// LoadEnvFiles loads .env.local then .env if present. Missing files are not
// errors; explicit environment always wins.
func LoadEnvFiles() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		ListenAddr: getString("LISTEN_ADDR", ":8000"),
		LogLevel:   getString("LOG_LEVEL", "info"),
		LogFormat:  getString("LOG_FORMAT", "text"),

		Storage:       getString("STORAGE", "redis"),
		RedisHost:     getString("REDIS_HOST", "localhost"),
		RedisPort:     getInt("REDIS_PORT", 6379),
		RedisPassword: getString("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		VectorDimensions: getInt("VECTOR_DIMENSIONS", 1536),
		VectorIndexName:  getString("VECTOR_INDEX_NAME", "engram_idx"),

		EmbeddingProvider: getString("EMBEDDING_PROVIDER", "ollama"),
		EmbeddingBaseURL:  getString("EMBEDDING_BASE_URL", "http://localhost:11434"),
		EmbeddingModel:    getString("EMBEDDING_MODEL", "nomic-embed-text"),

		OpenAIAPIKey:  getString("OPENAI_API_KEY", ""),
		CurationModel: getString("CURATION_MODEL", "gpt-4o-mini"),

		APISecretKey:  getString("API_SECRET_KEY", ""),
		EnableAPIAuth: getBool("ENABLE_API_AUTH", true),

		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitPerHour:   getInt("RATE_LIMIT_PER_HOUR", 1000),
		BlockDuration:      time.Duration(getInt("BLOCK_DURATION_SECONDS", 3600)) * time.Second,
		MaxCommentLength:   getInt("MAX_COMMENT_LENGTH", 10000),
		MaxBodyBytes:       getInt("MAX_BODY_BYTES", 1<<20),

		AdminUsername: getString("ADMIN_USERNAME", ""),
		AdminPassword: getString("ADMIN_PASSWORD", ""),

		CleanupDailySpec:   getString("CLEANUP_DAILY_SPEC", "0 2 * * *"),
		CleanupWeeklySpec:  getString("CLEANUP_WEEKLY_SPEC", "0 3 * * 0"),
		CleanupMonthlySpec: getString("CLEANUP_MONTHLY_SPEC", "0 4 1 * *"),
	}
}

// RedisAddr joins host and port for the client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Validate checks for inconsistencies that should stop startup.
func (c *Config) Validate() error {
	if c.Storage != "redis" && c.Storage != "memory" {
		return fmt.Errorf("invalid ENGRAM_STORAGE %q: must be redis or memory", c.Storage)
	}
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("ENGRAM_VECTOR_DIMENSIONS must be positive, got %d", c.VectorDimensions)
	}
	if c.EmbeddingProvider != "ollama" && c.EmbeddingProvider != "openai" {
		return fmt.Errorf("invalid ENGRAM_EMBEDDING_PROVIDER %q: must be ollama or openai", c.EmbeddingProvider)
	}
	if c.EmbeddingProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("ENGRAM_OPENAI_API_KEY is required with the openai embedding provider")
	}
	if c.EnableAPIAuth && c.APISecretKey == "" {
		return fmt.Errorf("ENGRAM_API_SECRET_KEY is required when API auth is enabled")
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitPerHour <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return fmt.Errorf("admin username and password must be set together")
	}
	return nil
}
