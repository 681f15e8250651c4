// Package config loads process configuration from the environment and agent
// rosters from YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderScripted  = "scripted"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	LogLevel   string
	LogFormat  string
	LogBackend string

	Store       string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string // optional durable idempotency ledger

	AIProvider      string
	AIModel         string
	AnthropicAPIKey string
	GeminiAPIKey    string

	// Delegation limits
	MaxConcurrentInvocations int
	MaxChainInvocations      int // 0 disables the chain budget
	InvocationTimeout        time.Duration
	MaxSteps                 int

	RosterFile string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	return &Config{
		Port:       getEnv("PORT", "8080"),
		Env:        getEnv("ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "json"),
		LogBackend: getEnv("LOG_BACKEND", "slog"),

		Store:       strings.ToLower(getEnv("STORE", StoreMemory)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/channelmesh.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		AIProvider:      strings.ToLower(getEnv("AI_PROVIDER", ProviderScripted)),
		AIModel:         os.Getenv("AI_MODEL"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),

		MaxConcurrentInvocations: getEnvInt("MAX_CONCURRENT_INVOCATIONS", 8),
		MaxChainInvocations:      getEnvInt("MAX_CHAIN_INVOCATIONS", 0),
		InvocationTimeout:        getEnvDuration("INVOCATION_TIMEOUT", 5*time.Minute),
		MaxSteps:                 getEnvInt("MAX_STEPS", 8),

		RosterFile: os.Getenv("ROSTER_FILE"),
	}
}

// Validate reports inconsistent settings.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for STORE=%s", c.Store)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE=%s", c.Store)
		}
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}

	switch c.AIProvider {
	case ProviderOpenAI, ProviderScripted:
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for AI_PROVIDER=%s", c.AIProvider)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for AI_PROVIDER=%s", c.AIProvider)
		}
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}

	if c.MaxConcurrentInvocations < 1 {
		return fmt.Errorf("MAX_CONCURRENT_INVOCATIONS must be positive")
	}
	if c.MaxChainInvocations < 0 {
		return fmt.Errorf("MAX_CHAIN_INVOCATIONS must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
