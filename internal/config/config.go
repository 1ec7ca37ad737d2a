package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// DatabaseDSN is the SQLite data source. Defaults to a local file;
	// ":memory:" gives an ephemeral store.
	DatabaseDSN string

	// LogLevel is a zerolog level name (trace, debug, info, warn, error).
	LogLevel string

	// EmbedBatchSize bounds the embedding backfill batch size.
	EmbedBatchSize int

	// ViewStateDebounce is the coalescing window for view-state writes.
	ViewStateDebounce time.Duration

	// EmbedEndpoint and EmbedModel identify the embedding provider.
	EmbedEndpoint string
	EmbedModel    string

	// OpenRouterKey and MemoryModel configure LLM memory extraction.
	// Extraction stays disabled while either is empty.
	OpenRouterKey string
	MemoryModel   string
}

// Load reads configuration from environment variables, with a .env file
// overlay for development when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseDSN:       getEnv("FLOWCHAT_DB", "flowchat.db"),
		LogLevel:          getEnv("FLOWCHAT_LOG_LEVEL", "info"),
		EmbedBatchSize:    getEnvInt("FLOWCHAT_EMBED_BATCH", 32),
		ViewStateDebounce: time.Duration(getEnvInt("FLOWCHAT_DEBOUNCE_MS", 200)) * time.Millisecond,
		EmbedEndpoint:     os.Getenv("FLOWCHAT_EMBED_ENDPOINT"),
		EmbedModel:        getEnv("FLOWCHAT_EMBED_MODEL", "mxbai-embed-large"),
		OpenRouterKey:     os.Getenv("FLOWCHAT_OPENROUTER_KEY"),
		MemoryModel:       os.Getenv("FLOWCHAT_MEMORY_MODEL"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
