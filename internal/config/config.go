// Package config provides configuration management for gs-assist.
// It loads settings from environment variables with the GSASSIST_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration settings for the gs-assist server.
type Config struct {
	Server    ServerConfig
	Index     IndexConfig
	Embedding EmbeddingConfig
	Vocab     VocabConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6380)
	Host string // Server host (default: 127.0.0.1)
}

// IndexConfig contains vector index storage configuration.
type IndexConfig struct {
	Engine      string // Index engine: sqlite, postgres (default: sqlite)
	DataPath    string // SQLite database path (default: ./data/entities.db)
	PostgresDSN string // Postgres DSN, required when Engine is postgres
}

// EmbeddingConfig contains embedding backend configuration.
type EmbeddingConfig struct {
	OllamaURL         string  // Ollama API URL (default: http://localhost:11434)
	Model             string  // Embedding model name (default: nomic-embed-text)
	Dimensions        int     // Embedding dimension (default: 768)
	RequestsPerSecond float64 // Backend rate limit (default: 10)
}

// VocabConfig contains business vocabulary configuration.
type VocabConfig struct {
	FilePath string // Optional YAML vocabulary file, hot-reloaded when set
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the GSASSIST_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("GSASSIST_PORT", 6380),
			Host: getEnv("GSASSIST_HOST", "127.0.0.1"),
		},
		Index: IndexConfig{
			Engine:      getEnv("GSASSIST_INDEX_ENGINE", "sqlite"),
			DataPath:    getEnv("GSASSIST_DATA_PATH", "./data/entities.db"),
			PostgresDSN: getEnv("GSASSIST_POSTGRES_DSN", ""),
		},
		Embedding: EmbeddingConfig{
			OllamaURL:         getEnv("GSASSIST_OLLAMA_URL", "http://localhost:11434"),
			Model:             getEnv("GSASSIST_EMBEDDING_MODEL", "nomic-embed-text"),
			Dimensions:        getEnvInt("GSASSIST_EMBEDDING_DIMENSIONS", 768),
			RequestsPerSecond: getEnvFloat("GSASSIST_EMBEDDING_RPS", 10),
		},
		Vocab: VocabConfig{
			FilePath: getEnv("GSASSIST_VOCAB_FILE", ""),
		},
	}

	if cfg.Index.Engine != "sqlite" && cfg.Index.Engine != "postgres" {
		return nil, fmt.Errorf("config: unknown index engine %q", cfg.Index.Engine)
	}
	if cfg.Index.Engine == "postgres" && cfg.Index.PostgresDSN == "" {
		return nil, fmt.Errorf("config: GSASSIST_POSTGRES_DSN is required for the postgres engine")
	}
	return cfg, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
