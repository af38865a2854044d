package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the agent. Values come from environment
// variables; LoadConfig applies defaults suitable for local development and
// validates the result.
type Config struct {
	// Server configuration
	ServerPort string
	ServerHost string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis configuration
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// LLM configuration
	LLMAPIKey        string
	LLMAPIURL        string
	LLMModel         string
	LLMFallbackModel string

	// Embedding configuration
	EmbeddingModel      string
	EmbeddingDimensions int

	// Cache backend: "memory" or "redis"
	CacheBackend string

	// Security
	ServiceToken   string
	JWTSecret      string
	AllowedOrigins []string
}

// LoadConfig creates a new Config instance from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "8000"),
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "kairos_agent"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		RedisURL:      os.Getenv("REDIS_URL"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LLMAPIURL:        getEnv("LLM_API_URL", "https://api.deepseek.com/v1"),
		LLMModel:         getEnv("LLM_MODEL", "deepseek-chat"),
		LLMFallbackModel: getEnv("LLM_FALLBACK_MODEL", ""),

		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 768),

		CacheBackend: getEnv("CACHE_BACKEND", "memory"),

		ServiceToken: os.Getenv("SERVICE_TOKEN"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
	}

	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	apiKey, err := loadLLMAPIKey()
	if err != nil {
		return nil, err
	}
	cfg.LLMAPIKey = apiKey

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadLLMAPIKey reads the LLM API key from LLM_API_KEY or from the file named
// by LLM_API_KEY_FILE (Docker secrets style).
func loadLLMAPIKey() (string, error) {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		return key, nil
	}

	keyFile := os.Getenv("LLM_API_KEY_FILE")
	if keyFile == "" {
		return "", fmt.Errorf("LLM_API_KEY or LLM_API_KEY_FILE must be set")
	}

	data, err := os.ReadFile(keyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read API key file: %w", err)
	}

	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("API key file is empty")
	}
	return key, nil
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
