package config

import "fmt"

// ValidateConfig checks that required configuration values are present.
func ValidateConfig(cfg *Config) error {
	if cfg.ServerPort == "" {
		return fmt.Errorf("server port is required")
	}
	if cfg.DBHost == "" || cfg.DBName == "" {
		return fmt.Errorf("database host and name are required")
	}
	if cfg.LLMAPIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	switch cfg.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q (expected memory or redis)", cfg.CacheBackend)
	}
	if cfg.CacheBackend == "redis" && cfg.RedisURL == "" && cfg.RedisHost == "" {
		return fmt.Errorf("redis cache backend requires REDIS_URL or REDIS_HOST")
	}
	return nil
}
