package config

import (
	"os"
	"strconv"
)

type Config struct {
	GoogleApiKey   string
	ExaApiKey      string
	DatabaseURL    string
	ReasoningModel string
	FastModel      string
	EmbeddingModel string
	Port           string
	SearchResults  int
	Depth          int
	Breadth        int
}

func Load() *Config {
	return &Config{
		GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
		ExaApiKey:      getEnv("EXASEARCH_API_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ReasoningModel: getEnv("REASONING_MODEL", "gemini-3-pro-preview"),
		FastModel:      getEnv("FAST_MODEL", "gemini-3-flash-preview"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		Port:           getEnv("PORT", "3000"),
		SearchResults:  getEnvAsInt("SEARCH_RESULTS", 1),
		Depth:          getEnvAsInt("RESEARCH_DEPTH", 2),
		Breadth:        getEnvAsInt("RESEARCH_BREADTH", 2),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
