package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	// Generation backend
	LLMProvider     string // "ollama" or "stub"
	LLMBaseURL      string
	LLMModel        string // empty or "auto" enables dynamic model selection
	LLMTemperature  float64
	LLMTopP         float64
	LLMMaxTokens    int
	LLMTimeout      time.Duration
	LLMSystemPrompt string
	IncludeThinking bool

	// Persona context injected into the system prompt for personal questions
	PersonaContent string

	// Admission control
	RateLimit       int
	RateLimitWindow time.Duration
	RedisURL        string

	// Request log
	LogBackend string // "jsonl" or "sqlite"
	LogPath    string

	PresetsFile string

	OTLPEndpoint    string
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:            getEnv("ADDR", ":8000"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LLMProvider:     getEnv("LLM_PROVIDER", "ollama"),
		LLMBaseURL:      getEnv("LLM_BASE_URL", "http://localhost:11434"),
		LLMModel:        normalizeModel(getEnv("LLM_MODEL", "")),
		LLMTemperature:  getFloatEnv("LLM_TEMPERATURE", 0.7),
		LLMTopP:         getFloatEnv("LLM_TOP_P", 0.9),
		LLMMaxTokens:    getIntEnv("LLM_MAX_TOKENS", 1000),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 30*time.Second),
		LLMSystemPrompt: getEnv("LLM_SYSTEM_PROMPT", ""),
		IncludeThinking: getEnv("LLM_INCLUDE_THINKING", "false") == "true",
		RateLimit:       getIntEnv("API_RATE_LIMIT", 10),
		RateLimitWindow: getDurationEnv("API_RATE_LIMIT_WINDOW", 60*time.Second),
		RedisURL:        getEnv("REDIS_URL", ""),
		LogBackend:      getEnv("LOG_BACKEND", "jsonl"),
		LogPath:         getEnv("LOG_PATH", "logs/log.jsonl"),
		PresetsFile:     getEnv("PRESETS_FILE", ""),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	persona, err := loadPersona()
	if err != nil {
		return nil, err
	}
	cfg.PersonaContent = persona

	return cfg, nil
}

// normalizeModel maps the "pick one for me" spellings to the empty string.
func normalizeModel(model string) string {
	if model == "auto" {
		return ""
	}
	return model
}

// loadPersona reads author background content used to answer personal
// questions: PERSONA_CONTENT wins, then the PERSONA_FILE path if it exists.
func loadPersona() (string, error) {
	if content := os.Getenv("PERSONA_CONTENT"); content != "" {
		return content, nil
	}

	path := getEnv("PERSONA_FILE", "persona.txt")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read persona file %s: %w", path, err)
	}
	return string(data), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
