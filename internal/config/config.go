package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	LLMProvider          string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string
	GroqAPIKey           string
	GroqModel            string
	LLMRequestsPerMinute int

	DatabasePath       string
	EmbeddingCachePath string

	LLMTimeout         time.Duration
	IndexTimeout       time.Duration
	PreferencesTimeout time.Duration

	RetrievalMaxPerCategory int
	RetrievalMaxTotal       int
	RetrievalParallelism    int
	ReplacementTopK         int
	ReplacementNeighbors    bool

	DefaultDays        int
	DefaultMealsPerDay int

	SessionSecret string
	SessionTTL    time.Duration

	LogLevel  string
	LogFormat string

	// Ghost is an optional read-only recipe source.
	GhostURL        string
	GhostContentKey string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
	Port                   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LLM_PROVIDER", "groq")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("GEMINI_EMBEDDING_MODEL", "text-embedding-004")
	v.SetDefault("GROQ_MODEL", "llama-3.3-70b-versatile")
	v.SetDefault("LLM_REQUESTS_PER_MINUTE", 30)
	v.SetDefault("DATABASE_PATH", "data/mealplan.db")
	v.SetDefault("LLM_TIMEOUT", 30*time.Second)
	v.SetDefault("INDEX_TIMEOUT", 5*time.Second)
	v.SetDefault("PREFERENCES_TIMEOUT", 2*time.Second)
	v.SetDefault("RETRIEVAL_MAX_PER_CATEGORY", 8)
	v.SetDefault("RETRIEVAL_MAX_TOTAL", 40)
	v.SetDefault("RETRIEVAL_PARALLELISM", 4)
	v.SetDefault("REPLACEMENT_TOP_K", 5)
	v.SetDefault("REPLACEMENT_NEIGHBORS", false)
	v.SetDefault("DEFAULT_DAYS", 7)
	v.SetDefault("DEFAULT_MEALS_PER_DAY", 3)
	v.SetDefault("SESSION_TTL", 72*time.Hour)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("PORT", "8080")
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	geminiAPIKey := v.GetString("GEMINI_API_KEY")
	if geminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	provider := strings.ToLower(v.GetString("LLM_PROVIDER"))
	groqAPIKey := v.GetString("GROQ_API_KEY")
	switch provider {
	case "groq":
		if groqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	case "gemini":
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", provider)
	}

	sessionSecret := v.GetString("SESSION_SECRET")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET environment variable not set")
	}

	allowed, err := parseIDList(v.GetString("TELEGRAM_ALLOWED_USER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %w", err)
	}

	var adminID int64
	if raw := v.GetString("ADMIN_TELEGRAM_ID"); raw != "" {
		adminID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg := &Config{
		LLMProvider:             provider,
		GeminiAPIKey:            geminiAPIKey,
		GeminiModel:             v.GetString("GEMINI_MODEL"),
		GeminiEmbeddingModel:    v.GetString("GEMINI_EMBEDDING_MODEL"),
		GroqAPIKey:              groqAPIKey,
		GroqModel:               v.GetString("GROQ_MODEL"),
		LLMRequestsPerMinute:    v.GetInt("LLM_REQUESTS_PER_MINUTE"),
		DatabasePath:            v.GetString("DATABASE_PATH"),
		EmbeddingCachePath:      v.GetString("EMBEDDING_CACHE_PATH"),
		LLMTimeout:              v.GetDuration("LLM_TIMEOUT"),
		IndexTimeout:            v.GetDuration("INDEX_TIMEOUT"),
		PreferencesTimeout:      v.GetDuration("PREFERENCES_TIMEOUT"),
		RetrievalMaxPerCategory: v.GetInt("RETRIEVAL_MAX_PER_CATEGORY"),
		RetrievalMaxTotal:       v.GetInt("RETRIEVAL_MAX_TOTAL"),
		RetrievalParallelism:    v.GetInt("RETRIEVAL_PARALLELISM"),
		ReplacementTopK:         v.GetInt("REPLACEMENT_TOP_K"),
		ReplacementNeighbors:    v.GetBool("REPLACEMENT_NEIGHBORS"),
		DefaultDays:             v.GetInt("DEFAULT_DAYS"),
		DefaultMealsPerDay:      v.GetInt("DEFAULT_MEALS_PER_DAY"),
		SessionSecret:           sessionSecret,
		SessionTTL:              v.GetDuration("SESSION_TTL"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogFormat:               v.GetString("LOG_FORMAT"),
		GhostURL:                v.GetString("GHOST_API_URL"),
		GhostContentKey:         v.GetString("GHOST_CONTENT_API_KEY"),
		TelegramBotToken:        v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL:      v.GetString("TELEGRAM_WEBHOOK_URL"),
		TelegramAllowedUserIDs:  allowed,
		AdminTelegramID:         adminID,
		Port:                    v.GetString("PORT"),
	}

	if cfg.DefaultDays < 1 || cfg.DefaultDays > 30 {
		return nil, fmt.Errorf("DEFAULT_DAYS must be between 1 and 30, got %d", cfg.DefaultDays)
	}
	if cfg.DefaultMealsPerDay < 1 || cfg.DefaultMealsPerDay > 6 {
		return nil, fmt.Errorf("DEFAULT_MEALS_PER_DAY must be between 1 and 6, got %d", cfg.DefaultMealsPerDay)
	}

	return cfg, nil
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
