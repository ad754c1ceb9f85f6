package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on minimal images

	"github.com/allfoodsicily/draftdesk/internal/cloudsql"
	"github.com/allfoodsicily/draftdesk/internal/generation"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Database   DatabaseConfig
	Schedule   ScheduleConfig
	Pipeline   PipelineConfig
	Generation GenerationConfig
	Telegram   TelegramConfig
	Auth       AuthConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig configures the optional topic history store. URL comes from
// DATABASE_URL or the Cloud SQL variables and is empty when neither is set.
type DatabaseConfig struct {
	URL              string
	HistoryRetention time.Duration
}

// ScheduleConfig configures the daily run.
type ScheduleConfig struct {
	Enabled   bool
	TimeOfDay string
	Timezone  string
	Location  *time.Location
}

// PipelineConfig bounds each stage of a run.
type PipelineConfig struct {
	SourcesFile              string
	MinTopics                int
	MaxTopics                int
	MaxConcurrentFetches     int // 0 fetches every source at once
	MaxConcurrentGenerations int
	FetchTimeout             time.Duration
	BatchTimeout             time.Duration
	MinWords                 int
	MaxWords                 int
	IllustrationPolicy       generation.IllustrationPolicy
	RetryMaxAttempts         int
	RetryBaseDelay           time.Duration
	RetryMaxDelay            time.Duration
}

// GenerationConfig selects and authenticates the model providers.
type GenerationConfig struct {
	TextProvider     string // openai | anthropic
	ImagesEnabled    bool
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIImageModel string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicModel   string
}

// TelegramConfig configures delivery and the command listener.
type TelegramConfig struct {
	BotToken        string
	ChatID          string
	BaseURL         string
	ListenerEnabled bool
}

// AuthConfig protects the run endpoints of the HTTP API.
type AuthConfig struct {
	JWTSecret         string
	AdminPasswordHash string
	TokenDuration     time.Duration
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultTimeOfDay = "09:00"
	defaultTimezone  = "Europe/Rome"

	defaultTextProvider = "openai"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided. Malformed values are errors; missing credentials
// are reported by Validate.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			HistoryRetention: 14 * 24 * time.Hour,
		},
		Schedule: ScheduleConfig{
			Enabled:   true,
			TimeOfDay: getEnv("RUN_TIME_OF_DAY", defaultTimeOfDay),
			Timezone:  getEnv("TIMEZONE", defaultTimezone),
		},
		Pipeline: PipelineConfig{
			SourcesFile:              os.Getenv("SOURCES_FILE"),
			MinTopics:                3,
			MaxTopics:                5,
			MaxConcurrentFetches:     0,
			MaxConcurrentGenerations: 3,
			FetchTimeout:             60 * time.Second,
			BatchTimeout:             10 * time.Minute,
			MinWords:                 500,
			MaxWords:                 800,
			IllustrationPolicy:       generation.IllustrationTextOnly,
			RetryMaxAttempts:         3,
			RetryBaseDelay:           time.Second,
			RetryMaxDelay:            30 * time.Second,
		},
		Generation: GenerationConfig{
			TextProvider:     strings.ToLower(getEnv("TEXT_PROVIDER", defaultTextProvider)),
			ImagesEnabled:    true,
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:      os.Getenv("OPENAI_MODEL"),
			OpenAIImageModel: os.Getenv("OPENAI_IMAGE_MODEL"),
			OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
			AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicModel:   os.Getenv("ANTHROPIC_MODEL"),
		},
		Telegram: TelegramConfig{
			BotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:          os.Getenv("TELEGRAM_CHAT_ID"),
			BaseURL:         os.Getenv("TELEGRAM_API_URL"),
			ListenerEnabled: true,
		},
		Auth: AuthConfig{
			JWTSecret:         os.Getenv("ADMIN_JWT_SECRET"),
			AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
			TokenDuration:     24 * time.Hour,
		},
	}

	parsers := []func() error{
		secondsEnv("SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout),
		secondsEnv("SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout),
		secondsEnv("SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout),
		hoursEnv("HISTORY_RETENTION_HOURS", &cfg.Database.HistoryRetention),
		boolEnv("SCHEDULE_ENABLED", &cfg.Schedule.Enabled),
		intEnv("MIN_TOPICS", &cfg.Pipeline.MinTopics),
		intEnv("MAX_TOPICS", &cfg.Pipeline.MaxTopics),
		intEnv("MAX_CONCURRENT_FETCHES", &cfg.Pipeline.MaxConcurrentFetches),
		intEnv("MAX_CONCURRENT_GENERATIONS", &cfg.Pipeline.MaxConcurrentGenerations),
		secondsEnv("FETCH_TIMEOUT_SECONDS", &cfg.Pipeline.FetchTimeout),
		secondsEnv("BATCH_TIMEOUT_SECONDS", &cfg.Pipeline.BatchTimeout),
		intEnv("MIN_WORDS", &cfg.Pipeline.MinWords),
		intEnv("MAX_WORDS", &cfg.Pipeline.MaxWords),
		intEnv("RETRY_MAX_ATTEMPTS", &cfg.Pipeline.RetryMaxAttempts),
		millisEnv("RETRY_BASE_DELAY_MS", &cfg.Pipeline.RetryBaseDelay),
		millisEnv("RETRY_MAX_DELAY_MS", &cfg.Pipeline.RetryMaxDelay),
		boolEnv("GENERATE_IMAGES", &cfg.Generation.ImagesEnabled),
		boolEnv("TELEGRAM_LISTENER_ENABLED", &cfg.Telegram.ListenerEnabled),
		hoursEnv("ADMIN_TOKEN_HOURS", &cfg.Auth.TokenDuration),
	}
	for _, parse := range parsers {
		if err := parse(); err != nil {
			return Config{}, err
		}
	}

	dbURL, err := cloudsql.BuildDatabaseURL(os.Getenv)
	if err != nil {
		return Config{}, fmt.Errorf("invalid database settings: %w", err)
	}
	cfg.Database.URL = dbURL

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("ILLUSTRATION_FAILURE_POLICY"); v != "" {
		policy, err := generation.ParseIllustrationPolicy(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ILLUSTRATION_FAILURE_POLICY: %w", err)
		}
		cfg.Pipeline.IllustrationPolicy = policy
	}

	switch cfg.Generation.TextProvider {
	case "openai", "anthropic":
	default:
		return Config{}, fmt.Errorf("invalid TEXT_PROVIDER: must be 'openai' or 'anthropic'")
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Schedule.Location = loc

	if cfg.Pipeline.MinTopics < 1 || cfg.Pipeline.MaxTopics < cfg.Pipeline.MinTopics {
		return Config{}, fmt.Errorf("invalid topic bounds: need 1 <= MIN_TOPICS (%d) <= MAX_TOPICS (%d)", cfg.Pipeline.MinTopics, cfg.Pipeline.MaxTopics)
	}
	if cfg.Pipeline.MaxWords < cfg.Pipeline.MinWords {
		return Config{}, fmt.Errorf("invalid word bounds: MIN_WORDS (%d) > MAX_WORDS (%d)", cfg.Pipeline.MinWords, cfg.Pipeline.MaxWords)
	}

	return cfg, nil
}

// Validate reports every missing setting a run needs. A failing Validate
// fails runs during setup.
func (c Config) Validate() error {
	var errs []error

	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.Telegram.ChatID == "" {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required"))
	}

	needOpenAI := c.Generation.TextProvider == "openai" || c.Generation.ImagesEnabled
	if needOpenAI && c.Generation.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Generation.TextProvider == "anthropic" && c.Generation.AnthropicAPIKey == "" {
		errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when TEXT_PROVIDER=anthropic"))
	}

	return errors.Join(errs...)
}

func intEnv(key string, dst *int) func() error {
	return func() error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s: must be a positive integer", key)
		}
		*dst = n
		return nil
	}
}

func boolEnv(key string, dst *bool) func() error {
	return func() error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: must be true or false", key)
		}
		*dst = b
		return nil
	}
}

func secondsEnv(key string, dst *time.Duration) func() error {
	return durationEnv(key, time.Second, dst)
}

func millisEnv(key string, dst *time.Duration) func() error {
	return durationEnv(key, time.Millisecond, dst)
}

func hoursEnv(key string, dst *time.Duration) func() error {
	return durationEnv(key, time.Hour, dst)
}

func durationEnv(key string, unit time.Duration, dst *time.Duration) func() error {
	return func() error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := parseUnits(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = time.Duration(n) * unit
		return nil
	}
}

func parseUnits(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
