// ABOUTME: This file implements configuration management with environment variable support
// ABOUTME: Provides validation and defaults for all engine subsystems
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config aggregates all service configuration blocks.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Augur    AugurConfig    `json:"augur"`
	Backend  BackendConfig  `json:"backend"`
	Engine   EngineConfig   `json:"engine"`
	Retry    RetryConfig    `json:"retry"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type ServerConfig struct {
	Port            int           `json:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"-"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int32  `json:"max_conns"`
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	URL             string        `json:"url"`
	Enabled         bool          `json:"enabled"`
	ContextCacheTTL time.Duration `json:"context_cache_ttl"`
	StreamKey       string        `json:"stream_key"`
	StreamMaxLen    int64         `json:"stream_max_len"`
}

// AugurConfig configures the external intelligence endpoint used for both
// strategy decisions and semantic content scoring.
type AugurConfig struct {
	Enabled           bool          `json:"enabled"`
	Host              string        `json:"host"`
	DecisionPath      string        `json:"decision_path"`
	ScorePath         string        `json:"score_path"`
	Model             string        `json:"model"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	CostPer1KTokens   float64       `json:"cost_per_1k_tokens_usd"`
}

type BackendConfig struct {
	Host    string        `json:"host"`
	Timeout time.Duration `json:"timeout"`
}

// EngineConfig holds fixed engine-level settings that are not part of the
// strategy decision parameter set.
type EngineConfig struct {
	LexicalScoreFloor     float64       `json:"lexical_score_floor"`
	ColdStartConfidence   int           `json:"cold_start_confidence"`
	ColdStartMinScore     float64       `json:"cold_start_min_score"`
	DailyTokenBudget      int64         `json:"daily_token_budget"`
	DecisionHistoryLimit  int           `json:"decision_history_limit"`
	ReviewTickInterval    time.Duration `json:"review_tick_interval"`
	RefillTickInterval    time.Duration `json:"refill_tick_interval"`
	UsageRetentionDays    int           `json:"usage_retention_days"`
	CandidateFetchLimit   int           `json:"candidate_fetch_limit"`
	SemanticCallTimeout   time.Duration `json:"semantic_call_timeout"`
	SemanticScoreCacheLen int           `json:"semantic_score_cache_len"`
}

type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`
	BaseDelay     time.Duration `json:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	JitterFactor  float64       `json:"jitter_factor"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoadConfig reads configuration from the environment, applies defaults,
// and validates the result.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 9220),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "engine-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "engine_user"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "engine_password"),
			Name:     getEnv("DB_NAME", "engine_db"),
			SSLMode:  getEnv("DB_SSL_MODE", "prefer"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			Enabled:         getEnvBool("REDIS_ENABLED", true),
			ContextCacheTTL: getEnvDuration("CONTEXT_CACHE_TTL", 5*time.Minute),
			StreamKey:       getEnv("RECOMMENDATION_STREAM_KEY", "engine:events:recommendations"),
			StreamMaxLen:    int64(getEnvInt("RECOMMENDATION_STREAM_MAXLEN", 1000)),
		},
		Augur: AugurConfig{
			Enabled:           getEnvBool("AUGUR_ENABLED", true),
			Host:              getEnv("AUGUR_HOST", "http://augur-external:11434"),
			DecisionPath:      getEnv("AUGUR_DECISION_PATH", "/api/generate"),
			ScorePath:         getEnv("AUGUR_SCORE_PATH", "/api/generate"),
			Model:             getEnv("AUGUR_MODEL", "gemma3:4b"),
			Timeout:           getEnvDuration("AUGUR_TIMEOUT", 60*time.Second),
			RequestsPerMinute: getEnvInt("AUGUR_REQUESTS_PER_MINUTE", 30),
			CostPer1KTokens:   getEnvFloat("AUGUR_COST_PER_1K_TOKENS", 0.002),
		},
		Backend: BackendConfig{
			Host:    getEnv("ALT_BACKEND_HOST", "http://alt-backend:8080"),
			Timeout: getEnvDuration("ALT_BACKEND_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			LexicalScoreFloor:     getEnvFloat("LEXICAL_SCORE_FLOOR", 0.2),
			ColdStartConfidence:   getEnvInt("COLD_START_CONFIDENCE", 30),
			ColdStartMinScore:     getEnvFloat("COLD_START_MIN_SCORE", 0.3),
			DailyTokenBudget:      int64(getEnvInt("DAILY_TOKEN_BUDGET", 200000)),
			DecisionHistoryLimit:  getEnvInt("DECISION_HISTORY_LIMIT", 50),
			ReviewTickInterval:    getEnvDuration("REVIEW_TICK_INTERVAL", time.Minute),
			RefillTickInterval:    getEnvDuration("REFILL_TICK_INTERVAL", 5*time.Minute),
			UsageRetentionDays:    getEnvInt("USAGE_RETENTION_DAYS", 30),
			CandidateFetchLimit:   getEnvInt("CANDIDATE_FETCH_LIMIT", 100),
			SemanticCallTimeout:   getEnvDuration("SEMANTIC_CALL_TIMEOUT", 30*time.Second),
			SemanticScoreCacheLen: getEnvInt("SEMANTIC_SCORE_CACHE_LEN", 2048),
		},
		Retry: RetryConfig{
			MaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:     getEnvDuration("RETRY_BASE_DELAY", time.Second),
			MaxDelay:      getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
			BackoffFactor: getEnvFloat("RETRY_BACKOFF_FACTOR", 2.0),
			JitterFactor:  getEnvFloat("RETRY_JITTER_FACTOR", 0.1),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/v1/metrics"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Augur.Enabled && c.Augur.Host == "" {
		return fmt.Errorf("augur enabled but host is empty")
	}
	if c.Augur.Timeout <= 0 {
		return fmt.Errorf("augur timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Engine.LexicalScoreFloor < 0 || c.Engine.LexicalScoreFloor > 1 {
		return fmt.Errorf("lexical score floor must be in [0,1]")
	}
	if c.Engine.ColdStartConfidence < 0 || c.Engine.ColdStartConfidence > 100 {
		return fmt.Errorf("cold start confidence must be in [0,100]")
	}
	if c.Engine.DecisionHistoryLimit < 1 {
		return fmt.Errorf("decision history limit must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if v, ok := os.LookupEnv(envKey); ok {
		return v
	}
	if path, ok := os.LookupEnv(fileEnvKey); ok {
		if content, err := os.ReadFile(path); err == nil {
			return string(content)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
