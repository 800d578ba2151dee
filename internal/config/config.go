// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`

	DBHost                        string `mapstructure:"DB_HOST"`
	DBPort                        string `mapstructure:"DB_PORT"`
	DBUser                        string `mapstructure:"DB_USER"`
	DBPassword                    string `mapstructure:"DB_PASSWORD"`
	DBName                        string `mapstructure:"DB_NAME"`
	DBSSLMode                     string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns                int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns                int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes      int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	DBSchemaMode                  string `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool   `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	LLMBaseURL         string `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey          string `mapstructure:"LLM_API_KEY"`
	LLMModel           string `mapstructure:"LLM_MODEL"`
	EmbeddingModel     string `mapstructure:"EMBEDDING_MODEL"`
	EmbeddingBatchSize int    `mapstructure:"EMBEDDING_BATCH_SIZE"`
	ClassifyMaxInput   int    `mapstructure:"CLASSIFY_MAX_INPUT_RUNES"`

	PlatformBaseURL        string `mapstructure:"PLATFORM_BASE_URL"`
	PlatformTimeoutSeconds int    `mapstructure:"PLATFORM_TIMEOUT_SECONDS"`
	PlatformMaxRetries     int    `mapstructure:"PLATFORM_MAX_RETRIES"`

	SyncDeepCheckWindow int `mapstructure:"SYNC_DEEP_CHECK_WINDOW"`
	SyncHybridWindow    int `mapstructure:"SYNC_HYBRID_WINDOW"`
	SyncDeepSyncWindow  int `mapstructure:"SYNC_DEEP_SYNC_WINDOW"`

	PoolHeavyLimit int    `mapstructure:"POOL_HEAVY_LIMIT"`
	PoolLightLimit int    `mapstructure:"POOL_LIGHT_LIMIT"`
	LocksetBackend string `mapstructure:"LOCKSET_BACKEND"`
	LockTTLMinutes int    `mapstructure:"LOCK_TTL_MINUTES"`

	ScheduleFastPoll string `mapstructure:"SCHEDULE_FAST_POLL"`
	ScheduleHourly   string `mapstructure:"SCHEDULE_HOURLY"`
	ScheduleDeepSync string `mapstructure:"SCHEDULE_DEEP_SYNC"`

	PolicyFile     string `mapstructure:"POLICY_FILE"`
	CredentialsKey string `mapstructure:"CREDENTIALS_KEY"`

	TelegramBotToken    string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramAlertChatID int64  `mapstructure:"TELEGRAM_ALERT_CHAT_ID"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint     string  `mapstructure:"TRACING_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("FEATURE_FLAGS", "")

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "commentguard")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 10)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)

	viper.SetDefault("REDIS_URL", "localhost:6379")

	viper.SetDefault("LLM_BASE_URL", "")
	viper.SetDefault("LLM_API_KEY", "")
	viper.SetDefault("LLM_MODEL", "gpt-4o-mini")
	viper.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	viper.SetDefault("EMBEDDING_BATCH_SIZE", 64)
	viper.SetDefault("CLASSIFY_MAX_INPUT_RUNES", 2000)

	viper.SetDefault("PLATFORM_BASE_URL", "https://graph.facebook.com/v19.0")
	viper.SetDefault("PLATFORM_TIMEOUT_SECONDS", 15)
	viper.SetDefault("PLATFORM_MAX_RETRIES", 3)

	viper.SetDefault("SYNC_DEEP_CHECK_WINDOW", 20)
	viper.SetDefault("SYNC_HYBRID_WINDOW", 100)
	viper.SetDefault("SYNC_DEEP_SYNC_WINDOW", 500)

	viper.SetDefault("POOL_HEAVY_LIMIT", 4)
	viper.SetDefault("POOL_LIGHT_LIMIT", 16)
	viper.SetDefault("LOCKSET_BACKEND", "local")
	viper.SetDefault("LOCK_TTL_MINUTES", 30)

	viper.SetDefault("SCHEDULE_FAST_POLL", "@every 1m")
	viper.SetDefault("SCHEDULE_HOURLY", "@hourly")
	viper.SetDefault("SCHEDULE_DEEP_SYNC", "0 3 * * *")

	viper.SetDefault("POLICY_FILE", "")
	viper.SetDefault("CREDENTIALS_KEY", "")

	viper.SetDefault("TELEGRAM_BOT_TOKEN", "")
	viper.SetDefault("TELEGRAM_ALERT_CHAT_ID", 0)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "otlp")
	viper.SetDefault("TRACING_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; environment variables and defaults cover every key.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.DBSchemaMode = strings.ToLower(strings.TrimSpace(c.DBSchemaMode))
	c.LocksetBackend = strings.ToLower(strings.TrimSpace(c.LocksetBackend))
	c.TracingExporter = strings.ToLower(strings.TrimSpace(c.TracingExporter))
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DBHost == "" {
		return errors.New("DB_HOST is required")
	}
	if c.DBMaxOpenConns < 1 {
		return errors.New("DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.PoolHeavyLimit < 1 || c.PoolLightLimit < 1 {
		return errors.New("POOL_HEAVY_LIMIT and POOL_LIGHT_LIMIT must be at least 1")
	}
	if c.SyncDeepCheckWindow < 1 {
		return errors.New("SYNC_DEEP_CHECK_WINDOW must be at least 1")
	}
	if c.SyncHybridWindow < c.SyncDeepCheckWindow {
		return errors.New("SYNC_HYBRID_WINDOW must not be smaller than SYNC_DEEP_CHECK_WINDOW")
	}
	if c.SyncDeepSyncWindow < c.SyncDeepCheckWindow {
		return errors.New("SYNC_DEEP_SYNC_WINDOW must not be smaller than SYNC_DEEP_CHECK_WINDOW")
	}
	if c.ClassifyMaxInput < 1 {
		return errors.New("CLASSIFY_MAX_INPUT_RUNES must be at least 1")
	}
	switch c.LocksetBackend {
	case "", "local", "redis":
	default:
		return fmt.Errorf("LOCKSET_BACKEND must be local or redis, got %q", c.LocksetBackend)
	}
	switch c.DBSchemaMode {
	case "", "hybrid", "sql", "auto":
	default:
		return fmt.Errorf("DB_SCHEMA_MODE must be hybrid, sql or auto, got %q", c.DBSchemaMode)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if c.CredentialsKey == "" {
			return errors.New("CREDENTIALS_KEY is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
