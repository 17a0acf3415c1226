// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (DATABASE_URL, GEMINI_API_KEY, PARLEY_*)
//  2. Config file (~/.parley/config.yaml or ./config.yaml)
//  3. Default values
//
// Validation runs at load time with sentinel errors, so a bad deployment
// fails at startup instead of mid-turn.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores application configuration.
// SENSITIVE fields (PostgresPassword, APIKey) must never be logged.
type Config struct {
	// Server
	ListenAddr string `mapstructure:"listen_addr"`

	// Model configuration
	ModelName     string `mapstructure:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model"`
	APIKey        string `mapstructure:"gemini_api_key"` // SENSITIVE

	// Embedding
	EmbedDimension int32 `mapstructure:"embed_dimension"`
	EmbedBatchSize int   `mapstructure:"embed_batch_size"`

	// PostgreSQL
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Ingestion
	Ingest IngestConfig `mapstructure:"ingest"`

	// Conversation
	Conversation ConversationConfig `mapstructure:"conversation"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// Tracing
	Tracing TracingConfig `mapstructure:"tracing"`
}

// IngestConfig sizes the ingestion worker pool.
type IngestConfig struct {
	Workers        int           `mapstructure:"workers"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Lease          time.Duration `mapstructure:"lease"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	MaxChunkTokens int           `mapstructure:"max_chunk_tokens"`
	OverlapTokens  int           `mapstructure:"overlap_tokens"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// ConversationConfig bounds the turn pipeline.
type ConversationConfig struct {
	HistoryLimit      int           `mapstructure:"history_limit"`
	TopK              int           `mapstructure:"top_k"`
	PromptBudget      int           `mapstructure:"prompt_budget"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Load loads, merges and validates configuration.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".parley")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults plus env carry a dev setup.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("listen_addr", ":8080")

	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("embed_dimension", 768)
	viper.SetDefault("embed_batch_size", 64)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "parley")
	viper.SetDefault("postgres_password", "parley_dev_password")
	viper.SetDefault("postgres_db_name", "parley")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("ingest.workers", 2)
	viper.SetDefault("ingest.poll_interval", "2s")
	viper.SetDefault("ingest.lease", "5m")
	viper.SetDefault("ingest.job_timeout", "2m")
	viper.SetDefault("ingest.max_chunk_tokens", 250)
	viper.SetDefault("ingest.overlap_tokens", 50)
	viper.SetDefault("ingest.retry_attempts", 3)
	viper.SetDefault("ingest.retry_delay", "500ms")
	viper.SetDefault("ingest.retry_max_delay", "10s")

	viper.SetDefault("conversation.history_limit", 20)
	viper.SetDefault("conversation.top_k", 5)
	viper.SetDefault("conversation.prompt_budget", 4096)
	viper.SetDefault("conversation.completion_timeout", "60s")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.service_name", "parley")
	viper.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds secrets explicitly; everything else comes from the
// config file or defaults.
func bindEnvVariables() {
	_ = viper.BindEnv("gemini_api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("postgres_password", "POSTGRES_PASSWORD")
}

// quoteDSNValue quotes a value for the key=value DSN format so passwords
// with spaces or quotes parse correctly.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// PostgresConnectionString returns the DSN for pgxpool.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresUser,
		quoteDSNValue(c.PostgresPassword),
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// PostgresURL returns the postgres:// URL used by the migrations runner.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// parseDatabaseURL lets DATABASE_URL override the individual postgres_*
// settings, the common shape in cloud deployments.
func (c *Config) parseDatabaseURL() error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}

	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL format: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", parsed.Scheme)
	}

	if host := parsed.Hostname(); host != "" {
		c.PostgresHost = host
	}
	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port in DATABASE_URL: %w", err)
		}
		c.PostgresPort = port
	}
	if parsed.User != nil {
		if user := parsed.User.Username(); user != "" {
			c.PostgresUser = user
		}
		if password, set := parsed.User.Password(); set {
			c.PostgresPassword = password
		}
	}
	if db := strings.TrimPrefix(parsed.Path, "/"); db != "" {
		c.PostgresDBName = db
	}
	if sslMode := parsed.Query().Get("sslmode"); sslMode != "" {
		c.PostgresSSLMode = sslMode
	}
	return nil
}
