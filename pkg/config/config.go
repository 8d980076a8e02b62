package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ledgerchat-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3470"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (clarification option cache)
	Redis RedisConfig `yaml:"redis"`

	// AI generation model endpoint
	AI AIConfig `yaml:"ai"`

	// Pipeline behavior
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ledgerchat"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ledgerchat_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis configuration for the option cache.
// Redis is optional: with an empty host the provider runs uncached.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AIConfig holds the generation model endpoint configuration.
// Provider selects the backend: "openai" (any OpenAI-compatible endpoint,
// including local vLLM) or "anthropic".
type AIConfig struct {
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	BaseURL  string `yaml:"base_url" env:"AI_BASE_URL" env-default:""`
	Model    string `yaml:"model" env:"AI_MODEL" env-default:""`
	APIKey   string `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
}

// PipelineConfig holds the recognized tuning knobs of the query pipeline.
type PipelineConfig struct {
	// ConfidenceThreshold gates both turn-reference resolution and SQL
	// generation; anything below it is not trusted.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"PIPELINE_CONFIDENCE_THRESHOLD" env-default:"0.7"`
	// MaxSubRequests bounds how many sub-requests one utterance may split into.
	MaxSubRequests int `yaml:"max_sub_requests" env:"PIPELINE_MAX_SUB_REQUESTS" env-default:"5"`
	// RetentionHours is the turn retention horizon.
	RetentionHours int `yaml:"retention_hours" env:"PIPELINE_RETENTION_HOURS" env-default:"24"`
	// MaxRecentTurns caps how many turns reference resolution considers.
	MaxRecentTurns int `yaml:"max_recent_turns" env:"PIPELINE_MAX_RECENT_TURNS" env-default:"10"`
	// ClarificationLimit caps options returned per clarification prompt.
	ClarificationLimit int `yaml:"clarification_limit" env:"PIPELINE_CLARIFICATION_LIMIT" env-default:"10"`
	// OptionCacheTTLSeconds is the TTL of cached clarification options.
	OptionCacheTTLSeconds int `yaml:"option_cache_ttl_seconds" env:"PIPELINE_OPTION_CACHE_TTL_SECONDS" env-default:"300"`
	// SweepIntervalMinutes is how often expired turns are swept.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" env:"PIPELINE_SWEEP_INTERVAL_MINUTES" env-default:"15"`
	// GenerationTimeoutSeconds bounds one generation model call.
	GenerationTimeoutSeconds int `yaml:"generation_timeout_seconds" env:"PIPELINE_GENERATION_TIMEOUT_SECONDS" env-default:"30"`
	// LookupTimeoutSeconds bounds one data-store read.
	LookupTimeoutSeconds int `yaml:"lookup_timeout_seconds" env:"PIPELINE_LOOKUP_TIMEOUT_SECONDS" env-default:"5"`
	// MaxGenerationAttempts bounds retries of a failed generation call.
	MaxGenerationAttempts int `yaml:"max_generation_attempts" env:"PIPELINE_MAX_GENERATION_ATTEMPTS" env-default:"2"`
	// PatternsPath optionally overrides the embedded language pattern sets.
	PatternsPath string `yaml:"patterns_path" env:"PIPELINE_PATTERNS_PATH" env-default:""`
	// DefaultLimit is appended to non-aggregate statements without a LIMIT.
	DefaultLimit int `yaml:"default_limit" env:"PIPELINE_DEFAULT_LIMIT" env-default:"100"`
}

// RetentionHorizon returns the retention horizon as a duration.
func (p *PipelineConfig) RetentionHorizon() time.Duration {
	return time.Duration(p.RetentionHours) * time.Hour
}

// OptionCacheTTL returns the option cache TTL as a duration.
func (p *PipelineConfig) OptionCacheTTL() time.Duration {
	return time.Duration(p.OptionCacheTTLSeconds) * time.Second
}

// SweepInterval returns the sweep interval as a duration.
func (p *PipelineConfig) SweepInterval() time.Duration {
	return time.Duration(p.SweepIntervalMinutes) * time.Minute
}

// GenerationTimeout returns the generation call timeout as a duration.
func (p *PipelineConfig) GenerationTimeout() time.Duration {
	return time.Duration(p.GenerationTimeoutSeconds) * time.Second
}

// LookupTimeout returns the data-store read timeout as a duration.
func (p *PipelineConfig) LookupTimeout() time.Duration {
	return time.Duration(p.LookupTimeoutSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that cleanenv cannot express.
func (c *Config) Validate() error {
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.MaxSubRequests < 1 {
		return fmt.Errorf("max_sub_requests must be at least 1, got %d", c.Pipeline.MaxSubRequests)
	}
	if c.Pipeline.MaxRecentTurns < 1 {
		return fmt.Errorf("max_recent_turns must be at least 1, got %d", c.Pipeline.MaxRecentTurns)
	}
	if c.AI.Provider != "openai" && c.AI.Provider != "anthropic" {
		return fmt.Errorf("unknown ai provider %q", c.AI.Provider)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
