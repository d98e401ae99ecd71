package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Match      MatchConfig      `mapstructure:"match"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// EngineConfig holds orchestrator behavior knobs: tool call retries,
// per-call timeouts and the vendor risk boundary used during PREPARE.
type EngineConfig struct {
	ToolTimeout        time.Duration `mapstructure:"tool_timeout"`
	MaxToolRetries     int           `mapstructure:"max_tool_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	PostingMaxAttempts int           `mapstructure:"posting_max_attempts"`
	MinCreditScore     int           `mapstructure:"min_credit_score"`
	ReviewURLBase      string        `mapstructure:"review_url_base"`
}

// MatchConfig holds the two-way match scoring policy. Weights and the
// tolerance band are policy parameters, never hard-coded arithmetic.
type MatchConfig struct {
	ScoreThreshold float64      `mapstructure:"score_threshold"`
	ToleranceBand  float64      `mapstructure:"tolerance_band"`
	Weights        MatchWeights `mapstructure:"weights"`
}

// MatchWeights are the relative weights of the score components.
type MatchWeights struct {
	TotalAmount float64 `mapstructure:"total_amount"`
	LineCount   float64 `mapstructure:"line_count"`
	LineItems   float64 `mapstructure:"line_items"`
}

// ApprovalConfig holds the approval policy thresholds.
type ApprovalConfig struct {
	AutoApprovalCeiling float64 `mapstructure:"auto_approval_ceiling"`
}

// CheckpointConfig holds checkpoint retention and recovery behavior.
type CheckpointConfig struct {
	Retention               time.Duration `mapstructure:"retention"`
	SweepInterval           time.Duration `mapstructure:"sweep_interval"`
	MaxConcurrentRecoveries int64         `mapstructure:"max_concurrent_recoveries"`
}

// OpenAIConfig configures the optional LLM-backed invoice parser.
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// LarkConfig configures the optional Lark notification backend.
type LarkConfig struct {
	AppID          string        `mapstructure:"app_id"`
	AppSecret      string        `mapstructure:"app_secret"`
	RecipientEmail string        `mapstructure:"recipient_email"`
	APITimeout     time.Duration `mapstructure:"api_timeout"`
	Enabled        bool          `mapstructure:"enabled"`
}

// LedgerConfig holds voucher export configuration.
type LedgerConfig struct {
	OutputDir     string `mapstructure:"output_dir"`
	ExportEnabled bool   `mapstructure:"export_enabled"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/ap_invoice_flow.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Engine defaults
	viper.SetDefault("engine.tool_timeout", 30*time.Second)
	viper.SetDefault("engine.max_tool_retries", 3)
	viper.SetDefault("engine.retry_backoff", 500*time.Millisecond)
	viper.SetDefault("engine.posting_max_attempts", 3)
	viper.SetDefault("engine.min_credit_score", 600)
	viper.SetDefault("engine.review_url_base", "http://internal/review")

	// Match defaults: strict matching, score decays to 0 at a 5%
	// relative delta; total amount weighted most heavily.
	viper.SetDefault("match.score_threshold", 0.90)
	viper.SetDefault("match.tolerance_band", 0.05)
	viper.SetDefault("match.weights.total_amount", 0.6)
	viper.SetDefault("match.weights.line_count", 0.15)
	viper.SetDefault("match.weights.line_items", 0.25)

	// Approval defaults
	viper.SetDefault("approval.auto_approval_ceiling", 10000.0)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.retention", 168*time.Hour)
	viper.SetDefault("checkpoint.sweep_interval", time.Minute)
	viper.SetDefault("checkpoint.max_concurrent_recoveries", 4)

	// OpenAI defaults
	viper.SetDefault("openai.enabled", false)
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.temperature", 0.0)
	viper.SetDefault("openai.max_tokens", 1000)
	viper.SetDefault("openai.timeout", 60*time.Second)

	// Lark defaults
	viper.SetDefault("lark.enabled", false)
	viper.SetDefault("lark.api_timeout", 30*time.Second)

	// Ledger defaults
	viper.SetDefault("ledger.output_dir", "generated_vouchers")
	viper.SetDefault("ledger.export_enabled", true)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("lark.app_id", "LARK_APP_ID")
	viper.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	viper.BindEnv("lark.recipient_email", "LARK_RECIPIENT_EMAIL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Match.ScoreThreshold <= 0 || c.Match.ScoreThreshold > 1 {
		return fmt.Errorf("match.score_threshold must be in (0, 1], got %.2f", c.Match.ScoreThreshold)
	}
	if c.Match.ToleranceBand <= 0 {
		return fmt.Errorf("match.tolerance_band must be positive, got %.4f", c.Match.ToleranceBand)
	}

	w := c.Match.Weights
	if w.TotalAmount < 0 || w.LineCount < 0 || w.LineItems < 0 {
		return fmt.Errorf("match weights must be non-negative")
	}
	if w.TotalAmount+w.LineCount+w.LineItems == 0 {
		return fmt.Errorf("match weights must not all be zero")
	}

	if c.Approval.AutoApprovalCeiling <= 0 {
		return fmt.Errorf("approval.auto_approval_ceiling must be positive, got %.2f", c.Approval.AutoApprovalCeiling)
	}

	if c.Engine.MaxToolRetries < 1 {
		return fmt.Errorf("engine.max_tool_retries must be at least 1")
	}
	if c.Engine.PostingMaxAttempts < 1 {
		return fmt.Errorf("engine.posting_max_attempts must be at least 1")
	}

	if c.OpenAI.Enabled && c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required when openai.enabled is true")
	}
	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark.enabled is true")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark.enabled is true")
		}
	}

	return nil
}
