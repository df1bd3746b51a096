package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sitewatch/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Database  DatabaseConfig        `yaml:"database"`
	Privacy   PrivacyConfig         `yaml:"privacy"`
	LLM       LLMConfig             `yaml:"llm"`
	Email     EmailConfig           `yaml:"email"`
	Worker    WorkerConfig          `yaml:"worker"`
	Retention RetentionConfig       `yaml:"retention"`
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Tiers     map[string]TierConfig `yaml:"tiers"`
}

// ServerConfig represents API server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug/release
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PrivacyConfig holds personal-data protection settings
type PrivacyConfig struct {
	PIIKey         string `yaml:"pii_key"` // Master key for identifier encryption; empty disables
	UnsubscribeKey string `yaml:"unsubscribe_key"`
	PolicyURL      string `yaml:"policy_url"`
}

// LLMConfig represents the change-summary endpoint configuration
type LLMConfig struct {
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// EmailConfig represents alert mail submission configuration
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	From     string `yaml:"from"`
	Password string `yaml:"password"`
}

// WorkerConfig represents the check-cycle worker configuration
type WorkerConfig struct {
	CheckCron    string `yaml:"check_cron"`    // Cron expression for the continuous loop
	FetchTimeout string `yaml:"fetch_timeout"`
	PaceDelay    string `yaml:"pace_delay"` // Sleep between fetches in one cycle
	FanOut       int    `yaml:"fan_out"`    // Parallel watches per cycle, 1 = serial
}

// RetentionConfig represents report retention configuration
type RetentionConfig struct {
	Days int    `yaml:"days"`
	Cron string `yaml:"cron"`
}

// RateLimitConfig bounds anonymous and registration traffic
type RateLimitConfig struct {
	QuickCheckPerWindow int    `yaml:"quick_check_per_window"`
	QuickCheckWindow    string `yaml:"quick_check_window"`
	RegisterPerWindow   int    `yaml:"register_per_window"`
	RegisterWindow      string `yaml:"register_window"`
}

// TierConfig allows overriding the built-in tier table from config
type TierConfig struct {
	MaxWatches       int `yaml:"max_watches"`
	MinCheckInterval int `yaml:"min_check_interval"`
}

// LoadConfig loads configuration from a YAML file, then applies environment
// overrides. A missing file yields defaults so the worker can run from env
// alone.
func LoadConfig(path string) (*Config, error) {
	config := defaults()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// .env file is optional
	_ = godotenv.Load()
	applyEnv(config)

	return config, nil
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", Mode: "debug"},
		Database: DatabaseConfig{Path: "data/sitewatch.db"},
		Privacy:  PrivacyConfig{PolicyURL: "https://arkforge.fr/privacy"},
		LLM:      LLMConfig{Model: "gpt-4o-mini", Timeout: "60s"},
		Worker: WorkerConfig{
			CheckCron:    "@every 1m",
			FetchTimeout: "30s",
			PaceDelay:    "500ms",
			FanOut:       1,
		},
		Retention: RetentionConfig{Days: 365, Cron: "@daily"},
		RateLimit: RateLimitConfig{
			QuickCheckPerWindow: 10,
			QuickCheckWindow:    "15m",
			RegisterPerWindow:   5,
			RegisterWindow:      "15m",
		},
	}
}

func applyEnv(cfg *Config) {
	if val := os.Getenv("PORT"); val != "" {
		cfg.Server.Port = val
	}
	if val := os.Getenv("GIN_MODE"); val != "" {
		cfg.Server.Mode = val
	}
	if val := os.Getenv("DATABASE_PATH"); val != "" {
		cfg.Database.Path = val
	}
	if val := os.Getenv("PII_KEY"); val != "" {
		cfg.Privacy.PIIKey = val
	}
	if val := os.Getenv("UNSUBSCRIBE_KEY"); val != "" {
		cfg.Privacy.UnsubscribeKey = val
	}
	if val := os.Getenv("LLM_URL"); val != "" {
		cfg.LLM.URL = val
	}
	if val := os.Getenv("LLM_API_KEY"); val != "" {
		cfg.LLM.APIKey = val
	}
	if val := os.Getenv("LLM_MODEL"); val != "" {
		cfg.LLM.Model = val
	}
	if val := os.Getenv("SMTP_HOST"); val != "" {
		cfg.Email.SMTPHost = val
		cfg.Email.Enabled = true
	}
	if val := os.Getenv("SMTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Email.SMTPPort = port
		}
	}
	if val := os.Getenv("SMTP_FROM"); val != "" {
		cfg.Email.From = val
	}
	if val := os.Getenv("SMTP_PASSWORD"); val != "" {
		cfg.Email.Password = val
	}
	if val := os.Getenv("RETENTION_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil && days > 0 {
			cfg.Retention.Days = days
		}
	}
}

// TierLimits merges config overrides over the built-in tier table
func (c *Config) TierLimits() map[string]models.TierLimit {
	limits := make(map[string]models.TierLimit, len(models.DefaultTierLimits))
	for tier, limit := range models.DefaultTierLimits {
		limits[tier] = limit
	}
	for tier, override := range c.Tiers {
		limit := limits[tier]
		if override.MaxWatches > 0 {
			limit.MaxWatches = override.MaxWatches
		}
		if override.MinCheckInterval > 0 {
			limit.MinCheckInterval = override.MinCheckInterval
		}
		limits[tier] = limit
	}
	return limits
}

// Validate checks configuration the API server cannot start without
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Privacy.UnsubscribeKey == "" {
		return fmt.Errorf("unsubscribe signing key is required")
	}
	return nil
}
