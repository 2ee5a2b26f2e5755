// Package config loads runtime settings from the environment (with
// optional .env and YAML override files) and builds the service logger.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Version  string `env:"VERSION" envDefault:"dev"`

	Workers        int           `env:"WORKERS" envDefault:"8"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"2"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS" envDefault:"4"`
	FailFast       bool          `env:"FAIL_FAST" envDefault:"false"`

	ActivityWindowDays int `env:"ROE_ACTIVITY_WINDOW_DAYS" envDefault:"90"`
	ModifiedWindowDays int `env:"ROE_MODIFIED_WINDOW_DAYS" envDefault:"30"`

	MinRemoteConfidence float64 `env:"MIN_REMOTE_CONFIDENCE" envDefault:"0.8"`
	PeerSearchLimit     int     `env:"PEER_SEARCH_LIMIT" envDefault:"10"`

	// QualifiedTitleKeywords gates the prospect bucket; empty means every
	// unmatched attendee qualifies.
	QualifiedTitleKeywords []string `env:"QUALIFIED_TITLE_KEYWORDS" envSeparator:","`

	ApolloAPIKey  string `env:"APOLLO_API_KEY"`
	ApolloBaseURL string `env:"APOLLO_BASE_URL"`

	SalesforceLoginURL      string `env:"SALESFORCE_LOGIN_URL" envDefault:"https://login.salesforce.com"`
	SalesforceUsername      string `env:"SALESFORCE_USERNAME"`
	SalesforcePassword      string `env:"SALESFORCE_PASSWORD"`
	SalesforceSecurityToken string `env:"SALESFORCE_SECURITY_TOKEN"`
	SalesforceInstanceURL   string `env:"SALESFORCE_INSTANCE_URL"`

	// GeminiAPIKey enables the web-research discovery strategy; leaving
	// it empty skips that strategy entirely.
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	OutputDir    string `env:"OUTPUT_DIR" envDefault:"."`
	ProgressFile string `env:"PROGRESS_FILE" envDefault:"progress.json"`
}

// Overrides is the YAML tuning file; pointer fields distinguish "absent"
// from zero. Credentials deliberately have no override knobs.
type Overrides struct {
	Workers        *int           `yaml:"workers"`
	MaxRetries     *int           `yaml:"max_retries"`
	RequestTimeout *time.Duration `yaml:"request_timeout"`
	RateLimitRPS   *float64       `yaml:"rate_limit_rps"`
	FailFast       *bool          `yaml:"fail_fast"`

	ActivityWindowDays *int `yaml:"activity_window_days"`
	ModifiedWindowDays *int `yaml:"modified_window_days"`

	MinRemoteConfidence *float64 `yaml:"min_remote_confidence"`
	PeerSearchLimit     *int     `yaml:"peer_search_limit"`

	QualifiedTitleKeywords *[]string `yaml:"qualified_title_keywords"`
}

// Load reads .env (best effort), then the environment, then an optional
// YAML overrides file whose tuning values win over the environment.
func Load(overridesPath string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	if overridesPath != "" {
		if err := applyOverrides(&cfg, overridesPath); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read overrides: %w", err)
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("config: parse overrides: %w", err)
	}

	if o.Workers != nil {
		cfg.Workers = *o.Workers
	}
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.RequestTimeout != nil {
		cfg.RequestTimeout = *o.RequestTimeout
	}
	if o.RateLimitRPS != nil {
		cfg.RateLimitRPS = *o.RateLimitRPS
	}
	if o.FailFast != nil {
		cfg.FailFast = *o.FailFast
	}
	if o.ActivityWindowDays != nil {
		cfg.ActivityWindowDays = *o.ActivityWindowDays
	}
	if o.ModifiedWindowDays != nil {
		cfg.ModifiedWindowDays = *o.ModifiedWindowDays
	}
	if o.MinRemoteConfidence != nil {
		cfg.MinRemoteConfidence = *o.MinRemoteConfidence
	}
	if o.PeerSearchLimit != nil {
		cfg.PeerSearchLimit = *o.PeerSearchLimit
	}
	if o.QualifiedTitleKeywords != nil {
		cfg.QualifiedTitleKeywords = *o.QualifiedTitleKeywords
	}
	return nil
}

// Validate checks the settings a run cannot start without.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ApolloAPIKey) == "" {
		missing = append(missing, "APOLLO_API_KEY")
	}
	if strings.TrimSpace(c.SalesforceUsername) == "" {
		missing = append(missing, "SALESFORCE_USERNAME")
	}
	if strings.TrimSpace(c.SalesforcePassword) == "" {
		missing = append(missing, "SALESFORCE_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: WORKERS must be positive")
	}
	if c.ActivityWindowDays < 0 || c.ModifiedWindowDays < 0 {
		return fmt.Errorf("config: engagement windows must not be negative")
	}
	if c.MinRemoteConfidence < 0 || c.MinRemoteConfidence > 1 {
		return fmt.Errorf("config: MIN_REMOTE_CONFIDENCE must be within [0, 1]")
	}
	return nil
}

// WebResearchEnabled reports whether the optional research strategy has
// the credentials it needs.
func (c Config) WebResearchEnabled() bool {
	return strings.TrimSpace(c.GeminiAPIKey) != ""
}

// NewLogger builds the service logger. Unknown levels fall back to info.
func (c Config) NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Str("service", "attendee-pipeline").
		Str("version", c.Version).
		Logger()
}
