// Package config provides configuration management for the zoom-mirror application
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // sync.timezone must resolve on hosts without a zoneinfo database

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ZoomConfig holds Zoom API authentication and connection settings
type ZoomConfig struct {
	AccountID                 string `yaml:"account_id" json:"account_id" validate:"required"`
	ClientID                  string `yaml:"client_id" json:"client_id" validate:"required"`
	ClientSecret              string `yaml:"client_secret" json:"-" validate:"required"`
	BaseURL                   string `yaml:"base_url" json:"base_url" validate:"required,url"`
	TokenURL                  string `yaml:"token_url" json:"token_url" validate:"required,url"`
	TokenRefreshMarginSeconds int    `yaml:"token_refresh_margin_seconds" json:"token_refresh_margin_seconds" validate:"min=0"`
}

// TokenRefreshMargin returns the refresh margin as a time.Duration
func (z ZoomConfig) TokenRefreshMargin() time.Duration {
	return time.Duration(z.TokenRefreshMarginSeconds) * time.Second
}

// CircuitBreakerConfig controls the optional breaker around download attempts
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled" json:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" json:"failure_threshold" validate:"min=1"`
	CooldownSeconds  int  `yaml:"cooldown_seconds" json:"cooldown_seconds" validate:"min=1"`
}

// Cooldown returns the open-state duration as a time.Duration
func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// DownloadConfig holds download-related settings
type DownloadConfig struct {
	OutputDir         string               `yaml:"output_dir" json:"output_dir" validate:"required"`
	RetryAttempts     int                  `yaml:"retry_attempts" json:"retry_attempts" validate:"min=1"`
	RetryDelayMS      int                  `yaml:"retry_delay_ms" json:"retry_delay_ms" validate:"min=0"`
	TimeoutSeconds    int                  `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gt=0"`
	CaptionExtensions []string             `yaml:"caption_extensions" json:"caption_extensions" validate:"dive,required"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// TimeoutDuration returns the timeout as a time.Duration
func (d DownloadConfig) TimeoutDuration() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// RetryDelay returns the pause between download attempts
func (d DownloadConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMS) * time.Millisecond
}

// SyncConfig holds enumeration and reconciliation settings
type SyncConfig struct {
	LookbackDays             int    `yaml:"lookback_days" json:"lookback_days" validate:"min=1"`
	UserPageSize             int    `yaml:"user_page_size" json:"user_page_size" validate:"min=1,max=2000"`
	RecordingPageSize        int    `yaml:"recording_page_size" json:"recording_page_size" validate:"min=1,max=300"`
	PageDelayMS              int    `yaml:"page_delay_ms" json:"page_delay_ms" validate:"min=0"`
	MaxUserPages             int    `yaml:"max_user_pages" json:"max_user_pages" validate:"min=1"`
	MaxRecordingPages        int    `yaml:"max_recording_pages" json:"max_recording_pages" validate:"min=1"`
	RateLimitCooldownSeconds int    `yaml:"rate_limit_cooldown_seconds" json:"rate_limit_cooldown_seconds" validate:"min=0"`
	Timezone                 string `yaml:"timezone" json:"timezone" validate:"required"`
}

// PageDelay returns the politeness delay between page requests
func (s SyncConfig) PageDelay() time.Duration {
	return time.Duration(s.PageDelayMS) * time.Millisecond
}

// RateLimitCooldown returns the sleep applied after a 429 response
func (s SyncConfig) RateLimitCooldown() time.Duration {
	return time.Duration(s.RateLimitCooldownSeconds) * time.Second
}

// Lookback returns the trailing window re-scanned on every run
func (s SyncConfig) Lookback() time.Duration {
	return time.Duration(s.LookbackDays) * 24 * time.Hour
}

// Location resolves the configured timezone
func (s SyncConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file" json:"file"`
	Console    bool   `yaml:"console" json:"console"`
	JSONFormat bool   `yaml:"json_format" json:"json_format"`
}

// ActiveUsersConfig holds the member allow-list settings
type ActiveUsersConfig struct {
	File  string `yaml:"file" json:"file"`
	Watch bool   `yaml:"watch" json:"watch"`
}

// ReportConfig holds per-run report settings
type ReportConfig struct {
	CSVFile string `yaml:"csv_file" json:"csv_file"`
}

// MetricsConfig holds metrics export settings
type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile"`
}

// Config represents the complete application configuration
type Config struct {
	Zoom        ZoomConfig        `yaml:"zoom" json:"zoom"`
	Download    DownloadConfig    `yaml:"download" json:"download"`
	Sync        SyncConfig        `yaml:"sync" json:"sync"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	ActiveUsers ActiveUsersConfig `yaml:"active_users" json:"active_users"`
	Report      ReportConfig      `yaml:"report" json:"report"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
}

// Default returns a configuration populated with every default value.
// Credentials are left empty.
func Default() *Config {
	return &Config{
		Zoom: ZoomConfig{
			BaseURL:                   "https://api.zoom.us/v2",
			TokenURL:                  "https://zoom.us/oauth/token",
			TokenRefreshMarginSeconds: 300,
		},
		Download: DownloadConfig{
			OutputDir:         "./downloads",
			RetryAttempts:     5,
			TimeoutSeconds:    3600,
			CaptionExtensions: []string{"vtt"},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 10,
				CooldownSeconds:  120,
			},
		},
		Sync: SyncConfig{
			LookbackDays:             32,
			UserPageSize:             300,
			RecordingPageSize:        300,
			PageDelayMS:              500,
			MaxUserPages:             4000,
			MaxRecordingPages:        2000,
			RateLimitCooldownSeconds: 60,
			Timezone:                 "UTC",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file with defaults and environment
// variable overrides. An empty path skips the file and relies on defaults and
// the environment.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := config.loadFromEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile overlays the YAML file on top of the current values, so keys
// absent from the file keep their defaults
func (c *Config) loadFromFile(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnvironment overrides configuration with environment variables
func (c *Config) loadFromEnvironment() error {
	if val := os.Getenv("ZOOM_ACCOUNT_ID"); val != "" {
		c.Zoom.AccountID = val
	}
	if val := os.Getenv("ZOOM_CLIENT_ID"); val != "" {
		c.Zoom.ClientID = val
	}
	if val := os.Getenv("ZOOM_CLIENT_SECRET"); val != "" {
		c.Zoom.ClientSecret = val
	}
	if val := os.Getenv("ZOOM_BASE_URL"); val != "" {
		c.Zoom.BaseURL = val
	}
	if val := os.Getenv("ZOOM_TOKEN_URL"); val != "" {
		c.Zoom.TokenURL = val
	}

	if val := os.Getenv("DOWNLOAD_OUTPUT_DIR"); val != "" {
		c.Download.OutputDir = val
	}

	if val := os.Getenv("SYNC_LOOKBACK_DAYS"); val != "" {
		days, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("SYNC_LOOKBACK_DAYS must be an integer: %w", err)
		}
		c.Sync.LookbackDays = days
	}

	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their YAML keys so messages match the config file
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	c.Logging.Level = strings.ToLower(c.Logging.Level)

	if err := getValidator().Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return err
	}

	if _, err := c.Sync.Location(); err != nil {
		return fmt.Errorf("sync.timezone %q is not a valid IANA zone: %w", c.Sync.Timezone, err)
	}

	return nil
}

// formatValidationErrors turns validator output into "zoom.account_id is required" style messages
func formatValidationErrors(errs validator.ValidationErrors) error {
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL", field))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be >= %s", field, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be <= %s", field, fe.Param()))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %q validation", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}

// IsCaptionExtension reports whether ext (without dot, any case) is exempt
// from size validation
func (d DownloadConfig) IsCaptionExtension(ext string) bool {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, caption := range d.CaptionExtensions {
		if strings.TrimPrefix(strings.ToLower(caption), ".") == ext {
			return true
		}
	}
	return false
}
