package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrMissingEnv is returned by Check when required credentials are absent.
var ErrMissingEnv = errors.New("missing required environment variables")

// Config holds runtime configuration for kenmeiwatch
type Config struct {
	// Kenmei account
	KenmeiEmail    string `json:"kenmei_email" yaml:"kenmei_email"`
	KenmeiPassword string `json:"kenmei_password" yaml:"kenmei_password"`
	KenmeiBaseURL  string `json:"kenmei_base_url" yaml:"kenmei_base_url"`

	// Pushover keys. AccountKey is the user key, AppKey the application token.
	PushoverAppKey string `json:"pushover_app_key" yaml:"pushover_app_key"`
	PushoverAccKey string `json:"pushover_acc_key" yaml:"pushover_acc_key"`

	// StateFile is the JSON snapshot of the last notified chapter per series.
	StateFile string `json:"state_file" yaml:"state_file"`

	// Schedule is a cron spec used by watch mode (e.g. "@hourly", "0 * * * *").
	Schedule string `json:"schedule" yaml:"schedule"`

	// NotifyNewSeries sends a notification for series absent from the stored state.
	NotifyNewSeries bool `json:"notify_new_series" yaml:"notify_new_series"`
	// UnreadOnly notifies only for entries Kenmei flags as having unread chapters.
	// Read entries still keep their chapter in the state file.
	UnreadOnly bool `json:"unread_only" yaml:"unread_only"`

	// Dry-run: detect updates but neither notify nor persist state
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`
	// NotifyAttempts is the number of tries per notification service. 1 disables retries.
	NotifyAttempts int `json:"notify_attempts" yaml:"notify_attempts"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFile   string `json:"log_file" yaml:"log_file"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty"`

	// Metrics
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int    `json:"metrics_port" yaml:"metrics_port"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`

	// InfluxDB (push after each run)
	InfluxURL    string `json:"influx_url" yaml:"influx_url"`
	InfluxToken  string `json:"influx_token" yaml:"influx_token"`
	InfluxOrg    string `json:"influx_org" yaml:"influx_org"`
	InfluxBucket string `json:"influx_bucket" yaml:"influx_bucket"`

	// Additional notifiers
	GotifyURL         string `json:"gotify_url" yaml:"gotify_url"`
	GotifyToken       string `json:"gotify_token" yaml:"gotify_token"`
	DiscordWebhook    string `json:"discord_webhook" yaml:"discord_webhook"`
	GenericWebhookURL string `json:"generic_webhook_url" yaml:"generic_webhook_url"`
}

// DefaultConfig returns a sane default configuration
func DefaultConfig() *Config {
	return &Config{
		KenmeiBaseURL:   "https://api.kenmei.co",
		StateFile:       "unread.json",
		Schedule:        "@hourly",
		NotifyNewSeries: true,
		UnreadOnly:      true,
		HTTPTimeout:     10 * time.Second,
		NotifyAttempts:  1,
		LogLevel:        "info",

		// Metrics defaults (opt-in)
		MetricsEnabled: false,
		MetricsPort:    9090,
	}
}

// Check returns an error naming every required setting that is still empty.
// A run cannot start without these.
func (c *Config) Check() error {
	required := []struct {
		env string
		val string
	}{
		{EnvKenmeiEmail, c.KenmeiEmail},
		{EnvKenmeiPassword, c.KenmeiPassword},
		{EnvPushoverAppKey, c.PushoverAppKey},
		{EnvPushoverAccKey, c.PushoverAccKey},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	if c.StateFile == "" {
		return errors.New("state file path is empty")
	}
	return nil
}

// Validate returns a list of non-fatal configuration warnings, such as
// incomplete notifier credential combinations.
func (c *Config) Validate() []string {
	var warnings []string
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.GotifyURL != "" && c.GotifyToken == "", "gotify URL provided but token is missing"},
		{c.GotifyToken != "" && c.GotifyURL == "", "gotify token provided but URL is missing"},
		{c.InfluxURL != "" && c.InfluxBucket == "", "influx URL provided but bucket is missing"},
		{c.NotifyAttempts < 1, "notify_attempts below 1, using a single attempt"},
		{c.HTTPTimeout <= 0, "http_timeout is not positive, requests will not time out"},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	if w := validateSchedule(c.Schedule); w != "" {
		warnings = append(warnings, w)
	}
	return warnings
}

// validateSchedule returns a warning string when the cron spec cannot be parsed.
func validateSchedule(spec string) string {
	if spec == "" {
		return "schedule is empty, watch mode cannot start"
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Sprintf("invalid schedule %q: %v", spec, err)
	}
	return ""
}

// LoadConfigFromFile loads config from a YAML/JSON file on top of the defaults
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
