package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Required credentials keep the names used by existing deployments.
const (
	EnvKenmeiEmail    = "KENMEI_EMAIL"
	EnvKenmeiPassword = "KENMEI_PASSWORD"
	EnvPushoverAppKey = "PUSHOVER_APP_KEY"
	EnvPushoverAccKey = "PUSHOVER_ACC_KEY"
)

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set in the environment win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported:
// - KENMEI_EMAIL, KENMEI_PASSWORD (required)
// - PUSHOVER_APP_KEY, PUSHOVER_ACC_KEY (required)
// - KENMEIWATCH_KENMEI_URL (string, API base URL)
// - KENMEIWATCH_STATE_FILE (string, e.g. "/var/lib/kenmeiwatch/unread.json")
// - KENMEIWATCH_SCHEDULE (cron spec, e.g. "@hourly")
// - KENMEIWATCH_NOTIFY_NEW_SERIES, KENMEIWATCH_UNREAD_ONLY, KENMEIWATCH_DRY_RUN (bool)
// - KENMEIWATCH_HTTP_TIMEOUT (duration, e.g. "10s")
// - KENMEIWATCH_NOTIFY_ATTEMPTS (int)
// - KENMEIWATCH_LOG_LEVEL, KENMEIWATCH_LOG_FILE, KENMEIWATCH_LOG_PRETTY
// - KENMEIWATCH_METRICS_ENABLED, KENMEIWATCH_METRICS_PORT, KENMEIWATCH_PUSHGATEWAY_URL
// - KENMEIWATCH_INFLUX_URL, KENMEIWATCH_INFLUX_TOKEN, KENMEIWATCH_INFLUX_ORG, KENMEIWATCH_INFLUX_BUCKET
// - KENMEIWATCH_GOTIFY_URL, KENMEIWATCH_GOTIFY_TOKEN, KENMEIWATCH_DISCORD_WEBHOOK,
//   KENMEIWATCH_GENERIC_WEBHOOK_URL
func ApplyEnvOverrides(cfg *Config) error {
	applyCredentialEnv(cfg)

	if err := applyRunEnv(cfg); err != nil {
		return err
	}

	if err := applyLoggingEnv(cfg); err != nil {
		return err
	}

	if err := applyMetricsEnv(cfg); err != nil {
		return err
	}

	applyNotifierEnv(cfg)
	return nil
}

func applyCredentialEnv(cfg *Config) {
	setStringEnv(EnvKenmeiEmail, &cfg.KenmeiEmail)
	setStringEnv(EnvKenmeiPassword, &cfg.KenmeiPassword)
	setStringEnv(EnvPushoverAppKey, &cfg.PushoverAppKey)
	setStringEnv(EnvPushoverAccKey, &cfg.PushoverAccKey)
	setStringEnv("KENMEIWATCH_KENMEI_URL", &cfg.KenmeiBaseURL)
}

// applyRunEnv handles state, schedule and per-run behaviour
func applyRunEnv(cfg *Config) error {
	setStringEnv("KENMEIWATCH_STATE_FILE", &cfg.StateFile)
	setStringEnv("KENMEIWATCH_SCHEDULE", &cfg.Schedule)

	if err := setBoolEnv("KENMEIWATCH_NOTIFY_NEW_SERIES", func(b bool) { cfg.NotifyNewSeries = b }); err != nil {
		return err
	}
	if err := setBoolEnv("KENMEIWATCH_UNREAD_ONLY", func(b bool) { cfg.UnreadOnly = b }); err != nil {
		return err
	}
	if err := setBoolEnv("KENMEIWATCH_DRY_RUN", func(b bool) { cfg.DryRun = b }); err != nil {
		return err
	}
	if v := os.Getenv("KENMEIWATCH_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid KENMEIWATCH_HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	if v := os.Getenv("KENMEIWATCH_NOTIFY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid KENMEIWATCH_NOTIFY_ATTEMPTS: %w", err)
		}
		cfg.NotifyAttempts = n
	}
	return nil
}

func applyLoggingEnv(cfg *Config) error {
	setStringEnv("KENMEIWATCH_LOG_LEVEL", &cfg.LogLevel)
	setStringEnv("KENMEIWATCH_LOG_FILE", &cfg.LogFile)
	return setBoolEnv("KENMEIWATCH_LOG_PRETTY", func(b bool) { cfg.LogPretty = b })
}

// applyMetricsEnv consolidates metrics-related env parsing
func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("KENMEIWATCH_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	if v := os.Getenv("KENMEIWATCH_METRICS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid KENMEIWATCH_METRICS_PORT: %w", err)
		}
		cfg.MetricsPort = p
	}
	setStringEnv("KENMEIWATCH_PUSHGATEWAY_URL", &cfg.PushgatewayURL)
	setStringEnv("KENMEIWATCH_INFLUX_URL", &cfg.InfluxURL)
	setStringEnv("KENMEIWATCH_INFLUX_TOKEN", &cfg.InfluxToken)
	setStringEnv("KENMEIWATCH_INFLUX_ORG", &cfg.InfluxOrg)
	setStringEnv("KENMEIWATCH_INFLUX_BUCKET", &cfg.InfluxBucket)
	return nil
}

func applyNotifierEnv(cfg *Config) {
	setStringEnv("KENMEIWATCH_GOTIFY_URL", &cfg.GotifyURL)
	setStringEnv("KENMEIWATCH_GOTIFY_TOKEN", &cfg.GotifyToken)
	setStringEnv("KENMEIWATCH_DISCORD_WEBHOOK", &cfg.DiscordWebhook)
	setStringEnv("KENMEIWATCH_GENERIC_WEBHOOK_URL", &cfg.GenericWebhookURL)
}

func setStringEnv(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// setBoolEnv is a small helper to parse boolean environment variables
func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}
