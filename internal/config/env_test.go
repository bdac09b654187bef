package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyEnvOverrides(t *testing.T) {
	applyEnvSetup(t)

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	validateAppliedEnvOverrides(t, cfg)
	if err := cfg.Check(); err != nil {
		t.Fatalf("expected credentials from env to satisfy Check, got %v", err)
	}
}

func applyEnvSetup(t *testing.T) {
	t.Helper()
	t.Setenv(EnvKenmeiEmail, "reader@example.com")
	t.Setenv(EnvKenmeiPassword, "hunter2")
	t.Setenv(EnvPushoverAppKey, "app-token")
	t.Setenv(EnvPushoverAccKey, "user-key")
	t.Setenv("KENMEIWATCH_STATE_FILE", "/tmp/kw/unread.json")
	t.Setenv("KENMEIWATCH_SCHEDULE", "0 * * * *")
	t.Setenv("KENMEIWATCH_NOTIFY_NEW_SERIES", "false")
	t.Setenv("KENMEIWATCH_DRY_RUN", "true")
	t.Setenv("KENMEIWATCH_HTTP_TIMEOUT", "3s")
	t.Setenv("KENMEIWATCH_NOTIFY_ATTEMPTS", "2")
	t.Setenv("KENMEIWATCH_METRICS_ENABLED", "true")
	t.Setenv("KENMEIWATCH_METRICS_PORT", "9100")
	t.Setenv("KENMEIWATCH_PUSHGATEWAY_URL", "http://pushgateway:9091")
	t.Setenv("KENMEIWATCH_INFLUX_URL", "http://influx:8086")
	t.Setenv("KENMEIWATCH_INFLUX_BUCKET", "b")
	t.Setenv("KENMEIWATCH_GOTIFY_URL", "https://gotify.example")
	t.Setenv("KENMEIWATCH_GOTIFY_TOKEN", "gt")
}

func validateAppliedEnvOverrides(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.KenmeiEmail != "reader@example.com" || cfg.KenmeiPassword != "hunter2" {
		t.Fatalf("unexpected kenmei credentials: %q %q", cfg.KenmeiEmail, cfg.KenmeiPassword)
	}
	if cfg.PushoverAppKey != "app-token" || cfg.PushoverAccKey != "user-key" {
		t.Fatalf("unexpected pushover keys: %q %q", cfg.PushoverAppKey, cfg.PushoverAccKey)
	}
	if cfg.StateFile != "/tmp/kw/unread.json" {
		t.Fatalf("unexpected state file: %s", cfg.StateFile)
	}
	if cfg.Schedule != "0 * * * *" {
		t.Fatalf("unexpected schedule: %s", cfg.Schedule)
	}
	if cfg.NotifyNewSeries {
		t.Fatalf("expected NotifyNewSeries to be disabled")
	}
	if !cfg.DryRun {
		t.Fatalf("expected dry run")
	}
	if cfg.HTTPTimeout != 3*time.Second {
		t.Fatalf("unexpected http timeout: %v", cfg.HTTPTimeout)
	}
	if cfg.NotifyAttempts != 2 {
		t.Fatalf("unexpected notify attempts: %d", cfg.NotifyAttempts)
	}
	if !cfg.MetricsEnabled || cfg.MetricsPort != 9100 {
		t.Fatalf("unexpected metrics config: %v %d", cfg.MetricsEnabled, cfg.MetricsPort)
	}
	if cfg.PushgatewayURL != "http://pushgateway:9091" {
		t.Fatalf("unexpected pushgateway url: %s", cfg.PushgatewayURL)
	}
	if cfg.InfluxURL != "http://influx:8086" || cfg.InfluxBucket != "b" {
		t.Fatalf("unexpected influx config: %+v", cfg)
	}
	if cfg.GotifyURL != "https://gotify.example" || cfg.GotifyToken != "gt" {
		t.Fatalf("unexpected gotify config: %+v", cfg)
	}
}

func TestApplyEnvOverridesInvalid(t *testing.T) {
	cases := map[string]string{
		"KENMEIWATCH_DRY_RUN":         "maybe",
		"KENMEIWATCH_HTTP_TIMEOUT":    "ten seconds",
		"KENMEIWATCH_NOTIFY_ATTEMPTS": "x",
		"KENMEIWATCH_METRICS_PORT":    "ninety",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			if err := ApplyEnvOverrides(DefaultConfig()); err == nil {
				t.Fatalf("expected error for %s=%q", env, val)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("KENMEI_EMAIL=dotenv@example.com\nKENMEI_PASSWORD=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// already-set variables are not overwritten
	t.Setenv(EnvKenmeiPassword, "from-env")
	// register cleanup for the variable godotenv will set
	t.Setenv(EnvKenmeiEmail, "")
	os.Unsetenv(EnvKenmeiEmail)

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv(EnvKenmeiEmail); got != "dotenv@example.com" {
		t.Fatalf("expected email from .env, got %q", got)
	}
	if got := os.Getenv(EnvKenmeiPassword); got != "from-env" {
		t.Fatalf("expected env to win over .env, got %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
	if err := LoadDotEnv(""); err != nil {
		t.Fatalf("expected empty path to be ignored, got %v", err)
	}
}
