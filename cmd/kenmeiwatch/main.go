package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kenmeiwatch/kenmeiwatch/internal/config"
	"github.com/kenmeiwatch/kenmeiwatch/internal/kenmei"
	"github.com/kenmeiwatch/kenmeiwatch/internal/logging"
	"github.com/kenmeiwatch/kenmeiwatch/internal/metrics"
	"github.com/kenmeiwatch/kenmeiwatch/internal/runner"
	"github.com/kenmeiwatch/kenmeiwatch/internal/state"
)

// shutdownTimeout bounds how long watch mode waits for an active run on exit.
const shutdownTimeout = 30 * time.Second

type rootOptions struct {
	configFile string
	envFile    string
	stateFile  string
	dryRun     bool
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootOptions{})
}

func buildRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "kenmeiwatch",
		Short: "Push a notification for every new chapter on your Kenmei list",
		Example: `  kenmeiwatch run --env-file .env
  kenmeiwatch watch --config /etc/kenmeiwatch.yaml`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&opts.stateFile, "state-file", "", "state file path (default unread.json)")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "detect releases without notifying or saving state")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newRunCmd(opts), newWatchCmd(opts))
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Check once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := newRunner(cfg).RunOnce(cmd.Context())
			if err != nil {
				logging.Get().Error().Err(err).Msg("check run failed")
				return err
			}
			logging.Get().Info().
				Int("series", res.Fetched).
				Int("updates", len(res.Updates)).
				Int("notified", res.Notified).
				Int("notify_failures", res.NotifyFailures).
				Bool("dry_run", cfg.DryRun).
				Msg("check run complete")
			return nil
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Check on the configured cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := startMetricsServer(cfg)
			r := newRunner(cfg)
			if err := r.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()

			logging.Get().Info().Msg("shutdown signal received, waiting for active run to complete")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			r.Stop(shutdownCtx)
			if srv != nil {
				_ = srv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
}

// setup resolves configuration (defaults, file, .env, environment, flags in
// increasing precedence), validates it and initialises logging.
func setup(cmd *cobra.Command, opts *rootOptions) (*config.Config, func(), error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, nil, err
	}
	cleanup, err := logging.Init(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	for _, w := range cfg.Validate() {
		logging.Get().Warn().Str("warning", w).Msg("config validation")
	}
	return cfg, cleanup, nil
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configFile != "" {
		c, err := config.LoadConfigFromFile(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed loading config: %w", err)
		}
		cfg = c
	}
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("state-file") {
		cfg.StateFile = opts.stateFile
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}

func newRunner(cfg *config.Config) *runner.Runner {
	client := kenmei.NewClient(
		kenmei.WithBaseURL(cfg.KenmeiBaseURL),
		kenmei.WithTimeout(cfg.HTTPTimeout),
	)
	return runner.New(cfg, client, state.NewStore(cfg.StateFile), runner.BuildNotifier(cfg))
}

// startMetricsServer serves /metrics and /status when metrics are enabled.
func startMetricsServer(cfg *config.Config) *http.Server {
	if !cfg.MetricsEnabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PromHandler())
	mux.Handle("/status", metrics.JSONHandler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Get().Info().Str("addr", srv.Addr).Msg("starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Get().Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}
