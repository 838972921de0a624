package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/reparto-app/reparto-go/internal/api"
	"github.com/reparto-app/reparto-go/internal/config"
	"github.com/reparto-app/reparto-go/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reparto",
		Short:   "Reparto platform CLI client",
		Long:    "Command-line client for the Reparto delivery platform API.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "errors only")

	cmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newCallCmd(),
		newUploadCmd(),
	)

	return cmd
}

// resolveConfig loads configuration through the defaults -> file -> env
// chain, honoring the --config flag.
func resolveConfig() (*config.Resolved, error) {
	env := config.ReadEnvOverrides()
	if flagConfigPath != "" {
		env.ConfigPath = flagConfigPath
	}

	cfg, err := config.Resolve(env)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// buildLogger creates an slog.Logger from the resolved config and CLI flags.
// Config provides the baseline; --verbose and --quiet override it because
// CLI flags always win. Format "auto" picks text on a terminal and JSON
// otherwise, so piped output stays machine-readable.
func buildLogger(cfg *config.Resolved) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := cfg.LogFormat
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// newSessionStore opens the configured session store backend.
func newSessionStore(cfg *config.Resolved, logger *slog.Logger) (session.Store, func(), error) {
	if cfg.SessionBackend == config.BackendSQLite {
		store, err := session.NewSQLiteStore(cfg.SessionPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening session store: %w", err)
		}

		return store, func() { _ = store.Close() }, nil
	}

	return session.NewFileStore(cfg.SessionPath, logger), func() {}, nil
}

// buildClient wires config, logger, store, and state into an api.Client.
// The returned cleanup must be called when the command finishes.
func buildClient() (*api.Client, *slog.Logger, func(), error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger := buildLogger(cfg)

	store, closeStore, err := newSessionStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	initial, err := store.Load()
	if err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("loading session: %w", err)
	}

	state := session.NewState(initial, logger)

	// Config validated max_retries >= 0; zero is an explicit "no retries".
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = api.NoRetries
	}

	client := api.New(api.Options{
		BaseURL:             cfg.BaseURL,
		APIKey:              cfg.APIKey,
		UserAgent:           "reparto-go/" + version,
		ConnectTimeout:      cfg.ConnectTimeout,
		ReceiveTimeout:      cfg.ReceiveTimeout,
		MaxRetries:          maxRetries,
		RetryBaseDelay:      cfg.RetryBaseDelay,
		TokenLifetime:       cfg.TokenLifetime,
		RefreshMargin:       cfg.RefreshMargin,
		UploadTimeoutFactor: cfg.UploadTimeoutFactor,
	}, state, store, logger)

	return client, logger, closeStore, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
