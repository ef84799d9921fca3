package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/reposyncd/internal/config"
	"github.com/schaermu/reposyncd/internal/git"
	"github.com/schaermu/reposyncd/internal/local"
	"github.com/schaermu/reposyncd/internal/metrics"
	"github.com/schaermu/reposyncd/internal/reconcile"
	"github.com/schaermu/reposyncd/internal/remote"
	"github.com/schaermu/reposyncd/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

// errIncomplete is returned when a run finished but some repositories failed.
var errIncomplete = errors.New("reconciliation incomplete")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reposyncd",
	Short: "Mirror the repositories of a GitHub account into a local directory",
	Long: `reposyncd keeps a local directory of working copies in step with the
repositories of a GitHub account.

Repositories that exist only remotely are cloned. Repositories present on both
sides are pulled; uncommitted local changes are stashed before the pull and
restored afterwards. A stash that cannot be restored cleanly is kept in the
stash list and reported for manual resolution.

It can run as a oneshot (via systemd timer or cron) or as a long-running
webhook daemon that reconciles on GitHub push and repository events.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Clone missing repositories and pull existing ones",
	Long: `Sync lists the repositories of the configured account and the working
copies under the local root, clones what is missing locally and pulls what
exists on both sides.

Repositories that exist only locally are reported and left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, reconcile.PhaseAll)
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Only clone repositories missing locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, reconcile.PhaseClone)
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Only pull repositories present on both sides",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, reconcile.PhasePull)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show which repositories would be cloned, pulled or left alone",
	RunE:  runDiff,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve performs an initial reconciliation and then starts a long-running
HTTP server that listens for GitHub webhook events and reconciles again when a
repository of the configured account is pushed to or created.

Prometheus metrics are served on /metrics and a liveness probe on /healthz.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reposyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/reposyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	for _, cmd := range []*cobra.Command{syncCmd, cloneCmd, pullCmd} {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	}

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runReconcile(cmd *cobra.Command, phase reconcile.Phase) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := newEngine(cfg, logger, reconcile.Options{
		DryRun:   dryRun,
		Phase:    phase,
		Recorder: metrics.NewRecorder(),
	})
	if err != nil {
		return err
	}

	report, err := engine.Run(ctx)
	if report != nil {
		if dryRun {
			renderPartition(cmd.OutOrStdout(), report.Partition)
		} else {
			renderOutcomes(cmd.OutOrStdout(), report)
		}
	}
	if err != nil {
		logger.Error("reconciliation failed", "error", err)
		return err
	}
	return checkReport(report)
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := newEngine(cfg, logger, reconcile.Options{DryRun: true})
	if err != nil {
		return err
	}

	partition, err := engine.Plan(ctx)
	if err != nil {
		return err
	}

	renderPartition(cmd.OutOrStdout(), partition)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve mode is not enabled in configuration (serve.enabled: false)")
	}

	engine, err := newEngine(cfg, logger, reconcile.Options{Recorder: metrics.NewRecorder()})
	if err != nil {
		return err
	}

	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	return server.Start(ctx)
}

// newEngine wires the shell git client and both listing adapters
func newEngine(cfg *config.Config, logger *slog.Logger, opts reconcile.Options) (*reconcile.Engine, error) {
	remoteSource, err := remote.NewSource(cfg.Remote.APIURL, remote.CloneProtocol(cfg.Remote.CloneProtocol), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote source: %w", err)
	}

	return reconcile.NewEngine(
		cfg,
		git.NewShellClient(cfg.Sync.Timeout),
		remoteSource,
		local.NewSource(cfg.Local.Root),
		logger,
		opts,
	), nil
}

// checkReport turns failed repositories into a non-zero exit
func checkReport(report *reconcile.Report) error {
	if report == nil || report.Failed() == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d repositories failed", errIncomplete, report.Failed())
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "reposyncd", "config.yaml")
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"account", cfg.Remote.Account,
		"root", cfg.Local.Root,
		"strategy", cfg.Sync.Strategy,
		"workers", cfg.Sync.Workers)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
