package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ebogdum/accessfs/config"
	"github.com/ebogdum/accessfs/core"
	"github.com/ebogdum/accessfs/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// newRootCmd builds the accessfs command tree
func newRootCmd() *cobra.Command {
	var configFilePath string

	rootCmd := &cobra.Command{
		Use:   "accessfs",
		Short: "accessfs - unified access to file and object storage backends",
		Long: `accessfs performs read, write, stat, delete, list and create-directory
operations against the configured storage backend (local filesystem, memory,
S3, redis or sqlite) through the same layered accessor stack used by the library.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", "", "Path to configuration file")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long:  "Validate the accessfs configuration and display the loaded settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd, configFilePath)
		},
	})

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(objectCommands(&configFilePath)...)
	return rootCmd
}

// withOperator loads configuration, builds the operator and runs fn with it
func withOperator(cmd *cobra.Command, configFilePath string, fn func(ctx context.Context, op *core.Operator) error) error {
	ctx := cmd.Context()

	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		// Sync on stderr returns EINVAL on some platforms, nothing useful to report
		_ = logger.Sync()
	}()

	stopMetrics := startMetricsServer(cfg.Metrics, logger)
	defer stopMetrics()

	op, err := core.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := op.Close(); err != nil {
			logger.Error("Failed to close backend", zap.Error(err))
		}
	}()

	return fn(ctx, op)
}

// startMetricsServer serves /metrics when a listen address is configured and returns its shutdown func
func startMetricsServer(cfg config.MetricsConfig, logger *zap.Logger) func() {
	if cfg.ListenAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}
}

// validateConfig validates the accessfs configuration and displays settings
func validateConfig(cmd *cobra.Command, configFilePath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Validating configuration...")

	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		fmt.Fprintf(out, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	fmt.Fprintln(out, "✅ Configuration is valid")
	fmt.Fprintf(out, "Backend: %s\n", cfg.Backend.Type)
	switch cfg.Backend.Type {
	case config.BackendFS:
		fmt.Fprintf(out, "Local FS Root: %s\n", cfg.Backend.FS.RootPath)
	case config.BackendS3:
		fmt.Fprintf(out, "S3 Bucket: %s\n", cfg.Backend.S3.Bucket)
		fmt.Fprintf(out, "S3 Region: %s\n", cfg.Backend.S3.Region)
		if cfg.Backend.S3.AccessKey != "" {
			fmt.Fprintf(out, "S3 Access Key: %s\n", maskSecret(cfg.Backend.S3.AccessKey))
		}
	case config.BackendRedis:
		fmt.Fprintf(out, "Redis Address: %s\n", cfg.Backend.Redis.Addr)
	case config.BackendSQLite:
		fmt.Fprintf(out, "SQLite Path: %s\n", cfg.Backend.SQLite.Path)
	}
	fmt.Fprintf(out, "Layers: logging=%t metrics=%t retry=%t throttle=%t\n",
		cfg.Layers.Logging.Enabled, cfg.Layers.Metrics.Enabled, cfg.Layers.Retry.Enabled, cfg.Layers.Throttle.Enabled)
	if cfg.Metrics.ListenAddr != "" {
		fmt.Fprintf(out, "Metrics Address: %s\n", cfg.Metrics.ListenAddr)
	}

	return nil
}

// maskSecret masks all but the edges of a credential for display
func maskSecret(secret string) string {
	if len(secret) > 8 {
		return secret[:4] + "***" + secret[len(secret)-2:]
	}
	return "***"
}

// initializeLogger creates a zap logger based on configuration
func initializeLogger(logCfg config.LogConfig) (*zap.Logger, error) {
	var cfg zap.Config

	if logCfg.Format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(logCfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = level

	return cfg.Build()
}
