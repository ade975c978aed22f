package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftdata/drift/internal/engine"
	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/logger"
	"github.com/driftdata/drift/pkg/registry"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "drift",
		Short: "Drift - incremental API-to-warehouse sync engine",
		Long: `Drift pulls paginated data from HTTP APIs into destination tables
incrementally, resuming from a durable cursor checkpoint so interrupted
syncs never re-deliver finished work and never lose records.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Drift v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available sinks and state stores",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available sinks:")
			for _, name := range registry.ListSinks() {
				fmt.Printf("  - %s\n", name)
			}
			fmt.Println("\nAvailable state stores:")
			for _, name := range registry.ListStores() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	var configFile, logLevel string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sync invocation",
		Long: `Run the sync invocation described by the configuration file. Every
stream is synced in turn; a stream failure is reported but does not stop
its siblings. The exit code is non-zero when any stream failed.

Example:
  drift run --config sync.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runSync(configFile, logLevel)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to sync configuration JSON file (required)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	_ = runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSync(configFile, logLevel string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: "json",
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = context.WithValue(ctx, logger.InvocationIDKey, cfg.Name)

	if cfg.Auth.Type != config.AuthNone {
		// Credential values only ever reach the log masked.
		logger.Info("source authentication configured",
			zap.String("type", cfg.Auth.Type),
			logger.Redacted("credentials"))
	}

	store, err := registry.CreateStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(ctx) }()

	snk, err := registry.CreateSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = snk.Close(ctx) }()

	log := logger.WithContext(ctx)
	log.Info("starting sync invocation",
		zap.String("name", cfg.Name),
		zap.Int("streams", len(cfg.Streams)),
		zap.String("sink", cfg.Sink.Type),
		zap.String("state", cfg.State.Type))

	results, err := engine.New(cfg, store, snk).Run(ctx)
	for _, res := range results {
		log.Info("stream finished",
			zap.String("stream", res.Stream),
			zap.String("phase", string(res.Phase)),
			zap.Int64("pages", res.Pages),
			zap.Int64("delivered", res.Delivered),
			zap.Int64("skipped", res.Skipped))
	}
	return err
}
