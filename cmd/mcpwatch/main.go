package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpwatch/mcpwatch-go/internal/config"
	"github.com/mcpwatch/mcpwatch-go/internal/logs"
	"github.com/mcpwatch/mcpwatch-go/internal/runtime"
)

var (
	configFile   string
	dataDir      string
	listen       string
	logLevel     string
	logToFile    bool
	logDir       string
	observerPath string

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcpwatch",
		Short:   "mcpwatch - Inline security monitor for MCP traffic",
		Version: version,
		RunE:    runMonitor,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.mcpwatch)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "HTTP API listen address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")
	rootCmd.PersistentFlags().StringVar(&observerPath, "observer", "", "Observer process to launch for event input (default: inline push mode)")

	bindings := map[string]string{
		"listen":            "listen",
		"data-dir":          "data-dir",
		"log-level":         "log-level",
		"event-source.path": "observer",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to bind flag %s: %v\n", flag, err)
			os.Exit(1)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if observerPath != "" {
		cfg.EventSource.Path = observerPath
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	sugar := logger.Sugar()

	sugar.Infow("starting mcpwatch",
		"version", version,
		"listen", cfg.Listen,
		"data_dir", cfg.DataDir,
		"observer", cfg.EventSource.Path)

	rt, err := runtime.New(cfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}
