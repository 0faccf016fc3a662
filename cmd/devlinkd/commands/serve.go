package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devlink-broker/devlink-go/pkg/config"
	"github.com/devlink-broker/devlink-go/pkg/log"
	"github.com/devlink-broker/devlink-go/pkg/service"
)

var (
	traceLogPath string
	logLevel     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker",
	Long: `Start the broker with the settings file given by --config. A missing
settings file starts the broker with defaults; settings saved over the
RPC endpoint are written back to the same file.

Examples:
  # Start with defaults
  devlinkd serve

  # Start with a custom settings file and a binary trace log
  devlinkd serve --config /etc/devlink/settings.yaml --trace-log broker.dlog`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&traceLogPath, "trace-log", "", "write a binary trace log to this file")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "console log level: debug, info, warn, error")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, traceFile, err := buildLogger()
	if err != nil {
		return err
	}
	if traceFile != nil {
		defer traceFile.Close()
	}

	store := config.NewStore(cfgFile)
	broker, err := service.NewBroker(store, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := broker.Start(ctx); err != nil {
		return err
	}

	settings := broker.Settings()
	scheme := "ws"
	if settings.Transport.UseTLS {
		scheme = "wss"
	}
	slog.Info("broker running",
		"endpoint", fmt.Sprintf("%s://%s:%d", scheme, settings.Transport.Host, settings.Transport.Port),
		"settings", store.Path())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)

	slog.Info("shutting down")
	broker.Stop()
	return nil
}

// buildLogger assembles the console logger and, when requested, the binary
// trace file. The returned closer is nil when no trace file is open.
func buildLogger() (log.Logger, *log.FileLogger, error) {
	level := slog.LevelInfo
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
		return nil, nil, fmt.Errorf("unknown log level %q", logLevel)
	}

	console := log.NewSlogAdapter(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	if traceLogPath == "" {
		return console, nil, nil
	}

	trace, err := log.NewFileLogger(traceLogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace log: %w", err)
	}
	return log.NewMultiLogger(console, trace), trace, nil
}
