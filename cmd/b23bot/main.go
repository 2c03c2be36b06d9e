// Command b23bot runs the bot against a OneBot v11 WebSocket gateway such
// as NapCat.
//
// Usage:
//
//	b23bot init --config config.toml --host 127.0.0.1 --port 3001 --root 10001
//	b23bot --config config.toml --metrics-addr :9090
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/b23bot/b23bot"
	"github.com/b23bot/b23bot/plugins/command"
	"github.com/b23bot/b23bot/plugins/demo"
)

var (
	configFile  string
	logLevel    string
	logFormat   string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:           "b23bot",
	Short:         "Plugin-based chat bot for OneBot v11 gateways",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBot,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.toml", "Configuration file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
}

func catalog() *b23bot.Catalog {
	c := b23bot.NewCatalog()
	c.MustRegister(command.Name, command.New)
	c.MustRegister(demo.Name, demo.New)
	return c
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", logFormat)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	store, err := b23bot.OpenStore(configFile)
	if err != nil {
		return fmt.Errorf("%w (run 'b23bot init' to create one)", err)
	}
	logger.Info("config loaded", "path", store.Path(), "plugins", store.Plugins())

	reg := prometheus.NewRegistry()
	metrics, err := b23bot.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	bot, err := b23bot.New(store, catalog(),
		b23bot.WithLogger(logger),
		b23bot.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	err = bot.Run(ctx)
	if errors.Is(err, b23bot.ErrReconnectExhausted) {
		logger.Error("gateway unreachable, exiting", "error", err)
	}
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}
