package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/trnila/nextbike-rides-viewer/internal/config"
	"github.com/trnila/nextbike-rides-viewer/internal/proxy"
	"github.com/trnila/nextbike-rides-viewer/internal/server"
)

const defaultAddr = ":5173"

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// config holds all dev server configuration.
type config struct {
	ListenAddr      string
	ConfigFile      string
	StaticDir       string
	UpstreamTimeout time.Duration
	LogFormat       string
	LogLevel        slog.Level
	MetricsAddr     string
	WatchConfig     bool
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("viewer-devproxy version %s\n", Version)
			return
		}
	}

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses flags and environment variables with precedence: Flag > Env > Default.
func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("viewer-devproxy", flag.ContinueOnError)

	cfg := config{}
	fs.Bool("version", false, "print version and exit")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", defaultAddr), "listen address")
	fs.StringVar(&cfg.ConfigFile, "config", getEnv("CONFIG_FILE", ""), "path to YAML proxy rule file (built-in viewer rules when empty)")
	fs.StringVar(&cfg.StaticDir, "static-dir", getEnv("STATIC_DIR", ""), "directory served for requests no rule matches")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (json or text)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getEnv("METRICS_ADDR", ""), "listen address for Prometheus metrics (disabled when empty)")
	fs.BoolVar(&cfg.WatchConfig, "watch-config", getEnvBool("WATCH_CONFIG", false), "reload proxy rules when the config file changes")

	timeoutStr := getEnv("UPSTREAM_TIMEOUT", proxy.DefaultTimeout.String())
	fs.StringVar(&timeoutStr, "upstream-timeout", timeoutStr, "default time to wait for upstream response headers")

	logLevelStr := getEnv("LOG_LEVEL", "info")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return config{}, fmt.Errorf("invalid upstream timeout %q: %w", timeoutStr, err)
	}
	if timeout <= 0 {
		return config{}, fmt.Errorf("upstream timeout must be positive, got %q", timeoutStr)
	}
	cfg.UpstreamTimeout = timeout

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return config{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", cfg.LogFormat)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(logLevelStr)); err != nil {
		return config{}, fmt.Errorf("invalid log level %q: %w", logLevelStr, err)
	}

	if cfg.WatchConfig && cfg.ConfigFile == "" {
		return config{}, errors.New("--watch-config requires --config")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func setupLogger(format string, level slog.Level) *slog.Logger {
	return setupLoggerWithWriter(format, level, os.Stdout)
}

func setupLoggerWithWriter(format string, level slog.Level, writer io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler)
}

// loadRules reads the rule file, or the built-in rules when none is configured.
func loadRules(path string) (*appconfig.Config, error) {
	if path == "" {
		return appconfig.Default(), nil
	}
	return appconfig.Load(path)
}

func newRouter(rc *appconfig.Config, cfg config, logger *slog.Logger, metrics *proxy.Metrics) (*proxy.Router, error) {
	rules, err := rc.Rules()
	if err != nil {
		return nil, err
	}
	return proxy.NewRouter(rules,
		proxy.WithLogger(logger),
		proxy.WithMetrics(metrics),
		proxy.WithDefaultTimeout(cfg.UpstreamTimeout),
	)
}

func logRules(logger *slog.Logger, msg string, router *proxy.Router) {
	for i, rule := range router.Rules() {
		logger.Info(msg, "index", i, "matcher", rule.Matcher, "target", rule.Target.String())
	}
}

// setup builds the dev server handler: proxy rules first, static files or 404
// otherwise. With WatchConfig set it also reloads the rules until ctx ends.
func setup(ctx context.Context, cfg config, logger *slog.Logger, reg prometheus.Registerer) (http.Handler, error) {
	metrics := proxy.NewMetrics(reg)

	rc, err := loadRules(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxy rules: %w", err)
	}
	router, err := newRouter(rc, cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy router: %w", err)
	}
	logRules(logger, "Proxy rule", router)

	var fallback http.Handler = server.NotFoundHandler()
	if cfg.StaticDir != "" {
		static, err := server.NewDirHandler(cfg.StaticDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create static handler: %w", err)
		}
		fallback = static
		logger.Info("Serving static files", "dir", cfg.StaticDir)
	}

	active := server.NewSwappable(router)

	if cfg.WatchConfig {
		watcher := appconfig.NewWatcher(cfg.ConfigFile, func(newCfg *appconfig.Config, err error) {
			if errors.Is(err, appconfig.ErrConfigMissing) {
				logger.Warn("Config file missing, keeping previous rules", "path", cfg.ConfigFile)
				return
			}
			if err != nil {
				// Keep the last-known-good rules active when reload fails.
				logger.Error("Config reload failed, keeping previous rules", "error", err)
				return
			}
			next, err := newRouter(newCfg, cfg, logger, metrics)
			if err != nil {
				logger.Error("Config reload failed, keeping previous rules", "error", err)
				return
			}
			active.Swap(next)
			logRules(logger, "Proxy rule reloaded", next)
		}, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("config watcher stopped with error", "error", err)
			}
		}()
		logger.Info("Watching config file", "path", cfg.ConfigFile)
	}

	return server.AccessLog(logger, server.NewHandler(active, fallback)), nil
}

// run starts the dev server and handles graceful shutdown.
func run(ctx context.Context, cfg config) error {
	logger := setupLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("Starting viewer dev proxy", "version", Version)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler, err := setup(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverError := make(chan error, 2)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("Metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverError <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		slog.Info("Listening (HTTP)", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
	case err := <-serverError:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
