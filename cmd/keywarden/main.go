// Package main is the entry point for the keywarden service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/keywarden/keywarden/internal/api"
	"github.com/keywarden/keywarden/internal/cache"
	"github.com/keywarden/keywarden/internal/config"
	"github.com/keywarden/keywarden/internal/keys"
	"github.com/keywarden/keywarden/internal/notifier"
	"github.com/keywarden/keywarden/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting keywarden",
		observability.String("version", version),
		observability.String("config", flags.configPath))

	run(cfg, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("KEYWARDEN_CONFIG_PATH", "configs/keywarden.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("keywarden version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger from the configuration.
func initLogger(cfg *config.Config) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// run wires the application together and blocks until shutdown.
func run(cfg *config.Config, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := keys.NewPostgresStore(ctx, &cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to connect to store", observability.Error(err))
	}
	defer store.Close()

	// One Redis client serves both the distributed cache and the
	// invalidation bus.
	client, err := newRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", observability.Error(err))
	}
	defer func() { _ = client.Close() }()

	dist := cache.NewRedisWithClient(client, cfg.Redis.KeyPrefix, logger)
	bus := keys.NewRedisBus(client, cfg.Keys.InvalidationChannel, logger)

	manager, err := keys.NewManager(store, dist, bus,
		keys.WithLogger(logger),
		keys.WithNotifier(newNotifier(cfg, logger)),
		keys.WithCacheTimeout(cfg.Keys.CacheTimeout.Duration()),
		keys.WithNegativeTTL(cfg.Keys.NegativeTTL.Duration()),
		keys.WithLocalMaxEntries(cfg.Keys.LocalMaxEntries),
	)
	if err != nil {
		logger.Fatal("failed to create key manager", observability.Error(err))
	}
	defer func() { _ = manager.Close() }()

	if err := manager.WatchInvalidations(ctx); err != nil {
		logger.Fatal("failed to subscribe to invalidations", observability.Error(err))
	}

	server := api.NewServer(&cfg.Server, manager, logger)
	mountMetrics(server.Engine())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", observability.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", observability.Error(err))
	}
}

// newRedisClient builds and verifies the shared Redis client.
func newRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// newNotifier builds the audit notifier from the configuration.
func newNotifier(cfg *config.Config, logger observability.Logger) notifier.Notifier {
	if !cfg.Notifier.Enabled {
		return notifier.NopNotifier{}
	}
	return notifier.NewWebhookNotifier(
		cfg.Notifier.WebhookURL,
		cfg.Notifier.Timeout.Duration(),
		notifier.WithLogger(logger),
	)
}

// mountMetrics exposes Prometheus metrics on /metrics.
func mountMetrics(engine *gin.Engine) {
	registry := prometheus.NewRegistry()

	keyMetrics := keys.GetSharedMetrics()
	keyMetrics.MustRegister(registry)
	keyMetrics.Init()

	cacheMetrics := cache.GetCacheMetrics()
	cacheMetrics.MustRegister(registry)
	cacheMetrics.Init()

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
