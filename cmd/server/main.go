// Package main provides the entry point for the greylookup server.
// It exposes GreyNoise IP and CVE lookups as a batched HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/greylookup/internal/api"
	"github.com/lvonguyen/greylookup/internal/api/gateway"
	"github.com/lvonguyen/greylookup/internal/config"
	"github.com/lvonguyen/greylookup/internal/greynoise"
	"github.com/lvonguyen/greylookup/internal/lookup"
	"github.com/lvonguyen/greylookup/internal/observability"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("greylookup %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "greylookup: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := observability.New(observability.Config{
		ServiceName:    "greylookup",
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		TracingEnabled: cfg.Tracing.Enabled,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	logger := tel.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tel.StartSystemMetricsCollector(ctx)

	opts := cfg.Options()
	logger.Info("Starting greylookup",
		zap.String("version", Version),
		zap.String("config", configPath),
		zap.String("tier", string(opts.Tier())),
	)

	httpClient, err := greynoise.NewHTTPClient(cfg.GreyNoise.Request)
	if err != nil {
		return fmt.Errorf("building upstream client: %w", err)
	}

	policy, err := lookup.ParseTransportPolicy(cfg.Lookup.OnTransport)
	if err != nil {
		return err
	}

	engine := lookup.NewEngine(lookup.EngineConfig{
		HTTPClient:  httpClient,
		Version:     Version,
		Transport:   policy,
		Tracer:      tel.Tracer(),
	}, tel.Metrics(), logger)

	var (
		redisClient *redis.Client
		ready       func(context.Context) error
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.RedisPassword(),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
		ready = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	limiter := gateway.NewRateLimiter(redisClient, gateway.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
		IncludeHeaders:    true,
	}, tel.Metrics(), logger)

	handler := api.NewHandler(engine, api.HandlerConfig{
		Options:     opts,
		MaxEntities: cfg.Server.MaxEntities,
		Version:     Version,
		TrustProxy:  cfg.Server.TrustProxyHeaders,
		Ready:       ready,
	}, tel.Metrics(), logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Router(limiter, tel.MetricsHandler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("Server error", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
	if err := tel.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
	}
	return nil
}
