package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aiutox/eventbus/internal/application/workers"
	"github.com/aiutox/eventbus/internal/config"
	httpapi "github.com/aiutox/eventbus/pkg/api/http"
	wsapi "github.com/aiutox/eventbus/pkg/api/websocket"
	"github.com/aiutox/eventbus/pkg/bus"
	"github.com/aiutox/eventbus/pkg/event"
	"github.com/aiutox/eventbus/pkg/metrics/prometheus"
	redislog "github.com/aiutox/eventbus/pkg/stream/redis"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting event bus",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize the bus components
	log := redislog.NewLog(redisClient, logger)
	metricsCollector := prometheus.NewCollector()

	streams := bus.StreamMap{
		Domain:    cfg.Streams.Domain,
		Technical: cfg.Streams.Technical,
		Failed:    cfg.Streams.Failed,
	}

	publisher := bus.NewPublisher(log, streams, cfg.Streams.TechnicalModules, metricsCollector, logger)
	groupManager := bus.NewGroupManager(log, logger)

	retryCoordinator := bus.NewRetryCoordinator(publisher, bus.RetryPolicy{
		MaxRetries:  cfg.Retry.MaxRetries,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
	}, metricsCollector, logger)

	consumer := bus.NewConsumer(log, groupManager, retryCoordinator, streams, metricsCollector, logger)

	safePublisher := bus.NewSafePublisher(publisher, cfg.Publish.QueueSize, cfg.Publish.Timeout, logger)
	safePublisher.Start()

	// Dead-letter monitor: logs every entry landing on the failed stream
	// so operators see exhausted events without polling the admin API
	dlqHandler := func(ctx context.Context, env event.Envelope) error {
		logger.Warn("dead letter received",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
			zap.String("source", env.Metadata.Source),
			zap.String("tenant_id", env.Metadata.TenantID),
			zap.Int("retry_count", env.Metadata.RetryCount))
		return nil
	}

	dlqPool := workers.NewPool(
		cfg.Consumer.PoolSize,
		consumer,
		log,
		"dlq-monitor",
		nil, // all event types
		dlqHandler,
		bus.SubscribeOptions{
			Stream:        cfg.Streams.Failed,
			BatchSize:     cfg.Consumer.BatchSize,
			Block:         cfg.Consumer.Block,
			ClaimInterval: cfg.Consumer.ClaimInterval,
			ClaimMinIdle:  cfg.Consumer.ClaimMinIdle,
			ErrorPause:    cfg.Consumer.ErrorPause,
		},
		metricsCollector,
		logger,
		cfg.Consumer.HealthCheckInterval,
	)

	if err := dlqPool.Start(ctx); err != nil {
		logger.Fatal("failed to start dead-letter monitor", zap.Error(err))
	}

	// Initialize the admin API server
	httpServer := httpapi.NewServer(&httpapi.Config{
		Port:      cfg.HTTPPort,
		Log:       log,
		Publisher: publisher,
		Source:    cfg.Source,
		Logger:    logger,
	})
	httpServer.SetupTail(wsapi.NewHandler(log, groupManager, logger))

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("event bus started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("domain_stream", cfg.Streams.Domain),
		zap.String("technical_stream", cfg.Streams.Technical),
		zap.String("failed_stream", cfg.Streams.Failed))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := dlqPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("dead-letter monitor shutdown error", zap.Error(err))
	}

	safePublisher.Stop()

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("event bus shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
