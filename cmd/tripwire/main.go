package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/BradenHooton/tripwire/internal/anomaly"
	"github.com/BradenHooton/tripwire/internal/background"
	"github.com/BradenHooton/tripwire/internal/config"
	"github.com/BradenHooton/tripwire/internal/consumer"
	"github.com/BradenHooton/tripwire/internal/database"
	"github.com/BradenHooton/tripwire/internal/detection"
	"github.com/BradenHooton/tripwire/internal/eventsource"
	"github.com/BradenHooton/tripwire/internal/geo"
	"github.com/BradenHooton/tripwire/internal/handlers"
	"github.com/BradenHooton/tripwire/internal/middleware"
	"github.com/BradenHooton/tripwire/internal/ops"
	"github.com/BradenHooton/tripwire/internal/repositories"
	"github.com/BradenHooton/tripwire/internal/services"
	"github.com/BradenHooton/tripwire/internal/supervisor"
	pkglogger "github.com/BradenHooton/tripwire/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tripwire exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Ops.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Ops.Env),
		slog.String("strategy", cfg.Detection.Strategy),
		slog.String("topic", cfg.Stream.Topic))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Block store
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// Detector
	opts := detection.Options{
		Rule: detection.RuleConfig{
			FailureThreshold:  cfg.Detection.FailureThreshold,
			MaxTravelSpeedKmH: cfg.Detection.MaxTravelSpeedKmH,
			QuickSwitchWindow: cfg.Detection.QuickSwitchWindow,
			BlockDuration:     cfg.Detection.RuleBlockDuration,
		},
		State: detection.StateConfig{
			FailureWindow:  cfg.Detection.FailureWindow,
			MaxKeys:        cfg.Detection.StateMaxKeys,
			LastSuccessTTL: cfg.Detection.LastSuccessTTL,
		},
		AccumulatorTTL:  cfg.Detection.AccumulatorTTL,
		MLBlockDuration: cfg.Detection.MLBlockDuration,
		Logger:          logger,
	}
	if cfg.Detection.Strategy == detection.StrategyML {
		forest, err := anomaly.Load(cfg.Detection.ModelPath)
		if err != nil {
			return fmt.Errorf("load model: %w", err)
		}
		opts.Scorer = forest
		logger.Info("isolation forest loaded", slog.String("path", cfg.Detection.ModelPath))
	}

	detector, err := detection.New(cfg.Detection.Strategy, opts)
	if err != nil {
		return fmt.Errorf("build detector: %w", err)
	}

	// Enforcement
	blockRepo := repositories.NewBlockRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	var mirror services.BlocklistMirror
	if cfg.Enforcement.RedisURL != "" {
		redisClient, err := repositories.NewRedisClient(ctx, cfg.Enforcement.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		mirror = repositories.NewBlocklistCache(redisClient)
		logger.Info("blocklist mirror enabled")
	}

	allowlist, err := services.ParseAllowlist(cfg.Enforcement.Allowlist)
	if err != nil {
		return fmt.Errorf("parse allowlist: %w", err)
	}

	blockZone, err := time.LoadLocation(cfg.Enforcement.TimeZone)
	if err != nil {
		return fmt.Errorf("load block time zone: %w", err)
	}

	auditLogger := pkglogger.NewAuditLogger(logger, cfg.Ops.Env)
	enforcer := services.NewEnforcementService(blockRepo, sessionRepo, mirror, auditLogger, services.EnforcementConfig{
		Timeout:         cfg.Enforcement.Timeout,
		RevokeSessions:  cfg.Enforcement.RevokeSessions,
		BreakerFailures: cfg.Enforcement.BreakerFailures,
		BreakerTimeout:  cfg.Enforcement.BreakerTimeout,
		Allowlist:       allowlist,
		Location:        blockZone,
	}, logger)

	// Event stream
	subCfg := eventsource.DefaultSubscriberConfig(cfg.Stream.URL)
	subCfg.DurableName = cfg.Stream.Durable
	subCfg.QueueGroup = cfg.Stream.QueueGroup
	subCfg.StreamName = cfg.Stream.StreamName

	subscriber, err := eventsource.NewSubscriber(subCfg, watermill.NewSlogLogger(logger))
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	defer subscriber.Close()

	consumerOpts := []consumer.Option{consumer.WithEnv(cfg.Ops.Env)}
	if cfg.Detection.GeoIPDBPath != "" {
		resolver, err := geo.OpenMaxMind(cfg.Detection.GeoIPDBPath)
		if err != nil {
			return fmt.Errorf("open geoip database: %w", err)
		}
		defer resolver.Close()
		consumerOpts = append(consumerOpts, consumer.WithResolver(resolver))
	}

	eventConsumer := consumer.New(subscriber, cfg.Stream.Topic, detector, enforcer, logger, consumerOpts...)

	// Ops surface
	var state handlers.StateReporter
	if reporter, ok := detector.(detection.StateReporter); ok {
		state = reporter
	}
	opsHandler := handlers.NewOpsHandler(db, blockRepo, detector.Name(), state, logger)
	router := ops.NewRouter(opsHandler, middleware.RateLimitConfig{RequestsPerMinute: cfg.Ops.RateLimit}, logger)
	opsServer := ops.NewServer(cfg.Ops.Port, router, logger)

	cleanupManager := background.NewCleanupManager(blockRepo, logger, cfg.Enforcement.CleanupInterval, cfg.Enforcement.BlockRetention, blockZone)

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddPipelineService(eventConsumer)
	tree.AddMaintenanceService(cleanupManager)
	tree.AddMaintenanceService(opsServer)

	logger.Info("tripwire started",
		slog.String("ops_port", cfg.Ops.Port),
		slog.Int("allowlisted_ranges", allowlist.Len()))

	err = tree.Serve(ctx)

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn("service did not stop in time", slog.String("service", svc.Name))
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("tripwire stopped gracefully")
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
