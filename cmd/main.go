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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"relief/adapter"
	"relief/handler"
	"relief/internal/config"
	"relief/internal/core/service"
	"relief/internal/infra/backup"
	"relief/internal/infra/circuitbreaker"
	"relief/internal/infra/health"
	httpserver "relief/internal/infra/http"
	"relief/internal/infra/queue"
	"relief/internal/infra/sessionlock"
	"relief/internal/infra/storage"
	"relief/internal/metrics"
)

const (
	writeQueueSize  = 1024
	shutdownTimeout = 10 * time.Second
	healthCacheTTL  = 5 * time.Second
)

func main() {
	config.LoadEnvironment()
	settings := config.LoadEnvironmentConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: settings.LogLevel}))
	slog.SetDefault(logger)

	if err := run(settings, logger); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(settings *config.ApplicationSettings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := queue.NewSerializer(writeQueueSize)
	defer writer.Close()

	checker := health.NewChecker(healthCacheTTL)

	registry, closeRegistry, err := openRegistry(ctx, settings, writer, checker, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	if err := registry.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}

	claims, closeClaims := openClaimer(ctx, settings, checker, logger)
	defer closeClaims()

	if settings.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is not set; gateway calls will fail")
	}
	breaker := circuitbreaker.NewCircuitBreaker(settings.BreakerMaxFailures, settings.BreakerOpenTimeout, 1)
	gateway := adapter.NewStripeGateway(adapter.StripeGatewayConfig{
		SecretKey: settings.StripeSecretKey,
		APIURL:    settings.StripeAPIURL,
		Timeout:   settings.GatewayTimeout,
	}, breaker, logger)
	checker.Register("gateway", func(context.Context) error {
		if breaker.GetState() == circuitbreaker.StateOpen {
			return errors.New("circuit open")
		}
		return nil
	})

	var snapshots service.Snapshotter
	if s3 := backup.NewS3Snapshotter(backup.S3Config{
		Bucket:    settings.SnapshotBucket,
		Prefix:    settings.SnapshotPrefix,
		Region:    settings.SnapshotRegion,
		Endpoint:  settings.SnapshotEndpoint,
		AccessKey: settings.SnapshotAccessKey,
		SecretKey: settings.SnapshotSecretKey,
	}, logger); s3.Enabled() {
		snapshots = s3
		logger.Info("registry snapshots enabled", "bucket", settings.SnapshotBucket, "prefix", settings.SnapshotPrefix)
	}

	checkout := service.NewCheckoutService(gateway, settings.CheckoutPolicy(), settings.FrontendURL, logger)
	reconciler := service.NewReconciler(registry, gateway, claims, snapshots, logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(promRegistry)

	app := httpserver.NewApp(httpserver.Config{
		AllowedOrigins: settings.AllowedOrigins,
		Gatherer:       promRegistry,
	}, logger)
	handler.NewDonationHandler(checkout, reconciler, checker, settings.AdminJWTSecret, logger).Register(app)

	if settings.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET is not set; /admin/donations rejects every request")
	}

	logger.Info("donation backend starting",
		"registry", settings.RegistryBackend,
		"fixedAmount", settings.CheckoutFixedAmount,
		"requireEmail", settings.CheckoutRequireEmail,
		"frontendUrl", settings.FrontendURL,
	)
	return httpserver.Serve(ctx, app, settings.ListenAddr(), shutdownTimeout, logger)
}

func openRegistry(ctx context.Context, settings *config.ApplicationSettings, writer *queue.Serializer, checker *health.Checker, logger *slog.Logger) (service.Registry, func(), error) {
	switch settings.RegistryBackend {
	case config.RegistryBackendPostgres:
		pg, err := storage.OpenPostgresRegistry(ctx, settings.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		checker.Register("registry", pg.Ping)
		return pg, func() { _ = pg.Close() }, nil

	case config.RegistryBackendMemory:
		logger.Warn("using in-memory registry; donations are lost on restart")
		return storage.NewMemoryRegistry(), func() {}, nil

	case config.RegistryBackendFile:
		file := storage.NewFileRegistry(settings.RegistryPath, writer, logger)
		checker.Register("registry", func(ctx context.Context) error {
			_, err := file.Load(ctx)
			return err
		})
		return file, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown REGISTRY_BACKEND %q", settings.RegistryBackend)
	}
}

func openClaimer(ctx context.Context, settings *config.ApplicationSettings, checker *health.Checker, logger *slog.Logger) (service.Claimer, func()) {
	if settings.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set; session claims are process-local")
		return sessionlock.NewMemoryClaimer(settings.ClaimTTL), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            settings.RedisAddr,
		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     500 * time.Millisecond,
		ReadTimeout:     300 * time.Millisecond,
		WriteTimeout:    300 * time.Millisecond,
		MaxRetries:      2,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 50 * time.Millisecond,
	})

	claimer := sessionlock.NewRedisClaimer(rdb, settings.ClaimTTL, logger)
	if err := claimer.Ping(ctx); err != nil {
		logger.Warn("redis not available, claims will fail open", "addr", settings.RedisAddr, "err", err)
	}
	checker.Register("redis", claimer.Ping)

	return claimer, func() { _ = rdb.Close() }
}
