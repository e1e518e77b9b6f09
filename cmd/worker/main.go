package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/alleraid-api/internal/config"
	"github.com/jwalitptl/alleraid-api/internal/handler/health"
	prometheusHandler "github.com/jwalitptl/alleraid-api/internal/handler/prometheus"
	"github.com/jwalitptl/alleraid-api/internal/middleware"
	"github.com/jwalitptl/alleraid-api/internal/repository/postgres"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/messaging/redis"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
	"github.com/jwalitptl/alleraid-api/pkg/worker"
)

func healthServer(port int, checks []health.Check, m *metrics.Metrics, appLog *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery(appLog))

	metricsH := prometheusHandler.New(prometheus.DefaultGatherer, m)
	engine.GET("/metrics", metricsH.Handler())
	health.NewHandler(checks...).RegisterRoutes(engine.Group(""))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	})
	log.Logger = appLog.ZL

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(cfg.Metrics.Namespace, "worker", prometheus.DefaultRegisterer)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLog.Fatal(err, "failed to connect to database")
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			appLog.Fatal(err, "failed to migrate database")
		}
	}

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &appLog.ZL)
	if err != nil {
		appLog.Fatal(err, "failed to create redis broker")
	}
	defer broker.Close()

	outbox := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))

	processor, err := worker.NewOutboxProcessor(outbox, broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
	}, appLog, m)
	if err != nil {
		appLog.Fatal(err, "failed to create outbox processor")
	}
	cleanup := worker.NewOutboxCleanup(outbox, cfg.Outbox.Retention, cfg.Outbox.CleanupSchedule, appLog, m)

	srv := healthServer(cfg.Outbox.HealthPort, []health.Check{
		{Name: "database", Ping: db.PingContext},
		{Name: "redis", Ping: broker.(*redis.RedisBroker).Ping},
	}, m, appLog)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		processor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return cleanup.Start(gctx)
	})
	g.Go(func() error {
		appLog.Info("health server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLog.Error(err, "worker stopped with error")
	}
	appLog.Info("worker exited")
}
