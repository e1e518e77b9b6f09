package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"github.com/jwalitptl/alleraid-api/internal/config"
	"github.com/jwalitptl/alleraid-api/internal/email"
	alertHandler "github.com/jwalitptl/alleraid-api/internal/handler/alert"
	buddyHandler "github.com/jwalitptl/alleraid-api/internal/handler/buddy"
	"github.com/jwalitptl/alleraid-api/internal/handler/health"
	locationHandler "github.com/jwalitptl/alleraid-api/internal/handler/location"
	prometheusHandler "github.com/jwalitptl/alleraid-api/internal/handler/prometheus"
	"github.com/jwalitptl/alleraid-api/internal/livequery"
	"github.com/jwalitptl/alleraid-api/internal/location"
	"github.com/jwalitptl/alleraid-api/internal/middleware"
	"github.com/jwalitptl/alleraid-api/internal/repository"
	"github.com/jwalitptl/alleraid-api/internal/repository/memory"
	"github.com/jwalitptl/alleraid-api/internal/repository/postgres"
	"github.com/jwalitptl/alleraid-api/internal/router"
	alertService "github.com/jwalitptl/alleraid-api/internal/service/alert"
	buddyService "github.com/jwalitptl/alleraid-api/internal/service/buddy"
	"github.com/jwalitptl/alleraid-api/internal/service/notification"
	"github.com/jwalitptl/alleraid-api/pkg/auth"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/messaging"
	"github.com/jwalitptl/alleraid-api/pkg/messaging/redis"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
	"github.com/jwalitptl/alleraid-api/pkg/notify"
	"github.com/jwalitptl/alleraid-api/pkg/validator"
	"github.com/jwalitptl/alleraid-api/pkg/worker"
)

type storage struct {
	repos  repository.Repositories
	broker messaging.Broker
	checks []health.Check
	close  func()
	// inProcessOutbox is set for the memory driver, which has no separate
	// worker process to drain the outbox.
	inProcessOutbox bool
}

func openStorage(ctx context.Context, cfg *config.Config, appLog *logger.Logger) (*storage, error) {
	if cfg.Server.Storage == "memory" {
		appLog.Warn("Using in-memory storage; data is lost on restart")
		broker := messaging.NewMemoryBroker()
		return &storage{
			repos:           memory.NewStore().Repositories(),
			broker:          broker,
			close:           func() { broker.Close() },
			inProcessOutbox: true,
		}, nil
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
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
		db.Close()
		return nil, err
	}

	return &storage{
		repos:  postgres.NewRepositories(db),
		broker: broker,
		checks: []health.Check{
			{Name: "database", Ping: db.PingContext},
			{Name: "redis", Ping: broker.(*redis.RedisBroker).Ping},
		},
		close: func() {
			broker.Close()
			db.Close()
		},
	}, nil
}

func newZap(cfg config.LogConfig) *zap.Logger {
	var (
		zl  *zap.Logger
		err error
	)
	if cfg.Console {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return zl
}

// channels builds the delivery channels named in the preference list. SMS and
// email are skipped unless their gateways are configured.
func channels(cfg config.NotificationConfig, broker messaging.Broker, mailer notify.Mailer, zl *zap.Logger) []notify.Channel {
	var out []notify.Channel
	for _, name := range cfg.Channels {
		switch name {
		case notify.ChannelSMS:
			if cfg.SMS.Enabled {
				out = append(out, notify.NewSMSChannel(notify.SMSConfig{
					BaseURL: cfg.SMS.BaseURL,
					APIKey:  cfg.SMS.APIKey,
					Sender:  cfg.SMS.Sender,
					Timeout: cfg.SMS.Timeout,
				}, zl))
			}
		case notify.ChannelPush:
			out = append(out, notify.NewPushChannel(broker, zl))
		case notify.ChannelEmail:
			if mailer != nil {
				out = append(out, notify.NewEmailChannel(mailer, zl))
			}
		}
	}
	return out
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
	zl := newZap(cfg.Log)
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(cfg.Metrics.Namespace, "api", prometheus.DefaultRegisterer)

	store, err := openStorage(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal(err, "failed to open storage")
	}
	defer store.close()

	notifier := livequery.NewNotifier(store.broker, appLog)

	var mailer notify.Mailer
	var invitationMailer email.Service
	if cfg.Notification.SMTP.Enabled {
		smtp := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Notification.SMTP.Host,
			Port:     cfg.Notification.SMTP.Port,
			Username: cfg.Notification.SMTP.Username,
			Password: cfg.Notification.SMTP.Password,
			From:     cfg.Notification.SMTP.From,
		})
		mailer = smtp
		invitationMailer = email.NewService(smtp, cfg.Notification.AppURL)
	}

	buddies := buddyService.NewService(store.repos, notifier, invitationMailer, appLog, m)
	defer buddies.Close()

	dispatcher := notification.NewService(store.repos.Notifications,
		channels(cfg.Notification, store.broker, mailer, zl),
		notification.Config{Preference: cfg.Notification.Channels, SendTimeout: cfg.Notification.SendTimeout},
		appLog, m)

	provider := location.NewReportedProvider(cfg.Location.FixCacheTTL, cfg.Location.HighAccuracyMeters)
	tracker := location.NewBroadcaster(provider,
		alertService.NewLocationPublisher(store.repos.Alerts, notifier),
		location.Config{
			HighAccuracyTimeout:   cfg.Location.HighAccuracyTimeout,
			HighAccuracyMaxAge:    cfg.Location.HighAccuracyMaxAge,
			LowAccuracyTimeout:    cfg.Location.LowAccuracyTimeout,
			LowAccuracyMaxAge:     cfg.Location.LowAccuracyMaxAge,
			PatientPollInterval:   cfg.Location.PatientPollInterval,
			ResponderPollInterval: cfg.Location.ResponderPollInterval,
		}, appLog, m)
	defer tracker.Close()

	alerts := alertService.NewService(alertService.Deps{
		Repositories: store.repos,
		Buddies:      buddies,
		Tracker:      tracker,
		Dispatcher:   dispatcher,
		Notifier:     notifier,
		Logger:       appLog,
		Metrics:      m,
	})
	defer alerts.Close()

	if store.inProcessOutbox {
		processor, err := worker.NewOutboxProcessor(store.repos.Outbox, store.broker, worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		}, appLog, m)
		if err != nil {
			appLog.Fatal(err, "failed to create outbox processor")
		}
		go processor.Start(ctx)
	}

	v := validator.New()
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins

	var metricsH *prometheusHandler.Handler
	if cfg.Metrics.Enabled {
		metricsH = prometheusHandler.New(prometheus.DefaultGatherer, m)
	}

	r := router.NewRouter(
		middleware.NewAuthMiddleware(auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)),
		health.NewHandler(store.checks...),
		metricsH,
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit: middleware.RateLimiterConfig{
				RPS:   cfg.RateLimit.RequestsPerSecond,
				Burst: cfg.RateLimit.Burst,
			},
			CORSConfig:   corsConfig,
			Security:     middleware.DefaultSecurityConfig(),
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
			MetricsPath:  cfg.Metrics.Path,
		},
		appLog,
		alertHandler.NewHandler(alerts, v),
		buddyHandler.NewHandler(buddies, v),
		locationHandler.NewHandler(provider, v, appLog),
	)
	r.Setup()

	// WriteTimeout defaults to 0; stream endpoints hold connections open.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		appLog.Info("server starting", "addr", srv.Addr, "storage", cfg.Server.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "server forced to shutdown")
	}
	appLog.Info("server exited properly")
}
