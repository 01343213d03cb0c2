package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/api"
	"github.com/platinummonkey/turnstile/pkg/app"
	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/rbac"
	"github.com/platinummonkey/turnstile/pkg/session"
	"github.com/platinummonkey/turnstile/pkg/storage/postgres"
	"github.com/platinummonkey/turnstile/pkg/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	backend, err := app.Connect(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	db := backend.Primary()

	if err := postgres.RunMigrations(ctx, db, logger); err != nil {
		backend.Close()
		return err
	}

	health := observability.NewHealthChecker(db, backend.Redis, cfg.Observability.OTelServiceVersion)

	var invalidator *cache.Invalidator
	if backend.Notifier != nil {
		invalidator = cache.NewInvalidator(backend.Cache, logger).WithMetrics(metrics.CacheInvalidationsTotal)
		var stopped atomic.Bool
		go func() {
			err := invalidator.Run(ctx, backend.Notifier)
			stopped.Store(true)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Cache invalidation listener stopped")
			}
		}()
		health.AddCheck("cache_invalidation", false, func(context.Context) error {
			if stopped.Load() {
				return errors.New("listener stopped, cached rows may be stale")
			}
			return nil
		})
	}

	roleStore := rbac.NewStore(db, backend.Cache, backend.Publisher)
	userStore := users.NewStore(db, backend.Cache, backend.Publisher)
	sessionStore := session.NewStore(db, backend.Cache, backend.Publisher)

	accounts := users.NewService(userStore, roleStore, users.NewLogMailer(logger), logger)

	codec, err := session.NewCodec(cfg.Session.Secret)
	if err != nil {
		backend.Close()
		return err
	}

	info := &session.InfoBuilder{IPHeader: cfg.Session.IPHeader, Logger: logger}
	var geo *session.MaxMindLocator
	if cfg.Session.GeoIPDatabase != "" {
		geo, err = session.OpenMaxMind(cfg.Session.GeoIPDatabase)
		if err != nil {
			logger.WithError(err).Warn("GeoIP database unavailable, locations will not be recorded")
		} else {
			info.Geo = geo
		}
	}

	sessions := session.NewRegistry(sessionStore, userStore, codec, info, session.Options{
		CookieName:    cfg.CookieName(),
		SaveInterval:  cfg.Session.SaveInterval,
		ExpireTimeout: cfg.Session.ExpireTimeout,
		FlushTimeout:  cfg.Session.FlushTimeout,
	}, logger, metrics)

	auditDB, err := audit.NewDBLogger(db)
	if err != nil {
		backend.Close()
		return err
	}
	auditLog := audit.NewMultiLogger(audit.NewLogrusLogger(logger), auditDB)

	if invalidator != nil {
		invalidator.On("sessions-by-token", sessions.Observe)
	}

	var sweeper *session.Sweeper
	if cfg.Session.ExpireTimeout > 0 {
		sweeper = session.NewSweeper(sessionStore, cfg.Session.ExpireTimeout, logger, metrics)
		if err := sweeper.Start(cfg.Session.SweepSchedule); err != nil {
			backend.Close()
			return err
		}
	}

	var limiter middleware.Limiter
	if cfg.Server.LoginRateLimit > 0 {
		limitCfg := middleware.LoginRateLimitConfig(cfg.Server.LoginRateLimit)
		if backend.Redis != nil {
			limiter = middleware.NewRedisLimiter(backend.Redis, limitCfg, cfg.Project+":ratelimit")
		} else {
			memory := middleware.NewMemoryLimiter(limitCfg)
			memory.StartCleanup(ctx)
			limiter = memory
		}
	}

	server := api.NewServer(api.Deps{
		Accounts:       accounts,
		Sessions:       sessions,
		Checker:        rbac.NewChecker(roleStore, logger, metrics),
		Audit:          auditLog,
		Health:         health,
		Metrics:        metrics,
		Registry:       registry,
		LoginLimiter:   limiter,
		IPHeader:       cfg.Session.IPHeader,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("sessions", sessions.Flush)
	if sweeper != nil {
		shutdown.Register("sweeper", sweeper.Stop)
	}
	shutdown.Register("listeners", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.Register("audit", func(context.Context) error { return auditLog.Close() })
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp)
	})
	if geo != nil {
		shutdown.Register("geoip", func(context.Context) error { return geo.Close() })
	}
	shutdown.Register("backend", func(context.Context) error { return backend.Close() })

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting turnstile server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	done := make(chan error, 1)
	go func() { done <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serverErr:
		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()
		_ = shutdown.Shutdown(stopCtx)
		return err
	case err := <-done:
		logger.Info("Server stopped")
		return err
	}
}
