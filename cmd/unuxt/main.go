// Command unuxt runs the authentication and organization backend: the HTTP
// API on one port and the health/metrics endpoints on another, so probes and
// scrapes never compete with user traffic.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/unuxt/unuxt/pkg/api"
	"github.com/unuxt/unuxt/pkg/audit"
	"github.com/unuxt/unuxt/pkg/auth"
	"github.com/unuxt/unuxt/pkg/config"
	"github.com/unuxt/unuxt/pkg/email"
	"github.com/unuxt/unuxt/pkg/middleware"
	"github.com/unuxt/unuxt/pkg/observability"
	"github.com/unuxt/unuxt/pkg/orgs"
	"github.com/unuxt/unuxt/pkg/sso"
	"github.com/unuxt/unuxt/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Error("invalid redis url")
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	metrics := observability.NewMetrics()

	var notifier *email.Notifier
	if cfg.SMTP.Host != "" {
		mailer := email.NewMailer(cfg.SMTP, logger)
		notifier = email.NewNotifier(mailer, cfg.Server.BaseURL, logger, metrics)
	} else {
		logger.Warn("smtp not configured, outbound email disabled")
	}

	providers, err := sso.NewRegistry(ctx, cfg.OAuth, cfg.Server.BaseURL)
	if err != nil {
		logger.WithError(err).Error("failed to configure social login")
		os.Exit(1)
	}
	if names := providers.Names(); len(names) > 0 {
		logger.WithField("providers", names).Info("social login enabled")
	}

	users := auth.NewPostgresService(db)

	server := api.NewServer(api.Deps{
		Config:      cfg,
		Users:       users,
		Orgs:        orgs.NewPostgresService(db, logger, notifier, cfg.Auth.InvitationTTL),
		Providers:   providers,
		Provisioner: sso.NewProvisioner(users, logger),
		Notifier:    notifier,
		Breach:      auth.NewBreachChecker(),
		Audit:       audit.NewRecorder(db, logger),
		Limiter:     middleware.NewRateLimiter(redisClient, cfg.Auth.RateLimitWindow, cfg.Auth.RateLimitRequests, logger),
		Logger:      logger,
		Metrics:     metrics,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		healthServer.Shutdown(shutdownCtx)
		return apiServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}
