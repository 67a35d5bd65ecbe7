package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bloomkart/backend/internal/audit"
	"github.com/bloomkart/backend/internal/auth"
	"github.com/bloomkart/backend/internal/blacklist"
	"github.com/bloomkart/backend/internal/config"
	"github.com/bloomkart/backend/internal/database"
	"github.com/bloomkart/backend/internal/httpapi"
	"github.com/bloomkart/backend/internal/identity"
	"github.com/bloomkart/backend/internal/metrics"
	"github.com/bloomkart/backend/internal/password"
	"github.com/bloomkart/backend/internal/rate"
	"github.com/bloomkart/backend/internal/token"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	log.Infof("configuration loaded:%s", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//----------------------------------------------------------------------
	// Stores
	//----------------------------------------------------------------------
	pool, err := database.Connect(ctx, cfg.DSN(), log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	identities := identity.NewPostgresStore(pool)
	revoked := blacklist.NewRedisStore(rdb, "bl:")

	//----------------------------------------------------------------------
	// Collaborators
	//----------------------------------------------------------------------
	m := metrics.New(cfg.MetricsEnabled)

	var auditSink audit.Sink = audit.NoOpSink{}
	var auditFile *os.File
	if cfg.AuditLogPath != "" {
		auditFile, err = os.OpenFile(cfg.AuditLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.WithError(err).Fatal("failed to open audit log")
		}
		defer auditFile.Close()
		auditSink = audit.NewJSONWriterSink(auditFile)
	}
	dispatcher := audit.NewDispatcher(auditSink, 256)
	defer dispatcher.Close()

	codec, err := token.NewCodec(token.Config{SecretKey: cfg.JWTSecret, Issuer: "bloomkart"})
	if err != nil {
		log.WithError(err).Fatal("failed to build token codec")
	}

	authority, err := auth.NewAuthority(
		codec,
		identities,
		revoked,
		password.NewArgon2(),
		auth.Config{AccessTTL: cfg.AccessTTL, RefreshTTL: cfg.RefreshTTL},
		auth.Options{Logger: log, Metrics: m, Audit: dispatcher},
	)
	if err != nil {
		log.WithError(err).Fatal("failed to build session authority")
	}

	limiter := rate.New(rdb, rate.Config{
		Enabled:     cfg.RateLimitEnabled,
		MaxAttempts: cfg.RateLimitAttempts,
		Window:      cfg.RateLimitWindow,
	})

	//----------------------------------------------------------------------
	// Background cleanup
	//----------------------------------------------------------------------
	scheduler, err := auth.NewCleanupScheduler(revoked, cfg.CleanupSpec, auth.Options{
		Logger:  log,
		Metrics: m,
		Audit:   dispatcher,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build cleanup scheduler")
	}
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start cleanup scheduler")
	}
	defer scheduler.Stop()

	//----------------------------------------------------------------------
	// HTTP server
	//----------------------------------------------------------------------
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Authority:      authority,
		Limiter:        limiter,
		Logger:         log,
		Metrics:        m,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: router,
	}

	go func() {
		log.Infof("starting auth service on port %s", cfg.AppPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("server stopped")
}
