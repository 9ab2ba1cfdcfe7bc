package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/splitter/internal/app/migrate"
	httpx "github.com/splax/splitter/internal/http"
	"github.com/splax/splitter/internal/repository/postgres"
	"github.com/splax/splitter/internal/service/auth"
	"github.com/splax/splitter/internal/service/avatar"
	"github.com/splax/splitter/internal/service/diagnostics"
	"github.com/splax/splitter/internal/service/expense"
	"github.com/splax/splitter/internal/service/friend"
	"github.com/splax/splitter/internal/service/group"
	"github.com/splax/splitter/internal/service/invite"
	"github.com/splax/splitter/internal/ws"
	"github.com/splax/splitter/pkg/config"
	"github.com/splax/splitter/pkg/logger"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Warn("failed to read .env", "error", err)
	}
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = pool.Ping(pingCtx)
	cancelPing()
	if err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	source, err := migrate.Source(cfg.MigrationsDir)
	if err != nil {
		log.Error("failed to locate migrations", "error", err)
		os.Exit(1)
	}
	runner, err := migrate.New(cfg.DatabaseURL, source, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub(ctx, log)
	metrics := httpx.DefaultMetrics()

	authSvc := auth.New(repo, log, cfg, auth.WithCollisionHook(metrics.UniqueIDRetry))
	inviteSvc := invite.New(repo, log, cfg.InviteTTL, cfg.InviteLinkBase)
	friendSvc := friend.New(repo, repo, inviteSvc, hub, log)
	groupSvc := group.New(repo, repo, inviteSvc, hub, log)
	expenseSvc := expense.New(repo, groupSvc, log)

	sweeper, err := invite.NewSweeper(inviteSvc, cfg.InviteSweepSpec, log)
	if err != nil {
		log.Warn("invite sweeper disabled", "spec", cfg.InviteSweepSpec, "error", err)
	} else {
		go sweeper.Run(ctx)
	}

	var storage avatar.Storage
	if cfg.StorageConfigured() {
		s3Storage, err := avatar.NewS3Storage(ctx, avatar.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Warn("avatar storage unavailable", "error", err)
		} else {
			storage = s3Storage
		}
	} else {
		log.Info("avatar storage not configured")
	}
	avatarSvc := avatar.New(repo, storage, cfg.AvatarPublicBaseURL, cfg.AvatarMaxBytes, log)

	gemini := diagnostics.NewGemini(diagnostics.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	}, nil, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:     log,
		Auth:       authSvc,
		Friends:    friendSvc,
		Groups:     groupSvc,
		Expenses:   expenseSvc,
		Avatars:    avatarSvc,
		Gemini:     gemini,
		Hub:        hub,
		Limiter:    limiter,
		Metrics:    metrics,
		Production: cfg.IsProduction(),
		DBHealth:   pool.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "environment", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
