package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/eventhub-auth/api/swagger"
	"github.com/noah-isme/eventhub-auth/internal/handler"
	"github.com/noah-isme/eventhub-auth/internal/middleware"
	"github.com/noah-isme/eventhub-auth/internal/repository"
	"github.com/noah-isme/eventhub-auth/internal/security"
	"github.com/noah-isme/eventhub-auth/internal/service"
	"github.com/noah-isme/eventhub-auth/pkg/cache"
	"github.com/noah-isme/eventhub-auth/pkg/config"
	"github.com/noah-isme/eventhub-auth/pkg/database"
	"github.com/noah-isme/eventhub-auth/pkg/jobs"
	"github.com/noah-isme/eventhub-auth/pkg/logger"
	reqidmiddleware "github.com/noah-isme/eventhub-auth/pkg/middleware/requestid"
)

// @title EventHub Auth API
// @version 1.0.0
// @description Session lifecycle: login, refresh rotation, logout and identity introspection
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		// The revocation cache is optional; the guard reads through to postgres.
		logr.Warn("redis unavailable, revocation cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	hasher := security.NewHasher(cfg.Security.Pepper, cfg.Security.BcryptCost)
	codec, err := security.NewTokenCodec(security.TokenCodecConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	users := repository.NewUserRepository(db)
	identitySvc, err := service.NewIdentityService(users, hasher, logr)
	if err != nil {
		return fmt.Errorf("identity service: %w", err)
	}
	identity := service.NewRetryingIdentityProvider(identitySvc, service.RetryConfig{
		Timeout:     cfg.Identity.Timeout,
		MaxAttempts: cfg.Identity.MaxAttempts,
		BaseDelay:   cfg.Identity.RetryDelay,
	}, metrics, logr)

	var revocations *service.RevocationService
	if redisClient != nil {
		revocations = service.NewRevocationService(identity, repository.NewRevocationCacheRepository(redisClient), cfg.Guard.RevocationCacheTTL, metrics, logr)
	} else {
		revocations = service.NewRevocationService(identity, nil, cfg.Guard.RevocationCacheTTL, metrics, logr)
	}

	logoutQueue := jobs.NewQueue("logout", revocations.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Background.Workers,
		BufferSize: cfg.Background.BufferSize,
		MaxRetries: cfg.Background.MaxRetries,
		RetryDelay: cfg.Background.RetryDelay,
		JobTimeout: cfg.Identity.Timeout * time.Duration(max(cfg.Identity.MaxAttempts, 1)),
		Logger:     logr,
		OnFailure: func(job jobs.Job, err error) {
			metrics.RecordBackgroundFailure(job.Type)
			logr.Error("background job abandoned", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		},
	})
	logoutQueue.Start(context.Background())
	defer logoutQueue.Stop()

	sessions := service.NewSessionService(service.SessionDeps{
		Identity:  identity,
		Store:     repository.NewRefreshTokenRepository(db),
		Signer:    codec,
		Hasher:    hasher,
		Audit:     repository.NewAuditRepository(db),
		Queue:     logoutQueue,
		Metrics:   metrics,
		Validator: validator.New(),
		Logger:    logr,
	}, service.SessionConfig{
		AccessTTL:    cfg.JWT.AccessTTL,
		RefreshTTL:   cfg.JWT.RefreshTTL(),
		StoreTimeout: cfg.Session.StoreTimeout,
	})
	guard := service.NewAccessGuard(codec, revocations, metrics, logr, service.GuardConfig{FailOpen: cfg.Guard.FailOpen})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if !cfg.IsProduction() {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authGuard := middleware.JWT(guard, middleware.DevAuthConfig{
		Enabled: cfg.Security.DevAutoAuth,
		Env:     cfg.Env,
		UserID:  cfg.Security.DevAutoAuthUserID,
	})
	handler.NewAuthHandler(sessions).Register(r.Group(cfg.APIPrefix), authGuard)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
