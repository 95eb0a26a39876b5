package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/armada-fleet/armada/internal/apikeys"
	"github.com/armada-fleet/armada/internal/app"
	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/platform/cache"
	"github.com/armada-fleet/armada/internal/platform/db"
	"github.com/armada-fleet/armada/internal/rbac"
	"github.com/armada-fleet/armada/internal/users"
	"github.com/armada-fleet/armada/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	keyObserver := func(ctx context.Context, key string) {
		err := jobsClient.EnqueueKeyUsage(ctx, jobs.KeyUsagePayload{Key: key, SeenAt: time.Now().UTC()})
		if err != nil {
			logger.Warn("enqueue key usage", slog.Any("error", err))
		}
	}

	authRepo := auth.NewRepository(pool)
	resolver := auth.NewResolver(authRepo, logger, auth.WithKeyObserver(keyObserver))
	authMiddleware := auth.Middleware{Repo: authRepo, Logger: logger}

	usersRepo := users.NewRepository(pool)
	directory := users.NewDirectory(usersRepo, logger)

	throttle := auth.NewLoginThrottle(redisClient, cfg.LoginAttemptLimit, cfg.LoginAttemptWindow)
	authService := auth.NewService(directory, throttle, cfg.TokenIssuer, cfg.TokenTTL)
	authHandler := auth.NewHandler(authService, logger, metrics)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, logger, rbac.WithKeyObserver(keyObserver))
	rbacMiddleware := rbac.Middleware{Service: rbacService, Resolver: resolver, Logger: logger}

	issuer := apikeys.NewIssuer(apikeys.NewRepository(pool), rbacService, logger)
	apiKeysHandler := apikeys.NewHandler(issuer, resolver, jobsClient, logger)

	usersHandler := users.NewHandler(directory, resolver, rbacService, jobsClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthMiddleware: authMiddleware,
		AuthHandler:    authHandler,
		UsersHandler:   usersHandler,
		APIKeysHandler: apiKeysHandler,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
