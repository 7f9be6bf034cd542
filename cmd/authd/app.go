package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authd/internal/db"
	"github.com/nkiryanov/authd/internal/handlers"
	"github.com/nkiryanov/authd/internal/handlers/middleware"
	"github.com/nkiryanov/authd/internal/logger"
	"github.com/nkiryanov/authd/internal/ratelimit"
	"github.com/nkiryanov/authd/internal/repository/postgres"
	"github.com/nkiryanov/authd/internal/service/audit"
	"github.com/nkiryanov/authd/internal/service/auth"
	"github.com/nkiryanov/authd/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authd/internal/service/security"
	"github.com/nkiryanov/authd/internal/service/session"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey: c.SecretKey,
		AccessTTL: c.AccessTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	recorder := audit.NewRecorder(storage.Audit(), l)

	securityService, err := security.NewService(storage, recorder, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating security service. Err: %w", err)
	}

	authService, err := auth.NewService(
		auth.Config{
			Hasher:              auth.BcryptHasher{Cost: c.BcryptCost},
			RefreshTokenTTL:     c.RefreshTokenTTL,
			LockoutThreshold:    c.LockoutThreshold,
			LockoutDuration:     c.LockoutDuration,
			DisableReuseDefense: c.DisableReuseDefense,
		},
		tokenManager, storage, securityService, recorder, l,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	sessionService, err := session.NewService(storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating session service. Err: %w", err)
	}

	// Rate limiter on Redis guards the authentication endpoints
	redisClient := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	limiter, err := ratelimit.New(redisClient, ratelimit.Config{
		Capacity:   c.RateLimitCapacity,
		RefillRate: c.RateLimitRefill,
		FailClosed: c.RateLimitFailClosed,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating rate limiter. Err: %w", err)
	}

	mux := handlers.NewRouter(
		handlers.NewAuth(authService, sessionService, l),
		handlers.NewAdmin(securityService, l),
		middleware.AuthMiddleware(authService),
		middleware.RateLimitMiddleware(limiter),
		l,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server")
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
