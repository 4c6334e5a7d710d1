// Package server собирает HTTP сервер синхронизации: маршруты, middleware и graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/offsync/internal/server/handlers"
	"github.com/iudanet/offsync/internal/server/middleware"
	"github.com/iudanet/offsync/internal/server/storage"
)

const (
	healthPath = "/api/v1/health"
	syncPath   = "/api/v1/sync"
)

// Options параметры HTTP сервера
type Options struct {
	Addr            string
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
	MaxBatch        int
	RemoteLimit     int
}

// Server HTTP сервер синхронизации
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	opts       Options
}

// New создает сервер
func New(opts Options, store storage.SyncStorage, tokens middleware.TokenValidator, logger *slog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	limiter := middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, 10*time.Minute, logger)

	health := handlers.NewHealthHandler(logger, store)
	syncHandler := handlers.NewSyncHandler(logger, store, opts.MaxBatch, opts.RemoteLimit)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, health.Health)
	mux.Handle("POST "+syncPath, middleware.Chain(
		http.HandlerFunc(syncHandler.HandleSync),
		limiter.Middleware,
		middleware.AuthMiddleware(logger, tokens),
	))

	handler := middleware.Chain(mux,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger, healthPath),
	)

	return &Server{
		logger:  logger,
		limiter: limiter,
		opts:    opts,
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Minute,
			WriteTimeout:      time.Minute,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Handler корневой handler со всеми middleware
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run слушает opts.Addr до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает соединения ln до отмены ctx, затем останавливается с таймаутом
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Sync server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.limiter.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down sync server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
