package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/vexscan/api/internal/config"
	"github.com/vexscan/api/internal/infra/http/middleware"
	"github.com/vexscan/api/pkg/logger"
)

// multipartOverhead covers form fields and part headers on top of the file
// bytes of an upload.
const multipartOverhead = 1 << 20

// Server is the API's HTTP server.
type Server struct {
	httpServer    *http.Server
	router        Router
	config        *config.Config
	logger        *logger.Logger
	uploadLimiter *middleware.RateLimiter
	cleanupFuncs  []func()
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithRouter sets a custom router implementation.
func WithRouter(r Router) ServerOption {
	return func(s *Server) {
		s.router = r
	}
}

// NewServer creates the server and installs the global middleware chain.
func NewServer(cfg *config.Config, log *logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config: cfg,
		logger: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.router == nil {
		s.router = NewChiRouter()
	}

	loggerCfg := middleware.DefaultLoggerConfig()
	if !cfg.Log.SkipHealthLogs {
		loggerCfg.SkipPaths = nil
	}

	// Order matters: recovery outermost, logging innermost so it sees the
	// final status.
	chain := []Middleware{
		middleware.Recovery(log, cfg.IsProduction()),
		middleware.RequestID(),
		middleware.SecurityHeaders(cfg.IsProduction()),
		middleware.CORS(&cfg.CORS),
		middleware.Decompress(middleware.DefaultDecompressConfig()),
		middleware.BodyLimit(middleware.BodyLimitConfig{
			Default:   cfg.Server.MaxBodySize,
			Multipart: int64(cfg.Evidence.MaxFilesPerUpload)*cfg.Evidence.MaxFileSize + multipartOverhead,
		}),
	}
	if cfg.RateLimit.Enabled {
		global := middleware.NewRateLimiter(middleware.RateLimiterOptions{
			Name:    "global",
			Limit:   rate.Limit(cfg.RateLimit.RequestsPerSec),
			Burst:   cfg.RateLimit.Burst,
			Cleanup: cfg.RateLimit.CleanupInterval,
		}, log)
		s.cleanupFuncs = append(s.cleanupFuncs, global.Stop)
		chain = append(chain, global.Middleware())

		s.uploadLimiter = middleware.NewRateLimiter(middleware.RateLimiterOptions{
			Name:    "upload",
			Limit:   middleware.PerMinute(cfg.RateLimit.UploadsPerMin),
			Burst:   cfg.RateLimit.UploadBurst,
			Key:     middleware.PrincipalKey,
			Cleanup: cfg.RateLimit.CleanupInterval,
		}, log)
		s.cleanupFuncs = append(s.cleanupFuncs, s.uploadLimiter.Stop)
	}
	chain = append(chain, middleware.Metrics(), middleware.Logger(log, loggerCfg))
	s.router.Use(chain...)

	var handler http.Handler = s.router.Handler()
	if cfg.Server.H2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       time.Minute,
	}
	return s
}

// Router returns the router for registering handlers.
func (s *Server) Router() Router {
	return s.router
}

// Handler returns the root handler including the h2c wrapper when enabled.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// UploadRateLimit limits uploads per authenticated user. It is a no-op when
// rate limiting is disabled; it must run after authentication.
func (s *Server) UploadRateLimit() Middleware {
	if s.uploadLimiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.uploadLimiter.Middleware()
}

// RequestTimeout bounds JSON endpoints. Uploads and downloads are left to the
// server's read and write timeouts.
func (s *Server) RequestTimeout() Middleware {
	return middleware.Timeout(s.config.Server.RequestTimeout)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr, "h2c", s.config.Server.H2C)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops background limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
