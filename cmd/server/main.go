package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vexscan/api/internal/config"
	"github.com/vexscan/api/internal/infra/http"
	"github.com/vexscan/api/internal/infra/http/middleware"
	"github.com/vexscan/api/internal/infra/http/routes"
	"github.com/vexscan/api/internal/infra/jobs"
	"github.com/vexscan/api/internal/infra/postgres"
	"github.com/vexscan/api/internal/infra/redis"
	"github.com/vexscan/api/internal/infra/storage"
	"github.com/vexscan/api/internal/infra/telemetry"
	"github.com/vexscan/api/pkg/jwt"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/migrations"
	"github.com/vexscan/api/pkg/validator"
)

// @title           Vexscan API
// @version         1.0
// @description     Finding status lifecycle and remediation evidence API

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	showRoutes  = flag.Bool("routes", false, "Log all registered routes and exit")
	autoMigrate = flag.Bool("migrate", false, "Apply pending database migrations before serving")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().Error("failed to load configuration", "error", err)
		return 1
	}
	log := initLogger(cfg)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env, "version", version)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, cfg.App.Name, version)
	if err != nil {
		log.Error("failed to set up tracing", "error", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if *autoMigrate {
		if err := migrations.NewRunner(db.DB, log).Up(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			return 1
		}
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	redis.RegisterPoolStats(prometheus.DefaultRegisterer, redisClient)
	log.Info("redis connected")

	blobs, err := storage.NewS3Store(ctx, cfg.Storage, log)
	if err != nil {
		log.Error("failed to initialize object storage", "error", err)
		return 1
	}
	log.Info("object storage initialized", "bucket", cfg.Storage.Bucket)

	jobClient := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	defer closeWithLog(jobClient, "job client", log)

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	repos := NewRepositories(db)
	services, err := NewServices(&ServiceDeps{
		Config:      cfg,
		Log:         log,
		DB:          db,
		Repos:       repos,
		RedisClient: redisClient,
		Blobs:       blobs,
		Purge:       jobClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	handlers := NewHandlers(&HandlerDeps{
		Log:         log,
		Validator:   validator.New(),
		DB:          db,
		RedisClient: redisClient,
		Blobs:       blobs,
		Services:    services,
	})

	tokens := jwt.NewGenerator(jwt.TokenConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.TokenTTL,
	})

	server := http.NewServer(cfg, log)
	routes.Register(server.Router(), handlers, routes.Dependencies{
		Auth:        middleware.Authenticate(tokens, log),
		Access:      services.Authorization,
		UploadLimit: server.UploadRateLimit(),
		Timeout:     server.RequestTimeout(),
		Logger:      log,
	})

	if *showRoutes {
		http.LogRoutes(log, server.Router())
		return 0
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", "error", err)
			exitCode = 1
		}
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return exitCode
}

func initLogger(cfg *config.Config) *logger.Logger {
	lcfg := logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	}
	if cfg.IsProduction() {
		//nolint:gosec // G115: validated non-negative in config.Validate()
		lcfg.Sampling = logger.SamplingConfig{
			Enabled:       cfg.Log.SamplingEnabled,
			Tick:          time.Second,
			Threshold:     uint64(cfg.Log.SamplingThreshold),
			Rate:          cfg.Log.SamplingRate,
			ErrorRate:     cfg.Log.ErrorSamplingRate,
			EnableMetrics: true,
		}
		logger.RegisterMetrics(prometheus.DefaultRegisterer)
	}
	log := logger.New(lcfg)
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
